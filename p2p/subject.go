package p2p

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vicinityh2020/vicinity-gateway-api-sub001/errors"
)

// PropertyRequest is the body of a property read request
type PropertyRequest struct {
	ObjectID   string            `json:"objectId"`
	PropertyID string            `json:"propertyId"`
	Parameters map[string]string `json:"parameters,omitempty"`
	// Source is the platform ID of the requesting gateway
	Source string `json:"source,omitempty"`
}

// PropertySubject returns the subject a read of objectID/propertyID is sent on
func PropertySubject(prefix, objectID, propertyID string) (string, error) {
	for _, part := range []struct{ name, value string }{
		{"prefix", prefix},
		{"object ID", objectID},
		{"property ID", propertyID},
	} {
		if !validToken(part.value, part.name == "prefix") {
			return "", errors.WrapInvalid(errors.ErrInvalidData, "p2p", "PropertySubject",
				fmt.Sprintf("%s %q cannot be used in a subject", part.name, part.value))
		}
	}
	return prefix + ".objects." + objectID + ".properties." + propertyID, nil
}

// objectSubject matches every property of one object
func objectSubject(prefix, objectID string) (string, error) {
	if !validToken(prefix, true) || !validToken(objectID, false) {
		return "", errors.WrapInvalid(errors.ErrInvalidData, "p2p", "objectSubject",
			fmt.Sprintf("object %q under prefix %q cannot be used in a subject", objectID, prefix))
	}
	return prefix + ".objects." + objectID + ".properties.*", nil
}

// validToken reports whether s can appear in a subject. Dots are only
// allowed in the prefix, where they separate its own tokens.
func validToken(s string, allowDots bool) bool {
	if s == "" || strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		switch {
		case r == '*', r == '>', r <= ' ', r == 0x7f:
			return false
		case r == '.' && !allowDots:
			return false
		}
	}
	return true
}

func encodeRequest(req PropertyRequest) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, errors.WrapInvalid(err, "p2p", "encodeRequest", "marshal property request")
	}
	return data, nil
}

func decodeRequest(data []byte) (PropertyRequest, error) {
	var req PropertyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, errors.WrapInvalid(errors.ErrInvalidData, "p2p", "decodeRequest", err.Error())
	}
	if req.ObjectID == "" || req.PropertyID == "" {
		return req, errors.WrapInvalid(errors.ErrInvalidData, "p2p", "decodeRequest",
			"objectId and propertyId are required")
	}
	return req, nil
}
