package federation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidLocator is matched by every locator parsing failure
var ErrInvalidLocator = errors.New("invalid remote locator")

// Positions of the identifiers once the locator is split on "/"
const (
	locatorObjectIndex   = 2
	locatorPropertyIndex = 4
)

// LocatorError describes why a locator could not be parsed
type LocatorError struct {
	Locator string
	Reason  string
}

func (e *LocatorError) Error() string {
	return fmt.Sprintf("invalid remote locator %q: %s", e.Locator, e.Reason)
}

// Unwrap makes errors.Is(err, ErrInvalidLocator) hold
func (e *LocatorError) Unwrap() error {
	return ErrInvalidLocator
}

// Locator identifies one property of one remote object
type Locator struct {
	ObjectID   string
	PropertyID string
}

// ParseLocator extracts object and property identifiers from a remote
// locator. Two shapes are accepted:
//
//	scheme://host/objects/{oid}/properties/{pid}
//	/objects/{oid}/properties/{pid}
//
// The scheme prefix is dropped, the rest is split on "/" and the identifiers
// are read at positions 2 and 4. Segment names are not checked.
func ParseLocator(locator string) (Locator, error) {
	s := strings.TrimSpace(locator)
	if s == "" {
		return Locator{}, &LocatorError{Locator: locator, Reason: "empty"}
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+len("://"):]
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}

	parts := strings.Split(s, "/")
	if len(parts) <= locatorPropertyIndex {
		return Locator{}, &LocatorError{
			Locator: locator,
			Reason:  fmt.Sprintf("expected at least %d path segments, got %d", locatorPropertyIndex+1, len(parts)),
		}
	}

	loc := Locator{
		ObjectID:   parts[locatorObjectIndex],
		PropertyID: parts[locatorPropertyIndex],
	}
	if loc.ObjectID == "" {
		return Locator{}, &LocatorError{Locator: locator, Reason: "empty object id"}
	}
	if loc.PropertyID == "" {
		return Locator{}, &LocatorError{Locator: locator, Reason: "empty property id"}
	}
	return loc, nil
}
