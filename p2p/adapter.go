package p2p

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vicinityh2020/vicinity-gateway-api-sub001/errors"
)

// ErrPropertyNotFound is returned when the adapter does not know the property
var ErrPropertyNotFound = stderrors.New("property not found")

const maxAdapterResponse = 16 << 20

// AdapterSource reads local properties from the adapter's REST interface:
//
//	GET <base>/objects/{oid}/properties/{pid}?<params>
type AdapterSource struct {
	base   *url.URL
	client *http.Client
	logger *slog.Logger
}

// NewAdapterSource creates a source for the adapter at baseURL
func NewAdapterSource(baseURL string, timeout time.Duration, logger *slog.Logger) (*AdapterSource, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "AdapterSource", "New",
			fmt.Sprintf("adapter URL %q must be an absolute http(s) URL", baseURL))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdapterSource{
		base:   u,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "p2p-adapter", "adapter", u.Host),
	}, nil
}

// ReadProperty fetches one property value. The body must be JSON.
func (a *AdapterSource) ReadProperty(ctx context.Context, objectID, propertyID string, params map[string]string) (json.RawMessage, error) {
	target := a.base.JoinPath("objects", objectID, "properties", propertyID)
	if len(params) > 0 {
		q := target.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "AdapterSource", "ReadProperty", "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "AdapterSource", "ReadProperty", "call adapter")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAdapterResponse))
	if err != nil {
		return nil, errors.WrapTransient(err, "AdapterSource", "ReadProperty", "read adapter response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.WrapInvalid(ErrPropertyNotFound, "AdapterSource", "ReadProperty",
			objectID+"/"+propertyID)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		a.logger.Warn("Adapter returned an error status",
			"object_id", objectID,
			"property_id", propertyID,
			"status", resp.StatusCode,
			"body", strings.TrimSpace(string(body)))
		return nil, errors.WrapTransient(fmt.Errorf("adapter status %d", resp.StatusCode),
			"AdapterSource", "ReadProperty", "call adapter")
	case !json.Valid(body):
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "AdapterSource", "ReadProperty",
			"adapter response is not JSON")
	}
	return json.RawMessage(body), nil
}
