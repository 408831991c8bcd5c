package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/vicinityh2020/vicinity-gateway-api-sub001/errors"
)

// tedSchema describes the thing-description documents TEDPlanner accepts
const tedSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "endpoints": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["accessKey", "locator"],
        "properties": {
          "accessKey": {"type": "string", "minLength": 1},
          "locator":   {"type": "string", "minLength": 1},
          "neighbour": {"type": "string"}
        }
      }
    }
  }
}`

type tedDocument struct {
	Endpoints []tedEndpoint `json:"endpoints"`
}

type tedEndpoint struct {
	AccessKey string `json:"accessKey"`
	Locator   string `json:"locator"`
	Neighbour string `json:"neighbour,omitempty"`
}

// TEDPlanner plans endpoints from a thing-description document of the form
//
//	{"endpoints":[{"accessKey":"a1","locator":"https://gw/objects/O1/properties/P1","neighbour":"n1"}]}
//
// Entries naming a neighbour outside the roster are dropped. Entries with a
// malformed locator are logged and skipped.
type TEDPlanner struct {
	schema *gojsonschema.Schema
	logger *slog.Logger
}

// NewTEDPlanner compiles the document schema and returns a planner
func NewTEDPlanner(logger *slog.Logger) (*TEDPlanner, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(tedSchema))
	if err != nil {
		return nil, errors.WrapFatal(err, "TEDPlanner", "New", "compile schema")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TEDPlanner{
		schema: schema,
		logger: logger.With("component", "ted-planner"),
	}, nil
}

// Plan returns one endpoint per usable document entry, in document order
func (p *TEDPlanner) Plan(_ context.Context, ted DiscoveryResult, roster Roster, _ Query) ([]*RemoteEndpoint, error) {
	result, err := p.schema.Validate(gojsonschema.NewBytesLoader(ted))
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"TEDPlanner", "Plan", "decode thing description")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidData, strings.Join(msgs, "; ")),
			"TEDPlanner", "Plan", "validate thing description")
	}

	var doc tedDocument
	if err := json.Unmarshal(ted, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "TEDPlanner", "Plan", "decode thing description")
	}

	endpoints := make([]*RemoteEndpoint, 0, len(doc.Endpoints))
	for _, entry := range doc.Endpoints {
		if entry.Neighbour != "" && !roster.Contains(entry.Neighbour) {
			p.logger.Debug("Skipping endpoint of unreachable neighbour",
				"access_key", entry.AccessKey,
				"neighbour", entry.Neighbour)
			continue
		}

		loc, err := ParseLocator(entry.Locator)
		if err != nil {
			p.logger.Warn("Skipping endpoint with malformed locator",
				"access_key", entry.AccessKey,
				"error", err)
			continue
		}

		endpoints = append(endpoints, &RemoteEndpoint{
			AccessKey:  entry.AccessKey,
			ObjectID:   loc.ObjectID,
			PropertyID: loc.PropertyID,
		})
	}

	return endpoints, nil
}
