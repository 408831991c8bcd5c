package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"

	"github.com/vicinityh2020/vicinity-gateway-api-sub001/errors"
)

// AccessKeyVariable names the binding column holding the document's access key
const AccessKeyVariable = "accessKey"

// DocumentSolver flattens documents into bindings without interpreting the
// query text. Each object document becomes one binding holding its
// top-level scalar fields plus the access key; an array document yields one
// binding per object element. Keys are visited in sorted order.
type DocumentSolver struct {
	logger *slog.Logger
}

// NewDocumentSolver creates a DocumentSolver
func NewDocumentSolver(logger *slog.Logger) *DocumentSolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentSolver{logger: logger.With("component", "document-solver")}
}

// Solve implements Solver. Documents that do not decode are skipped.
func (s *DocumentSolver) Solve(ctx context.Context, queryText string, docs map[string]json.RawMessage) ([]Binding, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "DocumentSolver", "Solve", "empty query")
	}

	keys := make([]string, 0, len(docs))
	for k := range docs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var bindings []Binding
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, errors.WrapTransient(err, "DocumentSolver", "Solve", "solve")
		}

		rows, err := flatten(docs[key])
		if err != nil {
			s.logger.Warn("Skipping undecodable document", "access_key", key, "error", err)
			continue
		}
		for _, row := range rows {
			row[AccessKeyVariable] = key
			bindings = append(bindings, row)
		}
	}
	return bindings, nil
}

func flatten(doc json.RawMessage) ([]Binding, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	switch t := v.(type) {
	case map[string]any:
		return []Binding{scalarFields(t)}, nil
	case []any:
		rows := make([]Binding, 0, len(t))
		for _, item := range t {
			if obj, ok := item.(map[string]any); ok {
				rows = append(rows, scalarFields(obj))
			}
		}
		return rows, nil
	default:
		return nil, errors.ErrInvalidData
	}
}

func scalarFields(obj map[string]any) Binding {
	row := make(Binding, len(obj)+1)
	for k, v := range obj {
		switch t := v.(type) {
		case string:
			row[k] = t
		case json.Number:
			row[k] = t.String()
		case bool:
			if t {
				row[k] = "true"
			} else {
				row[k] = "false"
			}
		}
	}
	return row
}
