package federation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vicinityh2020/vicinity-gateway-api-sub001/errors"
)

func TestDocumentSolver_Solve(t *testing.T) {
	docs := map[string]json.RawMessage{
		"b2": json.RawMessage(`[{"v":"1"},{"v":"2","on":true},"skipped"]`),
		"a1": json.RawMessage(`{"v":"23","n":12.50,"nested":{"x":1},"none":null}`),
		"c3": json.RawMessage(`{"broken":`),
	}

	got, err := NewDocumentSolver(discardLogger()).Solve(context.Background(), "SELECT * WHERE {}", docs)
	require.NoError(t, err)

	want := []Binding{
		{"accessKey": "a1", "v": "23", "n": "12.50"},
		{"accessKey": "b2", "v": "1"},
		{"accessKey": "b2", "v": "2", "on": "true"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("bindings mismatch (-want +got):\n%s", diff)
	}
}

func TestDocumentSolver_NoDocuments(t *testing.T) {
	got, err := NewDocumentSolver(nil).Solve(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDocumentSolver_EmptyQuery(t *testing.T) {
	_, err := NewDocumentSolver(nil).Solve(context.Background(), "  ", map[string]json.RawMessage{"a": json.RawMessage(`{}`)})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestDocumentSolver_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDocumentSolver(nil).Solve(ctx, "q", map[string]json.RawMessage{"a": json.RawMessage(`{}`)})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
