package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/vicinityh2020/vicinity-gateway-api-sub001/errors"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/federation"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/health"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/message"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/metric"
)

// MockEngine is a testify mock of Engine
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Execute(ctx context.Context, query federation.Query) *message.Envelope {
	args := m.Called(ctx, query)
	return args.Get(0).(*message.Envelope)
}

type readerFunc func(ctx context.Context, objectID, propertyID string, params map[string]string) (json.RawMessage, error)

func (f readerFunc) ReadRemoteProperty(ctx context.Context, objectID, propertyID string, params map[string]string) (json.RawMessage, error) {
	return f(ctx, objectID, propertyID, params)
}

func monitorWith(statuses ...health.Status) *health.Monitor {
	monitor := health.NewMonitor(discardLogger())
	for _, status := range statuses {
		monitor.Report(status.Component, status)
	}
	return monitor
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, deps Dependencies, cfg Config) *Gateway {
	t.Helper()
	if cfg.MaxRequestSize == 0 {
		cfg.MaxRequestSize = 1024
	}
	g, err := NewGateway(deps, cfg, discardLogger())
	require.NoError(t, err)
	return g
}

func serve(g *Gateway, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGetOrGenerateRequestID(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "existing-request-id-12345")
	assert.Equal(t, "existing-request-id-12345", getOrGenerateRequestID(req))

	ids := make(map[string]bool)
	bare := httptest.NewRequest("GET", "/test", nil)
	for i := 0; i < 100; i++ {
		id := getOrGenerateRequestID(bare)
		require.NotEmpty(t, id)
		require.False(t, ids[id], "duplicate request ID %s", id)
		ids[id] = true
	}
}

func TestSearch_RunsQuery(t *testing.T) {
	engine := &MockEngine{}
	engine.On("Execute", mock.Anything, federation.Query{
		Text:       "SELECT ?v WHERE { ?s :v ?v }",
		Parameters: map[string]string{"units": "si"},
	}).Return(message.NewSuccess([]map[string]string{{"accessKey": "a1", "v": "23"}})).Once()

	registry := metric.NewMetricsRegistry()
	g := newTestGateway(t, Dependencies{Engine: engine, Registry: registry}, Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/search/sparql?units=si&units=imperial",
		strings.NewReader("  SELECT ?v WHERE { ?s :v ?v }\n"))
	req.Header.Set("X-Request-ID", "req-1")
	rec := serve(g, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":false,"message":[{"accessKey":"a1","v":"23"}]}`, rec.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().HTTPRequests.WithLabelValues(RouteSearch, "200")))
	engine.AssertExpectations(t)
}

func TestSearch_ErrorEnvelopeStatus(t *testing.T) {
	engine := &MockEngine{}
	engine.On("Execute", mock.Anything, mock.Anything).
		Return(message.ServiceUnavailable("roster unavailable (execution x)"))

	g := newTestGateway(t, Dependencies{Engine: engine}, Config{})
	rec := serve(g, httptest.NewRequest(http.MethodPost, "/api/search/sparql", strings.NewReader("q")))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	env, err := message.Parse(rec.Body.Bytes())
	require.NoError(t, err)
	assert.True(t, env.Error)
	assert.Equal(t, message.CodeServiceUnavailable, env.StatusCode)
}

func TestSearch_RejectsBadBodies(t *testing.T) {
	engine := &MockEngine{}
	g := newTestGateway(t, Dependencies{Engine: engine}, Config{MaxRequestSize: 8})

	rec := serve(g, httptest.NewRequest(http.MethodPost, "/api/search/sparql", strings.NewReader("   ")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(g, httptest.NewRequest(http.MethodPost, "/api/search/sparql", strings.NewReader("SELECT * WHERE {}")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	env, err := message.Parse(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Contains(t, env.StatusCodeReason, "maximum size of 8 bytes")

	rec = serve(g, httptest.NewRequest(http.MethodGet, "/api/search/sparql", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	engine.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	total, failed, _ := g.Stats()
	assert.Equal(t, uint64(2), total, "the mux answers 405 before the route wrapper")
	assert.Equal(t, uint64(2), failed)
}

func TestProperty_ReadsThroughOverlay(t *testing.T) {
	var got struct {
		oid, pid string
		params   map[string]string
	}
	reader := readerFunc(func(_ context.Context, oid, pid string, params map[string]string) (json.RawMessage, error) {
		got.oid, got.pid, got.params = oid, pid, params
		return json.RawMessage(`{"value":"21.5"}`), nil
	})

	g := newTestGateway(t, Dependencies{Engine: &MockEngine{}, Reader: reader}, Config{})
	rec := serve(g, httptest.NewRequest(http.MethodGet, "/api/objects/O1/properties/temp?units=si", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"error":false,"message":[{"value":"21.5"}]}`, rec.Body.String())
	assert.Equal(t, "O1", got.oid)
	assert.Equal(t, "temp", got.pid)
	assert.Equal(t, map[string]string{"units": "si"}, got.params)
}

func TestProperty_RemoteErrors(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		err        error
		wantStatus int
	}{
		{
			name:       "peer error envelope",
			payload:    `{"error":true,"statusCode":404,"statusCodeReason":"Not found. unknown object O1","message":[]}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "malformed value",
			payload:    `21.5 degrees`,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "no responders",
			err:        pkgerrors.WrapTransient(pkgerrors.ErrNoConnection, "Client", "Request", "no responders on gateway.objects.O1.properties.P1"),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "timeout",
			err:        pkgerrors.WrapTransient(context.DeadlineExceeded, "Client", "Request", "request gateway.objects.O1.properties.P1"),
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "invalid ids",
			err:        pkgerrors.WrapInvalid(pkgerrors.ErrInvalidData, "p2p", "PropertySubject", "object ID cannot be used"),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := readerFunc(func(context.Context, string, string, map[string]string) (json.RawMessage, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return json.RawMessage(tt.payload), nil
			})
			g := newTestGateway(t, Dependencies{Engine: &MockEngine{}, Reader: reader}, Config{})
			rec := serve(g, httptest.NewRequest(http.MethodGet, "/api/objects/O1/properties/P1", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			env, err := message.Parse(rec.Body.Bytes())
			require.NoError(t, err)
			assert.True(t, env.Error)
			assert.NotContains(t, env.StatusCodeReason, "gateway.objects", "subjects are not exposed")
		})
	}
}

func TestProperty_DisabledWithoutReader(t *testing.T) {
	g := newTestGateway(t, Dependencies{Engine: &MockEngine{}}, Config{})
	rec := serve(g, httptest.NewRequest(http.MethodGet, "/api/objects/O1/properties/P1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	engine := &MockEngine{}
	engine.On("Execute", mock.Anything, mock.Anything).Return(message.NewSuccess[map[string]string](nil))

	g := newTestGateway(t, Dependencies{Engine: engine}, Config{RateLimit: 0.001, RateBurst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := serve(g, httptest.NewRequest(http.MethodPost, "/api/search/sparql", strings.NewReader("q")))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	rec := serve(g, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health checks are not rate limited")

	_, _, limited := g.Stats()
	assert.Equal(t, uint64(1), limited)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		reporter HealthReporter
		code     int
		state    string
	}{
		{"no reporter", nil, http.StatusOK, health.StateHealthy},
		{"healthy", monitorWith(health.NewHealthy("overlay", "connected")), http.StatusOK, health.StateHealthy},
		{
			"degraded still serves",
			monitorWith(health.NewHealthy("overlay", "connected"), health.NewDegraded("roster", "heartbeat failed")),
			http.StatusOK, health.StateDegraded,
		},
		{
			"overlay down",
			monitorWith(health.NewUnhealthy("overlay", "disconnected")),
			http.StatusServiceUnavailable, health.StateUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, Dependencies{Engine: &MockEngine{}, Health: tt.reporter}, Config{})
			rec := serve(g, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.code, rec.Code)
			var body healthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.state, body.Status.Status)
			assert.Equal(t, "fedgateway", body.Component)
			assert.NotEmpty(t, body.Uptime)
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	registry.CoreMetrics().QueriesTotal.WithLabelValues("ok").Inc()

	g := newTestGateway(t, Dependencies{Engine: &MockEngine{}, Registry: registry}, Config{})
	rec := serve(g, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `federation_queries_total{outcome="ok"} 1`)
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	g := &Gateway{}

	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"invalid error maps to 400", pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "test", "test", "invalid input"), http.StatusBadRequest},
		{"timeout error maps to 504", pkgerrors.WrapTransient(pkgerrors.ErrConnectionTimeout, "test", "test", "timeout occurred"), http.StatusGatewayTimeout},
		{"transient error maps to 503", pkgerrors.WrapTransient(pkgerrors.ErrNoConnection, "test", "test", "service unavailable"), http.StatusServiceUnavailable},
		{"fatal error maps to 500", pkgerrors.WrapFatal(pkgerrors.ErrMissingConfig, "test", "test", "fatal error"), http.StatusInternalServerError},
		{"not found error maps to 404", fmt.Errorf("entity not found"), http.StatusNotFound},
		{"nil maps to 500", nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedStatus, g.mapErrorToHTTPStatus(tt.err))
		})
	}
}

func TestNewGateway_Errors(t *testing.T) {
	_, err := NewGateway(Dependencies{}, Config{MaxRequestSize: 1}, nil)
	assert.True(t, pkgerrors.IsFatal(err))

	_, err = NewGateway(Dependencies{Engine: &MockEngine{}}, Config{}, nil)
	assert.True(t, pkgerrors.IsInvalid(err))
}
