// Package http exposes the federated query engine over REST.
//
// Routes:
//
//	POST /api/search/sparql                    query text in the body, query-string values as parameters
//	GET  /api/objects/{oid}/properties/{pid}   one remote property read through the overlay
//	GET  /healthz                              aggregated component health
//	GET  /metrics                              Prometheus exposition
//
// Every API response body is a status envelope (see package message).
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vicinityh2020/vicinity-gateway-api-sub001/errors"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/federation"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/health"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/message"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/metric"
)

// Route names used as the metrics label
const (
	RouteSearch   = "search_sparql"
	RouteProperty = "object_property"
	RouteHealth   = "healthz"
	RouteMetrics  = "metrics"
)

const healthSystem = "fedgateway"

// Engine executes federated queries
type Engine interface {
	Execute(ctx context.Context, query federation.Query) *message.Envelope
}

// HealthReporter aggregates component health
type HealthReporter interface {
	AggregateHealth(systemName string) health.Status
}

// Dependencies are the collaborators behind the routes. Engine is required;
// a nil Reader disables the property route and a nil Registry the metrics route.
type Dependencies struct {
	Engine   Engine
	Reader   federation.PropertyReader
	Health   HealthReporter
	Registry *metric.MetricsRegistry
}

// Config tunes request handling
type Config struct {
	MaxRequestSize int64
	// RateLimit is requests per second across all API routes. Zero disables limiting.
	RateLimit float64
	RateBurst int
}

// getOrGenerateRequestID extracts request ID from headers or generates a new one
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	return uuid.NewString()
}

// Gateway serves the REST binding
type Gateway struct {
	deps    Dependencies
	config  Config
	limiter *rate.Limiter
	metrics *metric.Metrics
	logger  *slog.Logger
	mux     *http.ServeMux

	startTime time.Time

	requestsTotal   atomic.Uint64
	requestsFailed  atomic.Uint64
	bytesReceived   atomic.Uint64
	bytesSent       atomic.Uint64
	requestsLimited atomic.Uint64
}

// NewGateway creates the REST binding and registers its routes
func NewGateway(deps Dependencies, config Config, logger *slog.Logger) (*Gateway, error) {
	if deps.Engine == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "NewGateway", "engine is required")
	}
	if config.MaxRequestSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "NewGateway",
			"max request size must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		deps:      deps,
		config:    config,
		logger:    logger.With("component", "http-gateway"),
		mux:       http.NewServeMux(),
		startTime: time.Now(),
	}
	if deps.Registry != nil {
		g.metrics = deps.Registry.CoreMetrics()
	}
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = int(math.Ceil(config.RateLimit))
		}
		g.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	g.mux.Handle("POST /api/search/sparql", g.wrap(RouteSearch, true, g.handleSearch))
	if deps.Reader != nil {
		g.mux.Handle("GET /api/objects/{oid}/properties/{pid}", g.wrap(RouteProperty, true, g.handleProperty))
	}
	g.mux.Handle("GET /healthz", g.wrap(RouteHealth, false, g.handleHealth))
	if deps.Registry != nil {
		g.mux.Handle("GET /metrics", g.wrap(RouteMetrics, false, deps.Registry.Handler().ServeHTTP))
	}

	return g, nil
}

// Handler returns the gateway's root handler
func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// wrap adds request IDs, rate limiting, accounting and logging to a route
func (g *Gateway) wrap(route string, limited bool, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)
		g.requestsTotal.Add(1)

		rec := &statusRecorder{ResponseWriter: w}
		if limited && g.limiter != nil && !g.limiter.Allow() {
			g.requestsLimited.Add(1)
			g.writeEnvelope(rec, http.StatusTooManyRequests,
				message.NewError(http.StatusTooManyRequests, "rate limit exceeded"))
		} else {
			next(rec, r.WithContext(withRequestID(r.Context(), requestID)))
		}

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		if rec.status >= http.StatusBadRequest {
			g.requestsFailed.Add(1)
		}
		g.bytesSent.Add(uint64(rec.bytes))
		if g.metrics != nil {
			g.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		}

		g.logger.Debug("Request handled",
			"request_id", requestID,
			"route", route,
			"method", r.Method,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

// handleSearch runs a federated query. Query-string values become query parameters.
func (g *Gateway) handleSearch(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, g.config.MaxRequestSize+1))
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > g.config.MaxRequestSize {
		g.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", g.config.MaxRequestSize))
		return
	}
	g.bytesReceived.Add(uint64(len(body)))

	text := strings.TrimSpace(string(body))
	if text == "" {
		g.writeError(w, http.StatusBadRequest, "query text is required")
		return
	}

	env := g.deps.Engine.Execute(r.Context(), federation.Query{
		Text:       text,
		Parameters: queryParameters(r),
	})

	status := http.StatusOK
	if env.Error && env.StatusCode != 0 {
		status = env.StatusCode
	}
	g.writeEnvelope(w, status, env)
}

// handleProperty reads one property of a remote object
func (g *Gateway) handleProperty(w http.ResponseWriter, r *http.Request) {
	oid, pid := r.PathValue("oid"), r.PathValue("pid")

	payload, err := g.deps.Reader.ReadRemoteProperty(r.Context(), oid, pid, queryParameters(r))
	if err != nil {
		g.logger.Warn("Remote property read failed",
			"request_id", requestIDFrom(r.Context()),
			"object_id", oid,
			"property_id", pid,
			"error", err)
		g.writeError(w, g.mapErrorToHTTPStatus(err), g.sanitizeError(err))
		return
	}

	if federation.IsErrorEnvelope(payload) {
		if env, perr := message.Parse(payload); perr == nil {
			status := env.StatusCode
			if status == 0 {
				status = http.StatusBadGateway
			}
			g.writeEnvelope(w, status, env)
			return
		}
	}
	if !federation.IsWellFormed(payload) {
		g.writeError(w, http.StatusBadGateway, "remote gateway returned a malformed value")
		return
	}

	g.writeEnvelope(w, http.StatusOK, message.NewValue(payload))
}

type healthResponse struct {
	health.Status
	Uptime string `json:"uptime"`
}

// handleHealth reports 503 only while a component is unhealthy; a degraded
// gateway still serves
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status: health.NewHealthy(healthSystem, "No health reporter"),
		Uptime: time.Since(g.startTime).Truncate(time.Second).String(),
	}
	if g.deps.Health != nil {
		resp.Status = g.deps.Health.AggregateHealth(healthSystem)
	}
	status := http.StatusOK
	if resp.Status.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}

	data, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// Stats returns request counters since the gateway was created
func (g *Gateway) Stats() (total, failed, limited uint64) {
	return g.requestsTotal.Load(), g.requestsFailed.Load(), g.requestsLimited.Load()
}

// queryParameters flattens the query string, keeping the first value of each key
func queryParameters(r *http.Request) map[string]string {
	values := r.URL.Query()
	if len(values) == 0 {
		return nil
	}
	params := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}

// mapErrorToHTTPStatus maps classified errors to HTTP status codes
func (g *Gateway) mapErrorToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}

	if errors.IsInvalid(err) {
		return http.StatusBadRequest
	}
	if errors.IsTransient(err) {
		if strings.Contains(err.Error(), "timeout") || strings.Contains(err.Error(), "deadline exceeded") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	}
	if errors.IsFatal(err) {
		return http.StatusInternalServerError
	}

	if strings.Contains(err.Error(), "not found") {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// sanitizeError returns a safe error message for external clients.
// Subjects and peer details stay in the logs.
func (g *Gateway) sanitizeError(err error) string {
	if err == nil {
		return "internal server error"
	}

	if errors.IsInvalid(err) {
		return "invalid request"
	}
	if errors.IsTransient(err) {
		if strings.Contains(err.Error(), "timeout") || strings.Contains(err.Error(), "deadline exceeded") {
			return "request timeout"
		}
		return "service temporarily unavailable"
	}
	if strings.Contains(err.Error(), "not found") {
		return "resource not found"
	}
	return "internal server error"
}

// writeError writes an error envelope with the given HTTP status
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, detail string) {
	g.writeEnvelope(w, statusCode, message.NewError(statusCode, detail))
}

func (g *Gateway) writeEnvelope(w http.ResponseWriter, statusCode int, env *message.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(env.Bytes())
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
