package p2p

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/vicinityh2020/vicinity-gateway-api-sub001/errors"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/message"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/natsclient"
)

// PropertySource reads properties of objects this gateway owns
type PropertySource interface {
	ReadProperty(ctx context.Context, objectID, propertyID string, params map[string]string) (json.RawMessage, error)
}

// Server answers requests on a subject
type Server interface {
	Serve(ctx context.Context, subject, queue string, handler natsclient.RequestHandler) error
}

// ResponderConfig configures a Responder
type ResponderConfig struct {
	Prefix string
	// GatewayID names the queue group so replicas of one gateway share load
	GatewayID string
	Objects   []string
}

// Responder answers neighbours' property reads for the objects this gateway owns
type Responder struct {
	server  Server
	source  PropertySource
	cfg     ResponderConfig
	logger  *slog.Logger
	served  atomic.Int64
	failed  atomic.Int64
	started atomic.Bool
}

// NewResponder creates a responder for cfg.Objects
func NewResponder(server Server, source PropertySource, cfg ResponderConfig, logger *slog.Logger) (*Responder, error) {
	switch {
	case server == nil:
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Responder", "New", "server is required")
	case source == nil:
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Responder", "New", "property source is required")
	case len(cfg.Objects) == 0:
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Responder", "New", "no objects to serve")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Objects = slices.Clone(cfg.Objects)
	return &Responder{
		server: server,
		source: source,
		cfg:    cfg,
		logger: logger.With("component", "p2p-responder"),
	}, nil
}

// Start subscribes one handler per owned object. Handlers run until the
// underlying connection is closed.
func (r *Responder) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Responder", "Start", "start responder")
	}

	for _, objectID := range r.cfg.Objects {
		subject, err := objectSubject(r.cfg.Prefix, objectID)
		if err != nil {
			return err
		}
		if err := r.server.Serve(ctx, subject, r.cfg.GatewayID, r.handle); err != nil {
			return err
		}
		r.logger.Debug("Serving object", "object_id", objectID, "subject", subject)
	}

	r.logger.Info("Responder started", "objects", len(r.cfg.Objects))
	return nil
}

// Stats returns the number of reads answered with a value and with an error
func (r *Responder) Stats() (served, failed int64) {
	return r.served.Load(), r.failed.Load()
}

func (r *Responder) handle(ctx context.Context, data []byte) []byte {
	req, err := decodeRequest(data)
	if err != nil {
		r.failed.Add(1)
		r.logger.Warn("Malformed property request", "error", err)
		return message.NewError(message.CodeBadRequest, "malformed property request").Bytes()
	}

	logger := r.logger.With(
		"object_id", req.ObjectID,
		"property_id", req.PropertyID,
		"source", req.Source)

	if !slices.Contains(r.cfg.Objects, req.ObjectID) {
		r.failed.Add(1)
		logger.Warn("Request for an object this gateway does not own")
		return message.NewError(message.CodeNotFound, "unknown object "+req.ObjectID).Bytes()
	}

	value, err := r.source.ReadProperty(ctx, req.ObjectID, req.PropertyID, req.Parameters)
	if err != nil {
		r.failed.Add(1)
		code := statusCode(err)
		logger.Warn("Property read failed", "status_code", code, "error", err)
		return message.NewError(code, err.Error()).Bytes()
	}

	r.served.Add(1)
	return message.NewValue(value).Bytes()
}

// statusCode maps a source error to the envelope status code
func statusCode(err error) int {
	switch {
	case stderrors.Is(err, ErrPropertyNotFound):
		return message.CodeNotFound
	case stderrors.Is(err, context.DeadlineExceeded):
		return message.CodeRequestTimeout
	case errors.IsInvalid(err):
		return message.CodeBadRequest
	default:
		return message.CodeServiceUnavailable
	}
}
