package p2p

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"

	"github.com/vicinityh2020/vicinity-gateway-api-sub001/errors"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/message"
)

// ErrEmptyReply is returned when a peer answers with no bytes at all
var ErrEmptyReply = stderrors.New("empty reply from peer")

// Requester sends one request and waits for its reply
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// NATSPropertyReader reads remote properties over the overlay
type NATSPropertyReader struct {
	client Requester
	prefix string
	source string
	logger *slog.Logger
}

// NewNATSPropertyReader creates a reader sending requests under prefix.
// source is this gateway's platform ID, passed to peers for their logs.
func NewNATSPropertyReader(client Requester, prefix, source string, logger *slog.Logger) (*NATSPropertyReader, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "NATSPropertyReader", "New", "client is required")
	}
	if !validToken(prefix, true) {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "NATSPropertyReader", "New", "invalid subject prefix")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPropertyReader{
		client: client,
		prefix: prefix,
		source: source,
		logger: logger.With("component", "p2p-reader"),
	}, nil
}

// ReadRemoteProperty asks the owner of objectID for propertyID.
//
// A success envelope is unwrapped to its first message item. Error envelopes
// and replies that are not envelopes are returned as they are, so the caller
// can decide what to do with them.
func (r *NATSPropertyReader) ReadRemoteProperty(ctx context.Context, objectID, propertyID string, params map[string]string) (json.RawMessage, error) {
	subject, err := PropertySubject(r.prefix, objectID, propertyID)
	if err != nil {
		return nil, err
	}

	data, err := encodeRequest(PropertyRequest{
		ObjectID:   objectID,
		PropertyID: propertyID,
		Parameters: params,
		Source:     r.source,
	})
	if err != nil {
		return nil, err
	}

	reply, err := r.client.Request(ctx, subject, data)
	if err != nil {
		return nil, err
	}
	if len(reply) == 0 {
		return nil, errors.WrapTransient(ErrEmptyReply, "NATSPropertyReader", "ReadRemoteProperty", subject)
	}

	env, err := message.Parse(reply)
	if err != nil {
		r.logger.Debug("Peer reply is not an envelope", "subject", subject)
		return json.RawMessage(reply), nil
	}
	if env.Error {
		r.logger.Debug("Peer replied with an error envelope",
			"subject", subject,
			"status_code", env.StatusCode,
			"reason", env.StatusCodeReason)
		return json.RawMessage(reply), nil
	}

	value, ok := env.First()
	if !ok {
		return nil, errors.WrapTransient(ErrEmptyReply, "NATSPropertyReader", "ReadRemoteProperty",
			subject+": envelope carries no value")
	}
	return value, nil
}
