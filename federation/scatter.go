package federation

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/vicinityh2020/vicinity-gateway-api-sub001/errors"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/metric"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/pkg/worker"
)

// DefaultMaxWorkers bounds concurrent fetches of one execution
const DefaultMaxWorkers = 300

// ScatterConfig configures a ScatterExecutor
type ScatterConfig struct {
	// MaxWorkers caps concurrently running fetches. Zero means DefaultMaxWorkers.
	MaxWorkers int
	// FetchTimeout bounds each read. Zero leaves the bound to the reader.
	FetchTimeout time.Duration
}

// ScatterExecutor reads one property per endpoint on a bounded worker pool.
// Each call builds its own pool, so executions share nothing.
type ScatterExecutor struct {
	reader       PropertyReader
	maxWorkers   int
	fetchTimeout time.Duration
	logger       *slog.Logger
	rec          recorder
}

// Fetch outcomes
const (
	FetchOK          = "ok"
	FetchError       = "error"
	FetchTimeout     = "timeout"
	FetchErrorStatus = "error_status"
	FetchCancelled   = "cancelled"
)

// ErrRemoteStatus is matched by reads answered with an error-status envelope
var ErrRemoteStatus = stderrors.New("remote error status")

// errNotFetched marks endpoints whose read never ran
var errNotFetched = stderrors.New("read not started before the query ended")

// fetchTask is one queued read. It carries the endpoint it writes to and the
// flag a worker sets once it picks the task up.
type fetchTask struct {
	endpoint *RemoteEndpoint
	params   map[string]string
	started  *bool
}

// NewScatterExecutor creates a scatter executor over reader
func NewScatterExecutor(reader PropertyReader, cfg ScatterConfig, logger *slog.Logger, metrics *metric.Metrics) *ScatterExecutor {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScatterExecutor{
		reader:       reader,
		maxWorkers:   cfg.MaxWorkers,
		fetchTimeout: cfg.FetchTimeout,
		logger:       logger.With("component", "scatter-executor"),
		rec:          recorder{m: metrics},
	}
}

// FetchAll reads every endpoint and returns the same slice with payloads
// filled in for the reads that succeeded. It returns only once every read has
// settled or ctx is done. Failed reads leave Payload nil.
func (s *ScatterExecutor) FetchAll(ctx context.Context, endpoints []*RemoteEndpoint, params map[string]string) []*RemoteEndpoint {
	if len(endpoints) == 0 {
		return endpoints
	}

	params = maps.Clone(params)

	pool := worker.NewPool[fetchTask](
		min(s.maxWorkers, len(endpoints)),
		len(endpoints),
		s.fetch,
		worker.WithObserver[fetchTask](s.rec),
	)
	if err := pool.Start(ctx); err != nil {
		s.logger.Error("Failed to start fetch pool", "error", err)
		return endpoints
	}

	started := make([]bool, len(endpoints))
	for i, ep := range endpoints {
		if err := pool.Submit(fetchTask{endpoint: ep, params: params, started: &started[i]}); err != nil {
			s.logger.Error("Failed to queue fetch",
				"access_key", ep.AccessKey,
				"object_id", ep.ObjectID,
				"property_id", ep.PropertyID,
				"error", err)
		}
	}
	pool.Drain()

	// Drain has joined every worker, so the flags are settled
	for i, ep := range endpoints {
		if started[i] {
			continue
		}
		ep.Payload = nil
		err := errNotFetched
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", errNotFetched, ctx.Err())
		}
		s.fetchFailed(ep, FetchCancelled, err)
	}

	stats := pool.Stats()
	s.logger.Debug("Fetch stage settled",
		"endpoints", len(endpoints),
		"workers", stats.Workers,
		"peak_active", stats.PeakActive,
		"failed", stats.Failed)

	return endpoints
}

// fetch runs one read and writes its outcome through task.endpoint only
func (s *ScatterExecutor) fetch(ctx context.Context, task fetchTask) (err error) {
	ep := task.endpoint
	*task.started = true

	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapFatal(fmt.Errorf("panic: %v", r), "ScatterExecutor", "fetch", "read remote property")
			ep.Payload = nil
			s.fetchFailed(ep, FetchError, err)
		}
	}()

	if s.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
	}

	payload, err := s.reader.ReadRemoteProperty(ctx, ep.ObjectID, ep.PropertyID, task.params)
	if err != nil {
		outcome := FetchError
		if stderrors.Is(err, context.DeadlineExceeded) {
			outcome = FetchTimeout
		}
		s.fetchFailed(ep, outcome, err)
		return err
	}
	if payload == nil {
		err = errors.WrapInvalid(errors.ErrInvalidData, "ScatterExecutor", "fetch", "empty payload")
		s.fetchFailed(ep, FetchError, err)
		return err
	}
	if IsErrorEnvelope(payload) {
		err = errors.WrapInvalid(fmt.Errorf("%w: %s", ErrRemoteStatus, payload),
			"ScatterExecutor", "fetch", "read remote property")
		s.fetchFailed(ep, FetchErrorStatus, err)
		return err
	}

	ep.Payload = unwrapData(payload)
	s.rec.fetch(FetchOK)
	return nil
}

func (s *ScatterExecutor) fetchFailed(ep *RemoteEndpoint, outcome string, err error) {
	s.logger.Warn("Remote property read failed, endpoint excluded",
		"access_key", ep.AccessKey,
		"object_id", ep.ObjectID,
		"property_id", ep.PropertyID,
		"outcome", outcome,
		"error", err)
	s.rec.fetch(outcome)
}
