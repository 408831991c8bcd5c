package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/vicinityh2020/vicinity-gateway-api-sub001/errors"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/message"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/metric"
)

// Stage is one step of a query execution
type Stage string

// Execution stages, in order
const (
	StageReceived    Stage = "received"
	StageDiscovering Stage = "discovering"
	StagePlanning    Stage = "planning"
	StageFetching    Stage = "fetching"
	StageValidating  Stage = "validating"
	StageSolving     Stage = "solving"
	StageAssembling  Stage = "assembling"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// Payload rejection reasons
const (
	RejectMalformed     = "malformed"
	RejectErrorEnvelope = "error_envelope"
	RejectDuplicateKey  = "duplicate_access_key"
)

// Transition records entry into a stage
type Transition struct {
	Stage Stage
	At    time.Time
}

// Execution traces one query through the pipeline
type Execution struct {
	ID          string
	Transitions []Transition
	Roster      int
	Endpoints   int
	Fetched     int
	Accepted    int
	Bindings    int
	// Degraded is set when any stage lost data on the way
	Degraded bool

	rec recorder
}

func newExecution(rec recorder) *Execution {
	x := &Execution{ID: uuid.NewString(), rec: rec}
	x.enter(StageReceived)
	return x
}

// Stage returns the stage the execution is currently in
func (x *Execution) Stage() Stage {
	if len(x.Transitions) == 0 {
		return ""
	}
	return x.Transitions[len(x.Transitions)-1].Stage
}

// Reached reports whether the execution entered stage
func (x *Execution) Reached(stage Stage) bool {
	return slices.ContainsFunc(x.Transitions, func(t Transition) bool { return t.Stage == stage })
}

func (x *Execution) enter(stage Stage) {
	now := time.Now()
	if n := len(x.Transitions); n > 0 {
		prev := x.Transitions[n-1]
		x.rec.stage(prev.Stage, now.Sub(prev.At))
	}
	x.Transitions = append(x.Transitions, Transition{Stage: stage, At: now})
}

// Dependencies are the collaborators an Engine drives
type Dependencies struct {
	Discoverer Discoverer
	Planner    Planner
	Solver     Solver
	Roster     RosterProvider
	Reader     PropertyReader
}

// Config tunes an Engine
type Config struct {
	MaxWorkers   int
	FetchTimeout time.Duration
}

// Engine runs federated queries. It holds no per-query state and is safe
// for concurrent use.
type Engine struct {
	deps    Dependencies
	scatter *ScatterExecutor
	logger  *slog.Logger
	rec     recorder
}

// NewEngine validates the collaborators and returns an Engine.
// Roster and Reader may be nil; queries then end with a 503 envelope.
func NewEngine(deps Dependencies, cfg Config, logger *slog.Logger, metrics *metric.Metrics) (*Engine, error) {
	switch {
	case deps.Discoverer == nil:
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "New", "discoverer is required")
	case deps.Planner == nil:
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "New", "planner is required")
	case deps.Solver == nil:
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "New", "solver is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		deps:   deps,
		logger: logger.With("component", "federation-engine"),
		rec:    recorder{m: metrics},
	}
	if deps.Reader != nil {
		e.scatter = NewScatterExecutor(deps.Reader, ScatterConfig{
			MaxWorkers:   cfg.MaxWorkers,
			FetchTimeout: cfg.FetchTimeout,
		}, logger, metrics)
	}
	return e, nil
}

// Execute runs query and returns the envelope to send back
func (e *Engine) Execute(ctx context.Context, query Query) *message.Envelope {
	env, _ := e.ExecuteTrace(ctx, query)
	return env
}

// ExecuteTrace runs query and also returns its execution trace
func (e *Engine) ExecuteTrace(ctx context.Context, query Query) (env *message.Envelope, x *Execution) {
	x = newExecution(e.rec)
	logger := e.logger.With("execution_id", x.ID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Query execution panicked",
				"stage", x.Stage(),
				"panic", r,
				"stack", string(debug.Stack()))
			env = e.fail(x, "query execution failed")
		}
	}()

	query = Query{Text: query.Text, Parameters: maps.Clone(query.Parameters)}

	if e.scatter == nil {
		logger.Error("No remote property reader configured")
		return e.fail(x, "remote property reader unavailable"), x
	}
	if e.deps.Roster == nil {
		logger.Error("No roster provider configured")
		return e.fail(x, "roster unavailable"), x
	}

	roster, err := e.deps.Roster.Roster(ctx)
	if err != nil {
		logger.Error("Roster provider failed", "error", err)
		return e.fail(x, "roster unavailable"), x
	}
	roster = slices.Clone(roster)
	x.Roster = len(roster)

	var bindings []Binding
	if len(roster) == 0 {
		logger.Info("Empty roster, nothing to federate", "outcome", "empty_roster")
	} else {
		bindings = e.federate(ctx, logger, x, query, roster)
	}

	x.enter(StageAssembling)
	env = message.NewSuccess(bindings)
	x.Bindings = len(bindings)
	x.enter(StageDone)

	outcome := "ok"
	if x.Degraded {
		outcome = "degraded"
	}
	e.rec.query(outcome)
	logger.Debug("Query execution finished",
		"outcome", outcome,
		"roster", x.Roster,
		"endpoints", x.Endpoints,
		"fetched", x.Fetched,
		"accepted", x.Accepted,
		"bindings", x.Bindings)

	return env, x
}

func (e *Engine) federate(ctx context.Context, logger *slog.Logger, x *Execution, query Query, roster Roster) []Binding {
	x.enter(StageDiscovering)
	ted := e.deps.Discoverer.Discover(ctx, query, roster)

	x.enter(StagePlanning)
	endpoints, err := e.deps.Planner.Plan(ctx, ted, roster, query)
	if err != nil {
		logger.Warn("Planner failed, continuing without candidates", "error", err)
		x.Degraded = true
		endpoints = nil
	}
	x.Endpoints = len(endpoints)
	e.rec.planned(len(endpoints))

	x.enter(StageFetching)
	endpoints = e.scatter.FetchAll(ctx, endpoints, query.Parameters)

	x.enter(StageValidating)
	docs := e.validate(logger, x, endpoints)

	x.enter(StageSolving)
	return e.solve(ctx, logger, x, query.Text, docs)
}

// validate collects well-formed payloads by access key and marks the kept
// endpoints valid. The first valid payload of an access key wins.
func (e *Engine) validate(logger *slog.Logger, x *Execution, endpoints []*RemoteEndpoint) map[string]json.RawMessage {
	docs := make(map[string]json.RawMessage, len(endpoints))
	for _, ep := range endpoints {
		if ep.Payload == nil {
			x.Degraded = true
			continue
		}
		x.Fetched++

		switch {
		case !IsWellFormed(ep.Payload):
			logger.Error("Rejected malformed payload",
				"access_key", ep.AccessKey,
				"object_id", ep.ObjectID,
				"property_id", ep.PropertyID,
				"payload", string(ep.Payload))
			e.rec.rejected(RejectMalformed)
			x.Degraded = true
		case IsErrorEnvelope(ep.Payload):
			logger.Error("Rejected error envelope payload",
				"access_key", ep.AccessKey,
				"object_id", ep.ObjectID,
				"property_id", ep.PropertyID,
				"payload", string(ep.Payload))
			e.rec.rejected(RejectErrorEnvelope)
			x.Degraded = true
		default:
			if _, dup := docs[ep.AccessKey]; dup {
				logger.Warn("Duplicate access key, keeping first payload",
					"access_key", ep.AccessKey,
					"object_id", ep.ObjectID,
					"property_id", ep.PropertyID)
				e.rec.rejected(RejectDuplicateKey)
				continue
			}
			ep.Valid = true
			docs[ep.AccessKey] = ep.Payload
		}
	}
	x.Accepted = len(docs)
	return docs
}

// solve runs the solver, turning errors and panics into empty bindings
func (e *Engine) solve(ctx context.Context, logger *slog.Logger, x *Execution, text string, docs map[string]json.RawMessage) (bindings []Binding) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Query solver panicked", "panic", r, "stack", string(debug.Stack()))
			x.Degraded = true
			bindings = nil
		}
	}()

	bindings, err := e.deps.Solver.Solve(ctx, text, docs)
	if err != nil {
		logger.Error("Query solver failed", "documents", len(docs), "error", err)
		x.Degraded = true
		return nil
	}
	return bindings
}

func (e *Engine) fail(x *Execution, detail string) *message.Envelope {
	x.enter(StageFailed)
	e.rec.query("error")
	return message.ServiceUnavailable(fmt.Sprintf("%s (execution %s)", detail, x.ID))
}
