package federation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/vicinityh2020/vicinity-gateway-api-sub001/errors"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/message"
	"github.com/vicinityh2020/vicinity-gateway-api-sub001/metric"
)

// twoEndpointReader serves O1/P1 and fails O2/P2
var twoEndpointReader = readerFunc(func(_ context.Context, objectID, propertyID string, _ map[string]string) (json.RawMessage, error) {
	if objectID == "O1" && propertyID == "P1" {
		return json.RawMessage(`{"data":{"v":"23"}}`), nil
	}
	return nil, errors.New("neighbour n2 unreachable")
})

func twoEndpoints() []*RemoteEndpoint {
	return []*RemoteEndpoint{
		{AccessKey: "a1", ObjectID: "O1", PropertyID: "P1"},
		{AccessKey: "a2", ObjectID: "O2", PropertyID: "P2"},
	}
}

func newEngine(t *testing.T, deps Dependencies, metrics *metric.Metrics) *Engine {
	t.Helper()
	engine, err := NewEngine(deps, Config{MaxWorkers: 4}, discardLogger(), metrics)
	require.NoError(t, err)
	return engine
}

func decodeEnvelope(t *testing.T, env *message.Envelope) []map[string]string {
	t.Helper()
	var out struct {
		Error   bool                `json:"error"`
		Message []map[string]string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(env.Bytes(), &out))
	require.False(t, out.Error)
	require.NotNil(t, out.Message, "message must be an array, never null")
	return out.Message
}

func TestEngine_EndToEnd(t *testing.T) {
	roster := Roster{"n1", "n2"}
	query := Query{Text: "SELECT ?v WHERE { ?s :v ?v }", Parameters: map[string]string{"units": "si"}}

	discoverer := &MockDiscoverer{}
	discoverer.On("Discover", mock.Anything, query, roster).Return(DiscoveryResult(`{"endpoints":[]}`)).Once()
	planner := &MockPlanner{}
	planner.On("Plan", mock.Anything, DiscoveryResult(`{"endpoints":[]}`), roster, query).Return(twoEndpoints(), nil).Once()

	metrics := metric.NewMetrics()
	engine := newEngine(t, Dependencies{
		Discoverer: discoverer,
		Planner:    planner,
		Solver:     NewDocumentSolver(discardLogger()),
		Roster:     fixedRoster{roster: roster},
		Reader:     twoEndpointReader,
	}, metrics)

	env, trace := engine.ExecuteTrace(context.Background(), query)

	rows := decodeEnvelope(t, env)
	want := []map[string]string{{"accessKey": "a1", "v": "23"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("envelope mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, StageDone, trace.Stage())
	for _, stage := range []Stage{StageDiscovering, StagePlanning, StageFetching, StageValidating, StageSolving, StageAssembling} {
		assert.True(t, trace.Reached(stage), stage)
	}
	assert.Equal(t, 2, trace.Endpoints)
	assert.Equal(t, 1, trace.Fetched)
	assert.Equal(t, 1, trace.Accepted)
	assert.True(t, trace.Degraded)
	assert.NotEmpty(t, trace.ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QueriesTotal.WithLabelValues("degraded")))
	discoverer.AssertExpectations(t)
	planner.AssertExpectations(t)
}

func TestEngine_FailedFetchesNeverReachSolver(t *testing.T) {
	roster := Roster{"n1", "n2"}
	discoverer := &MockDiscoverer{}
	discoverer.On("Discover", mock.Anything, mock.Anything, mock.Anything).Return(EmptyDiscoveryResult)
	planner := &MockPlanner{}
	planner.On("Plan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(twoEndpoints(), nil)
	solver := &MockSolver{}
	solver.On("Solve", mock.Anything, "q", mock.Anything).Return([]Binding{{"v": "23"}}, nil).Once()

	engine := newEngine(t, Dependencies{
		Discoverer: discoverer,
		Planner:    planner,
		Solver:     solver,
		Roster:     fixedRoster{roster: roster},
		Reader:     twoEndpointReader,
	}, nil)

	env := engine.Execute(context.Background(), Query{Text: "q"})

	docs := solver.documents()
	require.Len(t, docs, 1)
	assert.JSONEq(t, `{"v":"23"}`, string(docs["a1"]))
	assert.NotContains(t, docs, "a2")
	assert.Equal(t, []map[string]string{{"v": "23"}}, decodeEnvelope(t, env))
	solver.AssertExpectations(t)
}

func TestEngine_EmptyRoster(t *testing.T) {
	discoverer := &MockDiscoverer{}
	planner := &MockPlanner{}
	solver := &MockSolver{}

	engine := newEngine(t, Dependencies{
		Discoverer: discoverer,
		Planner:    planner,
		Solver:     solver,
		Roster:     fixedRoster{roster: Roster{}},
		Reader:     twoEndpointReader,
	}, nil)

	env, trace := engine.ExecuteTrace(context.Background(), Query{Text: "q"})

	assert.Empty(t, decodeEnvelope(t, env))
	assert.JSONEq(t, `{"error":false,"message":[]}`, string(env.Bytes()))
	assert.Equal(t, StageDone, trace.Stage())
	discoverer.AssertNotCalled(t, "Discover", mock.Anything, mock.Anything, mock.Anything)
	solver.AssertNotCalled(t, "Solve", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_ZeroEndpointsStillAssembles(t *testing.T) {
	discoverer := &MockDiscoverer{}
	discoverer.On("Discover", mock.Anything, mock.Anything, mock.Anything).Return(EmptyDiscoveryResult)
	planner, err := NewTEDPlanner(discardLogger())
	require.NoError(t, err)
	solver := &MockSolver{}
	solver.On("Solve", mock.Anything, "q", map[string]json.RawMessage{}).Return(nil, nil).Once()

	metrics := metric.NewMetrics()
	engine := newEngine(t, Dependencies{
		Discoverer: discoverer,
		Planner:    planner,
		Solver:     solver,
		Roster:     fixedRoster{roster: Roster{"n1"}},
		Reader:     twoEndpointReader,
	}, metrics)

	env, trace := engine.ExecuteTrace(context.Background(), Query{Text: "q"})

	assert.JSONEq(t, `{"error":false,"message":[]}`, string(env.Bytes()))
	assert.True(t, trace.Reached(StageAssembling))
	assert.Equal(t, StageDone, trace.Stage())
	assert.False(t, trace.Degraded)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QueriesTotal.WithLabelValues("ok")))
	solver.AssertExpectations(t)
}

func TestEngine_PlannerErrorDegrades(t *testing.T) {
	discoverer := &MockDiscoverer{}
	discoverer.On("Discover", mock.Anything, mock.Anything, mock.Anything).Return(DiscoveryResult(`garbage`))
	planner, err := NewTEDPlanner(discardLogger())
	require.NoError(t, err)

	engine := newEngine(t, Dependencies{
		Discoverer: discoverer,
		Planner:    planner,
		Solver:     NewDocumentSolver(nil),
		Roster:     fixedRoster{roster: Roster{"n1"}},
		Reader:     twoEndpointReader,
	}, nil)

	env, trace := engine.ExecuteTrace(context.Background(), Query{Text: "q"})
	assert.Empty(t, decodeEnvelope(t, env))
	assert.True(t, trace.Degraded)
	assert.Equal(t, StageDone, trace.Stage())
}

func TestEngine_RejectsMalformedAndErrorPayloads(t *testing.T) {
	endpoints := []*RemoteEndpoint{
		{AccessKey: "good", ObjectID: "O1", PropertyID: "P1"},
		{AccessKey: "text", ObjectID: "O2", PropertyID: "P2"},
		{AccessKey: "err", ObjectID: "O3", PropertyID: "P3"},
		{AccessKey: "good", ObjectID: "O4", PropertyID: "P4"},
		{AccessKey: "status", ObjectID: "O5", PropertyID: "P5"},
	}
	payloads := map[string]string{
		"O1": `{"v":"1"}`,
		"O2": `temperature is 21`,
		"O3": `{"data":{"error":true,"statusCode":404,"statusCodeReason":"Not found. ","message":[]}}`,
		"O4": `{"v":"4"}`,
		"O5": `{"error":true,"statusCode":503,"statusCodeReason":"Service unavailable. ","message":[]}`,
	}
	reader := readerFunc(func(_ context.Context, objectID, _ string, _ map[string]string) (json.RawMessage, error) {
		return json.RawMessage(payloads[objectID]), nil
	})

	discoverer := &MockDiscoverer{}
	discoverer.On("Discover", mock.Anything, mock.Anything, mock.Anything).Return(EmptyDiscoveryResult)
	planner := &MockPlanner{}
	planner.On("Plan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(endpoints, nil)
	solver := &MockSolver{}
	solver.On("Solve", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	metrics := metric.NewMetrics()
	engine := newEngine(t, Dependencies{
		Discoverer: discoverer,
		Planner:    planner,
		Solver:     solver,
		Roster:     fixedRoster{roster: Roster{"n1"}},
		Reader:     reader,
	}, metrics)

	_, trace := engine.ExecuteTrace(context.Background(), Query{Text: "q"})

	docs := solver.documents()
	require.Len(t, docs, 1)
	assert.JSONEq(t, `{"v":"1"}`, string(docs["good"]), "first payload of a duplicated access key wins")

	assert.True(t, endpoints[0].Valid)
	assert.False(t, endpoints[1].Valid)
	assert.False(t, endpoints[2].Valid)
	assert.False(t, endpoints[3].Valid, "a duplicate never reaches the solver")
	assert.False(t, endpoints[4].Valid)
	assert.Nil(t, endpoints[4].Payload, "an error-status read leaves no payload")
	assert.Equal(t, 4, trace.Fetched)
	assert.Equal(t, 1, trace.Accepted)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FetchTotal.WithLabelValues(FetchErrorStatus)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PayloadRejected.WithLabelValues(RejectMalformed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PayloadRejected.WithLabelValues(RejectErrorEnvelope)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PayloadRejected.WithLabelValues(RejectDuplicateKey)))
}

func TestEngine_SolverFailuresYieldEmptyBindings(t *testing.T) {
	failing := &MockSolver{}
	failing.On("Solve", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("syntax error at line 1"))

	for name, solver := range map[string]Solver{"error": failing, "panic": panicSolver{}} {
		t.Run(name, func(t *testing.T) {
			discoverer := &MockDiscoverer{}
			discoverer.On("Discover", mock.Anything, mock.Anything, mock.Anything).Return(EmptyDiscoveryResult)
			planner := &MockPlanner{}
			planner.On("Plan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(twoEndpoints(), nil)

			engine := newEngine(t, Dependencies{
				Discoverer: discoverer,
				Planner:    planner,
				Solver:     solver,
				Roster:     fixedRoster{roster: Roster{"n1"}},
				Reader:     twoEndpointReader,
			}, nil)

			env, trace := engine.ExecuteTrace(context.Background(), Query{Text: "q"})
			assert.JSONEq(t, `{"error":false,"message":[]}`, string(env.Bytes()))
			assert.Equal(t, StageDone, trace.Stage())
			assert.True(t, trace.Degraded)
		})
	}
}

func TestEngine_LocalFaultsYieldErrorEnvelope(t *testing.T) {
	discoverer := &MockDiscoverer{}
	discoverer.On("Discover", mock.Anything, mock.Anything, mock.Anything).Return(EmptyDiscoveryResult)
	panicking := &MockPlanner{}
	panicking.On("Plan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("planner bug")
	})
	planner := &MockPlanner{}
	planner.On("Plan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	tests := []struct {
		name string
		deps Dependencies
	}{
		{"nil reader", Dependencies{Planner: planner, Roster: fixedRoster{roster: Roster{"n1"}}}},
		{"nil roster", Dependencies{Planner: planner, Reader: twoEndpointReader}},
		{"roster failure", Dependencies{Planner: planner, Reader: twoEndpointReader, Roster: fixedRoster{err: errors.New("session layer down")}}},
		{"orchestration panic", Dependencies{Planner: panicking, Reader: twoEndpointReader, Roster: fixedRoster{roster: Roster{"n1"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.deps.Discoverer = discoverer
			tt.deps.Solver = NewDocumentSolver(nil)
			metrics := metric.NewMetrics()
			engine := newEngine(t, tt.deps, metrics)

			env, trace := engine.ExecuteTrace(context.Background(), Query{Text: "q"})

			require.True(t, env.Error)
			assert.Equal(t, message.CodeServiceUnavailable, env.StatusCode)
			assert.Contains(t, env.StatusCodeReason, message.ReasonServiceUnavailable)
			assert.Contains(t, env.StatusCodeReason, trace.ID)
			assert.NotNil(t, env.Message)
			assert.Equal(t, StageFailed, trace.Stage())
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QueriesTotal.WithLabelValues("error")))
		})
	}
}

func TestEngine_QueryParametersAreCopied(t *testing.T) {
	params := map[string]string{"units": "si"}
	reader := readerFunc(func(_ context.Context, _, _ string, p map[string]string) (json.RawMessage, error) {
		p["units"] = "imperial"
		return json.RawMessage(`{}`), nil
	})

	discoverer := &MockDiscoverer{}
	discoverer.On("Discover", mock.Anything, mock.Anything, mock.Anything).Return(EmptyDiscoveryResult)
	planner := &MockPlanner{}
	planner.On("Plan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(twoEndpoints()[:1], nil)

	engine := newEngine(t, Dependencies{
		Discoverer: discoverer,
		Planner:    planner,
		Solver:     NewDocumentSolver(nil),
		Roster:     fixedRoster{roster: Roster{"n1"}},
		Reader:     reader,
	}, nil)

	engine.Execute(context.Background(), Query{Text: "q", Parameters: params})
	assert.Equal(t, "si", params["units"])
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	solver := NewDocumentSolver(nil)
	planner := &MockPlanner{}
	discoverer := &MockDiscoverer{}

	for name, deps := range map[string]Dependencies{
		"no discoverer": {Planner: planner, Solver: solver},
		"no planner":    {Discoverer: discoverer, Solver: solver},
		"no solver":     {Discoverer: discoverer, Planner: planner},
	} {
		_, err := NewEngine(deps, Config{}, nil, nil)
		require.Error(t, err, name)
		assert.True(t, gwerrors.IsInvalid(err), name)
	}
}
