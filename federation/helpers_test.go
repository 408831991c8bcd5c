package federation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/stretchr/testify/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// readerFunc adapts a function to PropertyReader
type readerFunc func(ctx context.Context, objectID, propertyID string, params map[string]string) (json.RawMessage, error)

func (f readerFunc) ReadRemoteProperty(ctx context.Context, objectID, propertyID string, params map[string]string) (json.RawMessage, error) {
	return f(ctx, objectID, propertyID, params)
}

// fixedRoster is a RosterProvider returning a fixed roster or error
type fixedRoster struct {
	roster Roster
	err    error
}

func (r fixedRoster) Roster(context.Context) (Roster, error) {
	return r.roster, r.err
}

// MockDiscoverer is a testify mock of Discoverer
type MockDiscoverer struct {
	mock.Mock
}

func (m *MockDiscoverer) Discover(ctx context.Context, query Query, roster Roster) DiscoveryResult {
	args := m.Called(ctx, query, roster)
	return args.Get(0).(DiscoveryResult)
}

// MockPlanner is a testify mock of Planner
type MockPlanner struct {
	mock.Mock
}

func (m *MockPlanner) Plan(ctx context.Context, ted DiscoveryResult, roster Roster, query Query) ([]*RemoteEndpoint, error) {
	args := m.Called(ctx, ted, roster, query)
	if eps := args.Get(0); eps != nil {
		return eps.([]*RemoteEndpoint), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockSolver is a testify mock of Solver that also records the documents it saw
type MockSolver struct {
	mock.Mock
	mu   sync.Mutex
	seen map[string]json.RawMessage
}

func (m *MockSolver) Solve(ctx context.Context, queryText string, docs map[string]json.RawMessage) ([]Binding, error) {
	m.mu.Lock()
	m.seen = docs
	m.mu.Unlock()

	args := m.Called(ctx, queryText, docs)
	if b := args.Get(0); b != nil {
		return b.([]Binding), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSolver) documents() map[string]json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen
}

// panicSolver panics on every call
type panicSolver struct{}

func (panicSolver) Solve(context.Context, string, map[string]json.RawMessage) ([]Binding, error) {
	panic("solver exploded")
}
