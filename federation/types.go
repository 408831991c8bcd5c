// Package federation answers a query by scattering property reads across
// neighbour gateways and solving the query over whatever comes back.
//
// One Engine.Execute call runs the whole pipeline:
//
//	discover -> plan -> fetch (bounded, concurrent) -> validate -> solve -> assemble
//
// Every stage degrades softly. A failing neighbour, an unreachable discovery
// service or a broken solver shrinks the answer; it never fails the query.
// Only a fault of the local node (no property reader, no roster) produces an
// error envelope.
package federation

import (
	"context"
	"encoding/json"
	"slices"
)

// Query is the opaque query text plus caller parameters forwarded to every
// remote property read.
type Query struct {
	Text       string
	Parameters map[string]string
}

// Roster lists the neighbour identifiers currently reachable
type Roster []string

// Contains reports whether id is in the roster
func (r Roster) Contains(id string) bool {
	return slices.Contains(r, id)
}

// DiscoveryResult is the thing-description document returned by the
// discovery service. Only planners look inside it.
type DiscoveryResult json.RawMessage

// EmptyDiscoveryResult is the neutral result used when discovery fails
var EmptyDiscoveryResult = DiscoveryResult(`{}`)

// RemoteEndpoint is one candidate data source for one execution.
// Payload and Valid are written only by the fetch task created for this
// endpoint and by the validation stage that follows it.
type RemoteEndpoint struct {
	AccessKey  string
	ObjectID   string
	PropertyID string
	Payload    json.RawMessage
	Valid      bool
}

// Binding is one result row: variable name to value
type Binding map[string]string

// PropertyReader reads one property of a remote object over the overlay
type PropertyReader interface {
	ReadRemoteProperty(ctx context.Context, objectID, propertyID string, params map[string]string) (json.RawMessage, error)
}

// RosterProvider returns the current set of reachable neighbours
type RosterProvider interface {
	Roster(ctx context.Context) (Roster, error)
}

// Discoverer asks the discovery service which neighbours can contribute.
// It never fails; failure yields EmptyDiscoveryResult.
type Discoverer interface {
	Discover(ctx context.Context, query Query, roster Roster) DiscoveryResult
}

// Planner turns a discovery result into the ordered list of endpoints to read
type Planner interface {
	Plan(ctx context.Context, ted DiscoveryResult, roster Roster, query Query) ([]*RemoteEndpoint, error)
}

// Solver evaluates the query over validated documents keyed by access key
type Solver interface {
	Solve(ctx context.Context, queryText string, docs map[string]json.RawMessage) ([]Binding, error)
}
