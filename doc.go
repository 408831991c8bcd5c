// Package vicinitygateway federates semantic queries across gateways on a
// NATS overlay.
//
// A client posts a query to one gateway. That gateway asks the semantic
// discovery service which remote object properties the query needs, reads
// every property from the neighbours that own it, drops failed or malformed
// answers, and solves the query over the values that arrived. The caller gets
// a status envelope whose message is the list of bindings, possibly empty.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│         REST binding                │  gateway/http
//	│  (search, property reads, health)   │  envelopes, rate limiting
//	└─────────────────────────────────────┘
//	           ↓ executes
//	┌─────────────────────────────────────┐
//	│     Federated query engine          │  federation
//	│ discover → plan → scatter → solve   │  bounded worker pool
//	└─────────────────────────────────────┘
//	           ↓ reads through
//	┌─────────────────────────────────────┐
//	│          NATS overlay               │  p2p, natsclient
//	│  request/reply, KV roster           │  responder → local adapter
//	└─────────────────────────────────────┘
//
// Every gateway is both a client and a server of the overlay: its Responder
// answers reads of the objects its local adapter owns on
// <prefix>.objects.<oid>.properties.<pid>, and its property reader sends the
// same requests to neighbours.
//
// # Degradation
//
// A federated query never fails because a neighbour did. Unreachable
// gateways, timeouts, error envelopes and malformed payloads are logged,
// counted and left out; discovery, planning and solving failures shrink the
// result to an empty list. Only local faults (no property reader, no roster)
// produce an error envelope.
//
// # Packages
//
//   - federation: the query pipeline (discovery client, TED planner, scatter, validation, solver)
//   - p2p: overlay subjects, the NATS property reader, the responder and the rosters
//   - gateway/http: the REST binding
//   - message: the status envelope shared by REST and the overlay
//   - config: layered JSON/YAML/environment configuration
//   - natsclient: the managed overlay connection
//   - health, metric: component health and Prometheus metrics
//   - errors, pkg/retry, pkg/worker, pkg/tlsutil: shared infrastructure
//
// The fedgateway command in cmd/fedgateway wires them together.
package vicinitygateway
