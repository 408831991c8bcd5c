// Package errors provides standardized error handling for the gateway.
//
// Every error that crosses a package boundary is wrapped with the
// component and method that produced it:
//
//	return errors.WrapTransient(err, "NATSPropertyReader", "ReadRemoteProperty", "request property")
//
// which renders as "NATSPropertyReader.ReadRemoteProperty: request property failed: <cause>".
//
// # Classes
//
//   - Transient: a neighbour, the overlay or the discovery service may recover.
//   - Invalid: the caller sent something malformed (bad query, bad locator, bad config).
//   - Fatal: the local node cannot serve the request at all.
//
// The REST binding maps these classes onto HTTP status codes, and the
// federation engine uses IsFatal to decide between a degraded empty answer
// and the error envelope.
package errors
