// Package p2p carries property reads between gateways over the NATS overlay.
//
// A read for object O and property P travels as a request on
//
//	<prefix>.objects.<O>.properties.<P>
//
// with a JSON PropertyRequest body. The gateway that owns O answers through a
// Responder, which asks its local adapter for the value and replies with a
// status envelope (see package message). NATSPropertyReader is the requesting
// side and implements federation.PropertyReader.
//
// Neighbour membership is published in a JetStream key-value bucket by
// KVRoster. Every gateway heartbeats its own key and the bucket's max age
// expires gateways that stop heartbeating. StaticRoster serves a fixed
// neighbour list when no bucket is configured.
package p2p
