// Package signaling implements the websocket signaling surface of the relay:
// the wire envelope codec, the per-connection router state machine, and the
// HTTP upgrade handler that binds a connection to a room.
//
// Payloads are opaque. The relay forwards offers/answers/candidates verbatim
// between room members and never participates in the peer connections it
// brokers.
package signaling
