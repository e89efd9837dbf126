// Package remote replicates server-side object graphs to clients.
//
// Ownership boundary:
// - server role: Object, Registry, KnownSet, Encoder
// - client role: Proxy, ProxyRegistry, Binder, Decoder, Replica
// - both roles: Session (frame I/O, correlation, send ordering)
//
// Invariants:
// - an ObjectID maps to at most one Object on the server and one proxy per
//   client session
// - a session's known-set only grows, except on explicit release
// - the first transmission of an object on a session is a body; a body is
//   always enqueued before any later ref to it
// - every pending request completes exactly once
package remote
