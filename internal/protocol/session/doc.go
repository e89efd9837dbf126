// Package session owns connection-level helpers shared by the remoting
// client and server.
//
// Ownership boundary:
// - reliability config (timeouts, heartbeat, backoff)
// - transport security policy and tls.Config builders
// - handshake frame read/write
// - the pending request table used for reply correlation
package session
