// Package client is the connection manager for remote-object sessions.
//
// A Manager dials the server, performs the handshake, decodes the root
// proxy and runs the session. Every connection gets a fresh proxy registry:
// proxies from an earlier connection are never reused, and after a
// disconnect they are dead. Run reconnects after the configured backoff.
package client
