// Package server accepts remote-object sessions.
//
// A Server owns a listener and one serverSession per accepted connection.
// Each session keeps its own known-set and encoder; the shared
// remote.Registry fans committed changes out to the sessions that hold the
// changed object. Requests are dispatched as follows:
//   - PropertySet runs inline on the read loop, acked when the client asks.
//   - Invoke and Query run on a bounded worker group per session.
//   - Release drops ids from the known-set, so the next send is a body.
//   - EventSubscribe and EventUnsubscribe adjust event delivery.
package server
