// Package wire defines the remoting message set and its payload encoding.
//
// Every message travels as one frame.Frame. The frame header carries the
// message type and the correlation id; the payload is the CBOR encoding of
// the message struct. Object state travels as Value trees in which an object
// is either a full Body (first transmission on a session) or a Ref token
// (the peer already holds it).
package wire
