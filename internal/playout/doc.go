// Package playout holds the playout engine objects that are replicated to
// front ends: the engine root, its media directories and media, the file
// operation queue and the CG elements controller.
//
// Each type comes in two halves. The server half embeds *remote.Object and
// is mutated only through Object.Set; the client half embeds *remote.Proxy
// and offers typed getters over the proxy cache. Bind registers the client
// halves with a remote.Binder.
//
// Scheduling, the copy engine and media probing stay outside this package:
// file operations run through an injected Executor.
package playout
