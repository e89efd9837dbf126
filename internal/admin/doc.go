// Package admin is the operator HTTP surface of tvremoted: health checks,
// prometheus metrics and read-only snapshots of sessions and registered
// objects.
package admin
