// Package core is the orchestration layer.  It turns a Config into a
// runnable Mode and owns the interplay between the local terminal and
// a conn.Client.
//
// Architecture layers (bottom → top):
//
//	transport  →  conn  →  core  →  cmd (CLI)
//
// The builder in this package is the single dispatch point between
// parsed configuration and the objects that do the work.
package core

import "context"

// Mode is a complete operational mode of sockwrap.  A mode owns its
// full lifecycle from connection establishment to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
