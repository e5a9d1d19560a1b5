// Package scan implements the scanner subsystem (spec §4.4): a small shared
// worker pool that snapshots a directory into typed filesystem entries,
// reusing fingerprints from a prior scan when an entry's identity and basic
// metadata haven't changed.
package scan

import (
	"github.com/cloudsync/synccore/pkg/core"
)

// Request describes one directory to scan.
type Request struct {
	// Dir is the absolute local directory path to list.
	Dir string
	// FollowSymlinks controls whether a symlink entry is followed to
	// determine its target type, or simply recorded as a symlink (spec
	// §4.4: "Symlinks are flagged and block reconciliation at that row").
	FollowSymlinks bool
	// PriorKnownChildren is the previous scan's result for this directory,
	// keyed by local name, used for the fingerprint reuse rule.
	PriorKnownChildren map[string]*core.FsNode

	// result is the channel the pool delivers the Result on; it is
	// allocated by Enqueue and is the "waiter cookie" of spec §4.4.
	result chan Result
}

// Result is the outcome of scanning one directory.
type Result struct {
	Dir      string
	Entries  map[string]*core.FsNode
	Err      error
}
