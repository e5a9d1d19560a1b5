// Package notify is the notification coalescer (spec §4.6): it turns an
// unbounded stream of path-keyed filesystem-notification events into
// scanAgain flags on the sync-node tree, so the reconciler only rescans the
// parts of the tree a watcher actually reported as changed.
package notify

import (
	"github.com/cloudsync/synccore/pkg/core"
	"github.com/cloudsync/synccore/pkg/core/path"
)

// ScanRequirement says whether a notification implies only the named path
// itself changed, or that its descendants may have too (e.g. a directory
// rename invalidates everything below it).
type ScanRequirement int

const (
	// Self means only the named path's own metadata/content may have
	// changed.
	Self ScanRequirement = iota
	// Descendants means the named path and everything beneath it may have
	// changed (spec §4.6: "scan-requirement ∈ {self, descendants}").
	Descendants
)

// Event is one notification from the filesystem-notification source (spec
// §4.6: "(anchor-node, relative-path, scan-requirement)"). Anchor is the
// SyncNode the watch was registered against (ordinarily the sync root, but
// watchers that resume mid-tree may anchor deeper); RelativePath is
// anchor-relative.
type Event struct {
	Anchor       *core.SyncNode
	RelativePath path.LocalPath
	Requirement  ScanRequirement
}
