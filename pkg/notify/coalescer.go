package notify

import (
	"strings"

	"github.com/cloudsync/synccore/pkg/core"
	"github.com/cloudsync/synccore/pkg/core/path"
	"github.com/cloudsync/synccore/pkg/logging"
)

// Coalescer applies notification events onto a sync-node tree by setting
// ScanAgain flags, rather than queueing raw paths — so a burst of events
// against the same subtree collapses into a single flag via FlagState.Merge
// (spec §4.6).
type Coalescer struct {
	debrisPrefix path.LocalPath
	logger       *logging.Logger
}

// New constructs a Coalescer. debrisPrefix is the per-sync local debris
// directory (spec §4.6: "events under the per-sync local debris directory
// are dropped"); pass "" if the sync has none.
func New(debrisPrefix path.LocalPath, logger *logging.Logger) *Coalescer {
	return &Coalescer{debrisPrefix: debrisPrefix, logger: logger}
}

// Apply resolves the deepest existing SyncNode on event's path starting from
// event.Anchor and marks it (or the nearest existing ancestor) scanAgain.
// Events whose path falls under the debris directory are dropped silently.
func (c *Coalescer) Apply(event Event) {
	if c.debrisPrefix != "" && event.RelativePath.HasPrefix(c.debrisPrefix) {
		c.logger.Debugf("notify: dropping debris-directory event %q", event.RelativePath.Display())
		return
	}

	if event.Anchor.AbsorbSelfNotification() {
		c.logger.Debugf("notify: absorbed self-notification for %q", event.RelativePath.Display())
		return
	}

	node, exact := resolveDeepest(event.Anchor, event.RelativePath)

	flag := core.Here
	if !exact || event.Requirement == Descendants {
		flag = core.HereAndBelow
	}
	node.ScanAgain = core.Merge(node.ScanAgain, flag)
}

// resolveDeepest walks from anchor along relativePath's components, through
// existing children for as long as they exist, and returns the deepest
// SyncNode reached plus whether every component was found (an exact match)
// or the walk had to stop early at an ancestor (the rest of the path no
// longer has a corresponding SyncNode, e.g. it was never synced or was
// already removed).
func resolveDeepest(anchor *core.SyncNode, relativePath path.LocalPath) (*core.SyncNode, bool) {
	node := anchor
	if relativePath == "" {
		return node, true
	}

	components := strings.Split(string(relativePath), string(path.Separator))
	for _, name := range components {
		child := node.ChildByName(name)
		if child == nil {
			return node, false
		}
		node = child
	}
	return node, true
}
