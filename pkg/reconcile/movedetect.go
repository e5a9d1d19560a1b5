package reconcile

import (
	"github.com/cloudsync/synccore/pkg/core"
	"github.com/cloudsync/synccore/pkg/synccache"
)

// fsEntry is one filesystem child as observed somewhere in the tree this
// pass, together with the SyncNode of the directory it was found under.
type fsEntry struct {
	Node   *core.FsNode
	Parent *core.SyncNode
}

// cloudEntry is a CloudNode's analogue of fsEntry.
type cloudEntry struct {
	Node   *core.CloudNode
	Parent *core.SyncNode
}

// GlobalScanIndex is the whole-tree fsid/handle snapshot the move-check
// phase consults (spec §4.7 Step B phase 1: "consult the fsid index
// globally"). It is built once per pass, before any row actions are
// dispatched, from the same fresh filesystem and cloud listings the
// reconciler will walk — mirroring how a full scan (spec §4.4) and a cloud
// tree refresh both complete before the reconciler ever starts deciding row
// actions (spec §4.10 steps 2-5).
type GlobalScanIndex struct {
	fsByFsid      map[uint64][]fsEntry
	cloudByHandle map[core.Handle][]cloudEntry
}

// NewGlobalScanIndex constructs an empty index.
func NewGlobalScanIndex() *GlobalScanIndex {
	return &GlobalScanIndex{
		fsByFsid:      make(map[uint64][]fsEntry),
		cloudByHandle: make(map[core.Handle][]cloudEntry),
	}
}

// IndexFs records one directory's filesystem children under parent.
func (g *GlobalScanIndex) IndexFs(parent *core.SyncNode, children map[string]*core.FsNode) {
	for _, n := range children {
		if !n.Fsid.Valid() {
			continue
		}
		key := n.Fsid.Value()
		g.fsByFsid[key] = append(g.fsByFsid[key], fsEntry{Node: n, Parent: parent})
	}
}

// IndexCloud records one directory's cloud children under parent.
func (g *GlobalScanIndex) IndexCloud(parent *core.SyncNode, children []*core.CloudNode) {
	for _, n := range children {
		if !n.Handle.Valid() {
			continue
		}
		g.cloudByHandle[n.Handle] = append(g.cloudByHandle[n.Handle], cloudEntry{Node: n, Parent: parent})
	}
}

// FindFs returns every indexed filesystem entry carrying the given fsid.
func (g *GlobalScanIndex) FindFs(fsid core.Fsid) []fsEntry {
	if !fsid.Valid() {
		return nil
	}
	return g.fsByFsid[fsid.Value()]
}

// FindCloud returns every indexed cloud entry carrying the given handle.
func (g *GlobalScanIndex) FindCloud(h core.Handle) []cloudEntry {
	if !h.Valid() {
		return nil
	}
	return g.cloudByHandle[h]
}

// MoveDetector implements the move-check phase (spec §4.7 Step B phase 1,
// §4.8): it recognizes that a sync-node whose prior side just disappeared
// from its old directory has reappeared — under the same identifier —
// somewhere else, and turns that into a pending move rather than a
// delete-then-recreate.
type MoveDetector struct{}

// NewMoveDetector constructs a MoveDetector.
func NewMoveDetector() *MoveDetector { return &MoveDetector{} }

// moveMatch is what CheckLocal/CheckCloud found: a destination directory and
// leaf name to move the row's sync-node to.
type moveMatch struct {
	DestinationParent *core.SyncNode
	DestinationName   string
}

// CheckLocal looks for a local move: row's sync-node had a valid
// LastSyncedFsid, its filesystem side is confirmed gone from this directory,
// and some other still-present filesystem entry elsewhere carries that same
// fsid with an agreeing type *and* an agreeing fingerprint (spec §3 invariant
// (b), spec §4.7 Step B phase 1: "the surviving side confirms type+
// fingerprint match"). A type-only match is not enough: the filesystem can
// reuse an inode number across an unrelated delete+create race, and without
// the fingerprint check that reused fsid would be misread as a rename of
// content that actually diverged. cache supplies the scanned-fsid reuse
// guard (SPEC_FULL.md §11); pass nil to skip it. Returns the match, or
// ok=false if none was found or the only candidate is the row's own
// (already-removed) position.
func (m *MoveDetector) CheckLocal(row *core.Triplet, index *GlobalScanIndex, cache *synccache.Cache) (moveMatch, bool) {
	if row.Sync == nil || !row.Sync.LastSyncedFsid.Valid() {
		return moveMatch{}, false
	}
	for _, candidate := range index.FindFs(row.Sync.LastSyncedFsid) {
		if candidate.Node.Type != row.Sync.Type {
			continue
		}
		if !candidate.Node.Fingerprint.Equal(row.Sync.LastSyncedFingerprint) {
			continue
		}
		if fsidReusedElsewhere(cache, row.Sync.LastSyncedFsid, row.Sync) {
			continue
		}
		return moveMatch{DestinationParent: candidate.Parent, DestinationName: candidate.Node.Name}, true
	}
	return moveMatch{}, false
}

// CheckCloud is CheckLocal's cloud-side counterpart: the row's sync-node had
// a valid LastSyncedHandle, the cloud side is confirmed gone from this
// directory, and some other cloud entry elsewhere carries that same handle
// with an agreeing type *and* fingerprint. Cloud handles are assigned once
// and never reused (spec §3 glossary: "stable 64-bit identifier"), so unlike
// CheckLocal there is no handle-reuse race to guard against here; cache is
// accepted only for signature symmetry with CheckLocal and is unused.
func (m *MoveDetector) CheckCloud(row *core.Triplet, index *GlobalScanIndex, cache *synccache.Cache) (moveMatch, bool) {
	if row.Sync == nil || !row.Sync.LastSyncedHandle.Valid() {
		return moveMatch{}, false
	}
	for _, candidate := range index.FindCloud(row.Sync.LastSyncedHandle) {
		if candidate.Node.Type != row.Sync.Type {
			continue
		}
		if !candidate.Node.Fingerprint.Equal(row.Sync.LastSyncedFingerprint) {
			continue
		}
		return moveMatch{DestinationParent: candidate.Parent, DestinationName: candidate.Node.Name}, true
	}
	return moveMatch{}, false
}

// fsidReusedElsewhere consults the cache's scanned-fsid index (SPEC_FULL.md
// §11's inode-reuse guard) for any other currently-live SyncNode besides
// source that was itself scanned with this same fsid. Such a second claimant
// means the filesystem has handed the same identifier to two distinct
// entries — a reuse race, not a persisted move — so the candidate must be
// rejected even though it passed the type+fingerprint check above. cache may
// be nil (e.g. in unit tests exercising CheckLocal/CheckCloud in isolation),
// in which case the guard is skipped.
func fsidReusedElsewhere(cache *synccache.Cache, fsid core.Fsid, source *core.SyncNode) bool {
	if cache == nil || !fsid.Valid() {
		return false
	}
	for _, n := range cache.FindByScannedFsid(fsid) {
		if n != source {
			return true
		}
	}
	return false
}

// BeginMove records a pending move token on the row's sync-node, marks the
// row processed so later phases this pass leave it alone, and relocates the
// sync-node into its new position in the tree — optimistically, ahead of the
// corresponding cloud Move/local rename actually completing, so the
// destination directory's own pass sees a sync-node already paired with its
// filesystem or cloud peer rather than mistaking it for a brand new entry.
// cloudSideMoves is true when the filesystem moved and the cloud side must
// be told (a local move); false when the cloud side moved and the local
// filesystem must be told (a cloud move).
func BeginMove(row *core.Triplet, match moveMatch, cloudSideMoves bool) *Action {
	source := row.Sync
	token := &core.MoveInProgress{
		SourceFsid:        source.LastSyncedFsid,
		SourceType:        source.Type,
		SourceFingerprint: source.LastSyncedFingerprint,
		SourceSyncNode:    source,
	}
	source.EnsureRare().PendingMove = token

	oldParent := source.Parent
	oldName := source.LocalName

	if oldParent != nil {
		oldParent.RemoveChild(source)
	}
	source.LocalName = match.DestinationName
	match.DestinationParent.AddChild(source)

	row.MarkProcessed()

	return &Action{
		Kind: ActionMove,
		Row:  row,
		Move: &MoveInstruction{
			Cloud:             cloudSideMoves,
			DestinationParent: match.DestinationParent,
			DestinationName:   match.DestinationName,
			SourceParent:      oldParent,
			SourceName:        oldName,
		},
	}
}

// CompleteMove finalizes a move once the orchestrator reports the
// corresponding cloud Move or local rename it dispatched has completed (spec
// §4.8: "On completion... relocates the source sync-node's children to the
// destination sync-node, clears the fsid/handle from the source, and
// destroys the source"). Because BeginMove already relocated the sync-node
// itself rather than creating a second node at the destination, completion
// here only needs to clear the token and, on failure, is left to the next
// pass's row-action phase to reconcile the now-stale bookkeeping.
func CompleteMove(token *core.MoveInProgress, succeeded bool) {
	token.Succeeded = succeeded
	token.Failed = !succeeded
	token.Processed = true
	if token.SourceSyncNode != nil && token.SourceSyncNode.Rare != nil {
		token.SourceSyncNode.Rare.PendingMove = nil
	}
}
