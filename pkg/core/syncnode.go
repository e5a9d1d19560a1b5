package core

import (
	"github.com/cloudsync/synccore/pkg/core/path"
)

// RareFields holds transient, per-node data that only a small fraction of
// nodes ever populate: a pending move token, create/delete-in-progress
// tokens, and in-progress upload/download identifiers. Keeping these in a
// separate heap-allocated struct, rather than inline on SyncNode, keeps the
// common node small (spec §4.5, design notes).
type RareFields struct {
	// PendingMove is set on both the source and destination SyncNode of an
	// in-flight move; it is the same *MoveInProgress value on both ends so
	// either side can observe the other's outcome.
	PendingMove *MoveInProgress
	// CreateInProgressToken and DeleteInProgressToken correlate a row's
	// dispatched create/delete operation with its eventual completion
	// callback, so a second pass doesn't dispatch a duplicate operation
	// while the first is still in flight.
	CreateInProgressToken string
	DeleteInProgressToken string
	// UploadInProgress and DownloadInProgress record an opaque transfer
	// identifier while a transfer is outstanding for this node.
	UploadInProgress   string
	DownloadInProgress string
	// SelfNotificationsExpected absorbs the exact number of filesystem
	// notifications a sync-originated write is expected to generate (spec
	// §4.6: "one-for-create, one-for-content"), so the coalescer doesn't
	// schedule a redundant rescan in response to the engine's own write.
	SelfNotificationsExpected int
}

// MoveInProgress is the single pending-move token shared by a move's source
// and destination SyncNode (spec §4.8).
type MoveInProgress struct {
	// SourceFsid, SourceType, and SourceFingerprint snapshot the source at
	// the moment the move was detected, so the destination can validate the
	// move completed against unchanged expectations.
	SourceFsid        Fsid
	SourceType        NodeType
	SourceFingerprint Fingerprint
	// SourceSyncNode is the SyncNode the move originated from.
	SourceSyncNode *SyncNode
	// Succeeded and Failed are mutually exclusive terminal states; both
	// false means the move is still in flight.
	Succeeded bool
	Failed    bool
	// Processed records whether the reconciler has already incorporated the
	// terminal result into the tree (relocated children, destroyed the
	// source), preventing double-processing across passes.
	Processed bool
}

// childIndex maps local names to children, maintaining both a case-sensitive
// index (the authoritative one) and a case-insensitive one (used to detect
// clashes on case-insensitive filesystems and to match the cloud's
// case-insensitive semantics).
type childIndex struct {
	byName       map[string]*SyncNode
	byFoldedName map[string][]*SyncNode
}

func newChildIndex() *childIndex {
	return &childIndex{
		byName:       make(map[string]*SyncNode),
		byFoldedName: make(map[string][]*SyncNode),
	}
}

func (c *childIndex) insert(n *SyncNode) {
	c.byName[n.LocalName] = n
	folded := path.Fold(n.LocalName)
	c.byFoldedName[folded] = append(c.byFoldedName[folded], n)
}

func (c *childIndex) remove(n *SyncNode) {
	delete(c.byName, n.LocalName)
	folded := path.Fold(n.LocalName)
	siblings := c.byFoldedName[folded]
	for i, s := range siblings {
		if s == n {
			c.byFoldedName[folded] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(c.byFoldedName[folded]) == 0 {
		delete(c.byFoldedName, folded)
	}
}

// SyncNode is the persistent memory of what was previously synced at one
// position in the tree (spec §3). It is mutated only from the orchestrator.
type SyncNode struct {
	// LocalName and ShortName mirror FsNode's naming fields for the name
	// this node was last synced under.
	LocalName string
	ShortName string

	// LastSyncedFsid and LastSyncedHandle are the cross-tree identities used
	// by move detection; LastSyncedFingerprint is the content fingerprint as
	// of the last successful sync.
	LastSyncedFsid        Fsid
	LastSyncedHandle      Handle
	LastSyncedFingerprint Fingerprint

	// scannedFsid is a second, scan-time-only fsid snapshot distinct from
	// LastSyncedFsid (see SPEC_FULL.md §11): it lets the move-check phase
	// recognize when a filesystem has reused an inode number across a
	// delete+recreate race, rather than mistaking the reuse for a persisted
	// move.
	scannedFsid Fsid

	// Type is the node's last-known type.
	Type NodeType

	// Parent is this node's parent in the sync-node tree; it is nil for the
	// synchronization root. Parent is a plain pointer (not reference
	// counted): SyncNode ownership flows strictly from parent to children,
	// and Parent is a non-owning back-reference, per the design notes'
	// guidance against shared ownership for the inherently cyclic
	// parent/children relationship.
	Parent *SyncNode

	// children is nil for non-folder nodes and for folders with no synced
	// children yet.
	children *childIndex

	// Propagation flags, one FlagState each (spec §3).
	ScanAgain        FlagState
	CheckMovesAgain  FlagState
	SyncAgain        FlagState
	Conflicts        FlagState
	UseBlocked       FlagState
	ScanBlocked      FlagState

	// DatabaseID is the auto-increment identifier assigned on first commit
	// to the persistent store (spec §4.5); zero means not yet committed.
	DatabaseID uint64

	// Rare is lazily allocated; see RareFields.
	Rare *RareFields
}

// NewSyncNode constructs a freshly observed, not-yet-synced SyncNode.
func NewSyncNode(localName string, nodeType NodeType, parent *SyncNode) *SyncNode {
	return &SyncNode{
		LocalName: localName,
		Type:      nodeType,
		Parent:    parent,
	}
}

// Children returns the node's children in no particular order. It returns
// nil for non-folders or folders with no children.
func (n *SyncNode) Children() []*SyncNode {
	if n == nil || n.children == nil {
		return nil
	}
	out := make([]*SyncNode, 0, len(n.children.byName))
	for _, c := range n.children.byName {
		out = append(out, c)
	}
	return out
}

// ChildByName looks up an exact-name child.
func (n *SyncNode) ChildByName(name string) *SyncNode {
	if n == nil || n.children == nil {
		return nil
	}
	return n.children.byName[name]
}

// ChildrenByFoldedName returns every child whose name case-folds to the
// given folded name — used to detect same-name-different-case clashes on
// case-insensitive filesystems.
func (n *SyncNode) ChildrenByFoldedName(folded string) []*SyncNode {
	if n == nil || n.children == nil {
		return nil
	}
	return n.children.byFoldedName[folded]
}

// AddChild inserts a child SyncNode, allocating the child index on first use.
func (n *SyncNode) AddChild(c *SyncNode) {
	if n.children == nil {
		n.children = newChildIndex()
	}
	c.Parent = n
	n.children.insert(c)
}

// RemoveChild detaches a child SyncNode from this node.
func (n *SyncNode) RemoveChild(c *SyncNode) {
	if n.children == nil {
		return
	}
	n.children.remove(c)
}

// RenameChild updates a child's name and re-indexes it; used by the move
// detector when relocating a renamed node, and by in-place rename handling.
func (n *SyncNode) RenameChild(c *SyncNode, newName string) {
	if n.children != nil {
		n.children.remove(c)
	}
	c.LocalName = newName
	if n.children == nil {
		n.children = newChildIndex()
	}
	n.children.insert(c)
}

// EnsureRare returns the node's RareFields, allocating it on first use.
func (n *SyncNode) EnsureRare() *RareFields {
	if n.Rare == nil {
		n.Rare = &RareFields{}
	}
	return n.Rare
}

// ClearSyncedIdentity removes the fsid and handle from a source node once its
// move has been observed at the destination, so the source is no longer a
// valid move source for any subsequent disappearance elsewhere (spec §4.8).
func (n *SyncNode) ClearSyncedIdentity() {
	n.LastSyncedFsid = FsidUndefined
	n.LastSyncedHandle = 0
	n.scannedFsid = FsidUndefined
}

// SetScannedFsid records the scan-time fsid snapshot distinct from the
// last-synced one.
func (n *SyncNode) SetScannedFsid(f Fsid) { n.scannedFsid = f }

// ScannedFsid returns the scan-time fsid snapshot.
func (n *SyncNode) ScannedFsid() Fsid { return n.scannedFsid }

// ExpectSelfNotifications records that count more filesystem notifications
// are about to arrive as the direct result of a write this engine just made,
// so the coalescer should absorb them rather than scheduling a rescan.
func (n *SyncNode) ExpectSelfNotifications(count int) {
	n.EnsureRare().SelfNotificationsExpected += count
}

// AbsorbSelfNotification consumes one expected self-notification if any are
// outstanding, reporting whether it did. A nil node (the anchor could not be
// resolved to an existing node) never absorbs.
func (n *SyncNode) AbsorbSelfNotification() bool {
	if n == nil || n.Rare == nil || n.Rare.SelfNotificationsExpected <= 0 {
		return false
	}
	n.Rare.SelfNotificationsExpected--
	return true
}

// Path reconstructs this node's root-relative remote path by walking parent
// links, matching the invariant that a SyncNode's position in the tree equals
// its parent chain (spec §3).
func (n *SyncNode) Path() path.RemotePath {
	if n == nil || n.Parent == nil {
		return ""
	}
	return path.AppendRemote(n.Parent.Path(), n.LocalName)
}
