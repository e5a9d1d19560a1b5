// Package synccache is the persistent sync-node cache (spec §4.5): an
// in-memory mirror of the synced-state tree plus the fsid/handle multi-maps
// that let the move detector answer "where else does this identifier
// appear?" in O(1+k), and a coalescing, crash-tolerant persistent log that
// durably records the tree across restarts.
//
// Grounded on the teacher's pkg/synchronization/core cache/reverse-lookup
// style (a tree plus auxiliary reverse-index maps rebuilt from the tree's
// own fields, never treated as a separate source of truth): here the maps
// are keyed by fsid and cloud handle instead of mutagen's content digest.
package synccache

import (
	"github.com/cloudsync/synccore/pkg/core"
)

// Cache is one sync's in-memory SyncNode tree plus its move-detection
// indices. It is not safe for concurrent use without external
// synchronization — the spec assigns it to the single orchestrator
// goroutine (spec §4.10).
type Cache struct {
	root *core.SyncNode

	syncedFsidIndex  map[uint64][]*core.SyncNode
	scannedFsidIndex map[uint64][]*core.SyncNode
	handleIndex      map[core.Handle][]*core.SyncNode
}

// New constructs an empty Cache rooted at an empty folder SyncNode.
func New() *Cache {
	return &Cache{
		root:             core.NewSyncNode("", core.NodeTypeFolder, nil),
		syncedFsidIndex:  make(map[uint64][]*core.SyncNode),
		scannedFsidIndex: make(map[uint64][]*core.SyncNode),
		handleIndex:      make(map[core.Handle][]*core.SyncNode),
	}
}

// Root returns the synchronization root SyncNode.
func (c *Cache) Root() *core.SyncNode { return c.root }

// Index adds n to every applicable identity index. Callers invoke this
// once per node after setting LastSyncedFsid/LastSyncedHandle/scannedFsid,
// and again after any of those fields change (call Unindex before the
// change to remove the stale entry first).
func (c *Cache) Index(n *core.SyncNode) {
	if n.LastSyncedFsid.Valid() {
		key := n.LastSyncedFsid.Value()
		c.syncedFsidIndex[key] = appendUnique(c.syncedFsidIndex[key], n)
	}
	if f := n.ScannedFsid(); f.Valid() {
		key := f.Value()
		c.scannedFsidIndex[key] = appendUnique(c.scannedFsidIndex[key], n)
	}
	if n.LastSyncedHandle.Valid() {
		c.handleIndex[n.LastSyncedHandle] = appendUnique(c.handleIndex[n.LastSyncedHandle], n)
	}
}

// Unindex removes n from every identity index it might appear in, using the
// fsid/handle values currently set on it. Call this before mutating or
// clearing those fields (e.g. before ClearSyncedIdentity), then Index again
// afterward if the new values should also be indexed.
func (c *Cache) Unindex(n *core.SyncNode) {
	if n.LastSyncedFsid.Valid() {
		key := n.LastSyncedFsid.Value()
		c.syncedFsidIndex[key] = removeOne(c.syncedFsidIndex[key], n)
		if len(c.syncedFsidIndex[key]) == 0 {
			delete(c.syncedFsidIndex, key)
		}
	}
	if f := n.ScannedFsid(); f.Valid() {
		key := f.Value()
		c.scannedFsidIndex[key] = removeOne(c.scannedFsidIndex[key], n)
		if len(c.scannedFsidIndex[key]) == 0 {
			delete(c.scannedFsidIndex, key)
		}
	}
	if n.LastSyncedHandle.Valid() {
		c.handleIndex[n.LastSyncedHandle] = removeOne(c.handleIndex[n.LastSyncedHandle], n)
		if len(c.handleIndex[n.LastSyncedHandle]) == 0 {
			delete(c.handleIndex, n.LastSyncedHandle)
		}
	}
}

// FindBySyncedFsid returns every SyncNode last synced with the given fsid —
// the move detector's primary query (spec §4.7 Step B: "a prior
// LastSyncedFsid equal to the disappeared entry's fsid").
func (c *Cache) FindBySyncedFsid(fsid core.Fsid) []*core.SyncNode {
	if !fsid.Valid() {
		return nil
	}
	return c.syncedFsidIndex[fsid.Value()]
}

// FindByScannedFsid returns every SyncNode whose scan-time fsid snapshot
// matches, used to distinguish a genuine move from an inode-reuse race
// (SPEC_FULL.md §11).
func (c *Cache) FindByScannedFsid(fsid core.Fsid) []*core.SyncNode {
	if !fsid.Valid() {
		return nil
	}
	return c.scannedFsidIndex[fsid.Value()]
}

// FindByHandle returns every SyncNode last synced under the given cloud
// handle — the move detector's cloud-side analogue of FindBySyncedFsid.
func (c *Cache) FindByHandle(h core.Handle) []*core.SyncNode {
	if !h.Valid() {
		return nil
	}
	return c.handleIndex[h]
}

// BuildFromRecords reconstructs a Cache's tree and indices from the records
// a Persistence.Load returned. A record whose ParentID refers to an ID not
// present in records (the parent frame was itself dropped by truncation, or
// a tombstone for the parent outraced its child's upsert before the last
// flush) is tolerated by re-parenting the node directly under the root,
// rather than discarding it — spec §4.5 requires surviving missing IDs, and
// the next full scan will reconcile the node into its correct position
// regardless of where it starts in the synced tree.
func BuildFromRecords(records map[uint64]nodeRecord) *Cache {
	c := New()

	nodes := make(map[uint64]*core.SyncNode, len(records))
	for id, rec := range records {
		nodes[id] = rec.toSyncNode()
	}

	for id, rec := range records {
		n := nodes[id]
		parent := c.root
		if rec.ParentID != 0 {
			if p, ok := nodes[rec.ParentID]; ok {
				parent = p
			}
		}
		parent.AddChild(n)
		c.Index(n)
	}

	return c
}

func appendUnique(list []*core.SyncNode, n *core.SyncNode) []*core.SyncNode {
	for _, existing := range list {
		if existing == n {
			return list
		}
	}
	return append(list, n)
}

func removeOne(list []*core.SyncNode, n *core.SyncNode) []*core.SyncNode {
	for i, existing := range list {
		if existing == n {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
