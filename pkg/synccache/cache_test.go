package synccache

import (
	"testing"

	"github.com/cloudsync/synccore/pkg/core"
)

func TestIndexAndFindBySyncedFsid(t *testing.T) {
	c := New()
	n := core.NewSyncNode("a.txt", core.NodeTypeFile, c.Root())
	n.LastSyncedFsid = core.NewFsid(42)
	c.Root().AddChild(n)
	c.Index(n)

	found := c.FindBySyncedFsid(core.NewFsid(42))
	if len(found) != 1 || found[0] != n {
		t.Fatalf("expected to find n by synced fsid, got %v", found)
	}

	if len(c.FindBySyncedFsid(core.NewFsid(99))) != 0 {
		t.Fatal("expected no match for unrelated fsid")
	}
}

func TestFindByHandle(t *testing.T) {
	c := New()
	n := core.NewSyncNode("b.txt", core.NodeTypeFile, c.Root())
	n.LastSyncedHandle = core.Handle(7)
	c.Root().AddChild(n)
	c.Index(n)

	found := c.FindByHandle(core.Handle(7))
	if len(found) != 1 || found[0] != n {
		t.Fatalf("expected to find n by handle, got %v", found)
	}
}

func TestUnindexRemovesFromAllMaps(t *testing.T) {
	c := New()
	n := core.NewSyncNode("c.txt", core.NodeTypeFile, c.Root())
	n.LastSyncedFsid = core.NewFsid(1)
	n.LastSyncedHandle = core.Handle(2)
	c.Root().AddChild(n)
	c.Index(n)

	c.Unindex(n)

	if len(c.FindBySyncedFsid(core.NewFsid(1))) != 0 {
		t.Fatal("expected fsid index to be empty after Unindex")
	}
	if len(c.FindByHandle(core.Handle(2))) != 0 {
		t.Fatal("expected handle index to be empty after Unindex")
	}
}

func TestMoveReindexing(t *testing.T) {
	// Simulates the move detector relocating a node: unindex under the old
	// fsid, mutate, reindex under the new one.
	c := New()
	n := core.NewSyncNode("d.txt", core.NodeTypeFile, c.Root())
	n.LastSyncedFsid = core.NewFsid(10)
	c.Root().AddChild(n)
	c.Index(n)

	c.Unindex(n)
	n.LastSyncedFsid = core.NewFsid(20)
	c.Index(n)

	if len(c.FindBySyncedFsid(core.NewFsid(10))) != 0 {
		t.Fatal("expected old fsid to no longer resolve")
	}
	found := c.FindBySyncedFsid(core.NewFsid(20))
	if len(found) != 1 || found[0] != n {
		t.Fatal("expected new fsid to resolve to n")
	}
}

func TestBuildFromRecordsLinksTreeAndIndices(t *testing.T) {
	records := map[uint64]nodeRecord{
		1: {ID: 1, ParentID: 0, LocalName: "dir", Type: core.NodeTypeFolder},
		2: {ID: 2, ParentID: 1, LocalName: "file.txt", Type: core.NodeTypeFile, SyncedFsid: 55},
		// Orphan: parent ID 99 was never persisted (dropped by truncation).
		3: {ID: 3, ParentID: 99, LocalName: "orphan.txt", Type: core.NodeTypeFile},
	}

	c := BuildFromRecords(records)

	dir := c.Root().ChildByName("dir")
	if dir == nil {
		t.Fatal("expected dir to be a direct child of root")
	}
	file := dir.ChildByName("file.txt")
	if file == nil {
		t.Fatal("expected file.txt to be a child of dir")
	}
	if found := c.FindBySyncedFsid(core.NewFsid(55)); len(found) != 1 || found[0] != file {
		t.Fatal("expected file.txt indexed by its synced fsid")
	}

	orphan := c.Root().ChildByName("orphan.txt")
	if orphan == nil {
		t.Fatal("expected orphan to be re-parented under root")
	}
}
