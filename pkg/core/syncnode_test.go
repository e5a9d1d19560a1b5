package core

import "testing"

func TestSyncNodeChildIndex(t *testing.T) {
	root := NewSyncNode("", NodeTypeFolder, nil)
	a := NewSyncNode("a.txt", NodeTypeFile, nil)
	root.AddChild(a)

	if got := root.ChildByName("a.txt"); got != a {
		t.Fatalf("expected to find child a.txt, got %v", got)
	}
	if a.Parent != root {
		t.Fatal("expected AddChild to set Parent")
	}

	b := NewSyncNode("A.txt", NodeTypeFile, nil)
	root.AddChild(b)
	siblings := root.ChildrenByFoldedName("a.txt")
	if len(siblings) != 2 {
		t.Fatalf("expected 2 case-variant siblings, got %d", len(siblings))
	}

	root.RemoveChild(a)
	if root.ChildByName("a.txt") != nil {
		t.Fatal("expected a.txt removed")
	}
	if len(root.ChildrenByFoldedName("a.txt")) != 1 {
		t.Fatal("expected 1 remaining case-variant sibling")
	}
}

func TestSyncNodePath(t *testing.T) {
	root := NewSyncNode("", NodeTypeFolder, nil)
	dir := NewSyncNode("dir", NodeTypeFolder, nil)
	root.AddChild(dir)
	file := NewSyncNode("file.txt", NodeTypeFile, nil)
	dir.AddChild(file)

	if got := file.Path(); got != "dir/file.txt" {
		t.Fatalf("expected path dir/file.txt, got %q", got)
	}
}

func TestClearSyncedIdentity(t *testing.T) {
	n := NewSyncNode("x", NodeTypeFile, nil)
	n.LastSyncedFsid = NewFsid(42)
	n.LastSyncedHandle = Handle(7)
	n.ClearSyncedIdentity()
	if n.LastSyncedFsid.Valid() || n.LastSyncedHandle.Valid() {
		t.Fatal("expected identity cleared")
	}
}
