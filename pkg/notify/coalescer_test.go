package notify

import (
	"testing"

	"github.com/cloudsync/synccore/pkg/core"
	"github.com/cloudsync/synccore/pkg/core/path"
)

func TestApplyMarksExactMatchHere(t *testing.T) {
	root := core.NewSyncNode("", core.NodeTypeFolder, nil)
	child := core.NewSyncNode("a.txt", core.NodeTypeFile, root)
	root.AddChild(child)

	c := New("", nil)
	c.Apply(Event{Anchor: root, RelativePath: path.LocalPath("a.txt"), Requirement: Self})

	if child.ScanAgain != core.Here {
		t.Fatalf("expected child.ScanAgain == Here, got %v", child.ScanAgain)
	}
}

func TestApplyFallsBackToNearestAncestor(t *testing.T) {
	root := core.NewSyncNode("", core.NodeTypeFolder, nil)
	dir := core.NewSyncNode("dir", core.NodeTypeFolder, root)
	root.AddChild(dir)

	c := New("", nil)
	// "dir/missing.txt" has no SyncNode yet; the nearest existing ancestor
	// is dir, which should be marked HereAndBelow.
	c.Apply(Event{Anchor: root, RelativePath: path.LocalPath("dir/missing.txt"), Requirement: Self})

	if dir.ScanAgain != core.HereAndBelow {
		t.Fatalf("expected dir.ScanAgain == HereAndBelow, got %v", dir.ScanAgain)
	}
}

func TestApplyDescendantsRequirementForcesHereAndBelow(t *testing.T) {
	root := core.NewSyncNode("", core.NodeTypeFolder, nil)
	dir := core.NewSyncNode("dir", core.NodeTypeFolder, root)
	root.AddChild(dir)

	c := New("", nil)
	c.Apply(Event{Anchor: root, RelativePath: path.LocalPath("dir"), Requirement: Descendants})

	if dir.ScanAgain != core.HereAndBelow {
		t.Fatalf("expected dir.ScanAgain == HereAndBelow, got %v", dir.ScanAgain)
	}
}

func TestApplyDropsDebrisDirectoryEvents(t *testing.T) {
	root := core.NewSyncNode("", core.NodeTypeFolder, nil)
	debris := core.NewSyncNode(".debris", core.NodeTypeFolder, root)
	root.AddChild(debris)

	c := New(path.LocalPath(".debris"), nil)
	c.Apply(Event{Anchor: root, RelativePath: path.LocalPath(".debris/removed.txt"), Requirement: Self})

	if debris.ScanAgain != core.Resolved {
		t.Fatalf("expected debris event to be dropped, got ScanAgain=%v", debris.ScanAgain)
	}
}

func TestApplyAbsorbsSelfNotification(t *testing.T) {
	root := core.NewSyncNode("", core.NodeTypeFolder, nil)
	child := core.NewSyncNode("a.txt", core.NodeTypeFile, root)
	root.AddChild(child)
	child.ExpectSelfNotifications(1)

	c := New("", nil)
	c.Apply(Event{Anchor: child, RelativePath: "", Requirement: Self})

	if child.ScanAgain != core.Resolved {
		t.Fatalf("expected self-notification to be absorbed without marking ScanAgain, got %v", child.ScanAgain)
	}
	if child.AbsorbSelfNotification() {
		t.Fatal("expected the single expected self-notification to already be consumed")
	}
}

func TestApplyRepeatedEventsCoalesceViaMergeLattice(t *testing.T) {
	root := core.NewSyncNode("", core.NodeTypeFolder, nil)
	child := core.NewSyncNode("a.txt", core.NodeTypeFile, root)
	root.AddChild(child)

	c := New("", nil)
	c.Apply(Event{Anchor: root, RelativePath: path.LocalPath("a.txt"), Requirement: Self})
	// A second, weaker-looking event should never downgrade an existing
	// HereAndBelow back to Here.
	child.ScanAgain = core.HereAndBelow
	c.Apply(Event{Anchor: root, RelativePath: path.LocalPath("a.txt"), Requirement: Self})

	if child.ScanAgain != core.HereAndBelow {
		t.Fatalf("expected ScanAgain to remain HereAndBelow, got %v", child.ScanAgain)
	}
}
