package reconcile

import (
	"testing"

	"github.com/cloudsync/synccore/pkg/core"
	"github.com/cloudsync/synccore/pkg/core/path"
)

func TestBuildRows_PairsByIdentityOverName(t *testing.T) {
	root := core.NewSyncNode("", core.NodeTypeFolder, nil)
	sync := core.NewSyncNode("report.txt", core.NodeTypeFile, root)
	sync.LastSyncedHandle = core.Handle(7)
	sync.LastSyncedFsid = core.NewFsid(42)
	root.AddChild(sync)

	// The cloud side renamed the display case but kept the same handle; the
	// filesystem entry keeps the original name. Identity pairing must win
	// over a literal name match.
	cloud := []*core.CloudNode{{Handle: core.Handle(7), Name: "Report.txt", Type: core.NodeTypeFile}}
	fs := map[string]*core.FsNode{
		"report.txt": {Name: "report.txt", Fsid: core.NewFsid(42), Type: core.NodeTypeFile},
	}

	rows := BuildRows(root, cloud, fs, path.CaseSensitive)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d: %+v", len(rows), rows)
	}
	row := rows[0]
	if row.Sync != sync || row.Cloud != cloud[0] || row.Fs != fs["report.txt"] {
		t.Fatalf("row did not pair by identity: %+v", row)
	}
}

func TestBuildRows_FallsBackToNameWithoutIdentity(t *testing.T) {
	root := core.NewSyncNode("", core.NodeTypeFolder, nil)
	sync := core.NewSyncNode("notes.txt", core.NodeTypeFile, root)
	root.AddChild(sync)

	cloud := []*core.CloudNode{{Handle: core.Handle(99), Name: "notes.txt", Type: core.NodeTypeFile}}
	fs := map[string]*core.FsNode{
		"notes.txt": {Name: "notes.txt", Type: core.NodeTypeFile},
	}

	rows := BuildRows(root, cloud, fs, path.CaseSensitive)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.Cloud == nil || row.Fs == nil {
		t.Fatalf("expected name fallback to pair both sides, got %+v", row)
	}
}

func TestBuildRows_UnmatchedEntriesBecomeSeparateRows(t *testing.T) {
	root := core.NewSyncNode("", core.NodeTypeFolder, nil)
	cloud := []*core.CloudNode{{Handle: core.Handle(1), Name: "only-cloud.txt", Type: core.NodeTypeFile}}
	fs := map[string]*core.FsNode{
		"only-fs.txt": {Name: "only-fs.txt", Type: core.NodeTypeFile},
	}

	rows := BuildRows(root, cloud, fs, path.CaseSensitive)
	if len(rows) != 2 {
		t.Fatalf("expected 2 independent rows, got %d: %+v", len(rows), rows)
	}
	var sawCloudOnly, sawFsOnly bool
	for _, row := range rows {
		if row.Cloud != nil && row.Fs == nil {
			sawCloudOnly = true
		}
		if row.Fs != nil && row.Cloud == nil {
			sawFsOnly = true
		}
	}
	if !sawCloudOnly || !sawFsOnly {
		t.Fatalf("expected one cloud-only and one fs-only row, got %+v", rows)
	}
}

func TestBuildRows_ShortNameMatchesScannerAlias(t *testing.T) {
	root := core.NewSyncNode("", core.NodeTypeFolder, nil)
	sync := core.NewSyncNode("averylongfilename.txt", core.NodeTypeFile, root)
	root.AddChild(sync)

	fs := map[string]*core.FsNode{
		"averyl~1.txt": {Name: "averyl~1.txt", ShortName: "averylongfilename.txt", Type: core.NodeTypeFile},
	}

	rows := BuildRows(root, nil, fs, path.CaseSensitive)
	if len(rows) != 1 || rows[0].Fs == nil {
		t.Fatalf("expected the short-name alias to pair with the sync-node, got %+v", rows)
	}
}
