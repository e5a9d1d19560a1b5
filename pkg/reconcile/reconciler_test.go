package reconcile

import (
	"testing"
	"time"

	"github.com/cloudsync/synccore/pkg/core"
	"github.com/cloudsync/synccore/pkg/core/path"
	"github.com/cloudsync/synccore/pkg/logging"
	"github.com/cloudsync/synccore/pkg/stall"
	"github.com/cloudsync/synccore/pkg/synccache"
)

// fakeDirSource is a test double implementing DirSource over plain maps
// keyed by directory SyncNode, standing in for the orchestrator's real
// cloud-client/scanner-backed implementation.
type fakeDirSource struct {
	cloud map[*core.SyncNode][]*core.CloudNode
	fs    map[*core.SyncNode]map[string]*core.FsNode
	fresh map[*core.SyncNode]bool
}

func newFakeDirSource() *fakeDirSource {
	return &fakeDirSource{
		cloud: make(map[*core.SyncNode][]*core.CloudNode),
		fs:    make(map[*core.SyncNode]map[string]*core.FsNode),
		fresh: make(map[*core.SyncNode]bool),
	}
}

func (f *fakeDirSource) Cloud(dir *core.SyncNode) ([]*core.CloudNode, error) {
	return f.cloud[dir], nil
}

func (f *fakeDirSource) Fs(dir *core.SyncNode) (map[string]*core.FsNode, bool, error) {
	fresh, ok := f.fresh[dir]
	if !ok {
		fresh = true
	}
	return f.fs[dir], fresh, nil
}

func newTestReconciler(src *fakeDirSource) (*Reconciler, *core.SyncNode) {
	root := core.NewSyncNode("", core.NodeTypeFolder, nil)
	cache := synccache.New()
	detector := stall.New('/')
	r := New(src, src, cache, detector, path.CaseSensitive, logging.RootLogger)
	return r, root
}

var refTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func fp(size int64, t time.Time) core.Fingerprint {
	return core.Fingerprint{Size: size, ModTime: t, HasChecksum: true, Checksum: [16]byte{byte(size)}}
}

func TestReconciler_AllPresentUnchanged_MarksSynced(t *testing.T) {
	src := newFakeDirSource()
	r, root := newTestReconciler(src)

	f := fp(10, refTime)
	sync := core.NewSyncNode("a.txt", core.NodeTypeFile, root)
	sync.LastSyncedFingerprint = f
	sync.LastSyncedHandle = core.Handle(1)
	sync.LastSyncedFsid = core.NewFsid(1)
	root.AddChild(sync)

	src.cloud[root] = []*core.CloudNode{{Handle: 1, Name: "a.txt", Type: core.NodeTypeFile, Fingerprint: f}}
	src.fs[root] = map[string]*core.FsNode{"a.txt": {Name: "a.txt", Fsid: core.NewFsid(1), Type: core.NodeTypeFile, Fingerprint: f}}

	actions, err := r.Run(root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionMarkSynced {
		t.Fatalf("expected a single ActionMarkSynced, got %+v", actions)
	}
}

func TestReconciler_FsChanged_UploadsAfterStabilityWindow(t *testing.T) {
	src := newFakeDirSource()
	r, root := newTestReconciler(src)

	oldFp := fp(10, refTime)
	newFp := fp(20, refTime.Add(time.Hour))

	sync := core.NewSyncNode("a.txt", core.NodeTypeFile, root)
	sync.LastSyncedFingerprint = oldFp
	sync.LastSyncedHandle = core.Handle(1)
	sync.LastSyncedFsid = core.NewFsid(1)
	root.AddChild(sync)

	src.cloud[root] = []*core.CloudNode{{Handle: 1, Name: "a.txt", Type: core.NodeTypeFile, Fingerprint: oldFp}}
	src.fs[root] = map[string]*core.FsNode{"a.txt": {Name: "a.txt", Fsid: core.NewFsid(1), Type: core.NodeTypeFile, Fingerprint: newFp}}

	clock := refTime
	r.now = func() time.Time { return clock }

	actions, err := r.Run(root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionWait {
		t.Fatalf("expected the first pass to wait for stability, got %+v", actions)
	}

	clock = clock.Add(4 * time.Second)
	actions, err = r.Run(root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionUpload {
		t.Fatalf("expected an upload once the file settled, got %+v", actions)
	}
	if sync.Rare == nil || sync.Rare.UploadInProgress == "" {
		t.Fatalf("expected the upload in-progress token to be set")
	}
}

func TestReconciler_UploadAlreadyInProgress_SkipsRedispatch(t *testing.T) {
	src := newFakeDirSource()
	r, root := newTestReconciler(src)

	oldFp := fp(10, refTime)
	newFp := fp(20, refTime.Add(time.Hour))

	sync := core.NewSyncNode("a.txt", core.NodeTypeFile, root)
	sync.LastSyncedFingerprint = oldFp
	sync.LastSyncedHandle = core.Handle(1)
	sync.LastSyncedFsid = core.NewFsid(1)
	sync.EnsureRare().UploadInProgress = "xfer-1"
	root.AddChild(sync)

	src.cloud[root] = []*core.CloudNode{{Handle: 1, Name: "a.txt", Type: core.NodeTypeFile, Fingerprint: oldFp}}
	src.fs[root] = map[string]*core.FsNode{"a.txt": {Name: "a.txt", Fsid: core.NewFsid(1), Type: core.NodeTypeFile, Fingerprint: newFp}}

	actions, err := r.Run(root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("expected no new action while an upload is already in flight, got %+v", actions)
	}
	if sync.Rare.UploadInProgress != "xfer-1" {
		t.Fatalf("expected the existing token to be left untouched")
	}
}

func TestReconciler_FsMissingConfirmed_DeletesCloud(t *testing.T) {
	src := newFakeDirSource()
	r, root := newTestReconciler(src)

	sync := core.NewSyncNode("gone.txt", core.NodeTypeFile, root)
	sync.LastSyncedHandle = core.Handle(1)
	sync.LastSyncedFsid = core.NewFsid(1)
	root.AddChild(sync)

	src.cloud[root] = []*core.CloudNode{{Handle: 1, Name: "gone.txt", Type: core.NodeTypeFile}}
	src.fs[root] = map[string]*core.FsNode{}
	src.fresh[root] = true

	actions, err := r.Run(root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionDeleteCloud {
		t.Fatalf("expected a confirmed local deletion to delete the cloud side, got %+v", actions)
	}
}

func TestReconciler_FsMissingNeverSynced_DownloadsInstead(t *testing.T) {
	src := newFakeDirSource()
	r, root := newTestReconciler(src)

	// LastSyncedFsid left invalid: this row's first download never
	// completed, so its absence from the fs listing must not be read as a
	// confirmed deletion.
	sync := core.NewSyncNode("pending.txt", core.NodeTypeFile, root)
	sync.LastSyncedHandle = core.Handle(1)
	root.AddChild(sync)

	src.cloud[root] = []*core.CloudNode{{Handle: 1, Name: "pending.txt", Type: core.NodeTypeFile}}
	src.fs[root] = map[string]*core.FsNode{}
	src.fresh[root] = true

	actions, err := r.Run(root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionDownload {
		t.Fatalf("expected a download rather than destroying an unsynced node, got %+v", actions)
	}
}

func TestReconciler_CloudMissingConfirmed_DeletesFs(t *testing.T) {
	src := newFakeDirSource()
	r, root := newTestReconciler(src)

	sync := core.NewSyncNode("gone.txt", core.NodeTypeFile, root)
	sync.LastSyncedHandle = core.Handle(1)
	sync.LastSyncedFsid = core.NewFsid(1)
	root.AddChild(sync)

	src.cloud[root] = nil
	src.fs[root] = map[string]*core.FsNode{"gone.txt": {Name: "gone.txt", Fsid: core.NewFsid(1), Type: core.NodeTypeFile}}

	actions, err := r.Run(root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionDeleteFs {
		t.Fatalf("expected a confirmed cloud deletion to delete the fs side, got %+v", actions)
	}
}

func TestReconciler_CloudMissingNeverSynced_UploadsInstead(t *testing.T) {
	src := newFakeDirSource()
	r, root := newTestReconciler(src)

	sync := core.NewSyncNode("pending.txt", core.NodeTypeFile, root)
	sync.LastSyncedFsid = core.NewFsid(1)
	root.AddChild(sync)

	src.cloud[root] = nil
	src.fs[root] = map[string]*core.FsNode{"pending.txt": {Name: "pending.txt", Fsid: core.NewFsid(1), Type: core.NodeTypeFile}}

	r.now = func() time.Time { return refTime }
	actions, err := r.Run(root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionWait {
		t.Fatalf("expected an upload attempt (gated on stability) rather than a deletion, got %+v", actions)
	}
}

func TestReconciler_BothMissing_DeletesSyncNode(t *testing.T) {
	src := newFakeDirSource()
	r, root := newTestReconciler(src)

	sync := core.NewSyncNode("ghost.txt", core.NodeTypeFile, root)
	root.AddChild(sync)

	src.cloud[root] = nil
	src.fs[root] = map[string]*core.FsNode{}

	actions, err := r.Run(root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionDeleteSyncNode {
		t.Fatalf("expected ActionDeleteSyncNode, got %+v", actions)
	}
	if root.ChildByName("ghost.txt") != nil {
		t.Fatalf("expected the sync-node to be removed from the tree")
	}
}

func TestReconciler_CloudAndFsNoSync_AdoptsWhenMatching(t *testing.T) {
	src := newFakeDirSource()
	r, root := newTestReconciler(src)

	f := fp(5, refTime)
	src.cloud[root] = []*core.CloudNode{{Handle: 1, Name: "new.txt", Type: core.NodeTypeFile, Fingerprint: f}}
	src.fs[root] = map[string]*core.FsNode{"new.txt": {Name: "new.txt", Fsid: core.NewFsid(1), Type: core.NodeTypeFile, Fingerprint: f}}

	actions, err := r.Run(root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionAdoptSynced {
		t.Fatalf("expected ActionAdoptSynced, got %+v", actions)
	}
	if root.ChildByName("new.txt") == nil {
		t.Fatalf("expected a sync-node to be created")
	}
}

func TestReconciler_CloudAndFsNoSync_CloudWinsDownloads(t *testing.T) {
	src := newFakeDirSource()
	r, root := newTestReconciler(src)

	cloudFp := fp(5, refTime.Add(time.Hour))
	fsFp := fp(5, refTime)

	src.cloud[root] = []*core.CloudNode{{Handle: 1, Name: "new.txt", Type: core.NodeTypeFile, Fingerprint: cloudFp}}
	src.fs[root] = map[string]*core.FsNode{"new.txt": {Name: "new.txt", Fsid: core.NewFsid(1), Type: core.NodeTypeFile, Fingerprint: fsFp}}

	actions, err := r.Run(root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionDownload {
		t.Fatalf("expected the newer cloud fingerprint to win via download, got %+v", actions)
	}
}

func TestReconciler_CloudOnly_Downloads(t *testing.T) {
	src := newFakeDirSource()
	r, root := newTestReconciler(src)

	src.cloud[root] = []*core.CloudNode{{Handle: 1, Name: "only-cloud.txt", Type: core.NodeTypeFile}}
	src.fs[root] = map[string]*core.FsNode{}

	actions, err := r.Run(root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionDownload {
		t.Fatalf("expected ActionDownload, got %+v", actions)
	}
	created := root.ChildByName("only-cloud.txt")
	if created == nil || created.LastSyncedHandle != 1 {
		t.Fatalf("expected a sync-node adopting the cloud handle, got %+v", created)
	}
}

func TestReconciler_FsOnly_CreatesSyncNode(t *testing.T) {
	src := newFakeDirSource()
	r, root := newTestReconciler(src)

	src.cloud[root] = nil
	src.fs[root] = map[string]*core.FsNode{"only-fs.txt": {Name: "only-fs.txt", Fsid: core.NewFsid(5), Type: core.NodeTypeFile}}

	actions, err := r.Run(root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionCreateSyncNodeFromFs {
		t.Fatalf("expected ActionCreateSyncNodeFromFs, got %+v", actions)
	}
	if root.ChildByName("only-fs.txt") == nil {
		t.Fatalf("expected a sync-node to be created")
	}
}

func TestReconciler_BothChanged_ConflictStall(t *testing.T) {
	src := newFakeDirSource()
	r, root := newTestReconciler(src)

	orig := fp(5, refTime)
	cloudFp := fp(6, refTime.Add(time.Hour))
	fsFp := fp(7, refTime.Add(2*time.Hour))

	sync := core.NewSyncNode("c.txt", core.NodeTypeFile, root)
	sync.LastSyncedFingerprint = orig
	sync.LastSyncedHandle = core.Handle(1)
	sync.LastSyncedFsid = core.NewFsid(1)
	root.AddChild(sync)

	src.cloud[root] = []*core.CloudNode{{Handle: 1, Name: "c.txt", Type: core.NodeTypeFile, Fingerprint: cloudFp}}
	src.fs[root] = map[string]*core.FsNode{"c.txt": {Name: "c.txt", Fsid: core.NewFsid(1), Type: core.NodeTypeFile, Fingerprint: fsFp}}

	actions, err := r.Run(root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionConflictStall {
		t.Fatalf("expected ActionConflictStall, got %+v", actions)
	}
}

func TestReconciler_BackupMode_RefusesDownload(t *testing.T) {
	src := newFakeDirSource()
	r, root := newTestReconciler(src)
	r.Backup = true

	src.cloud[root] = []*core.CloudNode{{Handle: 1, Name: "only-cloud.txt", Type: core.NodeTypeFile}}
	src.fs[root] = map[string]*core.FsNode{}

	actions, err := r.Run(root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionBackupModified {
		t.Fatalf("expected ActionBackupModified, got %+v", actions)
	}
}

func TestReconciler_BackupMode_StillUploads(t *testing.T) {
	src := newFakeDirSource()
	r, root := newTestReconciler(src)
	r.Backup = true

	src.cloud[root] = nil
	src.fs[root] = map[string]*core.FsNode{"local-only.txt": {Name: "local-only.txt", Fsid: core.NewFsid(1), Type: core.NodeTypeFile}}

	actions, err := r.Run(root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != ActionCreateSyncNodeFromFs {
		t.Fatalf("expected backup mode to still push local-only content, got %+v", actions)
	}
}

// TestReconciler_LocalMove_DetectedAndRelocated exercises the full Run path
// for a move: doc.txt disappears from src's filesystem listing and
// reappears, under the same fsid, in a subdirectory of src. The move-check
// phase must detect this before the row-action phase ever sees it, and the
// relocation must land before the destination directory's own pass runs
// (spec §4.8).
func TestReconciler_LocalMove_DetectedAndRelocated(t *testing.T) {
	src := newFakeDirSource()
	r, root := newTestReconciler(src)

	srcDir := core.NewSyncNode("src", core.NodeTypeFolder, root)
	srcDir.LastSyncedHandle = core.Handle(100)
	srcDir.LastSyncedFsid = core.NewFsid(200)
	root.AddChild(srcDir)

	subdir := core.NewSyncNode("subdir", core.NodeTypeFolder, srcDir)
	subdir.LastSyncedHandle = core.Handle(300)
	subdir.LastSyncedFsid = core.NewFsid(400)
	srcDir.AddChild(subdir)

	doc := core.NewSyncNode("doc.txt", core.NodeTypeFile, srcDir)
	doc.LastSyncedFsid = core.NewFsid(77)
	doc.LastSyncedHandle = core.Handle(5)
	srcDir.AddChild(doc)

	// Root: the src folder itself is unchanged on every side.
	src.cloud[root] = []*core.CloudNode{{Handle: 100, Name: "src", Type: core.NodeTypeFolder}}
	src.fs[root] = map[string]*core.FsNode{"src": {Name: "src", Fsid: core.NewFsid(200), Type: core.NodeTypeFolder}}

	// Inside src: subdir is unchanged; doc.txt vanished from the fs listing
	// (it moved away) but the cloud side still reports it at the old
	// location.
	src.cloud[srcDir] = []*core.CloudNode{
		{Handle: 300, Name: "subdir", Type: core.NodeTypeFolder},
		{Handle: 5, Name: "doc.txt", Type: core.NodeTypeFile},
	}
	src.fs[srcDir] = map[string]*core.FsNode{
		"subdir": {Name: "subdir", Fsid: core.NewFsid(400), Type: core.NodeTypeFolder},
	}

	// Inside subdir: doc.txt has reappeared under the same fsid.
	src.cloud[subdir] = nil
	src.fs[subdir] = map[string]*core.FsNode{
		"doc.txt": {Name: "doc.txt", Fsid: core.NewFsid(77), Type: core.NodeTypeFile},
	}

	actions, err := r.Run(root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var move *Action
	for i := range actions {
		if actions[i].Kind == ActionMove {
			move = &actions[i]
		}
	}
	if move == nil {
		t.Fatalf("expected an ActionMove among %+v", actions)
	}
	if !move.Move.Cloud || move.Move.DestinationParent != subdir || move.Move.DestinationName != "doc.txt" {
		t.Fatalf("unexpected move instruction: %+v", move.Move)
	}

	if srcDir.ChildByName("doc.txt") != nil {
		t.Fatalf("expected doc.txt removed from its old parent")
	}
	if subdir.ChildByName("doc.txt") != doc {
		t.Fatalf("expected doc.txt relocated under subdir")
	}
	if doc.Rare == nil || doc.Rare.PendingMove == nil {
		t.Fatalf("expected the move to remain pending until CompleteMove is called")
	}
}

func TestHasRemainingWork(t *testing.T) {
	if HasRemainingWork([]Action{{Kind: ActionNone}, {Kind: ActionMarkSynced}}) {
		t.Fatalf("expected no remaining work for none/mark-synced-only actions")
	}
	if !HasRemainingWork([]Action{{Kind: ActionMarkSynced}, {Kind: ActionUpload}}) {
		t.Fatalf("expected an upload to count as remaining work")
	}
}

func TestPromoteBackupIfReady(t *testing.T) {
	src := newFakeDirSource()
	r, root := newTestReconciler(src)
	_ = root
	r.Backup = true
	r.BackupSubstate = BackupSubstateMirror

	r.stall.SetScanCompleteness(true, true)
	r.PromoteBackupIfReady([]Action{{Kind: ActionMarkSynced}})
	if r.BackupSubstate != BackupSubstateMonitor {
		t.Fatalf("expected promotion to monitor substate once a clean pass completes")
	}
}

func TestPromoteBackupIfReady_NotReadyWithRemainingWork(t *testing.T) {
	src := newFakeDirSource()
	r, _ := newTestReconciler(src)
	r.Backup = true
	r.BackupSubstate = BackupSubstateMirror

	r.stall.SetScanCompleteness(true, true)
	r.PromoteBackupIfReady([]Action{{Kind: ActionUpload}})
	if r.BackupSubstate != BackupSubstateMirror {
		t.Fatalf("expected no promotion while work remains")
	}
}
