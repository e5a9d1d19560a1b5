package reconcile

import (
	"time"

	"github.com/cloudsync/synccore/pkg/core"
	"github.com/cloudsync/synccore/pkg/core/path"
	"github.com/cloudsync/synccore/pkg/logging"
	"github.com/cloudsync/synccore/pkg/stall"
	"github.com/cloudsync/synccore/pkg/synccache"
)

// DirSource supplies one directory's cloud and filesystem children. It is
// implemented by the orchestrator atop the cloud client and the scanner's
// cache (spec §4.7 Step A: "Collect cloud children (from the client)... FS
// children (from the last scan or an inferred snapshot)"). fresh reports
// whether the filesystem children reflect a scan that completed this pass,
// as opposed to a carried-over snapshot inferred from cached last-synced
// details — the distinction the deletion-confirmation rule (SPEC_FULL.md
// §11a) depends on.
type DirSource interface {
	Cloud(dir *core.SyncNode) ([]*core.CloudNode, error)
	Fs(dir *core.SyncNode) (children map[string]*core.FsNode, fresh bool, err error)
}

// BackupSubstate is a backup-role sync's lifecycle substate (spec §4.7
// "Backup mode").
type BackupSubstate int

const (
	// BackupSubstateMirror is the substate a fresh backup starts in: the
	// local side is authoritative and the cloud side is overwritten to
	// match it.
	BackupSubstateMirror BackupSubstate = iota
	// BackupSubstateMonitor is entered once a full pass completes with no
	// remaining work; it behaves identically to mirror for action
	// dispatch, differing only as a published lifecycle signal.
	BackupSubstateMonitor
)

// dirSnapshot is one directory's cloud/fs listing, captured once per pass by
// buildIndex and reused by the action-dispatch walk so the two traversals
// never observe different data for the same directory.
type dirSnapshot struct {
	cloud   []*core.CloudNode
	fs      map[string]*core.FsNode
	fsFresh bool
}

// dirFlags accumulates the five propagating flags (spec §3, §4.7 Step C)
// for one directory across its own rows and, after recursion, its
// descendants.
type dirFlags struct {
	ScanAgain       core.FlagState
	CheckMovesAgain core.FlagState
	SyncAgain       core.FlagState
	Conflicts       core.FlagState
	ScanBlocked     core.FlagState
}

func (f *dirFlags) mergeChild(child dirFlags) {
	f.ScanAgain = core.Merge(f.ScanAgain, core.AsAncestor(child.ScanAgain))
	f.CheckMovesAgain = core.Merge(f.CheckMovesAgain, core.AsAncestor(child.CheckMovesAgain))
	f.SyncAgain = core.Merge(f.SyncAgain, core.AsAncestor(child.SyncAgain))
	f.Conflicts = core.Merge(f.Conflicts, core.AsAncestor(child.Conflicts))
	f.ScanBlocked = core.Merge(f.ScanBlocked, core.AsAncestor(child.ScanBlocked))
}

// Reconciler is the core reconciliation engine (spec §4.7): a single-sync,
// single-goroutine tree walker. It decides; it never performs network or
// filesystem I/O (see pkg/reconcile's package doc).
type Reconciler struct {
	cloud  DirSource
	fs     DirSource
	cache  *synccache.Cache
	stall  *stall.Detector
	policy path.CaseSensitivity
	logger *logging.Logger

	stability *stabilityTracker
	moves     *MoveDetector

	// Backup is true for a sync running in backup role, which never
	// modifies the local side (spec §4.7 "Backup mode").
	Backup         bool
	BackupSubstate BackupSubstate

	snapshots map[*core.SyncNode]dirSnapshot

	// now is overridden in tests; defaults to time.Now.
	now func() time.Time
}

// New constructs a Reconciler. cloud and fs may be the same DirSource value
// when a single implementation serves both (the orchestrator's usual case);
// they are accepted separately so tests can fake each independently.
func New(cloud, fs DirSource, cache *synccache.Cache, detector *stall.Detector, policy path.CaseSensitivity, logger *logging.Logger) *Reconciler {
	return &Reconciler{
		cloud:     cloud,
		fs:        fs,
		cache:     cache,
		stall:     detector,
		policy:    policy,
		logger:    logger,
		stability: newStabilityTracker(),
		moves:     NewMoveDetector(),
		now:       time.Now,
	}
}

// Run performs one full reconciliation pass from root, returning the
// actions the orchestrator must execute. The caller is responsible for
// calling detector.BeginPass before Run and detector.EndPass after, since
// those bracket the orchestrator's wider per-tick bookkeeping (spec §4.10).
func (r *Reconciler) Run(root *core.SyncNode) ([]Action, error) {
	r.snapshots = make(map[*core.SyncNode]dirSnapshot)
	index := NewGlobalScanIndex()
	if err := r.buildIndex(root, index); err != nil {
		return nil, err
	}

	var actions []Action
	r.reconcileDirectory(root, index, &actions)
	return actions, nil
}

// buildIndex captures one snapshot per directory already known to the
// synced tree and indexes its children by fsid/handle, giving the move-check
// phase a whole-tree view before any row decides its action (spec §4.7 Step
// B phase 1: "consult the fsid index globally").
func (r *Reconciler) buildIndex(dir *core.SyncNode, index *GlobalScanIndex) error {
	cloudChildren, err := r.cloud.Cloud(dir)
	if err != nil {
		return err
	}
	fsChildren, fresh, err := r.fs.Fs(dir)
	if err != nil {
		return err
	}
	r.snapshots[dir] = dirSnapshot{cloud: cloudChildren, fs: fsChildren, fsFresh: fresh}
	index.IndexCloud(dir, cloudChildren)
	index.IndexFs(dir, fsChildren)

	for _, child := range dir.Children() {
		if child.Type == core.NodeTypeFolder {
			if err := r.buildIndex(child, index); err != nil {
				return err
			}
		}
	}
	return nil
}

// reconcileDirectory runs Step A/B/C for one directory and returns the
// flags it ends up carrying, for its parent to fold in via AsAncestor.
func (r *Reconciler) reconcileDirectory(dir *core.SyncNode, index *GlobalScanIndex, actions *[]Action) dirFlags {
	snap := r.snapshots[dir]
	rows := BuildRows(dir, snap.cloud, snap.fs, r.policy)

	var flags dirFlags

	for _, row := range rows {
		r.checkMove(row, index, &flags, actions)
	}

	for _, row := range rows {
		if row.ProcessedThisPass() || row.Suppressed() {
			continue
		}
		r.resolveRow(row, dir, snap.fsFresh, &flags, actions)
	}

	for _, row := range rows {
		if !row.IsFolder() || row.Suppressed() || row.Sync == nil {
			continue
		}
		if row.Sync.Rare != nil && row.Sync.Rare.PendingMove != nil {
			continue
		}
		if _, known := r.snapshots[row.Sync]; !known {
			// Created this same pass: its own listing hasn't been fetched
			// yet, so recursion waits for the next pass.
			continue
		}
		childFlags := r.reconcileDirectory(row.Sync, index, actions)
		flags.mergeChild(childFlags)
	}

	dir.ScanAgain = flags.ScanAgain
	dir.CheckMovesAgain = flags.CheckMovesAgain
	dir.SyncAgain = flags.SyncAgain
	dir.Conflicts = flags.Conflicts
	dir.ScanBlocked = flags.ScanBlocked
	return flags
}

// checkMove implements Step B phase 1 for one row: if this row's sync-node
// already carries a pending move, recursion and further mutation wait for
// it to clear; otherwise, if its fs or cloud side just disappeared from
// here, look for it reappearing elsewhere under the same identity.
func (r *Reconciler) checkMove(row *core.Triplet, index *GlobalScanIndex, flags *dirFlags, actions *[]Action) {
	if row.Sync == nil {
		return
	}
	if row.Sync.Rare != nil && row.Sync.Rare.PendingMove != nil {
		row.Suppress()
		flags.SyncAgain = core.Merge(flags.SyncAgain, core.Here)
		r.recordWait(row, stall.MoveNeedsDestinationProcessing)
		return
	}

	if row.Fs == nil {
		if match, ok := r.moves.CheckLocal(row, index, r.cache); ok {
			if r.blockedByParentFate(match.DestinationParent) {
				row.Suppress()
				r.recordWait(row, stall.MoveNeedsOtherSideParent)
				return
			}
			*actions = append(*actions, *BeginMove(row, match, true))
			flags.CheckMovesAgain = core.Merge(flags.CheckMovesAgain, core.Here)
			return
		}
	}
	if row.Cloud == nil {
		if match, ok := r.moves.CheckCloud(row, index, r.cache); ok {
			if r.blockedByParentFate(match.DestinationParent) {
				row.Suppress()
				r.recordWait(row, stall.MoveNeedsOtherSideParent)
				return
			}
			*actions = append(*actions, *BeginMove(row, match, false))
			flags.CheckMovesAgain = core.Merge(flags.CheckMovesAgain, core.Here)
			return
		}
	}
}

// blockedByParentFate reports whether a move's destination parent is itself
// awaiting a delete decision, which defers the move per spec §4.8's
// ordering rules ("moves to a destination whose parent is itself a...
// deletion target... wait until the parent's fate is decided").
func (r *Reconciler) blockedByParentFate(parent *core.SyncNode) bool {
	return parent != nil && parent.Rare != nil && parent.Rare.DeleteInProgressToken != ""
}

func (r *Reconciler) recordWait(row *core.Triplet, reason stall.Reason) {
	if row.Fs != nil || row.Sync != nil {
		r.stall.RecordLocalStall(row.Name, reason)
	}
	if row.Cloud != nil {
		r.stall.RecordCloudStall(row.Name, reason)
	}
}

// resolveRow dispatches one row per the Step B row-action table (spec §4.7,
// disambiguated per SPEC_FULL.md §11a).
func (r *Reconciler) resolveRow(row *core.Triplet, dir *core.SyncNode, fsFresh bool, flags *dirFlags, actions *[]Action) {
	switch {
	case row.HasCloud() && row.HasSync() && row.HasFs():
		r.resolveAllPresent(row, dir, flags, actions)
	case row.HasCloud() && row.HasSync() && !row.HasFs():
		r.resolveFsMissing(row, dir, fsFresh, flags, actions)
	case !row.HasCloud() && row.HasSync() && row.HasFs():
		r.resolveCloudMissing(row, dir, flags, actions)
	case !row.HasCloud() && row.HasSync() && !row.HasFs():
		r.deleteSyncNode(dir, row)
		r.emit(row, Action{Kind: ActionDeleteSyncNode, Row: row}, flags, actions, true)
	case row.HasCloud() && !row.HasSync() && row.HasFs():
		r.resolveAdoptOrWinner(row, dir, flags, actions)
	case row.HasCloud() && !row.HasSync() && !row.HasFs():
		r.emitDownload(row, dir, flags, actions)
	case !row.HasCloud() && !row.HasSync() && row.HasFs():
		r.createSyncNodeFromFs(dir, row)
		r.emit(row, Action{Kind: ActionCreateSyncNodeFromFs, Row: row}, flags, actions, true)
	}
}

func (r *Reconciler) resolveAllPresent(row *core.Triplet, dir *core.SyncNode, flags *dirFlags, actions *[]Action) {
	cloudChanged := !row.Cloud.Fingerprint.Equal(row.Sync.LastSyncedFingerprint)
	fsChanged := !row.Fs.Fingerprint.Equal(row.Sync.LastSyncedFingerprint)

	switch {
	case !cloudChanged && !fsChanged:
		r.markSynced(row)
		r.emit(row, Action{Kind: ActionMarkSynced, Row: row}, flags, actions, true)
	case !cloudChanged && fsChanged:
		r.emitUpload(row, dir, flags, actions)
	case cloudChanged && !fsChanged:
		r.emitDownload(row, dir, flags, actions)
	default:
		flags.Conflicts = core.Merge(flags.Conflicts, core.Here)
		*actions = append(*actions, Action{Kind: ActionConflictStall, Row: row})
	}
}

// resolveFsMissing handles cloud✓/sync✓/fs✗ (table row 5), disambiguated in
// SPEC_FULL.md §11a: a confirmed disappearance of a filesystem entry that
// was genuinely synced before deletes the cloud copy; anything else
// (unconfirmed, or this sync-node never had a synced fs side to begin with,
// meaning its first download just hasn't happened yet) recreates locally.
func (r *Reconciler) resolveFsMissing(row *core.Triplet, dir *core.SyncNode, fsFresh bool, flags *dirFlags, actions *[]Action) {
	if fsFresh && row.Sync.LastSyncedFsid.Valid() {
		r.emitDeleteCloud(row, dir, flags, actions)
		return
	}
	r.emitDownload(row, dir, flags, actions)
}

// resolveCloudMissing handles cloud✗/sync✓/fs✓ (table row 6), the mirror of
// resolveFsMissing: cloud listings are always a live, trustworthy read, so
// the only reason to not delete the filesystem copy is that this sync-node
// was never actually synced to the cloud in the first place (its first
// upload is still pending).
func (r *Reconciler) resolveCloudMissing(row *core.Triplet, dir *core.SyncNode, flags *dirFlags, actions *[]Action) {
	if row.Sync.LastSyncedHandle.Valid() {
		r.emitDeleteFs(row, dir, flags, actions)
		return
	}
	r.emitUpload(row, dir, flags, actions)
}

func (r *Reconciler) resolveAdoptOrWinner(row *core.Triplet, dir *core.SyncNode, flags *dirFlags, actions *[]Action) {
	if row.Cloud.Fingerprint.Equal(row.Fs.Fingerprint) {
		r.adoptSynced(dir, row)
		r.emit(row, Action{Kind: ActionAdoptSynced, Row: row}, flags, actions, true)
		return
	}
	if row.Fs.Fingerprint.NewerThan(row.Cloud.Fingerprint) {
		r.emitUpload(row, dir, flags, actions)
		return
	}
	r.emitDownload(row, dir, flags, actions)
}

// emitUpload applies the "file still changing" rate-limiting rule (spec
// §4.7) before committing to an upload, and guards against re-dispatching
// one already outstanding from an earlier pass.
func (r *Reconciler) emitUpload(row *core.Triplet, dir *core.SyncNode, flags *dirFlags, actions *[]Action) {
	if row.Sync != nil && row.Sync.Rare != nil && row.Sync.Rare.UploadInProgress != "" {
		// Already dispatched on an earlier pass; a transfer in flight is
		// forward progress even though this pass has nothing new to do.
		m := r.stall.NewMonitor()
		m.Close()
		return
	}

	key := string(path.AppendRemote(dir.Path(), row.Name))
	outcome := r.stability.Observe(key, row.Fs.Fingerprint.Size, row.Fs.Fingerprint.ModTime, r.now())
	if outcome != stabilityStable {
		flags.SyncAgain = core.Merge(flags.SyncAgain, core.Here)
		r.recordWait(row, stall.WaitingForFileToStopChanging)
		*actions = append(*actions, Action{Kind: ActionWait, Row: row, Reason: stall.WaitingForFileToStopChanging})
		return
	}
	r.stability.Forget(key)

	if row.Sync == nil {
		r.createSyncNodeAdoptingIdentities(dir, row)
	}
	row.Sync.EnsureRare().UploadInProgress = "pending"
	r.emit(row, Action{Kind: ActionUpload, Row: row}, flags, actions, true)
}

func (r *Reconciler) emitDownload(row *core.Triplet, dir *core.SyncNode, flags *dirFlags, actions *[]Action) {
	if r.Backup {
		flags.Conflicts = core.Merge(flags.Conflicts, core.Here)
		*actions = append(*actions, Action{Kind: ActionBackupModified, Row: row})
		r.logger.Warnf("backup sync: refusing cloud-side divergence at %q", row.Name)
		return
	}
	if row.Sync != nil && row.Sync.Rare != nil && row.Sync.Rare.DownloadInProgress != "" {
		m := r.stall.NewMonitor()
		m.Close()
		return
	}
	if row.Sync == nil {
		if row.Fs != nil {
			r.createSyncNodeAdoptingIdentities(dir, row)
		} else {
			r.createSyncNodeFromCloud(dir, row)
		}
	}
	row.Sync.EnsureRare().DownloadInProgress = "pending"
	r.emit(row, Action{Kind: ActionDownload, Row: row}, flags, actions, true)
}

func (r *Reconciler) emitDeleteCloud(row *core.Triplet, dir *core.SyncNode, flags *dirFlags, actions *[]Action) {
	if row.Sync.Rare != nil && row.Sync.Rare.DeleteInProgressToken != "" {
		m := r.stall.NewMonitor()
		m.Close()
		return
	}
	row.Sync.EnsureRare().DeleteInProgressToken = "pending"
	r.emit(row, Action{Kind: ActionDeleteCloud, Row: row}, flags, actions, true)
}

func (r *Reconciler) emitDeleteFs(row *core.Triplet, dir *core.SyncNode, flags *dirFlags, actions *[]Action) {
	if r.Backup {
		flags.Conflicts = core.Merge(flags.Conflicts, core.Here)
		*actions = append(*actions, Action{Kind: ActionBackupModified, Row: row})
		r.logger.Warnf("backup sync: refusing cloud-side deletion at %q", row.Name)
		return
	}
	if row.Sync.Rare != nil && row.Sync.Rare.DeleteInProgressToken != "" {
		m := r.stall.NewMonitor()
		m.Close()
		return
	}
	row.Sync.EnsureRare().DeleteInProgressToken = "pending"
	r.emit(row, Action{Kind: ActionDeleteFs, Row: row}, flags, actions, true)
}

// deleteSyncNode removes bookkeeping for a row with no live copy on either
// side left (spec §4.7 Step B row 7): no I/O is needed, so this applies
// immediately rather than waiting for an orchestrator completion callback.
func (r *Reconciler) deleteSyncNode(dir *core.SyncNode, row *core.Triplet) {
	r.cache.Unindex(row.Sync)
	dir.RemoveChild(row.Sync)
}

// createSyncNodeFromFs creates bookkeeping for a filesystem-only entry
// (spec §4.7 Step B row 10: "create sync-node from fs, next pass
// uploads"). The node is deliberately left with no synced identity yet, so
// next pass's Step A pairs it by name and the normal upload path (now with
// row.Sync present) takes over.
func (r *Reconciler) createSyncNodeFromFs(dir *core.SyncNode, row *core.Triplet) {
	n := core.NewSyncNode(row.Fs.Name, row.Fs.Type, dir)
	n.SetScannedFsid(row.Fs.Fsid)
	dir.AddChild(n)
	r.cache.Index(n)
	row.Sync = n
}

// adoptSynced creates bookkeeping for a cloud+fs pair whose content already
// matches (spec §4.7 Step B row 8's adopt branch): no transfer is needed,
// so the node is fully synced immediately.
func (r *Reconciler) adoptSynced(dir *core.SyncNode, row *core.Triplet) {
	n := core.NewSyncNode(row.Fs.Name, row.Fs.Type, dir)
	n.LastSyncedFsid = row.Fs.Fsid
	n.LastSyncedHandle = row.Cloud.Handle
	n.LastSyncedFingerprint = row.Fs.Fingerprint
	n.SetScannedFsid(row.Fs.Fsid)
	dir.AddChild(n)
	r.cache.Index(n)
	row.Sync = n
}

// createSyncNodeAdoptingIdentities creates bookkeeping for row 8's
// conflicting-winner branches: the fsid and handle are already known (both
// sides exist under this name), but content hasn't converged yet, so the
// fingerprint is left zero until the dispatched upload or download
// completes and calls ApplyUploadResult/ApplyDownloadResult.
func (r *Reconciler) createSyncNodeAdoptingIdentities(dir *core.SyncNode, row *core.Triplet) {
	n := core.NewSyncNode(row.Name, row.Fs.Type, dir)
	n.LastSyncedFsid = row.Fs.Fsid
	n.LastSyncedHandle = row.Cloud.Handle
	n.SetScannedFsid(row.Fs.Fsid)
	dir.AddChild(n)
	r.cache.Index(n)
	row.Sync = n
}

// createSyncNodeFromCloud creates bookkeeping for a cloud-only entry (spec
// §4.7 Step B row 9: "create fs (downsync)"). The filesystem identity is
// left unset until the dispatched download completes and calls
// ApplyDownloadResult with the new entry's fsid.
func (r *Reconciler) createSyncNodeFromCloud(dir *core.SyncNode, row *core.Triplet) {
	n := core.NewSyncNode(row.Cloud.Name, row.Cloud.Type, dir)
	n.LastSyncedHandle = row.Cloud.Handle
	dir.AddChild(n)
	r.cache.Index(n)
	row.Sync = n
}

// markSynced refreshes a fully-agreeing row's identity bookkeeping (spec
// §4.7 Step B row 1: "mark row synced; refresh fsid and handle").
func (r *Reconciler) markSynced(row *core.Triplet) {
	r.cache.Unindex(row.Sync)
	row.Sync.LastSyncedFsid = row.Fs.Fsid
	row.Sync.LastSyncedHandle = row.Cloud.Handle
	row.Sync.SetScannedFsid(row.Fs.Fsid)
	r.cache.Index(row.Sync)
}

// emit appends action to the result list and, when progress is true, tells
// the stall detector this row is not a candidate for the no-progress streak.
func (r *Reconciler) emit(row *core.Triplet, action Action, flags *dirFlags, actions *[]Action, progress bool) {
	*actions = append(*actions, action)
	if progress {
		m := r.stall.NewMonitor()
		m.Close()
	}
}

// HasRemainingWork reports whether any action in a Run result represents
// outstanding work: every kind other than ActionNone and ActionMarkSynced
// counts, including waits and stalls.
func HasRemainingWork(actions []Action) bool {
	for _, a := range actions {
		switch a.Kind {
		case ActionNone, ActionMarkSynced:
			continue
		default:
			return true
		}
	}
	return false
}

// PromoteBackupIfReady advances a mirror-substate backup to monitor once a
// full pass completes with no remaining work (spec §4.7: "promoted to
// monitor substate once a full pass completes without remaining work").
// Call it with the actions the same pass's Run just returned, after
// detector.EndPass.
func (r *Reconciler) PromoteBackupIfReady(actions []Action) {
	if !r.Backup || r.BackupSubstate != BackupSubstateMirror {
		return
	}
	if r.stall.ReachableNodesAllScanned() && r.stall.ScanningWasComplete() && !HasRemainingWork(actions) {
		r.BackupSubstate = BackupSubstateMonitor
	}
}
