package orchestrator

import (
	"fmt"
	"os"
	"time"

	"github.com/cloudsync/synccore/pkg/core"
	"github.com/cloudsync/synccore/pkg/reconcile"
	"github.com/cloudsync/synccore/pkg/scan"
	"github.com/cloudsync/synccore/pkg/stall"
	"github.com/cloudsync/synccore/pkg/synccore"
)

// debrisSubdir is the per-sync hidden directory deleted/overwritten local
// files are moved into rather than being removed outright (glossary:
// "Debris"), with a dated subfolder per calendar day.
const debrisSubdir = ".megabackup/debris"

// stagingSubdir holds in-flight downloads until they've completed and can
// be moved into their final location (spec §4.7 Step B row actions,
// spec §4.9's moving-download-to-target stall reason).
const stagingSubdir = ".megabackup/staging"

// dispatch executes one reconciler Action against the CloudClient and the
// local filesystem. I/O-bound actions (uploads, downloads, cloud moves and
// deletions) are handed off asynchronously and their completion is
// delivered back onto the orchestrator's inbox as a closure (spec §9's
// design note: "Completion callbacks... modeled as messages on the
// orchestrator's inbox, not as direct mutations — this prevents reentrancy
// into the reconciler"). Purely local filesystem operations (moving a file
// to debris, renaming in place, relocating a finished download out of
// staging) have no network-client analogue and are applied synchronously
// since they are fast local operations the reconciler's own invariants
// already serialize one at a time.
func (o *Orchestrator) dispatch(s *Sync, a reconcile.Action) {
	switch a.Kind {
	case reconcile.ActionUpload:
		o.dispatchUpload(s, a.Row)
	case reconcile.ActionDownload:
		o.dispatchDownload(s, a.Row)
	case reconcile.ActionDeleteFs:
		o.dispatchDeleteFs(s, a.Row)
	case reconcile.ActionDeleteCloud:
		o.dispatchDeleteCloud(s, a.Row)
	case reconcile.ActionMove:
		o.dispatchMove(s, a.Row, a.Move)
	case reconcile.ActionConflictStall:
		s.Stall.RecordLocalStall(string(a.Row.Sync.Path()), stall.ConflictBothSidesChanged)
		s.Stall.RecordCloudStall(string(a.Row.Sync.Path()), stall.ConflictBothSidesChanged)
	case reconcile.ActionBackupModified:
		s.Fail(synccore.ErrorCodeBackupModified, fmt.Sprintf("cloud-side divergence at %q", a.Row.Name))
	}
}

func (o *Orchestrator) dispatchUpload(s *Sync, row *core.Triplet) {
	sync := row.Sync
	parent := sync.Parent
	if parent == nil || !parent.LastSyncedHandle.Valid() {
		s.Stall.RecordLocalStall(string(sync.Path()), stall.UpsyncNeedsTargetFolder)
		return
	}
	local := localPath(s, sync)
	fp := row.Fs.Fingerprint
	ch := o.client(s).StartUpload(o.ctx, local, parent.LastSyncedHandle, sync.LocalName, fp)
	go func() {
		result := <-ch
		o.inbox <- func() {
			if sync.Rare != nil {
				sync.Rare.UploadInProgress = ""
			}
			if result.Err != nil {
				s.logger.Warnf("upload of %q failed: %v", local, result.Err)
				return
			}
			reconcile.ApplyUploadResult(s.Cache, sync, result.Handle, fp)
			if err := s.Persistence.QueueUpsert(sync, databaseIDOf(sync.Parent)); err != nil {
				s.logger.Warnf("unable to queue sync-cache upsert for %q: %v", local, err)
			}
			sync.ExpectSelfNotifications(1)
		}
	}()
}

func (o *Orchestrator) dispatchDownload(s *Sync, row *core.Triplet) {
	sync := row.Sync
	stagingPath := s.LocalRoot + string(os.PathSeparator) + stagingSubdir + string(os.PathSeparator) + sync.ShortName + sync.LocalName
	if err := os.MkdirAll(s.LocalRoot+string(os.PathSeparator)+stagingSubdir, 0o700); err != nil {
		s.logger.Warnf("unable to create staging directory: %v", err)
		return
	}
	handle := row.Cloud.Handle
	if handle == 0 && sync.LastSyncedHandle.Valid() {
		handle = sync.LastSyncedHandle
	}
	ch := o.client(s).StartDownload(o.ctx, handle, stagingPath)
	final := localPath(s, sync)
	go func() {
		err := <-ch
		o.inbox <- func() {
			if sync.Rare != nil {
				sync.Rare.DownloadInProgress = ""
			}
			if err != nil {
				s.logger.Warnf("download of %q failed: %v", final, err)
				return
			}
			if err := os.Rename(stagingPath, final); err != nil {
				s.logger.Warnf("unable to move downloaded %q into place: %v", final, err)
				s.Stall.RecordLocalStall(string(sync.Path()), stall.MovingDownloadToTarget)
				return
			}
			sync.ExpectSelfNotifications(2)
			entry := scan.StatEntry(final, s.logger)
			reconcile.ApplyDownloadResult(s.Cache, sync, entry.Fsid, entry.Fingerprint)
			if err := s.Persistence.QueueUpsert(sync, databaseIDOf(sync.Parent)); err != nil {
				s.logger.Warnf("unable to queue sync-cache upsert for %q: %v", final, err)
			}
		}
	}()
}

func (o *Orchestrator) dispatchDeleteFs(s *Sync, row *core.Triplet) {
	sync := row.Sync
	local := localPath(s, sync)
	if err := moveToDebris(s, local); err != nil {
		s.logger.Warnf("unable to move %q to debris: %v", local, err)
		return
	}
	sync.ExpectSelfNotifications(1)
	reconcile.ApplyDeleteFsResult(s.Cache, sync)
	if err := s.Persistence.QueueUpsert(sync, databaseIDOf(sync.Parent)); err != nil {
		s.logger.Warnf("unable to queue sync-cache upsert for %q: %v", local, err)
	}
}

func (o *Orchestrator) dispatchDeleteCloud(s *Sync, row *core.Triplet) {
	sync := row.Sync
	handle := sync.LastSyncedHandle
	ch := o.client(s).MoveToDebris(o.ctx, handle, false)
	go func() {
		err := <-ch
		o.inbox <- func() {
			if sync.Rare != nil {
				sync.Rare.DeleteInProgressToken = ""
			}
			if err != nil {
				s.logger.Warnf("cloud deletion of handle %d failed: %v", handle, err)
				return
			}
			reconcile.ApplyDeleteCloudResult(s.Cache, sync)
			if err := s.Persistence.QueueUpsert(sync, databaseIDOf(sync.Parent)); err != nil {
				s.logger.Warnf("unable to queue sync-cache upsert after cloud deletion: %v", err)
			}
		}
	}()
}

func (o *Orchestrator) dispatchMove(s *Sync, row *core.Triplet, move *reconcile.MoveInstruction) {
	sync := row.Sync
	token := sync.Rare.PendingMove

	if !move.Cloud {
		// Cloud move: the cloud side already moved; the orchestrator's job
		// is to rename the local file to match (spec §4.8).
		oldLocal := sourcePath(s, move)
		newLocal := localPath(s, sync)
		if err := os.Rename(oldLocal, newLocal); err != nil {
			s.logger.Warnf("unable to apply cloud move locally (%q -> %q): %v", oldLocal, newLocal, err)
			reconcile.CompleteMove(token, false)
			return
		}
		sync.ExpectSelfNotifications(1)
		reconcile.CompleteMove(token, true)
		if err := s.Persistence.QueueUpsert(sync, databaseIDOf(sync.Parent)); err != nil {
			s.logger.Warnf("unable to queue sync-cache upsert after move: %v", err)
		}
		return
	}

	// Local move: the filesystem side already moved; tell the cloud.
	destParentHandle := move.DestinationParent.LastSyncedHandle
	if !destParentHandle.Valid() {
		s.Stall.RecordCloudStall(string(sync.Path()), stall.MoveNeedsOtherSideParent)
		return
	}
	ch := o.client(s).Move(o.ctx, token.SourceSyncNode.LastSyncedHandle, destParentHandle, move.DestinationName)
	go func() {
		err := <-ch
		o.inbox <- func() {
			reconcile.CompleteMove(token, err == nil)
			if err != nil {
				s.logger.Warnf("cloud move failed: %v", err)
				return
			}
			if err := s.Persistence.QueueUpsert(sync, databaseIDOf(sync.Parent)); err != nil {
				s.logger.Warnf("unable to queue sync-cache upsert after move: %v", err)
			}
		}
	}()
}

// sourcePath reconstructs a move's pre-move local path from the
// MoveInstruction's snapshot of the row's old parent and leaf name, taken
// before BeginMove relocated the sync-node in-memory (reconcile.MoveInstruction's
// SourceParent/SourceName). The row's sync-node itself no longer reflects
// this position, so it can't be read back off the (already-relocated) node.
func sourcePath(s *Sync, move *reconcile.MoveInstruction) string {
	if move.SourceParent == nil {
		return s.LocalRoot + string(os.PathSeparator) + move.SourceName
	}
	return localPath(s, move.SourceParent) + string(os.PathSeparator) + move.SourceName
}

// moveToDebris relocates a local path into this sync's dated debris
// subdirectory rather than deleting it outright (glossary: "Debris").
func moveToDebris(s *Sync, local string) error {
	day := time.Now().Format("2006-01-02")
	dir := s.LocalRoot + string(os.PathSeparator) + debrisSubdir + string(os.PathSeparator) + day
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	dest := dir + string(os.PathSeparator) + fmt.Sprintf("%d-%s", time.Now().UnixNano(), baseName(local))
	return os.Rename(local, dest)
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == os.PathSeparator {
			return p[i+1:]
		}
	}
	return p
}

func databaseIDOf(n *core.SyncNode) uint64 {
	if n == nil {
		return 0
	}
	return n.DatabaseID
}
