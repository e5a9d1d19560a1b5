package reconcile

import (
	"github.com/cloudsync/synccore/pkg/core"
	"github.com/cloudsync/synccore/pkg/synccache"
)

// The four sync-node-only row actions need no network or filesystem I/O
// (spec §4.7 Step B rows 1, 7, 8 once fingerprints already agree, and 10)
// and are applied to the sync-node tree immediately, inline in the
// reconciler (reconciler.go). Upload,
// Download, and the two delete actions are different: they need the
// orchestrator to actually move bytes or remove an entry before the
// sync-node's bookkeeping can be safely updated to reflect it. The
// functions below are the completion hooks the orchestrator calls once its
// CloudClient/filesystem operation for a dispatched Action finishes,
// mirroring the RareFields in-progress tokens that guard against
// re-dispatching the same operation on an intervening pass.

// ApplyUploadResult records that row's upload completed successfully: the
// sync-node's identity now reflects the cloud handle it was written to and
// the fingerprint that was sent.
func ApplyUploadResult(cache *synccache.Cache, sync *core.SyncNode, handle core.Handle, fp core.Fingerprint) {
	cache.Unindex(sync)
	sync.LastSyncedHandle = handle
	sync.LastSyncedFingerprint = fp
	if sync.Rare != nil {
		sync.Rare.UploadInProgress = ""
	}
	cache.Index(sync)
}

// ApplyDownloadResult is ApplyUploadResult's mirror for a completed
// download: the sync-node's identity now reflects the filesystem entry it
// was written to.
func ApplyDownloadResult(cache *synccache.Cache, sync *core.SyncNode, fsid core.Fsid, fp core.Fingerprint) {
	cache.Unindex(sync)
	sync.LastSyncedFsid = fsid
	sync.SetScannedFsid(fsid)
	sync.LastSyncedFingerprint = fp
	if sync.Rare != nil {
		sync.Rare.DownloadInProgress = ""
	}
	cache.Index(sync)
}

// ApplyDeleteFsResult records that the filesystem-side copy was removed
// (spec §4.7 Step B row 6's confirmed-deletion branch): the sync-node loses
// its filesystem identity but survives, still synced to the cloud.
func ApplyDeleteFsResult(cache *synccache.Cache, sync *core.SyncNode) {
	cache.Unindex(sync)
	sync.LastSyncedFsid = core.FsidUndefined
	sync.SetScannedFsid(core.FsidUndefined)
	if sync.Rare != nil {
		sync.Rare.DeleteInProgressToken = ""
	}
	cache.Index(sync)
}

// ApplyDeleteCloudResult is ApplyDeleteFsResult's mirror for a confirmed
// cloud-side deletion (spec §4.7 Step B row 5).
func ApplyDeleteCloudResult(cache *synccache.Cache, sync *core.SyncNode) {
	cache.Unindex(sync)
	sync.LastSyncedHandle = 0
	if sync.Rare != nil {
		sync.Rare.DeleteInProgressToken = ""
	}
	cache.Index(sync)
}
