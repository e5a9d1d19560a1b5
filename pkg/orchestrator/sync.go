package orchestrator

import (
	"context"

	"github.com/cloudsync/synccore/pkg/configstore"
	"github.com/cloudsync/synccore/pkg/core"
	"github.com/cloudsync/synccore/pkg/core/ignore"
	"github.com/cloudsync/synccore/pkg/core/path"
	"github.com/cloudsync/synccore/pkg/logging"
	"github.com/cloudsync/synccore/pkg/notify"
	"github.com/cloudsync/synccore/pkg/reconcile"
	"github.com/cloudsync/synccore/pkg/stall"
	"github.com/cloudsync/synccore/pkg/synccache"
	"github.com/cloudsync/synccore/pkg/synccore"
)

// Status is one sync's lifecycle status, read directly from Sync.Status by
// the embedding application; no status callback is invoked (spec §4.10
// step 6, §7).
type Status uint8

const (
	// StatusRunning is the normal operating state.
	StatusRunning Status = iota
	// StatusPaused means the user has disabled this sync; the orchestrator
	// skips it entirely (spec §4.10 step 5: "if not paused").
	StatusPaused
	// StatusFailed is a persistent per-sync failure (spec §7 band 2): the
	// reconciler is halted until the user intervenes.
	StatusFailed
	// StatusDisabled is StatusFailed's user-controlled counterpart (spec §7
	// band 2: "DISABLED for user-controlled cases").
	StatusDisabled
)

// Sync holds everything the orchestrator owns for one synchronization root:
// its in-memory cache/tree, reconciliation state, and the bookkeeping the
// tick loop updates every pass (spec §4.10, §3's SyncNode lifecycle: "created
// when first observed, mutated only from the orchestrator").
type Sync struct {
	// ID is this sync's stable configuration identifier (configstore.Entry.ID).
	ID string
	// LocalRoot is the synchronization root on the local filesystem, as an
	// absolute native path.
	LocalRoot string
	// RemoteRoot is the synchronization root's cloud handle.
	RemoteRoot core.Handle
	// CasePolicy governs local name comparisons for this sync's filesystem
	// (spec §4.1).
	CasePolicy path.CaseSensitivity
	// FollowSymlinks is passed through to every scan request for this sync.
	FollowSymlinks bool

	Cache       *synccache.Cache
	Persistence *synccache.Persistence
	Stall       *stall.Detector
	Reconciler  *reconcile.Reconciler
	Coalescer   *notify.Coalescer

	// Entry is this sync's persisted configuration record; the orchestrator
	// mutates it in place and rewrites the whole config vector on flush
	// (spec §4.3, §4.10 step 7).
	Entry *configstore.Entry

	Status   Status
	LastErr  *synccore.EngineError

	logger *logging.Logger

	// client is the network-client collaborator used by this sync's
	// syncDirSource to read cloud listings; it is set once by the
	// orchestrator at AddSync time.
	client CloudClient
	// ctx is the context for the currently running tick, refreshed by the
	// orchestrator before each reconciler pass so Cloud()/Fs() calls made
	// mid-pass observe cancellation promptly.
	ctx context.Context

	// dirty marks that Entry has changed since the last config store flush.
	dirty bool

	// fsSnapshots is rebuilt once per tick by prepareFsSnapshots; it backs
	// this sync's fsDirSource for the duration of one reconciler pass.
	fsSnapshots map[*core.SyncNode]fsDirSnapshot

	// scanAllFresh records whether every directory prepareFsSnapshots
	// enqueued this pass scanned successfully, with no blocked/errored
	// listing left stale. The orchestrator feeds it to the stall detector
	// as both of spec §4.9's reachableNodesAllScanned and
	// scanningWasComplete signals (DESIGN.md's component ledger records
	// why the two are treated as one computed signal here).
	scanAllFresh bool

	// ignoreLoaders holds one ignore.Loader per directory that has ever
	// been scanned, keyed by its SyncNode, so each directory's .megaignore
	// chain is reloaded only when its content actually changes (spec §4.2)
	// rather than re-parsed every tick. Unlike fsSnapshots this persists
	// across ticks.
	ignoreLoaders map[*core.SyncNode]*ignore.Loader
}

// NewSync constructs a Sync around a fresh or restored cache, wiring the
// reconciler, stall detector, and notification coalescer together the way
// the orchestrator expects to find them (spec §4.10's single mutator owns
// all of this state).
func NewSync(entry *configstore.Entry, localRoot string, remoteRoot core.Handle, policy path.CaseSensitivity, cache *synccache.Cache, persistence *synccache.Persistence, logger *logging.Logger) *Sync {
	detector := stall.New(path.Separator)
	s := &Sync{
		ID:             entry.ID,
		LocalRoot:      localRoot,
		RemoteRoot:     remoteRoot,
		CasePolicy:     policy,
		FollowSymlinks: false,
		Cache:          cache,
		Persistence:    persistence,
		Stall:          detector,
		Coalescer:      notify.New("", logger.Sublogger("notify")),
		Entry:          entry,
		Status:         StatusRunning,
		logger:         logger,
		ignoreLoaders:  make(map[*core.SyncNode]*ignore.Loader),
	}
	dir := &syncDirSource{sync: s}
	s.Reconciler = reconcile.New(dir, dir, cache, detector, policy, logger.Sublogger("reconcile"))
	if entry.Type == "backup" {
		s.Reconciler.Backup = true
		if entry.BackupState == "monitor" {
			s.Reconciler.BackupSubstate = reconcile.BackupSubstateMonitor
		}
	}
	return s
}

// MarkDirty flags this sync's configuration entry as needing a config store
// flush (spec §4.10 step 7).
func (s *Sync) MarkDirty() { s.dirty = true }

// Fail transitions the sync to StatusFailed, recording code as the cause
// in LastErr and the config entry, which halts its reconciler (spec §7
// band 2). No state-change callback is emitted.
func (s *Sync) Fail(code synccore.ErrorCode, detail string) {
	s.Status = StatusFailed
	s.LastErr = synccore.NewEngineError(code, detail)
	s.Entry.LastError = int(code)
	s.MarkDirty()
	s.logger.Errorf("sync %q failed: %v", s.ID, s.LastErr)
}

// fsDirSnapshot is one directory's filesystem listing captured for the
// current pass, together with whether it came from a completed scan this
// tick (fresh) or was inferred from the cache's already-synced children
// (spec §4.7 Step A, SPEC_FULL.md §11a).
type fsDirSnapshot struct {
	children map[string]*core.FsNode
	fresh    bool
}
