// Package orchestrator implements the single-threaded orchestration loop
// (spec §4.10): the one goroutine that owns every sync's tree and is the
// sole caller into the reconciler, the scanner, and the CloudClient/
// NotificationSource collaborators. It mirrors the teacher's controller
// run-loop (pkg/synchronization/controller.go's run/synchronize pair):
// loop-until-cancelled, state transitions guarded by a single mutator, and
// completion callbacks delivered as closures rather than direct mutation.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cloudsync/synccore/pkg/configstore"
	"github.com/cloudsync/synccore/pkg/core"
	"github.com/cloudsync/synccore/pkg/logging"
	"github.com/cloudsync/synccore/pkg/scan"
	"github.com/cloudsync/synccore/pkg/synccore"
)

// tickInterval bounds how long the orchestrator sleeps between passes when
// nothing else wakes it (spec §4.10 step 8: "Sleep on a waiter with a short
// deadline or until any producer notifies").
const tickInterval = 2 * time.Second

// cloudHint is one trigger-handle hint from the cloud side (spec §4.10 step
// 4), queued by HintCloudHandle and drained at the start of the next tick.
type cloudHint struct {
	sync   *Sync
	handle core.Handle
}

// Orchestrator runs the tick loop for a set of registered Syncs. All tree
// mutation happens on its single goroutine; every other goroutine (transfer
// completions, notification sources) only ever posts a closure to inbox or a
// hint to hints, never touches a Sync's tree directly (design notes:
// "Completion callbacks... modeled as messages on the orchestrator's inbox,
// not direct mutations").
type Orchestrator struct {
	logger      *logging.Logger
	pool        *scan.Pool
	notifySrc   NotificationSource
	configStore *configstore.Store

	mu    sync.Mutex
	syncs map[string]*Sync

	inbox chan func()
	hints chan cloudHint
	wake  chan struct{}

	// ctx is the context passed to every CloudClient call dispatched during
	// the current tick; cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc

	done chan struct{}
}

// New constructs an Orchestrator. pool is the shared scanner worker pool
// (spec §4.4); notifySrc may be nil if the caller has no filesystem watcher
// wired up yet, in which case step 3 of the tick is a no-op; store persists
// each sync's configstore.Entry on flush (spec §4.10 step 7).
func New(pool *scan.Pool, notifySrc NotificationSource, store *configstore.Store, logger *logging.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		logger:      logger,
		pool:        pool,
		notifySrc:   notifySrc,
		configStore: store,
		syncs:       make(map[string]*Sync),
		inbox:       make(chan func(), 256),
		hints:       make(chan cloudHint, 64),
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// AddSync registers a sync under its configuration ID, wiring client as the
// CloudClient its syncDirSource and dispatch logic will use. It is safe to
// call from any goroutine.
func (o *Orchestrator) AddSync(s *Sync, client CloudClient) {
	s.client = client
	o.mu.Lock()
	o.syncs[s.ID] = s
	o.mu.Unlock()
	o.Notify()
}

// RemoveSync unregisters a sync; the caller is responsible for having
// already halted any in-flight transfers via the CloudClient.
func (o *Orchestrator) RemoveSync(id string) {
	o.mu.Lock()
	delete(o.syncs, id)
	o.mu.Unlock()
}

// client returns s's CloudClient collaborator. It exists as a method (rather
// than dispatch.go reading s.client directly) so dispatch's call sites read
// uniformly as "the orchestrator's view of this sync's client", matching how
// the teacher's controller routes all endpoint access through accessor
// methods rather than raw field reads.
func (o *Orchestrator) client(s *Sync) CloudClient { return s.client }

// HintCloudHandle records that handle has changed on the cloud side,
// consulted at the start of the next tick (spec §4.10 step 4: "Process a
// batch of trigger-handle hints from the cloud side"). Safe to call from any
// goroutine; a full hint queue drops the hint, since the next full
// reconciliation pass over s will discover the same change by listing.
func (o *Orchestrator) HintCloudHandle(s *Sync, handle core.Handle) {
	select {
	case o.hints <- cloudHint{sync: s, handle: handle}:
	default:
	}
	o.Notify()
}

// Notify wakes the tick loop immediately rather than waiting out the rest of
// tickInterval, used by anything that just queued work (HintCloudHandle,
// AddSync, and the completion goroutines in dispatch.go).
func (o *Orchestrator) Notify() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Stop cancels the orchestrator's context and waits for Run to return.
func (o *Orchestrator) Stop() {
	o.cancel()
	<-o.done
}

// Run executes the tick loop until ctx is cancelled or Stop is called. It is
// meant to be run on its own goroutine, matching the teacher's controller.run
// being launched once per session at resume.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.done)
	o.logger.Debug("orchestrator run loop commencing")
	for {
		select {
		case <-ctx.Done():
			o.logger.Debug("orchestrator run loop terminated")
			return
		case <-o.ctx.Done():
			return
		default:
		}

		o.tick()

		select {
		case <-ctx.Done():
			return
		case <-o.ctx.Done():
			return
		case <-o.wake:
		case <-time.After(tickInterval):
		}
	}
}

// tick performs exactly one pass of spec §4.10's eight numbered steps.
func (o *Orchestrator) tick() {
	// Step 1: drain the inbox (the command queue from the network-client
	// side: transfer/move/delete completions posted as closures).
	o.drainInbox()

	o.mu.Lock()
	syncs := make([]*Sync, 0, len(o.syncs))
	for _, s := range o.syncs {
		syncs = append(syncs, s)
	}
	o.mu.Unlock()

	// Step 2: verify each sync's root is still present and its filesystem
	// fingerprint unchanged.
	for _, s := range syncs {
		if s.Status == StatusFailed || s.Status == StatusDisabled {
			continue
		}
		o.verifyRoot(s)
	}

	// Step 3: drain notification queues into scanAgain flags.
	o.drainNotifications(syncs)

	// Step 4: process a batch of trigger-handle hints from the cloud side.
	o.drainHints()

	// Step 5: for each active, non-paused sync, run the reconciler once.
	for _, s := range syncs {
		if s.Status != StatusRunning {
			continue
		}
		o.runOnce(s)
	}

	// Step 6 (state publication) is left to the embedding application: each
	// Sync's Status/LastErr/Stall fields are queried directly rather than
	// pushed through a callback, since this module defines no application
	// callback type of its own (spec §4.10 step 6's "application callback"
	// is an external collaborator, like CloudClient/NotificationSource).

	// Step 7: flush dirty config stores.
	o.flushConfig(syncs)

	// Step 8 (sleep on a waiter) is implemented by Run's select around this
	// call.
}

// drainInbox runs every closure queued since the last tick, without
// blocking once the channel is empty.
func (o *Orchestrator) drainInbox() {
	for {
		select {
		case fn := <-o.inbox:
			fn()
		default:
			return
		}
	}
}

// drainHints applies every queued cloud trigger-handle hint by marking the
// corresponding sync-node (if still known) for rescan next pass.
func (o *Orchestrator) drainHints() {
	for {
		select {
		case h := <-o.hints:
			for _, n := range h.sync.Cache.FindByHandle(h.handle) {
				n.ScanAgain = core.Here
				if n.Parent != nil {
					n.Parent.CheckMovesAgain = core.Here
				}
			}
		default:
			return
		}
	}
}

// drainNotifications feeds every queued filesystem-notification event into
// its owning sync's coalescer (spec §4.6), which turns it into scanAgain
// flags on the tree.
func (o *Orchestrator) drainNotifications(syncs []*Sync) {
	if o.notifySrc == nil {
		return
	}
	ch := o.notifySrc.Notifications()
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.Anchor != nil && event.Anchor.AbsorbSelfNotification() {
				// This notification is the expected echo of the engine's own
				// write (spec §4.6); absorb it without scheduling a rescan.
				continue
			}
			if owner := ownerOf(syncs, event.Anchor); owner != nil {
				owner.Coalescer.Apply(event)
			}
		default:
			return
		}
	}
}

// ownerOf finds which registered sync's tree anchor belongs to, by walking
// anchor's parent chain up to its root and matching against each sync's
// cache root. Returns nil if anchor belongs to none of syncs (e.g. it was
// just removed).
func ownerOf(syncs []*Sync, anchor *core.SyncNode) *Sync {
	if anchor == nil {
		return nil
	}
	root := anchor
	for root.Parent != nil {
		root = root.Parent
	}
	for _, s := range syncs {
		if s.Cache.Root() == root {
			return s
		}
	}
	return nil
}

// verifyRoot implements spec §4.10 step 2: the local root must still exist
// and its filesystem-reported identity must match the fingerprint recorded
// at the last successful check, or the sync fails persistently (spec §7
// band 2).
func (o *Orchestrator) verifyRoot(s *Sync) {
	node := scan.StatEntry(s.LocalRoot, s.logger)
	if node.Blocked {
		if os.IsNotExist(statErr(s.LocalRoot)) {
			s.Fail(synccore.ErrorCodeLocalPathUnavailable, fmt.Sprintf("root %q no longer exists", s.LocalRoot))
			return
		}
		// Some other transient access failure (permissions, a momentarily
		// unmounted volume): leave the sync running and retry next tick
		// (spec §7 band 1).
		s.logger.Warnf("root %q temporarily unavailable", s.LocalRoot)
		return
	}
	if node.Type != core.NodeTypeFolder {
		s.Fail(synccore.ErrorCodeInvalidLocalType, fmt.Sprintf("root %q is no longer a directory", s.LocalRoot))
		return
	}

	fp := ""
	if node.Fsid.Valid() {
		fp = fmt.Sprintf("%d", node.Fsid.Value())
	}
	if s.Entry.LocalFingerprint == "" {
		s.Entry.LocalFingerprint = fp
		s.MarkDirty()
		return
	}
	if fp != "" && s.Entry.LocalFingerprint != fp {
		s.Fail(synccore.ErrorCodeLocalFingerprintMismatch, fmt.Sprintf("root %q fingerprint changed", s.LocalRoot))
	}
}

// statErr re-probes a path purely to classify why StatEntry reported it
// blocked (missing vs. some other access error), since StatEntry folds every
// failure into a single Blocked bool.
func statErr(path string) error {
	_, err := os.Lstat(path)
	return err
}

// runOnce drives one sync through one full reconciliation pass: prepare
// filesystem snapshots, bracket the reconciler with the stall detector's
// BeginPass/EndPass, dispatch every resulting action, and queue any
// resulting persistence writes.
func (o *Orchestrator) runOnce(s *Sync) {
	s.ctx = o.ctx

	prepareFsSnapshots(o.pool, s)

	s.Stall.BeginPass()
	actions, err := s.Reconciler.Run(s.Cache.Root())
	if err != nil {
		s.logger.Warnf("reconciliation pass failed for sync %q: %v", s.ID, err)
		s.ctx = nil
		return
	}

	// Kinds with no network or filesystem side effect (ActionNone,
	// ActionMarkSynced, ActionDeleteSyncNode, ActionCreateSyncNodeFromFs,
	// ActionAdoptSynced, ActionWait) are already fully applied by the
	// reconciler itself, including any stall bookkeeping for ActionWait
	// (recorded against the same Detector as s.Stall); dispatch's switch
	// simply has no case for them.
	for _, a := range actions {
		o.dispatch(s, a)
	}

	s.Stall.SetScanCompleteness(s.scanAllFresh, s.scanAllFresh)
	s.Stall.EndPass()
	s.Reconciler.PromoteBackupIfReady(actions)

	s.ctx = nil
}

// flushConfig writes every dirty sync's configuration entry to the shared
// config store (spec §4.10 step 7). A write failure is a persistent
// per-sync failure (spec §7 band 2: "cannot write config").
func (o *Orchestrator) flushConfig(syncs []*Sync) {
	if o.configStore == nil {
		return
	}
	var dirty bool
	for _, s := range syncs {
		if s.dirty {
			dirty = true
			break
		}
	}
	if !dirty {
		return
	}

	entries := make([]configstore.Entry, 0, len(syncs))
	for _, s := range syncs {
		entries = append(entries, *s.Entry)
	}
	if err := o.configStore.Write(entries); err != nil {
		for _, s := range syncs {
			if s.dirty {
				s.Fail(synccore.ErrorCodeSyncConfigWriteFailure, err.Error())
			}
		}
		return
	}
	for _, s := range syncs {
		s.dirty = false
	}
}
