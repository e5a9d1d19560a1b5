// Package reconcile implements the reconciler and move detector (spec
// §4.7, §4.8): the recursive triplet walker that compares cloud, sync-node,
// and filesystem state for one directory at a time and decides, per row,
// what needs to happen to bring the two sides into agreement.
//
// The reconciler only decides; it never performs network or filesystem I/O
// itself. Each row resolves to an Action that names what the caller (the
// orchestrator, which holds the CloudClient and filesystem access) must do.
// This mirrors the teacher's separation between its reconcile.go (decision)
// and its transport/synchronizer execution layer.
package reconcile

import (
	"github.com/cloudsync/synccore/pkg/core"
	"github.com/cloudsync/synccore/pkg/stall"
)

// ActionKind names what the orchestrator must do to resolve one row.
type ActionKind int

const (
	// ActionNone means the row needed no action (already in agreement, or
	// entirely absent on every side).
	ActionNone ActionKind = iota
	// ActionMarkSynced means the row already agrees; refresh its sync-node's
	// fsid/handle bookkeeping without transferring content.
	ActionMarkSynced
	// ActionUpload means the filesystem side should be pushed to the cloud.
	ActionUpload
	// ActionDownload means the cloud side should be pulled to the
	// filesystem.
	ActionDownload
	// ActionConflictStall means both sides changed incompatibly; this
	// requires user intervention and is never auto-resolved.
	ActionConflictStall
	// ActionDeleteFs means the filesystem-side copy should be removed.
	ActionDeleteFs
	// ActionDeleteCloud means the cloud-side copy should be removed.
	ActionDeleteCloud
	// ActionDeleteSyncNode means only the bookkeeping sync-node should be
	// removed; neither side has a live copy left.
	ActionDeleteSyncNode
	// ActionAdoptSynced means a cloud+fs pair with matching content, but no
	// sync-node yet, should be adopted as already synced without any
	// transfer.
	ActionAdoptSynced
	// ActionCreateSyncNodeFromFs means a filesystem-only entry should get a
	// bookkeeping sync-node now; the next pass will upload it.
	ActionCreateSyncNodeFromFs
	// ActionMove means a move/rename should be executed against the
	// indicated side (Move.Cloud true for a cloud Move+SetName,
	// false for a local rename) rather than any delete+create.
	ActionMove
	// ActionWait means the row is deferred this pass; Reason names why.
	ActionWait
	// ActionBackupModified means a backup-role sync detected a cloud-side
	// divergence it refuses to pull into the local, authoritative side;
	// the caller should fail the sync with ErrorCodeBackupModified until
	// the user resets it (spec §4.7 "Backup mode").
	ActionBackupModified
)

// MoveInstruction describes one move to execute, populated only on
// ActionMove results.
type MoveInstruction struct {
	// Cloud is true when this is a cloud-side Move+SetName; false for a
	// local filesystem rename/move.
	Cloud bool
	// DestinationParent is the already-resolved destination parent
	// sync-node.
	DestinationParent *core.SyncNode
	// DestinationName is the new leaf name.
	DestinationName string
	// SourceParent and SourceName are the row's pre-move position,
	// snapshotted before BeginMove relocates the sync-node in-memory. A
	// local-rename executor (Cloud == false) needs these to find the file
	// still sitting at its old filesystem path.
	SourceParent *core.SyncNode
	SourceName   string
}

// Action is the reconciler's decision for one row.
type Action struct {
	Kind ActionKind
	Row  *core.Triplet
	Move *MoveInstruction
	// Reason is populated for ActionWait and for any action the caller
	// should additionally log as a stall candidate.
	Reason stall.Reason
}
