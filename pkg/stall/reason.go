// Package stall implements the stall detector (spec §4.9): it tracks
// whether a reconciliation pass made forward progress, and once passes
// stop progressing, records which rows are blocked and why.
package stall

// Reason is one of the stall-detector's fixed reason codes (spec §4.9).
type Reason string

const (
	// MoveBlockedByExistingItem: a move's destination name collides with an
	// existing item that isn't (yet) a decided deletion target this pass
	// (spec §4.9, and the Open Question resolution in SPEC_FULL.md §12).
	MoveBlockedByExistingItem Reason = "move-blocked-by-existing-item"
	// MoveNeedsOtherSideParent: a move's destination parent hasn't itself
	// been created/moved into place on the other side yet. Spec §4.8's
	// prose names this case informally as "move-needs-parent"; this is the
	// same condition under its §4.9 canonical reason code.
	MoveNeedsOtherSideParent Reason = "move-needs-other-side-parent"
	// MoveNeedsDestinationProcessing: the destination row of a pending move
	// hasn't been visited by this pass yet.
	MoveNeedsDestinationProcessing Reason = "move-needs-destination-processing"
	// WaitingForFileToStopChanging: the "file still changing" rate-limiting
	// rule (spec §4.7) hasn't yet observed a stable window.
	WaitingForFileToStopChanging Reason = "waiting-for-file-to-stop-changing"
	// UpsyncNeedsTargetFolder: an upload can't proceed because its target
	// cloud folder doesn't exist yet.
	UpsyncNeedsTargetFolder Reason = "upsync-needs-target-folder"
	// DownsyncNeedsTargetFolder: a download can't proceed because its
	// target local folder doesn't exist yet.
	DownsyncNeedsTargetFolder Reason = "downsync-needs-target-folder"
	// DeleteWaitingOnMoves: a deletion can't proceed because a pending move
	// still references this subtree.
	DeleteWaitingOnMoves Reason = "delete-waiting-on-moves"
	// MovingDownloadToTarget: a download has completed into staging but
	// hasn't yet been moved into its final target location.
	MovingDownloadToTarget Reason = "moving-download-to-target"
	// ConflictBothSidesChanged: both sides changed incompatibly since the
	// last sync and the row requires user intervention (spec §4.7's
	// ActionConflictStall).
	ConflictBothSidesChanged Reason = "both-sides-changed"
)
