package stall

import "strings"

// progressThreshold is the number of consecutive no-progress passes before
// the engine declares itself stalled (spec §4.9: "noProgressCount > 10").
const progressThreshold = 10

// Entry is one published stall record.
type Entry struct {
	Path   string
	Reason Reason
}

// Detector is one sync's stall tracker (spec §4.9). It is owned by the
// reconciler's single goroutine and is not safe for concurrent mutation.
type Detector struct {
	noProgress      bool
	noProgressCount int

	reachableNodesAllScanned bool
	scanningWasComplete      bool

	stalled bool

	localSeparator byte
	local          map[string]Reason
	cloud          map[string]Reason
}

// New constructs a Detector. localSeparator is the platform path separator
// used for ancestor-collapse comparisons on local paths (cloud paths always
// use '/').
func New(localSeparator byte) *Detector {
	return &Detector{
		localSeparator: localSeparator,
		local:          make(map[string]Reason),
		cloud:          make(map[string]Reason),
	}
}

// BeginPass resets per-pass bookkeeping at the start of a reconciliation
// pass (spec §4.9: "Each reconciliation pass sets noProgress=true at
// entry").
func (d *Detector) BeginPass() {
	d.noProgress = true
}

// NewMonitor acquires a Monitor for one row resolver.
func (d *Detector) NewMonitor() *Monitor {
	return &Monitor{detector: d}
}

// SetScanCompleteness records the two scan-completeness flags a pass
// observed, used by EndPass to decide whether a no-progress streak is
// trustworthy (spec §4.9: "reachableNodesAllScanned" and
// "scanningWasComplete").
func (d *Detector) SetScanCompleteness(reachableNodesAllScanned, scanningWasComplete bool) {
	d.reachableNodesAllScanned = reachableNodesAllScanned
	d.scanningWasComplete = scanningWasComplete
}

// EndPass finalizes the pass's no-progress bookkeeping and reports whether
// the engine is (now, or still) in the stalled state.
func (d *Detector) EndPass() bool {
	if d.noProgress {
		d.noProgressCount++
	} else {
		d.noProgressCount = 0
		d.stalled = false
		d.local = make(map[string]Reason)
		d.cloud = make(map[string]Reason)
	}

	if d.noProgressCount > progressThreshold && d.reachableNodesAllScanned && d.scanningWasComplete {
		d.stalled = true
	}

	return d.stalled
}

// Stalled reports whether the engine is currently in the stalled state.
func (d *Detector) Stalled() bool { return d.stalled }

// NoProgress reports whether the pass just ended made no forward progress
// at all. Backup-mode promotion does not consult it.
func (d *Detector) NoProgress() bool { return d.noProgress }

// ReachableNodesAllScanned reports the most recent pass's scan-completeness
// flag.
func (d *Detector) ReachableNodesAllScanned() bool { return d.reachableNodesAllScanned }

// ScanningWasComplete reports the most recent pass's prior-pass-complete
// flag.
func (d *Detector) ScanningWasComplete() bool { return d.scanningWasComplete }

// RecordLocalStall publishes a stall entry keyed by local path, applying
// ancestor collapse: if a proper ancestor of path already carries an entry,
// this one is dropped; if path is itself an ancestor of existing entries,
// those are superseded and removed (spec §4.9: "a new ancestor supersedes
// existing descendants").
func (d *Detector) RecordLocalStall(path string, reason Reason) {
	recordWithCollapse(d.local, path, reason, d.localSeparator)
}

// RecordCloudStall is RecordLocalStall's cloud-path counterpart.
func (d *Detector) RecordCloudStall(path string, reason Reason) {
	recordWithCollapse(d.cloud, path, reason, '/')
}

// LocalStalls returns the current local stall entries.
func (d *Detector) LocalStalls() []Entry { return entries(d.local) }

// CloudStalls returns the current cloud stall entries.
func (d *Detector) CloudStalls() []Entry { return entries(d.cloud) }

func entries(m map[string]Reason) []Entry {
	out := make([]Entry, 0, len(m))
	for path, reason := range m {
		out = append(out, Entry{Path: path, Reason: reason})
	}
	return out
}

func recordWithCollapse(m map[string]Reason, path string, reason Reason, sep byte) {
	for existing := range m {
		if existing == path {
			continue
		}
		if isAncestor(existing, path, sep) {
			// An ancestor already covers this path; drop the new entry.
			return
		}
	}
	for existing := range m {
		if isAncestor(path, existing, sep) {
			delete(m, existing)
		}
	}
	m[path] = reason
}

// isAncestor reports whether ancestor is a proper ancestor of descendant
// under separator sep (ancestor == descendant does not count).
func isAncestor(ancestor, descendant string, sep byte) bool {
	if ancestor == "" {
		return descendant != ""
	}
	if ancestor == descendant {
		return false
	}
	prefix := ancestor + string(sep)
	return strings.HasPrefix(descendant, prefix)
}
