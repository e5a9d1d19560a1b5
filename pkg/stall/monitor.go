package stall

// Monitor is the Go stand-in for original_source/src/sync.cpp's
// ProgressingMonitor RAII guard (SPEC_FULL.md §11): a row resolver acquires
// one at the start of handling a row and Closes it (via defer) when done.
// By default, closing a Monitor clears the owning Detector's noProgress
// flag — handling a row at all counts as progress unless the resolver
// explicitly reports that no progress was possible this time (the row is
// genuinely waiting on something external: an unstable file, a pending
// move, a missing target folder).
type Monitor struct {
	detector *Detector
	blocked  bool
}

// MarkNoProgressPossible records that this row could not make progress this
// pass, so Close must not clear noProgress on its account (some other row
// might still clear it).
func (m *Monitor) MarkNoProgressPossible() {
	m.blocked = true
}

// Close finalizes the monitor, clearing the detector's noProgress flag
// unless MarkNoProgressPossible was called.
func (m *Monitor) Close() {
	if !m.blocked {
		m.detector.noProgress = false
	}
}
