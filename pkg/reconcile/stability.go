package reconcile

import "time"

// stabilityWindow is the "unchanged" window a file's size and modification
// time must hold across before it is considered stable enough to upload
// (spec §4.7: "unchanged across a window of ~3 seconds").
const stabilityWindow = 3 * time.Second

// stabilityMaxWait bounds how long one observation of a file lasts; once it
// elapses without the file settling, the observation is discarded and the
// next check starts a fresh one (spec §4.7: "at most 60 seconds since first
// observation").
const stabilityMaxWait = 60 * time.Second

// stabilityObservation is the per-path state the "file still changing" rule
// tracks: when the path was first seen changing, when its current
// (size, modTime) pair was last seen to change, and that pair itself.
type stabilityObservation struct {
	firstObservedAt time.Time
	unchangedSince  time.Time
	size            int64
	modTime         time.Time
}

// stabilityTracker implements the rate-limiting rule that defers uploading a
// file whose disappearance elsewhere suggests it is being rewritten in
// place (spec §4.7).
type stabilityTracker struct {
	observations map[string]*stabilityObservation
}

func newStabilityTracker() *stabilityTracker {
	return &stabilityTracker{observations: make(map[string]*stabilityObservation)}
}

// stabilityOutcome is what Observe concluded about a path this call.
type stabilityOutcome int

const (
	// stabilityStable means the row may proceed: size/modTime have held
	// steady for at least stabilityWindow.
	stabilityStable stabilityOutcome = iota
	// stabilityWaiting means the path is still within its observation
	// window; the caller defers the row.
	stabilityWaiting
	// stabilityExpired means stabilityMaxWait has elapsed without the file
	// ever settling. The caller treats it like stabilityWaiting: the row is
	// deferred and the WaitingForFileToStopChanging stall is recorded, as it
	// is on every non-stable outcome.
	stabilityExpired
)

// Observe records a fresh (size, modTime) reading for path and reports
// whether the row is ready to proceed, still settling, or has exceeded the
// maximum wait. Once a path reaches stabilityStable or stabilityExpired,
// its tracking entry is cleared so a later reappearance starts fresh.
func (s *stabilityTracker) Observe(path string, size int64, modTime, now time.Time) stabilityOutcome {
	obs, ok := s.observations[path]
	if !ok {
		s.observations[path] = &stabilityObservation{
			firstObservedAt: now,
			unchangedSince:  now,
			size:            size,
			modTime:         modTime,
		}
		return stabilityWaiting
	}

	if obs.size != size || !obs.modTime.Equal(modTime) {
		obs.size = size
		obs.modTime = modTime
		obs.unchangedSince = now
	}

	if now.Sub(obs.unchangedSince) >= stabilityWindow {
		delete(s.observations, path)
		return stabilityStable
	}

	if now.Sub(obs.firstObservedAt) >= stabilityMaxWait {
		delete(s.observations, path)
		return stabilityExpired
	}

	return stabilityWaiting
}

// Forget discards any tracked observation for path, used once a row is
// resolved some other way (e.g. the file disappeared, or turned out to be
// a move source) so stale tracking state doesn't leak across reconciler
// passes.
func (s *stabilityTracker) Forget(path string) {
	delete(s.observations, path)
}
