package notify

import (
	"sync"
	"time"

	"github.com/cloudsync/synccore/pkg/core"
)

// NetworkDebounceDelay is the default hold-off for network-share events
// (spec §4.6: "Network shares get a second queue with a long debounce (15
// seconds) to ride out bursty remote writers").
const NetworkDebounceDelay = 15 * time.Second

// NetworkDebouncer coalesces repeated events against the same path into a
// single delivery, fired delay after the last submission — distinct from
// the main Coalescer's immediate flag-setting, because a network share's
// underlying notification source tends to fire many events per remote
// write and a rescan mid-burst would see a half-written file.
type NetworkDebouncer struct {
	delay   time.Duration
	deliver func(Event)

	mu      sync.Mutex
	timers  map[debounceKey]*time.Timer
	latest  map[debounceKey]Event
}

type debounceKey struct {
	anchor *core.SyncNode
	rel    string
}

// NewNetworkDebouncer constructs a debouncer that calls deliver after delay
// has elapsed since the most recent Submit for a given (anchor, path) pair.
func NewNetworkDebouncer(delay time.Duration, deliver func(Event)) *NetworkDebouncer {
	return &NetworkDebouncer{
		delay:   delay,
		deliver: deliver,
		timers:  make(map[debounceKey]*time.Timer),
		latest:  make(map[debounceKey]Event),
	}
}

// Submit resets the debounce window for event's path, replacing any
// previously pending event for the same path with this one.
func (d *NetworkDebouncer) Submit(event Event) {
	key := debounceKey{anchor: event.Anchor, rel: string(event.RelativePath)}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.latest[key] = event
	if existing, ok := d.timers[key]; ok {
		existing.Stop()
	}
	d.timers[key] = time.AfterFunc(d.delay, func() { d.fire(key) })
}

func (d *NetworkDebouncer) fire(key debounceKey) {
	d.mu.Lock()
	event, ok := d.latest[key]
	delete(d.latest, key)
	delete(d.timers, key)
	d.mu.Unlock()

	if ok {
		d.deliver(event)
	}
}

// Stop cancels every pending timer without delivering; used when a sync is
// torn down.
func (d *NetworkDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, timer := range d.timers {
		timer.Stop()
	}
	d.timers = make(map[debounceKey]*time.Timer)
	d.latest = make(map[debounceKey]Event)
}
