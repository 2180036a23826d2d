package fetch

import (
	"sync"
	"time"
)

// Progress is a point-in-time snapshot of a batch resolution. Completed never
// decreases and the remaining-time estimate never grows between snapshots.
type Progress struct {
	Completed          int           `json:"completed"`
	Total              int           `json:"total"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
}

// Tracker aggregates per-entity completion into monotone progress snapshots.
// The remaining-time estimate is the observed mean latency of completed work
// scaled by the outstanding count and divided by the effective parallelism.
//
// Notifications are throttled to one per notifyInterval, except the final
// completion which is always delivered.
type Tracker struct {
	mu           sync.Mutex
	total        int
	completed    int
	parallelism  int
	latencySum   time.Duration
	measured     int
	lastEstimate time.Duration
	hasEstimate  bool

	notify         func(Progress)
	notifyInterval time.Duration
	lastNotify     time.Time
}

// NewTracker creates a tracker for total entities resolved with the given
// parallelism. notify may be nil.
func NewTracker(total, parallelism int, notify func(Progress)) *Tracker {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Tracker{
		total:          total,
		parallelism:    parallelism,
		notify:         notify,
		notifyInterval: 250 * time.Millisecond,
	}
}

// Done records one completed entity and its observed latency. Zero latency is
// valid (cache hits) and does not dilute the mean used for estimation.
func (t *Tracker) Done(latency time.Duration) {
	t.mu.Lock()
	t.completed++
	if latency > 0 {
		t.latencySum += latency
		t.measured++
	}
	snap := t.snapshotLocked()
	final := t.completed >= t.total
	fire := t.notify != nil && (final || time.Since(t.lastNotify) >= t.notifyInterval)
	if fire {
		t.lastNotify = time.Now()
	}
	notify := t.notify
	t.mu.Unlock()

	if fire {
		notify(snap)
	}
}

// Snapshot returns the current progress.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Progress {
	remaining := t.total - t.completed
	var estimate time.Duration
	if remaining > 0 && t.measured > 0 {
		mean := t.latencySum / time.Duration(t.measured)
		estimate = mean * time.Duration(remaining) / time.Duration(t.parallelism)
	}
	// Clamp so the estimate shrinks monotonically as work completes.
	if t.hasEstimate && estimate > t.lastEstimate {
		estimate = t.lastEstimate
	}
	if remaining > 0 && estimate > 0 {
		t.lastEstimate = estimate
		t.hasEstimate = true
	}
	return Progress{Completed: t.completed, Total: t.total, EstimatedRemaining: estimate}
}
