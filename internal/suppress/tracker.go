// package suppress implements the time-windowed dedup state machine keyed by
// (fingerprint, repositoryId).
package suppress

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/gitsignal/incident-engine/internal/config"
)

// Decision is the tracker's verdict for one signal.
type Decision struct {
	// Emit is true when the signal should produce an alert: first occurrence,
	// re-alert interval elapsed, or escalation threshold crossed.
	Emit bool
	// Escalated is true when Emit was forced mid-window by the occurrence
	// threshold.
	Escalated bool
	// Occurrences is the count of signals seen for this key within the
	// current window, including this one.
	Occurrences int
}

type entry struct {
	firstSeenAt   time.Time
	lastSeenAt    time.Time
	lastAlertedAt time.Time
	occurrences   int
}

// shardCount is fixed; keys hash across shards so unrelated incidents never
// serialize behind each other.
const shardCount = 32

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Tracker is the suppression state machine. State is purely in memory: a
// restart re-opens the window, which costs at most one duplicate alert per
// live incident.
type Tracker struct {
	cfg    config.SuppressConfig
	now    func() time.Time
	shards [shardCount]*shard
}

// NewTracker constructs a Tracker. Zero config fields get the documented
// defaults.
func NewTracker(cfg config.SuppressConfig) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Minute
	}
	if cfg.ReAlertInterval <= 0 {
		cfg.ReAlertInterval = 10 * time.Minute
	}
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = 10
	}
	t := &Tracker{cfg: cfg, now: time.Now}
	for i := range t.shards {
		t.shards[i] = &shard{entries: map[string]*entry{}}
	}
	return t
}

// Key builds the suppression key for a fingerprint/repository pair.
func Key(fingerprint, repositoryID string) string {
	return fingerprint + "|" + repositoryID
}

func (t *Tracker) shard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return t.shards[h.Sum32()%shardCount]
}

// Observe runs one signal through the state machine and returns whether an
// alert should be emitted. fn, when non-nil, runs under the key's shard lock
// after the transition so the dedup decision and the alert handoff are atomic
// as a unit; signals for the same key serialize here while other keys proceed
// in parallel.
func (t *Tracker) Observe(fingerprint, repositoryID string, fn func(Decision)) Decision {
	key := Key(fingerprint, repositoryID)
	sh := t.shard(key)
	now := t.now().UTC()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if ok && now.Sub(e.lastSeenAt) > t.cfg.Window {
		// Window elapsed with no occurrence: reclaim and start over.
		delete(sh.entries, key)
		ok = false
	}

	var d Decision
	if !ok {
		// absent -> active
		sh.entries[key] = &entry{
			firstSeenAt:   now,
			lastSeenAt:    now,
			lastAlertedAt: now,
			occurrences:   1,
		}
		d = Decision{Emit: true, Occurrences: 1}
	} else {
		// active/suppressing: count the occurrence, re-alert only when the
		// interval elapsed or the escalation threshold is crossed.
		e.occurrences++
		e.lastSeenAt = now

		switch {
		case now.Sub(e.lastAlertedAt) >= t.cfg.ReAlertInterval:
			e.lastAlertedAt = now
			d = Decision{Emit: true, Occurrences: e.occurrences}
		case e.occurrences%t.cfg.EscalationThreshold == 0:
			// A worsening incident must not be silently swallowed.
			e.lastAlertedAt = now
			d = Decision{Emit: true, Escalated: true, Occurrences: e.occurrences}
		default:
			d = Decision{Occurrences: e.occurrences}
		}
	}

	if fn != nil {
		fn(d)
	}
	return d
}

// Sweep removes entries whose window has elapsed. Expiry also happens lazily
// on Observe; this bounds memory for keys that never recur.
func (t *Tracker) Sweep() int {
	now := t.now().UTC()
	removed := 0
	for _, sh := range t.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if now.Sub(e.lastSeenAt) > t.cfg.Window {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Run sweeps periodically until done is closed.
func (t *Tracker) Run(done <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// Occurrences reports the live occurrence count for a key, or 0 when absent.
func (t *Tracker) Occurrences(fingerprint, repositoryID string) int {
	key := Key(fingerprint, repositoryID)
	sh := t.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[key]; ok {
		return e.occurrences
	}
	return 0
}
