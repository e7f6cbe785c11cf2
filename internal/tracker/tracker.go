// Package tracker suppresses repeated sightings of the same plate.
package tracker

import (
	"sync"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	DefaultCooldown   = 5 * time.Second
	DefaultSimilarity = 0.8
	DefaultRetention  = 10 * time.Minute
)

type Config struct {
	// Cooldown suppresses an exact repeat of a key seen this recently.
	Cooldown time.Duration
	// Similarity rejects a key whose ratio against any other tracked key is
	// strictly greater than this value.
	Similarity float64
	// Retention evicts keys not seen for this long. Zero keeps every key for
	// the lifetime of the tracker.
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		Cooldown:   DefaultCooldown,
		Similarity: DefaultSimilarity,
		Retention:  DefaultRetention,
	}
}

type entry struct {
	key  string
	seen time.Time
}

// Tracker decides whether a normalized plate key is a new sighting.
type Tracker struct {
	mu       sync.Mutex
	cfg      Config
	lastSeen map[string]time.Time
	// queue holds (key, seen) in acceptance order. A key may appear more than
	// once; only the entry matching lastSeen is live.
	queue []entry
}

func New(cfg Config) *Tracker {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Similarity <= 0 {
		cfg.Similarity = DefaultSimilarity
	}
	if cfg.Retention < 0 {
		cfg.Retention = 0
	}
	return &Tracker{
		cfg:      cfg,
		lastSeen: make(map[string]time.Time),
	}
}

// Consider reports whether key is a new sighting at now and, if so, records
// now as its last sighting.
func (t *Tracker) Consider(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evict(now)

	if seen, ok := t.lastSeen[key]; ok && now.Sub(seen) < t.cfg.Cooldown {
		return false
	}

	probe := splitChars(key)
	for other := range t.lastSeen {
		if other == key {
			continue
		}
		if difflib.NewMatcher(probe, splitChars(other)).Ratio() > t.cfg.Similarity {
			return false
		}
	}

	t.lastSeen[key] = now
	if t.cfg.Retention > 0 {
		t.queue = append(t.queue, entry{key: key, seen: now})
	}
	return true
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lastSeen)
}

func (t *Tracker) evict(now time.Time) {
	if t.cfg.Retention <= 0 {
		return
	}
	cutoff := now.Add(-t.cfg.Retention)
	i := 0
	for ; i < len(t.queue); i++ {
		e := t.queue[i]
		if !e.seen.Before(cutoff) {
			break
		}
		if seen, ok := t.lastSeen[e.key]; ok && seen.Equal(e.seen) {
			delete(t.lastSeen, e.key)
		}
	}
	if i > 0 {
		t.queue = append(t.queue[:0], t.queue[i:]...)
	}
}

func splitChars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
