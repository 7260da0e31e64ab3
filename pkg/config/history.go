package config

import (
	"errors"
	"sync"
	"time"
)

// DefaultHistoryCap is how many validated snapshots History retains.
const DefaultHistoryCap = 10

// ErrNoSnapshot is returned when History has nothing to serve.
var ErrNoSnapshot = errors.New("config: no snapshot available")

// Snapshot is one validated configuration with its provenance.
type Snapshot struct {
	// Config is the validated configuration. Treat it as immutable;
	// every consumer shares the same pointer.
	Config *Config

	// Source identifies where the snapshot came from (file path,
	// "env-override", "initial").
	Source string

	// LoadedAt is when the snapshot was accepted.
	LoadedAt time.Time
}

// History retains the last N validated configuration snapshots so a bad
// reload can roll back to a known-good state. Only configurations that
// passed validation are pushed; a failed reload never enters the history.
type History struct {
	mu    sync.Mutex
	cap   int
	snaps []Snapshot
}

// NewHistory creates a history retaining up to cap snapshots. A cap of
// zero or less uses DefaultHistoryCap.
func NewHistory(cap int) *History {
	if cap <= 0 {
		cap = DefaultHistoryCap
	}
	return &History{cap: cap}
}

// Push records a validated snapshot as current, evicting the oldest
// entry when the history is full.
func (h *History) Push(cfg *Config, source string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.snaps = append(h.snaps, Snapshot{Config: cfg, Source: source, LoadedAt: at})
	if len(h.snaps) > h.cap {
		h.snaps = h.snaps[len(h.snaps)-h.cap:]
	}
}

// Current returns the most recent snapshot.
func (h *History) Current() (Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.snaps) == 0 {
		return Snapshot{}, ErrNoSnapshot
	}
	return h.snaps[len(h.snaps)-1], nil
}

// Rollback discards the current snapshot and returns the previous one,
// which becomes current. Rolling back past the last retained snapshot
// fails with ErrNoSnapshot.
func (h *History) Rollback() (Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.snaps) < 2 {
		return Snapshot{}, ErrNoSnapshot
	}
	h.snaps = h.snaps[:len(h.snaps)-1]
	return h.snaps[len(h.snaps)-1], nil
}

// Len reports how many snapshots are retained.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.snaps)
}

// Snapshots returns the retained snapshots, oldest first.
func (h *History) Snapshots() []Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Snapshot, len(h.snaps))
	copy(out, h.snaps)
	return out
}
