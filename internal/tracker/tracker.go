// Package tracker keeps in-memory entry metadata for positions the bot has
// opened. It is a cache of intent only: venue state remains the authority on
// what is actually open, and entries here are pruned against it.
package tracker

import (
	"sync"
	"time"
)

// Entry holds the execution-time metadata for one opened pair.
type Entry struct {
	Symbol     string
	LongVenue  string
	ShortVenue string
	Size       float64
	Collateral float64
	Leverage   int
	EntryAPR   float64
	CreatedAt  time.Time
}

// Tracker is a concurrency-safe symbol-keyed store of entries.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[string]Entry)}
}

// Add records entry metadata for a symbol, replacing any previous entry.
func (t *Tracker) Add(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.Symbol] = e
}

// Lookup returns the entry for symbol, if tracked.
func (t *Tracker) Lookup(symbol string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[symbol]
	return e, ok
}

// Remove drops the entry for symbol.
func (t *Tracker) Remove(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, symbol)
}

// Symbols returns the tracked symbols in arbitrary order.
func (t *Tracker) Symbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.entries))
	for s := range t.entries {
		out = append(out, s)
	}
	return out
}

// Len returns the number of tracked symbols.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Prune removes every tracked symbol not present in open and returns the
// removed symbols. Called after each monitoring pass so entries for
// externally closed positions do not linger.
func (t *Tracker) Prune(open map[string]bool) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []string
	for symbol := range t.entries {
		if !open[symbol] {
			delete(t.entries, symbol)
			removed = append(removed, symbol)
		}
	}
	return removed
}
