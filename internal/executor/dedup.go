package executor

import (
	"sync"
	"time"
)

// Dedup suppresses repeat execution attempts for the same symbol within a
// time-to-live window. It is safe for concurrent use.
//
// The window is a cheap first line of defense only; the live venue position
// re-check inside the engine remains the authoritative duplicate guard.
type Dedup struct {
	seen map[string]time.Time // symbol -> last attempt time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that considers a symbol a duplicate if an attempt
// was recorded within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate returns true if the symbol was attempted within the TTL window.
// If not (or the entry expired), the attempt is recorded and false returned.
func (d *Dedup) IsDuplicate(symbol string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if lastSeen, ok := d.seen[symbol]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[symbol] = now
	return false
}

// Forget drops the symbol from the window, re-arming it immediately. Called
// after a position closes so the symbol is eligible again.
func (d *Dedup) Forget(symbol string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, symbol)
}

// Cleanup removes entries that have expired beyond the TTL. This should be
// called periodically to prevent unbounded memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for symbol, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, symbol)
		}
	}
}
