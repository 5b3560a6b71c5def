// Package venue defines the capability contract every trading venue adapter
// must implement, and a registry the core components use to look adapters up
// by name. The core depends only on this interface; venue-specific
// authentication, signing, and HTTP details live in the sub-packages.
package venue

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Adapter is the per-venue capability set consumed by the core.
type Adapter interface {
	// Name returns the venue identifier, e.g. "hyperliquid".
	Name() string

	// Authenticate establishes a usable session. It is idempotent and must
	// be safely callable again after a prior failure.
	Authenticate(ctx context.Context) error

	// Authenticated reports whether a usable session exists.
	Authenticated() bool

	// FundingRates returns current funding quotes, optionally filtered to
	// the given symbols (nil means all). Transient errors fail soft: the
	// caller treats an error as zero quotes for this venue.
	FundingRates(ctx context.Context, symbols []string) ([]domain.FundingQuote, error)

	// Positions returns all open positions on the venue.
	Positions(ctx context.Context) ([]domain.RawPosition, error)

	// Balances returns all account balances.
	Balances(ctx context.Context) ([]domain.Balance, error)

	// PlaceOrder submits one order.
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)

	// ClosePosition closes the venue's position in symbol. It is idempotent:
	// closing an already-closed position returns nil.
	ClosePosition(ctx context.Context, symbol string) error

	// SetLeverage configures leverage for symbol. Venues without leverage
	// support return nil.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// MarketInfo returns trading constraints for symbol.
	MarketInfo(ctx context.Context, symbol string) (domain.MarketInfo, error)
}

// PeriodsPerYear converts a funding interval to the venue's annualization
// constant. Mismatched constants were a known source of miscalculated APRs,
// so every adapter derives its constant through this single helper.
func PeriodsPerYear(fundingIntervalHours int) float64 {
	if fundingIntervalHours <= 0 {
		fundingIntervalHours = 8
	}
	return 8760 / float64(fundingIntervalHours)
}

// Registry holds the configured venue adapters keyed by name. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its own name. Registering the same name
// twice returns an error.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := a.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("venue: %q already registered", name)
	}
	r.adapters[name] = a
	return nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("venue: %q: %w", name, domain.ErrVenueUnavailable)
	}
	return a, nil
}

// Names returns all registered venue names in sorted order. Iteration order
// matters: the detector's pair tie-break is defined in terms of it.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered adapters in sorted-name order.
func (r *Registry) All() []Adapter {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(names))
	for _, name := range names {
		out = append(out, r.adapters[name])
	}
	return out
}
