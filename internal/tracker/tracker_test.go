package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddLookupRemove(t *testing.T) {
	tr := New()
	entry := Entry{
		Symbol:     "BTC-PERP",
		LongVenue:  "hyperliquid",
		ShortVenue: "woofi_pro",
		Size:       0.005,
		Collateral: 100,
		Leverage:   3,
		EntryAPR:   150,
		CreatedAt:  time.Now().UTC(),
	}
	tr.Add(entry)

	got, ok := tr.Lookup("BTC-PERP")
	require.True(t, ok)
	assert.Equal(t, entry, got)
	assert.Equal(t, 1, tr.Len())

	tr.Remove("BTC-PERP")
	_, ok = tr.Lookup("BTC-PERP")
	assert.False(t, ok)
}

func TestAddReplacesExisting(t *testing.T) {
	tr := New()
	tr.Add(Entry{Symbol: "ETH-PERP", EntryAPR: 100})
	tr.Add(Entry{Symbol: "ETH-PERP", EntryAPR: 200})

	got, ok := tr.Lookup("ETH-PERP")
	require.True(t, ok)
	assert.InDelta(t, 200, got.EntryAPR, 1e-9)
	assert.Equal(t, 1, tr.Len())
}

func TestPruneDropsClosedSymbols(t *testing.T) {
	tr := New()
	tr.Add(Entry{Symbol: "BTC-PERP"})
	tr.Add(Entry{Symbol: "ETH-PERP"})
	tr.Add(Entry{Symbol: "SOL-PERP"})

	removed := tr.Prune(map[string]bool{"BTC-PERP": true})
	assert.ElementsMatch(t, []string{"ETH-PERP", "SOL-PERP"}, removed)
	assert.Equal(t, 1, tr.Len())

	_, ok := tr.Lookup("BTC-PERP")
	assert.True(t, ok)
}
