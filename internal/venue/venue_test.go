package venue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

func TestPeriodsPerYear(t *testing.T) {
	assert.Equal(t, 8760.0, PeriodsPerYear(1))
	assert.Equal(t, 1095.0, PeriodsPerYear(8))
	// A misconfigured interval falls back to the 8-hour cadence rather
	// than producing an absurd annualization constant.
	assert.Equal(t, 1095.0, PeriodsPerYear(0))
	assert.Equal(t, 1095.0, PeriodsPerYear(-3))
}

type stubAdapter struct {
	Adapter
	name string
}

func (s stubAdapter) Name() string { return s.name }

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubAdapter{name: "hyperliquid"}))
	require.Error(t, r.Register(stubAdapter{name: "hyperliquid"}))

	got, err := r.Get("hyperliquid")
	require.NoError(t, err)
	assert.Equal(t, "hyperliquid", got.Name())

	_, err = r.Get("unknown")
	assert.ErrorIs(t, err, domain.ErrVenueUnavailable)
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubAdapter{name: "woofi_pro"}))
	require.NoError(t, r.Register(stubAdapter{name: "hyperliquid"}))
	assert.Equal(t, []string{"hyperliquid", "woofi_pro"}, r.Names())
}
