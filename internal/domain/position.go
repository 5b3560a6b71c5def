package domain

import "time"

// PositionSide is the direction of one leg on one venue.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Opposite returns the inverse side.
func (s PositionSide) Opposite() PositionSide {
	if s == PositionSideLong {
		return PositionSideShort
	}
	return PositionSideLong
}

// RawPosition is a single venue's view of one open position, as returned by
// the venue adapter. It is ephemeral: fetched fresh each monitoring pass and
// never stored.
type RawPosition struct {
	Symbol          string
	Venue           string
	Side            PositionSide
	Size            float64
	EntryPrice      float64
	UnrealizedPnL   float64
	FundingReceived float64
}

// PairedPosition is a reconstructed funding arbitrage: a long leg on one
// venue matched with a short leg on another for the same symbol. The fields
// below are recomputed on every monitoring pass from live venue state;
// EntryAPR and CreatedAt come from the tracking store (or cold-start
// fallbacks when the process restarted since the position was opened).
type PairedPosition struct {
	Symbol          string
	LongVenue       string
	ShortVenue      string
	Size            float64 // average notional of the two legs
	Collateral      float64
	Leverage        int
	EntryAPR        float64 // annualized percent at execution time
	CurrentAPR      float64 // latest estimate, percent
	UnrealizedPnL   float64 // both legs summed
	FundingReceived float64 // both legs summed
	DurationHours   float64
	Long            RawPosition
	Short           RawPosition
	CreatedAt       time.Time
	LastUpdated     time.Time
}

// Balance is one asset balance on one venue.
type Balance struct {
	Venue     string
	Asset     string // "USDC", "BTC", ...
	Available float64
	Locked    float64
	Total     float64
}

// PortfolioSummary aggregates the state of all open paired positions.
type PortfolioSummary struct {
	TotalCapital       float64
	CapitalUtilization float64 // percent of capital tied up as collateral
	OpenPositions      int
	DailyPnL           float64
	UnrealizedPnL      float64
	FundingReceived    float64
	AverageAPR         float64
	Positions          []PairedPosition
	UpdatedAt          time.Time
}
