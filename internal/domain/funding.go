package domain

import "time"

// FundingQuote is one venue's funding rate for one perpetual instrument at a
// single collection instant. Quotes are immutable; the next collection cycle
// supersedes them rather than mutating them.
type FundingQuote struct {
	Symbol          string    // e.g. "BTC-PERP"
	Venue           string    // e.g. "hyperliquid"
	Rate            float64   // periodic rate as a signed fraction (-0.01 = -1%)
	NextFundingTime time.Time // next settlement for this instrument
	APR             float64   // annualized percent: Rate * periodsPerYear * 100
	ObservedAt      time.Time
}
