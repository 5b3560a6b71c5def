package domain

import "time"

// Opportunity is the best receiving long/short venue pairing for one symbol
// in one detection cycle. Opportunities are rebuilt from scratch every cycle
// and never persisted across cycles.
//
// Invariants: LongVenue != ShortVenue, and APR > 0 by construction (pairings
// where neither leg receives funding are never emitted).
type Opportunity struct {
	ID          string
	Symbol      string
	LongVenue   string  // venue where the long leg is held (receives when rate < 0)
	ShortVenue  string  // venue where the short leg is held (receives when rate > 0)
	LongRate    float64 // long venue's periodic rate, signed fraction
	ShortRate   float64 // short venue's periodic rate, signed fraction
	LongAPR     float64 // annualized percent on the long venue
	ShortAPR    float64 // annualized percent on the short venue
	NetRate     float64 // ShortRate - LongRate
	APR         float64 // summed receiving contributions, annualized percent
	Confidence  float64 // [0,1], from quote spread and venue count
	DetectedAt  time.Time

	// NextFundingTime is the earliest upcoming settlement across the two
	// legs; zero when neither venue reported one.
	NextFundingTime time.Time

	// Enrichment added by the analyzer; zero until scored.
	EstProfit1k float64 // estimated daily profit at 1000 USDC reference capital
	RiskScore   float64 // [0,1], 0 = safe
	Priority    float64 // execution priority, sort key
}
