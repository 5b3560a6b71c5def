package collector

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Sanity bounds for an opportunity's APR. Anything outside is a data error,
// not an opportunity.
const (
	minValidAPR = 5.0    // percent
	maxValidAPR = 2000.0 // percent
)

// Detector searches the merged per-symbol quotes for the best long/short
// venue pairing and validates the result.
type Detector struct {
	minDetectAPR    float64
	supportedVenues map[string]bool
	logger          *slog.Logger
}

// NewDetector creates a Detector. minDetectAPR is the summed-contribution
// floor in percent; supportedVenues whitelists pairable venues.
func NewDetector(minDetectAPR float64, supportedVenues []string, logger *slog.Logger) *Detector {
	supported := make(map[string]bool, len(supportedVenues))
	for _, v := range supportedVenues {
		supported[v] = true
	}
	return &Detector{
		minDetectAPR:    minDetectAPR,
		supportedVenues: supported,
		logger:          logger.With(slog.String("component", "detector")),
	}
}

// Detect emits at most one opportunity per symbol: the ordered (long, short)
// venue pairing with the highest summed receiving contribution. The result
// is sorted by APR descending.
//
// Contribution rules: the long leg receives only when its rate is negative,
// the short leg only when its rate is positive. A pairing where neither leg
// receives scores zero and is never emitted.
func (d *Detector) Detect(merged MergedQuotes) []domain.Opportunity {
	opportunities := make([]domain.Opportunity, 0, len(merged))
	for symbol, byVenue := range merged {
		if opp, ok := d.bestPairing(symbol, byVenue); ok {
			if err := d.validate(opp); err != nil {
				d.logger.Warn("dropping invalid opportunity",
					slog.String("symbol", symbol),
					slog.String("reason", err.Error()),
				)
				continue
			}
			opportunities = append(opportunities, opp)
		}
	}
	sort.Slice(opportunities, func(i, j int) bool {
		return opportunities[i].APR > opportunities[j].APR
	})
	return opportunities
}

// bestPairing scans every ordered (long, short) venue pair for the symbol.
// Venues are enumerated in sorted-name order and a later pairing replaces an
// earlier one only with a strictly higher score, so ties resolve to the
// first pairing enumerated.
func (d *Detector) bestPairing(symbol string, byVenue map[string]domain.FundingQuote) (domain.Opportunity, bool) {
	venues := make([]string, 0, len(byVenue))
	for v := range byVenue {
		venues = append(venues, v)
	}
	sort.Strings(venues)

	var best domain.Opportunity
	bestScore := 0.0
	for _, longVenue := range venues {
		for _, shortVenue := range venues {
			if longVenue == shortVenue {
				continue
			}
			longQ := byVenue[longVenue]
			shortQ := byVenue[shortVenue]

			var longContribution, shortContribution float64
			if longQ.Rate < 0 {
				longContribution = math.Abs(longQ.APR)
			}
			if shortQ.Rate > 0 {
				shortContribution = math.Abs(shortQ.APR)
			}
			score := longContribution + shortContribution
			if score <= bestScore || score < d.minDetectAPR {
				continue
			}
			bestScore = score
			best = domain.Opportunity{
				ID:              uuid.NewString(),
				Symbol:          symbol,
				LongVenue:       longVenue,
				ShortVenue:      shortVenue,
				LongRate:        longQ.Rate,
				ShortRate:       shortQ.Rate,
				LongAPR:         longContribution,
				ShortAPR:        shortContribution,
				NetRate:         shortQ.Rate - longQ.Rate,
				APR:             score,
				Confidence:      confidence(longQ.Rate, shortQ.Rate, len(byVenue)),
				DetectedAt:      observedAtOrNow(longQ, shortQ),
				NextFundingTime: earliestFunding(longQ, shortQ),
			}
		}
	}
	return best, bestScore > 0
}

// earliestFunding returns the soonest upcoming settlement across the legs.
func earliestFunding(a, b domain.FundingQuote) time.Time {
	switch {
	case a.NextFundingTime.IsZero():
		return b.NextFundingTime
	case b.NextFundingTime.IsZero() || a.NextFundingTime.Before(b.NextFundingTime):
		return a.NextFundingTime
	default:
		return b.NextFundingTime
	}
}

// confidence scores a pairing from the rate spread, boosted when more than
// two venues quote the symbol. Result is in [0, 1].
func confidence(longRate, shortRate float64, numVenues int) float64 {
	spread := math.Abs(shortRate - longRate)
	conf := math.Min(spread*1000, 1.0)
	conf *= 1 + float64(numVenues-2)*0.1
	return math.Min(conf, 1.0)
}

func (d *Detector) validate(opp domain.Opportunity) error {
	if opp.LongVenue == opp.ShortVenue {
		return errSameVenue
	}
	if !d.supportedVenues[opp.LongVenue] || !d.supportedVenues[opp.ShortVenue] {
		return errUnsupportedVenue
	}
	if opp.APR <= minValidAPR || opp.APR >= maxValidAPR {
		return errAPROutOfRange
	}
	return nil
}

var (
	errSameVenue        = validationError("long and short venue identical")
	errUnsupportedVenue = validationError("venue not in supported set")
	errAPROutOfRange    = validationError("APR outside sanity bounds")
)

type validationError string

func (e validationError) Error() string { return string(e) }
