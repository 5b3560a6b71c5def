// Package analyzer filters detected opportunities through ordered entry
// gates and scores the survivors for execution priority.
package analyzer

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/config"
	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// majorSymbols get a lower liquidity risk weight.
var majorSymbols = map[string]bool{
	"BTC-PERP":  true,
	"ETH-PERP":  true,
	"SOL-PERP":  true,
	"AVAX-PERP": true,
}

// Analyzer applies the entry gates and enriches passing opportunities with
// priority, risk, and profit estimates.
type Analyzer struct {
	minEntryAPR      float64
	minConfidencePct float64
	fundingBuffer    time.Duration
	venues           map[string]bool
	logger           *slog.Logger
}

// New creates an Analyzer from the trading configuration.
func New(cfg config.TradingConfig, logger *slog.Logger) *Analyzer {
	venues := make(map[string]bool, len(cfg.SupportedVenues))
	for _, v := range cfg.SupportedVenues {
		venues[v] = true
	}
	return &Analyzer{
		minEntryAPR:      cfg.MinEntryAPR,
		minConfidencePct: cfg.MinConfidencePct,
		fundingBuffer:    time.Duration(cfg.FundingBufferMinutes) * time.Minute,
		venues:           venues,
		logger:           logger.With(slog.String("component", "analyzer")),
	}
}

// Filter runs each opportunity through the gates in order, stopping at the
// first failing gate. Survivors come back enriched and sorted by priority
// descending.
func (a *Analyzer) Filter(opps []domain.Opportunity, now time.Time) []domain.Opportunity {
	passed := make([]domain.Opportunity, 0, len(opps))
	for _, opp := range opps {
		if reason := a.rejectReason(opp, now); reason != "" {
			a.logger.Debug("opportunity rejected",
				slog.String("symbol", opp.Symbol),
				slog.String("gate", reason),
				slog.Float64("apr", opp.APR),
			)
			continue
		}
		opp.Priority = priority(opp.APR, opp.Confidence)
		opp.RiskScore = riskScore(opp.Symbol, opp.APR, opp.Confidence)
		opp.EstProfit1k = estDailyProfit(1000, opp)
		passed = append(passed, opp)
	}
	sort.Slice(passed, func(i, j int) bool {
		return passed[i].Priority > passed[j].Priority
	})
	return passed
}

// rejectReason evaluates the gates in their fixed order and returns the name
// of the first failing gate, or "" when all pass.
func (a *Analyzer) rejectReason(opp domain.Opportunity, now time.Time) string {
	if opp.APR < a.minEntryAPR {
		return "min_apr"
	}
	if !opp.NextFundingTime.IsZero() && opp.NextFundingTime.Sub(now) <= a.fundingBuffer {
		return "funding_imminent"
	}
	if opp.Confidence*100 < a.minConfidencePct {
		return "low_confidence"
	}
	if opp.LongVenue == opp.ShortVenue || !a.venues[opp.LongVenue] || !a.venues[opp.ShortVenue] {
		return "venue_pair"
	}
	return ""
}

// priority ranks opportunities for execution order. Rules are evaluated top
// down and the first match wins.
func priority(apr, conf float64) float64 {
	confPct := conf * 100
	switch {
	case confPct > 50:
		return apr * 1.5
	case apr > 500:
		return apr * 2.0
	default:
		return apr * (confPct / 10)
	}
}

// riskScore combines APR extremity, confidence, and liquidity into [0, 1];
// 0 is safest.
func riskScore(symbol string, apr, conf float64) float64 {
	aprRisk := math.Min(apr/1000, 0.4)
	confRisk := (1 - conf) * 0.5
	liquidityRisk := 0.2
	if majorSymbols[symbol] {
		liquidityRisk = 0.1
	}
	return math.Min((aprRisk+confRisk+liquidityRisk)/3, 1.0)
}

// estDailyProfit estimates funding income per day at the given capital. The
// settlement count per day follows the faster leg: hourly pairs settle 24
// times, 8-hour pairs 3 times.
func estDailyProfit(capital float64, opp domain.Opportunity) float64 {
	settlementsPerDay := 3.0
	if opp.LongVenue == "hyperliquid" || opp.ShortVenue == "hyperliquid" {
		settlementsPerDay = 24.0
	}
	return capital * math.Abs(opp.NetRate) * settlementsPerDay
}
