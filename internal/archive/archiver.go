// Package archive uploads per-cycle snapshots to blob storage so that
// funding data and trading decisions can be replayed offline.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Snapshot captures everything a single trading cycle observed and decided.
type Snapshot struct {
	Timestamp       time.Time                `json:"timestamp"`
	PairableSymbols []string                 `json:"pairable_symbols"`
	Detected        []domain.Opportunity     `json:"detected"`
	Candidates      []domain.Opportunity     `json:"candidates"`
	Executions      []domain.ExecutionRecord `json:"executions,omitempty"`
	Portfolio       *domain.PortfolioSummary `json:"portfolio,omitempty"`
}

// Archiver serializes cycle snapshots and writes them to blob storage under
// dated keys. Upload failures are logged, never surfaced to the trading loop.
type Archiver struct {
	writer domain.BlobWriter
	prefix string
	logger *slog.Logger
}

// New creates an Archiver writing under the given key prefix, e.g.
// "snapshots". An empty prefix stores objects at the bucket root.
func New(writer domain.BlobWriter, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With("component", "archiver"),
	}
}

// Store uploads the snapshot as a JSON object. The key encodes the cycle
// timestamp so objects list chronologically within a day.
func (a *Archiver) Store(ctx context.Context, snap Snapshot) error {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("archive: marshal snapshot: %w", err)
	}

	key := a.key(snap.Timestamp)
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("archive: store snapshot: %w", err)
	}

	a.logger.Debug("snapshot archived", "key", key, "bytes", len(data))
	return nil
}

func (a *Archiver) key(ts time.Time) string {
	ts = ts.UTC()
	name := fmt.Sprintf("%s/cycle-%s.json", ts.Format("2006/01/02"), ts.Format("150405"))
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}
