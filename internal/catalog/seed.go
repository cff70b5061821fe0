package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/brokerx/market-service/internal/quote"
)

// seedEntry mirrors the on-disk JSON shape: a small array of
// {id, symbol, name, lastPrice, bid, ask, volume}.
type seedEntry struct {
	ID        *int64           `json:"id"`
	Symbol    *string          `json:"symbol"`
	Name      string           `json:"name"`
	LastPrice *decimal.Decimal `json:"lastPrice"`
	Bid       *decimal.Decimal `json:"bid"`
	Ask       *decimal.Decimal `json:"ask"`
	Volume    *int64           `json:"volume"`
}

// LoadSeedFile reads and parses the seed catalog at path. A missing or
// unreadable file is a fatal startup error (spec §4.8); individual malformed
// entries are logged and skipped rather than failing the whole load.
func LoadSeedFile(path string, logger *zap.Logger) ([]quote.Quote, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load seed catalog %q: %w", path, err)
	}

	var entries []seedEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse seed catalog %q: %w", path, err)
	}

	now := time.Now()
	quotes := make([]quote.Quote, 0, len(entries))
	for i, e := range entries {
		q, err := e.toQuote(now)
		if err != nil {
			logger.Warn("skipping malformed seed entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		quotes = append(quotes, q)
	}

	logger.Info("loaded seed catalog", zap.Int("count", len(quotes)), zap.String("path", path))
	return quotes, nil
}

func (e seedEntry) toQuote(now time.Time) (quote.Quote, error) {
	if e.ID == nil {
		return quote.Quote{}, fmt.Errorf("missing id")
	}
	if e.Symbol == nil || strings.TrimSpace(*e.Symbol) == "" {
		return quote.Quote{}, fmt.Errorf("missing symbol")
	}
	if e.LastPrice == nil || e.Bid == nil || e.Ask == nil {
		return quote.Quote{}, fmt.Errorf("missing price field")
	}

	volume := int64(0)
	if e.Volume != nil {
		volume = quote.ClampVolume(*e.Volume)
	}

	return quote.Quote{
		ID:        *e.ID,
		Symbol:    Canonicalize(*e.Symbol),
		Name:      e.Name,
		LastPrice: *e.LastPrice,
		Bid:       *e.Bid,
		Ask:       *e.Ask,
		Volume:    volume,
		Timestamp: now,
	}, nil
}
