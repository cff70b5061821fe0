// Package simulate implements C2, the price simulator: a pure
// (quote, rng, now) -> quote' transformer with no state of its own.
package simulate

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brokerx/market-service/internal/quote"
)

// RNG is the randomness source the simulator draws from. Tests supply a
// deterministic fake; production wires RealRNG over math/rand, following
// the same seam the teacher's generator uses for its Rand interface.
type RNG interface {
	NormFloat64() float64
}

const (
	// spreadBasisPoints is the fixed 0.1% spread ratio; bid and ask each sit
	// half of the resulting spread away from lastPrice.
	spreadBasisPoints = 0.001
	// priceFloor is the clamp applied if a simulated price would collapse to
	// zero or negative under high volatility.
	priceFloor = "0.01"
)

// Next advances q by one tick given volatility (the standard deviation of
// the simulated log-return) and the wall-clock time to stamp the result
// with. Zero volatility leaves prices unchanged but still refreshes
// timestamp and may still move volume.
func Next(q quote.Quote, rng RNG, volatility float64, now time.Time) quote.Quote {
	delta := rng.NormFloat64() * volatility

	lastPrice := q.LastPrice.Mul(decimal.NewFromFloat(1 + delta)).Round(2)
	if lastPrice.Sign() <= 0 {
		lastPrice, _ = decimal.NewFromString(priceFloor)
	}

	spread := lastPrice.Mul(decimal.NewFromFloat(spreadBasisPoints)).Round(2)
	halfSpread := spread.Div(decimal.NewFromInt(2)).Round(2)
	bid := lastPrice.Sub(halfSpread).Round(2)
	ask := lastPrice.Add(halfSpread).Round(2)

	volumeDelta := int64(math.Round(rng.NormFloat64() * 1000))
	volume := quote.ClampVolume(q.Volume + volumeDelta)

	return quote.Quote{
		ID:        q.ID,
		Symbol:    q.Symbol,
		Name:      q.Name,
		LastPrice: lastPrice,
		Bid:       bid,
		Ask:       ask,
		Volume:    volume,
		Timestamp: now,
	}
}
