// Package quote holds the market data record shared by every component:
// the Catalog stores it, the Simulator transforms it, the Dispatcher
// renders it into wire messages.
package quote

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one instrument's current price state. bid <= lastPrice <= ask is
// not enforced: the simulator can produce a briefly crossed quote under high
// volatility and callers must tolerate it.
type Quote struct {
	ID        int64
	Symbol    string
	Name      string
	LastPrice decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Volume    int64
	Timestamp time.Time
}

// Spread is ask-bid, or zero if either side is the zero value.
func (q Quote) Spread() decimal.Decimal {
	if q.Bid.IsZero() || q.Ask.IsZero() {
		return decimal.Zero
	}
	return q.Ask.Sub(q.Bid)
}

// MidPrice is (bid+ask)/2, falling back to lastPrice, then zero.
func (q Quote) MidPrice() decimal.Decimal {
	if !q.Bid.IsZero() && !q.Ask.IsZero() {
		return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
	}
	if !q.LastPrice.IsZero() {
		return q.LastPrice
	}
	return decimal.Zero
}

// ClampVolume enforces volume >= 0.
func ClampVolume(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// localDateTimeLayout mirrors java.time.LocalDateTime.toString(): no
// timezone suffix, microsecond precision trimmed of trailing zeros.
const localDateTimeLayout = "2006-01-02T15:04:05.999999"

// FormatTimestamp renders t the way every wire envelope in this service
// renders timestamps.
func FormatTimestamp(t time.Time) string {
	return t.Format(localDateTimeLayout)
}
