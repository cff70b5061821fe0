// Package fanout implements C5, the fan-out dispatcher: it turns one tick
// Snapshot into per-symbol and bulk envelopes and hands them to the
// Transport, and renders the subscription_success/subscription_error
// replies C6 asks it to send. It never enumerates sessions itself — that is
// the Transport's job once handed a destination (spec §4.5).
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brokerx/market-service/internal/eventlog"
	"github.com/brokerx/market-service/internal/quote"
	"github.com/brokerx/market-service/internal/subscription"
	"github.com/brokerx/market-service/internal/tick"
	"github.com/brokerx/market-service/internal/transport"
)

const (
	topicPrefix       = "/topic/market/"
	topicAll          = "/topic/market/all"
	subscriptionQueue = "/queue/subscription"
)

// Envelope is the wire shape of every message this service sends, spec §6:
// {"type", "message"?, "data"?, "timestamp"}.
type Envelope struct {
	Type      string      `json:"type"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

const (
	TypeMarketData          = "market_data"
	TypeBulkMarketData      = "bulk_market_data"
	TypeSubscriptionSuccess = "subscription_success"
	TypeSubscriptionError   = "subscription_error"
)

// Dispatcher is C5. It is stateless aside from its collaborators: the
// Subscription Index it queries to decide who cares about a symbol, and the
// Transport it hands finished envelopes to.
type Dispatcher struct {
	transport transport.Transport
	index     *subscription.Index
	eventlog  eventlog.Sink
	logger    *zap.Logger
}

// New builds a Dispatcher. sink may be eventlog.Noop{} when the optional
// audit layer (spec.md Design Notes, supplemented in SPEC_FULL §9) is
// disabled.
func New(t transport.Transport, index *subscription.Index, sink eventlog.Sink, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{transport: t, index: index, eventlog: sink, logger: logger}
}

// DispatchTick realizes spec §4.5 steps 1-3: one market_data envelope per
// symbol that has at least one subscriber, and one bulk_market_data
// envelope, always, to /topic/market/all. Every envelope produced from this
// call carries snap.Timestamp (spec §8 invariant 2: tick coherence).
func (d *Dispatcher) DispatchTick(ctx context.Context, snap tick.Snapshot) {
	ts := quote.FormatTimestamp(snap.Timestamp)

	records := make(map[string]quote.MarketDataRecord, len(snap.Quotes))
	for symbol, q := range snap.Quotes {
		record := q.ToMarketDataRecord()
		records[symbol] = record

		subscribers := d.index.SubscribersOf(symbol)
		if len(subscribers) == 0 {
			continue
		}
		d.publish(ctx, topicPrefix+symbol, Envelope{
			Type:      TypeMarketData,
			Data:      record,
			Timestamp: ts,
		})
	}

	d.publish(ctx, topicAll, Envelope{
		Type:      TypeBulkMarketData,
		Data:      records,
		Timestamp: ts,
		Message:   fmt.Sprintf("Bulk market data update - %d symbols", len(records)),
	})

	if d.eventlog != nil {
		d.eventlog.PublishTick(ctx, snap)
	}
}

// SendSuccess delivers a subscription_success envelope for sessionID (spec
// §4.5, C6's "reply" collaborator).
func (d *Dispatcher) SendSuccess(ctx context.Context, sessionID string, symbols []string) {
	d.sendToSession(ctx, sessionID, Envelope{
		Type:      TypeSubscriptionSuccess,
		Message:   successMessage(symbols),
		Timestamp: quote.FormatTimestamp(time.Now()),
	})
}

// SendError delivers a subscription_error envelope for sessionID.
func (d *Dispatcher) SendError(ctx context.Context, sessionID string, reason string) {
	d.sendToSession(ctx, sessionID, Envelope{
		Type:      TypeSubscriptionError,
		Message:   reason,
		Timestamp: quote.FormatTimestamp(time.Now()),
	})
}

func successMessage(symbols []string) string {
	if len(symbols) == 1 && symbols[0] == "all" {
		return "Unsubscribed from all symbols"
	}
	return fmt.Sprintf("Subscription updated for %v", symbols)
}

func (d *Dispatcher) sendToSession(ctx context.Context, sessionID string, env Envelope) {
	destination := fmt.Sprintf("/user/%s%s", sessionID, subscriptionQueue)
	d.publish(ctx, destination, env)
}

func (d *Dispatcher) publish(ctx context.Context, destination string, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		d.logger.Error("failed to marshal envelope", zap.String("destination", destination), zap.Error(err))
		return
	}
	if err := d.transport.Deliver(ctx, destination, payload); err != nil {
		// spec §4.8: a delivery failure to one destination must not abort the
		// tick; log and continue with the rest.
		d.logger.Warn("transport delivery failed", zap.String("destination", destination), zap.Error(err))
	}
}
