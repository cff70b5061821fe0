package session_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/brokerx/market-service/internal/catalog"
	"github.com/brokerx/market-service/internal/eventlog"
	"github.com/brokerx/market-service/internal/fanout"
	"github.com/brokerx/market-service/internal/quote"
	"github.com/brokerx/market-service/internal/session"
	"github.com/brokerx/market-service/internal/subscription"
)

type delivery struct {
	destination string
	payload     []byte
}

type fakeTransport struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (f *fakeTransport) Deliver(ctx context.Context, destination string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, delivery{destination, payload})
	return nil
}

func (f *fakeTransport) last(destination string) (fanout.Envelope, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var env fanout.Envelope
	found := false
	for _, d := range f.deliveries {
		if d.destination == destination {
			_ = json.Unmarshal(d.payload, &env)
			found = true
		}
	}
	return env, found
}

func newCatalogWithSymbols(symbols ...string) *catalog.Catalog {
	cat := catalog.New()
	entries := make([]quote.Quote, 0, len(symbols))
	for i, s := range symbols {
		entries = append(entries, quote.Quote{
			ID:        int64(i + 1),
			Symbol:    s,
			LastPrice: decimal.NewFromFloat(100),
			Bid:       decimal.NewFromFloat(99.95),
			Ask:       decimal.NewFromFloat(100.05),
			Volume:    1000,
		})
	}
	cat.Load(entries)
	return cat
}

func newHandler(cat *catalog.Catalog) (*session.Handler, *subscription.Index, *fakeTransport) {
	idx := subscription.New(5 * time.Minute)
	transport := &fakeTransport{}
	dispatcher := fanout.New(transport, idx, eventlog.Noop{}, zap.NewNop())
	h := session.New(cat, idx, dispatcher, nil, eventlog.Noop{}, zap.NewNop())
	return h, idx, transport
}

func subscribeBody(t *testing.T, symbols []string) []byte {
	body, err := json.Marshal(map[string]interface{}{"symbols": symbols})
	if err != nil {
		t.Fatalf("marshal subscribe body: %v", err)
	}
	return body
}

// E1 (subscribe half): subscribing creates the subscription and replies
// success; tick delivery is covered in internal/fanout.
func TestOnSubscribeAction_KnownSymbol_CreatesSubscriptionAndSendsSuccess(t *testing.T) {
	cat := newCatalogWithSymbols("AAPL")
	h, idx, transport := newHandler(cat)

	h.OnConnect("s1", "u1")
	h.OnSubscribeAction(context.Background(), "s1", subscribeBody(t, []string{"aapl"}))

	sub, ok := idx.GetSubscription("s1")
	if !ok || !sub.SubscribedSymbols.Has("AAPL") {
		t.Fatalf("expected an active subscription to AAPL, got %+v, %v", sub, ok)
	}
	env, ok := transport.last("/user/s1/queue/subscription")
	if !ok || env.Type != fanout.TypeSubscriptionSuccess {
		t.Errorf("expected a subscription_success envelope, got %+v, %v", env, ok)
	}
}

// E2: subscribing to an unknown symbol only.
func TestOnSubscribeAction_AllUnknownSymbols_SendsError(t *testing.T) {
	cat := newCatalogWithSymbols("AAPL")
	h, idx, transport := newHandler(cat)

	h.OnConnect("s1", "u1")
	h.OnSubscribeAction(context.Background(), "s1", subscribeBody(t, []string{"ZZZZ"}))

	if _, ok := idx.GetSubscription("s1"); ok {
		t.Error("no subscription should be created when every symbol is unknown")
	}
	env, ok := transport.last("/user/s1/queue/subscription")
	if !ok || env.Type != fanout.TypeSubscriptionError {
		t.Errorf("expected a subscription_error envelope, got %+v, %v", env, ok)
	}
}

// E2b: a mix of known and unknown symbols keeps the known ones.
func TestOnSubscribeAction_PartiallyUnknownSymbols_KeepsKnownOnes(t *testing.T) {
	cat := newCatalogWithSymbols("AAPL")
	h, idx, _ := newHandler(cat)

	h.OnConnect("s1", "u1")
	h.OnSubscribeAction(context.Background(), "s1", subscribeBody(t, []string{"AAPL", "ZZZZ"}))

	sub, ok := idx.GetSubscription("s1")
	if !ok || !sub.SubscribedSymbols.Has("AAPL") || sub.SubscribedSymbols.Has("ZZZZ") {
		t.Errorf("expected only AAPL to survive filtering, got %+v, %v", sub, ok)
	}
}

// E3: empty symbols list is rejected up front.
func TestOnSubscribeAction_EmptySymbols_SendsError(t *testing.T) {
	cat := newCatalogWithSymbols("AAPL")
	h, idx, transport := newHandler(cat)

	h.OnConnect("s1", "u1")
	h.OnSubscribeAction(context.Background(), "s1", subscribeBody(t, nil))

	if _, ok := idx.GetSubscription("s1"); ok {
		t.Error("no subscription should be created for an empty symbols request")
	}
	env, _ := transport.last("/user/s1/queue/subscription")
	if env.Type != fanout.TypeSubscriptionError {
		t.Errorf("expected subscription_error, got %q", env.Type)
	}
}

// E4: add then remove narrows back down without dropping the session.
func TestOnSubscribeAction_AddThenRemove(t *testing.T) {
	cat := newCatalogWithSymbols("AAPL", "MSFT")
	h, idx, _ := newHandler(cat)

	h.OnConnect("s1", "u1")
	h.OnSubscribeAction(context.Background(), "s1", subscribeBody(t, []string{"AAPL"}))

	addBody, _ := json.Marshal(map[string]interface{}{"action": "add", "symbols": []string{"MSFT"}})
	h.OnSubscribeAction(context.Background(), "s1", addBody)

	sub, _ := idx.GetSubscription("s1")
	if !sub.SubscribedSymbols.Has("AAPL") || !sub.SubscribedSymbols.Has("MSFT") {
		t.Fatalf("expected both symbols after add, got %+v", sub)
	}

	removeBody, _ := json.Marshal(map[string]interface{}{"action": "remove", "symbols": []string{"AAPL"}})
	h.OnSubscribeAction(context.Background(), "s1", removeBody)

	sub, _ = idx.GetSubscription("s1")
	if sub.SubscribedSymbols.Has("AAPL") || !sub.SubscribedSymbols.Has("MSFT") {
		t.Errorf("expected only MSFT after remove, got %+v", sub)
	}
}

// E5: disconnect cleans up every trace of the session.
func TestOnDisconnect_RemovesSubscriptionAndIdentity(t *testing.T) {
	cat := newCatalogWithSymbols("AAPL")
	h, idx, _ := newHandler(cat)

	h.OnConnect("s1", "u1")
	h.OnSubscribeAction(context.Background(), "s1", subscribeBody(t, []string{"AAPL"}))

	h.OnDisconnect(context.Background(), "s1")

	if _, ok := idx.GetSubscription("s1"); ok {
		t.Error("OnDisconnect must remove the subscription")
	}
	if idx.SubscribersOf("AAPL").Has("s1") {
		t.Error("OnDisconnect must drop the session from every reverse entry")
	}
}

// Unknown action is rejected without mutating state.
func TestOnSubscribeAction_UnknownAction_SendsError(t *testing.T) {
	cat := newCatalogWithSymbols("AAPL")
	h, idx, transport := newHandler(cat)

	h.OnConnect("s1", "u1")
	body, _ := json.Marshal(map[string]interface{}{"action": "frobnicate", "symbols": []string{"AAPL"}})
	h.OnSubscribeAction(context.Background(), "s1", body)

	if _, ok := idx.GetSubscription("s1"); ok {
		t.Error("an unknown action must not create a subscription")
	}
	env, _ := transport.last("/user/s1/queue/subscription")
	if env.Type != fanout.TypeSubscriptionError {
		t.Errorf("expected subscription_error for an unknown action, got %q", env.Type)
	}
}

// OQ-3: the connection's authenticated identity wins over a payload userId.
func TestOnSubscribeAction_ConnectionIdentityWinsOverPayloadUserID(t *testing.T) {
	cat := newCatalogWithSymbols("AAPL")
	h, idx, _ := newHandler(cat)

	h.OnConnect("s1", "authenticated-user")
	body, _ := json.Marshal(map[string]interface{}{"symbols": []string{"AAPL"}, "userId": "spoofed-user"})
	h.OnSubscribeAction(context.Background(), "s1", body)

	sub, _ := idx.GetSubscription("s1")
	if sub.UserID != "authenticated-user" {
		t.Errorf("UserID = %q, want the connection's authenticated identity", sub.UserID)
	}
}

// OQ-2: an all-unknown-symbols unsubscribe request drops the whole
// subscription instead of erroring, mirroring the source's own behavior.
func TestOnSubscribeAction_UnsubscribeAllUnknown_DropsWholeSubscription(t *testing.T) {
	cat := newCatalogWithSymbols("AAPL")
	h, idx, transport := newHandler(cat)

	h.OnConnect("s1", "u1")
	h.OnSubscribeAction(context.Background(), "s1", subscribeBody(t, []string{"AAPL"}))

	body, _ := json.Marshal(map[string]interface{}{"action": "unsubscribe", "symbols": []string{"ZZZZ"}})
	h.OnSubscribeAction(context.Background(), "s1", body)

	if _, ok := idx.GetSubscription("s1"); ok {
		t.Error("an all-unknown-symbols unsubscribe must drop the whole subscription")
	}
	env, ok := transport.last("/user/s1/queue/subscription")
	if !ok || env.Type != fanout.TypeSubscriptionSuccess {
		t.Errorf("expected subscription_success for the unsubscribe-all case, got %+v, %v", env, ok)
	}
}

func TestOnSubscribeAction_MalformedJSON_SendsError(t *testing.T) {
	cat := newCatalogWithSymbols("AAPL")
	h, idx, transport := newHandler(cat)

	h.OnConnect("s1", "u1")
	h.OnSubscribeAction(context.Background(), "s1", []byte("{not json"))

	if _, ok := idx.GetSubscription("s1"); ok {
		t.Error("malformed payload must not create a subscription")
	}
	env, _ := transport.last("/user/s1/queue/subscription")
	if env.Type != fanout.TypeSubscriptionError {
		t.Errorf("expected subscription_error for malformed JSON, got %q", env.Type)
	}
}
