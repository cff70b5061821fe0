package wsgateway_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/brokerx/market-service/internal/auth"
	"github.com/brokerx/market-service/internal/catalog"
	"github.com/brokerx/market-service/internal/eventlog"
	"github.com/brokerx/market-service/internal/fanout"
	"github.com/brokerx/market-service/internal/quote"
	"github.com/brokerx/market-service/internal/session"
	"github.com/brokerx/market-service/internal/subscription"
	"github.com/brokerx/market-service/internal/tick"
	"github.com/brokerx/market-service/internal/wsgateway"
)

type anonymousAuthenticator struct{}

func (anonymousAuthenticator) Authenticate(ctx context.Context, header string) (auth.Identity, error) {
	return auth.Identity{UserID: auth.AnonymousUserID}, nil
}

// newTestServer wires a full Gateway -> Dispatcher -> Handler stack, the
// same construction order cmd/marketsvc/main.go uses, backed by a catalog
// seeded with one symbol.
func newTestServer(t *testing.T) (*httptest.Server, *subscription.Index, *fanout.Dispatcher) {
	cat := catalog.New()
	cat.Load([]quote.Quote{
		{ID: 1, Symbol: "AAPL", LastPrice: decimal.NewFromFloat(150), Bid: decimal.NewFromFloat(149.95), Ask: decimal.NewFromFloat(150.05), Volume: 1000},
	})
	idx := subscription.New(5 * time.Minute)
	gateway := wsgateway.NewGateway(anonymousAuthenticator{}, zap.NewNop())
	dispatcher := fanout.New(gateway, idx, eventlog.Noop{}, zap.NewNop())
	handler := session.New(cat, idx, dispatcher, nil, eventlog.Noop{}, zap.NewNop())
	gateway.SetLifecycle(handler)

	srv := httptest.NewServer(gateway)
	t.Cleanup(srv.Close)
	return srv, idx, dispatcher
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame wsgateway.Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) fanout.Envelope {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var env fanout.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestIntegration_SubscribeActionCreatesSubscriptionAndRepliesSuccess(t *testing.T) {
	srv, idx, _ := newTestServer(t)
	conn := dial(t, srv)

	// Delivery to /user/<sessionId>/... destinations routes directly off
	// the Gateway's session table; no prior SUBSCRIBE frame is needed to
	// receive the reply on the per-session subscription queue.
	body, _ := json.Marshal(map[string]interface{}{"symbols": []string{"AAPL"}})
	sendFrame(t, conn, wsgateway.Frame{
		Command:     wsgateway.CommandSend,
		Destination: "/app/market/subscribe",
		Body:        body,
	})

	env := readEnvelope(t, conn)
	if env.Type != fanout.TypeSubscriptionSuccess {
		t.Fatalf("envelope type = %q, want %q", env.Type, fanout.TypeSubscriptionSuccess)
	}

	deadline := time.Now().Add(2 * time.Second)
	for idx.ActiveCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if idx.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1 after a successful subscribe", idx.ActiveCount())
	}
}

func TestIntegration_ReceivesBulkMarketDataAfterSubscribingToAll(t *testing.T) {
	srv, _, dispatcher := newTestServer(t)
	conn := dial(t, srv)

	sendFrame(t, conn, wsgateway.Frame{Command: wsgateway.CommandSubscribe, Destination: "/topic/market/all"})

	// Give the server a moment to register the SUBSCRIBE before the tick
	// fires, then drive one broadcast tick directly rather than waiting on
	// the Engine's schedule.
	time.Sleep(50 * time.Millisecond)

	snap := tick.Snapshot{
		Timestamp: time.Now(),
		Quotes: map[string]quote.Quote{
			"AAPL": {Symbol: "AAPL", LastPrice: decimal.NewFromFloat(151)},
		},
	}
	dispatcher.DispatchTick(context.Background(), snap)

	env := readEnvelope(t, conn)
	if env.Type != fanout.TypeBulkMarketData {
		t.Errorf("envelope type = %q, want %q", env.Type, fanout.TypeBulkMarketData)
	}
}

func TestIntegration_UnknownSymbolRepliesError(t *testing.T) {
	srv, idx, _ := newTestServer(t)
	conn := dial(t, srv)

	body, _ := json.Marshal(map[string]interface{}{"symbols": []string{"ZZZZ"}})
	sendFrame(t, conn, wsgateway.Frame{
		Command:     wsgateway.CommandSend,
		Destination: "/app/market/subscribe",
		Body:        body,
	})

	env := readEnvelope(t, conn)
	if env.Type != fanout.TypeSubscriptionError {
		t.Errorf("envelope type = %q, want %q", env.Type, fanout.TypeSubscriptionError)
	}
	if idx.ActiveCount() != 0 {
		t.Error("no subscription should have been created for an all-unknown symbol request")
	}
}
