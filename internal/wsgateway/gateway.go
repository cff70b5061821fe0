// Package wsgateway is the one production realization of the abstract
// Transport spec.md treats as out of scope: a persistent, bidirectional
// WebSocket channel at /ws/market. It is built the way the teacher's
// gateway.ClientAdapter + hub.Hub pair is — gobwas/ws framing, a
// per-connection send channel with drop-on-full backpressure, ping/pong
// keepalive — generalized from the teacher's one fixed namespace (ticker
// symbols) to arbitrary destination strings, and carrying a minimal
// STOMP-shaped frame instead of the teacher's bespoke {action,payload}
// shape (SPEC_FULL §6).
package wsgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brokerx/market-service/internal/auth"
	"github.com/brokerx/market-service/internal/transport"
)

const maxFrameSize = 512 * 1024

// Frame is this repo's concrete realization of the abstracted wire protocol
// (SPEC_FULL §6): a minimal STOMP-shaped envelope, not the full STOMP wire
// format, consistent with spec.md treating transport framing as out of
// scope beyond "delivers opaque payloads to a named destination."
type Frame struct {
	Command     string          `json:"command"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// Recognized frame commands (spec §6).
const (
	CommandConnect     = "CONNECT"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandSend        = "SEND"
	CommandDisconnect  = "DISCONNECT"
)

// subscribeActionDestination is the one application-level SEND destination
// this service recognizes (spec §4.6, §6).
const subscribeActionDestination = "/app/market/subscribe"

// Lifecycle is the subset of internal/session.Handler the Gateway drives.
// Declared locally so this package depends only on the methods it calls,
// not on session's full surface.
type Lifecycle interface {
	OnConnect(sessionID, userID string)
	OnSubscribeTopic(sessionID string)
	OnSubscribeAction(ctx context.Context, sessionID string, body []byte)
	OnDisconnect(ctx context.Context, sessionID string)
}

// Gateway is transport.Transport's one production implementation: a
// registry mapping destination -> subscribing connections, built the way
// the teacher's hub.Hub maps symbol -> subscribing clients. It is
// intentionally a separate table from internal/subscription.Index: this
// registry is the transport's own delivery-routing table, while the Index
// tracks business-level interest (SPEC_FULL §6).
type Gateway struct {
	mu           sync.RWMutex
	destinations map[string]map[*conn]struct{}
	sessions     map[string]*conn

	auth      auth.Authenticator
	lifecycle Lifecycle
	logger    *zap.Logger
}

var _ transport.Transport = (*Gateway)(nil)

// NewGateway builds a Gateway. lifecycle is set separately via SetLifecycle:
// the Session Lifecycle handler is itself built from a Dispatcher that
// wraps this Gateway as its Transport, so the two can't be constructed in a
// single expression — main.go wires Gateway, then Dispatcher, then
// Handler, then calls SetLifecycle before serving any connection.
func NewGateway(authenticator auth.Authenticator, logger *zap.Logger) *Gateway {
	return &Gateway{
		destinations: make(map[string]map[*conn]struct{}),
		sessions:     make(map[string]*conn),
		auth:         authenticator,
		logger:       logger,
	}
}

// SetLifecycle attaches the Session Lifecycle handler. Must be called
// before ServeHTTP serves its first connection.
func (g *Gateway) SetLifecycle(lifecycle Lifecycle) {
	g.lifecycle = lifecycle
}

// ServeHTTP upgrades an incoming HTTP request to a WebSocket connection at
// /ws/market. The bearer token is validated before the upgrade, so an
// authentication failure never creates a session (spec §4.8).
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := g.auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newConn(netConn, uuid.NewString(), identity.UserID, g, g.logger)
	g.register(c)
	g.lifecycle.OnConnect(c.sessionID, c.userID)
	c.start()
}

func (g *Gateway) register(c *conn) {
	g.mu.Lock()
	g.sessions[c.sessionID] = c
	g.mu.Unlock()
}

func (g *Gateway) unregister(c *conn) {
	g.mu.Lock()
	delete(g.sessions, c.sessionID)
	for dest, set := range g.destinations {
		delete(set, c)
		if len(set) == 0 {
			delete(g.destinations, dest)
		}
	}
	g.mu.Unlock()
	g.lifecycle.OnDisconnect(context.Background(), c.sessionID)
}

func (g *Gateway) subscribe(c *conn, destination string) {
	g.mu.Lock()
	set, ok := g.destinations[destination]
	if !ok {
		set = make(map[*conn]struct{})
		g.destinations[destination] = set
	}
	set[c] = struct{}{}
	g.mu.Unlock()
}

func (g *Gateway) unsubscribe(c *conn, destination string) {
	g.mu.Lock()
	if set, ok := g.destinations[destination]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(g.destinations, destination)
		}
	}
	g.mu.Unlock()
}

// Deliver implements transport.Transport. Destinations under /user/<id>/...
// route directly to that session's connection, the STOMP user-destination
// convention spec §6 names; every other destination fans out to whichever
// connections issued a SUBSCRIBE frame for it.
func (g *Gateway) Deliver(ctx context.Context, destination string, payload []byte) error {
	if sessionID, ok := sessionDestination(destination); ok {
		g.mu.RLock()
		c, ok := g.sessions[sessionID]
		g.mu.RUnlock()
		if !ok {
			return nil // spec §4.8: unknown/disconnected session is a no-op
		}
		c.send(payload)
		return nil
	}

	g.mu.RLock()
	set := g.destinations[destination]
	targets := make([]*conn, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	for _, c := range targets {
		c.send(payload)
	}
	return nil
}

func sessionDestination(destination string) (sessionID string, ok bool) {
	const prefix = "/user/"
	if !strings.HasPrefix(destination, prefix) {
		return "", false
	}
	rest := destination[len(prefix):]
	i := strings.Index(rest, "/")
	if i < 0 {
		return "", false
	}
	return rest[:i], true
}
