// Package session implements C6, the session lifecycle: it translates
// Transport-level connect/disconnect/subscribe events into Subscription
// Index mutations, exactly per spec §4.6. It is the one place the optional
// rate-limit layer (internal/ratelimit) and audit sink (internal/eventlog)
// attach to the core, per spec.md's Design Notes §9.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/brokerx/market-service/internal/catalog"
	"github.com/brokerx/market-service/internal/eventlog"
	"github.com/brokerx/market-service/internal/fanout"
	"github.com/brokerx/market-service/internal/ratelimit"
	"github.com/brokerx/market-service/internal/subscription"
)

const (
	actionSubscribe   = "subscribe"
	actionAdd         = "add"
	actionRemove      = "remove"
	actionUnsubscribe = "unsubscribe"
)

// ActionPayload is the body of an application-level
// /app/market/subscribe message (spec §4.6, §6).
type ActionPayload struct {
	Action  *string  `json:"action,omitempty"`
	Symbols []string `json:"symbols"`
	UserID  *string  `json:"userId,omitempty"`
}

// Handler is C6. It holds no business state of its own beyond the
// authenticated identity of each currently-connected session — Subscription
// state lives entirely in the Index.
type Handler struct {
	catalog    *catalog.Catalog
	index      *subscription.Index
	dispatcher *fanout.Dispatcher
	limiter    ratelimit.Limiter
	eventlog   eventlog.Sink
	logger     *zap.Logger

	mu         sync.Mutex
	identities map[string]string // sessionId -> userId, set at connect
}

// New builds a Handler.
func New(cat *catalog.Catalog, idx *subscription.Index, dispatcher *fanout.Dispatcher, limiter ratelimit.Limiter, sink eventlog.Sink, logger *zap.Logger) *Handler {
	return &Handler{
		catalog:    cat,
		index:      idx,
		dispatcher: dispatcher,
		limiter:    limiter,
		eventlog:   sink,
		logger:     logger,
		identities: make(map[string]string),
	}
}

// OnConnect records the identity the Authenticator already resolved for
// this connection (spec §4.6: "the Authenticator has already attached an
// identity; record nothing yet [in the Index]. The first subscribe creates
// the Subscription.").
func (h *Handler) OnConnect(sessionID, userID string) {
	h.mu.Lock()
	h.identities[sessionID] = userID
	h.mu.Unlock()
}

// OnSubscribeTopic handles a client topic subscription to
// /topic/market/<symbol> or /topic/market/all: spec §4.6 says this only
// touches liveness, the Dispatcher is not invoked immediately.
func (h *Handler) OnSubscribeTopic(sessionID string) {
	h.index.Touch(sessionID)
}

// OnSubscribeAction handles one /app/market/subscribe message, implementing
// spec §4.6's validation and action dispatch in order.
func (h *Handler) OnSubscribeAction(ctx context.Context, sessionID string, raw []byte) {
	if h.limiter != nil && !h.limiter.Allow(ctx, sessionID) {
		h.dispatcher.SendError(ctx, sessionID, "Rate limit exceeded, please slow down")
		return
	}

	var payload ActionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.dispatcher.SendError(ctx, sessionID, "Malformed subscribe request")
		return
	}

	// Step 1: empty/absent symbols.
	if len(payload.Symbols) == 0 {
		h.dispatcher.SendError(ctx, sessionID, "No symbols provided for subscription")
		return
	}

	// Step 2: canonicalize, drop unknown symbols (log a warning per drop).
	filtered := make([]string, 0, len(payload.Symbols))
	for _, s := range payload.Symbols {
		symbol := catalog.Canonicalize(s)
		if !h.catalog.Has(symbol) {
			h.logger.Warn("dropping unknown symbol from subscribe request",
				zap.String("sessionId", sessionID), zap.String("symbol", symbol))
			continue
		}
		filtered = append(filtered, symbol)
	}

	action := actionSubscribe
	if payload.Action != nil {
		action = strings.ToLower(*payload.Action)
	}

	// Step 3: nothing survived filtering. action:"unsubscribe" is the one
	// exception spec.md's own Design Notes call out: the source treats an
	// all-unknown-symbols unsubscribe request as "unsubscribe from
	// everything" rather than an error, so that case falls through to
	// dispatch instead of erroring here.
	if len(filtered) == 0 && action != actionUnsubscribe {
		h.dispatcher.SendError(ctx, sessionID, "None of the requested symbols are available")
		return
	}

	// OQ-3 (SPEC_FULL): the connection's authenticated identity always wins
	// over any client-supplied userId in the payload.
	userID := h.identityOf(sessionID)

	h.dispatch(ctx, sessionID, userID, action, filtered)
}

func (h *Handler) dispatch(ctx context.Context, sessionID, userID, action string, filtered []string) {
	switch action {
	case actionSubscribe:
		h.index.Subscribe(sessionID, userID, filtered)
		h.publishLifecycle(ctx, "subscribe", sessionID, userID, filtered)
		h.dispatcher.SendSuccess(ctx, sessionID, filtered)

	case actionAdd:
		h.index.AddSymbols(sessionID, filtered)
		h.publishLifecycle(ctx, "add", sessionID, userID, filtered)
		h.dispatcher.SendSuccess(ctx, sessionID, filtered)

	case actionRemove:
		h.index.RemoveSymbols(sessionID, filtered)
		h.publishLifecycle(ctx, "remove", sessionID, userID, filtered)
		h.dispatcher.SendSuccess(ctx, sessionID, filtered)

	case actionUnsubscribe:
		if len(filtered) == 0 {
			// All requested symbols were unknown: drop the whole
			// subscription rather than erroring (spec.md Design Notes,
			// SPEC_FULL OQ-2).
			h.index.Remove(sessionID)
			h.publishLifecycle(ctx, "unsubscribe", sessionID, userID, []string{"all"})
			h.dispatcher.SendSuccess(ctx, sessionID, []string{"all"})
			return
		}
		h.index.RemoveSymbols(sessionID, filtered)
		h.publishLifecycle(ctx, "unsubscribe", sessionID, userID, filtered)
		h.dispatcher.SendSuccess(ctx, sessionID, filtered)

	default:
		h.dispatcher.SendError(ctx, sessionID, "Unknown action: "+action)
	}
}

// OnDisconnect removes the session's Subscription entirely and forgets its
// identity and rate-limit bucket. Errors are swallowed per spec §4.6.
func (h *Handler) OnDisconnect(ctx context.Context, sessionID string) {
	h.index.Remove(sessionID)
	h.publishLifecycle(ctx, "disconnect", sessionID, h.identityOf(sessionID), nil)

	h.mu.Lock()
	delete(h.identities, sessionID)
	h.mu.Unlock()

	if forgetter, ok := h.limiter.(*ratelimit.InProcess); ok {
		forgetter.Forget(sessionID)
	}
}

func (h *Handler) identityOf(sessionID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.identities[sessionID]; ok {
		return id
	}
	return "anonymous"
}

func (h *Handler) publishLifecycle(ctx context.Context, kind, sessionID, userID string, symbols []string) {
	if h.eventlog == nil {
		return
	}
	h.eventlog.PublishLifecycle(ctx, kind, sessionID, userID, symbols)
}
