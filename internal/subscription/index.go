// Package subscription implements C3, the subscription index: the
// concurrent bidirectional session<->symbol mapping with liveness-based
// expiry. The bookkeeping style is lifted straight from the teacher's
// hub.Hub — one mutex guarding both sides of the bidirectional map so a
// cross-table update for a given session is atomic to any reader.
package subscription

import (
	"sync"
	"time"

	"github.com/brokerx/market-service/internal/catalog"
)

// StringSet is an immutable-by-convention snapshot of session or symbol
// identifiers returned to callers.
type StringSet map[string]struct{}

// NewStringSet builds a StringSet from a slice, canonicalizing nothing
// (callers canonicalize symbols before this point).
func NewStringSet(items ...string) StringSet {
	s := make(StringSet, len(items))
	for _, i := range items {
		s[i] = struct{}{}
	}
	return s
}

func (s StringSet) Has(item string) bool {
	_, ok := s[item]
	return ok
}

// Subscription is a session's interest set and liveness metadata. Values
// returned by the Index are copies; mutating one has no effect on index
// state.
type Subscription struct {
	SessionID         string
	UserID            string
	SubscribedSymbols StringSet
	CreatedAt         time.Time
	LastActivity      time.Time
	Active            bool
}

type record struct {
	sessionID    string
	userID       string
	symbols      map[string]struct{}
	createdAt    time.Time
	lastActivity time.Time
	active       bool
}

func (r *record) snapshot() Subscription {
	symbols := make(StringSet, len(r.symbols))
	for s := range r.symbols {
		symbols[s] = struct{}{}
	}
	return Subscription{
		SessionID:         r.sessionID,
		UserID:            r.userID,
		SubscribedSymbols: symbols,
		CreatedAt:         r.createdAt,
		LastActivity:      r.lastActivity,
		Active:            r.active,
	}
}

// Index owns the bySession and bySymbol tables.
type Index struct {
	mu      sync.RWMutex
	timeout time.Duration

	bySession map[string]*record
	bySymbol  map[string]map[string]struct{}

	now func() time.Time
}

// New builds an empty Index. timeout is the liveness window (spec default:
// 5 minutes); the boundary is strict, exactly-timeout-old is invalid.
func New(timeout time.Duration) *Index {
	return &Index{
		timeout:   timeout,
		bySession: make(map[string]*record),
		bySymbol:  make(map[string]map[string]struct{}),
		now:       time.Now,
	}
}

func (idx *Index) clock() time.Time { return idx.now() }

func (idx *Index) isValidLocked(r *record) bool {
	if !r.active {
		return false
	}
	return r.lastActivity.After(idx.clock().Add(-idx.timeout))
}

// canonicalSet upper-cases every symbol in symbols into a fresh set.
func canonicalSet(symbols []string) map[string]struct{} {
	out := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		out[catalog.Canonicalize(s)] = struct{}{}
	}
	return out
}

func (idx *Index) addToSymbolLocked(symbol, sessionID string) {
	set, ok := idx.bySymbol[symbol]
	if !ok {
		set = make(map[string]struct{})
		idx.bySymbol[symbol] = set
	}
	set[sessionID] = struct{}{}
}

func (idx *Index) removeFromSymbolLocked(symbol, sessionID string) {
	set, ok := idx.bySymbol[symbol]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(idx.bySymbol, symbol)
	}
}

// Subscribe creates a Subscription for sessionId if none exists, or wholesale
// replaces its symbol set otherwise, refreshing lastActivity either way. A
// Subscribe for a sessionId whose record was Deactivate'd replaces that
// record with a new Subscription (fresh createdAt, the given userID). An
// empty symbols argument is a no-op: callers are expected to have validated
// non-emptiness upstream.
func (idx *Index) Subscribe(sessionID, userID string, symbols []string) {
	if len(symbols) == 0 {
		return
	}
	next := canonicalSet(symbols)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	now := idx.clock()
	r, ok := idx.bySession[sessionID]
	if !ok || !r.active {
		r = &record{
			sessionID:    sessionID,
			userID:       userID,
			symbols:      make(map[string]struct{}),
			createdAt:    now,
			lastActivity: now,
			active:       true,
		}
		idx.bySession[sessionID] = r
	}

	for s := range r.symbols {
		if _, keep := next[s]; !keep {
			idx.removeFromSymbolLocked(s, sessionID)
		}
	}
	for s := range next {
		idx.addToSymbolLocked(s, sessionID)
	}
	r.symbols = next
	r.lastActivity = now
	r.active = true
}

// AddSymbols unions symbols into an existing, active subscription. No-op if
// the session is unknown or inactive.
func (idx *Index) AddSymbols(sessionID string, symbols []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	r, ok := idx.bySession[sessionID]
	if !ok || !r.active {
		return
	}
	for _, s := range symbols {
		canonical := catalog.Canonicalize(s)
		r.symbols[canonical] = struct{}{}
		idx.addToSymbolLocked(canonical, sessionID)
	}
	r.lastActivity = idx.clock()
}

// RemoveSymbols differences symbols out of an existing, active subscription.
// No-op if the session is unknown or inactive.
func (idx *Index) RemoveSymbols(sessionID string, symbols []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	r, ok := idx.bySession[sessionID]
	if !ok || !r.active {
		return
	}
	for _, s := range symbols {
		canonical := catalog.Canonicalize(s)
		delete(r.symbols, canonical)
		idx.removeFromSymbolLocked(canonical, sessionID)
	}
	r.lastActivity = idx.clock()
}

// Remove drops the Subscription entirely, idempotently.
func (idx *Index) Remove(sessionID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(sessionID)
}

func (idx *Index) removeLocked(sessionID string) {
	r, ok := idx.bySession[sessionID]
	if !ok {
		return
	}
	for s := range r.symbols {
		idx.removeFromSymbolLocked(s, sessionID)
	}
	delete(idx.bySession, sessionID)
}

// Deactivate marks a subscription inactive and drops it from the reverse
// map, but keeps the record so a later Subscribe with the same sessionId is
// treated as a fresh subscription rather than a resume.
func (idx *Index) Deactivate(sessionID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	r, ok := idx.bySession[sessionID]
	if !ok {
		return
	}
	for s := range r.symbols {
		idx.removeFromSymbolLocked(s, sessionID)
	}
	r.active = false
}

// SubscribersOf returns a snapshot of the sessions subscribed to symbol
// (canonicalized), empty if none.
func (idx *Index) SubscribersOf(symbol string) StringSet {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	set, ok := idx.bySymbol[catalog.Canonicalize(symbol)]
	out := make(StringSet, len(set))
	if !ok {
		return out
	}
	for s := range set {
		out[s] = struct{}{}
	}
	return out
}

// Touch refreshes lastActivity for sessionId if it exists. No-op otherwise.
func (idx *Index) Touch(sessionID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	r, ok := idx.bySession[sessionID]
	if !ok {
		return
	}
	r.lastActivity = idx.clock()
}

// GetSubscription returns a copy of the subscription for sessionId, if any.
func (idx *Index) GetSubscription(sessionID string) (Subscription, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.bySession[sessionID]
	if !ok {
		return Subscription{}, false
	}
	return r.snapshot(), true
}

// ActiveCount is the number of currently valid subscriptions.
func (idx *Index) ActiveCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for _, r := range idx.bySession {
		if idx.isValidLocked(r) {
			n++
		}
	}
	return n
}

// SweepExpired removes every subscription that has fallen out of validity
// (inactive, or idle past the liveness window). Idempotent against a stable
// clock.
func (idx *Index) SweepExpired() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var expired []string
	for id, r := range idx.bySession {
		if !idx.isValidLocked(r) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		idx.removeLocked(id)
	}
	return len(expired)
}
