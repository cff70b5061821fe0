// Package catalog owns the mutable quote table (C1 of the spec): the
// canonical set of tradable instruments and their current price state.
package catalog

import (
	"strings"
	"sync"

	"github.com/brokerx/market-service/internal/quote"
)

// Canonicalize upper-cases a symbol and trims surrounding whitespace. Every
// symbol argument crossing a Catalog or Index boundary passes through this
// first.
func Canonicalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Catalog holds the mutable quote table keyed by canonical symbol. It is the
// exclusive owner of instrument state: only the Tick Engine calls Mutate,
// everyone else only reads.
type Catalog struct {
	mu   sync.RWMutex
	byID map[int64]string
	data map[string]quote.Quote
}

// New builds an empty Catalog; call Load to seed it.
func New() *Catalog {
	return &Catalog{
		byID: make(map[int64]string),
		data: make(map[string]quote.Quote),
	}
}

// Load replaces the catalog's contents with entries, keyed by their already
// canonical symbol.
func (c *Catalog) Load(entries []quote.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]quote.Quote, len(entries))
	c.byID = make(map[int64]string, len(entries))
	for _, q := range entries {
		c.data[q.Symbol] = q
		c.byID[q.ID] = q.Symbol
	}
}

// Get returns the current quote for symbol, canonicalizing first.
func (c *Catalog) Get(symbol string) (quote.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.data[Canonicalize(symbol)]
	return q, ok
}

// GetByID returns the quote with the given numeric id, looked up through the
// id -> symbol index that Load builds.
func (c *Catalog) GetByID(id int64) (quote.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	symbol, ok := c.byID[id]
	if !ok {
		return quote.Quote{}, false
	}
	q, ok := c.data[symbol]
	return q, ok
}

// Has reports whether symbol (canonicalized) is present in the catalog.
func (c *Catalog) Has(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.data[Canonicalize(symbol)]
	return ok
}

// Snapshot returns a point-in-time copy of the whole table. Callers never
// observe a mutation in progress.
func (c *Catalog) Snapshot() map[string]quote.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]quote.Quote, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// Symbols returns the canonical symbols currently present.
func (c *Catalog) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.data))
	for k := range c.data {
		out = append(out, k)
	}
	return out
}

// Mutate applies fn to the current quote for symbol and stores the result.
// Only the Tick Engine calls this. Reports false if symbol is unknown.
func (c *Catalog) Mutate(symbol string, fn func(quote.Quote) quote.Quote) (quote.Quote, bool) {
	canonical := Canonicalize(symbol)
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.data[canonical]
	if !ok {
		return quote.Quote{}, false
	}
	next := fn(current)
	next.Symbol = canonical
	c.data[canonical] = next
	return next, true
}
