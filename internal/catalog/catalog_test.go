package catalog_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/brokerx/market-service/internal/catalog"
	"github.com/brokerx/market-service/internal/quote"
)

func newQuote(id int64, symbol string) quote.Quote {
	return quote.Quote{
		ID:        id,
		Symbol:    symbol,
		Name:      symbol + " Inc.",
		LastPrice: decimal.NewFromFloat(150.00),
		Bid:       decimal.NewFromFloat(149.95),
		Ask:       decimal.NewFromFloat(150.05),
		Volume:    1000,
	}
}

func TestGet_NormalizesSymbolCase(t *testing.T) {
	c := catalog.New()
	c.Load([]quote.Quote{newQuote(1, "AAPL")})

	for _, s := range []string{"aapl", "AAPL", "AaPl", " aapl "} {
		if _, ok := c.Get(s); !ok {
			t.Errorf("Get(%q): expected a hit", s)
		}
	}
}

func TestGet_Unknown(t *testing.T) {
	c := catalog.New()
	c.Load([]quote.Quote{newQuote(1, "AAPL")})

	if _, ok := c.Get("ZZZZ"); ok {
		t.Error("Get(ZZZZ): expected a miss")
	}
}

func TestGetByID(t *testing.T) {
	c := catalog.New()
	c.Load([]quote.Quote{newQuote(1, "AAPL"), newQuote(2, "MSFT")})

	q, ok := c.GetByID(2)
	if !ok || q.Symbol != "MSFT" {
		t.Errorf("GetByID(2) = %+v, %v; want MSFT, true", q, ok)
	}

	if _, ok := c.GetByID(999); ok {
		t.Error("GetByID(999): expected a miss")
	}
}

func TestHas(t *testing.T) {
	c := catalog.New()
	c.Load([]quote.Quote{newQuote(1, "AAPL")})

	if !c.Has("aapl") {
		t.Error("Has(aapl): expected true")
	}
	if c.Has("ZZZZ") {
		t.Error("Has(ZZZZ): expected false")
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	c := catalog.New()
	c.Load([]quote.Quote{newQuote(1, "AAPL")})

	snap := c.Snapshot()
	snap["AAPL"] = newQuote(1, "AAPL") // mutate the copy

	q, _ := c.Get("AAPL")
	if !q.LastPrice.Equal(decimal.NewFromFloat(150.00)) {
		t.Error("mutating a Snapshot result must not affect the Catalog")
	}
}

func TestMutate_UnknownSymbolIsNoop(t *testing.T) {
	c := catalog.New()
	c.Load([]quote.Quote{newQuote(1, "AAPL")})

	_, ok := c.Mutate("ZZZZ", func(q quote.Quote) quote.Quote { return q })
	if ok {
		t.Error("Mutate on an unknown symbol must report false")
	}
}

func TestMutate_AppliesFn(t *testing.T) {
	c := catalog.New()
	c.Load([]quote.Quote{newQuote(1, "AAPL")})

	next, ok := c.Mutate("aapl", func(q quote.Quote) quote.Quote {
		q.Volume = 2000
		return q
	})
	if !ok || next.Volume != 2000 {
		t.Errorf("Mutate did not apply fn: %+v, %v", next, ok)
	}

	stored, _ := c.Get("AAPL")
	if stored.Volume != 2000 {
		t.Error("Mutate must write the result back into the Catalog")
	}
}
