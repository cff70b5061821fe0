package quote

import "github.com/shopspring/decimal"

// RestDTO is the shape returned by GET /api/v1/market/data(/symbol): the
// raw quote fields, spec §6.
type RestDTO struct {
	ID        int64           `json:"id"`
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume    int64           `json:"volume"`
	Timestamp string          `json:"timestamp"`
}

// ToRestDTO renders q for the REST lookup surface.
func (q Quote) ToRestDTO() RestDTO {
	return RestDTO{
		ID:        q.ID,
		Symbol:    q.Symbol,
		Name:      q.Name,
		LastPrice: q.LastPrice,
		Bid:       q.Bid,
		Ask:       q.Ask,
		Volume:    q.Volume,
		Timestamp: FormatTimestamp(q.Timestamp),
	}
}

// MarketDataRecord is the per-symbol record carried inside market_data and
// bulk_market_data envelopes: the raw fields plus the derived spread/mid and
// a literal "live" status (spec §4.5).
type MarketDataRecord struct {
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Spread    decimal.Decimal `json:"spread"`
	MidPrice  decimal.Decimal `json:"midPrice"`
	Volume    int64           `json:"volume"`
	Timestamp string          `json:"timestamp"`
	Status    string          `json:"status"`
}

// ToMarketDataRecord renders q for tick-originated fan-out messages.
func (q Quote) ToMarketDataRecord() MarketDataRecord {
	return MarketDataRecord{
		Symbol:    q.Symbol,
		Name:      q.Name,
		LastPrice: q.LastPrice,
		Bid:       q.Bid,
		Ask:       q.Ask,
		Spread:    q.Spread(),
		MidPrice:  q.MidPrice(),
		Volume:    q.Volume,
		Timestamp: FormatTimestamp(q.Timestamp),
		Status:    "live",
	}
}

// StockResponse is the minimal record served by /internal/stock/*.
type StockResponse struct {
	ID           int64           `json:"id"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
}

// ToStockResponse renders q for the internal-service lookup surface.
func (q Quote) ToStockResponse() StockResponse {
	return StockResponse{
		ID:           q.ID,
		Symbol:       q.Symbol,
		Name:         q.Name,
		CurrentPrice: q.LastPrice,
	}
}
