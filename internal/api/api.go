// Package api implements C7, the lookup API: a pure read-through to the
// Catalog over plain net.http, the same no-framework style the teacher's
// cmd/gateway/main.go wires its one route with (spec §4.7, §6).
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/brokerx/market-service/internal/catalog"
)

// Error codes for the REST error envelope (spec §6).
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeIllegalState    = "ILLEGAL_STATE"
	CodeInternalError   = "INTERNAL_ERROR"
)

// errorResponse is the REST error envelope, spec §6:
// { "status": "ERROR", "errorCode": <CODE>, "message": <text>, "data": null }.
type errorResponse struct {
	Status    string      `json:"status"`
	ErrorCode string      `json:"errorCode"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
}

// symbolsResponse is the body of GET /api/v1/market/symbols.
type symbolsResponse struct {
	Symbols []string `json:"symbols"`
	Count   int      `json:"count"`
}

// Handler serves the REST lookup surface.
type Handler struct {
	catalog *catalog.Catalog
	logger  *zap.Logger
}

// NewHandler builds a Handler.
func NewHandler(cat *catalog.Catalog, logger *zap.Logger) *Handler {
	return &Handler{catalog: cat, logger: logger}
}

// Register mounts every route this Handler serves onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/market/data", h.marketData)
	mux.HandleFunc("GET /api/v1/market/data/{symbol}", h.marketDataBySymbol)
	mux.HandleFunc("GET /api/v1/market/symbols", h.marketSymbols)
	mux.HandleFunc("GET /internal/stock/{symbol}", h.internalStockBySymbol)
	mux.HandleFunc("GET /internal/stock/id/{id}", h.internalStockByID)
}

func (h *Handler) marketData(w http.ResponseWriter, r *http.Request) {
	snapshot := h.catalog.Snapshot()
	out := make(map[string]interface{}, len(snapshot))
	for symbol, q := range snapshot {
		out[symbol] = q.ToRestDTO()
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) marketDataBySymbol(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	q, ok := h.catalog.Get(symbol)
	if !ok {
		h.writeNotFound(w, "Unknown symbol: "+catalog.Canonicalize(symbol))
		return
	}
	h.writeJSON(w, http.StatusOK, q.ToRestDTO())
}

func (h *Handler) marketSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := h.catalog.Symbols()
	h.writeJSON(w, http.StatusOK, symbolsResponse{Symbols: symbols, Count: len(symbols)})
}

func (h *Handler) internalStockBySymbol(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	q, ok := h.catalog.Get(symbol)
	if !ok {
		h.writeNotFound(w, "Unknown symbol: "+catalog.Canonicalize(symbol))
		return
	}
	h.writeJSON(w, http.StatusOK, q.ToStockResponse())
}

func (h *Handler) internalStockByID(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalidArgument, "Invalid stock id: "+idStr)
		return
	}
	q, ok := h.catalog.GetByID(id)
	if !ok {
		h.writeNotFound(w, "Unknown stock id: "+idStr)
		return
	}
	h.writeJSON(w, http.StatusOK, q.ToStockResponse())
}

func (h *Handler) writeNotFound(w http.ResponseWriter, message string) {
	h.writeJSON(w, http.StatusNotFound, errorResponse{
		Status:    "ERROR",
		ErrorCode: CodeInvalidArgument,
		Message:   message,
		Data:      nil,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, errorResponse{
		Status:    "ERROR",
		ErrorCode: code,
		Message:   message,
		Data:      nil,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response body", zap.Error(err))
	}
}
