package gateway

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"curvemarket/crypto"
	"curvemarket/native/market"
)

const defaultTradePage = 50

// Router serves the read-only REST facade in front of the market engine.
// Mutating operations stay on the JSON-RPC endpoint; this surface exists for
// dashboards and integrations that only need quotes and history.
type Router struct {
	engine *market.Engine
	log    *slog.Logger
}

func NewRouter(engine *market.Engine, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{engine: engine, log: log}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(rt.logRequests)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/v1/market", func(sr chi.Router) {
		sr.Get("/", rt.handleState)
		sr.Get("/quote/buy", rt.handleBuyQuote)
		sr.Get("/quote/sell", rt.handleSellQuote)
		sr.Get("/trades", rt.handleTrades)
	})
	return r
}

func (rt *Router) Start(addr string) error {
	rt.log.Info("starting gateway", "addr", addr)
	return http.ListenAndServe(addr, rt.Handler())
}

func (rt *Router) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		rt.log.Info("gateway request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start).String(),
		)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.MarketPrefix, addr[:]).String()
}

type marketState struct {
	AssetToken      string `json:"assetToken"`
	SettlementToken string `json:"settlementToken"`
	BasePrice       string `json:"basePrice"`
	Slope           string `json:"slope"`
	CurrentSupply   string `json:"currentSupply"`
	FeeBps          uint32 `json:"feeBps"`
	AccumulatedFees string `json:"accumulatedFees"`
	Status          string `json:"status"`
	Owner           string `json:"owner"`
	BuyPrice        string `json:"buyPrice"`
	SellPrice       string `json:"sellPrice"`
}

func (rt *Router) handleState(w http.ResponseWriter, _ *http.Request) {
	m, err := rt.engine.Market()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	buyPrice, err := rt.engine.CurrentBuyPrice()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sellPrice, err := rt.engine.CurrentSellPrice()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, marketState{
		AssetToken:      m.AssetToken,
		SettlementToken: m.SettlementToken,
		BasePrice:       m.BasePrice.String(),
		Slope:           m.Slope.String(),
		CurrentSupply:   m.CurrentSupply.String(),
		FeeBps:          m.FeeBps,
		AccumulatedFees: m.AccumulatedFees.String(),
		Status:          m.Status.String(),
		Owner:           formatAddress(m.Owner),
		BuyPrice:        buyPrice.String(),
		SellPrice:       sellPrice.String(),
	})
}

type quoteBody struct {
	Amount string `json:"amount"`
	Base   string `json:"base"`
	Fee    string `json:"fee"`
	Total  string `json:"total"`
}

func parseAmountQuery(r *http.Request) (*big.Int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("amount"))
	if raw == "" {
		return nil, false
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() <= 0 {
		return nil, false
	}
	return value, true
}

func (rt *Router) handleBuyQuote(w http.ResponseWriter, r *http.Request) {
	amount, ok := parseAmountQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount query parameter must be a positive integer")
		return
	}
	quote, err := rt.engine.BuyQuote(amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, quoteBody{
		Amount: amount.String(),
		Base:   quote.Base.String(),
		Fee:    quote.Fee.String(),
		Total:  quote.Total.String(),
	})
}

func (rt *Router) handleSellQuote(w http.ResponseWriter, r *http.Request) {
	amount, ok := parseAmountQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount query parameter must be a positive integer")
		return
	}
	quote, err := rt.engine.SellQuote(amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, quoteBody{
		Amount: amount.String(),
		Base:   quote.Base.String(),
		Fee:    quote.Fee.String(),
		Total:  quote.Total.String(),
	})
}

type tradeBody struct {
	Side      string `json:"side"`
	Actor     string `json:"actor"`
	Amount    string `json:"amount"`
	Value     string `json:"value"`
	Fee       string `json:"fee"`
	NewSupply string `json:"newSupply"`
	Timestamp int64  `json:"timestamp"`
}

type tradesBody struct {
	Trades []tradeBody `json:"trades"`
	Total  uint64      `json:"total"`
}

func (rt *Router) handleTrades(w http.ResponseWriter, r *http.Request) {
	var start uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("start")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start query parameter must be a non-negative integer")
			return
		}
		start = parsed
	}
	limit := defaultTradePage
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit query parameter must be a positive integer")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}
	records, err := rt.engine.Trades(start, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := rt.engine.TradeCount()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	trades := make([]tradeBody, 0, len(records))
	for _, record := range records {
		trades = append(trades, tradeBody{
			Side:      string(record.Side),
			Actor:     formatAddress(record.Actor),
			Amount:    record.Amount.String(),
			Value:     record.Value.String(),
			Fee:       record.Fee.String(),
			NewSupply: record.NewSupply.String(),
			Timestamp: record.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, tradesBody{Trades: trades, Total: total})
}
