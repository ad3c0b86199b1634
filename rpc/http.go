package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"curvemarket/native/market"
	"curvemarket/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "CURVEMARKET_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeRateLimited    = -32002
	codeServerError    = -32000
	codeSlippage       = -32010
	codePaused         = -32011
	codeReentrancy     = -32012
)

// Server exposes the market engine over JSON-RPC 2.0 and streams trade
// events over a websocket endpoint. Mutating methods require the bearer
// token from CURVEMARKET_RPC_TOKEN when one is configured, are throttled
// per caller address, and are serialized through engineMu so overlapping
// HTTP requests queue rather than tripping the engine's reentrancy guard.
type Server struct {
	engine    *market.Engine
	hub       *EventHub
	log       *slog.Logger
	metrics   *metrics.MarketMetrics
	authToken string
	limits    *visitorLimiter
	engineMu  sync.Mutex
}

func NewServer(engine *market.Engine, hub *EventHub, log *slog.Logger) *Server {
	token := strings.TrimSpace(os.Getenv(authTokenEnv))
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:    engine,
		hub:       hub,
		log:       log,
		metrics:   metrics.Market(),
		authToken: token,
		limits:    newVisitorLimiter(mutationsPerSecond, mutationBurst),
	}
}

// Handler returns the HTTP mux serving the RPC endpoint, the trade stream
// and the Prometheus scrape endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/trades", s.handleTradeStream)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeEngineError translates engine sentinel errors into stable RPC codes so
// callers can branch without string matching.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, market.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, market.ErrSlippageExceeded):
		writeError(w, http.StatusConflict, id, codeSlippage, err.Error(), nil)
	case errors.Is(err, market.ErrMarketPaused):
		writeError(w, http.StatusConflict, id, codePaused, err.Error(), nil)
	case errors.Is(err, market.ErrReentrancy):
		writeError(w, http.StatusConflict, id, codeReentrancy, err.Error(), nil)
	case errors.Is(err, market.ErrInvalidAmount),
		errors.Is(err, market.ErrInvalidParameter),
		errors.Is(err, market.ErrInsufficientPayment),
		errors.Is(err, market.ErrInsufficientSupply),
		errors.Is(err, market.ErrNoFeesToWithdraw):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

type rpcAuthError struct {
	Code    int
	Message string
	Data    interface{}
}

func (s *Server) requireAuth(r *http.Request) *rpcAuthError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &rpcAuthError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return &rpcAuthError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	switch req.Method {
	case "market_getState":
		s.handleGetState(w, r, req)
	case "market_getBuyQuote":
		s.handleGetBuyQuote(w, r, req)
	case "market_getSellQuote":
		s.handleGetSellQuote(w, r, req)
	case "market_getBuyPrice":
		s.handleGetBuyPrice(w, r, req)
	case "market_getSellPrice":
		s.handleGetSellPrice(w, r, req)
	case "market_getTrades":
		s.handleGetTrades(w, r, req)
	case "market_buy", "market_sell", "market_withdrawFees",
		"market_updateCurveParameters", "market_updateFeeParameters",
		"market_pause", "market_unpause", "market_transferOwnership",
		"market_recoverAsset":
		if !s.limits.allow(r) {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
			return
		}
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.dispatchMutating(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

// dispatchMutating serializes state-changing calls. net/http serves requests
// on separate goroutines, so without this lock two honest callers could race
// into the engine and one would be bounced as reentrant. The engine's own
// guard stays reserved for callbacks that re-enter mid-operation.
func (s *Server) dispatchMutating(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()

	switch req.Method {
	case "market_buy":
		s.handleBuy(w, r, req)
	case "market_sell":
		s.handleSell(w, r, req)
	case "market_withdrawFees":
		s.handleWithdrawFees(w, r, req)
	case "market_updateCurveParameters":
		s.handleUpdateCurveParameters(w, r, req)
	case "market_updateFeeParameters":
		s.handleUpdateFeeParameters(w, r, req)
	case "market_pause":
		s.handlePause(w, r, req)
	case "market_unpause":
		s.handleUnpause(w, r, req)
	case "market_transferOwnership":
		s.handleTransferOwnership(w, r, req)
	case "market_recoverAsset":
		s.handleRecoverAsset(w, r, req)
	}
}
