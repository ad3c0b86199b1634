package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"curvemarket/crypto"
	"curvemarket/native/market"
)

func parseSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}

// parseOptionalAmount treats an empty string as "no bound".
func parseOptionalAmount(raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(raw)
}

func parseAddress(raw string) ([20]byte, error) {
	return crypto.DecodeAddress(raw)
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.MarketPrefix, addr[:]).String()
}

type quoteResult struct {
	Base  string `json:"base"`
	Fee   string `json:"fee"`
	Total string `json:"total"`
}

func quoteResultFrom(quote *market.Quote) quoteResult {
	return quoteResult{Base: quote.Base.String(), Fee: quote.Fee.String(), Total: quote.Total.String()}
}

type marketStateResult struct {
	AssetToken      string `json:"assetToken"`
	SettlementToken string `json:"settlementToken"`
	BasePrice       string `json:"basePrice"`
	Slope           string `json:"slope"`
	CurrentSupply   string `json:"currentSupply"`
	FeeBps          uint32 `json:"feeBps"`
	FeeRecipient    string `json:"feeRecipient"`
	AccumulatedFees string `json:"accumulatedFees"`
	Status          string `json:"status"`
	Owner           string `json:"owner"`
	Vault           string `json:"vault"`
}

func marketStateResultFrom(m *market.Market) marketStateResult {
	return marketStateResult{
		AssetToken:      m.AssetToken,
		SettlementToken: m.SettlementToken,
		BasePrice:       m.BasePrice.String(),
		Slope:           m.Slope.String(),
		CurrentSupply:   m.CurrentSupply.String(),
		FeeBps:          m.FeeBps,
		FeeRecipient:    formatAddress(m.FeeRecipient),
		AccumulatedFees: m.AccumulatedFees.String(),
		Status:          m.Status.String(),
		Owner:           formatAddress(m.Owner),
		Vault:           formatAddress(m.Vault),
	}
}

type tradeResult struct {
	Side      string `json:"side"`
	Actor     string `json:"actor"`
	Amount    string `json:"amount"`
	Value     string `json:"value"`
	Fee       string `json:"fee"`
	NewSupply string `json:"newSupply"`
	Timestamp int64  `json:"timestamp"`
}

func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	m, err := s.engine.Market()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, marketStateResultFrom(m))
}

type amountParam struct {
	Amount string `json:"amount"`
}

func (s *Server) handleGetBuyQuote(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params amountParam
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	quote, err := s.engine.BuyQuote(amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, quoteResultFrom(quote))
}

func (s *Server) handleGetSellQuote(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params amountParam
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	quote, err := s.engine.SellQuote(amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, quoteResultFrom(quote))
}

type priceResult struct {
	Price string `json:"price"`
}

func (s *Server) handleGetBuyPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	price, err := s.engine.CurrentBuyPrice()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, priceResult{Price: price.String()})
}

func (s *Server) handleGetSellPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	price, err := s.engine.CurrentSellPrice()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, priceResult{Price: price.String()})
}

type tradesParam struct {
	Start uint64 `json:"start"`
	Limit int    `json:"limit"`
}

const maxTradePage = 100

func (s *Server) handleGetTrades(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params := tradesParam{Limit: maxTradePage}
	if len(req.Params) > 0 {
		if err := parseSingleParam(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
			return
		}
	}
	if params.Limit <= 0 || params.Limit > maxTradePage {
		params.Limit = maxTradePage
	}
	records, err := s.engine.Trades(params.Start, params.Limit)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	results := make([]tradeResult, 0, len(records))
	for _, record := range records {
		results = append(results, tradeResult{
			Side:      string(record.Side),
			Actor:     formatAddress(record.Actor),
			Amount:    record.Amount.String(),
			Value:     record.Value.String(),
			Fee:       record.Fee.String(),
			NewSupply: record.NewSupply.String(),
			Timestamp: record.Timestamp,
		})
	}
	writeResult(w, req.ID, results)
}

type buyParams struct {
	Buyer   string `json:"buyer"`
	Amount  string `json:"amount"`
	MaxCost string `json:"maxCost"`
	Payment string `json:"payment"`
}

type buyResult struct {
	TotalPaid string `json:"totalPaid"`
}

func (s *Server) handleBuy(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params buyParams
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	buyer, err := parseAddress(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	maxCost, err := parseOptionalAmount(params.MaxCost)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	payment, err := parseAmount(params.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	total, err := s.engine.Buy(buyer, amount, maxCost, payment)
	if err != nil {
		s.metrics.RecordTradeFailure("buy", failureReason(err))
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, buyResult{TotalPaid: total.String()})
}

type sellParams struct {
	Seller      string `json:"seller"`
	Amount      string `json:"amount"`
	MinProceeds string `json:"minProceeds"`
}

type sellResult struct {
	NetProceeds string `json:"netProceeds"`
}

func (s *Server) handleSell(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params sellParams
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	seller, err := parseAddress(params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	minProceeds, err := parseOptionalAmount(params.MinProceeds)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	net, err := s.engine.Sell(seller, amount, minProceeds)
	if err != nil {
		s.metrics.RecordTradeFailure("sell", failureReason(err))
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, sellResult{NetProceeds: net.String()})
}

type callerParam struct {
	Caller string `json:"caller"`
}

type withdrawResult struct {
	Amount string `json:"amount"`
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerParam
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := s.engine.WithdrawFees(caller)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, withdrawResult{Amount: amount.String()})
}

type curveParams struct {
	Caller    string `json:"caller"`
	BasePrice string `json:"basePrice"`
	Slope     string `json:"slope"`
}

func (s *Server) handleUpdateCurveParameters(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params curveParams
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	basePrice, err := parseAmount(params.BasePrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	slope, err := parseAmount(params.Slope)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.UpdateCurveParameters(caller, basePrice, slope); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

type feeParams struct {
	Caller    string `json:"caller"`
	FeeBps    uint32 `json:"feeBps"`
	Recipient string `json:"recipient"`
}

func (s *Server) handleUpdateFeeParameters(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params feeParams
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	recipient, err := parseAddress(params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.UpdateFeeParameters(caller, params.FeeBps, recipient); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerParam
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.Pause(caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleUnpause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerParam
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.Unpause(caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

type ownershipParams struct {
	Caller   string `json:"caller"`
	NewOwner string `json:"newOwner"`
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params ownershipParams
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	newOwner, err := parseAddress(params.NewOwner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.TransferOwnership(caller, newOwner); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

type recoverParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func (s *Server) handleRecoverAsset(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params recoverParams
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.RecoverAsset(caller, params.Token, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, market.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, market.ErrSlippageExceeded):
		return "slippage"
	case errors.Is(err, market.ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, market.ErrInsufficientSupply):
		return "insufficient_supply"
	case errors.Is(err, market.ErrMarketPaused):
		return "paused"
	case errors.Is(err, market.ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, market.ErrReentrancy):
		return "reentrancy"
	default:
		return "other"
	}
}
