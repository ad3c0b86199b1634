package market

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"curvemarket/core/events"
	"curvemarket/native/curve"
)

// Engine orchestrates trades against the bonding curve: it validates inputs,
// quotes the curve, enforces slippage bounds, settles through the token
// gateway and commits the resulting market state. All mutating operations
// share one reentrancy guard; a gateway callback into any of them while one
// is executing is rejected with ErrReentrancy.
type Engine struct {
	mu      sync.Mutex
	state   State
	gateway TokenGateway
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine constructs an engine bound to the supplied state backend and
// token gateway.
func NewEngine(state State, gateway TokenGateway) (*Engine, error) {
	if state == nil {
		return nil, errNilState
	}
	if gateway == nil {
		return nil, errNilGateway
	}
	return &Engine{
		state:   state,
		gateway: gateway,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}, nil
}

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// enter acquires the single-entrancy guard. The host delivers operations one
// at a time, so a held guard means the caller re-entered through a gateway
// callback; that call is rejected rather than queued.
func (e *Engine) enter() error {
	if !e.mu.TryLock() {
		return ErrReentrancy
	}
	return nil
}

func (e *Engine) exit() { e.mu.Unlock() }

// Deploy persists the genesis market. It fails if a market already exists;
// there is no teardown primitive.
func (e *Engine) Deploy(m *Market) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if m == nil {
		return errNotDeployed
	}
	if _, ok, err := e.state.MarketGet(); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("market: already deployed")
	}
	return e.state.MarketPut(m.Copy())
}

func (e *Engine) loadMarket() (*Market, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	m, ok, err := e.state.MarketGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotDeployed
	}
	return m, nil
}

// Market returns a copy of the committed market record.
func (e *Engine) Market() (*Market, error) {
	m, err := e.loadMarket()
	if err != nil {
		return nil, err
	}
	return m.Copy(), nil
}

// Trades returns up to limit records from the trade log starting at start.
func (e *Engine) Trades(start uint64, limit int) ([]*TradeRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.TradeList(start, limit)
}

// TradeCount returns the length of the trade log.
func (e *Engine) TradeCount() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.TradeCount()
}

// BuyQuote prices a prospective buy of amount units at the committed supply.
// Read-only; does not take the mutating guard.
func (e *Engine) BuyQuote(amount *big.Int) (*Quote, error) {
	m, err := e.loadMarket()
	if err != nil {
		return nil, err
	}
	return buyQuote(m, amount)
}

func buyQuote(m *Market, amount *big.Int) (*Quote, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	base, err := curve.Cost(m.CurveParams(), amount, m.CurrentSupply)
	if err != nil {
		return nil, err
	}
	fee := feeFor(base, m.FeeBps)
	return &Quote{Base: base, Fee: fee, Total: new(big.Int).Add(base, fee)}, nil
}

// SellQuote prices a prospective sell of amount units at the committed
// supply. Fails with ErrInsufficientSupply when amount exceeds circulation.
func (e *Engine) SellQuote(amount *big.Int) (*Quote, error) {
	m, err := e.loadMarket()
	if err != nil {
		return nil, err
	}
	return sellQuote(m, amount)
}

func sellQuote(m *Market, amount *big.Int) (*Quote, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount.Cmp(m.CurrentSupply) > 0 {
		return nil, ErrInsufficientSupply
	}
	gross, err := curve.Proceeds(m.CurveParams(), amount, m.CurrentSupply)
	if err != nil {
		return nil, err
	}
	fee := feeFor(gross, m.FeeBps)
	return &Quote{Base: gross, Fee: fee, Total: new(big.Int).Sub(gross, fee)}, nil
}

// CurrentBuyPrice returns the marginal price of the next unit.
func (e *Engine) CurrentBuyPrice() (*big.Int, error) {
	m, err := e.loadMarket()
	if err != nil {
		return nil, err
	}
	return curve.MarginalBuyPrice(m.CurveParams(), m.CurrentSupply)
}

// CurrentSellPrice returns the marginal price of the last circulating unit,
// zero when nothing circulates.
func (e *Engine) CurrentSellPrice() (*big.Int, error) {
	m, err := e.loadMarket()
	if err != nil {
		return nil, err
	}
	return curve.MarginalSellPrice(m.CurveParams(), m.CurrentSupply)
}

// Buy purchases amount units for the buyer. payment declares the settlement
// budget attached to the call; exactly the quoted total is pulled, so any
// declared excess never moves. maxCost caps the total the buyer will accept;
// nil means no ceiling. Returns the total charged.
//
// Validation happens before any mutation. The pull, the state commit and the
// asset payout form one indivisible unit: a failure at any point rolls the
// earlier legs back and the operation reports no effect.
func (e *Engine) Buy(buyer [20]byte, amount, maxCost, payment *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.gateway == nil {
		return nil, errNilGateway
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	m, err := e.loadMarket()
	if err != nil {
		return nil, err
	}
	if m.Status != StatusActive {
		return nil, ErrMarketPaused
	}
	quote, err := buyQuote(m, amount)
	if err != nil {
		return nil, err
	}
	if maxCost != nil && quote.Total.Cmp(maxCost) > 0 {
		return nil, ErrSlippageExceeded
	}
	if payment == nil || payment.Cmp(quote.Total) < 0 {
		return nil, ErrInsufficientPayment
	}
	logLen, err := e.state.TradeCount()
	if err != nil {
		return nil, err
	}

	if err := e.gateway.TransferFrom(m.SettlementToken, buyer, m.Vault, quote.Total); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	next := m.Copy()
	next.CurrentSupply.Add(next.CurrentSupply, amount)
	next.AccumulatedFees.Add(next.AccumulatedFees, quote.Fee)
	if err := e.state.MarketPut(next); err != nil {
		return nil, e.revertPull(m.SettlementToken, buyer, quote.Total, err)
	}
	record := &TradeRecord{
		Side:      TradeSideBuy,
		Actor:     buyer,
		Amount:    new(big.Int).Set(amount),
		Value:     quote.Base,
		Fee:       quote.Fee,
		NewSupply: new(big.Int).Set(next.CurrentSupply),
		Timestamp: e.now(),
	}
	if err := e.state.TradeAppend(record); err != nil {
		err = e.restoreMarket(m, err)
		return nil, e.revertPull(m.SettlementToken, buyer, quote.Total, err)
	}

	if err := e.gateway.Transfer(m.AssetToken, buyer, amount); err != nil {
		err = fmt.Errorf("%w: %v", ErrTransferFailed, err)
		err = e.truncateTrades(logLen, err)
		err = e.restoreMarket(m, err)
		return nil, e.revertPull(m.SettlementToken, buyer, quote.Total, err)
	}

	e.emit(events.BuyExecuted{
		Buyer:     buyer,
		Amount:    record.Amount,
		Cost:      quote.Base,
		Fee:       quote.Fee,
		NewSupply: record.NewSupply,
	})
	return quote.Total, nil
}

// Sell redeems amount units for the seller against the curve. The asset is
// pulled from the seller before any settlement currency leaves the vault, so
// a failed pull aborts with zero effect. minProceeds floors the net payout;
// nil means no floor. Returns the net proceeds paid out.
func (e *Engine) Sell(seller [20]byte, amount, minProceeds *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.gateway == nil {
		return nil, errNilGateway
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	m, err := e.loadMarket()
	if err != nil {
		return nil, err
	}
	if m.Status != StatusActive {
		return nil, ErrMarketPaused
	}
	quote, err := sellQuote(m, amount)
	if err != nil {
		return nil, err
	}
	if minProceeds != nil && quote.Total.Cmp(minProceeds) < 0 {
		return nil, ErrSlippageExceeded
	}

	logLen, err := e.state.TradeCount()
	if err != nil {
		return nil, err
	}

	if err := e.gateway.TransferFrom(m.AssetToken, seller, m.Vault, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	next := m.Copy()
	next.CurrentSupply.Sub(next.CurrentSupply, amount)
	next.AccumulatedFees.Add(next.AccumulatedFees, quote.Fee)
	if err := e.state.MarketPut(next); err != nil {
		return nil, e.revertPull(m.AssetToken, seller, amount, err)
	}
	record := &TradeRecord{
		Side:      TradeSideSell,
		Actor:     seller,
		Amount:    new(big.Int).Set(amount),
		Value:     quote.Base,
		Fee:       quote.Fee,
		NewSupply: new(big.Int).Set(next.CurrentSupply),
		Timestamp: e.now(),
	}
	if err := e.state.TradeAppend(record); err != nil {
		err = e.restoreMarket(m, err)
		return nil, e.revertPull(m.AssetToken, seller, amount, err)
	}

	if err := e.gateway.Transfer(m.SettlementToken, seller, quote.Total); err != nil {
		err = fmt.Errorf("%w: %v", ErrTransferFailed, err)
		err = e.truncateTrades(logLen, err)
		err = e.restoreMarket(m, err)
		return nil, e.revertPull(m.AssetToken, seller, amount, err)
	}

	e.emit(events.SellExecuted{
		Seller:    seller,
		Amount:    record.Amount,
		Proceeds:  quote.Base,
		Fee:       quote.Fee,
		NewSupply: record.NewSupply,
	})
	return quote.Total, nil
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}
