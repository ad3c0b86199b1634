package market

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"curvemarket/core/events"
	"curvemarket/native/token"
	"curvemarket/storage"
)

type mockState struct {
	market     *Market
	trades     []*TradeRecord
	failPut    bool
	failAppend bool
}

func newMockState() *mockState { return &mockState{} }

func (m *mockState) MarketGet() (*Market, bool, error) {
	if m.market == nil {
		return nil, false, nil
	}
	return m.market.Copy(), true, nil
}

func (m *mockState) MarketPut(market *Market) error {
	if m.failPut {
		return fmt.Errorf("state write rejected")
	}
	m.market = market.Copy()
	return nil
}

func (m *mockState) TradeAppend(record *TradeRecord) error {
	if m.failAppend {
		return fmt.Errorf("trade log write rejected")
	}
	m.trades = append(m.trades, record.Copy())
	return nil
}

func (m *mockState) TradeCount() (uint64, error) { return uint64(len(m.trades)), nil }

func (m *mockState) TradeTruncate(length uint64) error {
	if length < uint64(len(m.trades)) {
		m.trades = m.trades[:length]
	}
	return nil
}

func (m *mockState) TradeList(start uint64, limit int) ([]*TradeRecord, error) {
	if start >= uint64(len(m.trades)) || limit <= 0 {
		return []*TradeRecord{}, nil
	}
	end := start + uint64(limit)
	if end > uint64(len(m.trades)) {
		end = uint64(len(m.trades))
	}
	out := make([]*TradeRecord, 0, end-start)
	for _, record := range m.trades[start:end] {
		out = append(out, record.Copy())
	}
	return out, nil
}

type mockGateway struct {
	vault    [20]byte
	balances map[string]map[[20]byte]*big.Int
	// failPushToken causes Transfer of the named token to fail.
	failPushToken string
	// failPullToken causes TransferFrom of the named token to fail.
	failPullToken string
}

func newMockGateway(vault [20]byte) *mockGateway {
	return &mockGateway{vault: vault, balances: make(map[string]map[[20]byte]*big.Int)}
}

func (g *mockGateway) fund(token string, account [20]byte, amount int64) {
	if g.balances[token] == nil {
		g.balances[token] = make(map[[20]byte]*big.Int)
	}
	g.balances[token][account] = big.NewInt(amount)
}

func (g *mockGateway) balance(token string, account [20]byte) *big.Int {
	if g.balances[token] == nil || g.balances[token][account] == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(g.balances[token][account])
}

func (g *mockGateway) move(token string, from, to [20]byte, amount *big.Int) error {
	if g.balances[token] == nil {
		g.balances[token] = make(map[[20]byte]*big.Int)
	}
	fromBal := g.balance(token, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("balance too low")
	}
	g.balances[token][from] = fromBal.Sub(fromBal, amount)
	g.balances[token][to] = new(big.Int).Add(g.balance(token, to), amount)
	return nil
}

func (g *mockGateway) Transfer(token string, to [20]byte, amount *big.Int) error {
	if token == g.failPushToken {
		return fmt.Errorf("push rejected")
	}
	return g.move(token, g.vault, to, amount)
}

func (g *mockGateway) TransferFrom(token string, from, to [20]byte, amount *big.Int) error {
	if token == g.failPullToken {
		return fmt.Errorf("pull rejected")
	}
	return g.move(token, from, to, amount)
}

func (g *mockGateway) BalanceOf(token string, account [20]byte) (*big.Int, error) {
	return g.balance(token, account), nil
}

type recordingEmitter struct {
	emitted []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.emitted = append(r.emitted, evt) }

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	testOwner     = testAddress(0x01)
	testRecipient = testAddress(0x02)
	testBuyer     = testAddress(0x03)
)

const (
	assetSymbol      = "CRV"
	settlementSymbol = "USDX"
)

func testMarket(t *testing.T) *Market {
	t.Helper()
	m, err := NewMarket(assetSymbol, settlementSymbol, big.NewInt(1000), big.NewInt(100), 250, testRecipient, testOwner)
	if err != nil {
		t.Fatalf("new market: %v", err)
	}
	return m
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *mockGateway, *recordingEmitter) {
	t.Helper()
	m := testMarket(t)
	state := newMockState()
	gateway := newMockGateway(m.Vault)
	engine, err := NewEngine(state, gateway)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	if err := engine.Deploy(m); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	gateway.fund(assetSymbol, m.Vault, 1_000_000)
	gateway.fund(settlementSymbol, testBuyer, 10_000_000)
	return engine, state, gateway, emitter
}

func TestBuyMatchesWorkedExample(t *testing.T) {
	engine, state, gateway, emitter := newTestEngine(t)

	total, err := engine.Buy(testBuyer, big.NewInt(100), big.NewInt(615000), big.NewInt(700000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if total.Cmp(big.NewInt(615000)) != 0 {
		t.Fatalf("unexpected total: %s", total)
	}
	if state.market.CurrentSupply.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected supply: %s", state.market.CurrentSupply)
	}
	if state.market.AccumulatedFees.Cmp(big.NewInt(15000)) != 0 {
		t.Fatalf("unexpected accrued fees: %s", state.market.AccumulatedFees)
	}
	// Only the quoted total is pulled; the 85000 of declared budget
	// beyond it never moves.
	if got := gateway.balance(settlementSymbol, testBuyer); got.Cmp(big.NewInt(10_000_000-615000)) != 0 {
		t.Fatalf("unexpected buyer settlement balance: %s", got)
	}
	if got := gateway.balance(assetSymbol, testBuyer); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected buyer asset balance: %s", got)
	}
	price, err := engine.CurrentBuyPrice()
	if err != nil {
		t.Fatalf("current buy price: %v", err)
	}
	if price.Cmp(big.NewInt(11000)) != 0 {
		t.Fatalf("unexpected marginal buy price: %s", price)
	}
	if len(state.trades) != 1 || state.trades[0].Side != TradeSideBuy {
		t.Fatalf("expected one buy trade record, got %+v", state.trades)
	}
	if len(emitter.emitted) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.emitted))
	}
	evt, ok := emitter.emitted[0].(events.BuyExecuted)
	if !ok {
		t.Fatalf("unexpected event type %T", emitter.emitted[0])
	}
	if evt.Cost.Cmp(big.NewInt(600000)) != 0 || evt.Fee.Cmp(big.NewInt(15000)) != 0 {
		t.Fatalf("unexpected event payload: %+v", evt)
	}
}

func TestRoundTripLosesTwiceTheFee(t *testing.T) {
	engine, _, gateway, _ := newTestEngine(t)

	total, err := engine.Buy(testBuyer, big.NewInt(100), nil, big.NewInt(615000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	net, err := engine.Sell(testBuyer, big.NewInt(100), big.NewInt(0))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if net.Cmp(big.NewInt(585000)) != 0 {
		t.Fatalf("unexpected net proceeds: %s", net)
	}
	loss := new(big.Int).Sub(total, net)
	if loss.Cmp(big.NewInt(30000)) != 0 {
		t.Fatalf("expected round-trip loss of 2x fee, got %s", loss)
	}
	if got := gateway.balance(assetSymbol, testBuyer); got.Sign() != 0 {
		t.Fatalf("buyer should hold no asset after round trip, got %s", got)
	}
}

func TestBuyValidationFailuresLeaveStateUntouched(t *testing.T) {
	engine, state, _, emitter := newTestEngine(t)
	before := state.market.Copy()

	if _, err := engine.Buy(testBuyer, big.NewInt(0), nil, big.NewInt(1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.Buy(testBuyer, big.NewInt(100), big.NewInt(614999), big.NewInt(700000)); !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}
	if _, err := engine.Buy(testBuyer, big.NewInt(100), nil, big.NewInt(614999)); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}
	if state.market.CurrentSupply.Cmp(before.CurrentSupply) != 0 || state.market.AccumulatedFees.Cmp(before.AccumulatedFees) != 0 {
		t.Fatalf("state mutated by failed validation")
	}
	if len(state.trades) != 0 || len(emitter.emitted) != 0 {
		t.Fatalf("failed buys must not record trades or emit events")
	}
}

func TestSellInsufficientSupplySnapshotEquality(t *testing.T) {
	engine, state, gateway, _ := newTestEngine(t)
	if _, err := engine.Buy(testBuyer, big.NewInt(10), nil, big.NewInt(100000)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	beforeMarket := state.market.Copy()
	beforeAsset := gateway.balance(assetSymbol, testBuyer)
	beforeSettlement := gateway.balance(settlementSymbol, testBuyer)

	if _, err := engine.Sell(testBuyer, big.NewInt(11), nil); !errors.Is(err, ErrInsufficientSupply) {
		t.Fatalf("expected ErrInsufficientSupply, got %v", err)
	}

	if state.market.CurrentSupply.Cmp(beforeMarket.CurrentSupply) != 0 ||
		state.market.AccumulatedFees.Cmp(beforeMarket.AccumulatedFees) != 0 ||
		state.market.Status != beforeMarket.Status {
		t.Fatalf("market state changed: %+v vs %+v", state.market, beforeMarket)
	}
	if gateway.balance(assetSymbol, testBuyer).Cmp(beforeAsset) != 0 ||
		gateway.balance(settlementSymbol, testBuyer).Cmp(beforeSettlement) != 0 {
		t.Fatalf("balances changed by failed sell")
	}
}

func TestBuyAssetTransferFailureRollsBack(t *testing.T) {
	engine, state, gateway, emitter := newTestEngine(t)
	gateway.failPushToken = assetSymbol
	buyerBefore := gateway.balance(settlementSymbol, testBuyer)

	_, err := engine.Buy(testBuyer, big.NewInt(100), nil, big.NewInt(700000))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if state.market.CurrentSupply.Sign() != 0 || state.market.AccumulatedFees.Sign() != 0 {
		t.Fatalf("state mutated by failed transfer: %+v", state.market)
	}
	// The pulled payment was pushed back to the buyer.
	if got := gateway.balance(settlementSymbol, testBuyer); got.Cmp(buyerBefore) != 0 {
		t.Fatalf("buyer not made whole: %s vs %s", got, buyerBefore)
	}
	if len(emitter.emitted) != 0 || len(state.trades) != 0 {
		t.Fatalf("failed buy must not emit or record")
	}
}

func TestSellPullFailureAbortsBeforePayout(t *testing.T) {
	engine, state, gateway, _ := newTestEngine(t)
	if _, err := engine.Buy(testBuyer, big.NewInt(50), nil, big.NewInt(400000)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	supplyBefore := new(big.Int).Set(state.market.CurrentSupply)
	settlementBefore := gateway.balance(settlementSymbol, testBuyer)
	gateway.failPullToken = assetSymbol

	if _, err := engine.Sell(testBuyer, big.NewInt(10), nil); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if state.market.CurrentSupply.Cmp(supplyBefore) != 0 {
		t.Fatalf("supply changed after failed pull")
	}
	if gateway.balance(settlementSymbol, testBuyer).Cmp(settlementBefore) != 0 {
		t.Fatalf("settlement moved despite failed pull")
	}
}

func TestStatePutFailureUnwindsTransfers(t *testing.T) {
	engine, state, gateway, _ := newTestEngine(t)
	settlementBefore := gateway.balance(settlementSymbol, testBuyer)
	assetBefore := gateway.balance(assetSymbol, testBuyer)
	state.failPut = true

	if _, err := engine.Buy(testBuyer, big.NewInt(10), nil, big.NewInt(100000)); err == nil {
		t.Fatalf("expected persistence error")
	}
	if gateway.balance(settlementSymbol, testBuyer).Cmp(settlementBefore) != 0 {
		t.Fatalf("settlement not unwound")
	}
	if gateway.balance(assetSymbol, testBuyer).Cmp(assetBefore) != 0 {
		t.Fatalf("asset not unwound")
	}
}

func TestBuyTradeAppendFailureRollsBack(t *testing.T) {
	engine, state, gateway, emitter := newTestEngine(t)
	state.failAppend = true
	settlementBefore := gateway.balance(settlementSymbol, testBuyer)

	if _, err := engine.Buy(testBuyer, big.NewInt(100), nil, big.NewInt(700000)); err == nil {
		t.Fatalf("expected trade log error")
	}
	if state.market.CurrentSupply.Sign() != 0 || state.market.AccumulatedFees.Sign() != 0 {
		t.Fatalf("market record not restored: %+v", state.market)
	}
	if gateway.balance(settlementSymbol, testBuyer).Cmp(settlementBefore) != 0 {
		t.Fatalf("pulled payment not refunded")
	}
	if gateway.balance(assetSymbol, testBuyer).Sign() != 0 {
		t.Fatalf("asset pushed despite rollback")
	}
	if len(emitter.emitted) != 0 {
		t.Fatalf("failed buy must not emit")
	}
}

func TestSellPayoutFailureRollsBack(t *testing.T) {
	engine, state, gateway, _ := newTestEngine(t)
	if _, err := engine.Buy(testBuyer, big.NewInt(100), nil, big.NewInt(615000)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	assetBefore := gateway.balance(assetSymbol, testBuyer)
	settlementBefore := gateway.balance(settlementSymbol, testBuyer)
	gateway.failPushToken = settlementSymbol

	if _, err := engine.Sell(testBuyer, big.NewInt(40), nil); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if state.market.CurrentSupply.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("supply changed by failed sell: %s", state.market.CurrentSupply)
	}
	if gateway.balance(assetSymbol, testBuyer).Cmp(assetBefore) != 0 {
		t.Fatalf("pulled asset not returned to seller")
	}
	if gateway.balance(settlementSymbol, testBuyer).Cmp(settlementBefore) != 0 {
		t.Fatalf("settlement moved despite failed payout")
	}
	if len(state.trades) != 1 {
		t.Fatalf("sell record not rewound, log length %d", len(state.trades))
	}
}

// faultyDB passes writes through to the backing store until armed, then
// rejects them.
type faultyDB struct {
	storage.Database
	failPuts bool
}

func (d *faultyDB) Put(key, value []byte) error {
	if d.failPuts {
		return fmt.Errorf("disk full")
	}
	return d.Database.Put(key, value)
}

func TestBuyStatePersistenceFailureRefundsThroughLedger(t *testing.T) {
	m := testMarket(t)
	marketDB := &faultyDB{Database: storage.NewMemDB()}
	ledger := token.NewLedger(storage.NewMemDB())
	engine, err := NewEngine(NewStore(marketDB), token.NewGateway(ledger, m.Vault))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.Deploy(m); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if err := ledger.Mint(assetSymbol, m.Vault, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("mint asset: %v", err)
	}
	if err := ledger.Mint(settlementSymbol, testBuyer, big.NewInt(10_000_000)); err != nil {
		t.Fatalf("mint settlement: %v", err)
	}
	if err := ledger.Approve(settlementSymbol, testBuyer, m.Vault, big.NewInt(10_000_000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	marketDB.failPuts = true

	if _, err := engine.Buy(testBuyer, big.NewInt(100), nil, big.NewInt(700000)); err == nil {
		t.Fatalf("expected persistence error")
	}

	// The pull is undone with a vault-outbound push, so the ledger shows no
	// residue of the failed trade.
	assertLedgerBalance(t, ledger, settlementSymbol, testBuyer, 10_000_000)
	assertLedgerBalance(t, ledger, settlementSymbol, m.Vault, 0)
	assertLedgerBalance(t, ledger, assetSymbol, testBuyer, 0)
	assertLedgerBalance(t, ledger, assetSymbol, m.Vault, 1_000_000)
	stored, err := engine.Market()
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if stored.CurrentSupply.Sign() != 0 || stored.AccumulatedFees.Sign() != 0 {
		t.Fatalf("stored record mutated: %+v", stored)
	}
}

func assertLedgerBalance(t *testing.T, ledger *token.Ledger, symbol string, account [20]byte, want int64) {
	t.Helper()
	got, err := ledger.BalanceOf(symbol, account)
	if err != nil {
		t.Fatalf("balance of %s: %v", symbol, err)
	}
	if got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("%s balance = %s, want %d", symbol, got, want)
	}
}

func TestPausedMarketRejectsTradesButServesQuotes(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	if err := engine.Pause(testOwner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := engine.Buy(testBuyer, big.NewInt(1), nil, big.NewInt(10000)); !errors.Is(err, ErrMarketPaused) {
		t.Fatalf("expected ErrMarketPaused on buy, got %v", err)
	}
	if _, err := engine.Sell(testBuyer, big.NewInt(1), nil); !errors.Is(err, ErrMarketPaused) {
		t.Fatalf("expected ErrMarketPaused on sell, got %v", err)
	}
	if _, err := engine.BuyQuote(big.NewInt(5)); err != nil {
		t.Fatalf("quotes must survive a pause: %v", err)
	}
	if err := engine.UpdateCurveParameters(testOwner, big.NewInt(2000), big.NewInt(100)); err != nil {
		t.Fatalf("admin ops must survive a pause: %v", err)
	}
	if err := engine.Pause(testOwner); !errors.Is(err, ErrAlreadyPaused) {
		t.Fatalf("expected ErrAlreadyPaused, got %v", err)
	}
	if err := engine.Unpause(testOwner); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := engine.Unpause(testOwner); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("expected ErrNotPaused, got %v", err)
	}
	if _, err := engine.Buy(testBuyer, big.NewInt(1), nil, big.NewInt(10000)); err != nil {
		t.Fatalf("buy after unpause: %v", err)
	}
}

func TestSupplyAndFeeConservation(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	buys := []int64{10, 25, 5}
	sells := []int64{7, 13}
	totalFees := big.NewInt(0)
	for _, n := range buys {
		if _, err := engine.Buy(testBuyer, big.NewInt(n), nil, big.NewInt(9_000_000)); err != nil {
			t.Fatalf("buy %d: %v", n, err)
		}
	}
	for _, n := range sells {
		if _, err := engine.Sell(testBuyer, big.NewInt(n), nil); err != nil {
			t.Fatalf("sell %d: %v", n, err)
		}
	}
	for _, record := range state.trades {
		totalFees.Add(totalFees, record.Fee)
	}
	expectedSupply := big.NewInt(10 + 25 + 5 - 7 - 13)
	if state.market.CurrentSupply.Cmp(expectedSupply) != 0 {
		t.Fatalf("supply not conserved: %s vs %s", state.market.CurrentSupply, expectedSupply)
	}
	if state.market.AccumulatedFees.Cmp(totalFees) != 0 {
		t.Fatalf("fees not conserved: %s vs %s", state.market.AccumulatedFees, totalFees)
	}
	withdrawn, err := engine.WithdrawFees(testRecipient)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.Cmp(totalFees) != 0 {
		t.Fatalf("unexpected withdrawal amount: %s", withdrawn)
	}
	if state.market.AccumulatedFees.Sign() != 0 {
		t.Fatalf("accumulator not zeroed")
	}
}

// reentrantGateway calls back into the engine in the middle of the asset
// transfer it was asked to perform.
type reentrantGateway struct {
	*mockGateway
	engine   *Engine
	innerErr error
}

func (g *reentrantGateway) Transfer(token string, to [20]byte, amount *big.Int) error {
	if token == assetSymbol && g.innerErr == nil {
		_, g.innerErr = g.engine.Buy(to, big.NewInt(1), nil, big.NewInt(10000))
		if g.innerErr == nil {
			g.innerErr = fmt.Errorf("inner call unexpectedly succeeded")
		}
	}
	return g.mockGateway.Transfer(token, to, amount)
}

func TestReentrantGatewayCallbackRejected(t *testing.T) {
	m := testMarket(t)
	state := newMockState()
	inner := newMockGateway(m.Vault)
	gateway := &reentrantGateway{mockGateway: inner}
	engine, err := NewEngine(state, gateway)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	gateway.engine = engine
	if err := engine.Deploy(m); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	inner.fund(assetSymbol, m.Vault, 1_000_000)
	inner.fund(settlementSymbol, testBuyer, 10_000_000)

	total, err := engine.Buy(testBuyer, big.NewInt(100), nil, big.NewInt(700000))
	if err != nil {
		t.Fatalf("outer buy must complete: %v", err)
	}
	if total.Cmp(big.NewInt(615000)) != 0 {
		t.Fatalf("unexpected outer total: %s", total)
	}
	if !errors.Is(gateway.innerErr, ErrReentrancy) {
		t.Fatalf("expected inner ErrReentrancy, got %v", gateway.innerErr)
	}
	if state.market.CurrentSupply.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("outer effects corrupted: %s", state.market.CurrentSupply)
	}
}
