package market

import (
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"curvemarket/native/curve"
)

// Status models the trading state machine. Markets start Active.
type Status uint8

const (
	StatusActive Status = iota
	StatusPaused
)

func (s Status) String() string {
	if s == StatusPaused {
		return "paused"
	}
	return "active"
}

// MaxFeeBps caps the trade fee at 10%.
const MaxFeeBps = 1000

const feeDenominator = 10_000

// Market is the singleton record holding curve parameters, circulating supply
// and the fee accumulator. It is created once at genesis and mutated only
// through the engine.
type Market struct {
	AssetToken      string
	SettlementToken string
	BasePrice       *big.Int
	Slope           *big.Int
	CurrentSupply   *big.Int
	FeeBps          uint32
	FeeRecipient    [20]byte
	AccumulatedFees *big.Int
	Status          Status
	Owner           [20]byte
	Vault           [20]byte
}

// NewMarket validates the genesis arguments and returns an Active market with
// zero supply and an empty fee accumulator.
func NewMarket(assetToken, settlementToken string, basePrice, slope *big.Int, feeBps uint32, feeRecipient, owner [20]byte) (*Market, error) {
	asset := strings.TrimSpace(assetToken)
	settlement := strings.TrimSpace(settlementToken)
	if asset == "" || settlement == "" || strings.EqualFold(asset, settlement) {
		return nil, ErrInvalidParameter
	}
	if basePrice == nil || slope == nil || basePrice.Sign() < 0 || slope.Sign() < 0 {
		return nil, ErrInvalidParameter
	}
	if feeBps > MaxFeeBps {
		return nil, ErrInvalidParameter
	}
	if feeRecipient == ([20]byte{}) || owner == ([20]byte{}) {
		return nil, ErrInvalidParameter
	}
	m := &Market{
		AssetToken:      asset,
		SettlementToken: settlement,
		BasePrice:       new(big.Int).Set(basePrice),
		Slope:           new(big.Int).Set(slope),
		CurrentSupply:   big.NewInt(0),
		FeeBps:          feeBps,
		FeeRecipient:    feeRecipient,
		AccumulatedFees: big.NewInt(0),
		Status:          StatusActive,
		Owner:           owner,
		Vault:           deriveVault(asset, settlement),
	}
	return m, nil
}

// deriveVault pins the market's reserve account to the traded pair.
func deriveVault(asset, settlement string) [20]byte {
	var vault [20]byte
	digest := ethcrypto.Keccak256([]byte("curvemarket/vault/"), []byte(asset), []byte("/"), []byte(settlement))
	copy(vault[:], digest[12:])
	return vault
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (m *Market) Copy() *Market {
	if m == nil {
		return nil
	}
	clone := *m
	if m.BasePrice != nil {
		clone.BasePrice = new(big.Int).Set(m.BasePrice)
	}
	if m.Slope != nil {
		clone.Slope = new(big.Int).Set(m.Slope)
	}
	if m.CurrentSupply != nil {
		clone.CurrentSupply = new(big.Int).Set(m.CurrentSupply)
	}
	if m.AccumulatedFees != nil {
		clone.AccumulatedFees = new(big.Int).Set(m.AccumulatedFees)
	}
	return &clone
}

// CurveParams projects the market's coefficients into the pure price engine.
func (m *Market) CurveParams() curve.Params {
	return curve.Params{BasePrice: m.BasePrice, Slope: m.Slope}
}

func ensureMarketDefaults(m *Market) {
	if m.BasePrice == nil {
		m.BasePrice = big.NewInt(0)
	}
	if m.Slope == nil {
		m.Slope = big.NewInt(0)
	}
	if m.CurrentSupply == nil {
		m.CurrentSupply = big.NewInt(0)
	}
	if m.AccumulatedFees == nil {
		m.AccumulatedFees = big.NewInt(0)
	}
}

// feeFor computes value*feeBps/10000 with truncating division.
func feeFor(value *big.Int, feeBps uint32) *big.Int {
	if value == nil || value.Sign() <= 0 || feeBps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(value, big.NewInt(int64(feeBps)))
	return fee.Quo(fee, big.NewInt(feeDenominator))
}

// Quote is the ephemeral pricing result for a prospective trade. For a buy,
// Total = Base + Fee; for a sell, Total = Base - Fee (the net payout).
type Quote struct {
	Base  *big.Int
	Fee   *big.Int
	Total *big.Int
}

// TradeSide distinguishes the two executor paths in trade records.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// TradeRecord is the append-only row written for every settled trade.
type TradeRecord struct {
	Side      TradeSide
	Actor     [20]byte
	Amount    *big.Int
	Value     *big.Int
	Fee       *big.Int
	NewSupply *big.Int
	Timestamp int64
}

// Copy returns a deep copy of the record.
func (t *TradeRecord) Copy() *TradeRecord {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Amount != nil {
		clone.Amount = new(big.Int).Set(t.Amount)
	}
	if t.Value != nil {
		clone.Value = new(big.Int).Set(t.Value)
	}
	if t.Fee != nil {
		clone.Fee = new(big.Int).Set(t.Fee)
	}
	if t.NewSupply != nil {
		clone.NewSupply = new(big.Int).Set(t.NewSupply)
	}
	return &clone
}
