package events

import (
	"math/big"
	"strconv"

	"curvemarket/core/types"
	"curvemarket/crypto"
)

const (
	// TypeBuyExecuted is emitted whenever a buy settles against the curve.
	TypeBuyExecuted = "market.buy.executed"
	// TypeSellExecuted is emitted whenever a sell settles against the curve.
	TypeSellExecuted = "market.sell.executed"
	// TypeFeesWithdrawn is emitted when accrued fees are paid out.
	TypeFeesWithdrawn = "market.fees.withdrawn"
	// TypeCurveParametersUpdated is emitted on curve parameter changes.
	TypeCurveParametersUpdated = "market.params.curve_updated"
	// TypeFeeParametersUpdated is emitted on fee parameter changes.
	TypeFeeParametersUpdated = "market.params.fee_updated"
	// TypeMarketPaused is emitted when trading is suspended.
	TypeMarketPaused = "market.paused"
	// TypeMarketUnpaused is emitted when trading resumes.
	TypeMarketUnpaused = "market.unpaused"
	// TypeOwnershipTransferred is emitted when the market owner changes.
	TypeOwnershipTransferred = "market.owner.transferred"
	// TypeAssetRecovered is emitted when a misplaced token is swept out.
	TypeAssetRecovered = "market.asset.recovered"
)

func addressString(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.NewAddress(crypto.MarketPrefix, addr[:]).String()
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// BuyExecuted captures a settled purchase against the bonding curve.
type BuyExecuted struct {
	Buyer     [20]byte
	Amount    *big.Int
	Cost      *big.Int
	Fee       *big.Int
	NewSupply *big.Int
}

func (BuyExecuted) EventType() string { return TypeBuyExecuted }

func (e BuyExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeBuyExecuted,
		Attributes: map[string]string{
			"actor":     addressString(e.Buyer),
			"amount":    amountString(e.Amount),
			"cost":      amountString(e.Cost),
			"fee":       amountString(e.Fee),
			"newSupply": amountString(e.NewSupply),
		},
	}
}

// SellExecuted captures a settled sale against the bonding curve.
type SellExecuted struct {
	Seller    [20]byte
	Amount    *big.Int
	Proceeds  *big.Int
	Fee       *big.Int
	NewSupply *big.Int
}

func (SellExecuted) EventType() string { return TypeSellExecuted }

func (e SellExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeSellExecuted,
		Attributes: map[string]string{
			"actor":     addressString(e.Seller),
			"amount":    amountString(e.Amount),
			"proceeds":  amountString(e.Proceeds),
			"fee":       amountString(e.Fee),
			"newSupply": amountString(e.NewSupply),
		},
	}
}

// FeesWithdrawn records a payout of the accrued fee balance.
type FeesWithdrawn struct {
	Recipient [20]byte
	Amount    *big.Int
}

func (FeesWithdrawn) EventType() string { return TypeFeesWithdrawn }

func (e FeesWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeFeesWithdrawn,
		Attributes: map[string]string{
			"recipient": addressString(e.Recipient),
			"amount":    amountString(e.Amount),
		},
	}
}

// CurveParametersUpdated records an administrative repricing of the curve.
type CurveParametersUpdated struct {
	BasePrice *big.Int
	Slope     *big.Int
}

func (CurveParametersUpdated) EventType() string { return TypeCurveParametersUpdated }

func (e CurveParametersUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeCurveParametersUpdated,
		Attributes: map[string]string{
			"basePrice": amountString(e.BasePrice),
			"slope":     amountString(e.Slope),
		},
	}
}

// FeeParametersUpdated records an administrative fee schedule change.
type FeeParametersUpdated struct {
	FeeBps    uint32
	Recipient [20]byte
}

func (FeeParametersUpdated) EventType() string { return TypeFeeParametersUpdated }

func (e FeeParametersUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeFeeParametersUpdated,
		Attributes: map[string]string{
			"feeBps":    strconv.FormatUint(uint64(e.FeeBps), 10),
			"recipient": addressString(e.Recipient),
		},
	}
}

// MarketPaused records a suspension of trading.
type MarketPaused struct {
	Owner [20]byte
}

func (MarketPaused) EventType() string { return TypeMarketPaused }

func (e MarketPaused) Event() *types.Event {
	return &types.Event{
		Type:       TypeMarketPaused,
		Attributes: map[string]string{"owner": addressString(e.Owner)},
	}
}

// MarketUnpaused records a resumption of trading.
type MarketUnpaused struct {
	Owner [20]byte
}

func (MarketUnpaused) EventType() string { return TypeMarketUnpaused }

func (e MarketUnpaused) Event() *types.Event {
	return &types.Event{
		Type:       TypeMarketUnpaused,
		Attributes: map[string]string{"owner": addressString(e.Owner)},
	}
}

// OwnershipTransferred records a change of the market owner identity.
type OwnershipTransferred struct {
	PreviousOwner [20]byte
	NewOwner      [20]byte
}

func (OwnershipTransferred) EventType() string { return TypeOwnershipTransferred }

func (e OwnershipTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeOwnershipTransferred,
		Attributes: map[string]string{
			"previousOwner": addressString(e.PreviousOwner),
			"newOwner":      addressString(e.NewOwner),
		},
	}
}

// AssetRecovered records an owner sweep of a token the market does not trade.
type AssetRecovered struct {
	Token  string
	To     [20]byte
	Amount *big.Int
}

func (AssetRecovered) EventType() string { return TypeAssetRecovered }

func (e AssetRecovered) Event() *types.Event {
	return &types.Event{
		Type: TypeAssetRecovered,
		Attributes: map[string]string{
			"token":  e.Token,
			"to":     addressString(e.To),
			"amount": amountString(e.Amount),
		},
	}
}
