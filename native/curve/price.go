package curve

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	// ErrNilParams indicates the curve parameters were not configured.
	ErrNilParams = errors.New("curve: parameters not configured")
	// ErrNegativeInput indicates a negative amount or supply was supplied.
	ErrNegativeInput = errors.New("curve: negative input")
	// ErrAmountExceedsSupply indicates a proceeds query over more units than circulate.
	ErrAmountExceedsSupply = errors.New("curve: amount exceeds supply")
	// ErrAmountRange indicates an intermediate or final value exceeded the
	// 256-bit settlement domain.
	ErrAmountRange = errors.New("curve: value out of range")
)

var two = big.NewInt(2)

// Params holds the linear curve coefficients. The marginal price of the next
// unit at supply s is BasePrice + Slope*s, both denominated in the smallest
// settlement unit.
type Params struct {
	BasePrice *big.Int
	Slope     *big.Int
}

// Valid reports whether the parameters are present and non-negative.
func (p Params) Valid() bool {
	return p.BasePrice != nil && p.Slope != nil && p.BasePrice.Sign() >= 0 && p.Slope.Sign() >= 0
}

func checkRange(v *big.Int) error {
	if _, overflow := uint256.FromBig(v); overflow {
		return ErrAmountRange
	}
	return nil
}

func checkInputs(p Params, amount, supply *big.Int) error {
	if !p.Valid() {
		return ErrNilParams
	}
	if amount == nil || supply == nil || amount.Sign() < 0 || supply.Sign() < 0 {
		return ErrNegativeInput
	}
	return nil
}

// Cost returns the exact integral of the marginal price over
// [supply, supply+amount]:
//
//	basePrice*amount + slope*amount*(2*supply + amount)/2
//
// The division truncates toward zero. Every intermediate product is bounded
// to 256 bits; amounts that cannot settle fail with ErrAmountRange rather
// than truncating silently.
func Cost(p Params, amount, supply *big.Int) (*big.Int, error) {
	if err := checkInputs(p, amount, supply); err != nil {
		return nil, err
	}
	base := new(big.Int).Mul(p.BasePrice, amount)
	span := new(big.Int).Mul(two, supply)
	span.Add(span, amount)
	slopePart := new(big.Int).Mul(p.Slope, amount)
	slopePart.Mul(slopePart, span)
	if err := checkRange(slopePart); err != nil {
		return nil, err
	}
	slopePart.Quo(slopePart, two)
	total := new(big.Int).Add(base, slopePart)
	if err := checkRange(total); err != nil {
		return nil, err
	}
	return total, nil
}

// Proceeds returns the exact integral of the marginal price over
// [supply-amount, supply]:
//
//	basePrice*amount + slope*amount*(2*supply - amount)/2
//
// The expression models a negative range when amount > supply, so that case
// is rejected here as well as by the callers that guard it earlier.
func Proceeds(p Params, amount, supply *big.Int) (*big.Int, error) {
	if err := checkInputs(p, amount, supply); err != nil {
		return nil, err
	}
	if amount.Cmp(supply) > 0 {
		return nil, ErrAmountExceedsSupply
	}
	base := new(big.Int).Mul(p.BasePrice, amount)
	span := new(big.Int).Mul(two, supply)
	span.Sub(span, amount)
	slopePart := new(big.Int).Mul(p.Slope, amount)
	slopePart.Mul(slopePart, span)
	if err := checkRange(slopePart); err != nil {
		return nil, err
	}
	slopePart.Quo(slopePart, two)
	total := new(big.Int).Add(base, slopePart)
	if err := checkRange(total); err != nil {
		return nil, err
	}
	return total, nil
}

// MarginalBuyPrice returns the price of the next unit at the current supply.
func MarginalBuyPrice(p Params, supply *big.Int) (*big.Int, error) {
	if !p.Valid() {
		return nil, ErrNilParams
	}
	if supply == nil || supply.Sign() < 0 {
		return nil, ErrNegativeInput
	}
	price := new(big.Int).Mul(p.Slope, supply)
	price.Add(price, p.BasePrice)
	if err := checkRange(price); err != nil {
		return nil, err
	}
	return price, nil
}

// MarginalSellPrice returns the price the last circulating unit would fetch,
// basePrice + slope*(supply-1). With nothing in circulation there is no unit
// to sell and the price is reported as zero.
func MarginalSellPrice(p Params, supply *big.Int) (*big.Int, error) {
	if !p.Valid() {
		return nil, ErrNilParams
	}
	if supply == nil || supply.Sign() < 0 {
		return nil, ErrNegativeInput
	}
	if supply.Sign() == 0 {
		return big.NewInt(0), nil
	}
	last := new(big.Int).Sub(supply, big.NewInt(1))
	price := new(big.Int).Mul(p.Slope, last)
	price.Add(price, p.BasePrice)
	if err := checkRange(price); err != nil {
		return nil, err
	}
	return price, nil
}
