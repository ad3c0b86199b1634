package market

import (
	"fmt"
	"math/big"
	"strings"

	"curvemarket/core/events"
)

func requireOwner(m *Market, caller [20]byte) error {
	if caller != m.Owner {
		return ErrUnauthorized
	}
	return nil
}

// WithdrawFees pays the accrued fee balance to the fee recipient. Callable by
// the recipient or the owner. The accumulator is zeroed before the payout
// leaves the vault so a replayed call cannot pay the same balance twice; a
// failed payout restores the prior record through a local write.
func (e *Engine) WithdrawFees(caller [20]byte) (*big.Int, error) {
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
	if caller != m.FeeRecipient && caller != m.Owner {
		return nil, ErrUnauthorized
	}
	if m.AccumulatedFees.Sign() == 0 {
		return nil, ErrNoFeesToWithdraw
	}
	amount := new(big.Int).Set(m.AccumulatedFees)
	next := m.Copy()
	next.AccumulatedFees = big.NewInt(0)
	if err := e.state.MarketPut(next); err != nil {
		return nil, err
	}
	if err := e.gateway.Transfer(m.SettlementToken, m.FeeRecipient, amount); err != nil {
		err = fmt.Errorf("%w: %v", ErrTransferFailed, err)
		return nil, e.restoreMarket(m, err)
	}
	e.emit(events.FeesWithdrawn{Recipient: m.FeeRecipient, Amount: amount})
	return amount, nil
}

// UpdateCurveParameters replaces the curve coefficients. Owner-only and
// otherwise unconditional: the owner is trusted to know that a mid-trading
// change invalidates every quote issued before it.
func (e *Engine) UpdateCurveParameters(caller [20]byte, basePrice, slope *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	m, err := e.loadMarket()
	if err != nil {
		return err
	}
	if err := requireOwner(m, caller); err != nil {
		return err
	}
	if basePrice == nil || slope == nil || basePrice.Sign() < 0 || slope.Sign() < 0 {
		return ErrInvalidParameter
	}
	next := m.Copy()
	next.BasePrice = new(big.Int).Set(basePrice)
	next.Slope = new(big.Int).Set(slope)
	if err := e.state.MarketPut(next); err != nil {
		return err
	}
	e.emit(events.CurveParametersUpdated{BasePrice: next.BasePrice, Slope: next.Slope})
	return nil
}

// UpdateFeeParameters replaces the fee rate and recipient atomically.
func (e *Engine) UpdateFeeParameters(caller [20]byte, feeBps uint32, recipient [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	m, err := e.loadMarket()
	if err != nil {
		return err
	}
	if err := requireOwner(m, caller); err != nil {
		return err
	}
	if feeBps > MaxFeeBps || recipient == ([20]byte{}) {
		return ErrInvalidParameter
	}
	next := m.Copy()
	next.FeeBps = feeBps
	next.FeeRecipient = recipient
	if err := e.state.MarketPut(next); err != nil {
		return err
	}
	e.emit(events.FeeParametersUpdated{FeeBps: feeBps, Recipient: recipient})
	return nil
}

// Pause suspends trading. Owner-only; pausing an already paused market is an
// explicit error rather than a silent no-op.
func (e *Engine) Pause(caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	m, err := e.loadMarket()
	if err != nil {
		return err
	}
	if err := requireOwner(m, caller); err != nil {
		return err
	}
	if m.Status == StatusPaused {
		return ErrAlreadyPaused
	}
	next := m.Copy()
	next.Status = StatusPaused
	if err := e.state.MarketPut(next); err != nil {
		return err
	}
	e.emit(events.MarketPaused{Owner: m.Owner})
	return nil
}

// Unpause resumes trading. Owner-only.
func (e *Engine) Unpause(caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	m, err := e.loadMarket()
	if err != nil {
		return err
	}
	if err := requireOwner(m, caller); err != nil {
		return err
	}
	if m.Status != StatusPaused {
		return ErrNotPaused
	}
	next := m.Copy()
	next.Status = StatusActive
	if err := e.state.MarketPut(next); err != nil {
		return err
	}
	e.emit(events.MarketUnpaused{Owner: m.Owner})
	return nil
}

// TransferOwnership reassigns the owner identity. Owner-only.
func (e *Engine) TransferOwnership(caller, newOwner [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	m, err := e.loadMarket()
	if err != nil {
		return err
	}
	if err := requireOwner(m, caller); err != nil {
		return err
	}
	if newOwner == ([20]byte{}) {
		return ErrInvalidParameter
	}
	next := m.Copy()
	next.Owner = newOwner
	if err := e.state.MarketPut(next); err != nil {
		return err
	}
	e.emit(events.OwnershipTransferred{PreviousOwner: m.Owner, NewOwner: newOwner})
	return nil
}

// RecoverAsset sweeps tokens that ended up in the vault by mistake to the
// owner. The traded asset can never be recovered. The settlement token can,
// but only down to the accrued fee balance so fees owed stay covered.
func (e *Engine) RecoverAsset(caller [20]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.gateway == nil {
		return errNilGateway
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	m, err := e.loadMarket()
	if err != nil {
		return err
	}
	if err := requireOwner(m, caller); err != nil {
		return err
	}
	trimmed := strings.TrimSpace(token)
	if trimmed == "" || strings.EqualFold(trimmed, m.AssetToken) {
		return ErrInvalidParameter
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if strings.EqualFold(trimmed, m.SettlementToken) {
		balance, err := e.gateway.BalanceOf(m.SettlementToken, m.Vault)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		free := new(big.Int).Sub(balance, m.AccumulatedFees)
		if free.Sign() < 0 || amount.Cmp(free) > 0 {
			return ErrInvalidParameter
		}
	}
	if err := e.gateway.Transfer(trimmed, m.Owner, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	e.emit(events.AssetRecovered{Token: trimmed, To: m.Owner, Amount: amount})
	return nil
}
