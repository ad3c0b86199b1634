package market

import (
	"fmt"
	"math/big"
)

// TokenGateway is the external fungible-asset interface the engine settles
// against. Transfer moves funds out of the market's own vault; TransferFrom
// pulls previously authorized funds from a participant. Any returned error is
// surfaced to callers as ErrTransferFailed and rolls back the enclosing
// operation. The gateway's internal accounting is opaque to the engine.
type TokenGateway interface {
	Transfer(token string, to [20]byte, amount *big.Int) error
	TransferFrom(token string, from, to [20]byte, amount *big.Int) error
	BalanceOf(token string, account [20]byte) (*big.Int, error)
}

// Mutating operations follow one commit discipline: pull the counterparty's
// leg first, persist the new market record and trade row, and only then push
// funds out of the vault. Every rollback this ordering can require is either
// a vault-outbound transfer (the vault's own funds, no authorization needed)
// or a local state write; a compensating pull from a counterparty is never
// attempted. Rollback failures are joined to the causing error rather than
// discarded.

// revertPull returns previously pulled funds from the vault.
func (e *Engine) revertPull(token string, to [20]byte, amount *big.Int, cause error) error {
	if err := e.gateway.Transfer(token, to, amount); err != nil {
		return fmt.Errorf("%w; refund failed: %v", cause, err)
	}
	return cause
}

// restoreMarket rewrites the pre-operation market record.
func (e *Engine) restoreMarket(prev *Market, cause error) error {
	if err := e.state.MarketPut(prev); err != nil {
		return fmt.Errorf("%w; state restore failed: %v", cause, err)
	}
	return cause
}

// truncateTrades rewinds the trade log to its pre-operation length.
func (e *Engine) truncateTrades(length uint64, cause error) error {
	if err := e.state.TradeTruncate(length); err != nil {
		return fmt.Errorf("%w; trade log restore failed: %v", cause, err)
	}
	return cause
}
