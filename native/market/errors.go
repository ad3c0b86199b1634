package market

import "errors"

var (
	// ErrInvalidAmount indicates a zero or malformed trade amount.
	ErrInvalidAmount = errors.New("market: invalid amount")
	// ErrSlippageExceeded indicates the quote violated the caller-supplied bound.
	ErrSlippageExceeded = errors.New("market: slippage bound exceeded")
	// ErrInsufficientPayment indicates the attached settlement value is below the required total.
	ErrInsufficientPayment = errors.New("market: insufficient payment")
	// ErrInsufficientSupply indicates a sell over more units than circulate.
	ErrInsufficientSupply = errors.New("market: insufficient supply")
	// ErrTransferFailed indicates the token gateway rejected or faulted on a transfer.
	ErrTransferFailed = errors.New("market: transfer failed")
	// ErrUnauthorized indicates the caller lacks the required role.
	ErrUnauthorized = errors.New("market: unauthorized")
	// ErrInvalidParameter indicates an administrative update outside the allowed bounds.
	ErrInvalidParameter = errors.New("market: invalid parameter")
	// ErrMarketPaused indicates trading was attempted while the market is paused.
	ErrMarketPaused = errors.New("market: trading paused")
	// ErrNoFeesToWithdraw indicates a withdrawal with an empty fee accumulator.
	ErrNoFeesToWithdraw = errors.New("market: no fees to withdraw")
	// ErrReentrancy indicates a mutating call arrived while another was executing.
	ErrReentrancy = errors.New("market: reentrant call rejected")
	// ErrAlreadyPaused indicates a pause of an already paused market.
	ErrAlreadyPaused = errors.New("market: already paused")
	// ErrNotPaused indicates an unpause of an active market.
	ErrNotPaused = errors.New("market: not paused")

	errNilState    = errors.New("market: state not configured")
	errNilGateway  = errors.New("market: token gateway not configured")
	errNotDeployed = errors.New("market: not deployed")
)
