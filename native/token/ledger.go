package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"curvemarket/storage"
)

var (
	// ErrInsufficientBalance indicates the source account cannot cover the transfer.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrInsufficientAllowance indicates the spender lacks authorization from the source.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	// ErrInvalidTransfer indicates a malformed transfer (nil or non-positive amount, empty symbol).
	ErrInvalidTransfer = errors.New("token: invalid transfer")

	errNilDatabase = errors.New("token: database not configured")
)

func balanceKey(token string, account [20]byte) []byte {
	return ethcrypto.Keccak256([]byte("token/balance/"), []byte(token), []byte("/"), account[:])
}

func allowanceKey(token string, owner, spender [20]byte) []byte {
	return ethcrypto.Keccak256([]byte("token/allowance/"), []byte(token), []byte("/"), owner[:], spender[:])
}

func supplyKey(token string) []byte {
	return ethcrypto.Keccak256([]byte("token/supply/"), []byte(token))
}

// Ledger keeps per-token balances and allowances in a key-value store. It is
// the in-process implementation of the engine's token gateway contract; the
// engine never sees past the gateway interface.
type Ledger struct {
	mu sync.Mutex
	db storage.Database
}

// NewLedger wraps the supplied database.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func normalizeSymbol(token string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(token))
	if trimmed == "" {
		return "", ErrInvalidTransfer
	}
	return trimmed, nil
}

func (l *Ledger) readAmount(key []byte) (*big.Int, error) {
	ok, err := l.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	raw, err := l.db.Get(key)
	if err != nil {
		return nil, err
	}
	value := new(big.Int)
	if err := rlp.DecodeBytes(raw, value); err != nil {
		return nil, fmt.Errorf("token: decode amount: %w", err)
	}
	return value, nil
}

func (l *Ledger) writeAmount(key []byte, value *big.Int) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("token: encode amount: %w", err)
	}
	return l.db.Put(key, encoded)
}

// Mint credits freshly issued units to an account. Intended for genesis
// funding and faucet-style tooling; the market engine has no path to it.
func (l *Ledger) Mint(token string, to [20]byte, amount *big.Int) error {
	if l == nil || l.db == nil {
		return errNilDatabase
	}
	symbol, err := normalizeSymbol(token)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidTransfer
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.readAmount(balanceKey(symbol, to))
	if err != nil {
		return err
	}
	if err := l.writeAmount(balanceKey(symbol, to), new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	supply, err := l.readAmount(supplyKey(symbol))
	if err != nil {
		return err
	}
	return l.writeAmount(supplyKey(symbol), new(big.Int).Add(supply, amount))
}

// BalanceOf returns the committed balance for an account.
func (l *Ledger) BalanceOf(token string, account [20]byte) (*big.Int, error) {
	if l == nil || l.db == nil {
		return nil, errNilDatabase
	}
	symbol, err := normalizeSymbol(token)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAmount(balanceKey(symbol, account))
}

// TotalSupply returns the minted supply of a token.
func (l *Ledger) TotalSupply(token string) (*big.Int, error) {
	if l == nil || l.db == nil {
		return nil, errNilDatabase
	}
	symbol, err := normalizeSymbol(token)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAmount(supplyKey(symbol))
}

// Approve authorizes spender to pull up to amount from owner. Replaces any
// previous allowance.
func (l *Ledger) Approve(token string, owner, spender [20]byte, amount *big.Int) error {
	if l == nil || l.db == nil {
		return errNilDatabase
	}
	symbol, err := normalizeSymbol(token)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidTransfer
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeAmount(allowanceKey(symbol, owner, spender), new(big.Int).Set(amount))
}

// Allowance returns the remaining authorization from owner to spender.
func (l *Ledger) Allowance(token string, owner, spender [20]byte) (*big.Int, error) {
	if l == nil || l.db == nil {
		return nil, errNilDatabase
	}
	symbol, err := normalizeSymbol(token)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAmount(allowanceKey(symbol, owner, spender))
}

func (l *Ledger) move(symbol string, from, to [20]byte, amount *big.Int) error {
	fromBalance, err := l.readAmount(balanceKey(symbol, from))
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := l.readAmount(balanceKey(symbol, to))
	if err != nil {
		return err
	}
	if err := l.writeAmount(balanceKey(symbol, from), new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.writeAmount(balanceKey(symbol, to), new(big.Int).Add(toBalance, amount))
}

// Transfer moves amount directly between two accounts without consuming an
// allowance. Used by hosts acting on behalf of the source account.
func (l *Ledger) Transfer(token string, from, to [20]byte, amount *big.Int) error {
	if l == nil || l.db == nil {
		return errNilDatabase
	}
	symbol, err := normalizeSymbol(token)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidTransfer
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(symbol, from, to, amount)
}

// Gateway is the ledger scoped to one operator account. Transfer spends the
// operator's own funds; TransferFrom consumes the source's allowance granted
// to the operator. This is the minimal capability the market engine needs.
type Gateway struct {
	ledger   *Ledger
	operator [20]byte
}

// NewGateway binds the ledger to the supplied operator account.
func NewGateway(ledger *Ledger, operator [20]byte) *Gateway {
	return &Gateway{ledger: ledger, operator: operator}
}

// Transfer moves the operator's funds to the destination.
func (g *Gateway) Transfer(token string, to [20]byte, amount *big.Int) error {
	if g == nil || g.ledger == nil {
		return errNilDatabase
	}
	return g.ledger.Transfer(token, g.operator, to, amount)
}

// TransferFrom pulls previously approved funds from the source into the
// destination, consuming the operator's allowance.
func (g *Gateway) TransferFrom(token string, from, to [20]byte, amount *big.Int) error {
	if g == nil || g.ledger == nil {
		return errNilDatabase
	}
	l := g.ledger
	symbol, err := normalizeSymbol(token)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidTransfer
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	allowance, err := l.readAmount(allowanceKey(symbol, from, g.operator))
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.move(symbol, from, to, amount); err != nil {
		return err
	}
	return l.writeAmount(allowanceKey(symbol, from, g.operator), new(big.Int).Sub(allowance, amount))
}

// BalanceOf exposes committed balances to the engine.
func (g *Gateway) BalanceOf(token string, account [20]byte) (*big.Int, error) {
	if g == nil || g.ledger == nil {
		return nil, errNilDatabase
	}
	return g.ledger.BalanceOf(token, account)
}
