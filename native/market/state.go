package market

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"curvemarket/storage"
)

// State exposes the subset of persistence required by the engine. The market
// record is a singleton; trade records form an append-only log addressed by
// sequence number. TradeTruncate exists solely so the engine can rewind an
// append when a later settlement leg of the same operation fails.
type State interface {
	MarketGet() (*Market, bool, error)
	MarketPut(*Market) error
	TradeAppend(*TradeRecord) error
	TradeCount() (uint64, error)
	TradeList(start uint64, limit int) ([]*TradeRecord, error)
	TradeTruncate(length uint64) error
}

var (
	marketStateKey = ethcrypto.Keccak256([]byte("market/state"))
	tradeCountKey  = ethcrypto.Keccak256([]byte("market/trades/count"))
	tradeKeyPrefix = []byte("market/trades/record/")
)

func tradeRecordKey(seq uint64) []byte {
	buf := make([]byte, len(tradeKeyPrefix)+8)
	copy(buf, tradeKeyPrefix)
	binary.BigEndian.PutUint64(buf[len(tradeKeyPrefix):], seq)
	return ethcrypto.Keccak256(buf)
}

type storedMarket struct {
	AssetToken      string
	SettlementToken string
	BasePrice       *big.Int
	Slope           *big.Int
	CurrentSupply   *big.Int
	FeeBps          uint32
	FeeRecipient    [20]byte
	AccumulatedFees *big.Int
	Status          uint8
	Owner           [20]byte
	Vault           [20]byte
}

type storedTradeRecord struct {
	Side      string
	Actor     [20]byte
	Amount    *big.Int
	Value     *big.Int
	Fee       *big.Int
	NewSupply *big.Int
	Timestamp uint64
}

// Store persists the market singleton and trade log RLP-encoded in a
// key-value database.
type Store struct {
	db storage.Database
}

// NewStore wraps the supplied database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func (s *Store) MarketGet() (*Market, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, errNilState
	}
	ok, err := s.db.Has(marketStateKey)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	raw, err := s.db.Get(marketStateKey)
	if err != nil {
		return nil, false, err
	}
	var stored storedMarket
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("market: decode state: %w", err)
	}
	m := &Market{
		AssetToken:      stored.AssetToken,
		SettlementToken: stored.SettlementToken,
		BasePrice:       stored.BasePrice,
		Slope:           stored.Slope,
		CurrentSupply:   stored.CurrentSupply,
		FeeBps:          stored.FeeBps,
		FeeRecipient:    stored.FeeRecipient,
		AccumulatedFees: stored.AccumulatedFees,
		Status:          Status(stored.Status),
		Owner:           stored.Owner,
		Vault:           stored.Vault,
	}
	ensureMarketDefaults(m)
	return m, true, nil
}

func (s *Store) MarketPut(m *Market) error {
	if s == nil || s.db == nil {
		return errNilState
	}
	if m == nil {
		return errNotDeployed
	}
	ensureMarketDefaults(m)
	stored := storedMarket{
		AssetToken:      m.AssetToken,
		SettlementToken: m.SettlementToken,
		BasePrice:       m.BasePrice,
		Slope:           m.Slope,
		CurrentSupply:   m.CurrentSupply,
		FeeBps:          m.FeeBps,
		FeeRecipient:    m.FeeRecipient,
		AccumulatedFees: m.AccumulatedFees,
		Status:          uint8(m.Status),
		Owner:           m.Owner,
		Vault:           m.Vault,
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("market: encode state: %w", err)
	}
	return s.db.Put(marketStateKey, encoded)
}

func (s *Store) TradeCount() (uint64, error) {
	if s == nil || s.db == nil {
		return 0, errNilState
	}
	ok, err := s.db.Has(tradeCountKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	raw, err := s.db.Get(tradeCountKey)
	if err != nil {
		return 0, err
	}
	var count uint64
	if err := rlp.DecodeBytes(raw, &count); err != nil {
		return 0, fmt.Errorf("market: decode trade count: %w", err)
	}
	return count, nil
}

func (s *Store) TradeAppend(record *TradeRecord) error {
	if s == nil || s.db == nil {
		return errNilState
	}
	if record == nil {
		return fmt.Errorf("market: nil trade record")
	}
	count, err := s.TradeCount()
	if err != nil {
		return err
	}
	if record.Timestamp < 0 {
		return fmt.Errorf("market: trade timestamp before epoch")
	}
	stored := storedTradeRecord{
		Side:      string(record.Side),
		Actor:     record.Actor,
		Amount:    record.Amount,
		Value:     record.Value,
		Fee:       record.Fee,
		NewSupply: record.NewSupply,
		Timestamp: uint64(record.Timestamp),
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("market: encode trade record: %w", err)
	}
	if err := s.db.Put(tradeRecordKey(count), encoded); err != nil {
		return err
	}
	next, err := rlp.EncodeToBytes(count + 1)
	if err != nil {
		return fmt.Errorf("market: encode trade count: %w", err)
	}
	return s.db.Put(tradeCountKey, next)
}

// TradeTruncate rewinds the log length. Records past the new length become
// unreachable; their keys are left behind as garbage.
func (s *Store) TradeTruncate(length uint64) error {
	if s == nil || s.db == nil {
		return errNilState
	}
	count, err := s.TradeCount()
	if err != nil {
		return err
	}
	if length >= count {
		return nil
	}
	encoded, err := rlp.EncodeToBytes(length)
	if err != nil {
		return fmt.Errorf("market: encode trade count: %w", err)
	}
	return s.db.Put(tradeCountKey, encoded)
}

func (s *Store) TradeList(start uint64, limit int) ([]*TradeRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNilState
	}
	count, err := s.TradeCount()
	if err != nil {
		return nil, err
	}
	if start >= count || limit <= 0 {
		return []*TradeRecord{}, nil
	}
	end := start + uint64(limit)
	if end > count {
		end = count
	}
	records := make([]*TradeRecord, 0, end-start)
	for seq := start; seq < end; seq++ {
		raw, err := s.db.Get(tradeRecordKey(seq))
		if err != nil {
			return nil, err
		}
		var stored storedTradeRecord
		if err := rlp.DecodeBytes(raw, &stored); err != nil {
			return nil, fmt.Errorf("market: decode trade record %d: %w", seq, err)
		}
		records = append(records, &TradeRecord{
			Side:      TradeSide(stored.Side),
			Actor:     stored.Actor,
			Amount:    stored.Amount,
			Value:     stored.Value,
			Fee:       stored.Fee,
			NewSupply: stored.NewSupply,
			Timestamp: int64(stored.Timestamp),
		})
	}
	return records, nil
}
