package market

import (
	"math/big"
	"testing"

	"curvemarket/storage"
)

func TestStoreMarketRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	if _, ok, err := store.MarketGet(); err != nil || ok {
		t.Fatalf("expected empty store, got ok=%v err=%v", ok, err)
	}

	m := testMarket(t)
	m.CurrentSupply = big.NewInt(42)
	m.AccumulatedFees = big.NewInt(900)
	m.Status = StatusPaused
	if err := store.MarketPut(m); err != nil {
		t.Fatalf("put: %v", err)
	}

	loaded, ok, err := store.MarketGet()
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if loaded.AssetToken != m.AssetToken || loaded.SettlementToken != m.SettlementToken {
		t.Fatalf("token pair mismatch: %+v", loaded)
	}
	if loaded.BasePrice.Cmp(m.BasePrice) != 0 || loaded.Slope.Cmp(m.Slope) != 0 {
		t.Fatalf("curve params mismatch: %+v", loaded)
	}
	if loaded.CurrentSupply.Cmp(big.NewInt(42)) != 0 || loaded.AccumulatedFees.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("balances mismatch: %+v", loaded)
	}
	if loaded.Status != StatusPaused || loaded.Owner != m.Owner || loaded.Vault != m.Vault {
		t.Fatalf("metadata mismatch: %+v", loaded)
	}
}

func TestStoreTradeLog(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	count, err := store.TradeCount()
	if err != nil || count != 0 {
		t.Fatalf("expected empty log, got count=%d err=%v", count, err)
	}

	for i := int64(1); i <= 5; i++ {
		record := &TradeRecord{
			Side:      TradeSideBuy,
			Actor:     testAddress(byte(i)),
			Amount:    big.NewInt(i),
			Value:     big.NewInt(i * 100),
			Fee:       big.NewInt(i * 2),
			NewSupply: big.NewInt(i * 10),
			Timestamp: 1_700_000_000 + i,
		}
		if err := store.TradeAppend(record); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	count, err = store.TradeCount()
	if err != nil || count != 5 {
		t.Fatalf("unexpected count %d err=%v", count, err)
	}

	records, err := store.TradeList(2, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("unexpected page size %d", len(records))
	}
	if records[0].Amount.Cmp(big.NewInt(3)) != 0 || records[1].Amount.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("unexpected page contents: %+v", records)
	}
	if records[0].Timestamp != 1_700_000_003 {
		t.Fatalf("timestamp lost in round trip: %d", records[0].Timestamp)
	}

	empty, err := store.TradeList(10, 3)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty page, got %v err=%v", empty, err)
	}

	if err := store.TradeTruncate(3); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	count, err = store.TradeCount()
	if err != nil || count != 3 {
		t.Fatalf("unexpected count after truncate %d err=%v", count, err)
	}
	records, err = store.TradeList(0, 10)
	if err != nil || len(records) != 3 {
		t.Fatalf("unexpected page after truncate: %v err=%v", records, err)
	}
	// Truncating past the end is a no-op.
	if err := store.TradeTruncate(9); err != nil {
		t.Fatalf("truncate past end: %v", err)
	}
	if count, _ = store.TradeCount(); count != 3 {
		t.Fatalf("count changed by no-op truncate: %d", count)
	}
}
