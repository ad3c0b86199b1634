package curve

import (
	"errors"
	"math/big"
	"testing"
)

func testParams() Params {
	return Params{BasePrice: big.NewInt(1000), Slope: big.NewInt(100)}
}

func TestCostMatchesClosedForm(t *testing.T) {
	// base=1000, slope=100, supply=0, amount=100:
	// 1000*100 + 100*100*(0+100)/2 = 100000 + 500000
	cost, err := Cost(testParams(), big.NewInt(100), big.NewInt(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cost.Cmp(big.NewInt(600000)) != 0 {
		t.Fatalf("unexpected cost: %s", cost)
	}
}

func TestProceedsMatchesClosedForm(t *testing.T) {
	// supply=100, amount=100: 1000*100 + 100*100*(200-100)/2 = 600000
	proceeds, err := Proceeds(testParams(), big.NewInt(100), big.NewInt(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proceeds.Cmp(big.NewInt(600000)) != 0 {
		t.Fatalf("unexpected proceeds: %s", proceeds)
	}
}

func TestCostMonotonicInAmountAndSupply(t *testing.T) {
	params := testParams()
	prev := big.NewInt(0)
	for n := int64(1); n <= 50; n++ {
		cost, err := Cost(params, big.NewInt(n), big.NewInt(25))
		if err != nil {
			t.Fatalf("cost(%d): %v", n, err)
		}
		if cost.Cmp(prev) <= 0 {
			t.Fatalf("cost not strictly increasing in amount at n=%d: %s <= %s", n, cost, prev)
		}
		prev = cost
	}
	prev = big.NewInt(0)
	for s := int64(0); s <= 50; s++ {
		cost, err := Cost(params, big.NewInt(10), big.NewInt(s))
		if err != nil {
			t.Fatalf("cost at supply %d: %v", s, err)
		}
		if s > 0 && cost.Cmp(prev) <= 0 {
			t.Fatalf("cost not strictly increasing in supply at s=%d: %s <= %s", s, cost, prev)
		}
		prev = cost
	}
}

func TestProceedsRejectsAmountAboveSupply(t *testing.T) {
	_, err := Proceeds(testParams(), big.NewInt(11), big.NewInt(10))
	if !errors.Is(err, ErrAmountExceedsSupply) {
		t.Fatalf("expected ErrAmountExceedsSupply, got %v", err)
	}
}

func TestMarginalPrices(t *testing.T) {
	params := testParams()
	buy, err := MarginalBuyPrice(params, big.NewInt(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buy.Cmp(big.NewInt(11000)) != 0 {
		t.Fatalf("unexpected marginal buy price: %s", buy)
	}
	sell, err := MarginalSellPrice(params, big.NewInt(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sell.Cmp(big.NewInt(10900)) != 0 {
		t.Fatalf("unexpected marginal sell price: %s", sell)
	}
	zero, err := MarginalSellPrice(params, big.NewInt(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if zero.Sign() != 0 {
		t.Fatalf("expected zero sell price at empty supply, got %s", zero)
	}
}

func TestCostRejectsOutOfRangeProducts(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	params := Params{BasePrice: big.NewInt(0), Slope: huge}
	if _, err := Cost(params, huge, huge); !errors.Is(err, ErrAmountRange) {
		t.Fatalf("expected ErrAmountRange, got %v", err)
	}
}

func TestNegativeInputsRejected(t *testing.T) {
	if _, err := Cost(testParams(), big.NewInt(-1), big.NewInt(0)); !errors.Is(err, ErrNegativeInput) {
		t.Fatalf("expected ErrNegativeInput, got %v", err)
	}
	if _, err := Proceeds(testParams(), big.NewInt(1), big.NewInt(-1)); !errors.Is(err, ErrNegativeInput) {
		t.Fatalf("expected ErrNegativeInput, got %v", err)
	}
	if _, err := Cost(Params{}, big.NewInt(1), big.NewInt(0)); !errors.Is(err, ErrNilParams) {
		t.Fatalf("expected ErrNilParams, got %v", err)
	}
}
