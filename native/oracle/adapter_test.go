package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

func newTestAdapter(now time.Time) *Adapter {
	adapter := NewAdapter()
	adapter.SetClock(func() time.Time { return now })
	return adapter
}

func TestValueInUSDScalesByFeedDecimals(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	adapter := newTestAdapter(now)
	feed := NewManualFeed(8)
	feed.Set(big.NewInt(200_000_000_000), now) // $2000.00
	if err := adapter.RegisterFeed("eth", feed); err != nil {
		t.Fatalf("register: %v", err)
	}

	amount := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	usd, err := adapter.ValueInUSD("ETH", amount)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(2000), amount)
	if usd.Cmp(want) != 0 {
		t.Fatalf("usd = %s, want %s", usd, want)
	}
}

func TestAmountFromUSDInvertsValue(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	adapter := newTestAdapter(now)
	feed := NewManualFeed(8)
	feed.Set(big.NewInt(200_000_000_000), now)
	if err := adapter.RegisterFeed("ETH", feed); err != nil {
		t.Fatalf("register: %v", err)
	}

	usd := new(big.Int).Mul(big.NewInt(1000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	amount, err := adapter.AmountFromUSD("ETH", usd)
	if err != nil {
		t.Fatalf("amount: %v", err)
	}
	want := new(big.Int).Quo(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil), big.NewInt(2))
	if amount.Cmp(want) != 0 {
		t.Fatalf("amount = %s, want %s", amount, want)
	}
}

func TestRoundTripNeverGainsUnits(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	adapter := newTestAdapter(now)
	feed := NewManualFeed(8)
	// An awkward price so both conversions truncate.
	feed.Set(big.NewInt(199_999_999_999), now)
	if err := adapter.RegisterFeed("ETH", feed); err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, raw := range []string{"1", "999", "1000000000000000000", "123456789123456789"} {
		amount, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			t.Fatalf("bad literal %q", raw)
		}
		usd, err := adapter.ValueInUSD("ETH", amount)
		if err != nil {
			t.Fatalf("value: %v", err)
		}
		back, err := adapter.AmountFromUSD("ETH", usd)
		if err != nil {
			t.Fatalf("amount: %v", err)
		}
		if back.Cmp(amount) > 0 {
			t.Fatalf("round trip gained units: %s -> %s", amount, back)
		}
	}
}

func TestStaleQuoteRejected(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	adapter := newTestAdapter(now)
	feed := NewManualFeed(8)
	feed.Set(big.NewInt(200_000_000_000), now.Add(-901*time.Second))
	if err := adapter.RegisterFeed("ETH", feed); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := adapter.ValueInUSD("ETH", big.NewInt(1)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}

	// The boundary itself is still fresh.
	feed.Set(big.NewInt(200_000_000_000), now.Add(-900*time.Second))
	if _, err := adapter.ValueInUSD("ETH", big.NewInt(1)); err != nil {
		t.Fatalf("quote at max age: %v", err)
	}
}

func TestInvalidPriceRejected(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	adapter := newTestAdapter(now)
	feed := NewManualFeed(8)
	feed.Set(big.NewInt(0), now)
	if err := adapter.RegisterFeed("ETH", feed); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := adapter.ValueInUSD("ETH", big.NewInt(1)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for zero, got %v", err)
	}
	feed.Set(big.NewInt(-5), now)
	if _, err := adapter.ValueInUSD("ETH", big.NewInt(1)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for negative, got %v", err)
	}
}

func TestMissingFeedRejected(t *testing.T) {
	adapter := newTestAdapter(time.Unix(1_700_000_000, 0))
	if _, err := adapter.ValueInUSD("ETH", big.NewInt(1)); !errors.Is(err, ErrNoPriceFeed) {
		t.Fatalf("expected ErrNoPriceFeed, got %v", err)
	}
}

func TestInvalidAmountRejected(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	adapter := newTestAdapter(now)
	feed := NewManualFeed(8)
	feed.Set(big.NewInt(100_000_000), now)
	if err := adapter.RegisterFeed("ETH", feed); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := adapter.ValueInUSD("ETH", nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for nil, got %v", err)
	}
	if _, err := adapter.AmountFromUSD("ETH", big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}
}

func TestManualFeedDecimalParsing(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	feed := NewManualFeed(8)
	if err := feed.SetDecimal("2000.50", now); err != nil {
		t.Fatalf("set decimal: %v", err)
	}
	round, err := feed.LatestRoundData()
	if err != nil {
		t.Fatalf("round: %v", err)
	}
	if round.Price.Cmp(big.NewInt(200_050_000_000)) != 0 {
		t.Fatalf("price = %s, want 200050000000", round.Price)
	}
	if round.RoundID != 1 {
		t.Fatalf("round id = %d, want 1", round.RoundID)
	}
	if err := feed.SetDecimal("abc", now); err == nil {
		t.Fatalf("expected parse failure")
	}
}
