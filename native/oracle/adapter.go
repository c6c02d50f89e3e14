package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoPriceFeed indicates no feed has been registered for the asset.
	ErrNoPriceFeed = errors.New("oracle: no price feed configured")
	// ErrInvalidPrice indicates the feed reported a non-positive price.
	ErrInvalidPrice = errors.New("oracle: invalid price")
	// ErrStalePrice indicates the latest observation is older than the
	// freshness window.
	ErrStalePrice = errors.New("oracle: stale price")
	// ErrInvalidAmount indicates the conversion input was nil or negative.
	ErrInvalidAmount = errors.New("oracle: amount must not be negative")
)

// DefaultMaxQuoteAge is the freshness window applied when none is configured.
// Observations older than this are rejected rather than silently substituted.
const DefaultMaxQuoteAge = 900 * time.Second

// Adapter normalises raw feed quotes into USD valuations with staleness and
// validity checks. Quotes are never cached: every conversion re-reads the
// underlying feed.
type Adapter struct {
	mu     sync.RWMutex
	feeds  map[string]PriceFeed
	maxAge time.Duration
	clock  func() time.Time
}

// NewAdapter constructs an adapter with the default freshness window.
func NewAdapter() *Adapter {
	return &Adapter{
		feeds:  make(map[string]PriceFeed),
		maxAge: DefaultMaxQuoteAge,
		clock:  time.Now,
	}
}

// SetMaxAge overrides the freshness window. Non-positive values restore the
// default.
func (a *Adapter) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxQuoteAge
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// SetClock overrides the time source (primarily for deterministic testing).
func (a *Adapter) SetClock(clock func() time.Time) {
	if a == nil || clock == nil {
		return
	}
	a.mu.Lock()
	a.clock = clock
	a.mu.Unlock()
}

// RegisterFeed adds or replaces the feed backing the provided asset symbol.
func (a *Adapter) RegisterFeed(asset string, feed PriceFeed) error {
	if a == nil {
		return fmt.Errorf("oracle adapter not configured")
	}
	symbol := normaliseSymbol(asset)
	if symbol == "" {
		return fmt.Errorf("oracle: asset symbol required")
	}
	if feed == nil {
		return fmt.Errorf("oracle: feed must not be nil")
	}
	a.mu.Lock()
	a.feeds[symbol] = feed
	a.mu.Unlock()
	return nil
}

// Feed returns the feed registered for the asset, if any.
func (a *Adapter) Feed(asset string) (PriceFeed, bool) {
	if a == nil {
		return nil, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	feed, ok := a.feeds[normaliseSymbol(asset)]
	return feed, ok
}

// ValueInUSD converts a raw asset amount into its USD value using the latest
// valid quote: usd = amount * price / 10^decimals, floor division.
func (a *Adapter) ValueInUSD(asset string, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	price, decimals, err := a.freshPrice(asset)
	if err != nil {
		return nil, err
	}
	usd := new(big.Int).Mul(amount, price)
	return usd.Quo(usd, pow10(decimals)), nil
}

// AmountFromUSD converts a USD value into raw asset units using the latest
// valid quote: amount = usd * 10^decimals / price, floor division. The floor
// in both directions guarantees a deposit/withdraw round trip never returns
// more raw units than were deposited.
func (a *Adapter) AmountFromUSD(asset string, usdValue *big.Int) (*big.Int, error) {
	if usdValue == nil || usdValue.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	price, decimals, err := a.freshPrice(asset)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Mul(usdValue, pow10(decimals))
	return amount.Quo(amount, price), nil
}

func (a *Adapter) freshPrice(asset string) (*big.Int, uint8, error) {
	if a == nil {
		return nil, 0, fmt.Errorf("oracle adapter not configured")
	}
	a.mu.RLock()
	feed := a.feeds[normaliseSymbol(asset)]
	maxAge := a.maxAge
	clock := a.clock
	a.mu.RUnlock()
	if feed == nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrNoPriceFeed, normaliseSymbol(asset))
	}
	round, err := feed.LatestRoundData()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrNoPriceFeed, err)
	}
	if round.Price == nil || round.Price.Sign() <= 0 {
		return nil, 0, ErrInvalidPrice
	}
	if clock().Sub(round.UpdatedAt) > maxAge {
		return nil, 0, ErrStalePrice
	}
	return round.Price, feed.Decimals(), nil
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
