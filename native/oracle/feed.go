package oracle

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// RoundData carries a single raw reading from a price feed. Price is scaled
// by the feed's decimals; UpdatedAt is the upstream report time, not the
// local observation time.
type RoundData struct {
	RoundID   uint64
	Price     *big.Int
	UpdatedAt time.Time
}

// PriceFeed is the minimal surface the adapter requires from an upstream
// price source.
type PriceFeed interface {
	LatestRoundData() (RoundData, error)
	Decimals() uint8
}

// ManualFeed is an in-memory feed used for tests and manual overrides during
// incident response.
type ManualFeed struct {
	mu       sync.RWMutex
	roundID  uint64
	price    *big.Int
	updated  time.Time
	decimals uint8
}

// NewManualFeed constructs a manual feed reporting prices with the supplied
// precision.
func NewManualFeed(decimals uint8) *ManualFeed {
	return &ManualFeed{decimals: decimals}
}

// Set records a new price observation and advances the round identifier.
func (f *ManualFeed) Set(price *big.Int, updatedAt time.Time) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roundID++
	if price != nil {
		f.price = new(big.Int).Set(price)
	} else {
		f.price = nil
	}
	f.updated = updatedAt
}

// SetDecimal parses a decimal string (e.g. "2000.50") into the feed's scale.
func (f *ManualFeed) SetDecimal(price string, updatedAt time.Time) error {
	if f == nil {
		return fmt.Errorf("manual feed not configured")
	}
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return fmt.Errorf("manual feed: price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("manual feed: invalid price %q", price)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(f.decimals)), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(scale))
	f.Set(new(big.Int).Quo(scaled.Num(), scaled.Denom()), updatedAt)
	return nil
}

// LatestRoundData returns the most recent observation.
func (f *ManualFeed) LatestRoundData() (RoundData, error) {
	if f == nil {
		return RoundData{}, fmt.Errorf("manual feed not configured")
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.roundID == 0 {
		return RoundData{}, fmt.Errorf("manual feed: no observations recorded")
	}
	data := RoundData{RoundID: f.roundID, UpdatedAt: f.updated}
	if f.price != nil {
		data.Price = new(big.Int).Set(f.price)
	}
	return data, nil
}

// Decimals returns the precision the feed reports prices in.
func (f *ManualFeed) Decimals() uint8 {
	if f == nil {
		return 0
	}
	return f.decimals
}
