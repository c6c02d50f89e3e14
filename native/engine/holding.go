package engine

import (
	"math/big"
	"sync"

	"stabolut/crypto"
)

// HoldingStrategy parks collateral without hedging: it realises no yield and
// delivers exactly the requested amount on withdrawal. The daemon uses it
// until an external hedging venue is wired in.
type HoldingStrategy struct {
	mu       sync.Mutex
	balances map[string]*big.Int
	total    *big.Int
}

// NewHoldingStrategy constructs an empty holding strategy.
func NewHoldingStrategy() *HoldingStrategy {
	return &HoldingStrategy{
		balances: make(map[string]*big.Int),
		total:    big.NewInt(0),
	}
}

func (h *HoldingStrategy) Deposit(asset string, amount *big.Int) (*big.Int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	current, ok := h.balances[asset]
	if !ok {
		current = big.NewInt(0)
	}
	h.balances[asset] = new(big.Int).Add(current, amount)
	h.total = new(big.Int).Add(h.total, amount)
	return big.NewInt(0), nil
}

func (h *HoldingStrategy) Withdraw(amount *big.Int, to crypto.Address) (*big.Int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total = new(big.Int).Sub(h.total, amount)
	if h.total.Sign() < 0 {
		h.total = big.NewInt(0)
	}
	return new(big.Int).Set(amount), nil
}

// PositionValue reports the raw units currently parked. Assets are summed
// without revaluation; the engine tracks USD value separately.
func (h *HoldingStrategy) PositionValue() (*big.Int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return new(big.Int).Set(h.total), nil
}

func (h *HoldingStrategy) ClosePosition() (*big.Int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	recovered := h.total
	h.total = big.NewInt(0)
	h.balances = make(map[string]*big.Int)
	return recovered, nil
}

// ReserveTreasury accumulates the protocol's yield share in memory. Funds
// only ever flow in through the engine; disbursement is an operator concern.
type ReserveTreasury struct {
	mu       sync.Mutex
	reserves map[string]*big.Int
}

// NewReserveTreasury constructs an empty treasury.
func NewReserveTreasury() *ReserveTreasury {
	return &ReserveTreasury{reserves: make(map[string]*big.Int)}
}

func (t *ReserveTreasury) Deposit(asset string, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	current, ok := t.reserves[asset]
	if !ok {
		current = big.NewInt(0)
	}
	t.reserves[asset] = new(big.Int).Add(current, amount)
	return nil
}

func (t *ReserveTreasury) ReserveBalance(asset string) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.reserves[asset]; ok {
		return new(big.Int).Set(current), nil
	}
	return big.NewInt(0), nil
}
