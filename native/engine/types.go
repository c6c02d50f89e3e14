package engine

import (
	"math/big"

	"stabolut/crypto"
)

// Position tracks a user's pooled collateral and outstanding debt. Collateral
// from all held assets backs the single debt figure; assets are fungible for
// ratio purposes, not vaulted per asset. Positions are created on first
// deposit and persist at zero, they are never deleted.
type Position struct {
	// Address is the position owner.
	Address crypto.Address
	// TotalDeposited accumulates raw deposit units across all assets. The
	// figure is informational; ratio checks always revalue per asset.
	TotalDeposited *big.Int
	// Debt is the outstanding pegged-token debt.
	Debt *big.Int
	// LastUpdate records the unix timestamp of the last mutation.
	LastUpdate uint64
	// Assets is the ordered, capacity-bounded set of held collateral
	// symbols.
	Assets []string
	// Collateral maps asset symbol to the deposited raw amount.
	Collateral map[string]*big.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{
		Address:    p.Address,
		LastUpdate: p.LastUpdate,
		Assets:     append([]string{}, p.Assets...),
		Collateral: make(map[string]*big.Int, len(p.Collateral)),
	}
	if p.TotalDeposited != nil {
		clone.TotalDeposited = new(big.Int).Set(p.TotalDeposited)
	}
	if p.Debt != nil {
		clone.Debt = new(big.Int).Set(p.Debt)
	}
	for asset, amount := range p.Collateral {
		if amount != nil {
			clone.Collateral[asset] = new(big.Int).Set(amount)
		}
	}
	return clone
}

// CollateralAmount returns the recorded deposit for the asset, defaulting to
// zero.
func (p *Position) CollateralAmount(asset string) *big.Int {
	if p == nil || p.Collateral == nil {
		return big.NewInt(0)
	}
	amount, ok := p.Collateral[asset]
	if !ok || amount == nil {
		return big.NewInt(0)
	}
	return amount
}

// CollateralConfig describes a supported collateral asset. Threshold and fee
// values are expressed in basis points.
type CollateralConfig struct {
	Symbol                  string
	Supported               bool
	MinDeposit              *big.Int
	MaxDeposit              *big.Int
	LiquidationThresholdBps uint64
	StabilityFeeBps         uint64
}

// Clone returns a deep copy of the configuration.
func (c *CollateralConfig) Clone() *CollateralConfig {
	if c == nil {
		return nil
	}
	clone := &CollateralConfig{
		Symbol:                  c.Symbol,
		Supported:               c.Supported,
		LiquidationThresholdBps: c.LiquidationThresholdBps,
		StabilityFeeBps:         c.StabilityFeeBps,
	}
	if c.MinDeposit != nil {
		clone.MinDeposit = new(big.Int).Set(c.MinDeposit)
	}
	if c.MaxDeposit != nil {
		clone.MaxDeposit = new(big.Int).Set(c.MaxDeposit)
	}
	return clone
}

// Parameters groups the engine's tunable settings persisted in state.
type Parameters struct {
	// TreasuryYieldBps is the share of realised strategy yield forwarded to
	// the treasury, in basis points.
	TreasuryYieldBps uint64
	// EmergencyThreshold is the operator-defined trip level consumed by
	// off-process monitoring.
	EmergencyThreshold *big.Int
	// Paused halts deposits and withdrawals while set. Administration and
	// reads stay available.
	Paused bool
}

// Metrics tracks engine-wide aggregates.
type Metrics struct {
	// TotalValueLocked is the USD value tracked across all open positions,
	// evaluated at the prices observed during each triggering operation.
	TotalValueLocked *big.Int
	// TotalYieldGenerated accumulates realised strategy yield in raw asset
	// units.
	TotalYieldGenerated *big.Int
}
