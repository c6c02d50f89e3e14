package engine

import (
	"math/big"

	"stabolut/crypto"
)

// YieldStrategy is the hedged position the engine routes deposits into.
// Yield is denominated in the deposited asset and realised synchronously on
// the deposit call's return.
type YieldStrategy interface {
	// Deposit forwards collateral into the strategy and returns the yield
	// realised by the rebalancing it triggered.
	Deposit(asset string, amount *big.Int) (*big.Int, error)
	// Withdraw releases raw asset units to the recipient and reports the
	// amount actually delivered after execution costs.
	Withdraw(amount *big.Int, to crypto.Address) (*big.Int, error)
	// PositionValue reports the strategy's current marked value.
	PositionValue() (*big.Int, error)
	// ClosePosition unwinds the strategy entirely and reports the recovered
	// value.
	ClosePosition() (*big.Int, error)
}

// Treasury receives the protocol's share of realised yield and holds
// reserves. The engine only ever pushes funds in; withdrawals belong to the
// governance plane.
type Treasury interface {
	Deposit(asset string, amount *big.Int) error
	ReserveBalance(asset string) (*big.Int, error)
}

// SupplyController is the surface of the pegged token the engine consumes:
// capability-gated issuance, the balance read backing the redemption
// pre-check, and the peg price read backing the deposit gate.
type SupplyController interface {
	Mint(caller, to crypto.Address, amount *big.Int) error
	Burn(caller, from crypto.Address, amount *big.Int) error
	BalanceOf(addr crypto.Address) (*big.Int, error)
	USDPrice() (*big.Rat, error)
}

// PriceSource values collateral assets in USD. Implemented by the oracle
// adapter.
type PriceSource interface {
	ValueInUSD(asset string, amount *big.Int) (*big.Int, error)
	AmountFromUSD(asset string, usdValue *big.Int) (*big.Int, error)
}
