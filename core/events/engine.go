package events

import (
	"math/big"
	"strconv"
	"strings"

	"stabolut/core/types"
)

const (
	// TypeEngineDeposit is emitted when collateral is locked and USB minted.
	TypeEngineDeposit = "engine.deposit"
	// TypeEngineWithdrawal is emitted when USB is burned and collateral released.
	TypeEngineWithdrawal = "engine.withdrawal"
	// TypeEngineYield is emitted when strategy yield is realised and split.
	TypeEngineYield = "engine.yieldGenerated"
	// TypeEnginePause is emitted when the engine is paused by the emergency
	// capability holder.
	TypeEnginePause = "engine.emergencyPause"
	// TypeEngineCollateralAdded is emitted when a collateral asset is
	// registered or reconfigured.
	TypeEngineCollateralAdded = "engine.collateralAdded"
	// TypeEngineParamsUpdated is emitted when system parameters change.
	TypeEngineParamsUpdated = "engine.parametersUpdated"
)

// Deposit captures a completed collateral deposit.
type Deposit struct {
	User      []byte
	Asset     string
	Amount    *big.Int
	Minted    *big.Int
	Timestamp uint64
}

func (Deposit) EventType() string { return TypeEngineDeposit }

// Event renders the structured deposit event.
func (e Deposit) Event() *types.Event {
	attrs := map[string]string{
		"user":      hexBytes(e.User),
		"asset":     normaliseSymbol(e.Asset),
		"amount":    bigString(e.Amount),
		"minted":    bigString(e.Minted),
		"timestamp": strconv.FormatUint(e.Timestamp, 10),
	}
	return &types.Event{Type: TypeEngineDeposit, Attributes: attrs}
}

// Withdrawal captures a completed collateral withdrawal.
type Withdrawal struct {
	User      []byte
	Asset     string
	Burned    *big.Int
	Returned  *big.Int
	Timestamp uint64
}

func (Withdrawal) EventType() string { return TypeEngineWithdrawal }

// Event renders the structured withdrawal event.
func (e Withdrawal) Event() *types.Event {
	attrs := map[string]string{
		"user":      hexBytes(e.User),
		"asset":     normaliseSymbol(e.Asset),
		"burned":    bigString(e.Burned),
		"returned":  bigString(e.Returned),
		"timestamp": strconv.FormatUint(e.Timestamp, 10),
	}
	return &types.Event{Type: TypeEngineWithdrawal, Attributes: attrs}
}

// YieldGenerated captures a realised strategy yield and the share forwarded
// to the treasury.
type YieldGenerated struct {
	Asset          string
	Amount         *big.Int
	TreasuryAmount *big.Int
	Timestamp      uint64
}

func (YieldGenerated) EventType() string { return TypeEngineYield }

// Event renders the structured yield event.
func (e YieldGenerated) Event() *types.Event {
	attrs := map[string]string{
		"asset":          normaliseSymbol(e.Asset),
		"amount":         bigString(e.Amount),
		"treasuryAmount": bigString(e.TreasuryAmount),
		"timestamp":      strconv.FormatUint(e.Timestamp, 10),
	}
	return &types.Event{Type: TypeEngineYield, Attributes: attrs}
}

// EmergencyPause captures an operator-triggered engine pause.
type EmergencyPause struct {
	Reason    string
	Timestamp uint64
}

func (EmergencyPause) EventType() string { return TypeEnginePause }

// Event renders the structured pause event.
func (e EmergencyPause) Event() *types.Event {
	attrs := map[string]string{
		"timestamp": strconv.FormatUint(e.Timestamp, 10),
	}
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: TypeEnginePause, Attributes: attrs}
}

// CollateralAdded captures registration of a collateral asset configuration.
type CollateralAdded struct {
	Asset                string
	MinDeposit           *big.Int
	MaxDeposit           *big.Int
	LiquidationThreshold uint64
}

func (CollateralAdded) EventType() string { return TypeEngineCollateralAdded }

// Event renders the structured collateral registration event.
func (e CollateralAdded) Event() *types.Event {
	attrs := map[string]string{
		"asset":                normaliseSymbol(e.Asset),
		"minDeposit":           bigString(e.MinDeposit),
		"maxDeposit":           bigString(e.MaxDeposit),
		"liquidationThreshold": strconv.FormatUint(e.LiquidationThreshold, 10),
	}
	return &types.Event{Type: TypeEngineCollateralAdded, Attributes: attrs}
}

// ParametersUpdated captures a change to the engine's tunable parameters.
type ParametersUpdated struct {
	TreasuryYieldBps   uint64
	EmergencyThreshold *big.Int
}

func (ParametersUpdated) EventType() string { return TypeEngineParamsUpdated }

// Event renders the structured parameter change event.
func (e ParametersUpdated) Event() *types.Event {
	attrs := map[string]string{
		"treasuryYieldBps":   strconv.FormatUint(e.TreasuryYieldBps, 10),
		"emergencyThreshold": bigString(e.EmergencyThreshold),
	}
	return &types.Event{Type: TypeEngineParamsUpdated, Attributes: attrs}
}
