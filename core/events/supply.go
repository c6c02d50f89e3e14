package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"stabolut/core/types"
)

const (
	// TypeTokenSupply is emitted whenever the USB supply changes.
	TypeTokenSupply = "token.supply"
	// TypeCircuitBreaker is emitted when a mint trips the single-call
	// circuit breaker.
	TypeCircuitBreaker = "token.circuitBreakerTriggered"

	// SupplyReasonMint identifies mint driven supply increases.
	SupplyReasonMint = "mint"
	// SupplyReasonBurn identifies burn driven supply decreases.
	SupplyReasonBurn = "burn"
)

// TokenSupply captures a supply delta for the pegged token.
type TokenSupply struct {
	Token  string
	Total  *big.Int
	Delta  *big.Int
	Reason string
}

func (TokenSupply) EventType() string { return TypeTokenSupply }

// Event renders the structured supply change event for downstream consumers.
func (e TokenSupply) Event() *types.Event {
	attrs := map[string]string{}
	token := normaliseSymbol(e.Token)
	if token == "" {
		token = "UNKNOWN"
	}
	attrs["token"] = token

	total := big.NewInt(0)
	if e.Total != nil {
		total = new(big.Int).Set(e.Total)
	}
	attrs["total"] = total.String()

	if e.Delta != nil {
		attrs["delta"] = new(big.Int).Set(e.Delta).String()
	}

	reason := strings.TrimSpace(e.Reason)
	if reason != "" {
		attrs["reason"] = reason
	}

	return &types.Event{Type: TypeTokenSupply, Attributes: attrs}
}

// CircuitBreakerTriggered captures a mint rejected for exceeding the
// per-call supply growth threshold.
type CircuitBreakerTriggered struct {
	Token        string
	Requested    *big.Int
	Supply       *big.Int
	ThresholdBps uint64
}

func (CircuitBreakerTriggered) EventType() string { return TypeCircuitBreaker }

// Event renders the structured circuit breaker event.
func (e CircuitBreakerTriggered) Event() *types.Event {
	attrs := map[string]string{
		"token":        normaliseSymbol(e.Token),
		"requested":    bigString(e.Requested),
		"supply":       bigString(e.Supply),
		"thresholdBps": strconv.FormatUint(e.ThresholdBps, 10),
	}
	return &types.Event{Type: TypeCircuitBreaker, Attributes: attrs}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func hexBytes(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
