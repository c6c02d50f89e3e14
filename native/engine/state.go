package engine

import (
	"fmt"
	"math/big"

	"stabolut/crypto"
)

// storedPosition is the serialised form of Position. RLP has no map support,
// so collateral balances are flattened into parallel Assets/Amounts arrays.
type storedPosition struct {
	Address        []byte
	TotalDeposited *big.Int
	Debt           *big.Int
	LastUpdate     uint64
	Assets         []string
	Amounts        []*big.Int
}

type storedCollateralConfig struct {
	Symbol                  string
	Supported               bool
	MinDeposit              *big.Int
	MaxDeposit              *big.Int
	LiquidationThresholdBps uint64
	StabilityFeeBps         uint64
}

type storedParameters struct {
	TreasuryYieldBps   uint64
	EmergencyThreshold *big.Int
	Paused             bool
}

type storedMetrics struct {
	TotalValueLocked    *big.Int
	TotalYieldGenerated *big.Int
}

func (e *Engine) ensurePosition(addr crypto.Address) (*Position, error) {
	var stored storedPosition
	ok, err := e.state.KVGet(positionKey(addr.Bytes()), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Position{
			Address:        addr,
			TotalDeposited: big.NewInt(0),
			Debt:           big.NewInt(0),
			Collateral:     make(map[string]*big.Int),
		}, nil
	}
	if len(stored.Assets) != len(stored.Amounts) {
		return nil, fmt.Errorf("collateral engine: corrupt position record for %s", addr.String())
	}
	position := &Position{
		Address:        addr,
		TotalDeposited: stored.TotalDeposited,
		Debt:           stored.Debt,
		LastUpdate:     stored.LastUpdate,
		Assets:         append([]string{}, stored.Assets...),
		Collateral:     make(map[string]*big.Int, len(stored.Assets)),
	}
	if position.TotalDeposited == nil {
		position.TotalDeposited = big.NewInt(0)
	}
	if position.Debt == nil {
		position.Debt = big.NewInt(0)
	}
	for i, symbol := range stored.Assets {
		amount := stored.Amounts[i]
		if amount == nil {
			amount = big.NewInt(0)
		}
		position.Collateral[symbol] = amount
	}
	return position, nil
}

func (e *Engine) persistPosition(position *Position) error {
	stored := storedPosition{
		Address:        position.Address.Bytes(),
		TotalDeposited: position.TotalDeposited,
		Debt:           position.Debt,
		LastUpdate:     position.LastUpdate,
		Assets:         position.Assets,
		Amounts:        make([]*big.Int, len(position.Assets)),
	}
	if stored.TotalDeposited == nil {
		stored.TotalDeposited = big.NewInt(0)
	}
	if stored.Debt == nil {
		stored.Debt = big.NewInt(0)
	}
	for i, symbol := range position.Assets {
		stored.Amounts[i] = position.CollateralAmount(symbol)
	}
	return e.state.KVPut(positionKey(position.Address.Bytes()), &stored)
}

func (e *Engine) collateralConfig(symbol string) (*CollateralConfig, error) {
	var stored storedCollateralConfig
	ok, err := e.state.KVGet(collateralKey(symbol), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	cfg := &CollateralConfig{
		Symbol:                  stored.Symbol,
		Supported:               stored.Supported,
		MinDeposit:              stored.MinDeposit,
		MaxDeposit:              stored.MaxDeposit,
		LiquidationThresholdBps: stored.LiquidationThresholdBps,
		StabilityFeeBps:         stored.StabilityFeeBps,
	}
	if cfg.MinDeposit == nil {
		cfg.MinDeposit = big.NewInt(0)
	}
	if cfg.MaxDeposit == nil {
		cfg.MaxDeposit = big.NewInt(0)
	}
	return cfg, nil
}

func (e *Engine) ensureParams() (*Parameters, error) {
	var stored storedParameters
	ok, err := e.state.KVGet(paramsKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Parameters{
			TreasuryYieldBps:   defaultTreasuryYieldBps,
			EmergencyThreshold: big.NewInt(0),
		}, nil
	}
	params := &Parameters{
		TreasuryYieldBps:   stored.TreasuryYieldBps,
		EmergencyThreshold: stored.EmergencyThreshold,
		Paused:             stored.Paused,
	}
	if params.EmergencyThreshold == nil {
		params.EmergencyThreshold = big.NewInt(0)
	}
	return params, nil
}

func (e *Engine) persistParams(params *Parameters) error {
	stored := storedParameters{
		TreasuryYieldBps:   params.TreasuryYieldBps,
		EmergencyThreshold: params.EmergencyThreshold,
		Paused:             params.Paused,
	}
	if stored.EmergencyThreshold == nil {
		stored.EmergencyThreshold = big.NewInt(0)
	}
	return e.state.KVPut(paramsKey, &stored)
}

func (e *Engine) ensureMetrics() (*Metrics, error) {
	var stored storedMetrics
	ok, err := e.state.KVGet(metricsKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Metrics{
			TotalValueLocked:    big.NewInt(0),
			TotalYieldGenerated: big.NewInt(0),
		}, nil
	}
	metrics := &Metrics{
		TotalValueLocked:    stored.TotalValueLocked,
		TotalYieldGenerated: stored.TotalYieldGenerated,
	}
	if metrics.TotalValueLocked == nil {
		metrics.TotalValueLocked = big.NewInt(0)
	}
	if metrics.TotalYieldGenerated == nil {
		metrics.TotalYieldGenerated = big.NewInt(0)
	}
	return metrics, nil
}

func (e *Engine) persistMetrics(metrics *Metrics) error {
	stored := storedMetrics{
		TotalValueLocked:    metrics.TotalValueLocked,
		TotalYieldGenerated: metrics.TotalYieldGenerated,
	}
	if stored.TotalValueLocked == nil {
		stored.TotalValueLocked = big.NewInt(0)
	}
	if stored.TotalYieldGenerated == nil {
		stored.TotalYieldGenerated = big.NewInt(0)
	}
	return e.state.KVPut(metricsKey, &stored)
}
