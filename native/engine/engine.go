package engine

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"stabolut/core/events"
	"stabolut/crypto"
	nativecommon "stabolut/native/common"
	"stabolut/native/oracle"
)

const (
	// RoleAdmin may register collateral assets and tune engine parameters.
	RoleAdmin = "ROLE_ENGINE_ADMIN"
	// RoleEmergency may trigger an emergency pause.
	RoleEmergency = "ROLE_EMERGENCY"
	// RoleCompliance administers per-identity deposit eligibility.
	RoleCompliance = "ROLE_COMPLIANCE"
)

const (
	// minCollateralRatioBps fixes the overcollateralization ratio applied at
	// mint time. The ratio is not caller-configurable.
	minCollateralRatioBps = 15_000
	// depegThresholdBps is the tolerated deviation of the token price from
	// 1.00 USD before deposits are gated.
	depegThresholdBps = 500

	defaultTreasuryYieldBps  = 7_000
	defaultMaxPositionAssets = 8

	moduleName = "engine"
)

var (
	ErrNotEligible            = errors.New("collateral engine: caller not eligible")
	ErrUnsupportedAsset       = errors.New("collateral engine: asset not supported")
	ErrAmountOutOfRange       = errors.New("collateral engine: amount outside configured bounds")
	ErrDepegged               = errors.New("collateral engine: peg deviation detected, deposits gated")
	ErrInsufficientDebt       = errors.New("collateral engine: insufficient debt balance")
	ErrInsufficientBalance    = errors.New("collateral engine: insufficient token balance to redeem")
	ErrInsufficientCollateral = errors.New("collateral engine: insufficient collateral")
	ErrUndercollateralized    = errors.New("collateral engine: position would fall below minimum ratio")
	ErrSlippage               = errors.New("collateral engine: strategy returned less than the slippage floor")
	ErrTooManyAssets          = errors.New("collateral engine: position holds too many asset types")
	ErrUnauthorized           = errors.New("collateral engine: caller lacks required capability")
	ErrReentrantCall          = errors.New("collateral engine: re-entrant call rejected")

	errNilState    = errors.New("collateral engine: state not configured")
	errNilOracle   = errors.New("collateral engine: oracle not configured")
	errNilToken    = errors.New("collateral engine: supply controller not configured")
	errNilStrategy = errors.New("collateral engine: yield strategy not configured")
	errNilTreasury = errors.New("collateral engine: treasury not configured")
)

var basisPoints = big.NewInt(10_000)

var (
	positionPrefix     = []byte("engine/position/")
	collateralPrefix   = []byte("engine/collateral/")
	collateralIndexKey = []byte("engine/collateral/index")
	eligiblePrefix     = []byte("engine/eligible/")
	paramsKey          = []byte("engine/params")
	metricsKey         = []byte("engine/metrics")
)

func positionKey(addr []byte) []byte {
	return append(append([]byte(nil), positionPrefix...), addr...)
}

func collateralKey(symbol string) []byte {
	return append(append([]byte(nil), collateralPrefix...), symbol...)
}

func eligibleKey(addr []byte) []byte {
	return append(append([]byte(nil), eligiblePrefix...), addr...)
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	HasRole(role string, addr []byte) bool
}

// FeedRegistry registers price feeds for collateral assets. Implemented by
// the oracle adapter.
type FeedRegistry interface {
	RegisterFeed(asset string, feed oracle.PriceFeed) error
}

// Engine orchestrates collateral deposits and withdrawals: it owns per-user
// positions and per-asset configuration, consumes the oracle adapter for
// valuation, instructs the supply controller to mint and burn, and routes
// deposits through the external yield strategy with the treasury receiving
// the configured share of realised yield.
//
// All operations serialize on a single mutex. The entered latch is set only
// while a collaborator call is in flight so that callbacks from the strategy,
// treasury or controller into the engine fail with ErrReentrantCall instead
// of deadlocking on the mutex.
type Engine struct {
	mu                sync.Mutex
	state             engineState
	moduleAddress     crypto.Address
	oracle            PriceSource
	feeds             FeedRegistry
	token             SupplyController
	strategy          YieldStrategy
	treasury          Treasury
	pauses            nativecommon.PauseView
	emitter           events.Emitter
	clock             func() time.Time
	maxPositionAssets int
	entered           atomic.Bool
}

// NewEngine constructs an engine identified by the provided module address.
// The address is the caller identity presented to the supply controller.
func NewEngine(moduleAddr crypto.Address) *Engine {
	return &Engine{
		moduleAddress:     moduleAddr,
		emitter:           events.NoopEmitter{},
		clock:             time.Now,
		maxPositionAssets: defaultMaxPositionAssets,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetOracle wires the collateral valuation source. When the value also
// implements FeedRegistry (the oracle adapter does) it is used for feed
// registration during collateral onboarding.
func (e *Engine) SetOracle(src PriceSource) {
	if e == nil {
		return
	}
	e.oracle = src
	if registry, ok := src.(FeedRegistry); ok {
		e.feeds = registry
	}
}

// SetToken wires the supply controller.
func (e *Engine) SetToken(token SupplyController) {
	if e == nil {
		return
	}
	e.token = token
}

// SetStrategy wires the external yield strategy.
func (e *Engine) SetStrategy(strategy YieldStrategy) {
	if e == nil {
		return
	}
	e.strategy = strategy
}

// SetTreasury wires the external treasury.
func (e *Engine) SetTreasury(treasury Treasury) {
	if e == nil {
		return
	}
	e.treasury = treasury
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetClock overrides the time source (primarily for deterministic testing).
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// SetMaxPositionAssets bounds the number of distinct collateral assets a
// single position may hold. Non-positive values restore the default.
func (e *Engine) SetMaxPositionAssets(limit int) {
	if e == nil {
		return
	}
	if limit <= 0 {
		limit = defaultMaxPositionAssets
	}
	e.maxPositionAssets = limit
}

// ModuleAddress returns the engine's identity towards the supply controller.
func (e *Engine) ModuleAddress() crypto.Address { return e.moduleAddress }

// lock serializes the operation unless it is a callback from an in-flight
// collateral operation on the same goroutine, which is rejected outright.
// Callers must unlock e.mu on every path after a nil return.
func (e *Engine) lock() error {
	if e.entered.Load() {
		return ErrReentrantCall
	}
	e.mu.Lock()
	return nil
}

// Deposit locks collateral, routes it into the yield strategy and mints
// pegged tokens against its USD value at the fixed 150% ratio. The minted
// amount is returned. Any precondition failure leaves all persisted state
// unchanged; the mint is the final fallible step before persistence.
func (e *Engine) Deposit(caller crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.oracle == nil {
		return nil, errNilOracle
	}
	if e.token == nil {
		return nil, errNilToken
	}
	if e.strategy == nil {
		return nil, errNilStrategy
	}
	if e.treasury == nil {
		return nil, errNilTreasury
	}
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	params, err := e.ensureParams()
	if err != nil {
		return nil, err
	}
	if params.Paused {
		return nil, nativecommon.ErrModulePaused
	}

	eligible, err := e.isEligible(caller)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, ErrNotEligible
	}

	symbol := normaliseSymbol(asset)
	cfg, err := e.collateralConfig(symbol)
	if err != nil {
		return nil, err
	}
	if cfg == nil || !cfg.Supported {
		return nil, ErrUnsupportedAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrAmountOutOfRange
	}
	if cfg.MinDeposit != nil && amount.Cmp(cfg.MinDeposit) < 0 {
		return nil, ErrAmountOutOfRange
	}
	if cfg.MaxDeposit != nil && cfg.MaxDeposit.Sign() > 0 && amount.Cmp(cfg.MaxDeposit) > 0 {
		return nil, ErrAmountOutOfRange
	}

	e.entered.Store(true)
	defer e.entered.Store(false)

	if err := e.checkPeg(); err != nil {
		return nil, err
	}

	usdValue, err := e.oracle.ValueInUSD(symbol, amount)
	if err != nil {
		return nil, err
	}
	if usdValue.Sign() <= 0 {
		return nil, ErrAmountOutOfRange
	}

	// Fixed 150% ratio at mint time: usd * 10000 / 15000, floor.
	mintAmount := new(big.Int).Mul(usdValue, basisPoints)
	mintAmount.Quo(mintAmount, big.NewInt(minCollateralRatioBps))
	if mintAmount.Sign() <= 0 {
		return nil, ErrAmountOutOfRange
	}

	position, err := e.ensurePosition(caller)
	if err != nil {
		return nil, err
	}
	if _, held := position.Collateral[symbol]; !held {
		if len(position.Assets) >= e.maxPositionAssets {
			return nil, ErrTooManyAssets
		}
		position.Assets = append(position.Assets, symbol)
	}
	position.TotalDeposited = new(big.Int).Add(position.TotalDeposited, amount)
	position.Debt = new(big.Int).Add(position.Debt, mintAmount)
	position.Collateral[symbol] = new(big.Int).Add(position.CollateralAmount(symbol), amount)
	now := e.now()
	position.LastUpdate = now

	yield, err := e.strategy.Deposit(symbol, amount)
	if err != nil {
		return nil, fmt.Errorf("collateral engine: strategy deposit: %w", err)
	}
	if yield == nil {
		yield = big.NewInt(0)
	}
	treasuryShare := big.NewInt(0)
	if yield.Sign() > 0 && params.TreasuryYieldBps > 0 {
		treasuryShare = new(big.Int).Mul(yield, new(big.Int).SetUint64(params.TreasuryYieldBps))
		treasuryShare.Quo(treasuryShare, basisPoints)
		if treasuryShare.Sign() > 0 {
			if err := e.treasury.Deposit(symbol, treasuryShare); err != nil {
				return nil, fmt.Errorf("collateral engine: treasury deposit: %w", err)
			}
		}
	}

	// Mint is the final fallible step: everything after this point is a
	// persist of already validated state.
	if err := e.token.Mint(e.moduleAddress, caller, mintAmount); err != nil {
		return nil, err
	}

	if err := e.persistPosition(position); err != nil {
		return nil, err
	}
	metrics, err := e.ensureMetrics()
	if err != nil {
		return nil, err
	}
	metrics.TotalValueLocked = new(big.Int).Add(metrics.TotalValueLocked, usdValue)
	metrics.TotalYieldGenerated = new(big.Int).Add(metrics.TotalYieldGenerated, yield)
	if err := e.persistMetrics(metrics); err != nil {
		return nil, err
	}

	if yield.Sign() > 0 {
		e.emitter.Emit(events.YieldGenerated{
			Asset:          symbol,
			Amount:         new(big.Int).Set(yield),
			TreasuryAmount: treasuryShare,
			Timestamp:      now,
		})
	}
	e.emitter.Emit(events.Deposit{
		User:      caller.Bytes(),
		Asset:     symbol,
		Amount:    new(big.Int).Set(amount),
		Minted:    new(big.Int).Set(mintAmount),
		Timestamp: now,
	})
	return mintAmount, nil
}

// Withdraw releases collateral from the yield strategy and burns the matching
// pegged-token debt. The released amount is computed from the fixed ratio at
// current prices, so price drift between deposit and withdrawal changes how
// much collateral a unit of debt unlocks. When debt remains the residual
// position is revalidated at live prices, the only point at which standing
// positions are re-checked. Withdrawals stay available while the token is
// depegged.
//
// The burn is the final fallible step: the caller's token balance is checked
// up front, the strategy delivery and the slippage floor are settled first,
// and only then is the debt burned and the position persisted. Any rejection
// leaves supply, balances and the position untouched.
func (e *Engine) Withdraw(caller crypto.Address, asset string, debtAmount, minAmountOut *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.oracle == nil {
		return nil, errNilOracle
	}
	if e.token == nil {
		return nil, errNilToken
	}
	if e.strategy == nil {
		return nil, errNilStrategy
	}
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	params, err := e.ensureParams()
	if err != nil {
		return nil, err
	}
	if params.Paused {
		return nil, nativecommon.ErrModulePaused
	}

	symbol := normaliseSymbol(asset)
	cfg, err := e.collateralConfig(symbol)
	if err != nil {
		return nil, err
	}
	if cfg == nil || !cfg.Supported {
		return nil, ErrUnsupportedAsset
	}
	if debtAmount == nil || debtAmount.Sign() <= 0 {
		return nil, ErrAmountOutOfRange
	}

	position, err := e.ensurePosition(caller)
	if err != nil {
		return nil, err
	}
	if position.Debt.Cmp(debtAmount) < 0 {
		return nil, ErrInsufficientDebt
	}
	held := position.CollateralAmount(symbol)
	if held.Sign() <= 0 {
		return nil, ErrInsufficientCollateral
	}

	e.entered.Store(true)
	defer e.entered.Store(false)

	// The burn must not fail after the strategy has delivered, so the
	// caller's redeemable balance is verified before anything moves.
	balance, err := e.token.BalanceOf(caller)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(debtAmount) < 0 {
		return nil, ErrInsufficientBalance
	}

	// Inverse of the mint formula: usd = debt * 15000 / 10000, floor.
	usdValue := new(big.Int).Mul(debtAmount, big.NewInt(minCollateralRatioBps))
	usdValue.Quo(usdValue, basisPoints)
	tokenAmount, err := e.oracle.AmountFromUSD(symbol, usdValue)
	if err != nil {
		return nil, err
	}
	if tokenAmount.Cmp(held) > 0 {
		return nil, ErrInsufficientCollateral
	}

	remainingDebt := new(big.Int).Sub(position.Debt, debtAmount)
	if remainingDebt.Sign() > 0 {
		totalValue, err := e.collateralValue(position)
		if err != nil {
			return nil, err
		}
		remainingValue := new(big.Int).Sub(totalValue, usdValue)
		// ratio >= 150% iff remainingValue * 10000 >= remainingDebt * 15000.
		lhs := new(big.Int).Mul(remainingValue, basisPoints)
		rhs := new(big.Int).Mul(remainingDebt, big.NewInt(minCollateralRatioBps))
		if lhs.Cmp(rhs) < 0 {
			return nil, ErrUndercollateralized
		}
	}

	actual, err := e.strategy.Withdraw(tokenAmount, caller)
	if err != nil {
		return nil, fmt.Errorf("collateral engine: strategy withdraw: %w", err)
	}
	if actual == nil {
		actual = big.NewInt(0)
	}
	if minAmountOut != nil && actual.Cmp(minAmountOut) < 0 {
		return nil, ErrSlippage
	}

	if err := e.token.Burn(e.moduleAddress, caller, debtAmount); err != nil {
		return nil, err
	}

	position.Debt = remainingDebt
	position.Collateral[symbol] = new(big.Int).Sub(held, tokenAmount)
	now := e.now()
	position.LastUpdate = now
	if err := e.persistPosition(position); err != nil {
		return nil, err
	}

	metrics, err := e.ensureMetrics()
	if err != nil {
		return nil, err
	}
	metrics.TotalValueLocked = new(big.Int).Sub(metrics.TotalValueLocked, usdValue)
	if metrics.TotalValueLocked.Sign() < 0 {
		metrics.TotalValueLocked = big.NewInt(0)
	}
	if err := e.persistMetrics(metrics); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.Withdrawal{
		User:      caller.Bytes(),
		Asset:     symbol,
		Burned:    new(big.Int).Set(debtAmount),
		Returned:  new(big.Int).Set(actual),
		Timestamp: now,
	})
	return actual, nil
}

// AddCollateral registers or reconfigures a collateral asset and its price
// feed. The caller must hold the engine admin capability.
func (e *Engine) AddCollateral(caller crypto.Address, cfg CollateralConfig, feed oracle.PriceFeed) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.state.HasRole(RoleAdmin, caller.Bytes()) {
		return ErrUnauthorized
	}
	symbol := normaliseSymbol(cfg.Symbol)
	if symbol == "" {
		return fmt.Errorf("collateral engine: asset symbol required")
	}
	if feed == nil {
		return fmt.Errorf("collateral engine: price feed required")
	}
	if cfg.MinDeposit == nil || cfg.MaxDeposit == nil || cfg.MaxDeposit.Cmp(cfg.MinDeposit) <= 0 {
		return fmt.Errorf("collateral engine: invalid deposit limits")
	}
	if e.feeds == nil {
		return errNilOracle
	}
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	if err := e.feeds.RegisterFeed(symbol, feed); err != nil {
		return err
	}
	stored := storedCollateralConfig{
		Symbol:                  symbol,
		Supported:               true,
		MinDeposit:              new(big.Int).Set(cfg.MinDeposit),
		MaxDeposit:              new(big.Int).Set(cfg.MaxDeposit),
		LiquidationThresholdBps: cfg.LiquidationThresholdBps,
		StabilityFeeBps:         cfg.StabilityFeeBps,
	}
	if err := e.state.KVPut(collateralKey(symbol), &stored); err != nil {
		return err
	}
	if err := e.state.KVAppend(collateralIndexKey, []byte(symbol)); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralAdded{
		Asset:                symbol,
		MinDeposit:           new(big.Int).Set(cfg.MinDeposit),
		MaxDeposit:           new(big.Int).Set(cfg.MaxDeposit),
		LiquidationThreshold: cfg.LiquidationThresholdBps,
	})
	return nil
}

// UpdateParameters tunes the treasury yield split and the emergency
// threshold. The yield share is bounded to 100%.
func (e *Engine) UpdateParameters(caller crypto.Address, treasuryYieldBps uint64, emergencyThreshold *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.state.HasRole(RoleAdmin, caller.Bytes()) {
		return ErrUnauthorized
	}
	if treasuryYieldBps > 10_000 {
		return fmt.Errorf("collateral engine: invalid yield percentage")
	}
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	params, err := e.ensureParams()
	if err != nil {
		return err
	}
	params.TreasuryYieldBps = treasuryYieldBps
	if emergencyThreshold != nil {
		params.EmergencyThreshold = new(big.Int).Set(emergencyThreshold)
	} else {
		params.EmergencyThreshold = big.NewInt(0)
	}
	if err := e.persistParams(params); err != nil {
		return err
	}
	e.emitter.Emit(events.ParametersUpdated{
		TreasuryYieldBps:   treasuryYieldBps,
		EmergencyThreshold: new(big.Int).Set(params.EmergencyThreshold),
	})
	return nil
}

// SetEligibility records whether the identity passes the compliance gate
// required for deposits.
func (e *Engine) SetEligibility(caller, account crypto.Address, eligible bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.state.HasRole(RoleCompliance, caller.Bytes()) {
		return ErrUnauthorized
	}
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	return e.state.KVPut(eligibleKey(account.Bytes()), eligible)
}

// IsEligible reports whether the identity may deposit. Unknown identities
// are not eligible.
func (e *Engine) IsEligible(account crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	if err := e.lock(); err != nil {
		return false, err
	}
	defer e.mu.Unlock()
	return e.isEligible(account)
}

func (e *Engine) isEligible(account crypto.Address) (bool, error) {
	var eligible bool
	ok, err := e.state.KVGet(eligibleKey(account.Bytes()), &eligible)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return eligible, nil
}

// EmergencyPause halts deposits and withdrawals. Administration and reads
// remain available while paused.
func (e *Engine) EmergencyPause(caller crypto.Address, reason string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.state.HasRole(RoleEmergency, caller.Bytes()) {
		return ErrUnauthorized
	}
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	params, err := e.ensureParams()
	if err != nil {
		return err
	}
	params.Paused = true
	if err := e.persistParams(params); err != nil {
		return err
	}
	e.emitter.Emit(events.EmergencyPause{Reason: reason, Timestamp: e.now()})
	return nil
}

// Unpause resumes deposits and withdrawals.
func (e *Engine) Unpause(caller crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.state.HasRole(RoleAdmin, caller.Bytes()) {
		return ErrUnauthorized
	}
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	params, err := e.ensureParams()
	if err != nil {
		return err
	}
	params.Paused = false
	return e.persistParams(params)
}

// IsPaused reports whether guarded operations are currently halted.
func (e *Engine) IsPaused() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	if err := e.lock(); err != nil {
		return false, err
	}
	defer e.mu.Unlock()
	params, err := e.ensureParams()
	if err != nil {
		return false, err
	}
	return params.Paused, nil
}

// Position returns a copy of the caller's position. A fresh zero position is
// returned for unknown identities.
func (e *Engine) Position(addr crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	position, err := e.ensurePosition(addr)
	if err != nil {
		return nil, err
	}
	return position.Clone(), nil
}

// CollateralValue revalues all collateral held by the address at current
// oracle prices.
func (e *Engine) CollateralValue(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.oracle == nil {
		return nil, errNilOracle
	}
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	position, err := e.ensurePosition(addr)
	if err != nil {
		return nil, err
	}
	return e.collateralValue(position)
}

// CollateralConfigFor returns the stored configuration for the asset, if
// registered.
func (e *Engine) CollateralConfigFor(asset string) (*CollateralConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.collateralConfig(normaliseSymbol(asset))
}

// CollateralAssets lists the registered collateral symbols.
func (e *Engine) CollateralAssets() ([]string, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	var raw [][]byte
	if err := e.state.KVGetList(collateralIndexKey, &raw); err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(raw))
	for _, entry := range raw {
		symbols = append(symbols, string(entry))
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Parameters returns a copy of the engine's tunable parameters.
func (e *Engine) Parameters() (*Parameters, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	params, err := e.ensureParams()
	if err != nil {
		return nil, err
	}
	clone := &Parameters{TreasuryYieldBps: params.TreasuryYieldBps, Paused: params.Paused}
	if params.EmergencyThreshold != nil {
		clone.EmergencyThreshold = new(big.Int).Set(params.EmergencyThreshold)
	}
	return clone, nil
}

// TotalValueLocked reports the aggregate USD value tracked across open
// positions.
func (e *Engine) TotalValueLocked() (*big.Int, error) {
	metrics, err := e.metricsCopy()
	if err != nil {
		return nil, err
	}
	return metrics.TotalValueLocked, nil
}

// TotalYieldGenerated reports the accumulated realised yield.
func (e *Engine) TotalYieldGenerated() (*big.Int, error) {
	metrics, err := e.metricsCopy()
	if err != nil {
		return nil, err
	}
	return metrics.TotalYieldGenerated, nil
}

func (e *Engine) metricsCopy() (*Metrics, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	metrics, err := e.ensureMetrics()
	if err != nil {
		return nil, err
	}
	return &Metrics{
		TotalValueLocked:    new(big.Int).Set(metrics.TotalValueLocked),
		TotalYieldGenerated: new(big.Int).Set(metrics.TotalYieldGenerated),
	}, nil
}

func (e *Engine) checkPeg() error {
	price, err := e.token.USDPrice()
	if err != nil {
		return err
	}
	deviation := new(big.Rat).Sub(price, big.NewRat(1, 1))
	deviation.Abs(deviation)
	if deviation.Cmp(big.NewRat(depegThresholdBps, 10_000)) > 0 {
		return ErrDepegged
	}
	return nil
}

func (e *Engine) collateralValue(position *Position) (*big.Int, error) {
	total := big.NewInt(0)
	for _, symbol := range position.Assets {
		amount := position.CollateralAmount(symbol)
		if amount.Sign() <= 0 {
			continue
		}
		value, err := e.oracle.ValueInUSD(symbol, amount)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

func (e *Engine) now() uint64 {
	ts := e.clock().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
