package token

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"stabolut/core/events"
	"stabolut/crypto"
	nativecommon "stabolut/native/common"
	"stabolut/native/oracle"
)

// Symbol identifies the pegged token within the shared balance ledger.
const Symbol = "USB"

// Decimals is the precision the token is accounted in.
const Decimals = 18

const (
	// RoleAdmin may change supply limits and replace the registered engine.
	RoleAdmin = "ROLE_USB_ADMIN"
	// RolePauser may halt and resume mint/burn/transfer flows.
	RolePauser = "ROLE_USB_PAUSER"
)

// circuitBreakerBps bounds a single mint to 10% of the pre-call supply.
const circuitBreakerBps = 1000

const moduleName = "token"

var (
	ErrNotMinter           = errors.New("token: caller is not the registered engine")
	ErrZeroRecipient       = errors.New("token: mint to zero address")
	ErrInvalidAmount       = errors.New("token: amount must be positive")
	ErrMaxSupplyExceeded   = errors.New("token: exceeds max supply")
	ErrRateLimitExceeded   = errors.New("token: exceeds minting rate limit")
	ErrCircuitBreaker      = errors.New("token: circuit breaker triggered")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrMaxSupplyTooLow     = errors.New("token: max supply below current supply")
	ErrNoEngine            = errors.New("token: engine not registered")
	ErrUnauthorized        = errors.New("token: caller lacks required capability")
	ErrNoPriceFeed         = errors.New("token: usd price feed not configured")

	errNilState = errors.New("token: state not configured")
)

var supplyKey = []byte("usb/supply")

// SupplyState is the process-wide singleton tracking issuance limits. Amounts
// are denominated in the token's smallest unit.
type SupplyState struct {
	TotalSupply      *big.Int
	MaxSupply        *big.Int
	MintingRateLimit *big.Int
	LastMintPeriod   uint64
	MintedThisPeriod *big.Int
	Paused           bool
	Engine           []byte
}

// Clone returns a deep copy of the supply state.
func (s *SupplyState) Clone() *SupplyState {
	if s == nil {
		return nil
	}
	clone := &SupplyState{LastMintPeriod: s.LastMintPeriod, Paused: s.Paused}
	if s.TotalSupply != nil {
		clone.TotalSupply = new(big.Int).Set(s.TotalSupply)
	}
	if s.MaxSupply != nil {
		clone.MaxSupply = new(big.Int).Set(s.MaxSupply)
	}
	if s.MintingRateLimit != nil {
		clone.MintingRateLimit = new(big.Int).Set(s.MintingRateLimit)
	}
	if s.MintedThisPeriod != nil {
		clone.MintedThisPeriod = new(big.Int).Set(s.MintedThisPeriod)
	}
	clone.Engine = append([]byte(nil), s.Engine...)
	return clone
}

type controllerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	HasRole(role string, addr []byte) bool
	Balance(addr []byte, symbol string) (*big.Int, error)
	SetBalance(addr []byte, symbol string, amount *big.Int) error
}

// Controller owns the pegged token ledger: capability-gated mint/burn, the
// max-supply cap, the per-period rate limit and the single-call circuit
// breaker. A distinct USB/USD feed backs the peg-deviation read consumed by
// the collateral engine.
type Controller struct {
	mu            sync.Mutex
	state         controllerState
	usdFeed       oracle.PriceFeed
	clock         func() time.Time
	periodSeconds uint64
	maxQuoteAge   time.Duration
	emitter       events.Emitter
}

// NewController constructs a controller bound to the provided state manager.
func NewController(state controllerState) *Controller {
	return &Controller{
		state:         state,
		clock:         time.Now,
		periodSeconds: 1,
		maxQuoteAge:   oracle.DefaultMaxQuoteAge,
		emitter:       events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (c *Controller) SetEmitter(emitter events.Emitter) {
	if c == nil {
		return
	}
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

// SetClock overrides the time source (primarily for deterministic testing).
func (c *Controller) SetClock(clock func() time.Time) {
	if c == nil || clock == nil {
		return
	}
	c.clock = clock
}

// SetPeriodLength configures the rate-limit period in seconds. Values below
// one second are coerced to one.
func (c *Controller) SetPeriodLength(seconds uint64) {
	if c == nil {
		return
	}
	if seconds == 0 {
		seconds = 1
	}
	c.periodSeconds = seconds
}

// SetMaxQuoteAge overrides the freshness window applied to peg price reads.
func (c *Controller) SetMaxQuoteAge(maxAge time.Duration) {
	if c == nil {
		return
	}
	if maxAge <= 0 {
		maxAge = oracle.DefaultMaxQuoteAge
	}
	c.maxQuoteAge = maxAge
}

// ReplaceUSDFeed swaps the USB/USD feed used for peg reads. The caller must
// hold the token admin capability.
func (c *Controller) ReplaceUSDFeed(caller crypto.Address, feed oracle.PriceFeed) error {
	if c == nil || c.state == nil {
		return errNilState
	}
	if !c.state.HasRole(RoleAdmin, caller.Bytes()) {
		return ErrUnauthorized
	}
	if feed == nil {
		return fmt.Errorf("token: feed must not be nil")
	}
	c.mu.Lock()
	c.usdFeed = feed
	c.mu.Unlock()
	return nil
}

// Mint issues new tokens to the recipient. Only the registered engine may
// call; the max-supply cap, the per-period rate limit and the single-call
// circuit breaker all apply. Exactly 10% of the pre-call supply passes the
// breaker; any larger ratio fails. A zero pre-call supply skips the ratio.
func (c *Controller) Mint(caller, to crypto.Address, amount *big.Int) error {
	if c == nil || c.state == nil {
		return errNilState
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	supply, err := c.loadSupply()
	if err != nil {
		return err
	}
	if supply.Paused {
		return nativecommon.ErrModulePaused
	}
	if len(supply.Engine) == 0 {
		return ErrNoEngine
	}
	if !bytes.Equal(supply.Engine, caller.Bytes()) {
		return ErrNotMinter
	}
	if to.IsZero() {
		return ErrZeroRecipient
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	projected := new(big.Int).Add(supply.TotalSupply, amount)
	if projected.Cmp(supply.MaxSupply) > 0 {
		return ErrMaxSupplyExceeded
	}

	period := c.currentPeriod()
	if period != supply.LastMintPeriod {
		supply.LastMintPeriod = period
		supply.MintedThisPeriod = big.NewInt(0)
	}
	periodTotal := new(big.Int).Add(supply.MintedThisPeriod, amount)
	if periodTotal.Cmp(supply.MintingRateLimit) > 0 {
		return ErrRateLimitExceeded
	}

	if supply.TotalSupply.Sign() > 0 {
		// amount/supply > 10% iff amount*10000 > supply*1000.
		lhs := new(big.Int).Mul(amount, big.NewInt(10_000))
		rhs := new(big.Int).Mul(supply.TotalSupply, big.NewInt(circuitBreakerBps))
		if lhs.Cmp(rhs) > 0 {
			c.emitter.Emit(events.CircuitBreakerTriggered{
				Token:        Symbol,
				Requested:    new(big.Int).Set(amount),
				Supply:       new(big.Int).Set(supply.TotalSupply),
				ThresholdBps: circuitBreakerBps,
			})
			return ErrCircuitBreaker
		}
	}

	balance, err := c.state.Balance(to.Bytes(), Symbol)
	if err != nil {
		return err
	}
	if err := c.state.SetBalance(to.Bytes(), Symbol, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}

	supply.TotalSupply = projected
	supply.MintedThisPeriod = periodTotal
	// Balance and supply land as two writes; the mutex keeps them a single
	// logical commit and the backends in use do not fail between puts.
	if err := c.state.KVPut(supplyKey, supply); err != nil {
		return err
	}

	c.emitter.Emit(events.TokenSupply{
		Token:  Symbol,
		Total:  new(big.Int).Set(supply.TotalSupply),
		Delta:  new(big.Int).Set(amount),
		Reason: events.SupplyReasonMint,
	})
	return nil
}

// Burn destroys tokens held by the provided account. Only the registered
// engine may call.
func (c *Controller) Burn(caller, from crypto.Address, amount *big.Int) error {
	if c == nil || c.state == nil {
		return errNilState
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	supply, err := c.loadSupply()
	if err != nil {
		return err
	}
	if supply.Paused {
		return nativecommon.ErrModulePaused
	}
	if len(supply.Engine) == 0 {
		return ErrNoEngine
	}
	if !bytes.Equal(supply.Engine, caller.Bytes()) {
		return ErrNotMinter
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	balance, err := c.state.Balance(from.Bytes(), Symbol)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := c.state.SetBalance(from.Bytes(), Symbol, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}

	supply.TotalSupply = new(big.Int).Sub(supply.TotalSupply, amount)
	if err := c.state.KVPut(supplyKey, supply); err != nil {
		return err
	}

	c.emitter.Emit(events.TokenSupply{
		Token:  Symbol,
		Total:  new(big.Int).Set(supply.TotalSupply),
		Delta:  new(big.Int).Neg(amount),
		Reason: events.SupplyReasonBurn,
	})
	return nil
}

// Transfer moves tokens between accounts. Transfers halt while the token is
// paused, matching mint and burn.
func (c *Controller) Transfer(caller, to crypto.Address, amount *big.Int) error {
	if c == nil || c.state == nil {
		return errNilState
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	supply, err := c.loadSupply()
	if err != nil {
		return err
	}
	if supply.Paused {
		return nativecommon.ErrModulePaused
	}
	if to.IsZero() {
		return ErrZeroRecipient
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	fromBalance, err := c.state.Balance(caller.Bytes(), Symbol)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := c.state.Balance(to.Bytes(), Symbol)
	if err != nil {
		return err
	}
	if err := c.state.SetBalance(caller.Bytes(), Symbol, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return c.state.SetBalance(to.Bytes(), Symbol, new(big.Int).Add(toBalance, amount))
}

// SetMaxSupply raises or lowers the issuance cap. The cap can never drop
// below the current supply.
func (c *Controller) SetMaxSupply(caller crypto.Address, maxSupply *big.Int) error {
	if c == nil || c.state == nil {
		return errNilState
	}
	if !c.state.HasRole(RoleAdmin, caller.Bytes()) {
		return ErrUnauthorized
	}
	if maxSupply == nil || maxSupply.Sign() < 0 {
		return ErrInvalidAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	supply, err := c.loadSupply()
	if err != nil {
		return err
	}
	if maxSupply.Cmp(supply.TotalSupply) < 0 {
		return ErrMaxSupplyTooLow
	}
	supply.MaxSupply = new(big.Int).Set(maxSupply)
	return c.state.KVPut(supplyKey, supply)
}

// SetMintingRateLimit replaces the per-period issuance allowance.
func (c *Controller) SetMintingRateLimit(caller crypto.Address, limit *big.Int) error {
	if c == nil || c.state == nil {
		return errNilState
	}
	if !c.state.HasRole(RoleAdmin, caller.Bytes()) {
		return ErrUnauthorized
	}
	if limit == nil || limit.Sign() < 0 {
		return ErrInvalidAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	supply, err := c.loadSupply()
	if err != nil {
		return err
	}
	supply.MintingRateLimit = new(big.Int).Set(limit)
	return c.state.KVPut(supplyKey, supply)
}

// SetEngine atomically replaces the registered engine: the previous engine
// loses its mint capability in the same update that grants it to the new one.
func (c *Controller) SetEngine(caller, engine crypto.Address) error {
	if c == nil || c.state == nil {
		return errNilState
	}
	if !c.state.HasRole(RoleAdmin, caller.Bytes()) {
		return ErrUnauthorized
	}
	if engine.IsZero() {
		return fmt.Errorf("token: invalid engine address")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	supply, err := c.loadSupply()
	if err != nil {
		return err
	}
	supply.Engine = append([]byte(nil), engine.Bytes()...)
	return c.state.KVPut(supplyKey, supply)
}

// Pause halts mint, burn and transfer flows.
func (c *Controller) Pause(caller crypto.Address) error {
	return c.setPaused(caller, true)
}

// Unpause resumes mint, burn and transfer flows.
func (c *Controller) Unpause(caller crypto.Address) error {
	return c.setPaused(caller, false)
}

func (c *Controller) setPaused(caller crypto.Address, paused bool) error {
	if c == nil || c.state == nil {
		return errNilState
	}
	if !c.state.HasRole(RolePauser, caller.Bytes()) {
		return ErrUnauthorized
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	supply, err := c.loadSupply()
	if err != nil {
		return err
	}
	supply.Paused = paused
	return c.state.KVPut(supplyKey, supply)
}

// IsPaused reports whether token flows are currently halted.
func (c *Controller) IsPaused(string) bool {
	if c == nil || c.state == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	supply, err := c.loadSupply()
	if err != nil {
		return false
	}
	return supply.Paused
}

// USDPrice reports the token's market price in USD from the dedicated peg
// feed. The 900-second staleness rule applies; stale or invalid quotes fail
// rather than silently substituting a value.
func (c *Controller) USDPrice() (*big.Rat, error) {
	if c == nil {
		return nil, errNilState
	}
	c.mu.Lock()
	feed := c.usdFeed
	maxAge := c.maxQuoteAge
	clock := c.clock
	c.mu.Unlock()
	if feed == nil {
		return nil, ErrNoPriceFeed
	}
	round, err := feed.LatestRoundData()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPriceFeed, err)
	}
	if round.Price == nil || round.Price.Sign() <= 0 {
		return nil, oracle.ErrInvalidPrice
	}
	if clock().Sub(round.UpdatedAt) > maxAge {
		return nil, oracle.ErrStalePrice
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(feed.Decimals())), nil)
	return new(big.Rat).SetFrac(round.Price, scale), nil
}

// TotalSupply returns the current circulating supply.
func (c *Controller) TotalSupply() (*big.Int, error) {
	info, err := c.SupplyInfo()
	if err != nil {
		return nil, err
	}
	return info.TotalSupply, nil
}

// BalanceOf returns the token balance held by the address.
func (c *Controller) BalanceOf(addr crypto.Address) (*big.Int, error) {
	if c == nil || c.state == nil {
		return nil, errNilState
	}
	return c.state.Balance(addr.Bytes(), Symbol)
}

// SupplyInfo returns a copy of the supply singleton.
func (c *Controller) SupplyInfo() (*SupplyState, error) {
	if c == nil || c.state == nil {
		return nil, errNilState
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	supply, err := c.loadSupply()
	if err != nil {
		return nil, err
	}
	return supply.Clone(), nil
}

func (c *Controller) loadSupply() (*SupplyState, error) {
	supply := new(SupplyState)
	ok, err := c.state.KVGet(supplyKey, supply)
	if err != nil {
		return nil, err
	}
	if !ok {
		supply = &SupplyState{}
	}
	if supply.TotalSupply == nil {
		supply.TotalSupply = big.NewInt(0)
	}
	if supply.MaxSupply == nil {
		supply.MaxSupply = big.NewInt(0)
	}
	if supply.MintingRateLimit == nil {
		supply.MintingRateLimit = big.NewInt(0)
	}
	if supply.MintedThisPeriod == nil {
		supply.MintedThisPeriod = big.NewInt(0)
	}
	return supply, nil
}

func (c *Controller) currentPeriod() uint64 {
	seconds := c.periodSeconds
	if seconds == 0 {
		seconds = 1
	}
	now := c.clock().Unix()
	if now < 0 {
		return 0
	}
	return uint64(now) / seconds
}
