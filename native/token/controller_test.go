package token

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"stabolut/crypto"
	nativecommon "stabolut/native/common"
	"stabolut/native/oracle"
	"stabolut/state"
	"stabolut/storage"
)

type tokenEnv struct {
	t       *testing.T
	manager *state.Manager
	ctrl    *Controller
	now     time.Time

	admin  crypto.Address
	engine crypto.Address
	user   crypto.Address
}

func testAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = b
	}
	return crypto.NewAddress(crypto.SBLPrefix, buf)
}

func newTokenEnv(t *testing.T) *tokenEnv {
	t.Helper()
	env := &tokenEnv{
		t:       t,
		manager: state.NewManager(storage.NewMemDB()),
		now:     time.Unix(1_700_000_000, 0),
		admin:   testAddr(0x01),
		engine:  testAddr(0x02),
		user:    testAddr(0x03),
	}
	if err := env.manager.SetRole(RoleAdmin, env.admin.Bytes()); err != nil {
		t.Fatalf("grant admin: %v", err)
	}
	if err := env.manager.SetRole(RolePauser, env.admin.Bytes()); err != nil {
		t.Fatalf("grant pauser: %v", err)
	}
	env.ctrl = NewController(env.manager)
	env.ctrl.SetClock(func() time.Time { return env.now })
	return env
}

func (env *tokenEnv) configure(maxSupply, rateLimit int64) {
	env.t.Helper()
	if err := env.ctrl.SetEngine(env.admin, env.engine); err != nil {
		env.t.Fatalf("set engine: %v", err)
	}
	if err := env.ctrl.SetMaxSupply(env.admin, big.NewInt(maxSupply)); err != nil {
		env.t.Fatalf("set max supply: %v", err)
	}
	if err := env.ctrl.SetMintingRateLimit(env.admin, big.NewInt(rateLimit)); err != nil {
		env.t.Fatalf("set rate limit: %v", err)
	}
}

func TestMintRequiresRegisteredEngine(t *testing.T) {
	env := newTokenEnv(t)

	if err := env.ctrl.Mint(env.engine, env.user, big.NewInt(100)); !errors.Is(err, ErrNoEngine) {
		t.Fatalf("expected ErrNoEngine, got %v", err)
	}

	env.configure(1_000_000, 1_000_000)
	if err := env.ctrl.Mint(env.user, env.user, big.NewInt(100)); !errors.Is(err, ErrNotMinter) {
		t.Fatalf("expected ErrNotMinter, got %v", err)
	}
	if err := env.ctrl.Mint(env.engine, env.user, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	balance, err := env.ctrl.BalanceOf(env.user)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("balance = %s, want 100", balance)
	}
}

func TestMintRejectsZeroRecipientAndAmount(t *testing.T) {
	env := newTokenEnv(t)
	env.configure(1_000_000, 1_000_000)

	if err := env.ctrl.Mint(env.engine, crypto.Address{}, big.NewInt(100)); !errors.Is(err, ErrZeroRecipient) {
		t.Fatalf("expected ErrZeroRecipient, got %v", err)
	}
	if err := env.ctrl.Mint(env.engine, env.user, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := env.ctrl.Mint(env.engine, env.user, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for nil, got %v", err)
	}
}

func TestMintEnforcesMaxSupply(t *testing.T) {
	env := newTokenEnv(t)
	env.configure(1000, 1_000_000)

	if err := env.ctrl.Mint(env.engine, env.user, big.NewInt(1000)); err != nil {
		t.Fatalf("mint to cap: %v", err)
	}
	if err := env.ctrl.Mint(env.engine, env.user, big.NewInt(1)); !errors.Is(err, ErrMaxSupplyExceeded) {
		t.Fatalf("expected ErrMaxSupplyExceeded, got %v", err)
	}
}

func TestMintRateLimitResetsAcrossPeriods(t *testing.T) {
	env := newTokenEnv(t)
	env.configure(1_000_000, 500)
	env.ctrl.SetPeriodLength(3600)

	if err := env.ctrl.Mint(env.engine, env.user, big.NewInt(500)); err != nil {
		t.Fatalf("mint within limit: %v", err)
	}
	if err := env.ctrl.Mint(env.engine, env.user, big.NewInt(1)); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("expected ErrRateLimitExceeded, got %v", err)
	}

	// Next period starts a fresh allowance; the mint is 10% of supply so it
	// also clears the circuit breaker.
	env.now = env.now.Add(time.Hour)
	if err := env.ctrl.Mint(env.engine, env.user, big.NewInt(50)); err != nil {
		t.Fatalf("mint after period rollover: %v", err)
	}
}

func TestCircuitBreakerBoundary(t *testing.T) {
	env := newTokenEnv(t)
	env.configure(1_000_000, 1_000_000)

	// Zero pre-call supply skips the ratio entirely.
	if err := env.ctrl.Mint(env.engine, env.user, big.NewInt(1000)); err != nil {
		t.Fatalf("bootstrap mint: %v", err)
	}

	// Exactly 10% of the pre-call supply passes.
	if err := env.ctrl.Mint(env.engine, env.user, big.NewInt(100)); err != nil {
		t.Fatalf("mint at exactly 10%%: %v", err)
	}

	// Anything above 10% trips the breaker and leaves supply unchanged.
	if err := env.ctrl.Mint(env.engine, env.user, big.NewInt(111)); !errors.Is(err, ErrCircuitBreaker) {
		t.Fatalf("expected ErrCircuitBreaker, got %v", err)
	}
	supply, err := env.ctrl.TotalSupply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Cmp(big.NewInt(1100)) != 0 {
		t.Fatalf("supply = %s, want 1100", supply)
	}
}

func TestBurnOnlyRegisteredEngine(t *testing.T) {
	env := newTokenEnv(t)
	env.configure(1_000_000, 1_000_000)

	if err := env.ctrl.Mint(env.engine, env.user, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.ctrl.Burn(env.user, env.user, big.NewInt(100)); !errors.Is(err, ErrNotMinter) {
		t.Fatalf("expected ErrNotMinter, got %v", err)
	}
	if err := env.ctrl.Burn(env.engine, env.user, big.NewInt(2000)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := env.ctrl.Burn(env.engine, env.user, big.NewInt(400)); err != nil {
		t.Fatalf("burn: %v", err)
	}

	supply, err := env.ctrl.TotalSupply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("supply = %s, want 600", supply)
	}
}

func TestPauseHaltsFlows(t *testing.T) {
	env := newTokenEnv(t)
	env.configure(1_000_000, 1_000_000)

	if err := env.ctrl.Mint(env.engine, env.user, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.ctrl.Pause(env.user); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := env.ctrl.Pause(env.admin); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if err := env.ctrl.Mint(env.engine, env.user, big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused mint, got %v", err)
	}
	if err := env.ctrl.Burn(env.engine, env.user, big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused burn, got %v", err)
	}
	if err := env.ctrl.Transfer(env.user, env.admin, big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused transfer, got %v", err)
	}

	if err := env.ctrl.Unpause(env.admin); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := env.ctrl.Transfer(env.user, env.admin, big.NewInt(1)); err != nil {
		t.Fatalf("transfer after unpause: %v", err)
	}
}

func TestSetMaxSupplyNeverBelowSupply(t *testing.T) {
	env := newTokenEnv(t)
	env.configure(1_000_000, 1_000_000)

	if err := env.ctrl.Mint(env.engine, env.user, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.ctrl.SetMaxSupply(env.admin, big.NewInt(999)); !errors.Is(err, ErrMaxSupplyTooLow) {
		t.Fatalf("expected ErrMaxSupplyTooLow, got %v", err)
	}
	if err := env.ctrl.SetMaxSupply(env.admin, big.NewInt(1000)); err != nil {
		t.Fatalf("set max supply at current supply: %v", err)
	}
	if err := env.ctrl.SetMaxSupply(env.user, big.NewInt(2000)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSetEngineSwapsMintCapability(t *testing.T) {
	env := newTokenEnv(t)
	env.configure(1_000_000, 1_000_000)

	replacement := testAddr(0x09)
	if err := env.ctrl.SetEngine(env.admin, replacement); err != nil {
		t.Fatalf("swap engine: %v", err)
	}
	if err := env.ctrl.Mint(env.engine, env.user, big.NewInt(1)); !errors.Is(err, ErrNotMinter) {
		t.Fatalf("old engine should lose mint, got %v", err)
	}
	if err := env.ctrl.Mint(replacement, env.user, big.NewInt(1)); err != nil {
		t.Fatalf("new engine mint: %v", err)
	}
}

func TestUSDPriceFreshness(t *testing.T) {
	env := newTokenEnv(t)

	if _, err := env.ctrl.USDPrice(); !errors.Is(err, ErrNoPriceFeed) {
		t.Fatalf("expected ErrNoPriceFeed, got %v", err)
	}

	feed := oracle.NewManualFeed(8)
	feed.Set(big.NewInt(99_000_000), env.now)
	if err := env.ctrl.ReplaceUSDFeed(env.user, feed); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := env.ctrl.ReplaceUSDFeed(env.admin, feed); err != nil {
		t.Fatalf("replace feed: %v", err)
	}

	price, err := env.ctrl.USDPrice()
	if err != nil {
		t.Fatalf("usd price: %v", err)
	}
	if price.Cmp(big.NewRat(99, 100)) != 0 {
		t.Fatalf("price = %s, want 0.99", price.FloatString(4))
	}

	env.now = env.now.Add(901 * time.Second)
	if _, err := env.ctrl.USDPrice(); !errors.Is(err, oracle.ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
}

func TestTransferMovesBalances(t *testing.T) {
	env := newTokenEnv(t)
	env.configure(1_000_000, 1_000_000)

	if err := env.ctrl.Mint(env.engine, env.user, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.ctrl.Transfer(env.user, env.admin, big.NewInt(600)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := env.ctrl.Transfer(env.user, env.admin, big.NewInt(200)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	from, err := env.ctrl.BalanceOf(env.user)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	to, err := env.ctrl.BalanceOf(env.admin)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if from.Cmp(big.NewInt(300)) != 0 || to.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("balances = %s/%s, want 300/200", from, to)
	}
}
