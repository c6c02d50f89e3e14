package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"stabolut/crypto"
)

// Config is the daemon's TOML configuration.
type Config struct {
	DataDir       string `toml:"DataDir"`
	ListenAddress string `toml:"ListenAddress"`

	Oracle     OracleConfig       `toml:"oracle"`
	Token      TokenConfig        `toml:"token"`
	Engine     EngineConfig       `toml:"engine"`
	Roles      RolesConfig        `toml:"roles"`
	Collateral []CollateralConfig `toml:"collateral"`
}

// OracleConfig tunes the price oracle adapter.
type OracleConfig struct {
	// MaxQuoteAgeSeconds is the freshness window applied to every quote.
	MaxQuoteAgeSeconds uint64 `toml:"MaxQuoteAgeSeconds"`
}

// TokenConfig tunes the supply controller. Big amounts are decimal strings in
// the token's smallest unit.
type TokenConfig struct {
	MaxSupply        string `toml:"MaxSupply"`
	MintingRateLimit string `toml:"MintingRateLimit"`
	PeriodSeconds    uint64 `toml:"PeriodSeconds"`
	// USDFeedPrice seeds the USB/USD manual feed, e.g. "1.00".
	USDFeedPrice string `toml:"USDFeedPrice"`
}

// EngineConfig tunes the collateral engine.
type EngineConfig struct {
	TreasuryYieldBps   uint64 `toml:"TreasuryYieldBps"`
	EmergencyThreshold string `toml:"EmergencyThreshold"`
	MaxPositionAssets  int    `toml:"MaxPositionAssets"`
}

// RolesConfig seeds the capability registry at boot. Addresses are bech32
// strings with the sbl prefix.
type RolesConfig struct {
	TokenAdmin  []string `toml:"TokenAdmin"`
	TokenPauser []string `toml:"TokenPauser"`
	EngineAdmin []string `toml:"EngineAdmin"`
	Emergency   []string `toml:"Emergency"`
	Compliance  []string `toml:"Compliance"`
}

// CollateralConfig registers a collateral asset at boot.
type CollateralConfig struct {
	Symbol                  string `toml:"Symbol"`
	MinDeposit              string `toml:"MinDeposit"`
	MaxDeposit              string `toml:"MaxDeposit"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	StabilityFeeBps         uint64 `toml:"StabilityFeeBps"`
	FeedDecimals            uint8  `toml:"FeedDecimals"`
	// InitialPrice seeds the asset's manual feed, e.g. "2000.00".
	InitialPrice string `toml:"InitialPrice"`
}

const defaultConfigContent = `DataDir = "./stabolut-data"
ListenAddress = ":8545"

[oracle]
MaxQuoteAgeSeconds = 900

[token]
MaxSupply = "1000000000000000000000000000"
MintingRateLimit = "1000000000000000000000000"
PeriodSeconds = 3600
USDFeedPrice = "1.00"

[engine]
TreasuryYieldBps = 7000
EmergencyThreshold = "0"
MaxPositionAssets = 8

[roles]
TokenAdmin = []
TokenPauser = []
EngineAdmin = []
Emergency = []
Compliance = []

[[collateral]]
Symbol = "ETH"
MinDeposit = "1000000000000000"
MaxDeposit = "1000000000000000000000000"
LiquidationThresholdBps = 12000
StabilityFeeBps = 0
FeedDecimals = 8
InitialPrice = "2000.00"
`

// Load reads the configuration from the provided path. When the file does not
// exist a commented default is written there first.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("config: create directory: %w", err)
			}
		}
		if err := os.WriteFile(path, []byte(defaultConfigContent), 0o644); err != nil {
			return nil, fmt.Errorf("config: write default: %w", err)
		}
	}
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalise applies canonical defaults to unset fields.
func (c *Config) Normalise() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./stabolut-data"
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8545"
	}
	if c.Oracle.MaxQuoteAgeSeconds == 0 {
		c.Oracle.MaxQuoteAgeSeconds = 900
	}
	if c.Token.PeriodSeconds == 0 {
		c.Token.PeriodSeconds = 3600
	}
	if strings.TrimSpace(c.Token.USDFeedPrice) == "" {
		c.Token.USDFeedPrice = "1.00"
	}
	if c.Engine.TreasuryYieldBps == 0 {
		c.Engine.TreasuryYieldBps = 7000
	}
	if c.Engine.MaxPositionAssets <= 0 {
		c.Engine.MaxPositionAssets = 8
	}
	if strings.TrimSpace(c.Engine.EmergencyThreshold) == "" {
		c.Engine.EmergencyThreshold = "0"
	}
	for i := range c.Collateral {
		c.Collateral[i].Symbol = strings.ToUpper(strings.TrimSpace(c.Collateral[i].Symbol))
		if c.Collateral[i].FeedDecimals == 0 {
			c.Collateral[i].FeedDecimals = 8
		}
	}
}

// Validate rejects configurations the daemon could not safely run with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if c.Engine.TreasuryYieldBps > 10_000 {
		return fmt.Errorf("config: engine treasury yield %d exceeds 10000 bps", c.Engine.TreasuryYieldBps)
	}
	if _, err := ParseBig(c.Token.MaxSupply); err != nil {
		return fmt.Errorf("config: token max supply: %w", err)
	}
	if _, err := ParseBig(c.Token.MintingRateLimit); err != nil {
		return fmt.Errorf("config: token rate limit: %w", err)
	}
	if _, err := ParseBig(c.Engine.EmergencyThreshold); err != nil {
		return fmt.Errorf("config: engine emergency threshold: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Collateral))
	for _, asset := range c.Collateral {
		if asset.Symbol == "" {
			return fmt.Errorf("config: collateral entry missing symbol")
		}
		if _, dup := seen[asset.Symbol]; dup {
			return fmt.Errorf("config: duplicate collateral symbol %s", asset.Symbol)
		}
		seen[asset.Symbol] = struct{}{}
		minDeposit, err := ParseBig(asset.MinDeposit)
		if err != nil {
			return fmt.Errorf("config: collateral %s min deposit: %w", asset.Symbol, err)
		}
		maxDeposit, err := ParseBig(asset.MaxDeposit)
		if err != nil {
			return fmt.Errorf("config: collateral %s max deposit: %w", asset.Symbol, err)
		}
		if maxDeposit.Cmp(minDeposit) <= 0 {
			return fmt.Errorf("config: collateral %s max deposit must exceed min deposit", asset.Symbol)
		}
		if asset.LiquidationThresholdBps > 20_000 {
			return fmt.Errorf("config: collateral %s liquidation threshold %d out of range", asset.Symbol, asset.LiquidationThresholdBps)
		}
		if asset.StabilityFeeBps > 10_000 {
			return fmt.Errorf("config: collateral %s stability fee %d exceeds 10000 bps", asset.Symbol, asset.StabilityFeeBps)
		}
		if strings.TrimSpace(asset.InitialPrice) == "" {
			return fmt.Errorf("config: collateral %s missing initial price", asset.Symbol)
		}
	}
	for _, group := range [][]string{
		c.Roles.TokenAdmin, c.Roles.TokenPauser, c.Roles.EngineAdmin,
		c.Roles.Emergency, c.Roles.Compliance,
	} {
		for _, raw := range group {
			if _, err := crypto.DecodeAddress(raw); err != nil {
				return fmt.Errorf("config: role address %q: %w", raw, err)
			}
		}
	}
	return nil
}

// ParseBig parses a non-negative decimal integer string. Empty strings parse
// as zero.
func ParseBig(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("negative value %q", value)
	}
	return parsed, nil
}
