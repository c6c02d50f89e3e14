package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"stabolut/config"
	"stabolut/crypto"
	"stabolut/native/engine"
	"stabolut/native/oracle"
	"stabolut/native/token"
	"stabolut/rpc"
	"stabolut/state"
	"stabolut/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if len(cfg.Roles.TokenAdmin) == 0 || len(cfg.Roles.EngineAdmin) == 0 {
		log.Fatalf("config: at least one TokenAdmin and one EngineAdmin address required")
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	manager := state.NewManager(db)

	if err := seedRoles(manager, cfg.Roles); err != nil {
		log.Fatalf("seed roles: %v", err)
	}
	tokenAdmin, err := crypto.DecodeAddress(cfg.Roles.TokenAdmin[0])
	if err != nil {
		log.Fatalf("token admin address: %v", err)
	}
	engineAdmin, err := crypto.DecodeAddress(cfg.Roles.EngineAdmin[0])
	if err != nil {
		log.Fatalf("engine admin address: %v", err)
	}

	adapter := oracle.NewAdapter()
	adapter.SetMaxAge(time.Duration(cfg.Oracle.MaxQuoteAgeSeconds) * time.Second)

	ctrl := token.NewController(manager)
	ctrl.SetPeriodLength(cfg.Token.PeriodSeconds)
	ctrl.SetMaxQuoteAge(time.Duration(cfg.Oracle.MaxQuoteAgeSeconds) * time.Second)

	usdFeed := oracle.NewManualFeed(8)
	if err := usdFeed.SetDecimal(cfg.Token.USDFeedPrice, time.Now()); err != nil {
		log.Fatalf("seed usd feed: %v", err)
	}
	if err := ctrl.ReplaceUSDFeed(tokenAdmin, usdFeed); err != nil {
		log.Fatalf("register usd feed: %v", err)
	}

	engineAddr := moduleAddress("stabolut/engine/module")
	if err := ctrl.SetEngine(tokenAdmin, engineAddr); err != nil {
		log.Fatalf("register engine: %v", err)
	}
	maxSupply, err := config.ParseBig(cfg.Token.MaxSupply)
	if err != nil {
		log.Fatalf("token max supply: %v", err)
	}
	if err := ctrl.SetMaxSupply(tokenAdmin, maxSupply); err != nil {
		log.Fatalf("set max supply: %v", err)
	}
	rateLimit, err := config.ParseBig(cfg.Token.MintingRateLimit)
	if err != nil {
		log.Fatalf("token rate limit: %v", err)
	}
	if err := ctrl.SetMintingRateLimit(tokenAdmin, rateLimit); err != nil {
		log.Fatalf("set rate limit: %v", err)
	}

	eng := engine.NewEngine(engineAddr)
	eng.SetState(manager)
	eng.SetOracle(adapter)
	eng.SetToken(ctrl)
	eng.SetStrategy(engine.NewHoldingStrategy())
	eng.SetTreasury(engine.NewReserveTreasury())
	eng.SetMaxPositionAssets(cfg.Engine.MaxPositionAssets)

	threshold, err := config.ParseBig(cfg.Engine.EmergencyThreshold)
	if err != nil {
		log.Fatalf("engine emergency threshold: %v", err)
	}
	if err := eng.UpdateParameters(engineAdmin, cfg.Engine.TreasuryYieldBps, threshold); err != nil {
		log.Fatalf("engine parameters: %v", err)
	}

	for _, asset := range cfg.Collateral {
		feed := oracle.NewManualFeed(asset.FeedDecimals)
		if err := feed.SetDecimal(asset.InitialPrice, time.Now()); err != nil {
			log.Fatalf("seed %s feed: %v", asset.Symbol, err)
		}
		minDeposit, err := config.ParseBig(asset.MinDeposit)
		if err != nil {
			log.Fatalf("collateral %s min deposit: %v", asset.Symbol, err)
		}
		maxDeposit, err := config.ParseBig(asset.MaxDeposit)
		if err != nil {
			log.Fatalf("collateral %s max deposit: %v", asset.Symbol, err)
		}
		collateral := engine.CollateralConfig{
			Symbol:                  asset.Symbol,
			Supported:               true,
			MinDeposit:              minDeposit,
			MaxDeposit:              maxDeposit,
			LiquidationThresholdBps: asset.LiquidationThresholdBps,
			StabilityFeeBps:         asset.StabilityFeeBps,
		}
		if err := eng.AddCollateral(engineAdmin, collateral, feed); err != nil {
			log.Fatalf("register collateral %s: %v", asset.Symbol, err)
		}
		log.Printf("collateral %s registered (initial price %s)", asset.Symbol, asset.InitialPrice)
	}

	server := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: rpc.NewServer(ctrl, eng).Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("stabolutd listening on %s", cfg.ListenAddress)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}
}

func seedRoles(manager *state.Manager, roles config.RolesConfig) error {
	grants := []struct {
		role  string
		addrs []string
	}{
		{token.RoleAdmin, roles.TokenAdmin},
		{token.RolePauser, roles.TokenPauser},
		{engine.RoleAdmin, roles.EngineAdmin},
		{engine.RoleEmergency, roles.Emergency},
		{engine.RoleCompliance, roles.Compliance},
	}
	for _, grant := range grants {
		for _, raw := range grant.addrs {
			addr, err := crypto.DecodeAddress(raw)
			if err != nil {
				return err
			}
			if err := manager.SetRole(grant.role, addr.Bytes()); err != nil {
				return err
			}
		}
	}
	return nil
}

func moduleAddress(name string) crypto.Address {
	return crypto.NewAddress(crypto.SBLPrefix, ethcrypto.Keccak256([]byte(name))[:20])
}
