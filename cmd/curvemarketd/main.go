package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"curvemarket/config"
	"curvemarket/gateway"
	"curvemarket/native/market"
	"curvemarket/native/token"
	"curvemarket/observability/logging"
	"curvemarket/rpc"
	"curvemarket/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	memDB := flag.Bool("memdb", false, "DEV ONLY: keep all state in memory instead of the data directory")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CURVEMARKET_ENV"))
	logger := logging.Setup("curvemarketd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		logger.Error("config incomplete, edit it and restart", slog.String("path", *configFile), slog.Any("error", err))
		os.Exit(1)
	}

	var db storage.Database
	if *memDB {
		db = storage.NewMemDB()
	} else {
		leveldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			logger.Error("failed to open database", slog.String("dir", cfg.DataDir), slog.Any("error", err))
			os.Exit(1)
		}
		defer leveldb.Close()
		db = leveldb
	}

	m, err := buildMarket(cfg)
	if err != nil {
		logger.Error("invalid market configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ledger := token.NewLedger(db)
	engine, err := market.NewEngine(market.NewStore(db), token.NewGateway(ledger, m.Vault))
	if err != nil {
		logger.Error("failed to build engine", slog.Any("error", err))
		os.Exit(1)
	}

	deployed, err := deployIfNeeded(engine, m)
	if err != nil {
		logger.Error("failed to initialise market", slog.Any("error", err))
		os.Exit(1)
	}
	if deployed {
		if err := fundGenesis(ledger, cfg, m); err != nil {
			logger.Error("failed to fund genesis balances", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("market deployed",
			slog.String("asset", m.AssetToken),
			slog.String("settlement", m.SettlementToken),
			slog.String("basePrice", m.BasePrice.String()),
			slog.String("slope", m.Slope.String()),
		)
	} else {
		logger.Info("market state restored", slog.String("dir", cfg.DataDir))
	}

	hub := rpc.NewEventHub()
	engine.SetEmitter(hub)

	restRouter := gateway.NewRouter(engine, logger.With(slog.String("component", "gateway")))
	go func() {
		if err := restRouter.Start(cfg.GatewayAddress); err != nil {
			logger.Error("gateway stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	server := rpc.NewServer(engine, hub, logger.With(slog.String("component", "rpc")))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func buildMarket(cfg *config.Config) (*market.Market, error) {
	basePrice, err := config.ParseAmount(cfg.Market.BasePrice)
	if err != nil {
		return nil, err
	}
	slope, err := config.ParseAmount(cfg.Market.Slope)
	if err != nil {
		return nil, err
	}
	recipient, err := config.ParseAddress(cfg.Market.FeeRecipient)
	if err != nil {
		return nil, fmt.Errorf("fee recipient: %w", err)
	}
	owner, err := config.ParseAddress(cfg.Market.Owner)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	return market.NewMarket(cfg.Market.AssetToken, cfg.Market.SettlementToken, basePrice, slope, cfg.Market.FeeBps, recipient, owner)
}

// deployIfNeeded writes the configured market on first boot and reports
// whether it did. An existing market always wins over the config file so
// parameter changes go through the owner operations instead.
func deployIfNeeded(engine *market.Engine, m *market.Market) (bool, error) {
	if err := engine.Deploy(m); err != nil {
		if _, loadErr := engine.Market(); loadErr == nil {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func fundGenesis(ledger *token.Ledger, cfg *config.Config, m *market.Market) error {
	for i, balance := range cfg.Genesis {
		amount, err := config.ParseAmount(balance.Amount)
		if err != nil {
			return fmt.Errorf("genesis entry %d: %w", i, err)
		}
		if amount.Sign() == 0 {
			continue
		}
		account := m.Vault
		if !balance.Vault {
			account, err = config.ParseAddress(balance.Address)
			if err != nil {
				return fmt.Errorf("genesis entry %d: %w", i, err)
			}
		}
		if err := ledger.Mint(balance.Token, account, new(big.Int).Set(amount)); err != nil {
			return fmt.Errorf("genesis entry %d: %w", i, err)
		}
	}
	return nil
}
