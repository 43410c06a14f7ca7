// internal/app/app.go
// Package app wires the collaborators together and owns process lifecycle.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"solana-volume-bot/internal/chain"
	"solana-volume-bot/internal/config"
	"solana-volume-bot/internal/engine"
	"solana-volume-bot/internal/jito"
	"solana-volume-bot/internal/logger"
	"solana-volume-bot/internal/notify"
	"solana-volume-bot/internal/price"
	"solana-volume-bot/internal/storage"
	"solana-volume-bot/internal/storage/models"
	"solana-volume-bot/internal/storage/mongodb"
	"solana-volume-bot/internal/swap"
	"solana-volume-bot/internal/wallet"
)

const shutdownTimeout = 45 * time.Second

// Runner holds the wired application.
type Runner struct {
	cfg    *config.Config
	log    *zap.Logger
	store  storage.Store
	engine *engine.Engine
}

// NewRunner loads configuration and constructs every collaborator. A .env
// file next to the binary is honored when present.
func NewRunner(configPath string) (*Runner, error) {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Development = cfg.DebugLogging
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store, err := mongodb.NewStorage(ctx, cfg.MongoURL, cfg.DBName, log)
	if err != nil {
		return nil, fmt.Errorf("connect storage: %w", err)
	}

	chainClient, err := chain.NewClient(cfg.RPCList, log)
	if err != nil {
		return nil, fmt.Errorf("init chain client: %w", err)
	}

	pool, err := buildWalletPool(ctx, cfg, store, log)
	if err != nil {
		return nil, fmt.Errorf("build wallet pool: %w", err)
	}

	engineCfg, err := engineConfig(cfg)
	if err != nil {
		return nil, err
	}

	eng := engine.New(
		engineCfg,
		store,
		chainClient,
		jito.NewClient(cfg.JitoEndpoint, chainClient, log),
		pool,
		price.NewHTTPOracle(cfg.PriceURL, log),
		notify.NewLogNotifier(log),
		func(t swap.PoolType) (swap.Provider, error) {
			return swap.ForPool(t, chainClient, log)
		},
		log,
	)

	return &Runner{cfg: cfg, log: log, store: store, engine: eng}, nil
}

// Engine exposes the trading engine to the chat layer.
func (r *Runner) Engine() *engine.Engine { return r.engine }

// Run blocks until SIGINT/SIGTERM, then stops every loop and closes the
// store.
func (r *Runner) Run() error {
	r.log.Info("Volume bot started",
		zap.Int("rpc_nodes", len(r.cfg.RPCList)),
		zap.String("jito_endpoint", r.cfg.JitoEndpoint))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	r.log.Info("Shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := r.engine.StopAll(ctx); err != nil {
		r.log.Error("Stopping loops failed", zap.Error(err))
	}
	if err := r.store.Close(ctx); err != nil {
		r.log.Error("Closing storage failed", zap.Error(err))
	}
	logger.Sync(r.log)
	return nil
}

func engineConfig(cfg *config.Config) (engine.Config, error) {
	tax1, err := solana.PublicKeyFromBase58(cfg.TaxWallet1)
	if err != nil {
		return engine.Config{}, fmt.Errorf("tax_wallet1: %w", err)
	}
	tax2, err := solana.PublicKeyFromBase58(cfg.TaxWallet2)
	if err != nil {
		return engine.Config{}, fmt.Errorf("tax_wallet2: %w", err)
	}
	tax3, err := solana.PublicKeyFromBase58(cfg.TaxWallet3)
	if err != nil {
		return engine.Config{}, fmt.Errorf("tax_wallet3: %w", err)
	}
	return engine.Config{
		JitoTipSol:        cfg.JitoTipSol,
		SwapFee:           cfg.SwapFee,
		MinWorkingBalance: cfg.MinWorkingBalance,
		TaxWallet1:        tax1,
		TaxWallet2:        tax2,
		TaxWallet3:        tax3,
	}, nil
}

// buildWalletPool assembles the rotation pool: persisted wallets first, with
// their used-token sets restored, then keys from the seed file, then freshly
// generated wallets until the configured size is reached. New wallets are
// persisted before use.
func buildWalletPool(ctx context.Context, cfg *config.Config, store storage.Store, log *zap.Logger) (*wallet.Pool, error) {
	records, err := store.ListWallets(ctx, cfg.MaxWalletSize)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, cfg.MaxWalletSize)
	known := make(map[string]struct{}, len(records))
	for _, rec := range records {
		keys = append(keys, rec.PrvKey)
		known[rec.ID] = struct{}{}
	}

	if len(keys) < cfg.MaxWalletSize && cfg.WalletsFile != "" {
		if fileKeys, err := wallet.LoadKeys(cfg.WalletsFile); err == nil {
			for _, key := range fileKeys {
				if len(keys) >= cfg.MaxWalletSize {
					break
				}
				w, err := wallet.New(key)
				if err != nil {
					continue
				}
				id := w.PublicKey.String()
				if _, dup := known[id]; dup {
					continue
				}
				if err := store.SaveWallet(ctx, &models.WalletRecord{
					ID:        id,
					PrvKey:    key,
					CreatedAt: time.Now(),
				}); err != nil {
					return nil, err
				}
				keys = append(keys, key)
				known[id] = struct{}{}
			}
		} else {
			log.Warn("Wallet seed file not loaded", zap.String("path", cfg.WalletsFile), zap.Error(err))
		}
	}

	for len(keys) < cfg.MaxWalletSize {
		w := wallet.Generate()
		key := w.PrivateKey.String()
		if err := store.SaveWallet(ctx, &models.WalletRecord{
			ID:        w.PublicKey.String(),
			PrvKey:    key,
			CreatedAt: time.Now(),
		}); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	pool, err := wallet.NewPool(keys)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		pool.Restore(rec.ID, rec.UsedTokens)
	}

	log.Info("Rotation wallet pool ready",
		zap.Int("size", pool.Size()),
		zap.Int("restored", len(records)))
	return pool, nil
}
