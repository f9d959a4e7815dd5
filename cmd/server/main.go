package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"goeverbridge/EVMRPC"
	"goeverbridge/SOLRPC"
	"goeverbridge/TVMRPC"
	"goeverbridge/assets"
	"goeverbridge/config"
	"goeverbridge/indexer"
	"goeverbridge/logger"
	"goeverbridge/pipeline"
	"goeverbridge/redis"
	"goeverbridge/sessions"
	"goeverbridge/workers"
	"goeverbridge/workers/handlers"
)

func main() {
	config.Init()

	lggr, err := logger.New(config.Config.Server.LogLevel)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := serve(lggr, func() error { return run(ctx, config.Config, lggr) })
	stop()
	os.Exit(code)
}

// serve runs the service and returns the exit code once the logger is flushed,
// os.Exit would skip a deferred Sync.
func serve(lggr logger.Logger, fn func() error) int {
	defer lggr.Sync()
	if err := fn(); err != nil {
		lggr.Errorw("Bridge service failed", "err", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Configuration, lggr logger.Logger) error {
	lggr.Infow("Starting transfer pipeline service")

	// connect to Redis, without persistence do not continue
	store := redis.New(redis.NewPool(cfg.Server.RedisHost, cfg.Server.RedisPort), lggr)
	defer store.Close()
	if err := store.Ping(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	deps := pipeline.Deps{
		EVM:    make(map[string]pipeline.EVMReader, len(cfg.EVMChains)),
		Config: cfg.Pipeline,
		Logger: lggr,
	}
	balances := handlers.Balances{EVM: make(map[string]handlers.EVMBalanceReader, len(cfg.EVMChains))}
	callers := make(map[string]assets.ContractCaller, len(cfg.EVMChains))
	for _, chain := range cfg.EVMChains {
		client := EVMRPC.NewClient(chain, lggr)
		deps.EVM[chain.ChainID] = client
		balances.EVM[chain.ChainID] = client
		callers[chain.ChainID] = client
	}
	if cfg.EVM.PrivateKey != "" {
		wallet, err := EVMRPC.NewWallet(cfg.EVMChains, cfg.EVM.PrivateKey, lggr)
		if err != nil {
			return fmt.Errorf("EVM wallet: %w", err)
		}
		deps.EVMWriter = wallet
		balances.EVMWallet = wallet.Address()
	}

	tvm, err := TVMRPC.Dial(ctx, cfg.TVM, cfg.Pipeline.PollInterval, lggr)
	if err != nil {
		return fmt.Errorf("TVM: %w", err)
	}
	deps.TVM = tvm
	balances.TVM = tvm
	if cfg.TVM.WalletSeed != "" {
		wallet, err := TVMRPC.NewWallet(tvm.API(), cfg.TVM.WalletSeed, cfg.TVM.WalletVersion, lggr)
		if err != nil {
			return fmt.Errorf("TVM wallet: %w", err)
		}
		deps.TVMWriter = wallet
		balances.TVMWallet = wallet.Address()
	}

	if cfg.Solana.RPCURL != "" {
		sol, err := SOLRPC.NewClient(cfg.Solana.RPCURL, cfg.Solana.ProgramID, lggr)
		if err != nil {
			return fmt.Errorf("solana: %w", err)
		}
		deps.Solana = sol
		if cfg.Solana.PrivateKey != "" {
			wallet, err := SOLRPC.NewWallet(cfg.Solana.RPCURL, cfg.Solana.PrivateKey, lggr)
			if err != nil {
				return fmt.Errorf("solana wallet: %w", err)
			}
			deps.SolanaWriter = wallet
		}
	}

	if cfg.Indexer.URL != "" {
		deps.Indexer = indexer.NewClient(cfg.Indexer.URL, lggr)
	}

	registry := assets.New(cfg.Assets, cfg.Routes, store, assets.MultiVaultNatives{Callers: callers}, cfg.Pipeline.DescriptorTTL, lggr)
	if err := registry.Load(); err != nil {
		return err
	}
	deps.Assets = registry

	mgr := sessions.NewManager(deps, store, lggr)
	defer mgr.Close()
	if err := mgr.Restore(); err != nil {
		lggr.Warnw("Open sessions were not restored", "err", err)
	}

	// worker threads:
	// * drop settled sessions
	// * API serving HTTP server (serves as main worker thread)
	go workers.Worker_sweep(ctx, mgr, cfg.Pipeline.SessionRetention/4, cfg.Pipeline.SessionRetention, lggr)

	api := &handlers.API{Sessions: mgr, Balances: balances, Lggr: lggr.Named("api")}
	return workers.Worker_HTTP(ctx, cfg, workers.NewRouter(api), lggr)
}
