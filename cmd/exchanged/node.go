package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"nftswap/config"
	"nftswap/core/state"
	"nftswap/native/bank"
	nativecommon "nftswap/native/common"
	"nftswap/native/exchange"
	"nftswap/native/policy"
	"nftswap/observability"
	"nftswap/services/exchanged/indexer"
	"nftswap/services/exchanged/middleware"
	"nftswap/services/exchanged/server"
	"nftswap/services/exchanged/stream"
	"nftswap/storage"
)

// node owns the long-lived resources of a running exchange.
type node struct {
	db      *storage.LevelDB
	state   *state.Manager
	engine  *exchange.Engine
	ledger  *bank.Ledger
	policy  *policy.Registry
	index   *gorm.DB
	stream  *stream.Hub
	server  *server.Server
	logger  *slog.Logger
	cfgPath string
}

type nodeOptions struct {
	Registry prometheus.Registerer
	Gatherer prometheus.Gatherer
	Metrics  *observability.ExchangeMetrics
}

// openNode opens the state database, wires the engine and applies genesis
// setup on first start.
func openNode(cfgPath string, cfg *config.Config, logger *slog.Logger, opts nodeOptions) (*node, error) {
	params, err := cfg.Exchange.Params()
	if err != nil {
		return nil, err
	}
	db, err := storage.NewLevelDB(cfg.StatePath())
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	n := &node{db: db, logger: logger, cfgPath: cfgPath}
	n.state = state.NewManager(storage.NewCache(db))

	if n.ledger, err = bank.NewLedger(n.state, params.Vault); err != nil {
		n.Close()
		return nil, err
	}
	if n.policy, err = policy.NewRegistry(n.state, params.ListingFee, params.PartnerShare); err != nil {
		n.Close()
		return nil, err
	}
	n.engine = exchange.NewEngine(params)
	n.engine.SetState(n.state)
	n.engine.SetPolicy(n.policy)
	n.engine.SetExecutor(n.ledger)
	n.engine.SetPauses(nativecommon.NewPauses(cfg.Exchange.PausedModules))

	if err := n.genesis(cfg); err != nil {
		n.Close()
		return nil, err
	}

	if n.index, err = indexer.Open(cfg.Indexer.Driver, cfg.IndexerDSN()); err != nil {
		n.Close()
		return nil, err
	}
	if cfg.Stream.Enabled {
		n.stream = stream.NewHub(cfg.Stream.Buffer, logger)
	}
	n.server, err = server.New(server.Config{
		ChainID: cfg.ChainID,
		Engine:  n.engine,
		State:   n.state,
		Ledger:  n.ledger,
		Policy:  n.policy,
		Indexer: indexer.New(n.index, logger),
		Stream:  n.stream,
		Metrics: opts.Metrics,
		Admin: middleware.AuthConfig{
			HMACSecret: cfg.Admin.AdminSecret(),
			Issuer:     cfg.Admin.Issuer,
			Audience:   cfg.Admin.Audience,
		},
		Limit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger:      logger,
		Registry:    opts.Registry,
		Gatherer:    opts.Gatherer,
		LogRequests: strings.EqualFold(cfg.Environment, "dev"),
	})
	if err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

// genesis seeds policy and the trading gate exactly once per data directory.
func (n *node) genesis(cfg *config.Config) error {
	initialized, err := n.state.Initialized()
	if err != nil {
		return err
	}
	if initialized {
		return nil
	}
	if seedFile := strings.TrimSpace(cfg.Policy.SeedFile); seedFile != "" {
		if !filepath.IsAbs(seedFile) && n.cfgPath != "" {
			seedFile = filepath.Join(filepath.Dir(n.cfgPath), seedFile)
		}
		seed, err := policy.LoadSeed(seedFile)
		if err != nil {
			return err
		}
		if err := n.policy.Apply(seed); err != nil {
			n.state.Discard()
			return fmt.Errorf("apply policy seed: %w", err)
		}
	}
	if err := n.engine.SetTradingOpen(cfg.Exchange.StartOpen); err != nil {
		n.state.Discard()
		return err
	}
	if err := n.state.MarkInitialized(); err != nil {
		n.state.Discard()
		return err
	}
	if err := n.state.Commit(); err != nil {
		return err
	}
	n.logger.Info("genesis applied", "tradingOpen", cfg.Exchange.StartOpen, "seed", cfg.Policy.SeedFile)
	return nil
}

func (n *node) Close() error {
	var errs []error
	if n.stream != nil {
		n.stream.Close()
	}
	if n.index != nil {
		if sqlDB, err := n.index.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	if n.db != nil {
		errs = append(errs, n.db.Close())
	}
	return errors.Join(errs...)
}
