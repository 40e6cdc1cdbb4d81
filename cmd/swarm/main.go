package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/swarm/internal/account"
	"github.com/nexus-trading/swarm/internal/adapters"
	"github.com/nexus-trading/swarm/internal/adapters/dex"
	"github.com/nexus-trading/swarm/internal/adapters/relay"
	"github.com/nexus-trading/swarm/internal/adapters/underdog"
	"github.com/nexus-trading/swarm/internal/config"
	"github.com/nexus-trading/swarm/internal/generator"
	"github.com/nexus-trading/swarm/internal/ledger"
	"github.com/nexus-trading/swarm/internal/observability"
	"github.com/nexus-trading/swarm/internal/pairgraph"
	"github.com/nexus-trading/swarm/internal/report"
	"github.com/nexus-trading/swarm/internal/runner"
	"github.com/nexus-trading/swarm/internal/scheduler"
	"github.com/nexus-trading/swarm/internal/sizer"
	"github.com/nexus-trading/swarm/internal/solana"
	"github.com/nexus-trading/swarm/internal/storage/postgres"
	"github.com/nexus-trading/swarm/internal/token"
	"github.com/nexus-trading/swarm/internal/venue"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	module := flag.String("module", "", "Venue to run (overrides general.module)")
	dryRunFlag := flag.Bool("dry-run", false, "Log actions instead of sending transactions")
	stubMode := flag.Bool("stub", false, "Use stub RPC (no real Eclipse connection)")
	flag.Parse()

	// 2. Load .env and configuration.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "WARN: failed to load .env: %v\n", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	venueName := *module
	if venueName == "" {
		venueName = cfg.General.Module
	}
	if venueName == "" {
		log.Fatal().Msg("no venue selected: pass -module or set general.module")
	}
	if err := cfg.CheckVenue(venueName); err != nil {
		log.Fatal().Err(err).Msg("Venue not runnable")
	}
	dryRun := *dryRunFlag || cfg.General.DryRun

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("module", venueName).
		Bool("dry_run", dryRun).
		Bool("stub_mode", *stubMode).
		Int("concurrency", cfg.Scheduler.Concurrency).
		Dur("admission_timeout", cfg.Scheduler.AdmissionTimeout).
		Msg("Configuration loaded")

	// 4. Static tables: tokens, venues, pair graph.
	tokens, err := token.NewRegistry(cfg.Tokens.List, cfg.Tokens.Gas)
	if err != nil {
		log.Fatal().Err(err).Msg("Token registry invalid")
	}
	venues, err := venue.NewSet(cfg.Venues)
	if err != nil {
		log.Fatal().Err(err).Msg("Venue table invalid")
	}
	v, ok := venues.Get(venueName)
	if !ok {
		log.Fatal().Str("module", venueName).Strs("available", venues.Names()).Msg("Unknown venue")
	}
	graph, err := pairgraph.New(venues.Pairs(), func(s string) bool { _, ok := tokens.Lookup(s); return ok })
	if err != nil {
		log.Fatal().Err(err).Msg("Pair graph invalid")
	}

	// 5. Accounts.
	rnd := sizer.NewRandFromTime()
	if cfg.General.Seed != 0 {
		rnd = sizer.NewRand(cfg.General.Seed)
	}
	accounts, err := loadAccounts(cfg, rnd)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load accounts")
	}
	log.Info().Int("accounts", len(accounts)).Msg("Accounts loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 6. Eclipse RPC, confirmation, priority fees.
	var (
		rpc     solana.RPCClient
		liveRPC *solana.LiveRPCClient
	)
	if *stubMode {
		rpc = solana.NewStubRPCClient()
		log.Info().Msg("Eclipse RPC: STUB mode")
	} else {
		liveRPC = solana.NewLiveRPCClient(cfg.Eclipse.RPC)
		rpc = liveRPC
		defer liveRPC.Close()

		healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rpc.Health(healthCtx); err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.Eclipse.RPC.Endpoint).
				Msg("Eclipse RPC health check failed (continuing, may be rate-limited)")
		} else {
			log.Info().Str("endpoint", cfg.Eclipse.RPC.Endpoint).Msg("Eclipse RPC: LIVE - connected")
		}
		healthCancel()
	}

	confirmCfg := cfg.Eclipse.Confirm
	if *stubMode {
		confirmCfg.WSEndpoint = ""
	}
	confirmer := solana.NewConfirmer(confirmCfg, rpc)
	fees := solana.NewPriorityFeeEstimator(rpc, solana.ParseCongestion(cfg.Eclipse.Congestion))
	go fees.Start(ctx)
	defer fees.Stop()

	accessor := ledger.NewSolanaLedger(rpc, confirmer, fees)

	execs, dexes := buildExecutors(cfg, tokens, rpc, confirmer, fees, dryRun)
	stats := statsFunc(liveRPC, fees, dexes)

	// 7. Metrics, health and stats.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	health := observability.NewHealthMonitor()
	health.Register("eclipse_rpc", observability.Ping(rpc.Health))
	if cfg.Metrics.Enabled {
		addr := fmt.Sprintf(":%d", cfg.Metrics.PrometheusPort)
		go observability.Serve(ctx, addr, observability.Handler(reg, health, stats))
		log.Info().Str("addr", addr).Msg("Metrics server started")
	}

	// 8. Executor and generator for the selected venue.
	exec, err := execs.Get(v.Executor)
	if err != nil {
		log.Error().Err(err).Str("venue", v.Name).Msg("No executor for venue, every account will be exhausted")
		exec = nil
	}

	sz := sizer.New(rnd)
	gen, err := generator.New(v, generator.Deps{
		Tokens: tokens,
		Graph:  graph,
		Ledger: accessor,
		Sizer:  sz,
		Rand:   rnd,
	})
	if err != nil {
		log.Error().Err(err).Str("venue", v.Name).Msg("No generator for venue, every account will be exhausted")
		gen = nil
	}

	// 9. Run.
	r := runner.New(v, runner.Deps{
		Generator: gen,
		Executor:  exec,
		Ledger:    accessor,
		Gas:       tokens.Gas(),
		Sizer:     sz,
		Metrics:   metrics,
	}, runner.Config{
		MaxRetries: cfg.Scheduler.MaxRetries,
		RunTimeout: cfg.Scheduler.RunTimeout,
	})
	sched := scheduler.New(r, scheduler.Config{
		Concurrency:      cfg.Scheduler.Concurrency,
		AdmissionTimeout: cfg.Scheduler.AdmissionTimeout,
	}, metrics)

	rep := sched.RunAll(ctx, accounts)
	rep.Log()
	log.Info().Interface("stats", stats()).Msg("Component stats")

	// 10. Persist the report. Sinks get their own context so SIGINT still
	// leaves a record behind.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer saveCancel()

	sinks := []report.Sink{report.NewJSONLSink(cfg.Storage.ReportDir)}
	if cfg.Storage.PostgresDSN != "" {
		pool, err := postgres.NewPool(saveCtx, cfg.Storage.PostgresDSN)
		if err != nil {
			log.Error().Err(err).Msg("Postgres unavailable, report kept on disk only")
		} else {
			defer pool.Close()
			if err := pool.Migrate(saveCtx); err != nil {
				log.Error().Err(err).Msg("Postgres migration failed")
			} else {
				sinks = append(sinks, postgres.NewReportStore(pool))
			}
		}
	}
	if err := report.Publish(saveCtx, rep, sinks...); err != nil {
		log.Error().Err(err).Msg("Report not fully persisted")
	}

	log.Info().Str("run_id", rep.RunID).Msg("swarm stopped")
}

func loadAccounts(cfg *config.Config, rnd *sizer.Rand) ([]*account.Account, error) {
	svmKeys, err := config.ReadLines(cfg.Files.Wallets)
	if err != nil {
		return nil, err
	}
	evmKeys, err := config.ReadOptionalLines(cfg.Files.EVMWallets)
	if err != nil {
		return nil, err
	}
	proxies, err := config.ReadOptionalLines(cfg.Files.Proxies)
	if err != nil {
		return nil, err
	}
	fc, err := cfg.FactoryConfig()
	if err != nil {
		return nil, err
	}
	return account.NewFactory(fc, rnd).Build(svmKeys, evmKeys, proxies)
}

// buildExecutors registers every configured executor and returns the dex ones
// for stats. In dry-run mode each name maps to a DryRun executor instead.
func buildExecutors(cfg *config.Config, tokens *token.Registry, rpc solana.RPCClient, confirm ledger.Awaiter, fees ledger.PriceSource, dryRun bool) (*adapters.Registry, []*dex.Executor) {
	names := []string{"relay", "underdog"}
	for name := range cfg.Dex {
		names = append(names, name)
	}

	execs := adapters.NewRegistry()
	if dryRun {
		for _, name := range names {
			execs.Register(adapters.NewDryRun(name))
		}
		return execs, nil
	}

	var dexes []*dex.Executor
	for name, dc := range cfg.Dex {
		e := dex.New(name, dc, tokens, rpc, confirm, fees)
		execs.Register(e)
		dexes = append(dexes, e)
	}
	execs.Register(relay.New(cfg.Relay, relay.DialEthclient))
	execs.Register(underdog.New(cfg.Underdog, rpc, confirm))
	return execs, dexes
}

// statsFunc gathers RPC, fee and dex counters. live is nil in stub mode.
func statsFunc(live *solana.LiveRPCClient, fees *solana.PriorityFeeEstimator, dexes []*dex.Executor) observability.StatsFunc {
	return func() map[string]any {
		stats := map[string]any{"priority_fees": fees.Stats()}
		if live != nil {
			stats["eclipse_rpc"] = live.Stats()
		}
		for _, e := range dexes {
			stats["dex_"+e.Name()] = e.Stats()
		}
		return stats
	}
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "swarm").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "swarm").
			Str("instance", general.InstanceID).Logger()
	}
}
