package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	genesis "vestvault/config"
	"vestvault/core/events"
	"vestvault/core/state"
	"vestvault/native/oracle"
	"vestvault/native/presale"
	"vestvault/native/system"
	"vestvault/native/vesting"
	"vestvault/observability"
	"vestvault/observability/logging"
	telemetry "vestvault/observability/otel"
	"vestvault/services/custodyd/config"
	oraclepoller "vestvault/services/custodyd/oracle"
	"vestvault/services/custodyd/recon"
	"vestvault/services/custodyd/server"
	journalstore "vestvault/services/custodyd/storage"
	"vestvault/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/custodyd/config.yaml", "path to custodyd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("custodyd: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("VESTVAULT_ENV"))
	logOpts := logging.Options{Level: logging.ParseLevel(cfg.Log.Level)}
	if cfg.Log.File != "" {
		logOpts.File = &logging.FileConfig{Path: cfg.Log.File, MaxSizeMB: cfg.Log.MaxSizeMB, MaxBackups: cfg.Log.MaxBackups, Compress: true}
	}
	logger := logging.Setup("custodyd", env, logOpts)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("custodyd", env))
	if err != nil {
		log.Fatalf("custodyd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := openState(cfg.State)
	if err != nil {
		log.Fatalf("custodyd: open state: %v", err)
	}
	defer db.Close()
	mgr := state.NewManager(db)

	gen, err := genesis.Load(cfg.GenesisPath)
	if err != nil {
		log.Fatalf("custodyd: load genesis: %v", err)
	}
	applied, err := genesis.Apply(mgr, gen)
	if err != nil {
		log.Fatalf("custodyd: apply genesis: %v", err)
	}
	if applied {
		logger.Info("genesis applied", slog.Int("mints", len(gen.Mints)), slog.Int("balances", len(gen.Balances)))
	}
	auth, err := gen.Authority()
	if err != nil {
		log.Fatalf("custodyd: admin authority: %v", err)
	}

	journal, err := journalstore.Open(cfg.Journal.DSN)
	if err != nil {
		log.Fatalf("custodyd: open journal: %v", err)
	}
	defer journal.Close()
	logger.Info("journal opened", logging.MaskDSN("journal_dsn", cfg.Journal.DSN), slog.String("state_backend", cfg.State.Backend))

	feed, err := oracle.FeedIDFromHex(cfg.Oracle.FeedID)
	if err != nil {
		log.Fatalf("custodyd: oracle feed: %v", err)
	}
	prices := oracle.NewManualSource()
	presaleEngine := presale.NewEngine(mgr, auth, oracle.NewAdapter(prices, feed, cfg.Oracle.MaxAgeSeconds()))
	presaleEngine.SetQuota(gen.PurchaseQuota())
	vestingEngine := vesting.NewEngine(mgr, auth)
	pauses := system.NewPauses(mgr, auth)

	hub := server.NewHub(logger)
	mgr.SetEmitter(events.Fanout{observability.Events(), journal, hub})

	poller, err := oraclepoller.New(
		oracle.NewHermesSource(&http.Client{Timeout: cfg.Oracle.Timeout.Duration}, cfg.Oracle.Endpoint),
		prices,
		feed,
		cfg.Oracle.Interval.Duration,
		oraclepoller.WithLogger(logger),
		oraclepoller.WithRecorder(journal),
		oraclepoller.WithTimeout(cfg.Oracle.Timeout.Duration),
	)
	if err != nil {
		log.Fatalf("custodyd: oracle poller: %v", err)
	}

	reconciler, err := recon.NewReconciler(recon.Config{
		State:     mgr,
		Purchases: journal,
		OutputDir: cfg.Recon.OutputDir,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("custodyd: reconciler: %v", err)
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		MaxSkew:       cfg.Auth.MaxSkew.Duration,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
			TrustedProxies:    cfg.RateLimit.TrustedProxies,
		},
	}, server.Deps{
		Presale: presaleEngine,
		Vesting: vestingEngine,
		Pauses:  pauses,
		Journal: journal,
		Hub:     hub,
	}, logger)
	if err != nil {
		log.Fatalf("custodyd: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.HydrateNonces(rootCtx); err != nil {
		log.Fatalf("custodyd: hydrate nonces: %v", err)
	}

	go func() {
		if err := poller.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("oracle poller exited", slog.Any("error", err))
			stop()
		}
	}()
	if cfg.Recon.Interval.Duration > 0 {
		go func() {
			if err := reconciler.RunEvery(rootCtx, cfg.Recon.Interval.Duration); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("reconciler exited", slog.Any("error", err))
			}
		}()
	}

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("custodyd stopped", slog.Time("at", time.Now().UTC()))
}

func openState(cfg config.StateConfig) (storage.Database, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return storage.NewMemDB(), nil
	case "leveldb":
		return storage.NewLevelDB(cfg.Path)
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(cfg.Path, nil)
	default:
		return nil, fmt.Errorf("unsupported state backend %q", cfg.Backend)
	}
}
