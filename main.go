package main

import (
	"context"
	"log" // standard log only for fatal errors before the logger exists
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"riskcore/config"
	"riskcore/internal/adapters/binanceclient"
	"riskcore/internal/adapters/logger"
	"riskcore/internal/adapters/metrics"
	"riskcore/internal/adapters/sqlite"
	"riskcore/internal/app"
	"riskcore/internal/domain"
	"riskcore/internal/events"
	"riskcore/internal/guardrail"
	"riskcore/internal/ledger"
	"riskcore/internal/proposer"
	"riskcore/internal/risk"
	"riskcore/internal/trailing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: failed to load configuration: %v", err)
	}

	appLogger, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLogger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: failed to initialize database: %v", err)
	}
	defer repo.Close()

	bus := events.NewBus(cfg.EventQueueSize, appLogger)
	defer bus.Close()

	if cfg.MetricsAddr != "" {
		collector := metrics.NewCollector()
		go collector.Run(ctx, bus)
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		go func() {
			appLogger.Info(ctx, "Metrics endpoint listening", map[string]interface{}{"addr": cfg.MetricsAddr})
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				appLogger.Error(ctx, err, "Metrics endpoint failed")
			}
		}()
	}

	ldg, err := ledger.New(ctx, ledger.Config{
		QuoteCurrency:    cfg.QuoteCurrency,
		SlippagePct:      cfg.SlippagePct,
		IsPaper:          cfg.IsPaper,
		Logger:           appLogger,
		Bus:              bus,
		Trades:           repo,
		Positions:        repo,
		Balances:         repo,
		StartingBalances: map[string]float64{cfg.QuoteCurrency: cfg.StartingBalance},
	})
	if err != nil {
		log.Fatalf("FATAL: failed to initialize ledger: %v", err)
	}

	profile, err := domain.ProfileByName(cfg.RiskProfile)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	riskMgr, err := risk.NewManager(risk.Config{
		Profile:        profile,
		Logger:         appLogger,
		Bus:            bus,
		AllowedSymbols: cfg.Symbols,
		DefaultStopPct: cfg.DefaultStopPct,
		InitialBalance: cfg.StartingBalance,
	})
	if err != nil {
		log.Fatalf("FATAL: failed to initialize risk manager: %v", err)
	}

	trail, err := trailing.NewEngine(trailing.Config{
		TrailPct:            cfg.TrailPct,
		BreakevenTriggerPct: cfg.BreakevenTriggerPct,
	}, appLogger, bus)
	if err != nil {
		log.Fatalf("FATAL: failed to initialize trailing engine: %v", err)
	}

	feed, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		log.Fatalf("FATAL: failed to initialize price feed: %v", err)
	}

	orch, err := app.New(app.Config{
		Symbols:          cfg.Symbols,
		Interval:         cfg.Interval,
		MinCandles:       cfg.MinCandles,
		MaxCandleBuffer:  cfg.MaxCandleBuffer,
		DecisionInterval: cfg.DecisionInterval,
	}, appLogger, feed, proposer.NewNoop(), ldg, riskMgr,
		guardrail.NewEnforcer(cfg.Symbols), trail, bus)
	if err != nil {
		log.Fatalf("FATAL: failed to initialize orchestrator: %v", err)
	}

	if err := orch.Run(ctx); err != nil {
		appLogger.Error(ctx, err, "Trading session exited with error")
		os.Exit(1)
	}
	appLogger.Info(ctx, "Application finished gracefully")
}
