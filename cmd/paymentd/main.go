package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"loyalchain/config"
	"loyalchain/core/events"
	"loyalchain/gateway/middleware"
	"loyalchain/gateway/routes"
	"loyalchain/native/ledger"
	"loyalchain/native/payment"
	"loyalchain/native/rates"
	"loyalchain/native/shop"
	"loyalchain/observability/logging"
	otelinit "loyalchain/observability/otel"
	"loyalchain/storage"
)

const shutdownTimeout = 10 * time.Second

// logEmitter mirrors every payment event onto the structured log stream so
// relay operators can tail state transitions without an indexer.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	args := []any{"type", evt.EventType()}
	if carrier, ok := evt.(interface{ Attributes() map[string]string }); ok {
		for key, value := range carrier.Attributes() {
			args = append(args, key, value)
		}
	}
	l.logger.Info("payment event", args...)
}

func main() {
	configPath := flag.String("config", "./paymentd.toml", "path to the paymentd TOML config")
	env := flag.String("env", os.Getenv("PAYMENTD_ENV"), "deployment environment label")
	flag.Parse()

	logger := logging.Setup("paymentd", *env)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := otelinit.Init(ctx, otelinit.Config{
			ServiceName: "paymentd",
			Environment: *env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     otelinit.ParseHeaders(cfg.Telemetry.Headers),
		})
		if err != nil {
			logger.Error("init telemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", "error", err)
			}
		}()
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("open state database", "error", err, "dir", cfg.DataDir)
		os.Exit(1)
	}
	defer db.Close()

	engine, registry, err := buildEngine(cfg, db, logger)
	if err != nil {
		logger.Error("build payment engine", "error", err)
		os.Exit(1)
	}

	handler := buildHandler(cfg, engine, registry, logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("paymentd listening", "address", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down paymentd")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
}

func buildEngine(cfg *config.Config, db storage.Database, logger *slog.Logger) (*payment.Engine, *shop.Registry, error) {
	system, err := cfg.SystemAddress()
	if err != nil {
		return nil, nil, err
	}
	feeCollection, err := cfg.FeeCollectionAddress()
	if err != nil {
		return nil, nil, err
	}
	holding, err := cfg.HoldingAddress()
	if err != nil {
		return nil, nil, err
	}

	led, err := ledger.New(db, ledger.Config{
		SystemAccount:        system,
		FeeCollectionAccount: feeCollection,
		FeeBps:               cfg.FeeBps,
	})
	if err != nil {
		return nil, nil, err
	}

	registry, err := shop.NewRegistry(db)
	if err != nil {
		return nil, nil, err
	}

	oracle := rates.NewOracle()
	tokenRate, err := cfg.TokenRate()
	if err != nil {
		return nil, nil, err
	}
	if err := oracle.SetTokenRate(tokenRate); err != nil {
		return nil, nil, err
	}
	pointRates, err := cfg.PointRates()
	if err != nil {
		return nil, nil, err
	}
	for code, rate := range pointRates {
		if err := oracle.SetRate(code, rate); err != nil {
			return nil, nil, err
		}
	}

	store, err := payment.NewStore(db)
	if err != nil {
		return nil, nil, err
	}

	engine := payment.NewEngine()
	engine.SetState(store)
	engine.SetLedger(led)
	engine.SetShopRegistry(registry)
	engine.SetRateSource(oracle)
	engine.SetHoldingAccount(holding)
	engine.SetChainID(cfg.ChainID)
	engine.SetEmitter(logEmitter{logger: logger.With("component", "payment-engine")})
	return engine, registry, nil
}

func buildHandler(cfg *config.Config, engine *payment.Engine, registry *shop.Registry, logger *slog.Logger) http.Handler {
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:       cfg.Gateway.Auth.Enabled,
		HMACSecret:    cfg.Gateway.Auth.HMACSecret,
		Issuer:        cfg.Gateway.Auth.Issuer,
		Audience:      cfg.Gateway.Auth.Audience,
		OptionalPaths: []string{"/healthz", "/metrics"},
	}, logger)

	limit := middleware.RateLimit{
		RequestsPerMinute: cfg.Gateway.RateLimit.RequestsPerMinute,
		Burst:             cfg.Gateway.RateLimit.Burst,
	}
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"payments": limit,
		"accounts": limit,
		"shops":    limit,
	}, logger)

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "paymentd",
		LogRequests: cfg.Gateway.LogRequests,
		Enabled:     true,
	}, logger)

	return routes.New(routes.Config{
		Payments:      routes.NewPaymentRoutes(engine, logger.With("component", "gateway")),
		Shops:         routes.NewShopRoutes(registry, logger.With("component", "gateway")),
		Authenticator: auth,
		RateLimiter:   limiter,
		Observability: obs,
	})
}
