package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-heal/internal/alerting"
	"github.com/miradorstack/mirador-heal/internal/api"
	"github.com/miradorstack/mirador-heal/internal/cache"
	"github.com/miradorstack/mirador-heal/internal/classify"
	"github.com/miradorstack/mirador-heal/internal/config"
	"github.com/miradorstack/mirador-heal/internal/detect"
	"github.com/miradorstack/mirador-heal/internal/engine"
	"github.com/miradorstack/mirador-heal/internal/metrics"
	"github.com/miradorstack/mirador-heal/internal/patterns"
	"github.com/miradorstack/mirador-heal/internal/predict"
	"github.com/miradorstack/mirador-heal/internal/recovery"
	"github.com/miradorstack/mirador-heal/internal/rootcause"
	"github.com/miradorstack/mirador-heal/internal/services"
	"github.com/miradorstack/mirador-heal/internal/store"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-heal", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	// Without Valkey, suppression windows still hold within this process.
	var cacheProvider cache.Provider = cache.NewMemoryProvider()
	var valkeyCloser cache.Provider
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			valkeyCloser = provider
		}
	}
	if valkeyCloser != nil {
		defer valkeyCloser.Close()
	}

	var recordStore store.Store = store.NewMemoryStore()
	if cfg.Storage.PostgresDSN != "" {
		connectCtx, cancelConnect := context.WithTimeout(context.Background(), 15*time.Second)
		pg, err := store.NewPostgresStore(connectCtx, store.PostgresConfig{
			DSN:          cfg.Storage.PostgresDSN,
			MaxConns:     cfg.Storage.MaxConns,
			MinConns:     cfg.Storage.MinConns,
			ConnLifetime: cfg.Storage.ConnLifetime,
		}, logger)
		cancelConnect()
		if err != nil {
			logger.Error("failed to connect to postgres", slog.Any("error", err))
			os.Exit(1)
		}
		recordStore = pg
	} else {
		logger.Warn("no postgres DSN configured, records will not survive restarts")
	}
	defer recordStore.Close()

	classifier, err := classify.NewClassifier(cfg.Classify.MappingPath, logger)
	if err != nil {
		logger.Error("failed to load classification mapping", slog.Any("error", err))
		os.Exit(1)
	}

	alertCfg := alerting.Config{
		BaseURL:        cfg.Alerting.GatewayURL,
		AlertsPath:     cfg.Alerting.AlertsPath,
		AutomationPath: cfg.Alerting.AutomationPath,
		Timeout:        cfg.Alerting.Timeout,
		SuppressionTTL: cfg.Alerting.SuppressionTTL,
	}
	gateway := alerting.NewGatewayClient(alertCfg, cacheProvider, utils.Component(logger, "alerting"))
	automation := alerting.NewAutomationClient(alertCfg, utils.Component(logger, "automation"))

	executor := recovery.NewExecutor(
		recovery.NewHandlers(recovery.HandlerConfig{
			RetryAttempts: cfg.Recovery.RetryAttempts,
			RetryDelay:    cfg.Recovery.RetryDelay,
		}, automation),
		recordStore,
		gateway,
		utils.Component(logger, "recovery"),
		cfg.Recovery.StrategyTimeout,
	)

	detector := detect.NewDetector(detect.Config{
		ZScoreThreshold: cfg.Detection.ZScoreThreshold,
		TrendDeviation:  cfg.Detection.TrendDeviation,
		AnomalyCutoff:   cfg.Detection.AnomalyCutoff,
		MinSamples:      cfg.Detection.MinSamples,
	}, utils.Component(logger, "detect"))
	predictor := predict.NewPredictor(predict.Config{
		Threshold: cfg.Prediction.AlertThreshold,
		Lookback:  cfg.Prediction.Lookback,
	}, utils.Component(logger, "predict"))
	forecaster := predict.NewForecaster(predict.ForecastConfig{
		Alpha: cfg.Prediction.SmoothingAlpha,
		Steps: cfg.Prediction.ForecastSteps,
	}, utils.Component(logger, "forecast"))

	orchestrator := engine.NewOrchestrator(
		utils.Component(logger, "engine"),
		recordStore,
		detector,
		classifier,
		predictor,
		forecaster,
		rootcause.NewAnalyzer(utils.Component(logger, "rootcause")),
		patterns.NewMiner(0, utils.Component(logger, "patterns"), patterns.StoreFunc(recordStore.UpsertPattern)),
		gateway,
		engine.Options{
			Window:              cfg.Detection.Window,
			DedupWindow:         cfg.Scheduler.DedupWindow,
			EscalationAfter:     cfg.Recovery.EscalationAfter,
			Retention:           time.Duration(cfg.Storage.RetentionDays) * 24 * time.Hour,
			CriticalProbability: cfg.Prediction.CriticalThreshold,
		},
	)
	scheduler := engine.NewScheduler(orchestrator, cfg.Scheduler.Interval, utils.Component(logger, "scheduler"))

	healService := services.NewHealService(logger, recordStore, classifier, executor, orchestrator)

	server, err := api.NewServer(cfg.Server, api.NewHandlers(healService, recordStore, logger), logger)
	if err != nil {
		logger.Error("failed to create http server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go scheduler.Run(ctx)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("mirador-heal stopped")
}
