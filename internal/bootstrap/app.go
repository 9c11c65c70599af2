// Package bootstrap assembles the application from its parts and owns the
// startup/shutdown sequence.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dmarket_sync/internal/admin"
	"dmarket_sync/internal/alert"
	"dmarket_sync/internal/config"
	"dmarket_sync/internal/core"
	"dmarket_sync/internal/infrastructure/health"
	"dmarket_sync/internal/infrastructure/metrics"
	"dmarket_sync/internal/items"
	"dmarket_sync/internal/marketplace"
	"dmarket_sync/internal/recorder"
	"dmarket_sync/internal/registry"
	"dmarket_sync/internal/rules"
	"dmarket_sync/pkg/logging"
	"dmarket_sync/pkg/telemetry"

	"github.com/joho/godotenv"
)

const serviceName = "dmarket_sync"

// shutdownTimeout bounds the graceful-stop phase.
const shutdownTimeout = 10 * time.Second

// ruleSeedSource labels the rule store's contribution to the item view.
const ruleSeedSource = "rules"

// App holds the assembled application.
type App struct {
	Cfg      *config.Config
	Logger   core.ILogger
	Rules    *rules.Store
	Items    *items.Set
	History  recorder.Recorder
	Registry *registry.Registry
	Admin    *admin.Service

	zap        *logging.ZapLogger
	tel        *telemetry.Telemetry
	metricsSrv *metrics.Server
}

// NewApp wires every component from the configuration at configPath. A .env
// file next to the binary feeds the ${VAR} expansions in the config file.
func NewApp(configPath string) (*App, error) {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	tel, err := telemetry.Setup(serviceName)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	zapLogger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	logging.SetGlobalLogger(zapLogger)
	var logger core.ILogger = zapLogger

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	ruleStore, err := rules.NewStore(cfg.RulesPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("rule store: %w", err)
	}

	itemSet := items.NewSet()
	itemSet.Seed(ruleSeedSource, ruleStore.Items())

	healthMgr := health.NewManager(logger)
	healthMgr.Register("storage", func() error {
		_, err := os.Stat(cfg.Storage.DataDir)
		return err
	})

	var history recorder.Recorder
	if sqlRec, err := recorder.NewSQLiteRecorder(cfg.HistoryPath(), logger); err != nil {
		logger.Error("History database unavailable, continuing without history", "error", err)
		history = recorder.Noop{}
	} else {
		history = sqlRec
		healthMgr.Register("history", sqlRec.Ping)
	}

	alerts := alert.NewManager(logger)
	if cfg.Alerts.SlackWebhookURL != "" {
		alerts.AddChannel(alert.NewSlackChannel(cfg.Alerts.SlackWebhookURL))
	}
	if cfg.Alerts.TelegramBotToken != "" && cfg.Alerts.TelegramChatID != "" {
		alerts.AddChannel(alert.NewTelegramChannel(cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatID))
	}

	factory := func(icfg core.InstanceConfig, lg core.ILogger) (core.IMarketplace, error) {
		return marketplace.New(icfg, marketplace.Options{
			RequestsPerSecond: cfg.Marketplace.RequestsPerSecond,
			MaxRetries:        cfg.Marketplace.MaxRetries,
			Timeout:           time.Duration(cfg.Marketplace.TimeoutSeconds) * time.Second,
		}, lg)
	}

	reg := registry.New(cfg.InstancesPath(), cfg.Defaults, factory,
		ruleStore, itemSet, history, alerts, logger)
	if err := reg.Load(); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	app := &App{
		Cfg:      cfg,
		Logger:   logger,
		Rules:    ruleStore,
		Items:    itemSet,
		History:  history,
		Registry: reg,
		Admin:    admin.NewService(reg, ruleStore, itemSet, logger),
		zap:      zapLogger,
		tel:      tel,
	}
	if cfg.Telemetry.EnableMetrics {
		app.metricsSrv = metrics.NewServer(cfg.Telemetry.MetricsPort, healthMgr, logger)
	}
	return app, nil
}

// Run starts every worker and blocks until a termination signal, then winds
// everything down.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.metricsSrv != nil {
		a.metricsSrv.Start()
	}

	if err := a.Registry.StartAll(); err != nil {
		// a failed instance must not keep the healthy ones down
		a.Logger.Error("Some workers failed to start", "error", err)
	}
	a.Logger.Info("Application started", "instances", len(a.Registry.All()))

	<-ctx.Done()
	a.Logger.Info("Shutdown signal received")
	return a.shutdown()
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.Registry.StopAll()

	if a.metricsSrv != nil {
		if err := a.metricsSrv.Stop(ctx); err != nil {
			a.Logger.Error("Failed to stop metrics server", "error", err)
		}
	}
	if err := a.History.Close(); err != nil {
		a.Logger.Error("Failed to close history recorder", "error", err)
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.Logger.Error("Failed to shut down telemetry", "error", err)
	}
	_ = a.zap.Sync()

	a.Logger.Info("Application stopped")
	return nil
}
