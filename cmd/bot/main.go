package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"tg_ai_gate_bot/internal/access"
	"tg_ai_gate_bot/internal/completion"
	"tg_ai_gate_bot/internal/config"
	"tg_ai_gate_bot/internal/domain"
	"tg_ai_gate_bot/internal/logging"
	"tg_ai_gate_bot/internal/server"
	"tg_ai_gate_bot/internal/store"
	"tg_ai_gate_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	httpShutdownTimeout     = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
)

func main() {
	flags := pflag.NewFlagSet("tg-ai-gate-bot", pflag.ExitOnError)
	configOnly := flags.Bool("config-only", false, "load and print configuration then exit")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load()
	if err != nil {
		logging.Error("config_error", "configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger_error", "logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("config_only", "configuration check", nil)
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":       "startup",
		"ai_provider": cfg.AIProvider,
		"update_mode": cfg.UpdateMode,
		"mongo":       cfg.UsesMongo(),
	}).Info("configuration loaded")

	var (
		codes        access.CodeStore
		grants       access.GrantStore
		mongoManager *store.Manager
		mongoChecker server.MongoChecker
	)

	if cfg.UsesMongo() {
		mongoManager, err = openMongo(cfg)
		if err != nil {
			logger.WithError(err).Error("mongo setup error")
			fmt.Fprintf(os.Stderr, "mongo setup error: %v\n", err)
			os.Exit(1)
		}

		logger.WithField("event", "mongo_connect").Info("connected to mongo, ensured indexes")

		codes = domain.NewCodeRepository(mongoManager.Codes())
		grants = domain.NewGrantRepository(mongoManager.Grants())
		mongoChecker = mongoManager
	} else {
		memory := access.NewMemoryStore()
		codes, grants = memory, memory

		logging.Debug("registry_memory", "using in-memory registries", nil)
	}

	gate, err := access.NewGate(codes, grants, cfg.AdminID,
		access.WithCodeTTL(cfg.CodeTTL),
		access.WithSessionTTL(cfg.SessionTTL),
		access.WithLogger(logger),
	)
	if err != nil {
		logger.WithError(err).Error("access gate setup error")
		fmt.Fprintf(os.Stderr, "access gate setup error: %v\n", err)
		os.Exit(1)
	}

	provider, err := completion.New(cfg)
	if err != nil {
		logger.WithError(err).Error("completion provider setup error")
		fmt.Fprintf(os.Stderr, "completion provider setup error: %v\n", err)
		os.Exit(1)
	}

	handler, err := telegram.NewHandler(gate, provider, access.NewFreeQuota(cfg.FreeMessages), telegram.Settings{
		RequiredChannel: cfg.RequiredChannel,
		WelcomePhotoURL: cfg.WelcomePhotoURL,
		DemoURL:         cfg.DemoURL,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("telegram handler setup error")
		fmt.Fprintf(os.Stderr, "telegram handler setup error: %v\n", err)
		os.Exit(1)
	}

	tgClient, err := telegram.NewClient(cfg, handler, logger)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	serverOpts := server.Options{
		Port:         cfg.HTTPPort,
		WebhookPath:  cfg.WebhookPath,
		MongoChecker: mongoChecker,
	}
	if cfg.UsesWebhook() {
		serverOpts.Webhook = tgClient.WebhookHandler()
	}
	httpServer := server.New(serverOpts, logger)

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpDone := make(chan error, 1)
	go func() {
		httpDone <- httpServer.ListenAndServe()
	}()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		defer close(tgDone)
		if err := tgClient.Start(telegramCtx); err != nil {
			logger.WithField("event", "telegram_start_error").WithError(err).Error("telegram client failed to start")
		}
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	case err := <-httpDone:
		logger.WithField("event", "http_stopped_early").WithError(err).Warn("http server stopped before shutdown signal")
	}

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := httpServer.Shutdown(httpCtx); err != nil {
		logger.WithError(err).Error("http shutdown error")
	}
	cancelHTTP()

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	if mongoManager != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		if err := mongoManager.Close(shutdownCtx); err != nil {
			logger.WithError(err).Error("mongo disconnect error")
		} else {
			logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
		}
		cancelShutdown()
	}

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}

func openMongo(cfg config.Config) (*store.Manager, error) {
	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	manager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	defer cancelIndexes()

	if err := manager.EnsureBaseIndexes(indexCtx); err != nil {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		_ = manager.Close(closeCtx)
		cancelClose()
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	return manager, nil
}
