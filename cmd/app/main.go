package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"order-hub/internal/auth"
	"order-hub/internal/cache"
	"order-hub/internal/config"
	"order-hub/internal/httpserver"
	"order-hub/internal/inbox"
	"order-hub/internal/logging"
	"order-hub/internal/metrics"
	"order-hub/internal/notify"
	"order-hub/internal/orders"
	"order-hub/internal/realtime"
	"order-hub/internal/registry"
	"order-hub/internal/repo"
	"order-hub/internal/wa"
	"order-hub/internal/webhook"
	"order-hub/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.Production())
	logger.Info("starting order-hub", "env", cfg.AppEnv, "db_driver", cfg.DBDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := repo.Open(ctx, repo.OpenConfig{
		Driver:      cfg.DBDriver,
		DatabaseURL: cfg.DatabaseURL,
		Schema:      cfg.DatabaseSchema,
		SQLitePath:  cfg.SQLitePath,
	}, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	var (
		redisClient *cache.Redis
		tenantCache registry.Cache
		dedupe      webhook.Deduper
	)
	if cfg.RedisAddr != "" {
		redisClient = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
		tenantCache = redisClient
		dedupe = redisClient
	} else {
		logger.Warn("redis not configured, running without tenant cache, webhook dedupe or cross-instance fan-out")
	}

	reg := registry.New(repository, tenantCache, cfg.TenantCacheTTL, logger)

	hub := realtime.NewHub(logger, metricRegistry)
	defer hub.Close()
	broadcaster := realtime.NewBroadcaster(logger, metricRegistry)

	cloud := wa.NewCloud(wa.CloudConfig{
		BaseURL:    cfg.WhatsAppBaseURL,
		APIVersion: cfg.WhatsAppAPIVersion,
		Timeout:    cfg.WhatsAppTimeout,
	}, logger, metricRegistry)
	notifier := notify.New(cloud, notify.Config{
		Defaults: wa.Credentials{
			PhoneNumberID: cfg.WhatsAppPhoneNumberID,
			AccessToken:   cfg.WhatsAppAccessToken,
		},
	}, logger, metricRegistry)

	inboxSvc := inbox.New(repository, reg, notifier, broadcaster, logger, metricRegistry)
	notifier.SetJournal(inboxSvc)

	orderSvc := orders.New(repository, reg, notifier, broadcaster, orders.Config{
		DeliveryFee:  cfg.DeliveryFee,
		NumberPrefix: cfg.OrderNumberPrefix,
	}, logger, metricRegistry)

	if cfg.WhatsAppDeviceStore != "" {
		device, err := startDevice(ctx, cfg, reg, inboxSvc, notifier, metricRegistry, logger)
		if err != nil {
			return err
		}
		if device != nil {
			defer device.Close()
		}
	}

	dispatcher := webhook.NewDispatcher(reg, inboxSvc, dedupe, webhook.DispatcherConfig{
		TenantFallback: cfg.WebhookTenantFallback,
		DedupTTL:       cfg.WebhookDedupTTL,
	}, logger, metricRegistry)
	gateway := webhook.NewGateway(webhook.Config{
		VerifyToken:    cfg.WhatsAppVerifyToken,
		AppSecret:      cfg.WhatsAppAppSecret,
		ProcessTimeout: cfg.WebhookProcessTimeout,
	}, dispatcher, logger, metricRegistry)
	if cfg.WebhookTenantFallback {
		logger.Warn("webhook tenant fallback enabled, unroutable messages go to the first active tenant", "compat_hazard", true)
	}

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)

	httpSrv := httpserver.New(httpserver.Config{
		Addr:       cfg.HTTPListenAddr,
		BasePath:   cfg.PublicBasePath,
		Production: cfg.Production(),
	}, logger, metricRegistry, httpserver.Handlers{
		WhatsAppWebhook: gateway,
		Realtime:        realtime.NewHandler(hub, broadcaster, tokens, repository, logger),
	}, httpserver.Dependencies{
		Repository: repository,
		Redis:      redisClient,
		Orders:     orderSvc,
		Inbox:      inboxSvc,
		Tokens:     tokens,
	})

	if cfg.RealtimeFanout && redisClient != nil {
		relay := realtime.NewRelay(redisClient, redisClient.Key("realtime", "events"), hub, logger, metricRegistry)
		go func() {
			if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("realtime relay stopped", "error", err)
			}
		}()
		broadcaster.Attach(relay)
		logger.Info("realtime fan-out through redis enabled")
	} else {
		broadcaster.Attach(hub)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	drained := make(chan struct{})
	go func() {
		gateway.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn("webhook processing still running at shutdown")
	}

	return nil
}

// startDevice pairs the linked-device channel with the tenant named by
// WHATSAPP_DEVICE_TENANT. It returns nil when no tenant is configured.
func startDevice(ctx context.Context, cfg *config.Config, reg *registry.Registry, inboxSvc *inbox.Service, notifier *notify.Notifier, m *metrics.Metrics, logger *slog.Logger) (*wa.Device, error) {
	slug := strings.TrimSpace(cfg.WhatsAppDeviceTenant)
	if slug == "" {
		logger.Warn("device store configured without WHATSAPP_DEVICE_TENANT, linked device disabled")
		return nil, nil
	}
	tenant, err := reg.TenantBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("resolve device tenant %q: %w", slug, err)
	}

	device, err := wa.NewDevice(ctx, wa.DeviceConfig{
		StorePath: cfg.WhatsAppDeviceStore,
		LogLevel:  cfg.WhatsAppLogLevel,
		Metrics:   m,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init whatsapp device: %w", err)
	}
	device.SetSink(inboxSvc.DeviceSink(tenant.ID))
	notifier.SetDevice(device, tenant.ID)

	go func() {
		if err := device.Start(ctx); err != nil {
			logger.Error("whatsapp device stopped", "error", err)
		}
	}()
	logger.Info("linked device channel enabled", "tenant_id", tenant.ID)
	return device, nil
}
