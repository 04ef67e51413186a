package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"estatehub/internal/caching"
	"estatehub/internal/config"
	"estatehub/internal/gateway"
	"estatehub/internal/handlers"
	"estatehub/internal/jobs/background"
	"estatehub/internal/middleware"
	"estatehub/internal/observability"
	"estatehub/internal/repositories"
	"estatehub/internal/services"
	"estatehub/pkg/database"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("estatehub exited with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	if cfg.Database.MigrateOnBoot {
		if err := database.RunMigrations(cfg.Database.URL, logger); err != nil {
			return err
		}
	}
	pool, err := database.NewPool(ctx, cfg.Database.URL, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := repositories.NewStore(pool)
	cacheSvc := caching.NewRedisCacheService(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)

	var archive services.EventArchive
	if cfg.Minio.Enabled() {
		archive, err = services.NewMinioEventArchive(services.MinioArchiveConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Region:    cfg.Minio.Region,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return err
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			return err
		}
	} else {
		logger.Warn("MINIO_ENDPOINT not set, webhook payloads will not be archived")
	}

	gatewayClient := gateway.NewInstrumentedClient(gateway.NewStripeClient(cfg.Gateway.SecretKey, cfg.Gateway.Timeout), metrics)
	verifier := gateway.NewStripeVerifier(cfg.Gateway.WebhookSecret)

	// Migrations may have changed plans or packages.
	if err := cacheSvc.InvalidateCatalog(ctx); err != nil {
		logger.WithError(err).Warn("failed to invalidate catalog cache")
	}
	catalog := services.NewCatalogService(store.Plans(), cacheSvc, cfg.Redis.CacheTTL, logger)
	settlement := services.NewSettlement(store, services.NewSideEffectApplier(metrics, logger), metrics, logger, time.Now)
	paymentSvc := services.NewPaymentService(store, gatewayClient, settlement, catalog, logger)
	subscriptionSvc := services.NewSubscriptionService(store, gatewayClient, catalog, metrics, logger, time.Now)
	webhookSvc := services.NewWebhookService(store, verifier, settlement, archive, metrics, logger, time.Now)

	auth, err := middleware.NewAuthenticator(middleware.JWTConfig{
		Secret:   cfg.Auth.JWTSecret,
		JWKSURL:  cfg.Auth.JWKSURL,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	}, logger)
	if err != nil {
		return err
	}
	defer auth.Close()

	apiLimiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	webhookLimiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS*5, cfg.Server.RateLimitBurst*5)

	scheduler, err := background.NewJobScheduler(subscriptionSvc, store.Listings(), background.Config{
		Interval:  cfg.Jobs.ExpirySweepInterval,
		BatchSize: cfg.Jobs.ExpiryBatchSize,
	}, metrics, logger)
	if err != nil {
		return err
	}

	e := newEcho(logger)
	registerRoutes(e, routeHandlers{
		payments:      handlers.NewPaymentHandlers(paymentSvc),
		subscriptions: handlers.NewSubscriptionHandlers(subscriptionSvc),
		webhooks:      handlers.NewWebhookHandlers(webhookSvc, logger),
		health:        handlers.NewHealthHandlers(pool, cacheSvc, version),
	}, registry, auth.Middleware(), apiLimiter.Middleware(), webhookLimiter.Middleware())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.WithFields(logrus.Fields{"addr": addr, "version": version}).Info("estatehub server starting")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		return scheduler.Stop()
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				apiLimiter.Cleanup()
				webhookLimiter.Cleanup()
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down http server")
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newEcho(logger logrus.FieldLogger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.RequestID())
	e.Use(echoMiddleware.RemoveTrailingSlash())
	e.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"request_id": v.RequestID,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("request failed")
				return nil
			}
			entry.Info("request")
			return nil
		},
	}))
	return e
}
