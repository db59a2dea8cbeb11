package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- served only on the internal profiling port, never on the Gin router
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/license-console/license-console/internal/api"
	"github.com/license-console/license-console/internal/audit"
	"github.com/license-console/license-console/internal/auth"
	"github.com/license-console/license-console/internal/cache"
	"github.com/license-console/license-console/internal/config"
	"github.com/license-console/license-console/internal/crypto"
	"github.com/license-console/license-console/internal/db"
	"github.com/license-console/license-console/internal/db/repositories"
	"github.com/license-console/license-console/internal/jobs"
	"github.com/license-console/license-console/internal/middleware"
	"github.com/license-console/license-console/internal/safego"
	"github.com/license-console/license-console/internal/services"
	"github.com/license-console/license-console/internal/storage"
	"github.com/license-console/license-console/internal/telemetry"

	// Import storage backends to register them
	_ "github.com/license-console/license-console/internal/storage/azure"
	_ "github.com/license-console/license-console/internal/storage/gcs"
	_ "github.com/license-console/license-console/internal/storage/local"
	_ "github.com/license-console/license-console/internal/storage/s3"
)

const shutdownTimeout = 10 * time.Second

func serve(cfg *config.Config) error {
	// Initialise structured logging first so everything below uses the configured format.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Telemetry.ServiceName)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}
	masterKey, err := cfg.License.MasterKey()
	if err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}
	keyCipher, err := crypto.NewKeyCipher(masterKey)
	if err != nil {
		return fmt.Errorf("failed to initialise license key cipher: %w", err)
	}

	slog.Info("connecting to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port,
		"name", cfg.Database.Name, "user", cfg.Database.User, "sslmode", cfg.Database.SSLMode)
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	telemetry.StartDBStatsCollector(database.DB)

	if err := db.RunMigrations(database.DB, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database.DB); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	store := repositories.NewSQLStore(database)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			// Both Redis users degrade: the cache reads through and the limiter fails open.
			slog.Warn("redis unreachable at startup", "addr", cfg.Redis.Addr, "error", err)
		}
		cancel()
	}

	shippers, err := audit.NewMultiShipper(shipperConfigs(cfg.Audit.Shippers))
	if err != nil {
		return fmt.Errorf("failed to initialise audit shippers: %w", err)
	}
	defer shippers.Close()

	engine := services.NewLicenseEngine(store,
		auth.NewLicenseKeyGenerator(cfg.License.KeyPrefixFallback),
		keyCipher,
		services.SystemClock,
		shippers,
		services.EngineConfig{
			RequireActivation: cfg.License.RequireActivation,
			MinValidityMonths: cfg.License.MinValidityMonths,
			MaxValidityMonths: cfg.License.MaxValidityMonths,
			SweepBatchSize:    cfg.License.SweepBatchSize,
		})
	catalog := services.NewPlanCatalog(store, planCache(cfg, redisClient), shippers)
	ledger := services.NewAuditLedger(store, cfg.Audit.ExportMaxRows)

	var archive storage.Storage
	if cfg.Audit.Archive.Enabled {
		archive, err = storage.NewStorage(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialise archive storage: %w", err)
		}
		slog.Info("audit archive storage ready", "backend", cfg.Storage.DefaultBackend)
	}

	limiter, stopLimiter := rateLimiter(cfg, redisClient)
	defer stopLimiter()

	scheduler, err := newScheduler(cfg, engine, store, archive)
	if err != nil {
		return err
	}
	scheduler.Start()

	startSideServers(cfg)

	router := api.NewRouter(cfg, api.Deps{
		Engine:    engine,
		Catalog:   catalog,
		Ledger:    ledger,
		Dashboard: services.NewDashboard(store, nil),
		Portal:    services.NewPortal(engine, catalog),
		Store:     store,
		Archive:   archive,
		Limiter:   limiter,
		Version:   version,
	})

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", server.Addr, "tls", cfg.Security.TLS.Enabled, "version", version)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("shutting down server", "signal", sig.String())
	case err := <-serverErr:
		scheduler.Stop(context.Background())
		return fmt.Errorf("failed to start server: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	// Jobs stop after the listener so in-flight requests drain first.
	scheduler.Stop(ctx)

	slog.Info("server stopped gracefully")
	return nil
}

// planCache selects the plan cache backend. A nil result disables caching.
func planCache(cfg *config.Config, client *redis.Client) cache.PlanCache {
	switch cfg.PlanCache.Backend {
	case "redis":
		if client != nil {
			return cache.NewRedis(client, cfg.Redis.KeyPrefix, cfg.PlanCache.TTL)
		}
		slog.Warn("plan_cache.backend is redis but redis is disabled, falling back to memory")
		return cache.NewMemory(cfg.PlanCache.TTL)
	case "none":
		return nil
	default:
		return cache.NewMemory(cfg.PlanCache.TTL)
	}
}

// rateLimiter selects the limiter for the license key routes. With Redis enabled every
// replica shares one budget per client IP. The returned func releases the limiter.
func rateLimiter(cfg *config.Config, client *redis.Client) (middleware.Limiter, func()) {
	if !cfg.Security.RateLimiting.Enabled {
		return nil, func() {}
	}
	rlCfg := middleware.RateLimitConfigFrom(cfg.Security.RateLimiting)
	if client != nil {
		return middleware.NewRedisLimiter(client, rlCfg, cfg.Redis.KeyPrefix), func() {}
	}
	limiter := middleware.NewRateLimiter(rlCfg)
	return limiter, limiter.Stop
}

// newScheduler registers the periodic jobs. An empty cron spec disables a job.
func newScheduler(cfg *config.Config, engine *services.LicenseEngine, store repositories.Store, archive storage.Storage) (*jobs.Scheduler, error) {
	scheduler := jobs.NewScheduler(0)

	if cfg.License.ExpirySweepCron != "" {
		if err := scheduler.Add(cfg.License.ExpirySweepCron, jobs.NewExpirySweeper(engine)); err != nil {
			return nil, err
		}
	}

	if cfg.Notifications.Enabled && cfg.Notifications.ExpiryCheckCron != "" {
		notifier := jobs.NewExpiryNotifier(store.Organizations(),
			jobs.NewSMTPMailer(cfg.Notifications.SMTP), nil, cfg.License.ExpiryWarningDays).
			WithPortalURL(cfg.Server.BaseURL)
		if err := scheduler.Add(cfg.Notifications.ExpiryCheckCron, notifier); err != nil {
			return nil, err
		}
	}

	if archive != nil && cfg.Audit.Archive.Cron != "" {
		archiver := jobs.NewAuditArchiver(store.Audit(), archive, nil,
			cfg.Audit.Archive.Prefix, cfg.Audit.Archive.Compress)
		if err := scheduler.Add(cfg.Audit.Archive.Cron, archiver); err != nil {
			return nil, err
		}
	}

	return scheduler, nil
}

// shipperConfigs converts the configured audit shippers to the audit package's form
func shipperConfigs(in []config.AuditShipperConfig) []audit.ShipperConfig {
	out := make([]audit.ShipperConfig, 0, len(in))
	for _, c := range in {
		sc := audit.ShipperConfig{Enabled: c.Enabled, Type: c.Type}
		if c.Syslog != nil {
			sc.Syslog = &audit.SyslogConfig{
				Network:  c.Syslog.Network,
				Address:  c.Syslog.Address,
				Tag:      c.Syslog.Tag,
				Facility: c.Syslog.Facility,
			}
		}
		if c.Webhook != nil {
			sc.Webhook = &audit.WebhookConfig{
				URL:           c.Webhook.URL,
				Headers:       c.Webhook.Headers,
				Timeout:       time.Duration(c.Webhook.TimeoutSecs) * time.Second,
				BatchSize:     c.Webhook.BatchSize,
				FlushInterval: time.Duration(c.Webhook.FlushInterval) * time.Second,
			}
		}
		if c.File != nil {
			sc.File = &audit.FileConfig{
				Path:       c.File.Path,
				MaxSizeMB:  c.File.MaxSizeMB,
				MaxBackups: c.File.MaxBackups,
			}
		}
		out = append(out, sc)
	}
	return out
}

// startSideServers serves Prometheus metrics and pprof on their own ports so neither
// is reachable through the public API listener.
func startSideServers(cfg *config.Config) {
	if !cfg.Telemetry.Enabled {
		return
	}
	if cfg.Telemetry.Metrics.Enabled {
		addr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		safego.Go("metrics_server", func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", addr)
			srv := &http.Server{
				Addr:         addr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		})
	}

	if cfg.Telemetry.Profiling.Enabled {
		addr := fmt.Sprintf(":%d", cfg.Telemetry.Profiling.Port)
		safego.Go("pprof_server", func() {
			slog.Info("starting pprof server", "addr", addr)
			srv := &http.Server{ //nolint:gosec // #nosec G112 -- internal-only pprof port
				Addr:         addr,
				Handler:      http.DefaultServeMux,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("pprof server error", "error", err)
			}
		})
	}
}
