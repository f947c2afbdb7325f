package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"petshop/backend/internal/cache"
	"petshop/backend/internal/config"
	"petshop/backend/internal/httpapi"
	"petshop/backend/internal/logger"
	"petshop/backend/internal/metrics"
	"petshop/backend/internal/service"
	"petshop/backend/internal/store"
	"petshop/backend/internal/store/memory"
	"petshop/backend/internal/store/mongo"
	"petshop/backend/internal/store/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		ServiceName: "petshop-backend",
		Level:       logger.ParseLevel(cfg.Log.Level),
		Format:      cfg.Log.Format,
	})

	if err := run(cfg, log); err != nil {
		log.Error(context.Background(), "server exited", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) (err error) {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("invalid APP_TIMEZONE: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
	}()

	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	auth := httpapi.NewAuthManager(cfg.Auth.Secret, cfg.Auth.TokenTTL, repo)
	if cfg.Store.ResolvedDriver() != config.DriverMemory {
		created, err := auth.EnsureAdmin(ctx, cfg.Auth.SeedAdminUsername, cfg.Auth.SeedAdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			log.Info(log.WithField(ctx, "username", cfg.Auth.SeedAdminUsername), "bootstrap admin created")
		}
	}

	reportCache := cache.ReportCache(cache.NoopReportCache{})
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisReportCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn(log.WithField(ctx, "error", err.Error()), "redis unavailable, report cache disabled")
			_ = redisCache.Close()
		} else {
			reportCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info(ctx, "cache: redis")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := service.New(repo, service.Options{
		Cache:             reportCache,
		Metrics:           metrics.NewReconciliation(registry),
		Logger:            log,
		Location:          loc,
		FloorCheck:        cfg.Stock.FloorCheck,
		LowStockThreshold: cfg.Stock.LowStockThreshold,
		ReportCacheTTL:    cfg.Redis.ReportCacheTTL,
	})
	api := httpapi.New(httpapi.Options{
		Service:       svc,
		Auth:          auth,
		Logger:        log,
		Metrics:       metrics.NewHTTP(registry),
		Gatherer:      registry,
		AllowedOrigin: cfg.AllowedOrigin,
		CookieSecure:  cfg.Auth.CookieSecure,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info(log.WithFields(context.Background(), map[string]any{
			"addr":     cfg.Address(),
			"timezone": loc.String(),
		}), "pet shop backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "shutdown error", err)
	}
	log.Info(context.Background(), "server stopped")
	return nil
}

// openRepository selects the store backend. The returned closer may be nil.
func openRepository(ctx context.Context, cfg config.Config, log *logger.Logger) (store.Repository, func() error, error) {
	driver := cfg.Store.ResolvedDriver()
	logCtx := log.WithField(ctx, "driver", driver)

	switch driver {
	case config.DriverMemory:
		repo, err := memory.NewSeeded()
		if err != nil {
			return nil, nil, fmt.Errorf("seed memory store: %w", err)
		}
		log.Warn(logCtx, "repository: in-memory, data is lost on restart")
		return repo, nil, nil
	case config.DriverPostgres:
		if cfg.Store.DatabaseURL == "" {
			return nil, nil, errors.New("DATABASE_URL is required for the postgres driver")
		}
		pg, err := sqlstore.OpenPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		log.Info(logCtx, "repository: postgres")
		return pg, pg.Close, nil
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.Store.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		lite, err := sqlstore.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite unavailable: %w", err)
		}
		log.Info(log.WithField(logCtx, "path", cfg.Store.SQLitePath), "repository: sqlite")
		return lite, lite.Close, nil
	case config.DriverMongo:
		if cfg.Store.MongoURI == "" {
			return nil, nil, errors.New("MONGO_URI is required for the mongo driver")
		}
		mg, err := mongo.Open(ctx, mongo.Options{
			URI:          cfg.Store.MongoURI,
			Database:     cfg.Store.MongoDatabase,
			Transactions: cfg.Store.MongoTransactions,
			Logger:       log,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("mongo unavailable: %w", err)
		}
		log.Info(log.WithField(logCtx, "transactions", cfg.Store.MongoTransactions), "repository: mongo")
		return mg, mg.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", driver)
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.Auth.Secret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.Auth.TokenTTL > 7*24*time.Hour {
		return fmt.Errorf("ACCESS_TOKEN_TTL must not exceed 168h")
	}
	return nil
}
