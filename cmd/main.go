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
	"strings"
	"syscall"

	"github.com/crestline/opsdeck/internal/cache"
	"github.com/crestline/opsdeck/internal/calllog"
	"github.com/crestline/opsdeck/internal/config"
	"github.com/crestline/opsdeck/internal/directory"
	"github.com/crestline/opsdeck/internal/identity"
	"github.com/crestline/opsdeck/internal/leads"
	"github.com/crestline/opsdeck/internal/logging"
	"github.com/crestline/opsdeck/internal/messaging"
	"github.com/crestline/opsdeck/internal/metrics"
	"github.com/crestline/opsdeck/internal/server"
	"github.com/crestline/opsdeck/internal/status"
	"github.com/crestline/opsdeck/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "OPSDECK", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	backend := buildCacheBackend(logger.With(slog.String("service", "cache_factory")), cfg.Server.Cache)
	defer func() {
		if err := backend.Close(context.Background()); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	dataStore, err := buildStore(ctx, cfg.Server.Store)
	if err != nil {
		logger.Error("store initialization failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dataStore.Close(); err != nil {
			logger.Error("store shutdown failed", slog.Any("error", err))
		}
	}()

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	names := directory.New(directory.Snapshot{})
	resolver := identity.NewResolver(identity.FromContext(), cfg.Server.Identity.ResolveAttempts, cfg.Server.Identity.RetryDelay())

	callService := calllog.New(calllog.Config{
		Store:   dataStore.CallLogs(),
		Backend: backend,
		TTL:     cfg.Server.Cache.TTL(),
		Logger:  logger,
		Metrics: recorder,
	})
	leadService := leads.New(leads.Config{
		Store:   dataStore.Leads(),
		Backend: backend,
		TTL:     cfg.Server.Cache.TTL(),
		Logger:  logger,
		Metrics: recorder,
	})
	messageService := messaging.New(messaging.Config{
		Store:   dataStore.Messages(),
		Backend: backend,
		TTL:     cfg.Server.Cache.TTL(),
		Names:   names,
		Logger:  logger,
		Metrics: recorder,
	})
	statusService := status.New(status.Config{
		Statuses:       dataStore.Statuses(),
		Audits:         dataStore.Audits(),
		Resolver:       resolver,
		Names:          names,
		Logger:         logger,
		Metrics:        recorder,
		DefaultMessage: cfg.Server.Status.DefaultMessage,
	})

	if cfg.Server.Directory.Folder != "" || cfg.Server.Directory.File != "" {
		dirLoader := directory.NewLoader(cfg.Server.Directory.Folder, cfg.Server.Directory.File)
		watcher, err := dirLoader.Watch(ctx, func(snapshot directory.Snapshot) {
			names.Replace(snapshot)
			// Cached pages carry stale display names after a reload.
			messageService.Pages().InvalidateAll(ctx)
			logger.Info("directory reloaded",
				slog.Int("tenants", len(snapshot.Tenants)),
				slog.Int("users", len(snapshot.Users)))
		}, func(err error) {
			if err != nil {
				logger.Error("directory watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("directory watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	router := server.NewRouter(server.RouterConfig{
		Calls:          callService,
		Leads:          leadService,
		Messages:       messageService,
		Status:         statusService,
		Store:          dataStore,
		Cache:          backend,
		Directory:      names,
		IdentityHeader: cfg.Server.Identity.Header,
		Logger:         logger,
	})
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	mux.Handle("/", router)

	srv, err := server.New(cfg, logger, mux)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

func buildCacheBackend(logger *slog.Logger, cfg config.CacheConfig) cache.Backend {
	switch backend := strings.TrimSpace(strings.ToLower(cfg.Backend)); backend {
	case "", "memory":
		logger.Info("using memory cache backend", slog.Duration("ttl", cfg.TTL()))
		return cache.NewMemory()
	case "valkey", "redis":
		valkeyBackend, err := cache.NewValkey(cache.ValkeyConfig{
			Address:  cfg.Valkey.Address,
			Username: cfg.Valkey.Username,
			Password: cfg.Valkey.Password,
			DB:       cfg.Valkey.DB,
			TLS: cache.ValkeyTLSConfig{
				Enabled: cfg.Valkey.TLS.Enabled,
				CAFile:  cfg.Valkey.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("valkey cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory cache")
			return cache.NewMemory()
		}
		logger.Info("using valkey cache backend", slog.String("address", cfg.Valkey.Address))
		return valkeyBackend
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return cache.NewMemory()
	}
}

func buildStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch backend := strings.TrimSpace(strings.ToLower(cfg.Backend)); backend {
	case "", "memory":
		return store.NewMemory(), nil
	case "postgres":
		return store.NewPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}
