package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/mcoot/creditshop-go/internal/api"
	"github.com/mcoot/creditshop-go/internal/catalog"
	"github.com/mcoot/creditshop-go/internal/config"
	"github.com/mcoot/creditshop-go/internal/dependencies/clock"
	"github.com/mcoot/creditshop-go/internal/dependencies/random"
	"github.com/mcoot/creditshop-go/internal/metrics"
	"github.com/mcoot/creditshop-go/internal/server"
	"github.com/mcoot/creditshop-go/internal/services/economy"
	"github.com/mcoot/creditshop-go/internal/session"
	"github.com/mcoot/creditshop-go/internal/storage"
	"github.com/mcoot/creditshop-go/internal/storage/memory"
	redisstorage "github.com/mcoot/creditshop-go/internal/storage/redis"
	"github.com/mcoot/creditshop-go/internal/storage/sqlite"
)

// App contains all wired application components
type App struct {
	Config config.Config
	Logger *slog.Logger

	// Storage
	Storage storage.Storage

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	Metrics *metrics.Metrics
	Economy *economy.Service

	// Server accepts protocol clients over TCP
	Server *server.Server
	// Router is the HTTP surface, including the websocket endpoint
	Router http.Handler
	// HTTPServer serves Router; nil when the HTTP port is 0
	HTTPServer *api.Server
}

// New opens the configured ledger, seeds the catalog and wires every
// component. A nil logger discards output.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	items, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	clk := clock.New()
	store, err := openStorage(ctx, cfg, clk)
	if err != nil {
		return nil, err
	}
	if err := store.SeedCatalog(ctx, items); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("seed catalog: %w", err)
	}

	logger.Info("ledger ready",
		slog.String("storage", cfg.Storage.Type),
		slog.Int("catalog_items", len(items)),
	)

	return newWithDependencies(cfg, store, clk, random.New(), logger), nil
}

func openStorage(ctx context.Context, cfg config.Config, clk clock.Clock) (storage.Storage, error) {
	switch cfg.Storage.Type {
	case config.StorageMemory:
		return memory.New(clk), nil
	case config.StorageSQLite, "":
		store, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.Storage.Path}, clk)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageRedis:
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = cfg.Storage.RedisURL
		if cfg.Storage.MaxTxRetries > 0 {
			redisCfg.MaxTxRetries = cfg.Storage.MaxTxRetries
		}
		store, err := redisstorage.New(redisCfg, clk)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("invalid storage type %q: must be sqlite, memory or redis", cfg.Storage.Type)
	}
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(cfg config.Config, store storage.Storage, clk clock.Clock, rnd random.Random, logger *slog.Logger) *App {
	m := metrics.New()

	econ := economy.New(store, rnd, EconomyConfig(cfg), logger, m)
	srv := server.New(ServerConfig(cfg), econ, clk, logger, m)

	router := api.NewRouter(api.RouterConfig{
		Logger:         logger,
		Shop:           econ,
		Metrics:        m,
		WebSocket:      srv.WebSocketHandler(),
		ActiveSessions: srv.ActiveSessions,
	})

	var httpServer *api.Server
	if cfg.HTTP.Port > 0 {
		httpCfg := api.DefaultServerConfig()
		httpCfg.Host = cfg.HTTP.Host
		httpCfg.Port = cfg.HTTP.Port
		httpServer = api.NewServer(router, httpCfg, logger)
	}

	return &App{
		Config:     cfg,
		Logger:     logger,
		Storage:    store,
		Clock:      clk,
		Random:     rnd,
		Metrics:    m,
		Economy:    econ,
		Server:     srv,
		Router:     router,
		HTTPServer: httpServer,
	}
}

// EconomyConfig extracts the economy rules from cfg
func EconomyConfig(cfg config.Config) economy.Config {
	return economy.Config{
		StartingCredits: cfg.Economy.StartingCredits,
		WinPercent:      cfg.Economy.WinPercent,
		CreditFloor:     cfg.Economy.CreditFloor,
	}
}

// ServerConfig extracts the listener settings from cfg
func ServerConfig(cfg config.Config) server.Config {
	return server.Config{
		Host:            cfg.Listen.Host,
		Port:            cfg.Listen.Port,
		MaxFrameSize:    cfg.Listen.MaxFrameSize,
		ShutdownTimeout: cfg.Listen.ShutdownTimeout,
		Session: session.Config{
			RequestsPerSecond: cfg.Listen.RequestsPerSecond,
			RequestBurst:      cfg.Listen.RequestBurst,
			WriteTimeout:      cfg.Listen.WriteTimeout,
		},
	}
}

// Shutdown stops the listener, then the HTTP server, then closes the
// ledger. Every step runs even if an earlier one fails.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("listener: %w", err))
	}
	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	if err := a.Storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	return errors.Join(errs...)
}
