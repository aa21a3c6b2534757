// Package collector assembles the pulse collector from its configuration:
// telemetry, trace store, UDP router and the optional query API.
package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/itsneelabh/pulse/pkg/config"
	"github.com/itsneelabh/pulse/pkg/core"
	"github.com/itsneelabh/pulse/pkg/logger"
	"github.com/itsneelabh/pulse/pkg/queryapi"
	"github.com/itsneelabh/pulse/pkg/resilience"
	"github.com/itsneelabh/pulse/pkg/server"
	"github.com/itsneelabh/pulse/pkg/store"
	"github.com/itsneelabh/pulse/pkg/store/postgres"
	"github.com/itsneelabh/pulse/pkg/store/redisstore"
	"github.com/itsneelabh/pulse/pkg/store/sqlite"
	"github.com/itsneelabh/pulse/pkg/telemetry"
)

// Collector is a running pulse collector.
type Collector struct {
	cfg      *config.Config
	logger   logger.Logger
	provider *telemetry.Provider
	store    *store.TraceStore
	router   *server.Router

	queryListener net.Listener
	queryServer   *http.Server
}

// Option configures a Collector.
type Option func(*options)

type options struct {
	telemetry []telemetry.Option
	onError   func(error)
}

// WithTelemetryOptions passes options to the telemetry provider.
func WithTelemetryOptions(opts ...telemetry.Option) Option {
	return func(o *options) {
		o.telemetry = append(o.telemetry, opts...)
	}
}

// WithErrorHook observes every rejected datagram.
func WithErrorHook(fn func(error)) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// New builds every component and binds the sockets. Nothing is served until
// Run.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts ...Option) (*Collector, error) {
	if cfg == nil {
		return nil, &core.PulseError{Op: "collector.New", Kind: "config", Message: "configuration is required", Err: core.ErrMissingConfiguration}
	}
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Collector{cfg: cfg, logger: log}
	ok := false
	defer func() {
		if !ok {
			c.close(context.Background())
		}
	}()

	provider, err := telemetry.NewProvider(ctx, cfg.Telemetry, o.telemetry...)
	if err != nil {
		return nil, err
	}
	c.provider = provider
	instruments, err := telemetry.NewInstruments(provider.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}

	backend, err := connectBackend(ctx, cfg.Store, log)
	if err != nil {
		return nil, err
	}
	c.store = store.New(backend, store.WithLogger(log))

	routerOpts := []server.Option{
		server.WithLogger(log),
		server.WithInstruments(instruments),
		server.WithTracerProvider(provider.TracerProvider),
		server.WithGracePeriod(cfg.Server.GracePeriod),
	}
	if o.onError != nil {
		routerOpts = append(routerOpts, server.OnError(o.onError))
	}
	c.router, err = server.Listen(cfg.Server.Address, c.store, routerOpts...)
	if err != nil {
		return nil, err
	}

	if cfg.QueryAPI.Enabled {
		ln, err := net.Listen("tcp", cfg.QueryAPI.Address)
		if err != nil {
			return nil, &core.PulseError{Op: "collector.New", Kind: "config", Message: "failed to bind query api", Err: errors.Join(core.ErrInvalidConfiguration, err)}
		}
		c.queryListener = ln
		api := queryapi.New(c.store, queryapi.WithLogger(log), queryapi.WithTracerProvider(provider.TracerProvider))
		c.queryServer = queryapi.NewServer(cfg.QueryAPI, api)
	}

	ok = true
	return c, nil
}

// connectBackend retries OpenBackend while the store is unreachable.
// Configuration errors fail at once.
func connectBackend(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (store.Backend, error) {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.ConnectAttempts

	var backend store.Backend
	attempt := 0
	err := resilience.Retry(ctx, retry, func() error {
		attempt++
		b, err := OpenBackend(ctx, cfg, log)
		if err == nil {
			backend = b
			return nil
		}
		if !core.IsStoreError(err) {
			return resilience.Permanent(err)
		}
		log.Warn("Store unreachable", map[string]interface{}{
			"provider": cfg.Provider,
			"attempt":  attempt,
			"error":    err,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return backend, nil
}

// OpenBackend connects the backend named by cfg.Provider.
func OpenBackend(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (store.Backend, error) {
	switch cfg.Provider {
	case config.StoreMemory, "":
		return store.NewMemoryBackend(), nil
	case config.StoreRedis:
		b, err := redisstore.New(ctx, redisstore.Options{
			URL:       cfg.URL,
			Namespace: cfg.Namespace,
			MinConns:  cfg.MinConns,
			MaxConns:  cfg.MaxConns,
			Logger:    log,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.StorePostgres:
		b, err := postgres.New(ctx, postgres.Options{
			ConnString: cfg.URL,
			MinConns:   cfg.MinConns,
			MaxConns:   cfg.MaxConns,
			Logger:     log,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.StoreSQLite:
		b, err := sqlite.Open(ctx, sqlite.Options{
			Path:     cfg.URL,
			MinConns: cfg.MinConns,
			MaxConns: cfg.MaxConns,
			Logger:   log,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, &core.PulseError{
			Op:   "collector.OpenBackend",
			Kind: "config",
			Err:  fmt.Errorf("%w: unknown store provider %q", core.ErrInvalidConfiguration, cfg.Provider),
		}
	}
}

// Addr returns the UDP address the router is bound to.
func (c *Collector) Addr() net.Addr {
	return c.router.Addr()
}

// QueryAddr returns the query API address, or nil when it is disabled.
func (c *Collector) QueryAddr() net.Addr {
	if c.queryListener == nil {
		return nil
	}
	return c.queryListener.Addr()
}

// Telemetry returns the tracer and meter providers.
func (c *Collector) Telemetry() *telemetry.Provider {
	return c.provider
}

// Store returns the trace store.
func (c *Collector) Store() *store.TraceStore {
	return c.store
}

// Run serves until ctx ends, then shuts everything down within the grace
// period and releases the store and telemetry.
func (c *Collector) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.router.Serve(gctx)
	})

	if c.queryServer != nil {
		c.logger.Info("Query API listening", map[string]interface{}{
			"address": c.queryListener.Addr().String(),
		})
		g.Go(func() error {
			if err := c.queryServer.Serve(c.queryListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("query api failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Server.GracePeriod)
			defer cancel()
			return c.queryServer.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Server.GracePeriod)
	defer cancel()
	c.close(shutdownCtx)
	return err
}

func (c *Collector) close(ctx context.Context) {
	if c.queryListener != nil {
		_ = c.queryListener.Close()
	}
	if c.router != nil {
		_ = c.router.Close()
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Warn("Failed to close trace store", map[string]interface{}{"error": err})
		}
	}
	if c.provider != nil {
		if err := c.provider.Shutdown(ctx); err != nil {
			c.logger.Warn("Failed to shut down telemetry", map[string]interface{}{"error": err})
		}
	}
}
