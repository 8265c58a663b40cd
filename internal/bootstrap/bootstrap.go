// Package bootstrap turns a loaded config.Config into the concrete
// components (transport, storage, logging, handshake timing) that
// baseclient/dappclient/walletclient are built from. There is no single
// "main" binary in this module, so bootstrap is the composition root every
// embedder's entrypoint is expected to call into.
package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/wallet-connect-x/walletrelay/config"
	"github.com/wallet-connect-x/walletrelay/internal/logger"
	"github.com/wallet-connect-x/walletrelay/internal/metrics"
	"github.com/wallet-connect-x/walletrelay/pkg/handlers"
	"github.com/wallet-connect-x/walletrelay/pkg/kvstore"
	kvmemory "github.com/wallet-connect-x/walletrelay/pkg/kvstore/memory"
	"github.com/wallet-connect-x/walletrelay/pkg/kvstore/postgres"
	"github.com/wallet-connect-x/walletrelay/pkg/transport"
	"github.com/wallet-connect-x/walletrelay/pkg/transport/memory"
	"github.com/wallet-connect-x/walletrelay/pkg/transport/websocket"
)

// Stack bundles the components a dappclient.Client/walletclient.Client is
// assembled from, all derived from one config.Config.
type Stack struct {
	KV        kvstore.Store
	Relay     transport.Relay
	Log       logger.Logger
	Timing    handlers.Timing
	Config    *config.Config
	closeFunc func() error
}

// Close releases anything Build opened (a Postgres pool, a dialed
// WebSocket connection).
func (s *Stack) Close(ctx context.Context) error {
	var errs []error
	if s.Relay != nil {
		if err := s.Relay.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.closeFunc != nil {
		if err := s.closeFunc(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("bootstrap: close: %v", errs)
	}
	return nil
}

// Build constructs a Stack from cfg. Storage is memory-backed unless
// cfg.Storage.Type is "postgres"; transport dials cfg.Relay.URL over
// WebSocket unless it is empty, in which case an in-process relay is used
// (suitable for local development and single-process demos only, since it
// has no peer outside this Stack to exchange frames with). If
// cfg.Metrics.Enabled, a standalone Prometheus server is started in the
// background on cfg.Metrics.Port.
func Build(ctx context.Context, cfg *config.Config) (*Stack, error) {
	log := buildLogger(cfg.Logging)

	kv, closeFunc, err := buildStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: storage: %w", err)
	}

	relay, err := buildRelay(ctx, cfg.Relay, kv, log)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: transport: %w", err)
	}

	if err := relay.Connect(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: connect: %w", err)
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			if err := metrics.StartServer(addr); err != nil {
				log.Error("metrics server stopped", logger.Error(err), logger.String("addr", addr))
			}
		}()
	}

	timing := handlers.Timing{}
	if cfg.Handshake != nil {
		timing.RequestTTL = cfg.Handshake.Timeout
		timing.OTPDeadline = cfg.Handshake.OTPDeadline
	}
	if cfg.Session != nil {
		timing.SessionTTL = cfg.Session.DefaultTTL
	}

	return &Stack{
		KV:        kv,
		Relay:     relay,
		Log:       log,
		Timing:    timing,
		Config:    cfg,
		closeFunc: closeFunc,
	}, nil
}

func buildStore(ctx context.Context, cfg *config.StorageConfig) (kvstore.Store, func() error, error) {
	if cfg == nil || cfg.Type == "" || cfg.Type == "memory" {
		return kvmemory.New(), nil, nil
	}
	if cfg.Type != "postgres" {
		return nil, nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
	if cfg.Postgres == nil || cfg.Postgres.DSN == "" {
		return nil, nil, fmt.Errorf("storage.postgres.dsn is required")
	}

	store, err := postgres.New(ctx, cfg.Postgres.DSN, postgres.Config{
		MaxConns:       cfg.Postgres.MaxConns,
		ConnectTimeout: cfg.Postgres.ConnectTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, store.Close, nil
}

func buildRelay(ctx context.Context, cfg *config.RelayConfig, kv kvstore.Store, log logger.Logger) (transport.Relay, error) {
	if cfg == nil || cfg.URL == "" {
		return memory.New(ctx, kv, memory.NewBus())
	}

	return websocket.New(ctx, websocket.Config{
		URL:              cfg.URL,
		WriteTimeout:     cfg.WriteTimeout,
		ReconnectInitial: cfg.ReconnectInitial,
		ReconnectMax:     cfg.ReconnectMax,
	}, kv, log)
}

func buildLogger(cfg *config.LoggingConfig) logger.Logger {
	if cfg == nil {
		return logger.NewDefaultLogger()
	}

	output := os.Stdout
	if cfg.Output == "stderr" {
		output = os.Stderr
	}

	l := logger.NewLogger(output, logger.ParseLevel(cfg.Level))
	l.SetPrettyPrint(cfg.Format == "pretty")
	return l
}
