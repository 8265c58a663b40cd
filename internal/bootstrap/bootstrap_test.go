package bootstrap_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-connect-x/walletrelay/config"
	"github.com/wallet-connect-x/walletrelay/internal/bootstrap"
	"github.com/wallet-connect-x/walletrelay/pkg/dappclient"
	"github.com/wallet-connect-x/walletrelay/pkg/keymanager"
	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
	"github.com/wallet-connect-x/walletrelay/pkg/sessionstore"
)

func TestBuildWiresMemoryStackFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		Session:   &config.SessionConfig{DefaultTTL: 2 * time.Hour},
		Handshake: &config.HandshakeConfig{Timeout: 10 * time.Second, OTPDeadline: 30 * time.Second},
		Storage:   &config.StorageConfig{Type: "memory"},
		Logging:   &config.LoggingConfig{Level: "debug", Format: "pretty"},
	}

	stack, err := bootstrap.Build(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = stack.Close(ctx) }()

	assert.Equal(t, 2*time.Hour, stack.Timing.SessionTTL)
	assert.Equal(t, 10*time.Second, stack.Timing.RequestTTL)
	assert.Equal(t, 30*time.Second, stack.Timing.OTPDeadline)
	assert.NotNil(t, stack.KV)
	assert.NotNil(t, stack.Relay)

	client := dappclient.New(stack.Relay, sessionstore.New(stack.KV), keymanager.New(), stack.Log).
		WithTiming(stack.Timing)

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_ = client.Connect(shortCtx, protocol.ModeUntrusted)
	assert.Equal(t, protocol.StateDisconnected, client.State())
}

func TestBuildRejectsUnknownStorageType(t *testing.T) {
	cfg := &config.Config{Storage: &config.StorageConfig{Type: "sqlite"}}
	_, err := bootstrap.Build(context.Background(), cfg)
	assert.Error(t, err)
}

func TestBuildRejectsPostgresWithoutDSN(t *testing.T) {
	cfg := &config.Config{Storage: &config.StorageConfig{Type: "postgres"}}
	_, err := bootstrap.Build(context.Background(), cfg)
	assert.Error(t, err)
}
