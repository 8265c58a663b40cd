package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-connect-x/walletrelay/pkg/kvstore/memory"
)

func TestLoadOrCreateClientIDIsStable(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()

	id1, err := LoadOrCreateClientID(ctx, kv)
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	id2, err := LoadOrCreateClientID(ctx, kv)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestNextNonceIsMonotonicAndPersists(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	g := NewReplayGuard(kv, "self")

	n1, err := g.NextNonce(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n1)

	n2, err := g.NextNonce(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n2)

	g2 := NewReplayGuard(kv, "self")
	n3, err := g2.NextNonce(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n3)
}

func TestAdmitDropsLoopback(t *testing.T) {
	ctx := context.Background()
	g := NewReplayGuard(memory.New(), "self")

	ok, err := g.Admit(ctx, "session:abc", "self", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdmitDropsReplay(t *testing.T) {
	ctx := context.Background()
	g := NewReplayGuard(memory.New(), "self")

	ok, err := g.Admit(ctx, "session:abc", "peer", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Admit(ctx, "session:abc", "peer", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.Admit(ctx, "session:abc", "peer", 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAdmitSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()

	g1 := NewReplayGuard(kv, "self")
	ok, err := g1.Admit(ctx, "session:abc", "peer", 5)
	require.NoError(t, err)
	assert.True(t, ok)

	g2 := NewReplayGuard(kv, "self")
	ok, err = g2.Admit(ctx, "session:abc", "peer", 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearResetsState(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	g := NewReplayGuard(kv, "self")

	_, err := g.NextNonce(ctx, "handshake:abc")
	require.NoError(t, err)
	_, err = g.Admit(ctx, "handshake:abc", "peer", 1)
	require.NoError(t, err)

	require.NoError(t, g.Clear(ctx, "handshake:abc"))

	n, err := g.NextNonce(ctx, "handshake:abc")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	ok, err := g.Admit(ctx, "handshake:abc", "peer", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}
