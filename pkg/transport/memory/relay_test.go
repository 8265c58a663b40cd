package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kvmemory "github.com/wallet-connect-x/walletrelay/pkg/kvstore/memory"
	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
)

func newRelay(t *testing.T, bus *Bus) *Relay {
	t.Helper()
	r, err := New(context.Background(), kvmemory.New(), bus)
	require.NoError(t, err)
	require.NoError(t, r.Connect(context.Background()))
	return r
}

func recvWithTimeout(t *testing.T, ch <-chan protocol.EncryptedEnvelope) protocol.EncryptedEnvelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return protocol.EncryptedEnvelope{}
	}
}

func TestPublishSubscribeDeliversLive(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	dapp := newRelay(t, bus)
	wallet := newRelay(t, bus)

	ch, err := wallet.Subscribe(ctx, "session:abc")
	require.NoError(t, err)

	require.NoError(t, dapp.Publish(ctx, "session:abc", protocol.EncryptedEnvelope{Ciphertext: "hello"}))

	env := recvWithTimeout(t, ch)
	assert.Equal(t, "hello", env.Ciphertext)
	assert.Equal(t, dapp.ClientID(), env.From)
	assert.Equal(t, uint64(1), env.Nonce)
}

func TestHistoryReplayedOnSubscribe(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	dapp := newRelay(t, bus)
	require.NoError(t, dapp.Publish(ctx, "session:abc", protocol.EncryptedEnvelope{Ciphertext: "first"}))
	require.NoError(t, dapp.Publish(ctx, "session:abc", protocol.EncryptedEnvelope{Ciphertext: "second"}))

	wallet := newRelay(t, bus)
	ch, err := wallet.Subscribe(ctx, "session:abc")
	require.NoError(t, err)

	first := recvWithTimeout(t, ch)
	second := recvWithTimeout(t, ch)
	assert.Equal(t, "first", first.Ciphertext)
	assert.Equal(t, "second", second.Ciphertext)
}

func TestResumeDoesNotRedeliverSeenMessages(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()
	kv := kvmemory.New()

	dapp := newRelay(t, bus)
	wallet, err := New(ctx, kv, bus)
	require.NoError(t, err)
	require.NoError(t, wallet.Connect(ctx))

	ch, err := wallet.Subscribe(ctx, "session:abc")
	require.NoError(t, err)

	require.NoError(t, dapp.Publish(ctx, "session:abc", protocol.EncryptedEnvelope{Ciphertext: "msg-1"}))
	recvWithTimeout(t, ch)

	require.NoError(t, wallet.Disconnect(ctx))

	wallet2, err := New(ctx, kv, bus)
	require.NoError(t, err)
	require.NoError(t, wallet2.Connect(ctx))
	ch2, err := wallet2.Subscribe(ctx, "session:abc")
	require.NoError(t, err)

	require.NoError(t, dapp.Publish(ctx, "session:abc", protocol.EncryptedEnvelope{Ciphertext: "msg-2"}))

	env := recvWithTimeout(t, ch2)
	assert.Equal(t, "msg-2", env.Ciphertext)
}

func TestLoopbackIsDropped(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	dapp := newRelay(t, bus)
	ch, err := dapp.Subscribe(ctx, "session:abc")
	require.NoError(t, err)

	require.NoError(t, dapp.Publish(ctx, "session:abc", protocol.EncryptedEnvelope{Ciphertext: "self"}))

	select {
	case env, ok := <-ch:
		t.Fatalf("expected no delivery, got %+v (open=%v)", env, ok)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClearWipesHistoryAndReplayState(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	dapp := newRelay(t, bus)
	require.NoError(t, dapp.Publish(ctx, "handshake:abc", protocol.EncryptedEnvelope{Ciphertext: "offer"}))

	require.NoError(t, dapp.Clear(ctx, "handshake:abc"))

	wallet := newRelay(t, bus)
	ch, err := wallet.Subscribe(ctx, "handshake:abc")
	require.NoError(t, err)

	select {
	case env, ok := <-ch:
		t.Fatalf("expected empty history after clear, got %+v (open=%v)", env, ok)
	case <-time.After(100 * time.Millisecond):
	}
}
