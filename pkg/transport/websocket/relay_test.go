package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-connect-x/walletrelay/internal/logger"
	"github.com/wallet-connect-x/walletrelay/pkg/kvstore/memory"
	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
)

// fakeRelayServer is a minimal test double for a real relay: it fans out
// every published envelope to every subscriber of that channel and never
// replays history (history replay is exercised at the memory-binding
// level; this test focuses on the wire protocol and reconnect behavior).
type fakeRelayServer struct {
	upgrader gorilla.Upgrader

	mu   sync.Mutex
	subs map[string][]*gorilla.Conn
}

func newFakeRelayServer() *fakeRelayServer {
	return &fakeRelayServer{
		upgrader: gorilla.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		subs:     make(map[string][]*gorilla.Conn),
	}
}

func (s *fakeRelayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case frameSubscribe:
			s.mu.Lock()
			s.subs[f.Channel] = append(s.subs[f.Channel], conn)
			s.mu.Unlock()
		case framePublish:
			s.mu.Lock()
			conns := append([]*gorilla.Conn{}, s.subs[f.Channel]...)
			s.mu.Unlock()
			out := frame{Type: frameMessage, Channel: f.Channel, Envelope: f.Envelope, Source: "live"}
			for _, c := range conns {
				_ = c.WriteJSON(out)
			}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectPublishSubscribeRoundTrip(t *testing.T) {
	relaySrv := newFakeRelayServer()
	srv := httptest.NewServer(relaySrv)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logger.NewDefaultLogger()

	dapp, err := New(ctx, Config{URL: wsURL(srv)}, memory.New(), log)
	require.NoError(t, err)
	require.NoError(t, dapp.Connect(ctx))
	defer dapp.Disconnect(ctx)

	wallet, err := New(ctx, Config{URL: wsURL(srv)}, memory.New(), log)
	require.NoError(t, err)
	require.NoError(t, wallet.Connect(ctx))
	defer wallet.Disconnect(ctx)

	ch, err := wallet.Subscribe(ctx, "session:abc")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond) // let the subscribe frame land server-side

	require.NoError(t, dapp.Publish(ctx, "session:abc", protocol.EncryptedEnvelope{Ciphertext: "hello"}))

	select {
	case env := <-ch:
		assert.Equal(t, "hello", env.Ciphertext)
		assert.Equal(t, dapp.ClientID(), env.From)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestClientIDStableAcrossRestart(t *testing.T) {
	relaySrv := newFakeRelayServer()
	srv := httptest.NewServer(relaySrv)
	defer srv.Close()

	ctx := context.Background()
	kv := memory.New()
	log := logger.NewDefaultLogger()

	r1, err := New(ctx, Config{URL: wsURL(srv)}, kv, log)
	require.NoError(t, err)

	r2, err := New(ctx, Config{URL: wsURL(srv)}, kv, log)
	require.NoError(t, err)

	assert.Equal(t, r1.ClientID(), r2.ClientID())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{URL: "wss://relay.example.com"}.withDefaults()
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectInitial)
	assert.Equal(t, 5*time.Second, cfg.ReconnectMax)
}
