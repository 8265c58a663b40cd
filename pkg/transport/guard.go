package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/wallet-connect-x/walletrelay/internal/metrics"
	"github.com/wallet-connect-x/walletrelay/pkg/kvstore"
)

const clientIDKey = "websocket-transport-client-id"

func outboundNonceKey(clientID, channel string) string {
	return fmt.Sprintf("nonce:%s:%s", clientID, channel)
}

func latestNoncesKey(clientID, channel string) string {
	return fmt.Sprintf("latest-nonces:%s:%s", clientID, channel)
}

// LoadOrCreateClientID returns this endpoint's stable clientId, minting and
// persisting a fresh UUID the first time it is called against kv.
func LoadOrCreateClientID(ctx context.Context, kv kvstore.Store) (string, error) {
	v, ok, err := kv.Get(ctx, clientIDKey)
	if err != nil {
		return "", fmt.Errorf("transport: load client id: %w", err)
	}
	if ok {
		return v, nil
	}

	id := uuid.NewString()
	if err := kv.Set(ctx, clientIDKey, id); err != nil {
		return "", fmt.Errorf("transport: persist client id: %w", err)
	}
	return id, nil
}

// ReplayGuard enforces per-(sender,channel) strictly monotonic delivery and
// allocates per-(self,channel) strictly monotonic outbound nonces, both
// persisted to kv so restarts do not re-deliver or reuse a nonce (§4.1). It
// is shared by every Relay binding.
type ReplayGuard struct {
	kv       kvstore.Store
	clientID string

	mu         sync.Mutex
	outbound   map[string]uint64           // channel -> next nonce to assign
	latestSeen map[string]map[string]uint64 // channel -> from -> last seen nonce
}

// NewReplayGuard returns a ReplayGuard for clientID backed by kv.
func NewReplayGuard(kv kvstore.Store, clientID string) *ReplayGuard {
	return &ReplayGuard{
		kv:         kv,
		clientID:   clientID,
		outbound:   make(map[string]uint64),
		latestSeen: make(map[string]map[string]uint64),
	}
}

// NextNonce allocates and persists the next outbound nonce for channel.
func (g *ReplayGuard) NextNonce(ctx context.Context, channel string) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next, ok := g.outbound[channel]
	if !ok {
		loaded, err := g.loadOutbound(ctx, channel)
		if err != nil {
			return 0, err
		}
		next = loaded
	}
	if next == 0 {
		next = 1
	}

	key := outboundNonceKey(g.clientID, channel)
	if err := g.kv.Set(ctx, key, fmt.Sprintf("%d", next+1)); err != nil {
		return 0, fmt.Errorf("transport: persist outbound nonce: %w", err)
	}
	g.outbound[channel] = next + 1
	return next, nil
}

func (g *ReplayGuard) loadOutbound(ctx context.Context, channel string) (uint64, error) {
	raw, ok, err := g.kv.Get(ctx, outboundNonceKey(g.clientID, channel))
	if err != nil {
		return 0, fmt.Errorf("transport: load outbound nonce: %w", err)
	}
	if !ok {
		return 1, nil
	}
	var n uint64
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return 0, fmt.Errorf("transport: parse outbound nonce: %w", err)
	}
	return n, nil
}

// Admit applies the inbound replay guard, returning true if the envelope
// should be delivered to the application.
func (g *ReplayGuard) Admit(ctx context.Context, channel, from string, nonce uint64) (bool, error) {
	if from == g.clientID {
		metrics.TransportReplayDropped.WithLabelValues("loopback").Inc()
		metrics.ReplayAttacksDetected.Inc()
		metrics.NonceValidations.WithLabelValues("invalid").Inc()
		metrics.MessagesProcessed.WithLabelValues("encrypted", "failure").Inc()
		return false, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	seen, ok := g.latestSeen[channel]
	if !ok {
		loaded, err := g.loadLatestSeen(ctx, channel)
		if err != nil {
			return false, err
		}
		seen = loaded
		g.latestSeen[channel] = seen
	}

	if nonce <= seen[from] {
		metrics.TransportReplayDropped.WithLabelValues("stale_nonce").Inc()
		metrics.ReplayAttacksDetected.Inc()
		metrics.NonceValidations.WithLabelValues("expired").Inc()
		metrics.MessagesProcessed.WithLabelValues("encrypted", "failure").Inc()
		return false, nil
	}

	seen[from] = nonce
	if err := g.persistLatestSeen(ctx, channel, seen); err != nil {
		metrics.NonceValidations.WithLabelValues("invalid").Inc()
		return false, err
	}
	metrics.NonceValidations.WithLabelValues("valid").Inc()
	metrics.MessagesProcessed.WithLabelValues("encrypted", "success").Inc()
	return true, nil
}

func (g *ReplayGuard) loadLatestSeen(ctx context.Context, channel string) (map[string]uint64, error) {
	raw, ok, err := g.kv.Get(ctx, latestNoncesKey(g.clientID, channel))
	if err != nil {
		return nil, fmt.Errorf("transport: load latest nonces: %w", err)
	}
	if !ok {
		return make(map[string]uint64), nil
	}
	m := make(map[string]uint64)
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("transport: parse latest nonces: %w", err)
	}
	return m, nil
}

func (g *ReplayGuard) persistLatestSeen(ctx context.Context, channel string, seen map[string]uint64) error {
	data, err := json.Marshal(seen)
	if err != nil {
		return fmt.Errorf("transport: marshal latest nonces: %w", err)
	}
	if err := g.kv.Set(ctx, latestNoncesKey(g.clientID, channel), string(data)); err != nil {
		return fmt.Errorf("transport: persist latest nonces: %w", err)
	}
	return nil
}

// Clear drops a channel's in-memory and persisted replay state.
func (g *ReplayGuard) Clear(ctx context.Context, channel string) error {
	g.mu.Lock()
	delete(g.outbound, channel)
	delete(g.latestSeen, channel)
	g.mu.Unlock()

	if err := g.kv.Delete(ctx, outboundNonceKey(g.clientID, channel)); err != nil {
		return fmt.Errorf("transport: clear outbound nonce: %w", err)
	}
	if err := g.kv.Delete(ctx, latestNoncesKey(g.clientID, channel)); err != nil {
		return fmt.Errorf("transport: clear latest nonces: %w", err)
	}
	return nil
}
