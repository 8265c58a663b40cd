package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/wallet-connect-x/walletrelay/internal/metrics"
	"github.com/wallet-connect-x/walletrelay/pkg/kvstore"
	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
	"github.com/wallet-connect-x/walletrelay/pkg/transport"
)

// Relay is an in-process transport.Relay bound to a shared Bus.
type Relay struct {
	bus      *Bus
	kv       kvstore.Store
	clientID string
	guard    *transport.ReplayGuard

	mu        sync.Mutex
	connected bool
	subs      map[string]subscription
}

type subscription struct {
	busID int
	out   chan protocol.EncryptedEnvelope
	stop  chan struct{}
}

// New returns a Relay sharing bus, persisting its identity and replay state
// through kv.
func New(ctx context.Context, kv kvstore.Store, bus *Bus) (*Relay, error) {
	clientID, err := transport.LoadOrCreateClientID(ctx, kv)
	if err != nil {
		return nil, err
	}
	return &Relay{
		bus:      bus,
		kv:       kv,
		clientID: clientID,
		guard:    transport.NewReplayGuard(kv, clientID),
		subs:     make(map[string]subscription),
	}, nil
}

// Connect is idempotent; the in-process bus is always reachable.
func (r *Relay) Connect(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = true
	return nil
}

// ClientID returns this endpoint's stable identifier.
func (r *Relay) ClientID() string {
	return r.clientID
}

// Subscribe replays channel's history through the replay guard, then
// forwards live messages the same way, until Clear or Disconnect.
func (r *Relay) Subscribe(ctx context.Context, channel string) (<-chan protocol.EncryptedEnvelope, error) {
	busID, history, live := r.bus.subscribe(channel)

	out := make(chan protocol.EncryptedEnvelope, 64)
	stop := make(chan struct{})

	r.mu.Lock()
	r.subs[channel] = subscription{busID: busID, out: out, stop: stop}
	r.mu.Unlock()
	metrics.TransportSubscriptions.Inc()

	go r.pump(ctx, channel, history, live, out, stop)

	return out, nil
}

func (r *Relay) pump(ctx context.Context, channel string, history []protocol.EncryptedEnvelope, live <-chan protocol.EncryptedEnvelope, out chan<- protocol.EncryptedEnvelope, stop <-chan struct{}) {
	defer close(out)

	deliver := func(env protocol.EncryptedEnvelope, source string) bool {
		admitted, err := r.guard.Admit(ctx, channel, env.From, env.Nonce)
		if err != nil || !admitted {
			return true
		}
		metrics.TransportDelivered.WithLabelValues(source).Inc()
		select {
		case out <- env:
		case <-stop:
			return false
		}
		return true
	}

	for _, env := range history {
		if !deliver(env, "history") {
			return
		}
	}

	for {
		select {
		case env, ok := <-live:
			if !ok {
				return
			}
			if !deliver(env, "live") {
				return
			}
		case <-stop:
			return
		}
	}
}

// Publish stamps env with this endpoint's clientId and a fresh persistent
// nonce, then fans it out on the bus.
func (r *Relay) Publish(ctx context.Context, channel string, env protocol.EncryptedEnvelope) error {
	nonce, err := r.guard.NextNonce(ctx, channel)
	if err != nil {
		metrics.TransportPublished.WithLabelValues("failure").Inc()
		return fmt.Errorf("memory relay: publish: %w", err)
	}
	env.From = r.clientID
	env.Nonce = nonce
	r.bus.publish(channel, env)
	metrics.TransportPublished.WithLabelValues("success").Inc()
	return nil
}

// Clear unsubscribes from channel, wipes its bus-side history, and drops
// its persisted replay state.
func (r *Relay) Clear(ctx context.Context, channel string) error {
	r.mu.Lock()
	sub, ok := r.subs[channel]
	delete(r.subs, channel)
	r.mu.Unlock()

	if ok {
		close(sub.stop)
		r.bus.unsubscribe(channel, sub.busID)
		metrics.TransportSubscriptions.Dec()
	}
	r.bus.clear(channel)

	return r.guard.Clear(ctx, channel)
}

// Disconnect stops every live subscription without destroying persisted
// counters, so a later Connect+Subscribe resumes from replay.
func (r *Relay) Disconnect(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for channel, sub := range r.subs {
		close(sub.stop)
		r.bus.unsubscribe(channel, sub.busID)
		metrics.TransportSubscriptions.Dec()
	}
	r.subs = make(map[string]subscription)
	r.connected = false
	return nil
}
