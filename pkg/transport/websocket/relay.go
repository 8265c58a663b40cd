// Package websocket is the production transport.Relay binding: it dials
// the relay over a persistent WebSocket connection and reconnects
// transparently with bounded exponential backoff (§4.1).
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/wallet-connect-x/walletrelay/internal/logger"
	"github.com/wallet-connect-x/walletrelay/internal/metrics"
	"github.com/wallet-connect-x/walletrelay/pkg/kvstore"
	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
	"github.com/wallet-connect-x/walletrelay/pkg/protocolerr"
	"github.com/wallet-connect-x/walletrelay/pkg/transport"
)

// Config controls dial timing and reconnect backoff.
type Config struct {
	URL              string
	DialTimeout      time.Duration
	WriteTimeout     time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReconnectInitial == 0 {
		c.ReconnectInitial = 500 * time.Millisecond
	}
	if c.ReconnectMax == 0 {
		c.ReconnectMax = 5 * time.Second
	}
	return c
}

// Relay is a transport.Relay that dials a real relay server over
// WebSocket.
type Relay struct {
	cfg      Config
	kv       kvstore.Store
	clientID string
	guard    *transport.ReplayGuard
	log      logger.Logger

	mu         sync.Mutex
	conn       *gorilla.Conn
	connected  bool
	channels   map[string]chan protocol.EncryptedEnvelope
	shutdownCh chan struct{}
	shutdown   bool
}

// New returns a Relay dialing cfg.URL, persisting its identity and replay
// state through kv.
func New(ctx context.Context, cfg Config, kv kvstore.Store, log logger.Logger) (*Relay, error) {
	clientID, err := transport.LoadOrCreateClientID(ctx, kv)
	if err != nil {
		return nil, err
	}
	return &Relay{
		cfg:        cfg.withDefaults(),
		kv:         kv,
		clientID:   clientID,
		guard:      transport.NewReplayGuard(kv, clientID),
		log:        log,
		channels:   make(map[string]chan protocol.EncryptedEnvelope),
		shutdownCh: make(chan struct{}),
	}, nil
}

// ClientID returns this endpoint's stable identifier.
func (r *Relay) ClientID() string {
	return r.clientID
}

// Connect dials the relay, retrying with bounded exponential backoff until
// ctx is done.
func (r *Relay) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.connected {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	backoff := r.cfg.ReconnectInitial
	for {
		dialCtx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
		conn, _, err := gorilla.DefaultDialer.DialContext(dialCtx, r.cfg.URL, nil)
		cancel()

		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.connected = true
			r.mu.Unlock()
			metrics.TransportReconnects.WithLabelValues("success").Inc()
			go r.readLoop(ctx)
			return nil
		}

		metrics.TransportReconnects.WithLabelValues("failure").Inc()
		metrics.TransportBackoff.Set(backoff.Seconds())
		r.log.Warn("relay dial failed, retrying", logger.Error(err), logger.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return protocolerr.Wrap(protocolerr.TransportError, "Relay.connect", ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > r.cfg.ReconnectMax {
			backoff = r.cfg.ReconnectMax
		}
	}
}

// readLoop dispatches inbound frames to their channel's subscriber until
// the connection drops, then triggers a reconnect-and-resubscribe cycle.
func (r *Relay) readLoop(ctx context.Context) {
	for {
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()
		if conn == nil {
			return
		}

		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			r.mu.Lock()
			r.connected = false
			r.conn = nil
			subscribed := make([]string, 0, len(r.channels))
			for ch := range r.channels {
				subscribed = append(subscribed, ch)
			}
			r.mu.Unlock()

			select {
			case <-r.shutdownCh:
				return
			case <-ctx.Done():
				return
			default:
			}

			r.log.Warn("relay connection lost, reconnecting", logger.Error(err))
			if err := r.Connect(ctx); err != nil {
				r.log.Error("relay reconnect failed permanently", logger.Error(err))
				return
			}
			r.resubscribeAll(ctx, subscribed)
			return
		}

		if f.Type != frameMessage || f.Envelope == nil {
			continue
		}

		r.mu.Lock()
		out, ok := r.channels[f.Channel]
		r.mu.Unlock()
		if !ok {
			continue
		}

		admitted, err := r.guard.Admit(ctx, f.Channel, f.Envelope.From, f.Envelope.Nonce)
		if err != nil || !admitted {
			continue
		}
		metrics.TransportDelivered.WithLabelValues(f.Source).Inc()

		select {
		case out <- *f.Envelope:
		case <-ctx.Done():
			return
		}
	}
}

// resubscribeAll re-sends a subscribe frame for every channel the caller
// had open before the drop, concurrently, per the reconnect contract.
func (r *Relay) resubscribeAll(ctx context.Context, channels []string) {
	g, gctx := errgroup.WithContext(ctx)
	for _, channel := range channels {
		channel := channel
		g.Go(func() error {
			return r.writeFrame(gctx, frame{Type: frameSubscribe, Channel: channel})
		})
	}
	if err := g.Wait(); err != nil {
		r.log.Error("resubscribe after reconnect failed", logger.Error(err))
	}
	go r.readLoop(ctx)
}

func (r *Relay) writeFrame(_ context.Context, f frame) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return protocolerr.New(protocolerr.TransportError, "Relay.writeFrame")
	}

	if err := conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout)); err != nil {
		return protocolerr.Wrap(protocolerr.TransportError, "Relay.writeFrame", err)
	}
	if err := conn.WriteJSON(f); err != nil {
		return protocolerr.Wrap(protocolerr.TransportError, "Relay.writeFrame", err)
	}
	return nil
}

// Subscribe sends a subscribe frame and returns the channel inbound
// messages for `channel` are delivered on.
func (r *Relay) Subscribe(ctx context.Context, channel string) (<-chan protocol.EncryptedEnvelope, error) {
	out := make(chan protocol.EncryptedEnvelope, 64)

	r.mu.Lock()
	r.channels[channel] = out
	r.mu.Unlock()
	metrics.TransportSubscriptions.Inc()

	if err := r.writeFrame(ctx, frame{Type: frameSubscribe, Channel: channel}); err != nil {
		return nil, fmt.Errorf("websocket relay: subscribe %s: %w", channel, err)
	}
	return out, nil
}

// Publish stamps env with this endpoint's clientId and a fresh persistent
// nonce, then sends it to the relay.
func (r *Relay) Publish(ctx context.Context, channel string, env protocol.EncryptedEnvelope) error {
	nonce, err := r.guard.NextNonce(ctx, channel)
	if err != nil {
		metrics.TransportPublished.WithLabelValues("failure").Inc()
		return fmt.Errorf("websocket relay: publish: %w", err)
	}
	env.From = r.clientID
	env.Nonce = nonce

	if err := r.writeFrame(ctx, frame{Type: framePublish, Channel: channel, Envelope: &env}); err != nil {
		metrics.TransportPublished.WithLabelValues("failure").Inc()
		return err
	}
	metrics.TransportPublished.WithLabelValues("success").Inc()
	return nil
}

// Clear unsubscribes from channel and wipes its persisted replay state.
func (r *Relay) Clear(ctx context.Context, channel string) error {
	r.mu.Lock()
	out, ok := r.channels[channel]
	delete(r.channels, channel)
	r.mu.Unlock()

	if ok {
		close(out)
		metrics.TransportSubscriptions.Dec()
	}

	if err := r.writeFrame(ctx, frame{Type: frameUnsubscribe, Channel: channel}); err != nil {
		r.log.Warn("unsubscribe frame failed", logger.String("channel", channel), logger.Error(err))
	}

	return r.guard.Clear(ctx, channel)
}

// Disconnect closes the WebSocket connection without destroying persisted
// counters. It is idempotent: a second call is a no-op.
func (r *Relay) Disconnect(_ context.Context) error {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return nil
	}
	r.shutdown = true
	r.mu.Unlock()

	close(r.shutdownCh)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, out := range r.channels {
		close(out)
	}
	r.channels = make(map[string]chan protocol.EncryptedEnvelope)

	if r.conn != nil {
		_ = r.conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""))
		err := r.conn.Close()
		r.conn = nil
		r.connected = false
		if err != nil {
			return fmt.Errorf("websocket relay: disconnect: %w", err)
		}
	}
	return nil
}
