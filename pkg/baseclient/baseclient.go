// Package baseclient is the scaffolding shared by DappClient and
// WalletClient: client-state lifecycle, the inbound decrypt/dispatch
// loop, resume, and disconnect (§4.4).
package baseclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wallet-connect-x/walletrelay/internal/logger"
	"github.com/wallet-connect-x/walletrelay/internal/metrics"
	"github.com/wallet-connect-x/walletrelay/pkg/envelope"
	"github.com/wallet-connect-x/walletrelay/pkg/event"
	"github.com/wallet-connect-x/walletrelay/pkg/keymanager"
	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
	"github.com/wallet-connect-x/walletrelay/pkg/protocolerr"
	"github.com/wallet-connect-x/walletrelay/pkg/sessionstore"
	"github.com/wallet-connect-x/walletrelay/pkg/transport"
)

// BaseClient is not itself exported as usable concurrently: every method
// is meant to be called sequentially by its owning DappClient/WalletClient,
// matching the single cooperative-actor scheduling model (§5). The guard
// below is a blocking lock that serializes access to state, session and
// cancel between those methods and the listen goroutine; a concurrent
// caller waits for it rather than failing.
type BaseClient struct {
	Transport  transport.Relay
	Store      *sessionstore.SessionStore
	KeyManager *keymanager.KeyManager
	Log        logger.Logger
	Emitter    *event.Emitter

	guard   chan struct{} // 1-buffered: acts as a non-reentrant lock
	state   protocol.ClientState
	session *protocol.Session
	cancel  context.CancelFunc
}

// New returns a BaseClient in state DISCONNECTED.
func New(rl transport.Relay, store *sessionstore.SessionStore, km *keymanager.KeyManager, log logger.Logger) *BaseClient {
	guard := make(chan struct{}, 1)
	guard <- struct{}{}
	return &BaseClient{
		Transport:  rl,
		Store:      store,
		KeyManager: km,
		Log:        log,
		Emitter:    event.NewEmitter(),
		guard:      guard,
		state:      protocol.StateDisconnected,
	}
}

func (c *BaseClient) lock() func() {
	<-c.guard
	return func() { c.guard <- struct{}{} }
}

// State returns the client's current lifecycle state.
func (c *BaseClient) State() protocol.ClientState {
	unlock := c.lock()
	defer unlock()
	return c.state
}

// Session returns the active session, or nil if none is established.
func (c *BaseClient) Session() *protocol.Session {
	unlock := c.lock()
	defer unlock()
	return c.session
}

func (c *BaseClient) setState(s protocol.ClientState) {
	unlock := c.lock()
	c.state = s
	unlock()
}

// BeginConnecting transitions DISCONNECTED -> CONNECTING, failing with
// SESSION_INVALID_STATE if a connection attempt or session is already
// active.
func (c *BaseClient) BeginConnecting() error {
	unlock := c.lock()
	defer unlock()
	if c.state != protocol.StateDisconnected {
		return protocolerr.New(protocolerr.SessionInvalidState, "BaseClient.connect")
	}
	c.state = protocol.StateConnecting
	return nil
}

// Activate adopts session as the active session, takes over inbox as the
// session channel's live subscription, transitions to CONNECTED, and
// emits `connected`. The handler that produced session must have already
// subscribed the channel; Activate does not subscribe again.
func (c *BaseClient) Activate(ctx context.Context, session *protocol.Session, inbox <-chan protocol.EncryptedEnvelope) error {
	start := time.Now()
	if err := c.Store.Set(ctx, session); err != nil {
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return fmt.Errorf("BaseClient.activate: persist session: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	unlock := c.lock()
	c.session = session
	c.state = protocol.StateConnected
	c.cancel = cancel
	unlock()

	go c.listen(loopCtx, inbox)

	metrics.SessionsCreated.WithLabelValues("success").Inc()
	metrics.SessionsActive.Inc()
	metrics.SessionDuration.WithLabelValues("create").Observe(time.Since(start).Seconds())

	c.Emitter.Emit(event.Event{Kind: event.Connected, Session: session})
	return nil
}

// SendMessage encrypts payload to the peer's public key and publishes it
// on the session's secure channel. Fails with SESSION_INVALID_STATE if not
// CONNECTED.
func (c *BaseClient) SendMessage(ctx context.Context, payload protocol.ProtocolMessage) error {
	session := c.Session()
	if c.State() != protocol.StateConnected || session == nil {
		return protocolerr.New(protocolerr.SessionInvalidState, "BaseClient.sendMessage")
	}

	ciphertext, err := envelope.Seal(c.KeyManager, payload, session.TheirPublicKey)
	if err != nil {
		return err
	}

	metrics.SessionMessageSize.WithLabelValues("outbound").Observe(float64(len(ciphertext)))

	env := protocol.EncryptedEnvelope{Ciphertext: ciphertext}
	if err := c.Transport.Publish(ctx, session.Channel, env); err != nil {
		return fmt.Errorf("BaseClient.sendMessage: %w", err)
	}
	return nil
}

// listen decrypts and dispatches inbound envelopes until inbox closes or
// ctx is cancelled. Decryption failures are logged and surfaced as an
// `error` event without tearing down the session (§7).
func (c *BaseClient) listen(ctx context.Context, inbox <-chan protocol.EncryptedEnvelope) {
	for {
		select {
		case env, ok := <-inbox:
			if !ok {
				return
			}
			session := c.Session()
			if session == nil {
				continue
			}

			plain, err := envelope.Open(c.KeyManager, env.Ciphertext, session.KeyPair.PrivateKey)
			if err != nil {
				metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
				c.Log.Warn("dropping undecryptable envelope", logger.Error(err))
				c.Emitter.Emit(event.Event{Kind: event.Error, Err: protocolerr.Wrap(protocolerr.DecryptionFailed, "BaseClient.listen", err)})
				continue
			}
			metrics.SessionMessageSize.WithLabelValues("inbound").Observe(float64(len(env.Ciphertext)))

			c.Emitter.Emit(event.Event{Kind: event.Message, Payload: plain.Payload})
		case <-ctx.Done():
			return
		}
	}
}

// Resume loads sessionID from the SessionStore, reconnects Transport, and
// resubscribes the session's channel; history is replayed and filtered by
// Transport's replay guard so already-consumed messages do not resurface.
func (c *BaseClient) Resume(ctx context.Context, sessionID string) error {
	if err := c.BeginConnecting(); err != nil {
		return err
	}

	session, err := c.Store.Get(ctx, sessionID)
	if err != nil {
		c.setState(protocol.StateDisconnected)
		return err
	}

	if err := c.Transport.Connect(ctx); err != nil {
		c.setState(protocol.StateDisconnected)
		return protocolerr.Wrap(protocolerr.TransportError, "BaseClient.resume", err)
	}

	inbox, err := c.Transport.Subscribe(ctx, session.Channel)
	if err != nil {
		c.setState(protocol.StateDisconnected)
		return protocolerr.Wrap(protocolerr.TransportError, "BaseClient.resume", err)
	}

	return c.Activate(ctx, session, inbox)
}

// Disconnect is best-effort: every step runs even if an earlier one fails,
// and errors are aggregated and surfaced once (§4.4). Calling Disconnect
// again on an already-disconnected client is a no-op: it returns nil
// without touching Transport or Store.
func (c *BaseClient) Disconnect(ctx context.Context) error {
	unlock := c.lock()
	if c.state == protocol.StateDisconnected {
		unlock()
		return nil
	}
	cancel := c.cancel
	c.cancel = nil
	unlock()
	if cancel != nil {
		cancel()
	}

	session := c.Session()
	var errs []error
	if session != nil {
		if err := c.Transport.Clear(ctx, session.Channel); err != nil {
			errs = append(errs, fmt.Errorf("clear channel: %w", err))
		}
		if err := c.Store.Delete(ctx, session.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete session: %w", err))
		}
		metrics.SessionsClosed.Inc()
		metrics.SessionsActive.Dec()
	}
	if err := c.Transport.Disconnect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("disconnect transport: %w", err))
	}

	unlock = c.lock()
	c.session = nil
	c.state = protocol.StateDisconnected
	unlock()

	c.Emitter.Emit(event.Event{Kind: event.Disconnected})

	if len(errs) > 0 {
		return fmt.Errorf("BaseClient.disconnect: %w", errors.Join(errs...))
	}
	return nil
}
