// Package walletclient is the wallet-side entry point: it responds to a
// dApp's SessionRequest (§4.5.3, §4.5.4) and then hands off to BaseClient
// for the lifetime of the session.
package walletclient

import (
	"context"

	"github.com/wallet-connect-x/walletrelay/internal/logger"
	"github.com/wallet-connect-x/walletrelay/pkg/baseclient"
	"github.com/wallet-connect-x/walletrelay/pkg/event"
	"github.com/wallet-connect-x/walletrelay/pkg/handlers"
	"github.com/wallet-connect-x/walletrelay/pkg/keymanager"
	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
	"github.com/wallet-connect-x/walletrelay/pkg/sessionstore"
	"github.com/wallet-connect-x/walletrelay/pkg/transport"
)

// Client is the wallet-facing handle: embeds BaseClient for Resume,
// Disconnect, SendMessage, State, Session, and the Emitter, and adds
// Connect to accept an inbound SessionRequest.
type Client struct {
	*baseclient.BaseClient
	deps handlers.Deps
}

// New wires a wallet client over rl/store/km, logging through log. Handshake
// timing falls back to the protocol package's defaults until WithTiming is
// called.
func New(rl transport.Relay, store *sessionstore.SessionStore, km *keymanager.KeyManager, log logger.Logger) *Client {
	return &Client{
		BaseClient: baseclient.New(rl, store, km, log),
		deps:       handlers.Deps{Transport: rl, KeyManager: km, Log: log},
	}
}

// WithTiming overrides the client's handshake deadlines, typically sourced
// from a loaded config.Config. It returns c for chaining.
func (c *Client) WithTiming(t handlers.Timing) *Client {
	c.deps.Timing = t
	return c
}

// Connect accepts req (typically decoded from a scanned QR code), runs the
// wallet handshake, and activates the resulting session. When req carries an
// InitialMessage, it is delivered to the application as a `message` event
// only after `connected` fires, since Activate emits `connected` before
// Connect proceeds (§5's ordering guarantee).
func (c *Client) Connect(ctx context.Context, req protocol.SessionRequest) error {
	if err := c.BeginConnecting(); err != nil {
		return err
	}

	result, err := handlers.WalletConnect(ctx, c.deps, req, c.Emitter.Emit)
	if err != nil {
		_ = c.Disconnect(ctx)
		return err
	}

	if err := c.Activate(ctx, result.Session, result.Inbox); err != nil {
		return err
	}

	if len(result.InitialMessage) > 0 {
		c.Emitter.Emit(event.Event{Kind: event.Message, Payload: protocol.NewMessage(result.InitialMessage)})
	}
	return nil
}
