// Package dappclient is the dApp-side entry point: it drives the
// session-request/OTP handshake (§4.5.1, §4.5.2) and then hands off to
// BaseClient for the lifetime of the session.
package dappclient

import (
	"context"

	"github.com/wallet-connect-x/walletrelay/internal/logger"
	"github.com/wallet-connect-x/walletrelay/pkg/baseclient"
	"github.com/wallet-connect-x/walletrelay/pkg/handlers"
	"github.com/wallet-connect-x/walletrelay/pkg/keymanager"
	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
	"github.com/wallet-connect-x/walletrelay/pkg/sessionstore"
	"github.com/wallet-connect-x/walletrelay/pkg/transport"
)

// Client is the dApp-facing handle: embeds BaseClient for Resume, Disconnect,
// SendMessage, State, Session, and the Emitter, and adds Connect to drive a
// fresh handshake.
type Client struct {
	*baseclient.BaseClient
	deps handlers.Deps
}

// New wires a dApp client over rl/store/km, logging through log. Handshake
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

// Connect runs the dApp handshake for mode (default ModeUntrusted if the
// zero value is passed) and activates the resulting session. On handler
// failure it tears down any partial state via Disconnect and returns the
// handler's typed error.
func (c *Client) Connect(ctx context.Context, mode protocol.ConnectionMode) error {
	if mode == "" {
		mode = protocol.ModeUntrusted
	}

	if err := c.BeginConnecting(); err != nil {
		return err
	}

	result, err := handlers.DappConnect(ctx, c.deps, mode, c.Emitter.Emit)
	if err != nil {
		_ = c.Disconnect(ctx)
		return err
	}

	return c.Activate(ctx, result.Session, result.Inbox)
}
