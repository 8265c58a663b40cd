// Package transport is the pub/sub adapter above a relay connection: it
// owns per-(client,channel) replay protection, persistent outbound nonce
// counters, and reconnect-with-backoff (§4.1).
package transport

import (
	"context"

	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
)

// Relay is the pub/sub transport every client composes. Implementations
// are responsible for history replay on Subscribe and reconnecting
// transparently on disconnection.
type Relay interface {
	// Connect is idempotent: it establishes the underlying relay connection
	// and returns once ready, retrying within a bounded backoff budget.
	Connect(ctx context.Context) error

	// Subscribe begins receiving messages on channel. The returned channel
	// first yields the channel's replayed history, in order, then live
	// messages; it is closed on Disconnect or Clear(channel).
	Subscribe(ctx context.Context, channel string) (<-chan protocol.EncryptedEnvelope, error)

	// Publish stamps envelope with from=clientId and a fresh persistent
	// nonce, then publishes it to channel.
	Publish(ctx context.Context, channel string, env protocol.EncryptedEnvelope) error

	// Clear unsubscribes from channel and wipes its replay state.
	Clear(ctx context.Context, channel string) error

	// Disconnect tears down the relay connection without destroying
	// persisted counters.
	Disconnect(ctx context.Context) error

	// ClientID returns this endpoint's stable identifier.
	ClientID() string
}
