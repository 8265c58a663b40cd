// Package memory is an in-process transport.Relay binding: a shared Bus
// simulates the untrusted relay (per-channel history + live fan-out) so
// tests and single-process demos never need a real relay server.
package memory

import (
	"sync"

	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
)

// Bus is a shared in-process relay. Multiple Relay clients pointed at the
// same Bus can reach each other exactly as they would through a real relay.
type Bus struct {
	mu      sync.Mutex
	history map[string][]protocol.EncryptedEnvelope
	subs    map[string]map[int]chan protocol.EncryptedEnvelope
	nextID  int
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{
		history: make(map[string][]protocol.EncryptedEnvelope),
		subs:    make(map[string]map[int]chan protocol.EncryptedEnvelope),
	}
}

func (b *Bus) publish(channel string, env protocol.EncryptedEnvelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history[channel] = append(b.history[channel], env)

	for _, ch := range b.subs[channel] {
		select {
		case ch <- env:
		default:
			// Slow subscriber; at-least-once delivery from the relay's
			// perspective does not guarantee every live fan-out lands, only
			// that history replay on resubscribe will recover it.
		}
	}
}

// subscribe registers a new subscription and returns a copy of the
// channel's current history plus the live-delivery channel and an id to
// unsubscribe with later.
func (b *Bus) subscribe(channel string) (id int, history []protocol.EncryptedEnvelope, live chan protocol.EncryptedEnvelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	history = make([]protocol.EncryptedEnvelope, len(b.history[channel]))
	copy(history, b.history[channel])

	live = make(chan protocol.EncryptedEnvelope, 64)
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]chan protocol.EncryptedEnvelope)
	}
	b.nextID++
	id = b.nextID
	b.subs[channel][id] = live
	return id, history, live
}

func (b *Bus) unsubscribe(channel string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subs[channel]; ok {
		if ch, ok := subs[id]; ok {
			close(ch)
			delete(subs, id)
		}
	}
}

// clear wipes the channel's history and drops every subscriber.
func (b *Bus) clear(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[channel] {
		close(ch)
	}
	delete(b.subs, channel)
	delete(b.history, channel)
}
