// Package event defines the tagged event sum type BaseClient and the
// connection handlers use to talk to the hosting application (§9's
// "HandlerContext" design note chooses a tagged union over a
// string-keyed emitter).
package event

import (
	"sync"
	"time"

	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
)

// Kind discriminates Event.
type Kind string

const (
	Connected    Kind = "connected"
	Disconnected Kind = "disconnected"
	Message      Kind = "message"
	Error        Kind = "error"
	SessionOffer Kind = "session_request" // dApp: a SessionRequest is ready to convey out-of-band
	DisplayOTP   Kind = "display_otp"     // wallet: show the generated OTP to the user
	OTPRequired  Kind = "otp_required"    // dApp: ask the user to type the wallet's OTP
)

// Event is the single payload shape emitted for every Kind; only the
// fields relevant to that Kind are populated.
type Event struct {
	Kind Kind

	Session        *protocol.Session
	SessionRequest *protocol.SessionRequest
	Payload        protocol.ProtocolMessage
	Err            error

	OTP      string // DisplayOTP only
	Deadline time.Time
	// Submit delivers the user-entered OTP to a blocked OTPRequired wait.
	// Nil for every Kind except OTPRequired.
	Submit func(userOTP string)
}

// Listener receives emitted events. Panics inside a Listener are not
// recovered; callers should not panic.
type Listener func(Event)

// Emitter is a minimal multi-listener pub/sub used by BaseClient to expose
// `emit`/`on`/`off` without a generic string-keyed event-emitter mixin.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[Kind][]Listener
}

// NewEmitter returns an empty Emitter.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[Kind][]Listener)}
}

// On registers listener for kind and returns a function that removes it.
func (e *Emitter) On(kind Kind, listener Listener) (off func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners[kind] = append(e.listeners[kind], listener)
	idx := len(e.listeners[kind]) - 1

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		ls := e.listeners[kind]
		if idx < len(ls) {
			ls[idx] = nil
		}
	}
}

// Emit synchronously calls every listener registered for ev.Kind.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	ls := append([]Listener{}, e.listeners[ev.Kind]...)
	e.mu.RUnlock()

	for _, l := range ls {
		if l != nil {
			l(ev)
		}
	}
}
