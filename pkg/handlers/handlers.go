// Package handlers implements the four connection-handshake state machines
// (dApp/wallet x trusted/untrusted) that bring a BaseClient from CONNECTING
// to an established, persisted Session (§4.5).
package handlers

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wallet-connect-x/walletrelay/internal/logger"
	"github.com/wallet-connect-x/walletrelay/internal/metrics"
	"github.com/wallet-connect-x/walletrelay/pkg/envelope"
	"github.com/wallet-connect-x/walletrelay/pkg/event"
	"github.com/wallet-connect-x/walletrelay/pkg/keymanager"
	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
	"github.com/wallet-connect-x/walletrelay/pkg/protocolerr"
	"github.com/wallet-connect-x/walletrelay/pkg/transport"
)

// Timing controls the handshake's configurable deadlines, driven by
// config.HandshakeConfig/config.SessionConfig. The zero value falls back
// to the protocol package's defaults.
type Timing struct {
	RequestTTL  time.Duration
	OTPDeadline time.Duration
	SessionTTL  time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.RequestTTL == 0 {
		t.RequestTTL = protocol.DefaultRequestTTL
	}
	if t.OTPDeadline == 0 {
		t.OTPDeadline = protocol.DefaultOTPDeadline
	}
	if t.SessionTTL == 0 {
		t.SessionTTL = protocol.DefaultSessionTTL
	}
	return t
}

// Deps bundles what every handler needs; DappClient and WalletClient share
// one Deps value across reconnects.
type Deps struct {
	Transport  transport.Relay
	KeyManager *keymanager.KeyManager
	Log        logger.Logger
	Timing     Timing
}

// Result is what a handler hands back to the caller on success: the
// established session, its live secure-channel subscription (so BaseClient
// can adopt it without re-subscribing), and an optional message the wallet
// flow must deliver to the application only after `connected` fires.
type Result struct {
	Session        *protocol.Session
	Inbox          <-chan protocol.EncryptedEnvelope
	InitialMessage []byte
}

// DappConnect runs the dApp side of the handshake (§4.5.1, §4.5.2): it mints
// a SessionRequest, hands it to emit for out-of-band conveyance (e.g. QR
// rendering), waits for the wallet's handshake-offer, resolves OTP entry
// when mode is untrusted, and completes by sending the handshake-ack.
func DappConnect(ctx context.Context, deps Deps, mode protocol.ConnectionMode, emit func(event.Event)) (Result, error) {
	start := time.Now()
	timing := deps.Timing.withDefaults()
	metrics.HandshakesInitiated.WithLabelValues("dapp").Inc()

	kp, err := deps.KeyManager.GenerateKeyPair()
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("invalid_key").Inc()
		return Result{}, err
	}

	sessionID := uuid.NewString()
	handshakeChannel := protocol.HandshakeChannel(sessionID)
	req := protocol.SessionRequest{
		ID:           sessionID,
		Channel:      handshakeChannel,
		PublicKeyB64: base64.StdEncoding.EncodeToString(kp.PublicKey),
		Mode:         mode,
		ExpiresAt:    time.Now().Add(timing.RequestTTL),
	}
	emit(event.Event{Kind: event.SessionOffer, SessionRequest: &req})

	if err := deps.Transport.Connect(ctx); err != nil {
		metrics.HandshakesFailed.WithLabelValues("transport_error").Inc()
		return Result{}, protocolerr.Wrap(protocolerr.TransportError, "dappConnect", err)
	}
	handshakeInbox, err := deps.Transport.Subscribe(ctx, handshakeChannel)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("transport_error").Inc()
		return Result{}, protocolerr.Wrap(protocolerr.TransportError, "dappConnect", err)
	}

	offer, err := waitForTag(ctx, deps.KeyManager, kp.PrivateKey, handshakeInbox, protocol.TagHandshakeOffer, req.ExpiresAt, protocolerr.RequestExpired)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("request_expired").Inc()
		return Result{}, err
	}
	metrics.HandshakeDuration.WithLabelValues("session_request").Observe(time.Since(start).Seconds())

	theirPub, err := base64.StdEncoding.DecodeString(offer.PublicKeyB64)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("invalid_key").Inc()
		return Result{}, protocolerr.Wrap(protocolerr.InvalidKey, "dappConnect", err)
	}
	if err := deps.KeyManager.ValidatePeerKey(theirPub); err != nil {
		metrics.HandshakesFailed.WithLabelValues("invalid_key").Inc()
		return Result{}, err
	}

	if ok, err := deps.KeyManager.Verify(theirPub, offer.Signable(), offer.Signature); err != nil || !ok {
		metrics.HandshakesFailed.WithLabelValues("invalid_key").Inc()
		return Result{}, protocolerr.New(protocolerr.InvalidKey, "dappConnect: unsigned or forged handshake-offer")
	}

	if mode == protocol.ModeUntrusted {
		if err := resolveOTP(ctx, offer, emit); err != nil {
			reason := "otp_entry_timeout"
			if protocolerr.Is(err, protocolerr.OTPMismatch) {
				reason = "otp_mismatch"
			}
			metrics.HandshakesFailed.WithLabelValues(reason).Inc()
			return Result{}, err
		}
	}
	metrics.HandshakeDuration.WithLabelValues("otp_verify").Observe(time.Since(start).Seconds())

	session := &protocol.Session{
		ID:             sessionID,
		Channel:        protocol.SecureChannel(offer.ChannelID),
		KeyPair:        kp,
		TheirPublicKey: theirPub,
		ExpiresAt:      time.Now().Add(timing.SessionTTL),
	}

	secureInbox, err := deps.Transport.Subscribe(ctx, session.Channel)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("transport_error").Inc()
		return Result{}, protocolerr.Wrap(protocolerr.TransportError, "dappConnect", err)
	}

	ackMsg := protocol.NewHandshakeAck()
	sig, err := deps.KeyManager.Sign(kp.PrivateKey, ackMsg.Signable())
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("invalid_key").Inc()
		return Result{}, err
	}
	ackMsg.Signature = sig

	ack, err := envelope.Seal(deps.KeyManager, ackMsg, theirPub)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("invalid_key").Inc()
		return Result{}, err
	}
	if err := deps.Transport.Publish(ctx, session.Channel, protocol.EncryptedEnvelope{Ciphertext: ack}); err != nil {
		metrics.HandshakesFailed.WithLabelValues("transport_error").Inc()
		return Result{}, protocolerr.Wrap(protocolerr.TransportError, "dappConnect", err)
	}

	if err := deps.Transport.Clear(ctx, handshakeChannel); err != nil {
		deps.Log.Warn("dappConnect: failed clearing handshake channel", logger.Error(err))
	}

	metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	metrics.HandshakeDuration.WithLabelValues("session_response").Observe(time.Since(start).Seconds())
	return Result{Session: session, Inbox: secureInbox}, nil
}

// WalletConnect runs the wallet side of the handshake (§4.5.3, §4.5.4): it
// validates the dApp's SessionRequest, builds the session, publishes the
// handshake-offer (with an OTP challenge when untrusted), and either waits
// for the ack or completes immediately for trusted mode.
func WalletConnect(ctx context.Context, deps Deps, req protocol.SessionRequest, emit func(event.Event)) (Result, error) {
	start := time.Now()
	timing := deps.Timing.withDefaults()
	metrics.HandshakesInitiated.WithLabelValues("wallet").Inc()

	if req.Expired(time.Now()) {
		metrics.HandshakesFailed.WithLabelValues("request_expired").Inc()
		return Result{}, protocolerr.New(protocolerr.RequestExpired, "walletConnect")
	}

	dappPub, err := base64.StdEncoding.DecodeString(req.PublicKeyB64)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("invalid_key").Inc()
		return Result{}, protocolerr.Wrap(protocolerr.InvalidKey, "walletConnect", err)
	}
	if err := deps.KeyManager.ValidatePeerKey(dappPub); err != nil {
		metrics.HandshakesFailed.WithLabelValues("invalid_key").Inc()
		return Result{}, err
	}

	kp, err := deps.KeyManager.GenerateKeyPair()
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("invalid_key").Inc()
		return Result{}, err
	}

	channelID := uuid.NewString()
	session := &protocol.Session{
		ID:             req.ID,
		Channel:        protocol.SecureChannel(channelID),
		KeyPair:        kp,
		TheirPublicKey: dappPub,
		ExpiresAt:      time.Now().Add(timing.SessionTTL),
	}

	if err := deps.Transport.Connect(ctx); err != nil {
		metrics.HandshakesFailed.WithLabelValues("transport_error").Inc()
		return Result{}, protocolerr.Wrap(protocolerr.TransportError, "walletConnect", err)
	}
	if _, err := deps.Transport.Subscribe(ctx, req.Channel); err != nil {
		metrics.HandshakesFailed.WithLabelValues("transport_error").Inc()
		return Result{}, protocolerr.Wrap(protocolerr.TransportError, "walletConnect", err)
	}
	secureInbox, err := deps.Transport.Subscribe(ctx, session.Channel)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("transport_error").Inc()
		return Result{}, protocolerr.Wrap(protocolerr.TransportError, "walletConnect", err)
	}

	var otp string
	var deadline *time.Time
	if req.Mode == protocol.ModeUntrusted {
		otp, err = generateOTP()
		if err != nil {
			metrics.HandshakesFailed.WithLabelValues("invalid_key").Inc()
			return Result{}, fmt.Errorf("walletConnect: generate otp: %w", err)
		}
		d := time.Now().Add(timing.OTPDeadline)
		deadline = &d
		emit(event.Event{Kind: event.DisplayOTP, OTP: otp, Deadline: d})
	}

	offer := protocol.NewHandshakeOffer(base64.StdEncoding.EncodeToString(kp.PublicKey), channelID, otp, deadline)
	offerSig, err := deps.KeyManager.Sign(kp.PrivateKey, offer.Signable())
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("invalid_key").Inc()
		return Result{}, err
	}
	offer.Signature = offerSig

	ciphertext, err := envelope.Seal(deps.KeyManager, offer, dappPub)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("invalid_key").Inc()
		return Result{}, err
	}
	if err := deps.Transport.Publish(ctx, req.Channel, protocol.EncryptedEnvelope{Ciphertext: ciphertext}); err != nil {
		metrics.HandshakesFailed.WithLabelValues("transport_error").Inc()
		return Result{}, protocolerr.Wrap(protocolerr.TransportError, "walletConnect", err)
	}
	metrics.HandshakeDuration.WithLabelValues("session_request").Observe(time.Since(start).Seconds())

	if req.Mode == protocol.ModeUntrusted {
		ackDeadline := *deadline
		ack, err := waitForTag(ctx, deps.KeyManager, kp.PrivateKey, secureInbox, protocol.TagHandshakeAck, ackDeadline, protocolerr.OTPEntryTimeout)
		if err != nil {
			metrics.HandshakesFailed.WithLabelValues("otp_entry_timeout").Inc()
			return Result{}, err
		}
		if ok, err := deps.KeyManager.Verify(dappPub, ack.Signable(), ack.Signature); err != nil || !ok {
			metrics.HandshakesFailed.WithLabelValues("invalid_key").Inc()
			return Result{}, protocolerr.New(protocolerr.InvalidKey, "walletConnect: unsigned or forged handshake-ack")
		}
	}

	if err := deps.Transport.Clear(ctx, req.Channel); err != nil {
		deps.Log.Warn("walletConnect: failed clearing handshake channel", logger.Error(err))
	}

	metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	metrics.HandshakeDuration.WithLabelValues("session_response").Observe(time.Since(start).Seconds())
	return Result{Session: session, Inbox: secureInbox, InitialMessage: req.InitialMessage}, nil
}
