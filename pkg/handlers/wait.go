package handlers

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/wallet-connect-x/walletrelay/pkg/envelope"
	"github.com/wallet-connect-x/walletrelay/pkg/event"
	"github.com/wallet-connect-x/walletrelay/pkg/keymanager"
	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
	"github.com/wallet-connect-x/walletrelay/pkg/protocolerr"
)

// waitForTag drains inbox, decrypting each envelope with myPrivateKey, until
// a ProtocolMessage tagged `want` arrives or deadline passes. Envelopes that
// fail to decrypt or carry a different tag are skipped, not fatal.
func waitForTag(ctx context.Context, km *keymanager.KeyManager, myPrivateKey []byte, inbox <-chan protocol.EncryptedEnvelope, want protocol.MessageTag, deadline time.Time, onTimeout protocolerr.Kind) (protocol.ProtocolMessage, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		select {
		case env, ok := <-inbox:
			if !ok {
				return protocol.ProtocolMessage{}, protocolerr.Wrap(protocolerr.TransportError, "handlers.waitForTag", fmt.Errorf("channel closed"))
			}
			plain, err := envelope.Open(km, env.Ciphertext, myPrivateKey)
			if err != nil {
				continue
			}
			if plain.Payload.Tag != want {
				continue
			}
			return plain.Payload, nil
		case <-timer.C:
			return protocol.ProtocolMessage{}, protocolerr.New(onTimeout, "handlers.waitForTag")
		case <-ctx.Done():
			return protocol.ProtocolMessage{}, protocolerr.Wrap(onTimeout, "handlers.waitForTag", ctx.Err())
		}
	}
}

// resolveOTP asks the application for the user-entered OTP via an
// otp_required event and compares it, constant-time, against offer.OTP.
func resolveOTP(ctx context.Context, offer protocol.ProtocolMessage, emit func(event.Event)) error {
	deadline := time.Now().Add(protocol.DefaultOTPDeadline)
	if offer.Deadline != nil {
		deadline = *offer.Deadline
	}

	entered := make(chan string, 1)
	ev := event.Event{
		Kind:     event.OTPRequired,
		Deadline: deadline,
		Submit:   func(userOTP string) { entered <- userOTP },
	}
	emit(ev)

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case userOTP := <-entered:
		if subtle.ConstantTimeCompare([]byte(userOTP), []byte(offer.OTP)) != 1 {
			return protocolerr.New(protocolerr.OTPMismatch, "handlers.resolveOTP")
		}
		return nil
	case <-timer.C:
		return protocolerr.New(protocolerr.OTPEntryTimeout, "handlers.resolveOTP")
	case <-ctx.Done():
		return protocolerr.Wrap(protocolerr.OTPEntryTimeout, "handlers.resolveOTP", ctx.Err())
	}
}

// generateOTP samples a 6-digit decimal OTP uniformly from 100000-999999.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("handlers.generateOTP: %w", err)
	}
	return strconv.FormatInt(n.Int64()+100000, 10), nil
}
