package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-connect-x/walletrelay/internal/logger"
	"github.com/wallet-connect-x/walletrelay/pkg/event"
	"github.com/wallet-connect-x/walletrelay/pkg/keymanager"
	kvmemory "github.com/wallet-connect-x/walletrelay/pkg/kvstore/memory"
	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
	"github.com/wallet-connect-x/walletrelay/pkg/transport/memory"
)

func newDeps(t *testing.T, bus *memory.Bus) Deps {
	t.Helper()
	ctx := context.Background()
	rl, err := memory.New(ctx, kvmemory.New(), bus)
	require.NoError(t, err)
	return Deps{Transport: rl, KeyManager: keymanager.New(), Log: logger.NewDefaultLogger()}
}

func TestUntrustedHandshakeEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := memory.NewBus()
	dappDeps := newDeps(t, bus)
	walletDeps := newDeps(t, bus)

	var wg sync.WaitGroup
	wg.Add(2)

	var dappResult, walletResult Result
	var dappErr, walletErr error

	var sessionRequest protocol.SessionRequest
	reqReady := make(chan struct{})
	submitCh := make(chan func(string), 1)
	otpCh := make(chan string, 1)

	go func() {
		defer wg.Done()
		dappResult, dappErr = DappConnect(ctx, dappDeps, protocol.ModeUntrusted, func(ev event.Event) {
			switch ev.Kind {
			case event.SessionOffer:
				sessionRequest = *ev.SessionRequest
				close(reqReady)
			case event.OTPRequired:
				submitCh <- ev.Submit
			}
		})
	}()

	<-reqReady

	go func() {
		defer wg.Done()
		walletResult, walletErr = WalletConnect(ctx, walletDeps, sessionRequest, func(ev event.Event) {
			if ev.Kind == event.DisplayOTP {
				otpCh <- ev.OTP
			}
		})
	}()

	// Bridge the wallet's displayed OTP to the dApp's pending submit, the
	// way a human reading the wallet screen would type it into the dApp.
	go func() {
		submit := <-submitCh
		otp := <-otpCh
		submit(otp)
	}()

	wg.Wait()

	require.NoError(t, dappErr)
	require.NoError(t, walletErr)
	assert.Equal(t, walletResult.Session.ID, dappResult.Session.ID)
	assert.Equal(t, walletResult.Session.KeyPair.PublicKey, dappResult.Session.TheirPublicKey)
	assert.Equal(t, dappResult.Session.KeyPair.PublicKey, walletResult.Session.TheirPublicKey)
}

func TestTrustedHandshakeEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := memory.NewBus()
	dappDeps := newDeps(t, bus)
	walletDeps := newDeps(t, bus)

	var wg sync.WaitGroup
	wg.Add(2)

	var dappResult, walletResult Result
	var dappErr, walletErr error

	var sessionRequest protocol.SessionRequest
	reqReady := make(chan struct{})

	go func() {
		defer wg.Done()
		dappResult, dappErr = DappConnect(ctx, dappDeps, protocol.ModeTrusted, func(ev event.Event) {
			if ev.Kind == event.SessionOffer {
				sessionRequest = *ev.SessionRequest
				close(reqReady)
			}
		})
	}()

	<-reqReady

	go func() {
		defer wg.Done()
		walletResult, walletErr = WalletConnect(ctx, walletDeps, sessionRequest, func(event.Event) {})
	}()

	wg.Wait()

	require.NoError(t, dappErr)
	require.NoError(t, walletErr)
	assert.Equal(t, walletResult.Session.ID, dappResult.Session.ID)
}

func TestWalletConnectRejectsExpiredRequest(t *testing.T) {
	bus := memory.NewBus()
	deps := newDeps(t, bus)

	req := protocol.SessionRequest{
		ID:           "sess-x",
		Channel:      protocol.HandshakeChannel("sess-x"),
		PublicKeyB64: "",
		Mode:         protocol.ModeTrusted,
		ExpiresAt:    time.Now().Add(-time.Minute),
	}

	_, err := WalletConnect(context.Background(), deps, req, func(event.Event) {})
	assert.Error(t, err)
}

func TestDappConnectTimesOutWaitingForOffer(t *testing.T) {
	bus := memory.NewBus()
	deps := newDeps(t, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := DappConnect(ctx, deps, protocol.ModeUntrusted, func(event.Event) {})
	assert.Error(t, err)
}

func TestGenerateOTPIsSixDigits(t *testing.T) {
	for i := 0; i < 20; i++ {
		otp, err := generateOTP()
		require.NoError(t, err)
		assert.Len(t, otp, 6)
	}
}
