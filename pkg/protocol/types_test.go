package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionExpired(t *testing.T) {
	s := &Session{ExpiresAt: time.Now().Add(-time.Minute)}
	assert.True(t, s.Expired(time.Now()))

	s2 := &Session{ExpiresAt: time.Now().Add(time.Minute)}
	assert.False(t, s2.Expired(time.Now()))
}

func TestSessionRequestExpired(t *testing.T) {
	r := &SessionRequest{ExpiresAt: time.Now().Add(-time.Second)}
	assert.True(t, r.Expired(time.Now()))
}

func TestChannelNaming(t *testing.T) {
	assert.Equal(t, "handshake:abc", HandshakeChannel("abc"))
	assert.Equal(t, "session:abc", SecureChannel("abc"))
}

func TestProtocolMessageConstructors(t *testing.T) {
	deadline := time.Now().Add(time.Minute)
	offer := NewHandshakeOffer("pubkey", "chan-id", "123456", &deadline)
	assert.Equal(t, TagHandshakeOffer, offer.Tag)
	assert.Equal(t, "123456", offer.OTP)

	ack := NewHandshakeAck()
	assert.Equal(t, TagHandshakeAck, ack.Tag)

	msg := NewMessage([]byte(`{"method":"eth_accounts"}`))
	assert.Equal(t, TagMessage, msg.Tag)
	assert.Equal(t, []byte(`{"method":"eth_accounts"}`), msg.Payload)
}
