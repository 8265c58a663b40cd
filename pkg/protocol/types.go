// Package protocol defines the wire and persistence-level domain types
// shared by every component of the wallet connection protocol: key pairs,
// sessions, the handshake descriptor, the message envelopes, and the sum
// types for connection mode and client state.
package protocol

import (
	"encoding/json"
	"time"
)

// KeyPair is a peer's secp256k1 key pair for one session.
type KeyPair struct {
	PrivateKey []byte `json:"privateKey"` // 32 bytes
	PublicKey  []byte `json:"publicKey"`  // 33 bytes, compressed
}

// ConnectionMode selects which pair of handshake handlers a connect() call
// dispatches to.
type ConnectionMode string

const (
	ModeTrusted   ConnectionMode = "trusted"
	ModeUntrusted ConnectionMode = "untrusted"
)

// ClientState is BaseClient's lifecycle state.
type ClientState string

const (
	StateDisconnected ClientState = "DISCONNECTED"
	StateConnecting   ClientState = "CONNECTING"
	StateConnected    ClientState = "CONNECTED"
)

// Session is the durable record of an established secure channel.
type Session struct {
	ID             string    `json:"id"`
	Channel        string    `json:"channel"`
	KeyPair        KeyPair   `json:"keyPair"`
	TheirPublicKey []byte    `json:"theirPublicKey"` // 33 bytes, compressed
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its deadline as of now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// DefaultSessionTTL is the default Session lifetime (§3).
const DefaultSessionTTL = 30 * 24 * time.Hour

// DefaultRequestTTL is the default SessionRequest lifetime (§3).
const DefaultRequestTTL = 5 * time.Minute

// DefaultOTPDeadline is the default window to enter/ack an OTP (§4.5.3).
const DefaultOTPDeadline = 60 * time.Second

// SessionRequest is the ephemeral descriptor a dApp advertises out-of-band
// (e.g. via QR code) to invite a wallet to establish a session.
type SessionRequest struct {
	ID             string         `json:"id"`
	Channel        string         `json:"channel"`
	PublicKeyB64   string         `json:"publicKeyB64"`
	Mode           ConnectionMode `json:"mode"`
	ExpiresAt      time.Time      `json:"expiresAt"`
	InitialMessage []byte         `json:"initialMessage,omitempty"`
}

// Expired reports whether the request is past its deadline as of now.
func (r *SessionRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// MessageTag discriminates the ProtocolMessage sum type.
type MessageTag string

const (
	TagHandshakeOffer MessageTag = "handshake-offer"
	TagHandshakeAck   MessageTag = "handshake-ack"
	TagMessage        MessageTag = "message"
)

// ProtocolMessage is the pre-encryption payload: a tagged union of
// handshake-offer, handshake-ack, and message.
type ProtocolMessage struct {
	Tag MessageTag `json:"tag"`

	// handshake-offer fields
	PublicKeyB64 string     `json:"publicKeyB64,omitempty"`
	ChannelID    string     `json:"channelId,omitempty"`
	OTP          string     `json:"otp,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`

	// message field
	Payload []byte `json:"payload,omitempty"`

	// Signature authenticates handshake-offer and handshake-ack senders:
	// an Ethereum-style ECDSA signature over the message's signable bytes,
	// verified against the sender's claimed public key (§4.2, §4.5).
	Signature []byte `json:"signature,omitempty"`
}

// Signable returns the canonical bytes a handshake message's Signature
// covers: every field except Signature itself.
func (m ProtocolMessage) Signable() []byte {
	unsigned := m
	unsigned.Signature = nil
	data, _ := json.Marshal(unsigned)
	return data
}

// NewHandshakeOffer builds a handshake-offer ProtocolMessage.
func NewHandshakeOffer(publicKeyB64, channelID, otp string, deadline *time.Time) ProtocolMessage {
	return ProtocolMessage{
		Tag:          TagHandshakeOffer,
		PublicKeyB64: publicKeyB64,
		ChannelID:    channelID,
		OTP:          otp,
		Deadline:     deadline,
	}
}

// NewHandshakeAck builds a handshake-ack ProtocolMessage.
func NewHandshakeAck() ProtocolMessage {
	return ProtocolMessage{Tag: TagHandshakeAck}
}

// NewMessage builds a message ProtocolMessage carrying an opaque payload.
func NewMessage(payload []byte) ProtocolMessage {
	return ProtocolMessage{Tag: TagMessage, Payload: payload}
}

// PlaintextEnvelope is the structure encrypted inside an EncryptedEnvelope's
// ciphertext.
type PlaintextEnvelope struct {
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // epoch-ms
	Payload   ProtocolMessage `json:"payload"`
}

// EncryptedEnvelope is the on-the-wire relay payload.
type EncryptedEnvelope struct {
	From       string `json:"from"`
	To         string `json:"to,omitempty"`
	Nonce      uint64 `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// HandshakeChannel returns the one-shot handshake channel name for a
// session id.
func HandshakeChannel(sessionID string) string {
	return "handshake:" + sessionID
}

// SecureChannel returns the durable secure channel name for a channel uuid.
func SecureChannel(channelID string) string {
	return "session:" + channelID
}
