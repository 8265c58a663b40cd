// Package envelope implements the plaintext-envelope codec shared by
// BaseClient and the connection handlers: wrapping a ProtocolMessage,
// sealing it for a recipient public key, and opening a received
// ciphertext (§4.4, §6).
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wallet-connect-x/walletrelay/internal/metrics"
	"github.com/wallet-connect-x/walletrelay/pkg/keymanager"
	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
)

// Wrap builds a fresh PlaintextEnvelope around payload.
func Wrap(payload protocol.ProtocolMessage) protocol.PlaintextEnvelope {
	return protocol.PlaintextEnvelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// Seal serializes payload as a PlaintextEnvelope and hybrid-ECIES encrypts
// it to theirPublicKey, returning the base64 ciphertext ready to carry in
// an EncryptedEnvelope.
func Seal(km *keymanager.KeyManager, payload protocol.ProtocolMessage, theirPublicKey []byte) (string, error) {
	plain := Wrap(payload)
	data, err := json.Marshal(plain)
	if err != nil {
		return "", fmt.Errorf("envelope: marshal plaintext: %w", err)
	}
	metrics.MessageSize.Observe(float64(len(data)))

	ciphertext, err := km.Encrypt(data, theirPublicKey)
	if err != nil {
		return "", err
	}
	return ciphertext, nil
}

// Open decrypts ciphertextB64 with myPrivateKey and parses the resulting
// PlaintextEnvelope.
func Open(km *keymanager.KeyManager, ciphertextB64 string, myPrivateKey []byte) (protocol.PlaintextEnvelope, error) {
	start := time.Now()
	defer func() { metrics.MessageProcessingDuration.Observe(time.Since(start).Seconds()) }()

	plaintext, err := km.Decrypt(ciphertextB64, myPrivateKey)
	if err != nil {
		return protocol.PlaintextEnvelope{}, err
	}
	var env protocol.PlaintextEnvelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return protocol.PlaintextEnvelope{}, fmt.Errorf("envelope: unmarshal plaintext: %w", err)
	}
	return env, nil
}
