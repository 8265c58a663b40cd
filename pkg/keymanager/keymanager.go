// Package keymanager generates secp256k1 key pairs and performs the
// protocol's hybrid ECIES-style encryption between peer public keys.
package keymanager

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/wallet-connect-x/walletrelay/internal/metrics"
	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
	"github.com/wallet-connect-x/walletrelay/pkg/protocolerr"
)

// hkdfInfo binds derived keys to this protocol and version, preventing
// cross-protocol key reuse if the same secp256k1 key pair is ever shared.
const hkdfInfo = "sage-wallet-connect/v1"

const (
	pubKeyLen  = 33
	privKeyLen = 32
	nonceLen   = chacha20poly1305.NonceSize
)

// KeyManager generates secp256k1 key pairs and performs hybrid ECIES-style
// encryption/decryption between peer public keys.
type KeyManager struct{}

// New returns a KeyManager. It is stateless and safe for concurrent use.
func New() *KeyManager {
	return &KeyManager{}
}

// GenerateKeyPair returns a fresh secp256k1 key pair.
func (m *KeyManager) GenerateKeyPair() (protocol.KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return protocol.KeyPair{}, protocolerr.Wrap(protocolerr.InvalidKey, "KeyManager.generateKeyPair", err)
	}
	return protocol.KeyPair{
		PrivateKey: priv.Serialize(),
		PublicKey:  priv.PubKey().SerializeCompressed(),
	}, nil
}

// ValidatePeerKey fails with INVALID_KEY if pub is not a well-formed,
// on-curve compressed secp256k1 public key.
func (m *KeyManager) ValidatePeerKey(pub []byte) error {
	if len(pub) != pubKeyLen {
		return protocolerr.New(protocolerr.InvalidKey, "KeyManager.validatePeerKey")
	}
	if pub[0] != 0x02 && pub[0] != 0x03 {
		return protocolerr.New(protocolerr.InvalidKey, "KeyManager.validatePeerKey")
	}
	if _, err := secp256k1.ParsePubKey(pub); err != nil {
		return protocolerr.Wrap(protocolerr.InvalidKey, "KeyManager.validatePeerKey", err)
	}
	return nil
}

// Encrypt performs hybrid ECIES-style encryption of plaintext to
// theirPublicKey, returning the base64-encoded wire ciphertext:
// base64(ephemeralPubKey(33) || nonce(12) || ciphertext+tag).
func (m *KeyManager) Encrypt(plaintext []byte, theirPublicKey []byte) (string, error) {
	start := time.Now()
	if err := m.ValidatePeerKey(theirPublicKey); err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		return "", err
	}

	theirPub, err := secp256k1.ParsePubKey(theirPublicKey)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		return "", protocolerr.Wrap(protocolerr.InvalidKey, "KeyManager.encrypt", err)
	}

	ephemeral, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		return "", protocolerr.Wrap(protocolerr.DecryptionFailed, "KeyManager.encrypt", err)
	}
	ephemeralPub := ephemeral.PubKey().SerializeCompressed()

	shared := ecdh(ephemeral, theirPub)
	key, err := deriveKey(shared, ephemeralPub, theirPublicKey)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		return "", protocolerr.Wrap(protocolerr.DecryptionFailed, "KeyManager.encrypt", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		return "", protocolerr.Wrap(protocolerr.DecryptionFailed, "KeyManager.encrypt", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		return "", protocolerr.Wrap(protocolerr.DecryptionFailed, "KeyManager.encrypt", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	wire := make([]byte, 0, pubKeyLen+nonceLen+len(ciphertext))
	wire = append(wire, ephemeralPub...)
	wire = append(wire, nonce...)
	wire = append(wire, ciphertext...)

	metrics.CryptoOperations.WithLabelValues("encrypt", "secp256k1").Inc()
	metrics.CryptoOperationDuration.WithLabelValues("encrypt", "secp256k1").Observe(time.Since(start).Seconds())
	return base64.StdEncoding.EncodeToString(wire), nil
}

// Decrypt reverses Encrypt, failing with DECRYPTION_FAILED on any integrity
// or key mismatch.
func (m *KeyManager) Decrypt(ciphertextB64 string, myPrivateKey []byte) ([]byte, error) {
	start := time.Now()
	wire, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, protocolerr.Wrap(protocolerr.DecryptionFailed, "KeyManager.decrypt", err)
	}
	if len(wire) < pubKeyLen+nonceLen {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, protocolerr.New(protocolerr.DecryptionFailed, "KeyManager.decrypt")
	}

	ephemeralPub := wire[:pubKeyLen]
	nonce := wire[pubKeyLen : pubKeyLen+nonceLen]
	ciphertext := wire[pubKeyLen+nonceLen:]

	theirEphemeral, err := secp256k1.ParsePubKey(ephemeralPub)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, protocolerr.Wrap(protocolerr.DecryptionFailed, "KeyManager.decrypt", err)
	}
	if len(myPrivateKey) != privKeyLen {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, protocolerr.New(protocolerr.DecryptionFailed, "KeyManager.decrypt")
	}
	priv := secp256k1.PrivKeyFromBytes(myPrivateKey)
	myPub := priv.PubKey().SerializeCompressed()

	shared := ecdh(priv, theirEphemeral)
	key, err := deriveKey(shared, ephemeralPub, myPub)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, protocolerr.Wrap(protocolerr.DecryptionFailed, "KeyManager.decrypt", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, protocolerr.Wrap(protocolerr.DecryptionFailed, "KeyManager.decrypt", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, protocolerr.Wrap(protocolerr.DecryptionFailed, "KeyManager.decrypt", err)
	}

	metrics.CryptoOperations.WithLabelValues("decrypt", "secp256k1").Inc()
	metrics.CryptoOperationDuration.WithLabelValues("decrypt", "secp256k1").Observe(time.Since(start).Seconds())
	return plaintext, nil
}

// Sign Keccak256-hashes message and produces an Ethereum-style recoverable
// ECDSA signature over it with myPrivateKey. Used to authenticate the
// sender identity claimed by a handshake-offer or handshake-ack, which the
// AEAD tag alone does not: anyone holding a recipient's public key can
// produce a validly-encrypted message, but only the claimed sender holds
// the private key this signature proves possession of.
func (m *KeyManager) Sign(myPrivateKey []byte, message []byte) ([]byte, error) {
	priv, err := ethcrypto.ToECDSA(myPrivateKey)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.InvalidKey, "KeyManager.sign", err)
	}
	hash := ethcrypto.Keccak256(message)
	sig, err := ethcrypto.Sign(hash, priv)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.InvalidKey, "KeyManager.sign", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid signature by the holder of
// signerPublicKey over message.
func (m *KeyManager) Verify(signerPublicKey []byte, message []byte, sig []byte) (bool, error) {
	if err := m.ValidatePeerKey(signerPublicKey); err != nil {
		return false, err
	}
	if len(sig) != 65 {
		return false, protocolerr.New(protocolerr.InvalidKey, "KeyManager.verify")
	}
	hash := ethcrypto.Keccak256(message)
	return ethcrypto.VerifySignature(signerPublicKey, hash, sig[:64]), nil
}

// ecdh computes the shared x-coordinate of priv*pub on the secp256k1 curve.
func ecdh(priv *secp256k1.PrivateKey, pub *secp256k1.PublicKey) []byte {
	var point, result secp256k1.JacobianPoint
	pub.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()
	x := result.X.Bytes()
	return x[:]
}

// deriveKey runs HKDF-SHA256 over the ECDH shared secret, salted with
// ephemeralPub||recipientPub, producing a 32-byte ChaCha20-Poly1305 key.
func deriveKey(shared, ephemeralPub, recipientPub []byte) ([]byte, error) {
	salt := make([]byte, 0, len(ephemeralPub)+len(recipientPub))
	salt = append(salt, ephemeralPub...)
	salt = append(salt, recipientPub...)

	reader := hkdf.New(sha256.New, shared, salt, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}
