package protocolerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	e := New(SessionNotFound, "BaseClient.resume")
	assert.Equal(t, "BaseClient.resume: SESSION_NOT_FOUND", e.Error())

	wrapped := Wrap(DecryptionFailed, "KeyManager.decrypt", errors.New("mac mismatch"))
	assert.Contains(t, wrapped.Error(), "DECRYPTION_FAILED")
	assert.Contains(t, wrapped.Error(), "mac mismatch")
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(TransportError, "Transport.connect", cause)
	assert.Equal(t, cause, errors.Unwrap(wrapped))
}

func TestIs(t *testing.T) {
	err := Wrap(OTPMismatch, "dappUntrustedHandler.run", errors.New("nope"))
	assert.True(t, Is(err, OTPMismatch))
	assert.False(t, Is(err, OTPEntryTimeout))
	assert.False(t, Is(errors.New("plain"), OTPMismatch))
}
