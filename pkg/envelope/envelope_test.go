package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-connect-x/walletrelay/pkg/keymanager"
	"github.com/wallet-connect-x/walletrelay/pkg/protocol"
)

func TestSealOpenRoundTrip(t *testing.T) {
	km := keymanager.New()
	bob, err := km.GenerateKeyPair()
	require.NoError(t, err)

	msg := protocol.NewMessage([]byte(`{"method":"eth_accounts"}`))

	sealed, err := Seal(km, msg, bob.PublicKey)
	require.NoError(t, err)

	opened, err := Open(km, sealed, bob.PrivateKey)
	require.NoError(t, err)

	assert.Equal(t, protocol.TagMessage, opened.Payload.Tag)
	assert.Equal(t, msg.Payload, opened.Payload.Payload)
	assert.NotEmpty(t, opened.ID)
	assert.NotZero(t, opened.Timestamp)
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	km := keymanager.New()
	bob, err := km.GenerateKeyPair()
	require.NoError(t, err)
	mallory, err := km.GenerateKeyPair()
	require.NoError(t, err)

	sealed, err := Seal(km, protocol.NewHandshakeAck(), bob.PublicKey)
	require.NoError(t, err)

	_, err = Open(km, sealed, mallory.PrivateKey)
	assert.Error(t, err)
}
