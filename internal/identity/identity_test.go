package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

func TestGenerateAndSignVerifies(t *testing.T) {
	node, err := Generate()
	require.NoError(t, err)

	msg := sha256.Sum256([]byte("label-event"))
	sigHex, err := node.Sign(msg[:])
	require.NoError(t, err)

	pubBytes, err := hex.DecodeString(node.Pubkey())
	require.NoError(t, err)
	pub, err := schnorr.ParsePubKey(pubBytes)
	require.NoError(t, err)

	sigBytes, err := hex.DecodeString(sigHex)
	require.NoError(t, err)
	sig, err := schnorr.ParseSignature(sigBytes)
	require.NoError(t, err)

	assert.True(t, sig.Verify(msg[:], pub))
}

func TestFromHexRoundTrip(t *testing.T) {
	gen, err := Generate()
	require.NoError(t, err)

	node, err := FromHex(hex.EncodeToString(mustPrivBytes(t, gen)))
	require.NoError(t, err)
	assert.Equal(t, gen.Pubkey(), node.Pubkey())
}

func mustPrivBytes(t *testing.T, n *Node) []byte {
	t.Helper()
	return n.priv.Serialize()
}
