package nostr

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedEvent(t *testing.T, kind int, createdAt int64, tags []Tag, content string) *Event {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pub := priv.PubKey().SerializeCompressed()[1:] // x-only

	ev := &Event{
		Pubkey:    hex.EncodeToString(pub),
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	id, err := ev.ComputeID()
	require.NoError(t, err)
	ev.ID = id

	idBytes, err := hex.DecodeString(id)
	require.NoError(t, err)
	sig, err := schnorr.Sign(priv, idBytes)
	require.NoError(t, err)
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return ev
}

func TestVerifyRoundTrip(t *testing.T) {
	ev := signedEvent(t, 1, 100, []Tag{{"t", "kukuri:foo"}}, "hello")
	assert.NoError(t, ev.Verify())
}

func TestVerifyRejectsTamperedContent(t *testing.T) {
	ev := signedEvent(t, 1, 100, []Tag{{"t", "kukuri:foo"}}, "hello")
	ev.Content = "tampered"
	assert.Error(t, ev.Verify())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Replaceable, Classify(0))
	assert.Equal(t, Replaceable, Classify(3))
	assert.Equal(t, Replaceable, Classify(10500))
	assert.Equal(t, Ephemeral, Classify(20500))
	assert.Equal(t, Addressable, Classify(30500))
	assert.Equal(t, Regular, Classify(1))
}

func TestTagHelpers(t *testing.T) {
	ev := &Event{Tags: []Tag{{"d", "slug-1"}, {"t", "a"}, {"t", "b"}, {"exp", "200"}}}
	d, ok := ev.DTag()
	assert.True(t, ok)
	assert.Equal(t, "slug-1", d)
	assert.Equal(t, []string{"a", "b"}, ev.TopicIDsRaw())
	exp, ok := ev.ExpiresAt()
	assert.True(t, ok)
	assert.Equal(t, int64(200), exp)
}

func TestValidateSchemaRequiredTag(t *testing.T) {
	RegisterSchema(Schema{Kind: 39100, RequiredTags: []string{"d"}, RequireExp: true})
	ev := &Event{Kind: 39100, Tags: []Tag{{"t", "x"}}}
	err := ValidateSchema(ev, 1000)
	assert.Error(t, err)

	ev.Tags = append(ev.Tags, Tag{"d", "v"}, Tag{"exp", "2000"})
	assert.NoError(t, ValidateSchema(ev, 1000))
}
