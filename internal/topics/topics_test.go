package topics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePublic(t *testing.T) {
	assert.Equal(t, "kukuri:global", Normalize("public"))
	assert.Equal(t, "kukuri:global", Normalize("PUBLIC"))
}

func TestNormalizeAlreadyPrefixed(t *testing.T) {
	assert.Equal(t, "kukuri:foo", Normalize("kukuri:foo"))
	assert.Equal(t, "kukuri:foo", Normalize("KUKURI:FOO"))
}

func TestNormalizeHashesFreeText(t *testing.T) {
	id := Normalize("some-community")
	assert.True(t, len(id) > len("kukuri:"))
	assert.Equal(t, id, Normalize("some-community"))
}

func TestNormalizeAllDedupesPreservingOrder(t *testing.T) {
	out := NormalizeAll([]string{"public", "kukuri:foo", "public", "kukuri:bar"})
	assert.Equal(t, []string{"kukuri:global", "kukuri:foo", "kukuri:bar"}, out)
}
