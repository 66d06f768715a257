package wsintake

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseClientFrameAcceptsEventEnvelope(t *testing.T) {
	frame, ok := parseClientFrame([]byte(`["EVENT", {"id":"abc"}]`))
	assert.True(t, ok)
	assert.Equal(t, "abc", eventIDOf(frame.Event))
}

func TestParseClientFrameRejectsOtherLabels(t *testing.T) {
	_, ok := parseClientFrame([]byte(`["REQ", "sub1", {}]`))
	assert.False(t, ok)
}

func TestParseClientFrameRejectsMalformed(t *testing.T) {
	_, ok := parseClientFrame([]byte(`not json`))
	assert.False(t, ok)
	_, ok = parseClientFrame([]byte(`["EVENT"]`))
	assert.False(t, ok)
}
