package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAllowsWithinLimit(t *testing.T) {
	l := New()
	for i := 0; i < 3; i++ {
		d := l.Check("peer-1", 3, time.Minute)
		assert.True(t, d.Allowed)
	}
	d := l.Check("peer-1", 3, time.Minute)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestCheckIsolatesByKey(t *testing.T) {
	l := New()
	l.Check("a", 1, time.Minute)
	d := l.Check("b", 1, time.Minute)
	assert.True(t, d.Allowed)
}

func TestCheckNoLimitAllowsAlways(t *testing.T) {
	l := New()
	d := l.Check("a", 0, 0)
	assert.True(t, d.Allowed)
}

func TestPortAdapterSatisfiesPort(t *testing.T) {
	p := PortAdapter{New()}
	d, err := p.Check(context.Background(), "peer-1", 1, 60)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, err = p.Check(context.Background(), "peer-1", 1, 60)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}
