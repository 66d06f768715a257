package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := DependencyUnavailableErr("search_index", cause)
	assert.ErrorIs(t, err, cause)
	assert.True(t, Is(err, DependencyUnavailable))
	assert.Equal(t, "search_index", err.Details["dependency"])
}

func TestIsHelpers(t *testing.T) {
	err := RateLimitedErr(5)
	assert.True(t, Is(err, RateLimited))
	assert.False(t, Is(err, Invalid))

	extracted, ok := As(err)
	if assert.True(t, ok) {
		assert.Equal(t, 5, extracted.Details["retry_after"])
	}
}
