package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestSentinels(t *testing.T) {
	t.Run("wrapped sentinels remain detectable", func(t *testing.T) {
		err := Wrap(ErrForbidden, "span s-123")
		assert.True(t, IsForbiddenError(err))
		assert.False(t, IsNotFoundError(err))
	})

	t.Run("forbidden and not-found stay distinct", func(t *testing.T) {
		assert.False(t, Is(ErrForbidden, ErrNotFound))
		assert.False(t, Is(ErrNotFound, ErrForbidden))
	})

	t.Run("invalid relation is not invalid date", func(t *testing.T) {
		err := Wrapf(ErrInvalidRelation, "relation %q", "overlaps")
		assert.True(t, Is(err, ErrInvalidRelation))
		assert.False(t, Is(err, ErrInvalidDate))
	})
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("span %s", "s-42")
	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
	assert.Contains(t, err.Error(), "s-42")
}
