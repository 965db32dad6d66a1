package mydmhttp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToken(t *testing.T) {
	token := NewToken()
	first := token.Context()
	assert.NoError(t, first.Err())

	assert.True(t, token.Pause())
	assert.False(t, token.Pause(), "second pause is a no-op")
	assert.True(t, token.Paused())
	assert.Error(t, first.Err())

	assert.True(t, token.Resume())
	assert.False(t, token.Resume(), "second resume is a no-op")
	assert.False(t, token.Paused())
	assert.NoError(t, token.Context().Err())

	token.Cancel()
	assert.True(t, token.Cancelled())
	assert.Error(t, token.Context().Err())
	assert.False(t, token.Pause())
	assert.False(t, token.Resume())
}

func TestTokenCancelWhilePaused(t *testing.T) {
	token := NewToken()
	token.Pause()
	token.Cancel()
	assert.True(t, token.Cancelled())
	assert.False(t, token.Resume(), "a cancelled token never runs again")
	assert.Error(t, token.Context().Err())
}
