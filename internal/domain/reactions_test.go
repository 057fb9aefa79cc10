package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactionsToggle(t *testing.T) {
	t.Run("adds a first reaction", func(t *testing.T) {
		r := Reactions{}.Toggle("u1", "👍")
		assert.Equal(t, Reactions{"👍": {"u1"}}, r)
	})

	t.Run("same emoji twice removes the reaction and the key", func(t *testing.T) {
		r := Reactions{}.Toggle("u1", "👍").Toggle("u1", "👍")
		assert.Empty(t, r)
		_, ok := r["👍"]
		assert.False(t, ok)
	})

	t.Run("new emoji replaces the active one", func(t *testing.T) {
		r := Reactions{}.Toggle("u1", "👍").Toggle("u1", "❤️")
		assert.Equal(t, Reactions{"❤️": {"u1"}}, r)
	})

	t.Run("other users are kept", func(t *testing.T) {
		r := Reactions{"👍": {"u1", "u2"}}.Toggle("u1", "😂")
		assert.Equal(t, Reactions{"👍": {"u2"}, "😂": {"u1"}}, r)
	})

	t.Run("input is not modified", func(t *testing.T) {
		in := Reactions{"👍": {"u1"}}
		_ = in.Toggle("u1", "👍")
		assert.Equal(t, Reactions{"👍": {"u1"}}, in)
	})
}

func TestReactionsEmojiOf(t *testing.T) {
	r := Reactions{"👍": {"u1"}, "😂": {"u2"}}
	e, ok := r.EmojiOf("u2")
	require.True(t, ok)
	assert.Equal(t, "😂", e)

	_, ok = r.EmojiOf("u3")
	assert.False(t, ok)
}

func TestStatusBefore(t *testing.T) {
	assert.True(t, StatusSent.Before(StatusDelivered))
	assert.True(t, StatusDelivered.Before(StatusSeen))
	assert.True(t, StatusSent.Before(StatusSeen))
	assert.False(t, StatusSeen.Before(StatusDelivered))
	assert.False(t, StatusDelivered.Before(StatusDelivered))
}

func TestValidateEmoji(t *testing.T) {
	require.NoError(t, ValidateEmoji("👍"))
	require.NoError(t, ValidateEmoji("❤️"))
	assert.ErrorIs(t, ValidateEmoji(""), ErrInvalidArgument)
	assert.ErrorIs(t, ValidateEmoji(" 👍"), ErrInvalidArgument)
	assert.ErrorIs(t, ValidateEmoji("a.b"), ErrInvalidArgument)
	assert.ErrorIs(t, ValidateEmoji("$set"), ErrInvalidArgument)
}
