package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmarchetti/go-chatsync/internal/types"
)

func TestGroupReactions(t *testing.T) {
	t.Run("groups rows by emoji", func(t *testing.T) {
		rows := []types.ReactionRow{
			{Emoji: "👍", Username: "bob"},
			{Emoji: "👍", Username: "carol"},
			{Emoji: "🎉", Username: "bob"},
		}

		grouped := GroupReactions(rows, "alice")

		require.Len(t, grouped, 2, "expected one entry per emoji")
		assert.Equal(t, 2, grouped["👍"].Count, "expected per-emoji count")
		assert.Equal(t, []string{"bob", "carol"}, grouped["👍"].Users, "expected usernames collected")
		assert.False(t, grouped["👍"].UserReacted, "expected no participation for absent user")
	})

	t.Run("detects current user participation", func(t *testing.T) {
		rows := []types.ReactionRow{
			{Emoji: "👍", Username: "alice"},
			{Emoji: "👍", Username: "bob"},
		}

		grouped := GroupReactions(rows, "alice")
		assert.True(t, grouped["👍"].UserReacted, "expected userReacted for current user")
	})

	t.Run("count always equals user set size", func(t *testing.T) {
		rows := []types.ReactionRow{
			{Emoji: "👍", Username: "a"},
			{Emoji: "👍", Username: "b"},
			{Emoji: "🎉", Username: "c"},
		}

		for emoji, entry := range GroupReactions(rows, "a") {
			assert.Equalf(t, len(entry.Users), entry.Count, "expected count == len(users) for %s", emoji)
		}
	})

	t.Run("no rows means nil map", func(t *testing.T) {
		assert.Nil(t, GroupReactions(nil, "alice"), "expected nil for no reactions")
	})
}

func TestApplyLikeResult(t *testing.T) {
	t.Run("now-liked appends record and increments count", func(t *testing.T) {
		m := types.Message{
			Id:         42,
			LikesCount: "3",
			Likes:      []types.Like{{Id: 1, Username: "bob"}},
		}

		got := ApplyLikeResult(m, true, 900, "alice")

		assert.Equal(t, "4", got.LikesCount, "expected string count incremented")
		assert.Contains(t, got.Likes, types.Like{Id: 900, Username: "alice"}, "expected liker list gains current user")
		assert.Equal(t, "3", m.LikesCount, "expected input message unmodified")
		assert.Len(t, m.Likes, 1, "expected input likes unmodified")
	})

	t.Run("now-unliked removes record and decrements count", func(t *testing.T) {
		m := types.Message{
			Id:         42,
			LikesCount: "2",
			Likes: []types.Like{
				{Id: 1, Username: "bob"},
				{Id: 2, Username: "alice"},
			},
		}

		got := ApplyLikeResult(m, false, 0, "alice")

		assert.Equal(t, "1", got.LikesCount, "expected count decremented")
		assert.Equal(t, []types.Like{{Id: 1, Username: "bob"}}, got.Likes, "expected current user's record removed")
	})

	t.Run("absent count starts from zero", func(t *testing.T) {
		got := ApplyLikeResult(types.Message{Id: 1}, true, 7, "alice")
		assert.Equal(t, "1", got.LikesCount, "expected empty count treated as zero")
	})
}

func TestApplyReactionResult(t *testing.T) {
	t.Run("react then unreact returns to no entry", func(t *testing.T) {
		m := types.Message{Id: 1}

		reacted := ApplyReactionResult(m, "🔥", true, "alice")
		require.Contains(t, reacted.Reactions, "🔥", "expected entry created")
		assert.Equal(t, 1, reacted.Reactions["🔥"].Count)
		assert.True(t, reacted.Reactions["🔥"].UserReacted)

		unreacted := ApplyReactionResult(reacted, "🔥", false, "alice")
		assert.Nil(t, unreacted.Reactions, "expected nil map, not empty map, after cleanup")
	})

	t.Run("zero-count entry is deleted, others survive", func(t *testing.T) {
		m := types.Message{
			Id: 1,
			Reactions: map[string]types.ReactionEntry{
				"🔥": {Count: 1, Users: []string{"alice"}, UserReacted: true},
				"👍": {Count: 1, Users: []string{"bob"}},
			},
		}

		got := ApplyReactionResult(m, "🔥", false, "alice")

		assert.NotContains(t, got.Reactions, "🔥", "expected zero-count entry removed")
		assert.Contains(t, got.Reactions, "👍", "expected unrelated entry untouched")
	})

	t.Run("joining an existing reaction", func(t *testing.T) {
		m := types.Message{
			Id: 1,
			Reactions: map[string]types.ReactionEntry{
				"👍": {Count: 1, Users: []string{"bob"}},
			},
		}

		got := ApplyReactionResult(m, "👍", true, "alice")

		entry := got.Reactions["👍"]
		assert.Equal(t, 2, entry.Count, "expected count incremented")
		assert.Equal(t, []string{"bob", "alice"}, entry.Users, "expected user appended")
		assert.True(t, entry.UserReacted, "expected participation flag set")
		assert.Equal(t, len(entry.Users), entry.Count, "expected count == len(users)")

		// original message value untouched
		assert.Equal(t, 1, m.Reactions["👍"].Count, "expected input unmodified")
		assert.Equal(t, []string{"bob"}, m.Reactions["👍"].Users, "expected input users unmodified")
	})
}
