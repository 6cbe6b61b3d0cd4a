package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go-chat-sync/internal/event"
)

func TestToggleCreatesThenRemovesRecord(t *testing.T) {
	t.Parallel()

	s := NewReactions()
	s.Toggle(5, event.ReactionLike, 9)

	r, ok := s.Get(5, event.ReactionLike)
	require.True(t, ok)
	require.Equal(t, 1, r.Count)
	require.Equal(t, []int64{9}, r.UserIDs)

	s.Toggle(5, event.ReactionLike, 9)
	_, ok = s.Get(5, event.ReactionLike)
	require.False(t, ok)
	require.Empty(t, s.Snapshot())
}

func TestToggleJoinsExistingRecord(t *testing.T) {
	t.Parallel()

	s := NewReactions()
	s.Toggle(5, event.ReactionLove, 1)
	s.Toggle(5, event.ReactionLove, 2)
	s.Toggle(5, event.ReactionLaugh, 1)

	love, _ := s.Get(5, event.ReactionLove)
	require.Equal(t, 2, love.Count)
	require.Equal(t, []int64{1, 2}, love.UserIDs)

	s.Toggle(5, event.ReactionLove, 1)
	love, _ = s.Get(5, event.ReactionLove)
	require.Equal(t, 1, love.Count)
	require.Equal(t, []int64{2}, love.UserIDs)

	laugh, ok := s.Get(5, event.ReactionLaugh)
	require.True(t, ok)
	require.Equal(t, 1, laugh.Count)
}

func TestEchoOverwritesOptimisticState(t *testing.T) {
	t.Parallel()

	s := NewReactions()
	s.Toggle(5, event.ReactionWow, 1)
	s.Toggle(5, event.ReactionWow, 4)

	s.ApplyEcho(event.Reaction{MessageID: 5, Type: event.ReactionWow, Count: 7, UserIDs: []int64{1, 2, 3}})

	r, ok := s.Get(5, event.ReactionWow)
	require.True(t, ok)
	require.Equal(t, 3, r.Count)
	require.Equal(t, []int64{1, 2, 3}, r.UserIDs)
}

func TestEchoNormalizesDuplicateUsers(t *testing.T) {
	t.Parallel()

	s := NewReactions()
	s.ApplyEcho(event.Reaction{MessageID: 5, Type: event.ReactionSad, UserIDs: []int64{3, 3, 1}})

	r, _ := s.Get(5, event.ReactionSad)
	require.Equal(t, 2, r.Count)
	require.Equal(t, []int64{3, 1}, r.UserIDs)
}

func TestEchoWithoutUsersDeletesRecord(t *testing.T) {
	t.Parallel()

	s := NewReactions()
	s.Toggle(5, event.ReactionAngry, 1)
	s.ApplyEcho(event.Reaction{MessageID: 5, Type: event.ReactionAngry})

	_, ok := s.Get(5, event.ReactionAngry)
	require.False(t, ok)

	// An empty echo for an unknown record stays a no-op.
	s.ApplyEcho(event.Reaction{MessageID: 6, Type: event.ReactionLike})
	require.Empty(t, s.Snapshot())
}

func TestReplaceLoadsHistoryReactions(t *testing.T) {
	t.Parallel()

	s := NewReactions()
	s.Toggle(1, event.ReactionLike, 1)

	s.Replace([]event.Message{
		{ID: 10, Reactions: []event.Reaction{{Type: event.ReactionLove, Count: 2, UserIDs: []int64{4, 5}}}},
		{ID: 11},
	})

	_, ok := s.Get(1, event.ReactionLike)
	require.False(t, ok)
	r, ok := s.Get(10, event.ReactionLove)
	require.True(t, ok)
	require.Equal(t, int64(10), r.MessageID)
	require.Equal(t, 2, r.Count)
}

func TestDropMessageForgetsReactions(t *testing.T) {
	t.Parallel()

	s := NewReactions()
	s.Toggle(1, event.ReactionLike, 1)
	s.Toggle(2, event.ReactionLike, 1)
	s.DropMessage(1)

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	require.Contains(t, snap, int64(2))
}

func TestReactionSnapshotIsIsolated(t *testing.T) {
	t.Parallel()

	s := NewReactions()
	s.Toggle(1, event.ReactionLike, 1)
	snap := s.Snapshot()

	s.Toggle(1, event.ReactionLike, 2)
	require.Equal(t, []int64{1}, snap[1][0].UserIDs)

	snap[1][0].UserIDs[0] = 42
	r, _ := s.Get(1, event.ReactionLike)
	require.Equal(t, []int64{1, 2}, r.UserIDs)
}
