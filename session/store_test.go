package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSession(ctx, "first chat", "0.0.1234")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "first chat", got.Title)
	assert.Equal(t, "0.0.1234", got.AccountID)

	_, err = s.GetSession(ctx, "01UNKNOWNULID")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessionsMostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateSession(ctx, "a", "")
	require.NoError(t, err)
	b, err := s.CreateSession(ctx, "b", "")
	require.NoError(t, err)

	// Touching a makes it most recent.
	time.Sleep(5 * time.Millisecond)
	_, err = s.AppendMessage(ctx, a.ID, RoleUser, "bump")
	require.NoError(t, err)

	list, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
}

func TestMessagesRoundTripInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "chat", "")
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, sess.ID, RoleUser, "hello")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, sess.ID, RoleAssistant, "hi, how can I help?")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, sess.ID, RoleUser, "what is my balance?")
	require.NoError(t, err)

	msgs, err := s.Messages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "what is my balance?", msgs[2].Content)
}

func TestAppendMessageUnknownSession(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AppendMessage(context.Background(), "nope", RoleUser, "hello")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSessionCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "doomed", "")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, sess.ID, RoleUser, "bye")
	require.NoError(t, err)

	require.NoError(t, s.DeleteSession(ctx, sess.ID))

	_, err = s.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	msgs, err := s.Messages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.ErrorIs(t, s.DeleteSession(ctx, sess.ID), ErrNotFound)
}

func TestIDsAreSortableAndUnique(t *testing.T) {
	seen := map[string]bool{}
	prev := ""
	for i := 0; i < 100; i++ {
		id := newID()
		assert.False(t, seen[id])
		seen[id] = true
		assert.GreaterOrEqual(t, id, prev)
		prev = id
	}
}
