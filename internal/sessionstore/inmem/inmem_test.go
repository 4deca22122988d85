package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/sessionstore"
)

func TestCreateThenGetRoundTrips(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.Create(ctx, model.Question{Text: "how many orders"}, "caller-a", time.Hour)
	require.NoError(t, err)

	got, err := s.Get(ctx, id, "caller-a")
	require.NoError(t, err)
	assert.Equal(t, "caller-a", got.CallerID)
	assert.Equal(t, "how many orders", got.Question.Text)
	assert.Equal(t, model.SessionActive, got.Status)
}

func TestGetByWrongCallerReturnsNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.Create(ctx, model.Question{Text: "q"}, "caller-a", time.Hour)
	require.NoError(t, err)

	_, err = s.Get(ctx, id, "caller-b")
	assert.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func TestGetExpiredSessionReturnsNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.Create(ctx, model.Question{Text: "q"}, "caller-a", time.Nanosecond)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	_, err = s.Get(ctx, id, "caller-a")
	assert.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func TestUpdateRejectsWrongCaller(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.Create(ctx, model.Question{Text: "q"}, "caller-a", time.Hour)
	require.NoError(t, err)

	err = s.Update(ctx, model.Session{ID: id, Status: model.SessionEnded}, "caller-b")
	assert.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func TestUpdatePersistsChanges(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.Create(ctx, model.Question{Text: "q"}, "caller-a", time.Hour)
	require.NoError(t, err)

	sess, err := s.Get(ctx, id, "caller-a")
	require.NoError(t, err)
	sess.Status = model.SessionEnded
	require.NoError(t, s.Update(ctx, sess, "caller-a"))

	got, err := s.Get(ctx, id, "caller-a")
	require.NoError(t, err)
	assert.Equal(t, model.SessionEnded, got.Status)
}

func TestDeleteReportsWhetherSomethingWasRemoved(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.Create(ctx, model.Question{Text: "q"}, "caller-a", time.Hour)
	require.NoError(t, err)

	deleted, err := s.Delete(ctx, id, "caller-b")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.Delete(ctx, id, "caller-a")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.Get(ctx, id, "caller-a")
	assert.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func TestListReturnsOnlyCallersOwnSessionsNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Create(ctx, model.Question{Text: "first"}, "caller-a", time.Hour)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = s.Create(ctx, model.Question{Text: "second"}, "caller-a", time.Hour)
	require.NoError(t, err)
	_, err = s.Create(ctx, model.Question{Text: "other caller"}, "caller-b", time.Hour)
	require.NoError(t, err)

	out, err := s.List(ctx, "caller-a", 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "second", out[0].Question)
	assert.Equal(t, "first", out[1].Question)
}

func TestListRespectsLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Create(ctx, model.Question{Text: "q"}, "caller-a", time.Hour)
		require.NoError(t, err)
	}

	out, err := s.List(ctx, "caller-a", 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestCleanupRemovesSessionsOlderThanCutoff(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.Create(ctx, model.Question{Text: "q"}, "caller-a", time.Hour)
	require.NoError(t, err)

	removed, err := s.Cleanup(ctx, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.Get(ctx, id, "caller-a")
	assert.ErrorIs(t, err, sessionstore.ErrNotFound)
}
