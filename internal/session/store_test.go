package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inquest/internal/models"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	created, err := store.Create(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", created.ID)
	assert.False(t, created.ExpiresAt.IsZero())

	created.Draft = models.TaskDraft{Goal: "research goal"}
	created.AddExchange(models.RoleUser, "hello")
	require.NoError(t, store.Put(ctx, created))

	got, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "research goal", got.Draft.Goal)
	require.Len(t, got.History, 1)
	assert.Equal(t, models.RoleUser, got.History[0].Role)
}

func TestMemoryStoreGeneratesID(t *testing.T) {
	store := NewMemoryStore(0)
	s, err := store.Create(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
}

func TestMemoryStoreNotFound(t *testing.T) {
	store := NewMemoryStore(0)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(time.Millisecond)
	_, err := store.Create(context.Background(), "conv-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = store.Get(context.Background(), "conv-1")
	assert.ErrorIs(t, err, ErrExpired)

	// Expired sessions are removed, so the next lookup is a plain miss.
	_, err = store.Get(context.Background(), "conv-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreHandsOutCopies(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	_, err := store.Create(ctx, "conv-1")
	require.NoError(t, err)

	first, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	first.Draft.Goal = "mutated without Put"

	second, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, second.Draft.Goal)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	_, err := store.Create(ctx, "conv-1")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "conv-1"))
	_, err = store.Get(ctx, "conv-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, store.Delete(ctx, "conv-1"), "deleting a missing session is not an error")
}

func TestAddExchangeCapsHistory(t *testing.T) {
	s := &Session{}
	for i := 0; i < 150; i++ {
		s.AddExchange(models.RoleUser, "message")
	}
	assert.Len(t, s.History, 100)
}

func TestMarkSatisfiedDeduplicates(t *testing.T) {
	s := &Session{}
	s.MarkSatisfied(models.DimensionGoal)
	s.MarkSatisfied(models.DimensionGoal)
	s.MarkSatisfied(models.DimensionScope)
	assert.Equal(t, []models.Dimension{models.DimensionGoal, models.DimensionScope}, s.Satisfied)
}
