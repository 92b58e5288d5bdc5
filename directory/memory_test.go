package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.Create(ctx, &Record{
		Username: "ada",
		Email:    "ada@example.com",
		FullName: "Ada Lovelace",
		Active:   true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", got.Username)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.True(t, got.Active)
}

func TestMemoryStoreGet_NotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCreate_Conflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Create(ctx, &Record{Username: "ada", Email: "ada@example.com"})
	require.NoError(t, err)

	_, err = store.Create(ctx, &Record{Username: "ada", Email: "other@example.com"})
	assert.ErrorIs(t, err, ErrConflict, "duplicate username")

	_, err = store.Create(ctx, &Record{Username: "other", Email: "ada@example.com"})
	assert.ErrorIs(t, err, ErrConflict, "duplicate email")

	// Conflict checks are case-insensitive.
	_, err = store.Create(ctx, &Record{Username: "ADA", Email: "x@example.com"})
	assert.ErrorIs(t, err, ErrConflict, "case-folded username")
}

func TestMemoryStoreUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.Create(ctx, &Record{
		Username: "ada",
		Email:    "ada@example.com",
		Active:   true,
	})
	require.NoError(t, err)

	created.FullName = "Ada Lovelace"
	created.Active = false
	updated, err := store.Update(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", updated.FullName)
	assert.False(t, updated.Active)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt) || updated.UpdatedAt.Equal(updated.CreatedAt))

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.FullName)
}

func TestMemoryStoreUpdate_NotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Update(context.Background(), &Record{ID: "no-such-id", Username: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.Create(ctx, &Record{Username: "ada", Email: "ada@example.com"})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, created.ID))

	_, err = store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, created.ID), ErrNotFound)
}

func TestMemoryStoreSearch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seed := []*Record{
		{Username: "ada", Email: "ada@example.com", FullName: "Ada Lovelace"},
		{Username: "grace", Email: "grace@example.com", FullName: "Grace Hopper"},
		{Username: "alan", Email: "alan@other.org", FullName: "Alan Turing"},
	}
	for _, rec := range seed {
		_, err := store.Create(ctx, rec)
		require.NoError(t, err)
	}

	all, err := store.Search(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3, "empty query lists everything")

	byName, err := store.Search(ctx, "lovelace")
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "ada", byName[0].Username)

	byEmail, err := store.Search(ctx, "example.com")
	require.NoError(t, err)
	assert.Len(t, byEmail, 2)

	caseFolded, err := store.Search(ctx, "GRACE")
	require.NoError(t, err)
	assert.Len(t, caseFolded, 1)

	none, err := store.Search(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.Create(ctx, &Record{Username: "ada", Email: "ada@example.com"})
	require.NoError(t, err)

	// Mutating a returned record must not leak into the store.
	created.Username = "mallory"

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", got.Username)
}
