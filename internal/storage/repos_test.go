// ABOUTME: Tests for the repository registry
// ABOUTME: Covers registration, duplicate paths, ordering, touch, and delete

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGetRepository(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	repo := &Repository{
		Path: "/home/user/src/fold",
		Name: "fold",
	}
	require.NoError(t, m.RegisterRepository(ctx, repo))
	assert.NotEmpty(t, repo.ID, "ID should be generated")
	assert.False(t, repo.CreatedAt.IsZero(), "CreatedAt should be set")

	got, err := m.GetRepositoryByPath(ctx, "/home/user/src/fold")
	require.NoError(t, err)
	assert.Equal(t, repo.ID, got.ID)
	assert.Equal(t, "fold", got.Name)
}

func TestRegisterRepository_DuplicatePath(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.RegisterRepository(ctx, &Repository{Path: "/src/a", Name: "a"}))

	err := m.RegisterRepository(ctx, &Repository{Path: "/src/a", Name: "a-again"})
	assert.ErrorIs(t, err, ErrDuplicateRepository)
}

func TestGetRepositoryByPath_NotFound(t *testing.T) {
	m := newTestManager(t)

	_, err := m.GetRepositoryByPath(context.Background(), "/nowhere")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRepositories_MostRecentFirst(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	old := &Repository{
		Path:         "/src/old",
		Name:         "old",
		LastOpenedAt: time.Now().UTC().Add(-time.Hour),
	}
	recent := &Repository{
		Path:         "/src/recent",
		Name:         "recent",
		LastOpenedAt: time.Now().UTC(),
	}
	require.NoError(t, m.RegisterRepository(ctx, old))
	require.NoError(t, m.RegisterRepository(ctx, recent))

	repos, err := m.ListRepositories(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "recent", repos[0].Name)
	assert.Equal(t, "old", repos[1].Name)
}

func TestTouchRepository(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	repo := &Repository{
		Path:         "/src/touched",
		Name:         "touched",
		LastOpenedAt: time.Now().UTC().Add(-24 * time.Hour),
	}
	require.NoError(t, m.RegisterRepository(ctx, repo))

	require.NoError(t, m.TouchRepository(ctx, repo.ID))

	got, err := m.GetRepositoryByPath(ctx, "/src/touched")
	require.NoError(t, err)
	assert.True(t, got.LastOpenedAt.After(time.Now().UTC().Add(-time.Minute)),
		"last_opened_at should be recent after touch")
}

func TestTouchRepository_NotFound(t *testing.T) {
	m := newTestManager(t)

	err := m.TouchRepository(context.Background(), "missing-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRepository(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	repo := &Repository{Path: "/src/gone", Name: "gone"}
	require.NoError(t, m.RegisterRepository(ctx, repo))

	require.NoError(t, m.DeleteRepository(ctx, repo.ID))

	_, err := m.GetRepositoryByPath(ctx, "/src/gone")
	assert.ErrorIs(t, err, ErrNotFound)

	err = m.DeleteRepository(ctx, repo.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
