package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryConfigRepositoryCRUD(t *testing.T) {
	repo := NewMemoryConfigRepository[Group]()
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, "g1", Group{UUID: "g1", Title: "Engineering"}))

	g, err := repo.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "Engineering", g.Title)

	g.Title = "Eng"
	require.NoError(t, repo.Update(ctx, "g1", g))
	got, _ := repo.Get(ctx, "g1")
	assert.Equal(t, "Eng", got.Title)

	require.NoError(t, repo.Delete(ctx, "g1"))
	_, err = repo.Get(ctx, "g1")
	require.Error(t, err)
}

func TestMemoryConfigRepositoryDuplicateAdd(t *testing.T) {
	repo := NewMemoryConfigRepository[Group]()
	ctx := context.Background()
	require.NoError(t, repo.Add(ctx, "g1", Group{UUID: "g1"}))
	require.Error(t, repo.Add(ctx, "g1", Group{UUID: "g1"}))
}

func TestMemoryConfigRepositoryListPreservesInsertionOrder(t *testing.T) {
	repo := NewMemoryConfigRepository[Group]()
	ctx := context.Background()
	require.NoError(t, repo.Add(ctx, "b", Group{UUID: "b"}))
	require.NoError(t, repo.Add(ctx, "a", Group{UUID: "a"}))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].UUID)
	assert.Equal(t, "a", list[1].UUID)
}
