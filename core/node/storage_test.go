package node

import (
	"context"
	"testing"

	antboxerrors "github.com/kindalus/antbox-sub000/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoragePutGetDelete(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("hello")))

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	require.NoError(t, s.Delete(ctx, "k1"))
	_, err = s.Get(ctx, "k1")
	require.Error(t, err)
	assert.True(t, antboxerrors.Is(err, antboxerrors.CodeNodeNotFound))
}

func TestMemoryStorageGetReturnsIndependentCopy(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k1", []byte("hello")))

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	got[0] = 'x'

	got2, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, byte('h'), got2[0])
}
