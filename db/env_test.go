package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironmentLifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	env, err := NewEnvironment(dir, WithCacheSize(4<<20))
	require.NoError(t, err)

	assert.Equal(t, dir, env.Dir())
	assert.Equal(t, BackendPebble, env.Backend())
	assert.Len(t, env.Collectors(), 1)

	require.NoError(t, env.Store().CreateColumnFamily("1.1"))
	require.NoError(t, env.Store().Put("1.1", []byte("k"), []byte("v")))
	require.NoError(t, env.Memory().CreateColumnFamily("1.1"))
	require.NoError(t, env.Flush())

	require.NoError(t, env.Close())
	assert.ErrorIs(t, env.Close(), ErrClosed)
	assert.ErrorIs(t, env.Store().Put("1.1", []byte("k"), nil), ErrClosed)
}

func TestEnvironmentRequiresDir(t *testing.T) {
	_, err := NewEnvironment("", WithBackend(BackendLevelDB))
	assert.ErrorIs(t, err, ErrEnvironmentNotAvailable)

	env, err := NewEnvironment("", WithBackend(BackendMemory))
	require.NoError(t, err)
	assert.Empty(t, env.Collectors())
	require.NoError(t, env.Close())
}
