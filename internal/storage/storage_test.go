package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/gearshare/backend/internal/database"
)

func exerciseStore(t *testing.T, s Store) {
	_, ok, err := s.Get(KeyCSRFToken)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(KeyCSRFToken, "one"))
	require.NoError(t, s.Set(KeyCSRFToken, "two"))
	v, ok, err := s.Get(KeyCSRFToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", v)

	require.NoError(t, s.Set(KeyAppSessionCount, "1"))
	require.NoError(t, s.Delete(KeyCSRFToken))
	_, ok, err = s.Get(KeyCSRFToken)
	require.NoError(t, err)
	assert.False(t, ok)

	v, _, _ = s.Get(KeyAppSessionCount)
	assert.Equal(t, "1", v)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestDBStore(t *testing.T) {
	db, err := database.OpenInMemory(t.Name())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	exerciseStore(t, NewDBStore(db))
}
