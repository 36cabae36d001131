package stamps

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "state", "state.db")
	store, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, dbPath
}

func TestMissingStampIsNil(t *testing.T) {
	store, _ := openTestStore(t)

	value, err := store.Get("provision")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestStampsSurviveReopen(t *testing.T) {
	store, dbPath := openTestStore(t)

	require.NoError(t, store.Put("provision", []byte{1, 2, 3}))
	require.NoError(t, store.Close())

	reopened, err := Open(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	value, err := reopened.Get("provision")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, value)
}

func TestDeleteAndClear(t *testing.T) {
	store, _ := openTestStore(t)

	require.NoError(t, store.Put("provision", []byte{1}))
	require.NoError(t, store.Put("package", []byte{2}))

	require.NoError(t, store.Delete("provision"))
	value, err := store.Get("provision")
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, store.Clear())
	value, err = store.Get("package")
	require.NoError(t, err)
	assert.Nil(t, value)
}
