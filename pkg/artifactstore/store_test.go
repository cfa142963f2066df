package artifactstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestStore(t *testing.T, peers []Peer) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := bolt.Open(filepath.Join(dir, "meta.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := Open(Config{
		Name:    "vm_resources",
		BaseDir: filepath.Join(dir, "cache"),
		MetaDB:  db,
		Peers:   peers,
	})
	require.NoError(t, err)
	return store
}

func TestAddContentNoBroadcastPeers(t *testing.T) {
	store := openTestStore(t, nil)

	require.NoError(t, store.AddContent("hello.txt", []byte("hi"), true, true))

	path, err := store.GetPath("hello.txt")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hi", string(data))

	hash, err := store.Hash("hello.txt")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	size, err := store.Size("hello.txt")
	require.NoError(t, err)
	require.EqualValues(t, 2, size)
}

func TestListAndRemove(t *testing.T) {
	store := openTestStore(t, nil)
	require.NoError(t, store.AddContent("a.txt", []byte("a"), true, true))
	require.NoError(t, store.AddContent("b.txt", []byte("b"), true, true))

	names, err := store.List("")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.txt", "b.txt"}, names)

	require.NoError(t, store.Remove("a.txt"))
	names, err = store.List("")
	require.NoError(t, err)
	require.Equal(t, []string{"b.txt"}, names)

	_, err = store.Size("a.txt")
	require.Error(t, err)
}

func TestGetPathMissingWithNoPeersFails(t *testing.T) {
	store := openTestStore(t, nil)
	_, err := store.GetPath("nope.txt")
	require.Error(t, err)
}
