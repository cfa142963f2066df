package expgraph

import (
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeArtifactStore struct {
	uploadDates map[string]time.Time
	hashes      map[string]string
	uploaded    []string
}

func newFakeArtifactStore() *fakeArtifactStore {
	return &fakeArtifactStore{uploadDates: map[string]time.Time{}, hashes: map[string]string{}}
}

func (f *fakeArtifactStore) AddContent(name string, content []byte, force, broadcast bool) error {
	sum := sha1.Sum(content) //nolint:gosec
	f.hashes[name] = hex.EncodeToString(sum[:])
	f.uploadDates[name] = time.Now()
	f.uploaded = append(f.uploaded, name)
	return nil
}

func (f *fakeArtifactStore) UploadDate(name string) (time.Time, bool, error) {
	t, ok := f.uploadDates[name]
	return t, ok, nil
}

func (f *fakeArtifactStore) Hash(name string) (string, error) {
	return f.hashes[name], nil
}

func writeTempFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestUploadArtifactsUploadsUnknownFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "resource.sh", []byte("echo hi"))

	g := New()
	v := NewVertex("vm1")
	require.NoError(t, Apply(v, &Decorator{Name: VMCapability, Attributes: map[string]any{AttrVMResourceFiles: []string{path}}}))
	require.NoError(t, g.AddVertex(v))

	store := newFakeArtifactStore()
	results, err := UploadArtifacts(g, store)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, StatusUploaded, results[0].Status)
	require.Contains(t, store.uploaded, "resource.sh")
}

func TestUploadArtifactsSkipsUnchangedMtime(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "resource.sh", []byte("echo hi"))
	info, err := os.Stat(path)
	require.NoError(t, err)

	store := newFakeArtifactStore()
	store.uploadDates["resource.sh"] = info.ModTime()
	store.hashes["resource.sh"] = "irrelevant"

	g := New()
	v := NewVertex("vm1")
	require.NoError(t, Apply(v, &Decorator{Name: VMCapability, Attributes: map[string]any{AttrVMResourceFiles: []string{path}}}))
	require.NoError(t, g.AddVertex(v))

	results, err := UploadArtifacts(g, store)
	require.NoError(t, err)
	require.Equal(t, StatusSameHash, results[0].Status)
	require.Empty(t, store.uploaded)
}

func TestUploadArtifactsReuploadsOnHashChangeOnly(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "resource.sh", []byte("echo hi"))

	store := newFakeArtifactStore()
	// stored upload time deliberately stale so the mtime check falls
	// through to a hash compare
	store.uploadDates["resource.sh"] = time.Now().Add(-time.Hour)
	store.hashes["resource.sh"] = "stale-hash"

	g := New()
	v := NewVertex("vm1")
	require.NoError(t, Apply(v, &Decorator{Name: VMCapability, Attributes: map[string]any{AttrVMResourceFiles: []string{path}}}))
	require.NoError(t, g.AddVertex(v))

	results, err := UploadArtifacts(g, store)
	require.NoError(t, err)
	require.Equal(t, StatusNewHash, results[0].Status)
	require.Contains(t, store.uploaded, "resource.sh")
}

func TestUploadArtifactsIgnoresVerticesWithoutVMCapability(t *testing.T) {
	g := New()
	require.NoError(t, g.AddVertex(NewVertex("not-a-vm")))

	store := newFakeArtifactStore()
	results, err := UploadArtifacts(g, store)
	require.NoError(t, err)
	require.Empty(t, results)
}
