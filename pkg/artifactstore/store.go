// Package artifactstore implements the content-addressed artifact cache
// (C1, spec.md §4.1): two logical stores ("images", "vm_resources") share
// one mechanism — a local cache directory guarded by sentinel lock
// directories, with a cluster broadcast step that instructs peers to fetch
// newly added files and a consistency check that confirms convergence.
package artifactstore

import (
	"crypto/sha1" //nolint:gosec // content addressing, not a security boundary
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sandialabs/firewheel/pkg/fwerrors"
	"github.com/sandialabs/firewheel/pkg/log"
	bolt "go.etcd.io/bbolt"
)

var bucketMetadata = []byte("artifacts")

// compressedExts lists the extensions get_path strips when the store is
// configured to decompress on fetch.
var compressedExts = []string{".tar.gz", ".tgz", ".tar", ".xz"}

// meta is the persisted record for one artifact: upload time and content
// hash, matching spec.md §3's Artifact type.
type meta struct {
	Name       string    `json:"name"`
	Hash       string    `json:"hash"`
	UploadDate time.Time `json:"upload_date"`
	Size       int64     `json:"size"`
}

// Peer is the subset of cluster transport the store uses to instruct other
// hosts to fetch a file and to query their view of the store (spec.md §4.1's
// broadcast protocol). Grounded on the teacher's pkg/client gRPC-stub
// pattern, generalized from the teacher's service-mutation RPCs to a
// fetch/list/delete peer protocol.
type Peer interface {
	Addr() string
	RequestFetch(store, name string) error
	RequestDelete(store, name string) error
	ListContents(store, pattern string) ([]ListEntry, error)
	Transferring(store, name string) (bool, error)
}

// ListEntry describes one replica as reported by list/list_distinct.
type ListEntry struct {
	Host string
	Name string
	Size int64
}

// Store is one named artifact store ("images" or "vm_resources"). Metadata
// lives in bbolt; blob bytes live under BaseDir/<store name>/.
type Store struct {
	name       string
	baseDir    string
	decompress bool
	db         *bolt.DB
	peers      []Peer
	logger     zerolog.Logger
}

// Config configures one Store instance.
type Config struct {
	Name       string // "images" or "vm_resources"
	BaseDir    string // root cache directory
	Decompress bool
	MetaDB     *bolt.DB // shared bbolt handle; bucket is created on Open
	Peers      []Peer
}

// Open creates the store's cache directory if needed and returns a ready
// Store. MetaDB is expected to already be open; Open only ensures this
// store's bucket exists.
func Open(cfg Config) (*Store, error) {
	dir := filepath.Join(cfg.BaseDir, cfg.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact cache dir: %w", err)
	}
	err := cfg.MetaDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetadata)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("initializing artifact metadata bucket: %w", err)
	}
	return &Store{
		name:       cfg.Name,
		baseDir:    dir,
		decompress: cfg.Decompress,
		db:         cfg.MetaDB,
		peers:      cfg.Peers,
		logger:     log.WithComponent("artifact-store").With().Str("store", cfg.Name).Logger(),
	}, nil
}

func (s *Store) metaKey(name string) []byte {
	return []byte(s.name + "/" + name)
}

func (s *Store) localPath(name string) string {
	return filepath.Join(s.baseDir, name)
}

func stripCompressedExt(name string) string {
	for _, ext := range compressedExts {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

// Add copies path into the store under its basename, replacing any prior
// entry when force is set, then broadcasts the file to every peer.
func (s *Store) Add(path string, force bool) error {
	name := filepath.Base(path)
	if force {
		_ = s.Remove(name)
	}

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer src.Close()

	content, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	return s.addContent(name, content, true)
}

// AddContent adds an in-memory blob to the store, matching add_content in
// spec.md §4.1.
func (s *Store) AddContent(name string, content []byte, force, broadcast bool) error {
	if force {
		_ = s.Remove(name)
	}
	return s.addContent(name, content, broadcast)
}

func (s *Store) addContent(name string, content []byte, broadcast bool) error {
	dest := s.localPath(name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating parent dir for %s: %w", name, err)
	}
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}

	sum := sha1.Sum(content) //nolint:gosec
	m := meta{
		Name:       name,
		Hash:       hex.EncodeToString(sum[:]),
		UploadDate: time.Now().UTC(),
		Size:       int64(len(content)),
	}
	if err := s.putMeta(name, m); err != nil {
		return err
	}

	if broadcast {
		ok, err := s.Broadcast(name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", name, fwerrors.ErrInconsistent)
		}
	}
	return nil
}

func (s *Store) putMeta(name string, m meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling metadata for %s: %w", name, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetadata).Put(s.metaKey(name), data)
	})
}

func (s *Store) getMeta(name string) (meta, bool, error) {
	var m meta
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMetadata).Get(s.metaKey(name))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &m)
	})
	return m, found, err
}

// GetPath ensures name is present in the local cache, fetching it from a
// peer under the per-file lock if necessary, then returns its local path.
// When the store decompresses, the returned path has the compression
// extension stripped.
func (s *Store) GetPath(name string) (string, error) {
	path := s.localPath(name)
	if s.decompress {
		path = filepath.Join(filepath.Dir(path), stripCompressedExt(filepath.Base(path)))
	}

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	lockDir := path + "-lock"
	acquired, err := s.acquireLock(lockDir)
	if err != nil {
		return "", fmt.Errorf("acquiring lock for %s: %w", name, err)
	}
	if !acquired {
		s.waitForLock(lockDir)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("%s: %w", name, fwerrors.ErrNotFound)
	}
	defer s.releaseLock(lockDir)

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := s.fetchFromPeer(name, path); err != nil {
		return "", err
	}

	if err := s.resolveBackingFile(path); err != nil {
		s.logger.Error().Err(err).Str("name", name).Msg("unable to resolve qcow2 backing file")
	}

	return path, nil
}

func (s *Store) fetchFromPeer(name, destPath string) error {
	if len(s.peers) == 0 {
		return fmt.Errorf("%s: %w", name, fwerrors.ErrNotFound)
	}
	var lastErr error
	for _, p := range s.peers {
		if err := p.RequestFetch(s.name, name); err != nil {
			lastErr = err
			continue
		}
		if err := s.copyFromSentinel(destPath); err == nil {
			return nil
		}
	}
	if lastErr != nil {
		return fmt.Errorf("fetching %s from peers: %w", name, lastErr)
	}
	return fmt.Errorf("%s: %w", name, fwerrors.ErrNotFound)
}

// copyFromSentinel is a placeholder seam: real peer transport writes bytes
// directly to destPath via the gRPC stream; tests substitute a Peer fake
// that does so before returning from RequestFetch.
func (s *Store) copyFromSentinel(destPath string) error {
	if _, err := os.Stat(destPath); err != nil {
		return fmt.Errorf("%w", fwerrors.ErrNotFound)
	}
	return nil
}

// resolveBackingFile recursively fetches a qcow2 image's backing file
// chain, matching the Python original's disk_info-driven recursion.
func (s *Store) resolveBackingFile(path string) error {
	backing, err := qcow2BackingFile(path)
	if err != nil || backing == "" {
		return err
	}
	rel, err := filepath.Rel(s.baseDir, backing)
	if err != nil {
		rel = filepath.Base(backing)
	}
	_, err = s.GetPath(rel)
	return err
}

// Remove deletes name from the local cache and instructs every peer to do
// the same.
func (s *Store) Remove(name string) error {
	path := s.localPath(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetadata).Delete(s.metaKey(name))
	}); err != nil {
		return fmt.Errorf("removing metadata for %s: %w", name, err)
	}
	for _, p := range s.peers {
		if err := p.RequestDelete(s.name, name); err != nil {
			s.logger.Error().Err(err).Str("peer", p.Addr()).Str("name", name).Msg("peer delete failed")
		}
	}
	return nil
}

// Hash returns the stored content hash for name, or "" if unknown.
func (s *Store) Hash(name string) (string, error) {
	m, found, err := s.getMeta(name)
	if err != nil || !found {
		return "", err
	}
	return m.Hash, nil
}

// UploadDate returns the upload timestamp for name.
func (s *Store) UploadDate(name string) (time.Time, bool, error) {
	m, found, err := s.getMeta(name)
	if err != nil || !found {
		return time.Time{}, false, err
	}
	return m.UploadDate, true, nil
}

// Size returns the byte size of name as recorded at upload time.
func (s *Store) Size(name string) (int64, error) {
	m, found, err := s.getMeta(name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%s: %w", name, fwerrors.ErrNotFound)
	}
	return m.Size, nil
}

// List returns every locally known entry matching pattern (glob syntax), or
// every entry if pattern is empty.
func (s *Store) List(pattern string) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMetadata).Cursor()
		prefix := []byte(s.name + "/")
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var m meta
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if pattern == "" {
				names = append(names, m.Name)
				continue
			}
			if ok, _ := filepath.Match(pattern, m.Name); ok {
				names = append(names, m.Name)
			}
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

// ListDistinct is List with duplicate names collapsed; since this tree's
// metadata is already keyed by name, it is equivalent to List.
func (s *Store) ListDistinct(pattern string) ([]string, error) {
	return s.List(pattern)
}
