package expgraph

import (
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/sandialabs/firewheel/pkg/log"
)

// VMCapability is the decoration name every VM vertex carries once a
// plugin has attached its resource and image files.
const VMCapability = "vm"

// AttrVMResourceFiles and AttrVMImages name the decorations a VM vertex
// carries: absolute host paths for VM resource files and disk images
// respectively.
const (
	AttrVMResourceFiles = "vm_resource_files"
	AttrVMImages        = "vm_images"
)

// ArtifactUploadResult is the per-file outcome the original reports back
// to the operator.
type ArtifactUploadResult struct {
	Path   string
	Name   string
	Status UploadStatus
}

// UploadStatus classifies why a file was or was not uploaded.
type UploadStatus int

const (
	StatusUploaded UploadStatus = iota
	StatusSameHash
	StatusNewHash
)

func (s UploadStatus) String() string {
	switch s {
	case StatusUploaded:
		return "uploaded"
	case StatusSameHash:
		return "same_hash"
	case StatusNewHash:
		return "new_hash"
	default:
		return "unknown"
	}
}

// artifactStore is the subset of pkg/artifactstore.Store this pass needs,
// kept narrow so tests can substitute a fake.
type artifactStore interface {
	AddContent(name string, content []byte, force, broadcast bool) error
	UploadDate(name string) (time.Time, bool, error)
	Hash(name string) (string, error)
}

// UploadArtifacts walks every vertex decorated with VMCapability and
// uploads its referenced VM resource and image files, applying the
// mtime-then-hash compare-upload policy per file: absent in the store →
// upload; mtime differs from the stored upload time → hash both,
// uploading only if the hashes differ.
func UploadArtifacts(g *Graph, store artifactStore) ([]ArtifactUploadResult, error) {
	logger := log.WithComponent("expgraph")
	var results []ArtifactUploadResult
	for _, v := range g.Vertices() {
		if !v.Has(VMCapability) {
			continue
		}
		files := vertexFiles(v, AttrVMResourceFiles)
		files = append(files, vertexFiles(v, AttrVMImages)...)
		for _, path := range files {
			result, err := uploadOneFile(store, path, logger)
			if err != nil {
				return results, err
			}
			results = append(results, result)
		}
	}
	return results, nil
}

func vertexFiles(v *Vertex, attr string) []string {
	val, ok := v.Attr(attr)
	if !ok {
		return nil
	}
	files, _ := val.([]string)
	return files
}

func uploadOneFile(store artifactStore, path string, logger zerolog.Logger) (ArtifactUploadResult, error) {
	name := filepath.Base(path)
	result := ArtifactUploadResult{Path: path, Name: name}

	info, err := os.Stat(path)
	if err != nil {
		return result, fmt.Errorf("stat %s: %w", path, err)
	}

	uploadTime, known, err := store.UploadDate(name)
	if err != nil {
		return result, fmt.Errorf("checking upload date for %s: %w", name, err)
	}
	if !known {
		if err := addFile(store, name, path); err != nil {
			return result, err
		}
		result.Status = StatusUploaded
		logger.Info().Str("artifact", name).Msg("uploaded (new)")
		return result, nil
	}

	if info.ModTime().Equal(uploadTime) {
		result.Status = StatusSameHash
		return result, nil
	}

	localHash, err := hashFile(path)
	if err != nil {
		return result, err
	}
	storedHash, err := store.Hash(name)
	if err != nil {
		return result, fmt.Errorf("hashing stored artifact %s: %w", name, err)
	}
	if localHash == storedHash {
		result.Status = StatusSameHash
		return result, nil
	}
	if err := addFile(store, name, path); err != nil {
		return result, err
	}
	result.Status = StatusNewHash
	logger.Info().Str("artifact", name).Msg("uploaded (hash changed)")
	return result, nil
}

func addFile(store artifactStore, name, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return store.AddContent(name, content, true, true)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	h := sha1.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
