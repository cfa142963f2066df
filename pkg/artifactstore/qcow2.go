package artifactstore

import (
	"encoding/binary"
	"fmt"
	"os"
)

var qcow2Magic = [4]byte{'Q', 'F', 'I', 0xfb}

// qcow2BackingFile reads a qcow2 image's header and returns its backing
// file path, or "" if the image has no backing file or is not qcow2.
// Header layout per the qcow2 spec: magic (4 bytes), version (4 bytes),
// backing_file_offset (8 bytes), backing_file_size (4 bytes).
func qcow2BackingFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for qcow2 header read: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, 24)
	if _, err := f.Read(header); err != nil {
		return "", nil // too short to be qcow2; not an error for non-image artifacts
	}
	var magic [4]byte
	copy(magic[:], header[0:4])
	if magic != qcow2Magic {
		return "", nil
	}

	backingOffset := binary.BigEndian.Uint64(header[8:16])
	backingSize := binary.BigEndian.Uint32(header[16:20])
	if backingOffset == 0 || backingSize == 0 {
		return "", nil
	}

	buf := make([]byte, backingSize)
	if _, err := f.ReadAt(buf, int64(backingOffset)); err != nil {
		return "", fmt.Errorf("reading qcow2 backing file name from %s: %w", path, err)
	}
	return string(buf), nil
}
