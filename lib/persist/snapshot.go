package persist

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/tenkv/tenkv/lib/kv"
)

// Constants for the snapshot file format
const (
	snapshotMagic   = "TENKVSNAP\x00" // File format identifier
	snapshotVersion = 1
)

// StoreSnapshot is the full serialization of the database collection taken
// at shutdown (or on demand). User credentials and ownership indices are not
// part of it, they live in write-through persistent maps.
type StoreSnapshot struct {
	Databases map[string]kv.Snapshot
}

// --------------------------------------------------------------------------
// Codec
// --------------------------------------------------------------------------

// WriteSnapshot writes the magic number, format version and the gob-encoded
// snapshot body to w.
func WriteSnapshot(w io.Writer, snap StoreSnapshot) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return err
	}
	if err := bw.WriteByte(snapshotVersion); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return bw.Flush()
}

// ReadSnapshot reads and verifies a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (StoreSnapshot, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return StoreSnapshot{}, err
	}
	if string(magic) != snapshotMagic {
		return StoreSnapshot{}, fmt.Errorf("invalid snapshot format: magic number mismatch")
	}

	version, err := br.ReadByte()
	if err != nil {
		return StoreSnapshot{}, err
	}
	if version != snapshotVersion {
		return StoreSnapshot{}, fmt.Errorf("unsupported snapshot version: %d (expected %d)", version, snapshotVersion)
	}

	var snap StoreSnapshot
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return StoreSnapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

// --------------------------------------------------------------------------
// File Helpers
// --------------------------------------------------------------------------

// SaveSnapshot writes the snapshot to path via a temp file and rename.
func SaveSnapshot(path string, snap StoreSnapshot) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	if err := WriteSnapshot(file, snap); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadSnapshot reads the snapshot at path. The boolean reports whether a
// snapshot file existed; its absence is not an error.
func LoadSnapshot(path string) (StoreSnapshot, bool, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return StoreSnapshot{}, false, nil
	}
	if err != nil {
		return StoreSnapshot{}, false, err
	}
	defer file.Close()

	snap, err := ReadSnapshot(file)
	if err != nil {
		return StoreSnapshot{}, true, err
	}
	return snap, true, nil
}
