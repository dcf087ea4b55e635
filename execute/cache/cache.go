// Package cache implements the fingerprint-addressed artifact cache. A cache
// directory is named after the adapter's fingerprint and holds artifact
// files, a metadata document recording the hash inputs, and a sentinel
// written only after every stream element has been persisted. A directory
// without a valid sentinel is invisible to readers.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/spf13/afero"
)

// Cache file names.
const (
	MetadataFile = "_dfm_cache_metadata.json"
	SentinelFile = "_dfm_cache_sentinel.json"
	dirPrefix    = "dfm_cache_"
)

type (
	// Backend is a cache location on an artifact filesystem.
	Backend struct {
		// Fs is the artifact filesystem.
		Fs afero.Fs
		// Root is the directory holding the fingerprint-named folders.
		Root string
	}

	// Metadata records the fingerprint inputs, for debugging.
	Metadata struct {
		Created  time.Time      `json:"created"`
		HashDict map[string]any `json:"hash_dict"`
	}

	// Sentinel validates a cache directory as complete.
	Sentinel struct {
		Created            time.Time `json:"created"`
		NumElementsWritten int       `json:"num_elements_written"`
	}
)

// NewOsBackend builds a backend rooted at dir on the host filesystem.
func NewOsBackend(dir string) *Backend {
	return &Backend{Fs: afero.NewOsFs(), Root: dir}
}

// Digest computes the fingerprint of a hash dictionary: the hex SHA-256 of
// its canonical JSON serialization (object keys sorted).
func Digest(hashDict map[string]any) (string, error) {
	raw, err := json.Marshal(hashDict)
	if err != nil {
		return "", fmt.Errorf("serialize hash dict: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// DirName returns the folder name for a fingerprint.
func DirName(digest string) string {
	return dirPrefix + digest
}

// Dir returns the full cache directory path for a fingerprint.
func (b *Backend) Dir(digest string) string {
	return path.Join(b.Root, DirName(digest))
}

// ReadSentinel parses the sentinel of a cache directory. A missing or
// malformed sentinel means the cache is absent.
func (b *Backend) ReadSentinel(dir string) (*Sentinel, error) {
	raw, err := afero.ReadFile(b.Fs, path.Join(dir, SentinelFile))
	if err != nil {
		return nil, fmt.Errorf("read sentinel: %w", err)
	}
	var s Sentinel
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode sentinel: %w", err)
	}
	if s.NumElementsWritten < 0 {
		return nil, fmt.Errorf("sentinel reports %d elements", s.NumElementsWritten)
	}
	return &s, nil
}

// Prepare clears any previous content of the cache directory and writes the
// metadata document. The directory is invalid until WriteSentinel.
func (b *Backend) Prepare(dir string, hashDict map[string]any) error {
	if err := b.Fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear cache dir: %w", err)
	}
	if err := b.Fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	meta := Metadata{Created: time.Now().UTC(), HashDict: hashDict}
	return b.WriteJSON(dir, MetadataFile, meta)
}

// WriteSentinel publishes the sentinel, marking the directory complete.
func (b *Backend) WriteSentinel(dir string, numElements int) error {
	s := Sentinel{Created: time.Now().UTC(), NumElementsWritten: numElements}
	return b.WriteJSON(dir, SentinelFile, s)
}

// WriteJSON persists one JSON artifact file.
func (b *Backend) WriteJSON(dir, name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := afero.WriteFile(b.Fs, path.Join(dir, name), raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// ReadJSON loads one JSON artifact file.
func (b *Backend) ReadJSON(dir, name string, v any) error {
	raw, err := afero.ReadFile(b.Fs, path.Join(dir, name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// ElementFile names the default JSON artifact for a stream element.
func ElementFile(index int) string {
	return fmt.Sprintf("element_%05d.json", index)
}
