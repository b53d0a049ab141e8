package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/UnknownOlympus/meridian/internal/models"
)

// ErrCorruptStore is returned by Load when the persisted data cannot be decoded.
var ErrCorruptStore = errors.New("cache store is corrupt")

const filePerm = 0o644

// FileStore keeps the cache as a single JSON object mapping
// "<provider>:<query>" to a result or null.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the whole file. A missing file is an empty cache. Entries that
// fail validation are dropped one by one.
func (s *FileStore) Load(_ context.Context) (map[string]*models.GeocodeResult, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]*models.GeocodeResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err = json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptStore, err)
	}

	out := make(map[string]*models.GeocodeResult, len(raw))
	for key, value := range raw {
		if string(value) == "null" {
			out[key] = nil
			continue
		}
		var res models.GeocodeResult
		if json.Unmarshal(value, &res) != nil {
			continue
		}
		out[key] = &res
	}

	return out, nil
}

// Save rewrites the file through a temporary file in the same directory so a
// crash never leaves a truncated cache behind.
func (s *FileStore) Save(_ context.Context, snap Snapshot) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err = enc.Encode(snap.Entries); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	if err = os.Chmod(tmp.Name(), filePerm); err != nil {
		return fmt.Errorf("failed to set cache file mode: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}

// CheckWritable creates and removes a temporary file next to the cache file,
// so a run fails before any provider call when the cache cannot be saved.
func (s *FileStore) CheckWritable() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	probe, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.probe")
	if err != nil {
		return fmt.Errorf("cache directory is not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }
