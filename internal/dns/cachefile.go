package dns

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LoadCacheFile reads a saved resolver cache. A missing file is not an
// error, it just yields an empty cache.
func LoadCacheFile(path string) (map[string]*string, error) {
	entries := make(map[string]*string)
	f, err := os.Open(path) // nolint: gosec
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, fmt.Errorf("could not open cache file: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&entries); err != nil && err != io.EOF {
		return nil, fmt.Errorf("could not decode cache file: %w", err)
	}
	return entries, nil
}

// SaveCacheFile writes the full cache to path, creating the directory if
// needed. The file is replaced atomically, there is no merging with
// previous content.
func SaveCacheFile(path string, entries map[string]*string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("could not create cache directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp) // nolint: gosec
	if err != nil {
		return fmt.Errorf("could not create cache file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		f.Close()
		return fmt.Errorf("could not encode cache file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
