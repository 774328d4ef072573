package dns

import (
	"path/filepath"
	"testing"
)

func TestLoadCacheFileMissing(t *testing.T) {
	t.Parallel()

	entries, err := LoadCacheFile(filepath.Join(t.TempDir(), "does", "not", "exist.json"))
	if err != nil {
		t.Fatalf("missing cache file must not be an error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected an empty cache, got %d entries", len(entries))
	}
}

func TestSaveCacheFileRoundTrip(t *testing.T) {
	t.Parallel()

	// the directory does not exist yet, save has to create it
	path := filepath.Join(t.TempDir(), "results", "rdns.json")

	host := "mail.example.com"
	entries := map[string]*string{
		"192.0.2.1": &host,
		"192.0.2.2": nil,
	}

	if err := SaveCacheFile(path, entries); err != nil {
		t.Fatalf("could not save cache: %v", err)
	}

	loaded, err := LoadCacheFile(path)
	if err != nil {
		t.Fatalf("could not load cache: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(loaded))
	}
	if loaded["192.0.2.1"] == nil || *loaded["192.0.2.1"] != host {
		t.Errorf("wrong entry for 192.0.2.1: %v", loaded["192.0.2.1"])
	}
	if loaded["192.0.2.2"] != nil {
		t.Errorf("negative entry not preserved: %v", loaded["192.0.2.2"])
	}
}

func TestSaveCacheFileOverwrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rdns.json")
	host := "mail.example.com"

	if err := SaveCacheFile(path, map[string]*string{"192.0.2.1": &host}); err != nil {
		t.Fatalf("could not save cache: %v", err)
	}
	if err := SaveCacheFile(path, map[string]*string{"192.0.2.9": nil}); err != nil {
		t.Fatalf("could not save cache: %v", err)
	}

	loaded, err := LoadCacheFile(path)
	if err != nil {
		t.Fatalf("could not load cache: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("save must replace the full content, got %d entries", len(loaded))
	}
	if _, ok := loaded["192.0.2.9"]; !ok {
		t.Error("expected the entry from the second save")
	}
}
