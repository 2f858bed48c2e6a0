package prefs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func setTestConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func TestSaveLoadUsername(t *testing.T) {
	dir := setTestConfigDir(t)
	var s Store
	if got := s.LoadUsername(); got != "" {
		t.Fatalf("expected empty name before save, got %q", got)
	}
	if err := s.SaveUsername(" alice "); err != nil {
		t.Fatalf("SaveUsername: %v", err)
	}
	if got := s.LoadUsername(); got != "alice" {
		t.Fatalf("LoadUsername = %q", got)
	}

	data, err := os.ReadFile(filepath.Join(dir, "chatdao", "prefs.json"))
	if err != nil {
		t.Fatalf("read prefs: %v", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode prefs: %v", err)
	}
	if raw[UsernameKey] != "alice" {
		t.Fatalf("expected name under %s, got %v", UsernameKey, raw)
	}
}

func TestSavePreservesOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	if err := os.WriteFile(path, []byte(`{"theme":"retro"}`), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := Store{Path: path}
	if err := s.SaveUsername("bob"); err != nil {
		t.Fatalf("SaveUsername: %v", err)
	}
	values, err := s.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if values["theme"] != "retro" || values[UsernameKey] != "bob" {
		t.Fatalf("unexpected values: %v", values)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := Store{Path: path}
	if got := s.LoadUsername(); got != "" {
		t.Fatalf("expected empty name from corrupt file, got %q", got)
	}
	if err := s.SaveUsername("carol"); err != nil {
		t.Fatalf("SaveUsername over corrupt file: %v", err)
	}
	if got := s.LoadUsername(); got != "carol" {
		t.Fatalf("LoadUsername = %q", got)
	}
}
