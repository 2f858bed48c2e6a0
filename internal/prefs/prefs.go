// Package prefs persists the chosen display name between runs.
package prefs

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// UsernameKey is the fixed key the display name is stored under.
const UsernameKey = "chatDaoUsername"

// Store reads and writes a small JSON document. The zero value uses the
// user config directory.
type Store struct {
	Path string
}

func (s Store) LoadUsername() string {
	values, err := s.load()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(values[UsernameKey])
}

func (s Store) SaveUsername(name string) error {
	values, err := s.load()
	if err != nil {
		values = map[string]string{}
	}
	values[UsernameKey] = strings.TrimSpace(name)
	return s.save(values)
}

func (s Store) load() (map[string]string, error) {
	path, err := s.path()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	return values, nil
}

func (s Store) save(values map[string]string) error {
	path, err := s.path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (s Store) path() (string, error) {
	if s.Path != "" {
		return s.Path, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	if dir == "" {
		return "", errors.New("no config directory")
	}
	return filepath.Join(dir, "chatdao", "prefs.json"), nil
}
