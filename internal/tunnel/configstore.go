package tunnel

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"grimm.is/wgtunnel/internal/backend"
	"grimm.is/wgtunnel/internal/wgconf"
)

// ErrConfigExists is returned when creating or renaming onto an existing
// configuration.
var ErrConfigExists = errors.New("configuration already exists")

// ErrConfigNotFound is returned for a tunnel without a configuration file.
var ErrConfigNotFound = errors.New("configuration not found")

// ConfigStore persists tunnel configurations.
type ConfigStore interface {
	Enumerate() ([]string, error)
	Load(name string) (*wgconf.Config, error)
	Create(name string, cfg *wgconf.Config) error
	Save(name string, cfg *wgconf.Config) error
	Rename(name, replacement string) error
	Delete(name string) error
}

// FileConfigStore keeps one wg-quick style file per tunnel, <dir>/<name>.conf.
type FileConfigStore struct {
	dir string
}

// NewFileConfigStore returns a store rooted at dir.
func NewFileConfigStore(dir string) *FileConfigStore {
	return &FileConfigStore{dir: dir}
}

func (s *FileConfigStore) path(name string) string {
	return filepath.Join(s.dir, name+".conf")
}

// Enumerate returns the names of every valid configuration file in order.
func (s *FileConfigStore) Enumerate() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name, ok := strings.CutSuffix(e.Name(), ".conf")
		if !ok || backend.ValidateName(name) != nil {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Load parses the configuration of name.
func (s *FileConfigStore) Load(name string) (*wgconf.Config, error) {
	f, err := os.Open(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrConfigNotFound)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return wgconf.Parse(f)
}

// Create writes a new configuration file and fails if one exists.
func (s *FileConfigStore) Create(name string, cfg *wgconf.Config) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s: %w", name, ErrConfigExists)
	}
	if err != nil {
		return err
	}
	if _, err := f.WriteString(cfg.WgQuickString()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Save overwrites the configuration of an existing tunnel.
func (s *FileConfigStore) Save(name string, cfg *wgconf.Config) error {
	path := s.path(name)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", name, ErrConfigNotFound)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(cfg.WgQuickString()), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Rename moves the configuration of name to replacement.
func (s *FileConfigStore) Rename(name, replacement string) error {
	target := s.path(replacement)
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("%s: %w", replacement, ErrConfigExists)
	}
	if err := os.Rename(s.path(name), target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", name, ErrConfigNotFound)
		}
		return err
	}
	return nil
}

// Delete removes the configuration of name.
func (s *FileConfigStore) Delete(name string) error {
	err := os.Remove(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", name, ErrConfigNotFound)
	}
	return err
}
