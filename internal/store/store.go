package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/thatsimonsguy/ec-fan-controller/internal/fanconfig"
)

// Store keeps the last successfully applied fan config document so the
// daemon can re-apply it after a restart.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load returns the stored config, or nil with no error when nothing has been
// stored yet.
func (s *Store) Load() (*fanconfig.Config, error) {
	cfg, err := fanconfig.LoadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load active config %s: %w", s.path, err)
	}
	return cfg, nil
}

// Save writes cfg as XML via a temp file and rename, so a crash never leaves
// a half-written document behind.
func (s *Store) Save(cfg *fanconfig.Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	data, err := fanconfig.Save(cfg)
	if err != nil {
		return err
	}
	tmpPath := s.path + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	file.Sync()
	file.Close()

	return os.Rename(tmpPath, s.path)
}
