package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"savesync/internal/saves"
)

// FileCatalog stores the catalog as a single JSON file. Saves go through a
// temp file and a rename, so a crash leaves either the old or the new document.
type FileCatalog struct {
	path string
}

func NewFileCatalog(path string) *FileCatalog {
	return &FileCatalog{path: path}
}

// Path returns the catalog file path.
func (f *FileCatalog) Path() string { return f.path }

// Load reads the catalog. A missing file is an empty catalog.
func (f *FileCatalog) Load() (*saves.Catalog, error) {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return saves.NewCatalog(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer file.Close()

	c, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", f.path, err)
	}
	return c, nil
}

func (f *FileCatalog) Save(c *saves.Catalog) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-catalog-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := Encode(tmpFile, c); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

func (f *FileCatalog) Encode(w io.Writer, c *saves.Catalog) error { return Encode(w, c) }
func (f *FileCatalog) Decode(r io.Reader) (*saves.Catalog, error) { return Decode(r) }

var _ saves.CatalogStore = (*FileCatalog)(nil)
