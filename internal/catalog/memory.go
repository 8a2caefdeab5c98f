package catalog

import (
	"errors"
	"io"
	"sync"

	"savesync/internal/saves"
)

// MemoryCatalog keeps the catalog in memory. Use in tests.
type MemoryCatalog struct {
	mu        sync.Mutex
	doc       *saves.Catalog
	saveCount int
	// FailSaves makes Save fail, leaving the stored document untouched.
	FailSaves bool
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{}
}

func (m *MemoryCatalog) Load() (*saves.Catalog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return saves.NewCatalog(), nil
	}
	return m.doc.Clone(), nil
}

func (m *MemoryCatalog) Save(c *saves.Catalog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves {
		return errors.New("catalog storage unavailable")
	}
	m.doc = c.Clone()
	m.saveCount++
	return nil
}

// SaveCount returns how many saves succeeded.
func (m *MemoryCatalog) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCount
}

func (m *MemoryCatalog) Encode(w io.Writer, c *saves.Catalog) error { return Encode(w, c) }
func (m *MemoryCatalog) Decode(r io.Reader) (*saves.Catalog, error) { return Decode(r) }

var _ saves.CatalogStore = (*MemoryCatalog)(nil)
