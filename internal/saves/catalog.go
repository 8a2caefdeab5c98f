package saves

import "io"

// CatalogStore persists the catalog document. Save replaces the whole
// document; partial writes are never visible to Load.
type CatalogStore interface {
	Load() (*Catalog, error)
	Save(c *Catalog) error

	// Encode and Decode are the wire form used for the cloud copy. Decode
	// migrates older schema versions.
	Encode(w io.Writer, c *Catalog) error
	Decode(r io.Reader) (*Catalog, error)
}
