package catalog

import (
	"fmt"

	"savesync/internal/config"
	"savesync/internal/saves"
)

// NewCatalogFromConfig creates a catalog store based on the catalog config type.
func NewCatalogFromConfig(cfg config.CatalogConfig) (saves.CatalogStore, error) {
	switch cfg.Type {
	case "file", "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for file catalog")
		}
		return NewFileCatalog(cfg.Path), nil
	case "memory":
		return NewMemoryCatalog(), nil
	default:
		return nil, fmt.Errorf("unknown catalog type: %s", cfg.Type)
	}
}
