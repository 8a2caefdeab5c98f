// Package catalog persists the catalog document and converts it to and from
// its JSON wire form.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"savesync/internal/saves"
)

// ErrUnsupportedVersion is returned for documents written by a newer release.
var ErrUnsupportedVersion = errors.New("unsupported catalog schema version")

// v1Config is a config as written by schema version 1, which allowed a
// single local ID.
type v1Config struct {
	saves.SaveConfig
	LocalID string `json:"local_id,omitempty"`
}

type v1Catalog struct {
	Configs []*v1Config           `json:"configs"`
	Backups []*saves.BackupRecord `json:"backups"`
}

// Encode writes c as indented JSON.
func Encode(w io.Writer, c *saves.Catalog) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	return nil
}

// Decode reads a catalog, migrating older schema versions to the current one.
// A document without schema_version is treated as version 1.
func Decode(r io.Reader) (*saves.Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	var head struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	switch {
	case head.SchemaVersion > saves.CatalogSchemaVersion:
		return nil, fmt.Errorf("%w: %d (newest known is %d)", ErrUnsupportedVersion, head.SchemaVersion, saves.CatalogSchemaVersion)
	case head.SchemaVersion <= 1:
		return decodeV1(data)
	}

	var c saves.Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return &c, nil
}

func decodeV1(data []byte) (*saves.Catalog, error) {
	var old v1Catalog
	if err := json.Unmarshal(data, &old); err != nil {
		return nil, fmt.Errorf("parsing v1 catalog: %w", err)
	}

	c := saves.NewCatalog()
	for _, oc := range old.Configs {
		cfg := oc.SaveConfig
		if oc.LocalID != "" && !slices.Contains(cfg.LocalIDs, oc.LocalID) {
			cfg.LocalIDs = append([]string{oc.LocalID}, cfg.LocalIDs...)
		}
		c.Configs = append(c.Configs, &cfg)
	}
	c.Backups = old.Backups
	return c, nil
}
