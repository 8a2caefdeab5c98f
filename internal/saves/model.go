package saves

import (
	"path"
	"slices"
	"strings"
	"time"
)

// LatestName is the sentinel name of the always-current snapshot of a config.
const LatestName = "Latest"

// CatalogSchemaVersion is the schema version written into every catalog document.
const CatalogSchemaVersion = 2

// ArchiveExt is the extension of every backup archive object.
const ArchiveExt = ".zip"

// CatalogKey is the remote key of the shared catalog document.
const CatalogKey = "catalog.json"

// SavePath is one piece of save data to capture.
type SavePath struct {
	// Path is a logical template path (see package paths).
	Path        string `json:"path"`
	IsDirectory bool   `json:"is_directory"`
}

// SaveConfig describes one tracked application.
type SaveConfig struct {
	ConfigID            string     `json:"config_id"`
	LocalIDs            []string   `json:"local_ids"`
	ExcludedLocalIDs    []string   `json:"excluded_local_ids,omitempty"`
	DisplayName         string     `json:"display_name"`
	SavePaths           []SavePath `json:"save_paths"`
	RestoreExcludePaths []string   `json:"restore_exclude_paths,omitempty"`
	DisableAutoMatch    bool       `json:"disable_auto_match"`

	// Revision counts user edits; the higher revision wins a merge, then
	// the later ModifiedAt.
	Revision   int       `json:"revision,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`

	// Cached mirror of the cloud head.
	CloudLatestCRC      string    `json:"cloud_latest_crc,omitempty"`
	CloudVersionHistory []string  `json:"cloud_version_history,omitempty"`
	CloudLatestTime     time.Time `json:"cloud_latest_time"`
	CloudLatestSize     int64     `json:"cloud_latest_size,omitempty"`
}

// HasLocalID reports whether id is linked to the config.
func (c *SaveConfig) HasLocalID(id string) bool {
	return slices.Contains(c.LocalIDs, id)
}

// IsExcluded reports whether id was explicitly unlinked from the config.
func (c *SaveConfig) IsExcluded(id string) bool {
	return slices.Contains(c.ExcludedLocalIDs, id)
}

// Clone returns a deep copy.
func (c *SaveConfig) Clone() *SaveConfig {
	out := *c
	out.LocalIDs = slices.Clone(c.LocalIDs)
	out.ExcludedLocalIDs = slices.Clone(c.ExcludedLocalIDs)
	out.SavePaths = slices.Clone(c.SavePaths)
	out.RestoreExcludePaths = slices.Clone(c.RestoreExcludePaths)
	out.CloudVersionHistory = slices.Clone(c.CloudVersionHistory)
	return &out
}

// BackupRecord is one captured snapshot.
type BackupRecord struct {
	ID           string    `json:"id"`
	ConfigID     string    `json:"config_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	FileSize     int64     `json:"file_size"`
	IsAutoBackup bool      `json:"is_auto_backup"`
	CRC          string    `json:"crc"`
	// VersionHistory lists every superseded CRC, oldest first. It never
	// contains CRC itself.
	VersionHistory []string `json:"version_history,omitempty"`
	// FileName is the archive path relative to the backup root, slash separated.
	// It doubles as the remote key.
	FileName string `json:"file_name"`
	// Revision and ModifiedAt order edits of Description, as for SaveConfig.
	Revision   int       `json:"revision,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`
}

// IsLatest reports whether the record is the sync anchor of its config.
func (b *BackupRecord) IsLatest() bool {
	return b.Name == LatestName
}

// Clone returns a deep copy.
func (b *BackupRecord) Clone() *BackupRecord {
	out := *b
	out.VersionHistory = slices.Clone(b.VersionHistory)
	return &out
}

// supersedes reports whether an edit at (rev, at) replaces one at
// (otherRev, otherAt).
func supersedes(rev int, at time.Time, otherRev int, otherAt time.Time) bool {
	if rev != otherRev {
		return rev > otherRev
	}
	return at.After(otherAt)
}

// Catalog is the persisted document holding every config and backup.
type Catalog struct {
	SchemaVersion int             `json:"schema_version"`
	Configs       []*SaveConfig   `json:"configs"`
	Backups       []*BackupRecord `json:"backups"`
	// Deleted holds the IDs of removed configs and backups so a merge with
	// an older copy does not bring them back.
	Deleted []string `json:"deleted,omitempty"`
}

// NewCatalog returns an empty catalog at the current schema version.
func NewCatalog() *Catalog {
	return &Catalog{SchemaVersion: CatalogSchemaVersion}
}

// Clone returns a deep copy.
func (c *Catalog) Clone() *Catalog {
	out := &Catalog{SchemaVersion: c.SchemaVersion, Deleted: slices.Clone(c.Deleted)}
	for _, cfg := range c.Configs {
		out.Configs = append(out.Configs, cfg.Clone())
	}
	for _, b := range c.Backups {
		out.Backups = append(out.Backups, b.Clone())
	}
	return out
}

func (c *Catalog) config(id string) *SaveConfig {
	for _, cfg := range c.Configs {
		if cfg.ConfigID == id {
			return cfg
		}
	}
	return nil
}

func (c *Catalog) latest(configID string) *BackupRecord {
	for _, b := range c.Backups {
		if b.ConfigID == configID && b.IsLatest() {
			return b
		}
	}
	return nil
}

// LatestKey returns the remote key and relative file name of a config's Latest archive.
func LatestKey(configID string) string {
	return path.Join(configID, LatestName+ArchiveExt)
}

// IsLatestKey reports whether key names a Latest archive.
func IsLatestKey(key string) bool {
	return path.Base(key) == LatestName+ArchiveExt && strings.Contains(key, "/")
}
