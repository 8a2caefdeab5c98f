package saves

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"savesync/internal/archive"
	"savesync/internal/fs"
	"savesync/internal/paths"
)

// maxRestamp bounds how often a realtime snapshot is re-stamped when its CRC
// collides with its own history.
const maxRestamp = 16

// incomingDir holds downloads until they are adopted. It lives inside the
// backup root so adoption is a rename.
const incomingDir = ".incoming"

// Store owns the catalog and the archive files under the backup root:
//
//	<backupDir>/
//	  <configID>/
//	    Latest.zip                      (realtime snapshot, sync anchor)
//	    20240115T103000Z_<id>.zip       (manual and auto backups)
//	  .incoming/                        (downloads awaiting adoption)
//
// Every mutation is a read-modify-write of the whole catalog document under a
// single mutex; the live document is only replaced after the save succeeded.
type Store struct {
	mu        sync.Mutex
	catalog   CatalogStore
	doc       *Catalog
	backupDir string
	logger    Logger
	clock     Clock
	idgen     IDGenerator
}

// NewStore loads the catalog and prepares the backup root.
func NewStore(catalog CatalogStore, backupDir string, logger Logger, clock Clock, idgen IDGenerator) (*Store, error) {
	doc, err := catalog.Load()
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}
	return &Store{
		catalog:   catalog,
		doc:       doc,
		backupDir: backupDir,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
	}, nil
}

// update applies fn to a copy of the catalog and persists it. Callers must
// hold s.mu.
func (s *Store) update(fn func(doc *Catalog) error) error {
	next := s.doc.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := s.catalog.Save(next); err != nil {
		return fmt.Errorf("saving catalog: %w", err)
	}
	s.doc = next
	return nil
}

// BackupDir returns the backup root.
func (s *Store) BackupDir() string { return s.backupDir }

// PathForKey maps a record file name (or remote key) to its local path.
func (s *Store) PathForKey(key string) string {
	return filepath.Join(s.backupDir, filepath.FromSlash(key))
}

// BackupPath returns where the archive of rec lives on this device.
func (s *Store) BackupPath(rec *BackupRecord) string {
	return s.PathForKey(rec.FileName)
}

// IncomingPath returns a fresh download location for key.
func (s *Store) IncomingPath(key string) (string, error) {
	dir := filepath.Join(s.backupDir, incomingDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating incoming directory: %w", err)
	}
	name := strings.ReplaceAll(key, "/", "_")
	return filepath.Join(dir, s.idgen.New()+"_"+name), nil
}

// Configs returns every config.
func (s *Store) Configs() []*SaveConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*SaveConfig, 0, len(s.doc.Configs))
	for _, c := range s.doc.Configs {
		out = append(out, c.Clone())
	}
	return out
}

// Config returns the config with the given ID.
func (s *Store) Config(id string) (*SaveConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.doc.config(id)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConfig, id)
	}
	return c.Clone(), nil
}

// SaveConfig creates or replaces a config. A missing ConfigID is generated.
// The local IDs of cfg are removed from every other config so each local ID is
// claimed at most once. SaveConfig never changes the cloud mirror fields and
// never clears DisableAutoMatch.
func (s *Store) SaveConfig(cfg *SaveConfig) (*SaveConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in := cfg.Clone()
	if in.ConfigID == "" {
		in.ConfigID = s.idgen.New()
	}
	in.LocalIDs = dedupe(in.LocalIDs)
	in.ExcludedLocalIDs = dedupe(in.ExcludedLocalIDs)

	err := s.update(func(doc *Catalog) error {
		for _, other := range doc.Configs {
			if other.ConfigID != in.ConfigID {
				other.LocalIDs = slices.DeleteFunc(other.LocalIDs, in.HasLocalID)
			}
		}
		in.ModifiedAt = s.clock.Now().UTC()
		existing := doc.config(in.ConfigID)
		if existing == nil {
			in.Revision = 1
			in.CloudLatestCRC = ""
			in.CloudVersionHistory = nil
			in.CloudLatestTime = time.Time{}
			in.CloudLatestSize = 0
			doc.Configs = append(doc.Configs, in.Clone())
			return nil
		}
		in.CloudLatestCRC = existing.CloudLatestCRC
		in.CloudVersionHistory = existing.CloudVersionHistory
		in.CloudLatestTime = existing.CloudLatestTime
		in.CloudLatestSize = existing.CloudLatestSize
		in.DisableAutoMatch = in.DisableAutoMatch || existing.DisableAutoMatch
		in.Revision = existing.Revision + 1
		*existing = *in.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("config saved", "config", in.ConfigID, "name", in.DisplayName)
	return in, nil
}

// DeleteConfig removes a config, its records and its archives. The removed
// records are returned so the caller can mirror the deletion to the cloud.
func (s *Store) DeleteConfig(id string) ([]*BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc.config(id) == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConfig, id)
	}

	var removed []*BackupRecord
	err := s.update(func(doc *Catalog) error {
		doc.Configs = slices.DeleteFunc(doc.Configs, func(c *SaveConfig) bool { return c.ConfigID == id })
		doc.Backups = slices.DeleteFunc(doc.Backups, func(b *BackupRecord) bool {
			if b.ConfigID == id {
				removed = append(removed, b.Clone())
				return true
			}
			return false
		})
		doc.Deleted = append(doc.Deleted, id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := os.RemoveAll(filepath.Join(s.backupDir, id)); err != nil {
		s.logger.Warn("removing config archives", "config", id, "error", err)
	}
	s.logger.Info("config deleted", "config", id, "backups", len(removed))
	return removed, nil
}

// FindConfigByLocalID returns the config claiming localID, or nil.
func (s *Store) FindConfigByLocalID(localID string) *SaveConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.doc.Configs {
		if c.HasLocalID(localID) {
			return c.Clone()
		}
	}
	return nil
}

// AutoMatch links localID to the single config whose display name equals
// displayName (case-insensitive). Configs with DisableAutoMatch set, or that
// excluded localID, are never matched. Returns nil when nothing matched.
func (s *Store) AutoMatch(localID, displayName string) (*SaveConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.doc.Configs {
		if c.HasLocalID(localID) {
			return c.Clone(), nil
		}
	}

	var match *SaveConfig
	for _, c := range s.doc.Configs {
		if c.DisableAutoMatch || c.IsExcluded(localID) || !strings.EqualFold(c.DisplayName, displayName) {
			continue
		}
		if match != nil {
			s.logger.Debug("ambiguous auto match", "local_id", localID, "name", displayName)
			return nil, nil
		}
		match = c
	}
	if match == nil {
		return nil, nil
	}

	if err := s.linkLocked(match.ConfigID, localID); err != nil {
		return nil, err
	}
	return s.doc.config(match.ConfigID).Clone(), nil
}

// LinkLocalID claims localID for the config, removing it from any other
// config and from the config's excluded set.
func (s *Store) LinkLocalID(configID, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linkLocked(configID, localID)
}

func (s *Store) linkLocked(configID, localID string) error {
	if s.doc.config(configID) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownConfig, configID)
	}
	err := s.update(func(doc *Catalog) error {
		for _, c := range doc.Configs {
			if c.ConfigID == configID {
				c.ExcludedLocalIDs = slices.DeleteFunc(c.ExcludedLocalIDs, func(id string) bool { return id == localID })
				if !c.HasLocalID(localID) {
					c.LocalIDs = append(c.LocalIDs, localID)
				}
				continue
			}
			c.LocalIDs = slices.DeleteFunc(c.LocalIDs, func(id string) bool { return id == localID })
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("local id linked", "config", configID, "local_id", localID)
	return nil
}

// UnlinkLocalID removes localID from the config, records it as excluded and
// turns auto matching off for the config.
func (s *Store) UnlinkLocalID(configID, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc.config(configID) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownConfig, configID)
	}
	err := s.update(func(doc *Catalog) error {
		c := doc.config(configID)
		c.LocalIDs = slices.DeleteFunc(c.LocalIDs, func(id string) bool { return id == localID })
		if !c.IsExcluded(localID) {
			c.ExcludedLocalIDs = append(c.ExcludedLocalIDs, localID)
		}
		c.DisableAutoMatch = true
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("local id unlinked", "config", configID, "local_id", localID)
	return nil
}

// ClearDisableAutoMatch re-enables auto matching. It is the only operation
// that clears the flag.
func (s *Store) ClearDisableAutoMatch(configID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc.config(configID) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownConfig, configID)
	}
	return s.update(func(doc *Catalog) error {
		doc.config(configID).DisableAutoMatch = false
		return nil
	})
}

// UpdateCloudMirror records the cloud head of a config.
func (s *Store) UpdateCloudMirror(configID string, cloud CloudState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc.config(configID) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownConfig, configID)
	}
	return s.update(func(doc *Catalog) error {
		c := doc.config(configID)
		c.CloudLatestCRC = cloud.CRC
		c.CloudVersionHistory = slices.Clone(cloud.VersionHistory)
		c.CloudLatestTime = cloud.CreatedAt
		c.CloudLatestSize = cloud.Size
		return nil
	})
}

// Backups returns the records of a config ordered by creation time, oldest
// first. An empty configID returns every record.
func (s *Store) Backups(configID string) []*BackupRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*BackupRecord
	for _, b := range s.doc.Backups {
		if configID == "" || b.ConfigID == configID {
			out = append(out, b.Clone())
		}
	}
	slices.SortStableFunc(out, func(a, b *BackupRecord) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// Backup returns the record with the given ID.
func (s *Store) Backup(id string) (*BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.doc.Backups {
		if b.ID == id {
			return b.Clone(), nil
		}
	}
	return nil, fmt.Errorf("backup not found: %s", id)
}

// Latest returns the Latest record of a config, or nil.
func (s *Store) Latest(configID string) *BackupRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b := s.doc.latest(configID); b != nil {
		return b.Clone()
	}
	return nil
}

// sources resolves every save path of cfg and checks it exists with the
// configured kind.
func (s *Store) sources(cfg *SaveConfig, env paths.Resolver) ([]archive.Source, error) {
	if len(cfg.SavePaths) == 0 {
		return nil, fmt.Errorf("%w: config %s has no save paths", ErrPathNotFound, cfg.ConfigID)
	}

	out := make([]archive.Source, 0, len(cfg.SavePaths))
	for _, sp := range cfg.SavePaths {
		abs, err := env.ToAbsolute(sp.Path)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", sp.Path, err)
		}
		exists, isDir, err := fs.Exists(abs)
		if err != nil {
			return nil, fmt.Errorf("checking %s: %w", abs, err)
		}
		if !exists || isDir != sp.IsDirectory {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, abs)
		}
		out = append(out, archive.Source{Logical: sp.Path, Absolute: abs, IsDirectory: sp.IsDirectory})
	}
	return out, nil
}

// CreateBackup captures the save paths of a config into a new timestamped
// archive. Nothing is written when any save path is missing or unresolvable.
func (s *Store) CreateBackup(configID, note string, isAuto bool, env paths.Resolver) (*BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.doc.config(configID)
	if cfg == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConfig, configID)
	}
	sources, err := s.sources(cfg, env)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	id := s.idgen.New()
	fileName := path.Join(configID, fmt.Sprintf("%s_%s%s", now.Format("20060102T150405Z"), shortID(id), ArchiveExt))
	dest := s.PathForKey(fileName)

	res, err := archive.CreateFile(dest, sources, archive.Options{CreatedAt: now})
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}

	rec := &BackupRecord{
		ID:           id,
		ConfigID:     configID,
		Name:         now.Format("2006-01-02 15:04:05"),
		Description:  note,
		CreatedAt:    now,
		FileSize:     res.Size,
		IsAutoBackup: isAuto,
		CRC:          res.CRC,
		FileName:     fileName,
	}
	err = s.update(func(doc *Catalog) error {
		doc.Backups = append(doc.Backups, rec.Clone())
		return nil
	})
	if err != nil {
		os.Remove(dest)
		return nil, err
	}

	s.logger.Info("backup created", "config", configID, "crc", rec.CRC, "size", rec.FileSize, "auto", isAuto)
	return rec, nil
}

// CreateRealtimeSnapshot replaces the Latest record of a config with a fresh
// capture. Its history is base followed by the previous Latest CRC, if any;
// this is the only place history grows. When the new CRC would appear in its
// own history the creation time is moved forward by a nanosecond and the
// archive rebuilt.
func (s *Store) CreateRealtimeSnapshot(configID string, base []string, env paths.Resolver) (*BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createRealtimeLocked(configID, base, env)
}

// ExtendLatest is CreateRealtimeSnapshot with the current head's history as
// base, read under the same lock so concurrent snapshots each extend the one
// before.
func (s *Store) ExtendLatest(configID string, env paths.Resolver) (*BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createRealtimeLocked(configID, s.headHistoryLocked(configID), env)
}

// headHistoryLocked returns the version history embedded in the local Latest
// archive, falling back to the catalog record. Callers must hold s.mu.
func (s *Store) headHistoryLocked(configID string) []string {
	m, err := archive.ReadManifest(s.PathForKey(LatestKey(configID)))
	if err == nil && m.Latest != nil && m.Latest.CRC != "" {
		return slices.Clone(m.Latest.VersionHistory)
	}
	if rec := s.doc.latest(configID); rec != nil {
		return slices.Clone(rec.VersionHistory)
	}
	return nil
}

func (s *Store) createRealtimeLocked(configID string, base []string, env paths.Resolver) (*BackupRecord, error) {
	cfg := s.doc.config(configID)
	if cfg == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConfig, configID)
	}
	sources, err := s.sources(cfg, env)
	if err != nil {
		return nil, err
	}

	history := slices.Clone(base)
	if prev := s.doc.latest(configID); prev != nil {
		history = append(history, prev.CRC)
	}

	fileName := LatestKey(configID)
	dest := s.PathForKey(fileName)
	staged := dest + ".new"
	createdAt := s.clock.Now().UTC()

	var res *archive.Result
	for attempt := 0; ; attempt++ {
		res, err = archive.CreateFile(staged, sources, archive.Options{
			CreatedAt: createdAt,
			Latest:    &archive.LatestMeta{ConfigID: configID, VersionHistory: history},
		})
		if err != nil {
			return nil, fmt.Errorf("creating archive: %w", err)
		}
		if !slices.Contains(history, res.CRC) {
			break
		}
		if attempt == maxRestamp {
			os.Remove(staged)
			return nil, fmt.Errorf("snapshot CRC %s keeps colliding with its history", res.CRC)
		}
		s.logger.Debug("snapshot crc collision, re-stamping", "config", configID, "crc", res.CRC)
		createdAt = createdAt.Add(time.Nanosecond)
	}

	if err := os.Rename(staged, dest); err != nil {
		os.Remove(staged)
		return nil, fmt.Errorf("installing snapshot: %w", err)
	}

	rec := &BackupRecord{
		ID:             s.idgen.New(),
		ConfigID:       configID,
		Name:           LatestName,
		CreatedAt:      createdAt,
		FileSize:       res.Size,
		CRC:            res.CRC,
		VersionHistory: history,
		FileName:       fileName,
	}
	if err := s.replaceLatest(rec); err != nil {
		return nil, err
	}

	s.logger.Info("realtime snapshot created", "config", configID, "crc", rec.CRC, "history", len(history))
	return rec, nil
}

// AdoptLatest installs a downloaded Latest archive as the local head of a
// config. CRC and history are taken from the archive's embedded metadata, so
// history does not grow. archivePath must be inside the backup root (see
// IncomingPath); the file is moved, not copied.
func (s *Store) AdoptLatest(configID, archivePath string) (*BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.doc.config(configID)
	if cfg == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConfig, configID)
	}

	m, err := archive.ReadManifest(archivePath)
	if err != nil {
		return nil, err
	}

	crc := ""
	var history []string
	createdAt := m.CreatedAt
	if m.Latest != nil && m.Latest.CRC != "" {
		crc = m.Latest.CRC
		history = slices.Clone(m.Latest.VersionHistory)
		createdAt = m.Latest.CreatedAt
	} else {
		s.logger.Warn("pulled archive has no embedded version metadata", "config", configID)
		crc, err = archive.ComputeCRC(archivePath)
		if err != nil {
			return nil, err
		}
		if crc == cfg.CloudLatestCRC {
			history = slices.Clone(cfg.CloudVersionHistory)
		}
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("stat pulled archive: %w", err)
	}

	fileName := LatestKey(configID)
	dest := s.PathForKey(fileName)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.Rename(archivePath, dest); err != nil {
		return nil, fmt.Errorf("installing pulled archive: %w", err)
	}

	rec := &BackupRecord{
		ID:             s.idgen.New(),
		ConfigID:       configID,
		Name:           LatestName,
		CreatedAt:      createdAt,
		FileSize:       info.Size(),
		CRC:            crc,
		VersionHistory: history,
		FileName:       fileName,
	}
	if err := s.replaceLatest(rec); err != nil {
		return nil, err
	}

	s.logger.Info("cloud snapshot adopted", "config", configID, "crc", crc, "history", len(history))
	return rec, nil
}

func (s *Store) replaceLatest(rec *BackupRecord) error {
	return s.update(func(doc *Catalog) error {
		doc.Backups = slices.DeleteFunc(doc.Backups, func(b *BackupRecord) bool {
			return b.ConfigID == rec.ConfigID && b.IsLatest()
		})
		doc.Backups = append(doc.Backups, rec.Clone())
		return nil
	})
}

// RestoreBackup extracts the archive of rec. excludes are logical paths that
// must survive the restore. History is not touched.
func (s *Store) RestoreBackup(rec *BackupRecord, env paths.Resolver, excludes []string) (*archive.Report, error) {
	return s.RestoreArchive(s.BackupPath(rec), env, excludes)
}

// RestoreArchive extracts any archive, resolving its manifest paths with env.
func (s *Store) RestoreArchive(archivePath string, env paths.Resolver, excludes []string) (*archive.Report, error) {
	abs := make([]string, 0, len(excludes))
	for _, ex := range excludes {
		p, err := env.ToAbsolute(ex)
		if err != nil {
			return nil, fmt.Errorf("resolving exclude %q: %w", ex, err)
		}
		abs = append(abs, p)
	}

	report, err := archive.Restore(archivePath, env.ToAbsolute, abs)
	if err != nil {
		return report, fmt.Errorf("restoring %s: %w", filepath.Base(archivePath), err)
	}

	s.logger.Info("archive restored", "archive", filepath.Base(archivePath),
		"restored", len(report.Restored), "preserved", len(report.Preserved), "removed", len(report.Removed))
	return report, nil
}

// DeleteBackup removes the archive and record of rec. When rec was the last
// record of its config the config's archive directory is removed if empty.
func (s *Store) DeleteBackup(rec *BackupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	err := s.update(func(doc *Catalog) error {
		doc.Backups = slices.DeleteFunc(doc.Backups, func(b *BackupRecord) bool {
			if b.ID == rec.ID {
				found = true
				return true
			}
			return false
		})
		if !found {
			return fmt.Errorf("backup not found: %s", rec.ID)
		}
		doc.Deleted = append(doc.Deleted, rec.ID)
		return nil
	})
	if err != nil {
		return err
	}

	s.removeArchives([]*BackupRecord{rec})
	s.logger.Info("backup deleted", "config", rec.ConfigID, "id", rec.ID, "crc", rec.CRC)
	return nil
}

// UpdateDescription sets the note of a record. An edited auto backup becomes
// a manual one and is no longer subject to cleanup.
func (s *Store) UpdateDescription(id, note string) (*BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out *BackupRecord
	err := s.update(func(doc *Catalog) error {
		for _, b := range doc.Backups {
			if b.ID == id {
				b.Description = note
				b.IsAutoBackup = false
				b.Revision++
				b.ModifiedAt = s.clock.Now().UTC()
				out = b.Clone()
				return nil
			}
		}
		return fmt.Errorf("backup not found: %s", id)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CleanupOldAutoBackups deletes the oldest auto backups of a config beyond
// maxCount and returns them. A maxCount of zero or less keeps everything.
func (s *Store) CleanupOldAutoBackups(configID string, maxCount int) ([]*BackupRecord, error) {
	if maxCount <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var autos []*BackupRecord
	for _, b := range s.doc.Backups {
		if b.ConfigID == configID && b.IsAutoBackup && !b.IsLatest() {
			autos = append(autos, b)
		}
	}
	if len(autos) <= maxCount {
		return nil, nil
	}
	slices.SortStableFunc(autos, func(a, b *BackupRecord) int { return a.CreatedAt.Compare(b.CreatedAt) })

	victims := make([]*BackupRecord, 0, len(autos)-maxCount)
	doomed := map[string]bool{}
	for _, b := range autos[:len(autos)-maxCount] {
		victims = append(victims, b.Clone())
		doomed[b.ID] = true
	}

	err := s.update(func(doc *Catalog) error {
		doc.Backups = slices.DeleteFunc(doc.Backups, func(b *BackupRecord) bool { return doomed[b.ID] })
		for _, v := range victims {
			doc.Deleted = append(doc.Deleted, v.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.removeArchives(victims)
	s.logger.Info("old auto backups removed", "config", configID, "count", len(victims))
	return victims, nil
}

// removeArchives deletes archive files and prunes config directories that no
// record refers to anymore. Callers must hold s.mu.
func (s *Store) removeArchives(recs []*BackupRecord) {
	configs := map[string]bool{}
	for _, rec := range recs {
		if err := os.Remove(s.BackupPath(rec)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("removing archive", "file", rec.FileName, "error", err)
		}
		configs[rec.ConfigID] = true
	}
	for configID := range configs {
		if slices.ContainsFunc(s.doc.Backups, func(b *BackupRecord) bool { return b.ConfigID == configID }) {
			continue
		}
		// Only succeeds when empty.
		os.Remove(filepath.Join(s.backupDir, configID))
	}
}

// ExportCatalog writes the catalog in the form shared through the cloud. The
// Latest records of the shared document describe the cloud heads, so the
// local ones are replaced by records built from each config's cloud mirror.
func (s *Store) ExportCatalog(w io.Writer) error {
	s.mu.Lock()
	doc := s.doc.Clone()
	s.mu.Unlock()

	local := map[string]*BackupRecord{}
	doc.Backups = slices.DeleteFunc(doc.Backups, func(b *BackupRecord) bool {
		if b.IsLatest() {
			local[b.ConfigID] = b
			return true
		}
		return false
	})
	for _, c := range doc.Configs {
		if c.CloudLatestCRC == "" {
			continue
		}
		id := c.ConfigID + "-latest"
		if rec, ok := local[c.ConfigID]; ok && rec.CRC == c.CloudLatestCRC {
			id = rec.ID
		}
		doc.Backups = append(doc.Backups, &BackupRecord{
			ID:             id,
			ConfigID:       c.ConfigID,
			Name:           LatestName,
			CreatedAt:      c.CloudLatestTime,
			FileSize:       c.CloudLatestSize,
			CRC:            c.CloudLatestCRC,
			VersionHistory: slices.Clone(c.CloudVersionHistory),
			FileName:       LatestKey(c.ConfigID),
		})
	}
	return s.catalog.Encode(w, doc)
}

// DecodeCatalog parses a catalog in its wire form.
func (s *Store) DecodeCatalog(r io.Reader) (*Catalog, error) {
	return s.catalog.Decode(r)
}

// MergeCloudCatalog folds a catalog pulled from the cloud into the local one
// (see MergeCatalogs). It cannot interleave with any other catalog write.
func (s *Store) MergeCloudCatalog(cloud *Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(func(doc *Catalog) error {
		merged := MergeCatalogs(doc, cloud, func(b *BackupRecord) bool {
			exists, _, err := fs.Exists(s.BackupPath(b))
			return err == nil && exists
		})
		*doc = *merged
		return nil
	})
}

func dedupe(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
