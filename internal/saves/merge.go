package saves

import "slices"

// MergeCatalogs combines the local catalog with one pulled from the cloud.
//
// The cloud document is the base. Configs only known locally are kept, and so
// are local records missing from the cloud whose archive still exists on this
// device. Latest records always come from the local side: they describe this
// replica, and the cloud's Latest records are folded into the cloud mirror
// fields of their config instead. Deletions recorded on either side win.
// Records known to both sides take their edited fields from the side with the
// newer revision; a backup stays manual once either side made it manual.
// Local ID sets and exclusions are unioned, a local claim on a local ID wins
// over the cloud's, and DisableAutoMatch stays set once either side set it.
func MergeCatalogs(local, cloud *Catalog, archiveExists func(*BackupRecord) bool) *Catalog {
	out := cloud.Clone()
	out.SchemaVersion = CatalogSchemaVersion
	out.Deleted = dedupe(slices.Concat(cloud.Deleted, local.Deleted))

	gone := map[string]bool{}
	for _, id := range out.Deleted {
		gone[id] = true
	}
	out.Configs = slices.DeleteFunc(out.Configs, func(c *SaveConfig) bool { return gone[c.ConfigID] })

	cloudLatest := map[string]*BackupRecord{}
	kept := out.Backups[:0]
	for _, b := range out.Backups {
		switch {
		case gone[b.ID] || gone[b.ConfigID]:
		case b.IsLatest():
			cloudLatest[b.ConfigID] = b
		default:
			kept = append(kept, b)
		}
	}
	out.Backups = kept

	inCloud := map[string]*BackupRecord{}
	for _, b := range out.Backups {
		inCloud[b.ID] = b
	}
	for _, b := range local.Backups {
		if gone[b.ID] || gone[b.ConfigID] {
			continue
		}
		if cb, ok := inCloud[b.ID]; ok {
			if supersedes(b.Revision, b.ModifiedAt, cb.Revision, cb.ModifiedAt) {
				cb.Description = b.Description
				cb.Revision = b.Revision
				cb.ModifiedAt = b.ModifiedAt
			}
			cb.IsAutoBackup = cb.IsAutoBackup && b.IsAutoBackup
			continue
		}
		if !archiveExists(b) {
			continue
		}
		out.Backups = append(out.Backups, b.Clone())
	}

	for _, lc := range local.Configs {
		if gone[lc.ConfigID] {
			continue
		}
		cc := out.config(lc.ConfigID)
		if cc == nil {
			out.Configs = append(out.Configs, lc.Clone())
			continue
		}
		if supersedes(lc.Revision, lc.ModifiedAt, cc.Revision, cc.ModifiedAt) {
			cc.DisplayName = lc.DisplayName
			cc.SavePaths = slices.Clone(lc.SavePaths)
			cc.RestoreExcludePaths = slices.Clone(lc.RestoreExcludePaths)
			cc.Revision = lc.Revision
			cc.ModifiedAt = lc.ModifiedAt
		}
		cc.ExcludedLocalIDs = dedupe(slices.Concat(cc.ExcludedLocalIDs, lc.ExcludedLocalIDs))
		cc.LocalIDs = slices.DeleteFunc(dedupe(slices.Concat(lc.LocalIDs, cc.LocalIDs)), cc.IsExcluded)
		cc.DisableAutoMatch = cc.DisableAutoMatch || lc.DisableAutoMatch
	}

	for _, lc := range local.Configs {
		for _, id := range lc.LocalIDs {
			for _, c := range out.Configs {
				if c.ConfigID != lc.ConfigID {
					c.LocalIDs = slices.DeleteFunc(c.LocalIDs, func(v string) bool { return v == id })
				}
			}
		}
	}

	for _, c := range out.Configs {
		if rec, ok := cloudLatest[c.ConfigID]; ok {
			c.CloudLatestCRC = rec.CRC
			c.CloudVersionHistory = slices.Clone(rec.VersionHistory)
			c.CloudLatestTime = rec.CreatedAt
			c.CloudLatestSize = rec.FileSize
		}
	}

	return out
}
