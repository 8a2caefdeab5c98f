package saves_test

import (
	"slices"
	"testing"
	"time"

	"savesync/internal/saves"
)

func allArchivesExist(*saves.BackupRecord) bool { return true }

func rec(id, configID, name, crc string) *saves.BackupRecord {
	return &saves.BackupRecord{
		ID:        id,
		ConfigID:  configID,
		Name:      name,
		CRC:       crc,
		CreatedAt: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		FileName:  configID + "/" + id + saves.ArchiveExt,
	}
}

func ids(recs []*saves.BackupRecord) []string {
	var out []string
	for _, r := range recs {
		out = append(out, r.ID)
	}
	slices.Sort(out)
	return out
}

func TestMergeCatalogs_Backups(t *testing.T) {
	local := saves.NewCatalog()
	local.Configs = []*saves.SaveConfig{{ConfigID: "cfg"}}
	local.Backups = []*saves.BackupRecord{
		rec("shared", "cfg", "b", "01"),
		rec("local-only", "cfg", "b", "02"),
		rec("local-gone", "cfg", "b", "03"),
		rec("deleted-in-cloud", "cfg", "b", "04"),
	}

	cloud := saves.NewCatalog()
	cloud.Configs = []*saves.SaveConfig{{ConfigID: "cfg"}}
	cloud.Backups = []*saves.BackupRecord{
		rec("shared", "cfg", "b", "01"),
		rec("cloud-only", "cfg", "b", "05"),
	}
	cloud.Deleted = []string{"deleted-in-cloud"}

	exists := func(b *saves.BackupRecord) bool { return b.ID != "local-gone" }
	got := saves.MergeCatalogs(local, cloud, exists)

	want := []string{"cloud-only", "local-only", "shared"}
	if !slices.Equal(ids(got.Backups), want) {
		t.Errorf("backups = %v, want %v", ids(got.Backups), want)
	}
	if !slices.Contains(got.Deleted, "deleted-in-cloud") {
		t.Errorf("Deleted = %v, want the cloud tombstone kept", got.Deleted)
	}
}

func TestMergeCatalogs_LocalDeletionWins(t *testing.T) {
	local := saves.NewCatalog()
	local.Deleted = []string{"gone-cfg", "gone-backup"}

	cloud := saves.NewCatalog()
	cloud.Configs = []*saves.SaveConfig{{ConfigID: "gone-cfg"}, {ConfigID: "kept"}}
	cloud.Backups = []*saves.BackupRecord{
		rec("x", "gone-cfg", "b", "01"),
		rec("gone-backup", "kept", "b", "02"),
		rec("y", "kept", "b", "03"),
	}

	got := saves.MergeCatalogs(local, cloud, allArchivesExist)
	if len(got.Configs) != 1 || got.Configs[0].ConfigID != "kept" {
		t.Errorf("configs = %v, want only kept", got.Configs)
	}
	if !slices.Equal(ids(got.Backups), []string{"y"}) {
		t.Errorf("backups = %v, want [y]", ids(got.Backups))
	}
}

func TestMergeCatalogs_LatestRecords(t *testing.T) {
	local := saves.NewCatalog()
	local.Configs = []*saves.SaveConfig{{ConfigID: "cfg", CloudLatestCRC: "OLD"}}
	local.Backups = []*saves.BackupRecord{rec("mine", "cfg", saves.LatestName, "LOCAL")}

	cloudHead := rec("theirs", "cfg", saves.LatestName, "CLOUD")
	cloudHead.VersionHistory = []string{"LOCAL"}
	cloudHead.FileSize = 99
	cloud := saves.NewCatalog()
	cloud.Configs = []*saves.SaveConfig{{ConfigID: "cfg"}}
	cloud.Backups = []*saves.BackupRecord{cloudHead}

	got := saves.MergeCatalogs(local, cloud, allArchivesExist)

	if !slices.Equal(ids(got.Backups), []string{"mine"}) {
		t.Errorf("backups = %v, want only the local Latest", ids(got.Backups))
	}
	c := got.Configs[0]
	if c.CloudLatestCRC != "CLOUD" || c.CloudLatestSize != 99 || !slices.Equal(c.CloudVersionHistory, []string{"LOCAL"}) {
		t.Errorf("mirror = %s %d %v, want the cloud Latest", c.CloudLatestCRC, c.CloudLatestSize, c.CloudVersionHistory)
	}
}

func TestMergeCatalogs_Configs(t *testing.T) {
	local := saves.NewCatalog()
	local.Configs = []*saves.SaveConfig{
		{ConfigID: "shared", LocalIDs: []string{"steam-1", "claimed"}, ExcludedLocalIDs: []string{"old"}},
		{ConfigID: "local-only", DisplayName: "Mine"},
	}

	cloud := saves.NewCatalog()
	cloud.Configs = []*saves.SaveConfig{
		{ConfigID: "shared", LocalIDs: []string{"gog-1", "old"}, DisableAutoMatch: true},
		{ConfigID: "other", LocalIDs: []string{"claimed"}},
	}

	got := saves.MergeCatalogs(local, cloud, allArchivesExist)

	byID := map[string]*saves.SaveConfig{}
	for _, c := range got.Configs {
		byID[c.ConfigID] = c
	}
	if byID["local-only"] == nil {
		t.Fatal("local-only config was dropped")
	}

	shared := byID["shared"]
	for _, id := range []string{"steam-1", "gog-1", "claimed"} {
		if !shared.HasLocalID(id) {
			t.Errorf("shared.LocalIDs = %v, missing %s", shared.LocalIDs, id)
		}
	}
	if shared.HasLocalID("old") || !shared.IsExcluded("old") {
		t.Errorf("excluded id old should be dropped: LocalIDs %v", shared.LocalIDs)
	}
	if !shared.DisableAutoMatch {
		t.Error("DisableAutoMatch from the cloud was lost")
	}
	if byID["other"].HasLocalID("claimed") {
		t.Error("local claim on claimed did not win")
	}
}

func TestMergeCatalogs_DisableAutoMatchIsSticky(t *testing.T) {
	local := saves.NewCatalog()
	local.Configs = []*saves.SaveConfig{{ConfigID: "c", DisableAutoMatch: true}}
	cloud := saves.NewCatalog()
	cloud.Configs = []*saves.SaveConfig{{ConfigID: "c"}}

	if got := saves.MergeCatalogs(local, cloud, allArchivesExist); !got.Configs[0].DisableAutoMatch {
		t.Error("local opt-out was cleared by the merge")
	}
}

func TestMergeCatalogs_NewerEditWins(t *testing.T) {
	earlier := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	tests := []struct {
		name      string
		local     saves.SaveConfig
		cloud     saves.SaveConfig
		wantName  string
		wantPaths int
	}{
		{
			name:      "local edit with higher revision",
			local:     saves.SaveConfig{DisplayName: "Renamed", SavePaths: []saves.SavePath{{Path: "a"}, {Path: "b"}}, Revision: 2, ModifiedAt: earlier},
			cloud:     saves.SaveConfig{DisplayName: "Game", SavePaths: []saves.SavePath{{Path: "a"}}, Revision: 1, ModifiedAt: later},
			wantName:  "Renamed",
			wantPaths: 2,
		},
		{
			name:      "cloud edit with higher revision",
			local:     saves.SaveConfig{DisplayName: "Game", SavePaths: []saves.SavePath{{Path: "a"}}, Revision: 1},
			cloud:     saves.SaveConfig{DisplayName: "Other device", SavePaths: []saves.SavePath{{Path: "a"}, {Path: "c"}}, Revision: 2},
			wantName:  "Other device",
			wantPaths: 2,
		},
		{
			name:      "same revision, later edit wins",
			local:     saves.SaveConfig{DisplayName: "Later", Revision: 2, ModifiedAt: later},
			cloud:     saves.SaveConfig{DisplayName: "Earlier", Revision: 2, ModifiedAt: earlier},
			wantName:  "Later",
			wantPaths: 0,
		},
		{
			name:      "identical edit keeps the cloud copy",
			local:     saves.SaveConfig{DisplayName: "Local", Revision: 2, ModifiedAt: earlier},
			cloud:     saves.SaveConfig{DisplayName: "Cloud", Revision: 2, ModifiedAt: earlier},
			wantName:  "Cloud",
			wantPaths: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc, cc := tt.local, tt.cloud
			lc.ConfigID, cc.ConfigID = "cfg", "cfg"
			local := saves.NewCatalog()
			local.Configs = []*saves.SaveConfig{&lc}
			cloud := saves.NewCatalog()
			cloud.Configs = []*saves.SaveConfig{&cc}

			got := saves.MergeCatalogs(local, cloud, allArchivesExist).Configs[0]
			if got.DisplayName != tt.wantName || len(got.SavePaths) != tt.wantPaths {
				t.Errorf("merged = %q with %d paths, want %q with %d", got.DisplayName, len(got.SavePaths), tt.wantName, tt.wantPaths)
			}
		})
	}
}

func TestMergeCatalogs_BackupNoteSurvives(t *testing.T) {
	t.Run("local note wins over the older cloud record", func(t *testing.T) {
		edited := rec("b1", "cfg", "b", "01")
		edited.Description = "keep me"
		edited.Revision = 1
		stale := rec("b1", "cfg", "b", "01")
		stale.IsAutoBackup = true

		local := saves.NewCatalog()
		local.Backups = []*saves.BackupRecord{edited}
		cloud := saves.NewCatalog()
		cloud.Backups = []*saves.BackupRecord{stale}

		got := saves.MergeCatalogs(local, cloud, allArchivesExist).Backups[0]
		if got.Description != "keep me" || got.IsAutoBackup {
			t.Errorf("merged = %q auto=%v, want the local note as a manual backup", got.Description, got.IsAutoBackup)
		}
	})

	t.Run("manual on the cloud stays manual", func(t *testing.T) {
		auto := rec("b1", "cfg", "b", "01")
		auto.IsAutoBackup = true
		auto.Revision = 3
		manual := rec("b1", "cfg", "b", "01")
		manual.Description = "cloud note"
		manual.Revision = 1

		local := saves.NewCatalog()
		local.Backups = []*saves.BackupRecord{auto}
		cloud := saves.NewCatalog()
		cloud.Backups = []*saves.BackupRecord{manual}

		got := saves.MergeCatalogs(local, cloud, allArchivesExist).Backups[0]
		if got.IsAutoBackup {
			t.Error("merged record became an auto backup again")
		}
	})
}
