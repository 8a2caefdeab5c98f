package saves_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"savesync/internal/saves"
	"savesync/internal/transport"
)

func TestSnapshot_HistoryGrows(t *testing.T) {
	d := newDevice(t, "a", nil, saves.SyncOptions{Realtime: true})

	var crcs []string
	for _, v := range []string{"one", "two", "three"} {
		d.write(map[string]string{"slot.sav": v})
		crcs = append(crcs, d.snapshot().CRC)
	}

	latest := d.store.Latest(testConfigID)
	if latest.CRC != crcs[2] {
		t.Fatalf("Latest CRC = %s, want %s", latest.CRC, crcs[2])
	}
	if !slices.Equal(latest.VersionHistory, crcs[:2]) {
		t.Errorf("VersionHistory = %v, want %v", latest.VersionHistory, crcs[:2])
	}

	local, err := d.svc.Resolver().LocalState(testConfigID)
	if err != nil {
		t.Fatalf("LocalState() error = %v", err)
	}
	if local.CRC != latest.CRC || !slices.Equal(local.VersionHistory, latest.VersionHistory) {
		t.Errorf("embedded state = %+v, want it to match the catalog record", local)
	}
}

func TestSnapshot_ConcurrentSnapshotsKeepEveryCRC(t *testing.T) {
	d := newDevice(t, "a", nil, saves.SyncOptions{Realtime: true})
	d.write(map[string]string{"slot.sav": "v"})

	const n = 8
	recs := make([]*saves.BackupRecord, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := d.svc.Snapshot(context.Background(), testConfigID, d.env)
			if err != nil {
				t.Errorf("Snapshot() error = %v", err)
				return
			}
			recs[i] = rec
		}()
	}
	wg.Wait()

	latest := d.store.Latest(testConfigID)
	if len(latest.VersionHistory) != n-1 {
		t.Fatalf("VersionHistory has %d entries, want %d", len(latest.VersionHistory), n-1)
	}
	for _, rec := range recs {
		if rec == nil || rec.CRC == latest.CRC {
			continue
		}
		if !slices.Contains(latest.VersionHistory, rec.CRC) {
			t.Errorf("CRC %s missing from history %v", rec.CRC, latest.VersionHistory)
		}
	}
}

func TestSnapshot_SameContentNeverRepeatsHistory(t *testing.T) {
	d := newDevice(t, "a", nil, saves.SyncOptions{Realtime: true})
	d.write(map[string]string{"slot.sav": "same"})

	for range 3 {
		// The clock does not move, so only re-stamping keeps CRCs apart.
		rec, err := d.svc.Snapshot(context.Background(), testConfigID, d.env)
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		if slices.Contains(rec.VersionHistory, rec.CRC) {
			t.Fatalf("CRC %s appears in its own history %v", rec.CRC, rec.VersionHistory)
		}
	}
}

func TestSync_PushThenPull(t *testing.T) {
	remote := transport.NewMemoryTransport()
	a := newDevice(t, "a", remote, syncOptions())
	b := newDevice(t, "b", remote, syncOptions())

	a.write(map[string]string{"slot1.sav": "level 1", "sub/opts.ini": "x=1"})
	head := a.snapshot()
	a.drain()

	if _, ok := remote.Get(saves.LatestKey(testConfigID)); !ok {
		t.Fatalf("remote keys = %v, want the Latest archive", remote.Keys())
	}
	if a.status() != saves.InSync {
		t.Errorf("device A status = %v after push, want in-sync", a.status())
	}

	decision, err := b.launch()
	if err != nil {
		t.Fatalf("device B OnBeforeLaunch() error = %v", err)
	}
	if decision.Action != saves.ActionPulled {
		t.Fatalf("device B action = %v, want pulled", decision.Action)
	}
	if !sameTree(b.read(), a.read()) {
		t.Errorf("device B saves = %v, want %v", b.read(), a.read())
	}
	if got := b.store.Latest(testConfigID); got.CRC != head.CRC {
		t.Errorf("device B head = %s, want adopted %s", got.CRC, head.CRC)
	}
	if len(b.store.Latest(testConfigID).VersionHistory) != 0 {
		t.Error("pulling grew the history")
	}
	b.drain()

	// B plays on; A is now the one behind.
	b.write(map[string]string{"slot1.sav": "level 2"})
	b.snapshot()
	b.drain()

	decision, err = a.launch()
	if err != nil {
		t.Fatalf("device A OnBeforeLaunch() error = %v", err)
	}
	if decision.Action != saves.ActionPulled {
		t.Fatalf("device A action = %v, want pulled", decision.Action)
	}
	if got := a.read()["slot1.sav"]; got != "level 2" {
		t.Errorf("device A slot1.sav = %q, want level 2", got)
	}
	a.drain()

	// The pull over existing saves kept an auto backup of them.
	var autos int
	for _, rec := range a.store.Backups(testConfigID) {
		if rec.IsAutoBackup {
			autos++
		}
	}
	if autos != 1 {
		t.Errorf("device A has %d auto backups, want 1", autos)
	}
}

func TestSync_CloudBehindSchedulesPush(t *testing.T) {
	remote := transport.NewMemoryTransport()
	opts := syncOptions()
	opts.Realtime = false
	a := newDevice(t, "a", remote, opts)

	a.write(map[string]string{"slot.sav": "v1"})
	if _, err := a.svc.Snapshot(context.Background(), testConfigID, a.env); err != nil {
		t.Fatal(err)
	}
	a.drain()
	if stop, _ := a.svc.OnStop(context.Background(), testConfigID, a.env); stop != nil {
		t.Error("OnStop() took a snapshot with realtime off")
	}

	a.write(map[string]string{"slot.sav": "v2"})
	remote.SetOffline(true)
	a.snapshot()
	a.drain()
	remote.SetOffline(false)

	decision, err := a.svc.OnBeforeLaunch(context.Background(), testConfigID, a.env)
	if err != nil {
		t.Fatalf("OnBeforeLaunch() error = %v", err)
	}
	if decision.Action != saves.ActionPushScheduled || decision.Report.Status != saves.CloudBehind {
		t.Fatalf("decision = %v/%v, want push-scheduled for cloud-behind", decision.Action, decision.Report.Status)
	}
	a.drain()
	if a.status() != saves.InSync {
		t.Errorf("status = %v, want in-sync after the scheduled push", a.status())
	}
}

// divergedDevices returns two devices that shared a head and then both
// changed their saves. A has pushed; B has not.
func divergedDevices(t *testing.T) (a, b *device, remote *transport.MemoryTransport) {
	t.Helper()
	remote = transport.NewMemoryTransport()
	a = newDevice(t, "a", remote, syncOptions())
	b = newDevice(t, "b", remote, syncOptions())

	a.write(map[string]string{"slot.sav": "base"})
	a.snapshot()
	a.drain()
	if _, err := b.launch(); err != nil {
		t.Fatalf("initial pull: %v", err)
	}
	b.drain()

	a.write(map[string]string{"slot.sav": "from a"})
	a.snapshot()
	a.drain()

	remote.SetOffline(true)
	b.write(map[string]string{"slot.sav": "from b"})
	b.snapshot()
	b.drain()
	remote.SetOffline(false)
	return a, b, remote
}

func TestSync_ConflictKeepLocal(t *testing.T) {
	a, b, _ := divergedDevices(t)
	bHead := b.store.Latest(testConfigID)
	aHead := a.store.Latest(testConfigID)

	decision, err := b.launch()
	if !errors.Is(err, saves.ErrConflictUnresolved) {
		t.Fatalf("OnBeforeLaunch() error = %v, want ErrConflictUnresolved", err)
	}
	if decision.Action != saves.ActionNeedsDecision || decision.Report.Status != saves.Conflict {
		t.Fatalf("decision = %v/%v, want a conflict needing a decision", decision.Action, decision.Report.Status)
	}

	report, err := b.svc.ResolveConflict(context.Background(), testConfigID, saves.ChooseKeepLocal, b.env)
	if err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	if report.Status != saves.InSync {
		t.Errorf("status after keep-local = %v, want in-sync", report.Status)
	}
	merged := b.store.Latest(testConfigID)
	for _, crc := range []string{bHead.CRC, aHead.CRC} {
		if !slices.Contains(merged.VersionHistory, crc) {
			t.Errorf("history %v is missing %s", merged.VersionHistory, crc)
		}
	}
	b.drain()

	decision, err = a.launch()
	if err != nil {
		t.Fatalf("device A OnBeforeLaunch() error = %v", err)
	}
	if decision.Action != saves.ActionPulled {
		t.Errorf("device A action = %v, want pulled", decision.Action)
	}
	if got := a.read()["slot.sav"]; got != "from b" {
		t.Errorf("device A slot.sav = %q, want from b", got)
	}
}

func TestSync_ConflictPullCloud(t *testing.T) {
	a, b, _ := divergedDevices(t)
	if _, err := b.launch(); !errors.Is(err, saves.ErrConflictUnresolved) {
		t.Fatalf("OnBeforeLaunch() error = %v, want ErrConflictUnresolved", err)
	}

	report, err := b.svc.ResolveConflict(context.Background(), testConfigID, saves.ChoosePullCloud, b.env)
	if err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	if report.Status != saves.InSync {
		t.Errorf("status = %v, want in-sync", report.Status)
	}
	if got := b.read()["slot.sav"]; got != "from a" {
		t.Errorf("slot.sav = %q, want from a", got)
	}
	if got := b.store.Latest(testConfigID).CRC; got != a.store.Latest(testConfigID).CRC {
		t.Errorf("device B head = %s, want device A's", got)
	}
}

func TestSync_ConflictCancelChangesNothing(t *testing.T) {
	_, b, _ := divergedDevices(t)
	b.launch()
	before := b.store.Latest(testConfigID)

	report, err := b.svc.ResolveConflict(context.Background(), testConfigID, saves.ChooseCancel, b.env)
	if err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	if report.Status != saves.Conflict {
		t.Errorf("status = %v, want conflict", report.Status)
	}
	if b.store.Latest(testConfigID).CRC != before.CRC || b.read()["slot.sav"] != "from b" {
		t.Error("cancel changed local state")
	}
}

func TestSync_PushRefusesToOverwriteUnseenHead(t *testing.T) {
	_, b, _ := divergedDevices(t)

	err := b.svc.PushLatest(context.Background(), testConfigID)
	if !errors.Is(err, saves.ErrConflictUnresolved) {
		t.Errorf("PushLatest() error = %v, want ErrConflictUnresolved", err)
	}
}

func TestSync_KeepLocalDetachesWhenContextEnds(t *testing.T) {
	a, b, remote := divergedDevices(t)
	b.launch()
	b.drain()

	remote.Hold()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report, err := b.svc.ResolveConflict(ctx, testConfigID, saves.ChooseKeepLocal, b.env)
	if !errors.Is(err, saves.ErrDetached) {
		t.Fatalf("ResolveConflict() error = %v, want ErrDetached", err)
	}
	if report == nil {
		t.Fatal("detached resolve returned no report")
	}
	if !b.svc.Tasks().HasActive() {
		t.Error("push is not running in the background")
	}

	remote.Release()
	b.drain()

	if _, err := a.launch(); err != nil {
		t.Fatalf("device A OnBeforeLaunch() error = %v", err)
	}
	if got := a.read()["slot.sav"]; got != "from b" {
		t.Errorf("device A slot.sav = %q, want the detached push to land", got)
	}
}

func TestSync_OfflinePullIsTolerated(t *testing.T) {
	remote := transport.NewMemoryTransport()
	a := newDevice(t, "a", remote, syncOptions())
	a.write(map[string]string{"slot.sav": "cloud"})
	a.snapshot()
	a.drain()

	t.Run("launch goes ahead", func(t *testing.T) {
		b := newDevice(t, "b", remote, syncOptions())
		if err := b.svc.PullCatalog(context.Background()); err != nil {
			t.Fatalf("PullCatalog() error = %v", err)
		}
		remote.SetOffline(true)
		defer remote.SetOffline(false)

		decision, err := b.svc.OnBeforeLaunch(context.Background(), testConfigID, b.env)
		if err != nil {
			t.Fatalf("OnBeforeLaunch() error = %v, want the failure tolerated", err)
		}
		if decision.TransferErr == nil || !errors.Is(decision.TransferErr, saves.ErrTransportFailure) {
			t.Errorf("TransferErr = %v, want a transport failure", decision.TransferErr)
		}
		if decision.Action != saves.ActionNone {
			t.Errorf("Action = %v, want none", decision.Action)
		}
	})

	t.Run("required sync blocks the launch", func(t *testing.T) {
		opts := syncOptions()
		opts.RequireSync = true
		c := newDevice(t, "c", remote, opts)
		if err := c.svc.PullCatalog(context.Background()); err != nil {
			t.Fatalf("PullCatalog() error = %v", err)
		}
		remote.SetOffline(true)
		defer remote.SetOffline(false)

		if _, err := c.svc.OnBeforeLaunch(context.Background(), testConfigID, c.env); !errors.Is(err, saves.ErrTransportFailure) {
			t.Errorf("OnBeforeLaunch() error = %v, want ErrTransportFailure", err)
		}
	})
}

func TestSync_FailedPushIsJournaledAndRetried(t *testing.T) {
	remote := transport.NewMemoryTransport()
	a := newDevice(t, "a", remote, syncOptions())
	a.write(map[string]string{"slot.sav": "v1"})

	remote.SetOffline(true)
	a.snapshot()
	a.drain()

	pending, _ := a.svc.PendingTransfers()
	if len(pending) != 1 || pending[0].Kind != saves.TransferPushLatest {
		t.Fatalf("pending = %v, want one push_latest", pending)
	}
	if pending[0].Attempts != 1 || !strings.Contains(pending[0].LastError, "offline") {
		t.Errorf("pending = %+v, want one failed attempt recorded", pending[0])
	}

	remote.SetOffline(false)
	n, err := a.svc.RetryPending()
	if err != nil || n != 1 {
		t.Fatalf("RetryPending() = %d, %v, want 1", n, err)
	}
	a.drain()

	if pending, _ := a.svc.PendingTransfers(); len(pending) != 0 {
		t.Errorf("pending = %v after retry, want none", pending)
	}
	if _, ok := remote.Get(saves.LatestKey(testConfigID)); !ok {
		t.Error("retried push did not upload the Latest archive")
	}
}

func TestSync_ShutdownIsBounded(t *testing.T) {
	remote := transport.NewMemoryTransport()
	a := newDevice(t, "a", remote, syncOptions())
	a.write(map[string]string{"slot.sav": "v1"})

	remote.Hold()
	defer remote.Release()
	a.snapshot()

	start := time.Now()
	if a.svc.Shutdown(100 * time.Millisecond) {
		t.Fatal("Shutdown() reported drained while the upload was held")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Shutdown() took %v", elapsed)
	}
	if !a.logger.Contains("abandoning background task") {
		t.Error("abandoned task was not logged")
	}
	if pending, _ := a.svc.PendingTransfers(); len(pending) != 1 {
		t.Errorf("pending = %v, want the abandoned push kept for next start", pending)
	}
}

func TestSync_DisabledNeverTouchesTransport(t *testing.T) {
	remote := transport.NewMemoryTransport()
	opts := syncOptions()
	opts.Enabled = false
	a := newDevice(t, "a", remote, opts)
	a.write(map[string]string{"slot.sav": "v1"})

	if err := a.svc.OnStart(context.Background()); err != nil {
		t.Fatalf("OnStart() error = %v", err)
	}
	a.snapshot()
	if _, err := a.svc.CreateBackup(context.Background(), testConfigID, "", false, a.env); err != nil {
		t.Fatalf("CreateBackup() error = %v", err)
	}
	a.drain()

	for _, op := range []string{transport.OpUpload, transport.OpDownload, transport.OpList} {
		if n := remote.Calls(op); n != 0 {
			t.Errorf("%s called %d times with sync disabled", op, n)
		}
	}
	if err := a.svc.PushLatest(context.Background(), testConfigID); !errors.Is(err, saves.ErrTransportFailure) {
		t.Errorf("PushLatest() error = %v, want ErrTransportFailure", err)
	}
}

func TestSync_DeleteBackupMirrorsToCloud(t *testing.T) {
	remote := transport.NewMemoryTransport()
	a := newDevice(t, "a", remote, syncOptions())
	a.write(map[string]string{"slot.sav": "v1"})

	rec, err := a.svc.CreateBackup(context.Background(), testConfigID, "before boss", false, a.env)
	if err != nil {
		t.Fatalf("CreateBackup() error = %v", err)
	}
	a.drain()
	if _, ok := remote.Get(rec.FileName); !ok {
		t.Fatalf("remote keys = %v, want %s", remote.Keys(), rec.FileName)
	}

	if err := a.svc.DeleteBackup(context.Background(), rec); err != nil {
		t.Fatalf("DeleteBackup() error = %v", err)
	}
	a.drain()
	if _, ok := remote.Get(rec.FileName); ok {
		t.Error("remote archive survived the delete")
	}

	latest := a.snapshot()
	if err := a.svc.DeleteBackup(context.Background(), latest); !errors.Is(err, saves.ErrLatestProtected) {
		t.Errorf("DeleteBackup(Latest) error = %v, want ErrLatestProtected", err)
	}
}

func TestSync_BackupsReachOtherDevices(t *testing.T) {
	remote := transport.NewMemoryTransport()
	a := newDevice(t, "a", remote, syncOptions())
	b := newDevice(t, "b", remote, syncOptions())
	a.write(map[string]string{"slot.sav": "v1"})

	rec, err := a.svc.CreateBackup(context.Background(), testConfigID, "checkpoint", false, a.env)
	if err != nil {
		t.Fatalf("CreateBackup() error = %v", err)
	}
	a.drain()

	if err := b.svc.OnStart(context.Background()); err != nil {
		t.Fatalf("OnStart() error = %v", err)
	}
	got, err := b.store.Backup(rec.ID)
	if err != nil {
		t.Fatalf("device B does not know the backup: %v", err)
	}
	if got.Description != "checkpoint" {
		t.Errorf("Description = %q, want checkpoint", got.Description)
	}
	if _, err := b.store.RestoreBackup(got, b.env, nil); err != nil {
		t.Fatalf("RestoreBackup() on device B error = %v", err)
	}
	if b.read()["slot.sav"] != "v1" {
		t.Errorf("device B saves = %v, want the restored backup", b.read())
	}
}

func TestSync_PushCatalogKeepsLocalEdits(t *testing.T) {
	remote := transport.NewMemoryTransport()
	a := newDevice(t, "a", remote, syncOptions())
	a.write(map[string]string{"slot.sav": "v1"})

	rec, err := a.svc.CreateBackup(context.Background(), testConfigID, "", true, a.env)
	if err != nil {
		t.Fatalf("CreateBackup() error = %v", err)
	}
	a.drain()

	if _, err := a.store.UpdateDescription(rec.ID, "keep me"); err != nil {
		t.Fatalf("UpdateDescription() error = %v", err)
	}
	cfg, err := a.store.Config(testConfigID)
	if err != nil {
		t.Fatal(err)
	}
	cfg.DisplayName = "Game (GOTY)"
	cfg.SavePaths = append(cfg.SavePaths, saves.SavePath{Path: "{InstallDir}/settings.ini"})
	if _, err := a.store.SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	if err := a.svc.PushCatalog(context.Background()); err != nil {
		t.Fatalf("PushCatalog() error = %v", err)
	}

	got, err := a.store.Backup(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "keep me" || got.IsAutoBackup {
		t.Errorf("backup = %q auto=%v, want the note as a manual backup", got.Description, got.IsAutoBackup)
	}
	cfg, _ = a.store.Config(testConfigID)
	if cfg.DisplayName != "Game (GOTY)" || len(cfg.SavePaths) != 2 {
		t.Errorf("config = %q with %d paths, want the local edit", cfg.DisplayName, len(cfg.SavePaths))
	}

	b := newDevice(t, "b", remote, syncOptions())
	if err := b.svc.PullCatalog(context.Background()); err != nil {
		t.Fatalf("PullCatalog() error = %v", err)
	}
	if got, err := b.store.Backup(rec.ID); err != nil || got.Description != "keep me" {
		t.Errorf("device B backup = %+v, %v, want the shared note", got, err)
	}
}

func TestSync_DeleteConfigRemovesRemoteObjects(t *testing.T) {
	remote := transport.NewMemoryTransport()
	a := newDevice(t, "a", remote, syncOptions())
	a.write(map[string]string{"slot.sav": "v1"})
	a.snapshot()
	if _, err := a.svc.CreateBackup(context.Background(), testConfigID, "", false, a.env); err != nil {
		t.Fatal(err)
	}
	a.drain()

	if err := a.svc.DeleteConfig(context.Background(), testConfigID); err != nil {
		t.Fatalf("DeleteConfig() error = %v", err)
	}
	a.drain()

	for _, k := range remote.Keys() {
		if strings.HasPrefix(k, testConfigID+"/") {
			t.Errorf("remote still holds %s", k)
		}
	}
	if _, err := a.store.Config(testConfigID); !errors.Is(err, saves.ErrUnknownConfig) {
		t.Errorf("Config() error = %v, want ErrUnknownConfig", err)
	}
}
