package app

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"savesync/internal/config"
	"savesync/internal/database"
	"savesync/internal/paths"
	"savesync/internal/saves"
	"savesync/internal/testutil"
	"savesync/internal/transport"
)

func newTestApp(t *testing.T, deviceID string, remote *transport.MemoryTransport, mutate func(*config.Config)) *SyncApp {
	t.Helper()
	t.Setenv("SAVESYNC_VERBOSE", "")

	cfg := config.NewConfig(deviceID, filepath.Join(t.TempDir(), deviceID))
	cfg.Cloud.Enabled = true
	cfg.Cloud.Type = "memory"
	cfg.Cloud.RetryDelaySeconds = 1
	cfg.Cloud.DrainTimeoutSeconds = 5
	if mutate != nil {
		mutate(cfg)
	}

	var opts Options
	if remote != nil {
		opts.Transport = remote
	}
	a, err := NewSyncApp(context.Background(), cfg, "test", "", opts)
	if err != nil {
		t.Fatalf("NewSyncApp() error = %v", err)
	}
	return a
}

func requireTrue(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true(1) not available")
	}
}

func TestSyncApp_LaunchMovesSavesBetweenDevices(t *testing.T) {
	requireTrue(t)
	ctx := context.Background()
	remote := transport.NewMemoryTransport()

	installA := t.TempDir()
	testutil.WriteTree(t, filepath.Join(installA, "saves"), map[string]string{"slot1.sav": "level 3"})

	a := newTestApp(t, "device-a", remote, nil)
	if _, err := a.Store().SaveConfig(&saves.SaveConfig{
		ConfigID:    "cfg-1",
		LocalIDs:    []string{"game"},
		DisplayName: "Game",
		SavePaths:   []saves.SavePath{{Path: "{InstallDir}/saves", IsDirectory: true}},
	}); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	res, err := a.Launch(ctx, LaunchRequest{LocalID: "game", Env: paths.NewResolver(installA, ""), Command: []string{"true"}}, nil)
	if err != nil {
		t.Fatalf("device A Launch() error = %v", err)
	}
	if res.ExitErr != nil || res.Snapshot == nil {
		t.Fatalf("device A result = %+v, want a clean run with a stop snapshot", res)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("device A Close() error = %v", err)
	}
	if _, ok := remote.Get(saves.LatestKey("cfg-1")); !ok {
		t.Fatalf("remote keys = %v, want the Latest archive", remote.Keys())
	}

	installB := t.TempDir()
	b := newTestApp(t, "device-b", remote, nil)
	defer b.Close()

	res, err = b.Launch(ctx, LaunchRequest{LocalID: "game", Env: paths.NewResolver(installB, ""), Command: []string{"true"}}, nil)
	if err != nil {
		t.Fatalf("device B Launch() error = %v", err)
	}
	if res.Decision == nil || res.Decision.Action != saves.ActionPulled {
		t.Fatalf("device B decision = %+v, want pulled", res.Decision)
	}
	got := testutil.ReadTree(t, filepath.Join(installB, "saves"))
	if got["slot1.sav"] != "level 3" {
		t.Errorf("device B saves = %v, want slot1.sav from device A", got)
	}
}

func TestSyncApp_LaunchWithoutConfigRunsPlain(t *testing.T) {
	requireTrue(t)
	a := newTestApp(t, "device-a", transport.NewMemoryTransport(), nil)
	defer a.Close()

	res, err := a.Launch(context.Background(), LaunchRequest{LocalID: "unknown", Command: []string{"true"}}, nil)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if res.ConfigID != "" || res.ExitErr != nil {
		t.Errorf("result = %+v, want a plain run", res)
	}
}

func TestSyncApp_TrackRecordsOperation(t *testing.T) {
	a := newTestApp(t, "device-a", transport.NewMemoryTransport(), nil)
	dbPath := filepath.Join(a.Config().Journal.DataDir, "device-a.db")

	if err := a.Track(); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	_ = a.Fail(context.Canceled)
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	j, err := database.NewSQLiteJournal(dbPath, nil)
	if err != nil {
		t.Fatalf("reopening journal: %v", err)
	}
	defer j.Close()
	ops, err := j.RecentOperations(1)
	if err != nil || len(ops) != 1 {
		t.Fatalf("RecentOperations() = %v, %v, want one operation", ops, err)
	}
	if ops[0].Status != StatusError {
		t.Errorf("Status = %q, want %q", ops[0].Status, StatusError)
	}
}

func TestSyncApp_Passphrase(t *testing.T) {
	a := newTestApp(t, "device-a", transport.NewMemoryTransport(), func(c *config.Config) {
		c.Encryption.Type = "test"
	})
	defer a.Close()

	if !a.NeedsPassphrase() {
		t.Fatal("NeedsPassphrase() = false with encryption configured")
	}
	if err := a.Unlock("secret"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if a.NeedsPassphrase() {
		t.Error("NeedsPassphrase() = true after Unlock")
	}
}

func TestSyncApp_CloudDisabled(t *testing.T) {
	a := newTestApp(t, "device-a", nil, func(c *config.Config) {
		c.Cloud.Enabled = false
		c.Encryption.Type = "test"
	})
	defer a.Close()

	if a.Service().Options().Enabled {
		t.Error("sync enabled with cloud disabled")
	}
	if a.NeedsPassphrase() {
		t.Error("NeedsPassphrase() = true without a cloud transport")
	}
}
