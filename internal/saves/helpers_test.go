package saves_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"savesync/internal/catalog"
	"savesync/internal/paths"
	"savesync/internal/saves"
	"savesync/internal/testutil"
)

const testConfigID = "cfg"

// device is one replica: its own catalog, backup root, journal and save
// directory, optionally sharing a remote with other devices.
type device struct {
	t       *testing.T
	store   *saves.Store
	svc     *saves.SyncService
	journal *testutil.MemoryJournal
	clock   *testutil.StubClock
	logger  *testutil.RecordingLogger
	env     paths.Resolver
	saveDir string
}

func syncOptions() saves.SyncOptions {
	return saves.SyncOptions{
		Enabled:          true,
		Realtime:         true,
		BackupBeforePull: true,
		MaxAutoBackups:   5,
		DrainTimeout:     5 * time.Second,
	}
}

// newDevice builds a replica tracking testConfigID at {InstallDir}/saves.
// remote may be nil for a local-only device.
func newDevice(t *testing.T, name string, remote saves.Transport, opts saves.SyncOptions) *device {
	t.Helper()

	install := t.TempDir()
	clock := testutil.FixedClock()
	logger := testutil.NewRecordingLogger()
	store, err := saves.NewStore(catalog.NewMemoryCatalog(), t.TempDir(), logger, clock, testutil.NewPrefixedIDGenerator(name))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	journal := testutil.NewMemoryJournal(clock)
	svc := saves.NewSyncService(store, remote, journal, saves.NewTaskManager(logger, clock), logger, opts)
	t.Cleanup(func() { svc.Shutdown(5 * time.Second) })

	_, err = store.SaveConfig(&saves.SaveConfig{
		ConfigID:    testConfigID,
		LocalIDs:    []string{"game"},
		DisplayName: "Game",
		SavePaths:   []saves.SavePath{{Path: "{InstallDir}/saves", IsDirectory: true}},
	})
	if err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	return &device{
		t:       t,
		store:   store,
		svc:     svc,
		journal: journal,
		clock:   clock,
		logger:  logger,
		env:     paths.NewResolver(install, ""),
		saveDir: filepath.Join(install, "saves"),
	}
}

func (d *device) write(files map[string]string) {
	d.t.Helper()
	testutil.ReplaceTree(d.t, d.saveDir, files)
}

func (d *device) read() map[string]string {
	d.t.Helper()
	return testutil.ReadTree(d.t, d.saveDir)
}

// snapshot replaces the Latest archive and schedules its push.
func (d *device) snapshot() *saves.BackupRecord {
	d.t.Helper()
	d.clock.Advance(time.Minute)
	rec, err := d.svc.Snapshot(context.Background(), testConfigID, d.env)
	if err != nil {
		d.t.Fatalf("Snapshot() error = %v", err)
	}
	return rec
}

func (d *device) drain() {
	d.t.Helper()
	if !d.svc.Shutdown(5 * time.Second) {
		d.t.Fatal("background transfers did not drain")
	}
}

// launch runs the start-up sync and the pre-launch decision.
func (d *device) launch() (*saves.Decision, error) {
	d.t.Helper()
	ctx := context.Background()
	if err := d.svc.OnStart(ctx); err != nil {
		d.t.Logf("OnStart() error = %v", err)
	}
	return d.svc.OnBeforeLaunch(ctx, testConfigID, d.env)
}

func (d *device) status() saves.SyncStatus {
	d.t.Helper()
	report, err := d.svc.Check(testConfigID)
	if err != nil {
		d.t.Fatalf("Check() error = %v", err)
	}
	return report.Status
}

func sameTree(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
