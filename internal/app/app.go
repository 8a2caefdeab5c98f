package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/juju/clock"

	"savesync/internal/catalog"
	"savesync/internal/config"
	"savesync/internal/database"
	"savesync/internal/encryption"
	"savesync/internal/paths"
	"savesync/internal/saves"
	"savesync/internal/transport"
)

// SyncApp is the application layer between the CLI and SyncService.
// It constructs all dependencies from config, tracks the CLI operation in the
// journal and drains background transfers on Close.
type SyncApp struct {
	cfg       *config.Config
	journal   *database.SQLiteJournal
	store     *saves.Store
	stack     *transport.Stack
	encryptor saves.Encryptor
	service   *saves.SyncService
	logger    saves.Logger
	op        *Operation
	logFile   *os.File
	unlocked  bool
}

// Options tweak how NewSyncApp builds the app. The zero value is the
// production setup.
type Options struct {
	// Clock replaces the wall clock for the store, journal and tasks.
	Clock saves.Clock
	// IDs replaces the UUID generator.
	IDs saves.IDGenerator
	// Transport replaces the configured cloud backend. Retry and encryption
	// layers are still applied.
	Transport saves.Transport
}

// NewSyncApp creates a fully wired SyncApp from the given config.
// operation identifies the CLI command being run (e.g. "backup create").
// The caller must call Close when done.
func NewSyncApp(ctx context.Context, cfg *config.Config, operation, parameters string, opts Options) (*SyncApp, error) {
	clk := opts.Clock
	if clk == nil {
		clk = saves.RealClock{}
	}
	ids := opts.IDs
	if ids == nil {
		ids = saves.UUIDGenerator{}
	}

	opID := clk.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a := &SyncApp{cfg: cfg, logger: logger, logFile: logFile, op: NewOperation(operation, parameters)}
	if err := a.build(ctx, clk, ids, opts.Transport); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *SyncApp) build(ctx context.Context, clk saves.Clock, ids saves.IDGenerator, backend saves.Transport) error {
	cfg := a.cfg

	cat, err := catalog.NewCatalogFromConfig(cfg.Catalog)
	if err != nil {
		return fmt.Errorf("creating catalog: %w", err)
	}
	if cfg.Backups.Dir == "" {
		return fmt.Errorf("backups.dir is not configured")
	}
	if a.store, err = saves.NewStore(cat, cfg.Backups.Dir, a.logger, clk, ids); err != nil {
		return fmt.Errorf("opening backup store: %w", err)
	}

	if a.journal, err = database.NewJournalFromConfig(cfg.Journal, cfg.DeviceID, clk); err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	if err := a.journal.CheckMigrations(); err != nil {
		return fmt.Errorf("journal schema out of date: %w", err)
	}
	if n, err := a.journal.PruneOperations(); err != nil {
		a.logger.Warn("failed to prune operation history", "error", err)
	} else if n > 0 {
		a.logger.Debug("pruned operation history", "count", n)
	}

	if a.encryptor, err = encryption.NewEncryptorFromConfig(cfg.Encryption); err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}

	// A nil *Stack must not reach NewSyncService as a non-nil interface.
	var t saves.Transport
	if cfg.Cloud.Enabled {
		if a.encryptor != nil && !a.encryptor.IsConfigured() {
			return fmt.Errorf("encryption keys not found: run 'savesync config keys' first")
		}
		if backend == nil {
			if backend, err = transport.NewTransportFromConfig(ctx, cfg.Cloud); err != nil {
				return fmt.Errorf("creating cloud transport: %w", err)
			}
		}
		a.stack = transport.Build(backend, cfg.Cloud, a.encryptor, clock.WallClock, a.logger)
		t = a.stack
	}

	tasks := saves.NewTaskManager(a.logger, clk)
	a.service = saves.NewSyncService(a.store, t, a.journal, tasks, a.logger, saves.SyncOptions{
		Enabled:          cfg.Cloud.Enabled,
		Realtime:         cfg.Sync.Realtime,
		RequireSync:      cfg.Sync.RequireSync,
		BackupBeforePull: cfg.Sync.BackupBeforePull,
		MaxAutoBackups:   cfg.Backups.MaxAutoBackups,
		DrainTimeout:     cfg.Cloud.DrainTimeout(),
	})
	return nil
}

func (a *SyncApp) Config() *config.Config           { return a.cfg }
func (a *SyncApp) Service() *saves.SyncService      { return a.service }
func (a *SyncApp) Store() *saves.Store              { return a.store }
func (a *SyncApp) Logger() saves.Logger             { return a.logger }
func (a *SyncApp) Operation() *Operation            { return a.op }
func (a *SyncApp) Journal() *database.SQLiteJournal { return a.journal }

// Env returns the path resolver for this device.
func (a *SyncApp) Env(installDir, emulatorDir string) paths.Resolver {
	return paths.NewResolver(installDir, emulatorDir)
}

// NeedsPassphrase reports whether cloud archives are encrypted and the key
// has not been unlocked yet.
func (a *SyncApp) NeedsPassphrase() bool {
	return a.stack != nil && a.stack.Sealed != nil && !a.unlocked
}

// Unlock opens the private key so encrypted archives can be downloaded.
func (a *SyncApp) Unlock(passphrase string) error {
	if a.encryptor == nil || a.stack == nil {
		return nil
	}
	dec, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking encryption key: %w", err)
	}
	a.stack.Unlock(dec)
	a.unlocked = true
	return nil
}

// Track persists the operation in the journal. Only commands that change
// backups or the cloud call it; read-only commands stay out of the history.
func (a *SyncApp) Track() error {
	if a.op.Persisted() {
		return nil
	}
	rec, err := a.journal.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = rec.ID
	return nil
}

// Fail marks the operation as failed. It returns err unchanged.
func (a *SyncApp) Fail(err error) error {
	if err != nil {
		a.op.Status = StatusError
	}
	return err
}

// BackupJournal writes a consistent copy of the journal to dest.
func (a *SyncApp) BackupJournal(dest string) error {
	return a.journal.BackupTo(dest)
}

// Close drains background transfers, finishes the operation record and
// closes the journal and log file.
func (a *SyncApp) Close() error {
	var errs []error

	if a.service != nil && !a.service.Shutdown(0) {
		a.logger.Warn("background transfers still running at exit", "timeout", a.cfg.Cloud.DrainTimeout().String())
	}
	if a.op.Persisted() && a.journal != nil {
		if err := a.journal.FinishOperation(a.op.ID, a.op.Status); err != nil {
			errs = append(errs, fmt.Errorf("finishing operation: %w", err))
		}
	}
	errs = append(errs, a.closeResources())
	return errors.Join(errs...)
}

func (a *SyncApp) closeResources() error {
	var errs []error
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing journal: %w", err))
		}
		a.journal = nil
	}
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
	return errors.Join(errs...)
}
