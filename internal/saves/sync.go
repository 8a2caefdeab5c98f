package saves

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"savesync/internal/paths"
)

// Choice is the user's answer to a conflict.
type Choice int

const (
	ChooseCancel Choice = iota
	ChoosePullCloud
	ChooseKeepLocal
)

func (c Choice) String() string {
	switch c {
	case ChooseCancel:
		return "cancel"
	case ChoosePullCloud:
		return "pull-cloud"
	case ChooseKeepLocal:
		return "keep-local"
	default:
		return fmt.Sprintf("Choice(%d)", int(c))
	}
}

// ParseChoice maps the CLI spelling of a choice.
func ParseChoice(s string) (Choice, error) {
	switch s {
	case "cancel":
		return ChooseCancel, nil
	case "pull-cloud", "cloud":
		return ChoosePullCloud, nil
	case "keep-local", "local":
		return ChooseKeepLocal, nil
	}
	return ChooseCancel, fmt.Errorf("unknown choice %q (want pull-cloud, keep-local or cancel)", s)
}

// Action is what OnBeforeLaunch did about the sync state.
type Action int

const (
	ActionNone Action = iota
	ActionPulled
	ActionPushScheduled
	ActionNeedsDecision
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionPulled:
		return "pulled"
	case ActionPushScheduled:
		return "push-scheduled"
	case ActionNeedsDecision:
		return "needs-decision"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Decision is the outcome of the pre-launch check.
type Decision struct {
	Report *SyncReport
	Action Action
	// TransferErr is a cloud failure that was tolerated because sync is not
	// required. The launch may go ahead with local data.
	TransferErr error
}

// SyncOptions tune the sync lifecycle.
type SyncOptions struct {
	// Enabled turns every cloud interaction on. Without it the service only
	// manages local backups and snapshots.
	Enabled bool
	// Realtime takes a snapshot of the save data when the application stops.
	Realtime bool
	// RequireSync makes a failed pull block the launch.
	RequireSync bool
	// BackupBeforePull takes an auto backup of the current save data before
	// a cloud snapshot overwrites it.
	BackupBeforePull bool
	// MaxAutoBackups is how many auto backups to keep per config. Zero keeps all.
	MaxAutoBackups int
	// DrainTimeout bounds how long Shutdown waits for background transfers.
	DrainTimeout time.Duration
}

// SyncService drives the application lifecycle: pull on start, decide before
// launch, snapshot and push on stop, and drain transfers on shutdown. Every
// cloud transfer it schedules is journaled first so an interrupted one is
// retried on the next start.
type SyncService struct {
	store     *Store
	resolver  *Resolver
	transport Transport
	journal   Journal
	tasks     *TaskManager
	logger    Logger
	opts      SyncOptions
}

// NewSyncService wires the service. transport may be nil when sync is disabled.
func NewSyncService(store *Store, transport Transport, journal Journal, tasks *TaskManager, logger Logger, opts SyncOptions) *SyncService {
	if transport == nil {
		opts.Enabled = false
	}
	return &SyncService{
		store:     store,
		resolver:  NewResolver(store, logger),
		transport: transport,
		journal:   journal,
		tasks:     tasks,
		logger:    logger,
		opts:      opts,
	}
}

func (s *SyncService) Store() *Store        { return s.store }
func (s *SyncService) Resolver() *Resolver  { return s.resolver }
func (s *SyncService) Tasks() *TaskManager  { return s.tasks }
func (s *SyncService) Options() SyncOptions { return s.opts }
func (s *SyncService) Transport() Transport { return s.transport }

// Check classifies a config against the cached cloud mirror.
func (s *SyncService) Check(configID string) (*SyncReport, error) {
	return s.resolver.Check(configID)
}

// OnStart refreshes the catalog from the cloud, fetches any backup archive
// this device lacks and reschedules transfers left over from earlier runs.
func (s *SyncService) OnStart(ctx context.Context) error {
	if !s.opts.Enabled {
		return nil
	}

	var errs []error
	if err := s.PullCatalog(ctx); err != nil {
		errs = append(errs, err)
	} else if _, err := s.DownloadBackups(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.RetryPending(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DownloadBackups fetches every remote backup archive missing locally. Latest
// archives are only ever moved by PullLatest.
func (s *SyncService) DownloadBackups(ctx context.Context) (*BulkResult, error) {
	if !s.opts.Enabled {
		return &BulkResult{}, nil
	}
	res, err := DownloadAll(ctx, s.transport, s.store.BackupDir(), "", BulkOptions{
		Exclude:      []string{"*/" + LatestName + ArchiveExt, CatalogKey},
		SkipExisting: true,
	})
	if res != nil && len(res.Transferred) > 0 {
		s.logger.Info("backups downloaded", "count", len(res.Transferred))
	}
	return res, err
}

// UploadBackups pushes every local backup archive missing remotely.
func (s *SyncService) UploadBackups(ctx context.Context) (*BulkResult, error) {
	if !s.opts.Enabled {
		return &BulkResult{}, nil
	}
	res, err := UploadAll(ctx, s.transport, s.store.BackupDir(), "", BulkOptions{
		Exclude:      []string{"*/" + LatestName + ArchiveExt, CatalogKey},
		SkipExisting: true,
	})
	if res != nil && len(res.Transferred) > 0 {
		s.logger.Info("backups uploaded", "count", len(res.Transferred))
	}
	return res, err
}

// OnBeforeLaunch makes the local save data current before the application
// starts. A conflict returns ErrConflictUnresolved with the report attached
// to the decision; the caller must ask the user and call ResolveConflict.
func (s *SyncService) OnBeforeLaunch(ctx context.Context, configID string, env paths.Resolver) (*Decision, error) {
	report, err := s.resolver.Check(configID)
	if err != nil {
		return nil, err
	}
	d := &Decision{Report: report}
	if !s.opts.Enabled {
		return d, nil
	}

	switch report.Status {
	case InSync, BothMissing:
	case CloudBehind, CloudMissing:
		s.schedule(&PendingTransfer{Kind: TransferPushLatest, ConfigID: configID, RemoteKey: LatestKey(configID)})
		d.Action = ActionPushScheduled
	case LocalBehind, LocalMissing:
		if err := s.PullLatest(ctx, configID, env); err != nil {
			if s.opts.RequireSync || !isTransferError(err) {
				return d, fmt.Errorf("pulling cloud snapshot: %w", err)
			}
			s.logger.Warn("cloud pull failed, launching with local data", "config", configID, "error", err)
			d.TransferErr = err
			return d, nil
		}
		d.Action = ActionPulled
		if d.Report, err = s.resolver.Check(configID); err != nil {
			return d, err
		}
	case Conflict:
		d.Action = ActionNeedsDecision
		s.logger.Warn("sync conflict", "config", configID, "local_crc", report.Local.CRC, "cloud_crc", report.Cloud.CRC)
		return d, ErrConflictUnresolved
	}
	return d, nil
}

// ResolveConflict applies the user's choice. Keeping local data builds a new
// snapshot whose history covers both chains, so every replica classifies it
// as ahead, and pushes it in the foreground. If ctx ends before the push
// completes the push continues in the background and ErrDetached is returned
// with the report.
func (s *SyncService) ResolveConflict(ctx context.Context, configID string, choice Choice, env paths.Resolver) (*SyncReport, error) {
	s.logger.Info("resolving conflict", "config", configID, "choice", choice)

	switch choice {
	case ChooseCancel:
	case ChoosePullCloud:
		if err := s.PullLatest(ctx, configID, env); err != nil {
			return nil, err
		}
	case ChooseKeepLocal:
		report, err := s.resolver.Check(configID)
		if err != nil {
			return nil, err
		}
		if _, err := s.store.CreateRealtimeSnapshot(configID, keepLocalBase(report.Local, report.Cloud), env); err != nil {
			return nil, err
		}
		if s.opts.Enabled {
			t := &PendingTransfer{Kind: TransferPushLatest, ConfigID: configID, RemoteKey: LatestKey(configID)}
			if err := s.runForeground(ctx, t); err != nil {
				if errors.Is(err, ErrDetached) {
					report, cerr := s.resolver.Check(configID)
					if cerr != nil {
						return nil, cerr
					}
					return report, err
				}
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unknown choice %v", choice)
	}
	return s.resolver.Check(configID)
}

// keepLocalBase is the local history followed by the cloud chain, skipping
// CRCs already present and the local head, which the snapshot appends itself.
func keepLocalBase(local LocalState, cloud CloudState) []string {
	base := slices.Clone(local.VersionHistory)
	for _, crc := range slices.Concat(cloud.VersionHistory, []string{cloud.CRC}) {
		if crc == "" || crc == local.CRC || slices.Contains(base, crc) {
			continue
		}
		base = append(base, crc)
	}
	return base
}

// OnStop snapshots the save data after the application exits and schedules
// the push. It does nothing unless realtime sync is on.
func (s *SyncService) OnStop(ctx context.Context, configID string, env paths.Resolver) (*BackupRecord, error) {
	if !s.opts.Realtime {
		return nil, nil
	}
	return s.Snapshot(ctx, configID, env)
}

// Snapshot replaces the Latest archive with the current save data, extending
// the local history, and schedules a push of it.
func (s *SyncService) Snapshot(_ context.Context, configID string, env paths.Resolver) (*BackupRecord, error) {
	rec, err := s.store.ExtendLatest(configID, env)
	if err != nil {
		return nil, err
	}
	if s.opts.Enabled {
		s.schedule(&PendingTransfer{Kind: TransferPushLatest, ConfigID: configID, RemoteKey: LatestKey(configID)})
	}
	return rec, nil
}

// Shutdown waits up to timeout (DrainTimeout when zero) for background
// transfers. Tasks still running are abandoned; their journal entries make
// the next start retry them. Reports whether everything finished.
func (s *SyncService) Shutdown(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = s.opts.DrainTimeout
	}
	if s.tasks.WaitForAll(timeout) {
		return true
	}
	for _, t := range s.tasks.Active() {
		s.logger.Warn("abandoning background task, it will be retried on next start",
			"task", t.ID, "name", t.Name, "started", t.Started)
	}
	return false
}

// CreateBackup captures a backup and schedules its upload. Auto backups also
// prune the oldest auto backups beyond MaxAutoBackups.
func (s *SyncService) CreateBackup(_ context.Context, configID, note string, isAuto bool, env paths.Resolver) (*BackupRecord, error) {
	rec, err := s.store.CreateBackup(configID, note, isAuto, env)
	if err != nil {
		return nil, err
	}
	if s.opts.Enabled {
		s.schedule(&PendingTransfer{Kind: TransferUpload, ConfigID: configID, RemoteKey: rec.FileName})
	}
	if isAuto {
		if _, err := s.cleanup(configID); err != nil {
			s.logger.Warn("cleaning up auto backups", "config", configID, "error", err)
		}
	}
	s.scheduleCatalogPush()
	return rec, nil
}

// DeleteBackup removes a backup here and in the cloud. The Latest snapshot is
// the sync anchor and cannot be deleted.
func (s *SyncService) DeleteBackup(_ context.Context, rec *BackupRecord) error {
	if rec.IsLatest() {
		return ErrLatestProtected
	}
	if err := s.store.DeleteBackup(rec); err != nil {
		return err
	}
	if s.opts.Enabled {
		s.schedule(&PendingTransfer{Kind: TransferDelete, ConfigID: rec.ConfigID, RemoteKey: rec.FileName})
	}
	s.scheduleCatalogPush()
	return nil
}

// DeleteConfig removes a config with all its archives, here and in the cloud.
func (s *SyncService) DeleteConfig(_ context.Context, configID string) error {
	removed, err := s.store.DeleteConfig(configID)
	if err != nil {
		return err
	}
	if s.opts.Enabled {
		keys := []string{LatestKey(configID)}
		for _, rec := range removed {
			if !slices.Contains(keys, rec.FileName) {
				keys = append(keys, rec.FileName)
			}
		}
		for _, key := range keys {
			s.schedule(&PendingTransfer{Kind: TransferDelete, ConfigID: configID, RemoteKey: key})
		}
	}
	s.scheduleCatalogPush()
	return nil
}

// CleanupAutoBackups prunes auto backups beyond MaxAutoBackups and returns
// how many were removed.
func (s *SyncService) CleanupAutoBackups(_ context.Context, configID string) (int, error) {
	n, err := s.cleanup(configID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.scheduleCatalogPush()
	}
	return n, nil
}

func (s *SyncService) cleanup(configID string) (int, error) {
	victims, err := s.store.CleanupOldAutoBackups(configID, s.opts.MaxAutoBackups)
	if err != nil {
		return 0, err
	}
	if s.opts.Enabled {
		for _, v := range victims {
			s.schedule(&PendingTransfer{Kind: TransferDelete, ConfigID: configID, RemoteKey: v.FileName})
		}
	}
	return len(victims), nil
}

// PushLatest uploads the local Latest archive when the cloud is behind or
// has none. The catalog is refreshed first so a push never overwrites a
// cloud head this device has not seen; that case returns
// ErrConflictUnresolved.
func (s *SyncService) PushLatest(ctx context.Context, configID string) error {
	if !s.opts.Enabled {
		return fmt.Errorf("%w: cloud sync is disabled", ErrTransportFailure)
	}
	if err := s.PullCatalog(ctx); err != nil {
		return err
	}
	report, err := s.resolver.Check(configID)
	if err != nil {
		return err
	}

	switch report.Status {
	case CloudBehind, CloudMissing:
	case Conflict:
		return fmt.Errorf("%w: %s", ErrConflictUnresolved, configID)
	default:
		s.logger.Debug("nothing to push", "config", configID, "status", report.Status)
		return nil
	}

	key := LatestKey(configID)
	if err := s.transport.Upload(ctx, s.store.PathForKey(key), key); err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	err = s.store.UpdateCloudMirror(configID, CloudState{
		CRC:            report.Local.CRC,
		VersionHistory: report.Local.VersionHistory,
		CreatedAt:      report.Local.CreatedAt,
		Size:           report.Local.Size,
	})
	if err != nil {
		return err
	}
	s.logger.Info("snapshot pushed", "config", configID, "crc", report.Local.CRC)
	return s.uploadCatalog(ctx)
}

// PullLatest downloads the cloud Latest archive, restores it over the save
// paths (keeping the config's restore excludes) and adopts it as the local
// head without growing its history.
func (s *SyncService) PullLatest(ctx context.Context, configID string, env paths.Resolver) error {
	cfg, err := s.store.Config(configID)
	if err != nil {
		return err
	}
	if !s.opts.Enabled {
		return fmt.Errorf("%w: cloud sync is disabled", ErrTransportFailure)
	}

	key := LatestKey(configID)
	tmp, err := s.store.IncomingPath(key)
	if err != nil {
		return err
	}
	// Gone after a successful adopt.
	defer os.Remove(tmp)

	if err := s.transport.Download(ctx, key, tmp); err != nil {
		return fmt.Errorf("downloading %s: %w", key, err)
	}

	if s.opts.BackupBeforePull {
		_, err := s.CreateBackup(ctx, configID, "Before cloud pull", true, env)
		if err != nil && !errors.Is(err, ErrPathNotFound) {
			return fmt.Errorf("backing up before pull: %w", err)
		}
	}

	if _, err := s.store.RestoreArchive(tmp, env, cfg.RestoreExcludePaths); err != nil {
		return err
	}
	rec, err := s.store.AdoptLatest(configID, tmp)
	if err != nil {
		return err
	}
	if cfg.CloudLatestCRC == "" || cfg.CloudLatestCRC != rec.CRC {
		// Pulled without a catalog, or the catalog lagged the archive.
		err = s.store.UpdateCloudMirror(configID, CloudState{
			CRC:            rec.CRC,
			VersionHistory: rec.VersionHistory,
			CreatedAt:      rec.CreatedAt,
			Size:           rec.FileSize,
		})
		if err != nil {
			return err
		}
	}
	s.logger.Info("snapshot pulled", "config", configID, "crc", rec.CRC)
	return nil
}

// PullCatalog downloads the shared catalog and merges it into the local one.
// A missing cloud catalog is not an error.
func (s *SyncService) PullCatalog(ctx context.Context) error {
	if !s.opts.Enabled {
		return nil
	}
	tmp, err := s.store.IncomingPath(CatalogKey)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	err = s.transport.Download(ctx, CatalogKey, tmp)
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug("no cloud catalog yet")
		return nil
	}
	if err != nil {
		return fmt.Errorf("downloading catalog: %w", err)
	}

	f, err := os.Open(tmp)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	cloud, err := s.store.DecodeCatalog(f)
	if err != nil {
		return fmt.Errorf("decoding cloud catalog: %w", err)
	}
	if err := s.store.MergeCloudCatalog(cloud); err != nil {
		return err
	}
	s.logger.Debug("catalog pulled", "configs", len(cloud.Configs), "backups", len(cloud.Backups))
	return nil
}

// PushCatalog merges the cloud catalog and uploads the result.
func (s *SyncService) PushCatalog(ctx context.Context) error {
	if !s.opts.Enabled {
		return nil
	}
	if err := s.PullCatalog(ctx); err != nil {
		return err
	}
	return s.uploadCatalog(ctx)
}

func (s *SyncService) uploadCatalog(ctx context.Context) error {
	tmp, err := s.store.IncomingPath(CatalogKey)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating catalog file: %w", err)
	}
	if err := s.store.ExportCatalog(f); err != nil {
		f.Close()
		return fmt.Errorf("encoding catalog: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing catalog file: %w", err)
	}

	if err := s.transport.Upload(ctx, tmp, CatalogKey); err != nil {
		return fmt.Errorf("uploading catalog: %w", err)
	}
	s.logger.Debug("catalog pushed")
	return nil
}

// RetryPending reschedules every journaled transfer and returns how many.
func (s *SyncService) RetryPending() (int, error) {
	if !s.opts.Enabled {
		return 0, nil
	}
	pending, err := s.journal.PendingTransfers()
	if err != nil {
		return 0, fmt.Errorf("reading pending transfers: %w", err)
	}
	for _, t := range pending {
		s.tasks.Run(t.String(), s.transferWork(t))
	}
	if len(pending) > 0 {
		s.logger.Info("retrying pending transfers", "count", len(pending))
	}
	return len(pending), nil
}

// PendingTransfers lists journaled transfers that have not completed.
func (s *SyncService) PendingTransfers() ([]*PendingTransfer, error) {
	return s.journal.PendingTransfers()
}

func (s *SyncService) scheduleCatalogPush() {
	if s.opts.Enabled {
		s.schedule(&PendingTransfer{Kind: TransferPushCatalog, RemoteKey: CatalogKey})
	}
}

// schedule journals t and runs it in the background.
func (s *SyncService) schedule(t *PendingTransfer) string {
	s.journalTransfer(t)
	return s.tasks.Run(t.String(), s.transferWork(t))
}

func (s *SyncService) runForeground(ctx context.Context, t *PendingTransfer) error {
	s.journalTransfer(t)
	return s.tasks.RunForeground(ctx, t.String(), s.transferWork(t))
}

func (s *SyncService) journalTransfer(t *PendingTransfer) {
	id, err := s.journal.AddPendingTransfer(t)
	if err != nil {
		// The transfer still runs, it just will not survive a crash.
		s.logger.Warn("journaling transfer", "transfer", t.String(), "error", err)
		return
	}
	t.ID = id
}

func (s *SyncService) transferWork(t *PendingTransfer) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		err := s.execute(ctx, t)
		if t.ID == 0 {
			return err
		}
		if err != nil {
			if jerr := s.journal.FailPendingTransfer(t.ID, err.Error()); jerr != nil {
				s.logger.Warn("recording transfer failure", "transfer", t.String(), "error", jerr)
			}
			return err
		}
		if jerr := s.journal.CompletePendingTransfer(t.ID); jerr != nil {
			s.logger.Warn("completing transfer", "transfer", t.String(), "error", jerr)
		}
		return nil
	}
}

func (s *SyncService) execute(ctx context.Context, t *PendingTransfer) error {
	switch t.Kind {
	case TransferPushLatest:
		return s.PushLatest(ctx, t.ConfigID)
	case TransferUpload:
		p := s.store.PathForKey(t.RemoteKey)
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			s.logger.Info("archive no longer exists, dropping upload", "key", t.RemoteKey)
			return nil
		}
		return s.transport.Upload(ctx, p, t.RemoteKey)
	case TransferDelete:
		return s.transport.Delete(ctx, t.RemoteKey)
	case TransferPushCatalog:
		return s.PushCatalog(ctx)
	default:
		return fmt.Errorf("unknown transfer kind %q", t.Kind)
	}
}

func isTransferError(err error) bool {
	return errors.Is(err, ErrTransportFailure) || errors.Is(err, ErrNotFound)
}
