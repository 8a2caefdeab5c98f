package saves

import (
	"fmt"
	"os"
	"slices"
	"time"

	"savesync/internal/archive"
)

// SyncStatus is the relationship between the local and cloud replica of a config.
type SyncStatus int

const (
	InSync SyncStatus = iota
	// LocalBehind means the local head is an ancestor of the cloud head.
	LocalBehind
	// CloudBehind means the cloud head is an ancestor of the local head.
	CloudBehind
	// Conflict means both replicas advanced independently.
	Conflict
	LocalMissing
	CloudMissing
	BothMissing
)

func (s SyncStatus) String() string {
	switch s {
	case InSync:
		return "in-sync"
	case LocalBehind:
		return "local-behind"
	case CloudBehind:
		return "cloud-behind"
	case Conflict:
		return "conflict"
	case LocalMissing:
		return "local-missing"
	case CloudMissing:
		return "cloud-missing"
	case BothMissing:
		return "both-missing"
	default:
		return fmt.Sprintf("SyncStatus(%d)", int(s))
	}
}

// LocalState is the version state of the local Latest archive.
type LocalState struct {
	Exists         bool
	CRC            string
	VersionHistory []string
	CreatedAt      time.Time
	Size           int64
}

// CloudState is the cached version state of the cloud head.
type CloudState struct {
	CRC            string
	VersionHistory []string
	CreatedAt      time.Time
	Size           int64
}

// Classify compares two replicas. The checks run in a fixed order, which is
// what makes the answer deterministic when more than one could apply.
func Classify(local LocalState, cloud CloudState) SyncStatus {
	switch {
	case cloud.CRC == "" && local.Exists:
		return CloudMissing
	case cloud.CRC == "":
		return BothMissing
	case !local.Exists:
		return LocalMissing
	case local.CRC == cloud.CRC:
		return InSync
	case slices.Contains(cloud.VersionHistory, local.CRC):
		return LocalBehind
	case slices.Contains(local.VersionHistory, cloud.CRC):
		return CloudBehind
	default:
		return Conflict
	}
}

// SyncReport is the outcome of a check, with enough detail to present a
// conflict to a user.
type SyncReport struct {
	ConfigID string
	Status   SyncStatus
	Local    LocalState
	Cloud    CloudState
}

// Resolver reads replica state for Classify. It never touches the network:
// local state comes from the Latest archive, cloud state from the config's
// cached mirror.
type Resolver struct {
	store  *Store
	logger Logger
}

func NewResolver(store *Store, logger Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Check classifies the replicas of a config.
func (r *Resolver) Check(configID string) (*SyncReport, error) {
	cfg, err := r.store.Config(configID)
	if err != nil {
		return nil, err
	}
	local, err := r.LocalState(configID)
	if err != nil {
		return nil, err
	}
	cloud := CloudState{
		CRC:            cfg.CloudLatestCRC,
		VersionHistory: slices.Clone(cfg.CloudVersionHistory),
		CreatedAt:      cfg.CloudLatestTime,
		Size:           cfg.CloudLatestSize,
	}

	report := &SyncReport{
		ConfigID: configID,
		Status:   Classify(local, cloud),
		Local:    local,
		Cloud:    cloud,
	}
	r.logger.Debug("sync state checked", "config", configID, "status", report.Status,
		"local_crc", local.CRC, "cloud_crc", cloud.CRC)
	return report, nil
}

// LocalState reads the version state embedded in the local Latest archive.
// The archive is authoritative because a catalog pull can replace the
// catalog but never the archive. When the embedded metadata is missing the
// CRC is recomputed from the archive and the history taken from the catalog.
func (r *Resolver) LocalState(configID string) (LocalState, error) {
	p := r.store.PathForKey(LatestKey(configID))
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return LocalState{}, nil
	}
	if err != nil {
		return LocalState{}, fmt.Errorf("stat local Latest: %w", err)
	}

	state := LocalState{Exists: true, Size: info.Size()}

	m, err := archive.ReadManifest(p)
	if err == nil && m.Latest != nil && m.Latest.CRC != "" {
		state.CRC = m.Latest.CRC
		state.VersionHistory = slices.Clone(m.Latest.VersionHistory)
		state.CreatedAt = m.Latest.CreatedAt
		return state, nil
	}

	rec := r.store.Latest(configID)
	if err == nil {
		r.logger.Warn("local Latest has no embedded version metadata, recomputing", "config", configID)
		crc, cerr := archive.ComputeCRC(p)
		if cerr != nil {
			return LocalState{}, fmt.Errorf("computing local CRC: %w", cerr)
		}
		state.CRC = crc
		state.CreatedAt = m.CreatedAt
		if rec != nil && rec.CRC == crc {
			state.VersionHistory = slices.Clone(rec.VersionHistory)
		}
		return state, nil
	}

	if rec == nil {
		return LocalState{}, fmt.Errorf("reading local Latest: %w", err)
	}
	r.logger.Warn("local Latest unreadable, using catalog record", "config", configID, "error", err)
	state.CRC = rec.CRC
	state.VersionHistory = slices.Clone(rec.VersionHistory)
	state.CreatedAt = rec.CreatedAt
	return state, nil
}
