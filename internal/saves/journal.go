package saves

import (
	"fmt"
	"time"
)

// TransferKind identifies what a pending transfer does when it runs.
type TransferKind string

const (
	// TransferPushLatest uploads a config's Latest archive and then the catalog.
	TransferPushLatest TransferKind = "push_latest"
	// TransferUpload uploads the archive stored under RemoteKey.
	TransferUpload TransferKind = "upload"
	// TransferDelete removes RemoteKey from the cloud.
	TransferDelete TransferKind = "delete"
	// TransferPushCatalog uploads the catalog document.
	TransferPushCatalog TransferKind = "push_catalog"
)

// PendingTransfer is a journaled cloud operation. It stays in the journal
// until it succeeds, so a transfer abandoned at exit is retried on the next start.
type PendingTransfer struct {
	ID        int64
	Kind      TransferKind
	ConfigID  string
	RemoteKey string
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *PendingTransfer) String() string {
	switch t.Kind {
	case TransferPushLatest:
		return fmt.Sprintf("%s %s", t.Kind, t.ConfigID)
	case TransferPushCatalog:
		return string(t.Kind)
	default:
		return fmt.Sprintf("%s %s", t.Kind, t.RemoteKey)
	}
}

// Operation is one recorded user-level command.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Journal persists pending transfers and the operation history.
type Journal interface {
	// AddPendingTransfer records t and returns its ID. A transfer equal in
	// kind, config and key to one already pending is merged into it.
	AddPendingTransfer(t *PendingTransfer) (int64, error)

	// CompletePendingTransfer removes a finished transfer.
	CompletePendingTransfer(id int64) error

	// FailPendingTransfer records a failed attempt and keeps the transfer pending.
	FailPendingTransfer(id int64, errMsg string) error

	// PendingTransfers lists every pending transfer, oldest first.
	PendingTransfers() ([]*PendingTransfer, error)

	// CreateOperation starts a history entry.
	CreateOperation(operation, parameters string) (*Operation, error)

	// FinishOperation stamps the entry's status and finish time.
	FinishOperation(id int64, status string) error

	// RecentOperations returns up to limit entries, newest first.
	RecentOperations(limit int) ([]*Operation, error)

	Close() error
}
