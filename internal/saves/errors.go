package saves

import (
	"errors"

	"savesync/internal/archive"
	"savesync/internal/paths"
)

var (
	// ErrPathNotFound is returned when a configured save path does not exist.
	// The capture is aborted before any archive is written.
	ErrPathNotFound = errors.New("save path not found")

	// ErrUnresolvedVariable is returned when a logical path template cannot
	// be expanded on this device.
	ErrUnresolvedVariable = paths.ErrUnresolvedVariable

	// ErrInvalidArchive is returned for archives with a missing or corrupt manifest.
	ErrInvalidArchive = archive.ErrInvalidArchive

	// ErrTransportFailure is returned when a cloud operation failed after retries.
	ErrTransportFailure = errors.New("cloud transport failure")

	// ErrNotFound is returned by transports when a remote object does not exist.
	ErrNotFound = errors.New("remote object not found")

	// ErrConflictUnresolved marks a conflict that needs an explicit user choice.
	ErrConflictUnresolved = errors.New("sync conflict requires a decision")

	// ErrDetached is returned by a foreground wait that handed its task to
	// the background instead of waiting for it.
	ErrDetached = errors.New("operation continues in background")

	// ErrUnknownConfig is returned when a config ID is not in the catalog.
	ErrUnknownConfig = errors.New("unknown save config")

	// ErrLatestProtected is returned when deleting a Latest record is attempted.
	ErrLatestProtected = errors.New("the Latest backup cannot be deleted")
)
