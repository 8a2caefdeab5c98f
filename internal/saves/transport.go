package saves

import (
	"context"
	"time"
)

// Existence is the tri-state answer of Transport.Exists.
type Existence int

const (
	// ExistenceUnknown means the remote could not be asked. It must never be
	// read as "absent".
	ExistenceUnknown Existence = iota
	ExistenceFalse
	ExistenceTrue
)

func (e Existence) String() string {
	switch e {
	case ExistenceTrue:
		return "true"
	case ExistenceFalse:
		return "false"
	default:
		return "unknown"
	}
}

// RemoteObject describes one object in the remote namespace.
type RemoteObject struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Transport moves archives to and from the cloud replica. Keys are slash
// separated and rooted per config ID, never per display name.
type Transport interface {
	// Upload copies the local file to remoteKey, replacing any existing object.
	Upload(ctx context.Context, localPath, remoteKey string) error

	// Download copies remoteKey to localPath. Returns ErrNotFound when the
	// object does not exist.
	Download(ctx context.Context, remoteKey, localPath string) error

	// Delete removes remoteKey. A missing object is not an error.
	Delete(ctx context.Context, remoteKey string) error

	// Exists reports whether remoteKey exists. Any failure to find out yields
	// ExistenceUnknown together with the cause.
	Exists(ctx context.Context, remoteKey string) (Existence, error)

	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]RemoteObject, error)
}
