package transport

import (
	"context"
	"fmt"

	"github.com/juju/clock"

	"savesync/internal/config"
	"savesync/internal/saves"
)

// NewTransportFromConfig creates the backend transport for the configured
// cloud type, without retry or encryption.
func NewTransportFromConfig(ctx context.Context, cfg config.CloudConfig) (saves.Transport, error) {
	switch cfg.Type {
	case "rclone", "":
		return NewRcloneTransport(cfg)
	case "s3":
		return NewS3Transport(ctx, cfg)
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("fs_root required for filesystem transport")
		}
		return NewFileSystemTransport(cfg.FSRoot)
	case "memory":
		return NewMemoryTransport(), nil
	default:
		return nil, fmt.Errorf("unknown cloud type: %s", cfg.Type)
	}
}

// Stack is a configured transport with its optional encryption layer
// exposed so the key can be unlocked later in the session.
type Stack struct {
	saves.Transport
	Sealed *EncryptedTransport
}

// Build wraps backend with retries and, when enc is set, encryption. Retries
// sit below encryption so a retried upload resends the same sealed file.
func Build(backend saves.Transport, cfg config.CloudConfig, enc saves.Encryptor, clk clock.Clock, logger saves.Logger) *Stack {
	var t saves.Transport = WithRetry(backend, cfg.Attempts(), cfg.RetryDelay(), clk, logger)
	s := &Stack{Transport: t}
	if enc != nil {
		s.Sealed = WithEncryption(t, enc, nil)
		s.Transport = s.Sealed
	}
	return s
}

// Unlock installs dec on the encryption layer, if any.
func (s *Stack) Unlock(dec saves.DecryptionContext) {
	if s.Sealed != nil {
		s.Sealed.Unlock(dec)
	}
}
