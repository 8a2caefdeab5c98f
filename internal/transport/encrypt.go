package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"savesync/internal/saves"
)

// ErrLocked is returned when an encrypted archive is downloaded before the
// private key has been unlocked.
var ErrLocked = errors.New("encryption key is locked")

// EncryptedTransport encrypts archives on the way up and decrypts them on
// the way down. The catalog stays plaintext so merges run without the
// passphrase; it holds names and checksums, never save contents.
type EncryptedTransport struct {
	saves.Transport
	enc saves.Encryptor

	mu  sync.RWMutex
	dec saves.DecryptionContext
}

var _ saves.Transport = (*EncryptedTransport)(nil)

// WithEncryption wraps t. dec may be nil until Unlock is called.
func WithEncryption(t saves.Transport, enc saves.Encryptor, dec saves.DecryptionContext) *EncryptedTransport {
	return &EncryptedTransport{Transport: t, enc: enc, dec: dec}
}

// Unlock installs the decryption context for later downloads.
func (e *EncryptedTransport) Unlock(dec saves.DecryptionContext) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dec = dec
}

func (e *EncryptedTransport) Upload(ctx context.Context, localPath, remoteKey string) error {
	if !isSealed(remoteKey) {
		return e.Transport.Upload(ctx, localPath, remoteKey)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "savesync-sealed-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := e.enc.Encrypt(src, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("encrypting %s: %w", remoteKey, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	return e.Transport.Upload(ctx, tmp.Name(), remoteKey)
}

func (e *EncryptedTransport) Download(ctx context.Context, remoteKey, localPath string) error {
	if !isSealed(remoteKey) {
		return e.Transport.Download(ctx, remoteKey, localPath)
	}

	e.mu.RLock()
	dec := e.dec
	e.mu.RUnlock()
	if dec == nil {
		return fmt.Errorf("downloading %s: %w", remoteKey, ErrLocked)
	}

	tmp, err := os.CreateTemp("", "savesync-sealed-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := e.Transport.Download(ctx, remoteKey, tmpPath); err != nil {
		return err
	}

	sealed, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("opening downloaded object: %w", err)
	}
	defer sealed.Close()

	return writeWith(localPath, func(w io.Writer) error {
		if err := dec.Decrypt(sealed, w); err != nil {
			return fmt.Errorf("decrypting %s: %w", remoteKey, err)
		}
		return nil
	})
}

func isSealed(remoteKey string) bool {
	return strings.HasSuffix(remoteKey, saves.ArchiveExt)
}
