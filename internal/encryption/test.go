package encryption

import (
	"bytes"
	"fmt"
	"io"

	"savesync/internal/saves"
)

// markerHeader prefixes objects written by MarkerEncryptor.
var markerHeader = []byte("SAVESYNC-MARKER\n")

// MarkerEncryptor is a reversible stand-in for age in tests. Encrypted
// objects carry a fixed header so tests can tell they went through the
// encryption layer without paying for scrypt.
type MarkerEncryptor struct {
	configured bool
	passphrase string
}

var _ saves.Encryptor = (*MarkerEncryptor)(nil)

func NewMarkerEncryptor() *MarkerEncryptor {
	return &MarkerEncryptor{configured: true}
}

func (e *MarkerEncryptor) Setup(passphrase string) error {
	e.configured = true
	e.passphrase = passphrase
	return nil
}

func (e *MarkerEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(markerHeader); err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

// Unlock accepts any passphrase unless Setup recorded one.
func (e *MarkerEncryptor) Unlock(passphrase string) (saves.DecryptionContext, error) {
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, fmt.Errorf("unlocking private key: wrong passphrase")
	}
	return MarkerDecryptionContext{}, nil
}

func (e *MarkerEncryptor) IsConfigured() bool { return e.configured }

// MarkerDecryptionContext strips the header added by MarkerEncryptor.
type MarkerDecryptionContext struct{}

var _ saves.DecryptionContext = MarkerDecryptionContext{}

func (MarkerDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(markerHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading marker: %w", err)
	}
	if !bytes.Equal(header, markerHeader) {
		return fmt.Errorf("object was not written by the marker encryptor")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
