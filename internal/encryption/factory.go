package encryption

import (
	"fmt"

	"savesync/internal/config"
	"savesync/internal/saves"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration
// type. Type "none" returns nil: cloud objects are stored as plain archives.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (saves.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("public_key_path and private_key_path required for age encryption")
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewMarkerEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
