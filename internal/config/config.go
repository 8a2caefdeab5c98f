package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for savesync.
type Config struct {
	DeviceID   string           `toml:"device_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Catalog    CatalogConfig    `toml:"catalog"`
	Backups    BackupsConfig    `toml:"backups"`
	Journal    JournalConfig    `toml:"journal"`
	Cloud      CloudConfig      `toml:"cloud"`
	Encryption EncryptionConfig `toml:"encryption"`
	Sync       SyncConfig       `toml:"sync"`
	Watch      WatchConfig      `toml:"watch"`
}

// CatalogConfig locates the catalog document.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CatalogConfig struct {
	Type string `toml:"type"`           // "file" (default) or "memory"
	Path string `toml:"path,omitempty"` // only used for type=file
}

// BackupsConfig controls local archive storage.
type BackupsConfig struct {
	Dir            string `toml:"dir"`
	MaxAutoBackups int    `toml:"max_auto_backups"` // 0 keeps every auto backup
}

// JournalConfig represents configuration for the transfer journal.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type JournalConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// CloudConfig represents configuration for the cloud transport.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CloudConfig struct {
	Enabled bool   `toml:"enabled"`
	Type    string `toml:"type"` // "rclone", "s3", "filesystem" or "memory"

	Retries             int `toml:"retries"`               // attempts per transfer, defaults to 3
	RetryDelaySeconds   int `toml:"retry_delay_seconds"`   // fixed delay between attempts, defaults to 2
	DrainTimeoutSeconds int `toml:"drain_timeout_seconds"` // shutdown wait for transfers, defaults to 30

	// rclone-specific fields (only used when Type == "rclone")
	RcloneBinary string   `toml:"rclone_binary,omitempty"`
	RcloneRemote string   `toml:"rclone_remote,omitempty"`
	RclonePath   string   `toml:"rclone_path,omitempty"`
	RcloneFlags  []string `toml:"rclone_flags,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Profile         string `toml:"s3_profile,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"` // S3-compatible services; enables path-style addressing
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// EncryptionConfig holds the key pair used to encrypt cloud objects.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// SyncConfig tunes the launch lifecycle.
type SyncConfig struct {
	Realtime         bool `toml:"realtime"`
	RequireSync      bool `toml:"require_sync"`
	BackupBeforePull bool `toml:"backup_before_pull"`
}

// WatchConfig tunes the save directory watcher.
type WatchConfig struct {
	DebounceMillis int `toml:"debounce_millis"` // quiet period before a snapshot, defaults to 2000
}

const (
	defaultRetries      = 3
	defaultRetryDelay   = 2 * time.Second
	defaultDrainTimeout = 30 * time.Second
	defaultDebounce     = 2 * time.Second
)

// RetryDelay returns the configured delay between transfer attempts.
func (c CloudConfig) RetryDelay() time.Duration {
	if c.RetryDelaySeconds <= 0 {
		return defaultRetryDelay
	}
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// Attempts returns the configured attempts per transfer.
func (c CloudConfig) Attempts() int {
	if c.Retries <= 0 {
		return defaultRetries
	}
	return c.Retries
}

// DrainTimeout returns how long shutdown waits for background transfers.
func (c CloudConfig) DrainTimeout() time.Duration {
	if c.DrainTimeoutSeconds <= 0 {
		return defaultDrainTimeout
	}
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

// Debounce returns the watcher's quiet period.
func (w WatchConfig) Debounce() time.Duration {
	if w.DebounceMillis <= 0 {
		return defaultDebounce
	}
	return time.Duration(w.DebounceMillis) * time.Millisecond
}

// NewConfig creates a new Config with the provided values and default paths.
// Cloud sync starts disabled.
func NewConfig(deviceID, baseDir string) *Config {
	return &Config{
		DeviceID: deviceID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Catalog: CatalogConfig{
			Type: "file",
			Path: filepath.Join(baseDir, "catalog.json"),
		},
		Backups: BackupsConfig{
			Dir:            filepath.Join(baseDir, "backups"),
			MaxAutoBackups: 10,
		},
		Journal: JournalConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Cloud: CloudConfig{
			Type:                "rclone",
			Retries:             defaultRetries,
			RetryDelaySeconds:   int(defaultRetryDelay / time.Second),
			DrainTimeoutSeconds: int(defaultDrainTimeout / time.Second),
			RcloneBinary:        "rclone",
			RclonePath:          "savesync",
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "savesync.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "savesync.key"),
		},
		Sync: SyncConfig{
			Realtime:         true,
			BackupBeforePull: true,
		},
		Watch: WatchConfig{DebounceMillis: int(defaultDebounce / time.Millisecond)},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// WriteToFile replaces the config file at path.
func WriteToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := WriteToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
