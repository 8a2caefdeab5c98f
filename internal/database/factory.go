package database

import (
	"fmt"
	"os"
	"path/filepath"

	"savesync/internal/config"
	"savesync/internal/saves"
)

// NewJournalFromConfig creates a journal based on the journal config type.
func NewJournalFromConfig(cfg config.JournalConfig, deviceID string, clock saves.Clock) (*SQLiteJournal, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite journal")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
		return NewSQLiteJournal(filepath.Join(cfg.DataDir, deviceID+".db"), clock)
	case "memory":
		return NewSQLiteJournal(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown journal type: %s", cfg.Type)
	}
}
