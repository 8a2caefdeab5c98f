package database

import (
	"os"
	"path/filepath"
	"testing"

	"savesync/internal/config"
)

func TestNewJournalFromConfig(t *testing.T) {
	t.Run("memory journal", func(t *testing.T) {
		got, err := NewJournalFromConfig(config.JournalConfig{Type: "memory"}, "device-1", nil)
		if err != nil {
			t.Fatalf("NewJournalFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite journal", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "db")
		got, err := NewJournalFromConfig(config.JournalConfig{Type: "sqlite", DataDir: dir}, "device-1", nil)
		if err != nil {
			t.Fatalf("NewJournalFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if _, err := os.Stat(filepath.Join(dir, "device-1.db")); err != nil {
			t.Errorf("journal file not created: %v", err)
		}
	})

	t.Run("sqlite journal without data_dir", func(t *testing.T) {
		got, err := NewJournalFromConfig(config.JournalConfig{Type: "sqlite"}, "device-1", nil)
		if err == nil {
			t.Error("NewJournalFromConfig() expected error for missing data_dir, got nil")
		}
		if got != nil {
			t.Error("NewJournalFromConfig() should return nil on error")
			got.Close()
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewJournalFromConfig(config.JournalConfig{Type: "postgres"}, "device-1", nil); err == nil {
			t.Error("NewJournalFromConfig() expected error for unknown type, got nil")
		}
	})
}
