package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("SAVESYNC_CONFIG_PATH", "/custom/savesync.toml")
		t.Setenv("SAVESYNC_HOME", "/custom/data")

		got, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		want := Defaults{ConfigPath: "/custom/savesync.toml", BaseDir: "/custom/data", LogDir: "/custom/data/log"}
		if *got != want {
			t.Errorf("GetDefaults() = %+v, want %+v", *got, want)
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("SAVESYNC_CONFIG_PATH", "")
		t.Setenv("SAVESYNC_HOME", "")

		got, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()
		wantBase := filepath.Join(homeDir, ".local", "share", "savesync")
		want := Defaults{
			ConfigPath: filepath.Join(homeDir, ".config", "savesync.toml"),
			BaseDir:    wantBase,
			LogDir:     filepath.Join(wantBase, "log"),
		}
		if *got != want {
			t.Errorf("GetDefaults() = %+v, want %+v", *got, want)
		}
	})
}

func TestVerbose(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"1", true},
		{"true", true},
		{"no", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("SAVESYNC_VERBOSE", tt.value)
			if got := Verbose(); got != tt.want {
				t.Errorf("Verbose() = %v, want %v", got, tt.want)
			}
		})
	}
}
