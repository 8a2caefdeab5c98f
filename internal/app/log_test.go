package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "info message",
			level:   slog.LevelInfo,
			message: "snapshot taken",
			want:    "2024-06-15T14:30:45Z\tINFO\top-1\tsnapshot taken\n",
		},
		{
			name:    "record attrs",
			level:   slog.LevelWarn,
			message: "cloud transfer attempt failed",
			attrs:   []slog.Attr{slog.String("key", "cfg/Latest.zip"), slog.Int("attempt", 2)},
			want:    "2024-06-15T14:30:45Z\tWARN\top-1\tcloud transfer attempt failed\tkey=cfg/Latest.zip\tattempt=2\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newLogHandler(&buf, slog.LevelDebug, "op-1")

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			r.AddAttrs(tt.attrs...)
			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestLogHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	h := newLogHandler(&buf, nil, "op-1")
	logger := slog.New(h).With("device", "deck").WithGroup("sync").With("config", "cfg-1")

	logger.Info("pulled", "crc", "0000000B")

	got := buf.String()
	for _, want := range []string{"device=deck", "sync.config=cfg-1", "sync.crc=0000000B"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*logHandler)
	if len(h.attrs) != 0 || len(h2.attrs) != 1 {
		t.Errorf("WithAttrs mutated the original: %d, %d", len(h.attrs), len(h2.attrs))
	}
}

func TestFanoutHandler_Levels(t *testing.T) {
	var file, stderr bytes.Buffer
	logger := slog.New(fanoutHandler{
		newLogHandler(&file, slog.LevelDebug, "op"),
		newLogHandler(&stderr, slog.LevelWarn, "op"),
	})

	logger.Debug("checking state")
	logger.Warn("push failed")

	if !strings.Contains(file.String(), "checking state") || !strings.Contains(file.String(), "push failed") {
		t.Errorf("file output = %q, want both records", file.String())
	}
	if strings.Contains(stderr.String(), "checking state") {
		t.Errorf("stderr got a debug record: %q", stderr.String())
	}
	if !strings.Contains(stderr.String(), "push failed") {
		t.Errorf("stderr output = %q, want the warning", stderr.String())
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")

	logger, f, err := newLogger(dir, "test-op")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	logger.Debug("hello", "k", "v")
	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "\ttest-op\thello\tk=v") {
		t.Errorf("log file = %q, want the debug record", data)
	}
}
