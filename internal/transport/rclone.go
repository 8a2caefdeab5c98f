package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path"
	"strings"
	"time"

	"savesync/internal/config"
	"savesync/internal/saves"
)

// RcloneTransport drives the rclone binary, so any backend rclone supports
// (Google Drive, OneDrive, Dropbox, WebDAV...) can hold the cloud replica.
type RcloneTransport struct {
	binary string
	remote string
	prefix string
	flags  []string

	execCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

var _ saves.Transport = (*RcloneTransport)(nil)

func NewRcloneTransport(cfg config.CloudConfig) (*RcloneTransport, error) {
	remote := strings.TrimSuffix(strings.TrimSpace(cfg.RcloneRemote), ":")
	if remote == "" {
		return nil, fmt.Errorf("rclone_remote required for rclone transport")
	}
	binary := cfg.RcloneBinary
	if binary == "" {
		binary = "rclone"
	}
	return &RcloneTransport{
		binary:      binary,
		remote:      remote,
		prefix:      strings.Trim(cfg.RclonePath, "/"),
		flags:       cfg.RcloneFlags,
		execCommand: defaultExecCommand,
	}, nil
}

func (r *RcloneTransport) Upload(ctx context.Context, localPath, remoteKey string) error {
	out, err := r.run(ctx, "copyto", localPath, r.remotePathFor(remoteKey))
	if err != nil {
		return classifyRcloneError("upload", remoteKey, out, err)
	}
	return nil
}

func (r *RcloneTransport) Download(ctx context.Context, remoteKey, localPath string) error {
	out, err := r.run(ctx, "copyto", r.remotePathFor(remoteKey), localPath)
	if err != nil {
		return classifyRcloneError("download", remoteKey, out, err)
	}
	return nil
}

func (r *RcloneTransport) Delete(ctx context.Context, remoteKey string) error {
	out, err := r.run(ctx, "deletefile", r.remotePathFor(remoteKey))
	if err != nil {
		if isRcloneObjectNotFound(string(out)) {
			return nil
		}
		return classifyRcloneError("delete", remoteKey, out, err)
	}
	return nil
}

// Exists lists the key itself. rclone prints an empty array for a missing
// file inside an existing directory and fails when the directory is missing.
func (r *RcloneTransport) Exists(ctx context.Context, remoteKey string) (saves.Existence, error) {
	out, err := r.run(ctx, "lsjson", "--files-only", r.remotePathFor(remoteKey))
	if err != nil {
		if isRcloneObjectNotFound(string(out)) {
			return saves.ExistenceFalse, nil
		}
		return saves.ExistenceUnknown, classifyRcloneError("exists", remoteKey, out, err)
	}
	var entries []rcloneEntry
	if err := json.Unmarshal(out, &entries); err != nil {
		return saves.ExistenceUnknown, fmt.Errorf("parsing rclone lsjson output: %w", err)
	}
	for _, e := range entries {
		if e.Name == path.Base(remoteKey) {
			return saves.ExistenceTrue, nil
		}
	}
	return saves.ExistenceFalse, nil
}

// List runs a recursive lsjson over the directory part of prefix and
// filters by the full prefix.
func (r *RcloneTransport) List(ctx context.Context, prefix string) ([]saves.RemoteObject, error) {
	dir := ""
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir = prefix[:i]
	}
	out, err := r.run(ctx, "lsjson", "--recursive", "--files-only", r.remotePathFor(dir))
	if err != nil {
		if isRcloneObjectNotFound(string(out)) {
			return nil, nil
		}
		return nil, classifyRcloneError("list", prefix, out, err)
	}

	var entries []rcloneEntry
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, fmt.Errorf("parsing rclone lsjson output: %w", err)
	}
	var objs []saves.RemoteObject
	for _, e := range entries {
		key := e.Path
		if dir != "" {
			key = dir + "/" + e.Path
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		objs = append(objs, saves.RemoteObject{Key: key, Size: e.Size, ModTime: e.ModTime})
	}
	return objs, nil
}

type rcloneEntry struct {
	Path    string    `json:"Path"`
	Name    string    `json:"Name"`
	Size    int64     `json:"Size"`
	ModTime time.Time `json:"ModTime"`
	IsDir   bool      `json:"IsDir"`
}

func (r *RcloneTransport) remotePathFor(key string) string {
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if r.prefix != "" {
		clean = path.Join(r.prefix, clean)
	}
	return fmt.Sprintf("%s:%s", r.remote, clean)
}

func (r *RcloneTransport) buildArgs(subcommand string, operands ...string) []string {
	args := []string{subcommand}
	args = append(args, r.flags...)
	return append(args, operands...)
}

func (r *RcloneTransport) run(ctx context.Context, subcommand string, operands ...string) ([]byte, error) {
	return r.execCommand(ctx, r.binary, r.buildArgs(subcommand, operands...)...)
}

func defaultExecCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

func isRcloneObjectNotFound(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"object not found",
		"file not found",
		"directory not found",
		"doesn't exist")
}

// classifyRcloneError maps rclone output to the engine's error kinds.
// Missing objects become ErrNotFound; everything else is a transport
// failure with a hint about the likely cause.
func classifyRcloneError(op, key string, out []byte, err error) error {
	msg := strings.TrimSpace(string(out))
	if isRcloneObjectNotFound(msg) {
		return fmt.Errorf("%s %s: %w", op, key, saves.ErrNotFound)
	}
	lower := strings.ToLower(msg)
	kind := "error"
	switch {
	case containsAny(lower,
		"couldn't find configuration section",
		"not found in config file",
		"401 unauthorized",
		"403 forbidden",
		"access denied",
		"permission denied"):
		kind = "auth error"
	case containsAny(lower,
		"dial tcp",
		"connection refused",
		"network is unreachable",
		"no such host",
		"i/o timeout"):
		kind = "network error"
	}
	if msg == "" {
		msg = err.Error()
	}
	return fmt.Errorf("rclone %s %s: %s: %s: %w", op, key, kind, msg, saves.ErrTransportFailure)
}

func containsAny(text string, substrings ...string) bool {
	for _, s := range substrings {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}
