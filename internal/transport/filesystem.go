package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"savesync/internal/saves"
)

const tempPrefix = ".tmp-"

// FileSystemTransport stores cloud objects under a local directory, such as
// a folder kept in sync by a desktop client or a mounted network share.
// Keys map to paths below the root:
//
//	<root>/
//	  catalog.json
//	  <configID>/
//	    Latest.zip
//	    <backup>.zip
type FileSystemTransport struct {
	root string
}

var _ saves.Transport = (*FileSystemTransport)(nil)

// NewFileSystemTransport creates the root directory if needed.
func NewFileSystemTransport(root string) (*FileSystemTransport, error) {
	if root == "" {
		return nil, fmt.Errorf("filesystem transport root must not be empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create transport root: %w", err)
	}
	return &FileSystemTransport{root: root}, nil
}

func (t *FileSystemTransport) Root() string { return t.root }

func (t *FileSystemTransport) Upload(ctx context.Context, localPath, remoteKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := t.pathFor(remoteKey)
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer src.Close()

	if err := writeFile(dest, src); err != nil {
		return fmt.Errorf("uploading %s: %w: %w", remoteKey, saves.ErrTransportFailure, err)
	}
	return nil
}

func (t *FileSystemTransport) Download(ctx context.Context, remoteKey, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := t.pathFor(remoteKey)
	if err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", remoteKey, saves.ErrNotFound)
		}
		return fmt.Errorf("downloading %s: %w: %w", remoteKey, saves.ErrTransportFailure, err)
	}
	defer f.Close()

	return writeFile(localPath, f)
}

func (t *FileSystemTransport) Delete(ctx context.Context, remoteKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := t.pathFor(remoteKey)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting %s: %w: %w", remoteKey, saves.ErrTransportFailure, err)
	}
	return nil
}

func (t *FileSystemTransport) Exists(ctx context.Context, remoteKey string) (saves.Existence, error) {
	if err := ctx.Err(); err != nil {
		return saves.ExistenceUnknown, err
	}
	p, err := t.pathFor(remoteKey)
	if err != nil {
		return saves.ExistenceUnknown, err
	}
	info, err := os.Stat(p)
	switch {
	case err == nil && info.Mode().IsRegular():
		return saves.ExistenceTrue, nil
	case err == nil, errors.Is(err, fs.ErrNotExist):
		return saves.ExistenceFalse, nil
	default:
		return saves.ExistenceUnknown, fmt.Errorf("checking %s: %w: %w", remoteKey, saves.ErrTransportFailure, err)
	}
}

// List walks the root and returns objects whose key has the prefix.
// In-flight temp files are skipped.
func (t *FileSystemTransport) List(ctx context.Context, prefix string) ([]saves.RemoteObject, error) {
	info, err := os.Stat(t.root)
	if err != nil {
		return nil, fmt.Errorf("transport root not accessible: %w: %w", saves.ErrTransportFailure, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("transport root is not a directory: %s", t.root)
	}

	var out []saves.RemoteObject
	err = filepath.WalkDir(t.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(t.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, saves.RemoteObject{Key: key, Size: fi.Size(), ModTime: fi.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", prefix, err)
	}
	return out, nil
}

// pathFor maps a key to a path and rejects keys that escape the root.
func (t *FileSystemTransport) pathFor(remoteKey string) (string, error) {
	clean := path.Clean("/" + remoteKey)
	if clean == "/" || clean != "/"+remoteKey {
		return "", fmt.Errorf("invalid remote key %q", remoteKey)
	}
	return filepath.Join(t.root, filepath.FromSlash(clean[1:])), nil
}

// writeFile copies r to destPath using a temp file and rename so readers
// never see a partial object.
func writeFile(destPath string, r io.Reader) error {
	return writeWith(destPath, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
}

func writeWith(destPath string, fill func(w io.Writer) error) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := fill(tmpFile); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
