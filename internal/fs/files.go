package fs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// File is a regular file discovered under a root directory.
type File struct {
	AbsPath string
	// RelPath is relative to the walked root, using OS separators.
	RelPath string
	Size    int64
}

// ListFiles returns every regular file under root, sorted by relative path.
// Symlinks, devices, pipes and sockets are skipped. The root's ignore file, if
// present, is applied and is never itself listed.
func ListFiles(root string) ([]File, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", root)
	}

	ignore, err := IgnoreMatcher(root)
	if err != nil {
		return nil, err
	}

	var files []File
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("calculating relative path: %w", err)
		}
		if ignore.Match(rel) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		files = append(files, File{AbsPath: p, RelPath: rel, Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// IgnoreMatcher returns the matcher for root's ignore file. It always matches
// the ignore file itself, so files it matches are never part of a capture.
func IgnoreMatcher(root string) (*GlobMatcher, error) {
	rawPatterns, err := ParsePatternFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	return NewGlobMatcher(append(rawPatterns, IgnoreFileName)), nil
}

// Exists reports whether p exists, and whether it is a directory.
func Exists(p string) (exists bool, isDir bool, err error) {
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, info.IsDir(), nil
}
