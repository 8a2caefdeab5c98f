package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"savesync/internal/fs"
	"savesync/internal/paths"
)

// ResolveFunc maps a logical manifest path to an absolute destination.
type ResolveFunc func(logical string) (string, error)

// Report lists what a restore touched.
type Report struct {
	// Restored holds every file written.
	Restored []string
	// Preserved holds existing files left alone because they fall under an
	// exclude path.
	Preserved []string
	// Removed holds files deleted by the directory overwrite pass.
	Removed []string
}

type target struct {
	entry Entry
	abs   string
}

// Restore extracts the archive at archivePath.
//
// Every manifest path is resolved before anything is written; a single
// unresolvable path aborts the restore. Directory targets are fully
// overwritten: existing files are deleted, then the archive content is
// extracted. Files at or under any of the absolute excludes survive both
// passes untouched. File targets are overwritten in place unless excluded.
//
// A failure part way through is returned together with the partial report.
func Restore(archivePath string, resolve ResolveFunc, excludes []string) (*Report, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer zr.Close()

	manifest, err := readManifest(&zr.Reader)
	if err != nil {
		return nil, err
	}

	targets := make([]target, 0, len(manifest.Entries))
	for _, e := range manifest.Entries {
		abs, err := resolve(e.Path)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", e.Path, err)
		}
		targets = append(targets, target{entry: e, abs: abs})
	}

	isExcluded := func(p string) bool {
		for _, ex := range excludes {
			if paths.IsWithin(ex, p) {
				return true
			}
		}
		return false
	}

	report := &Report{}
	for _, t := range targets {
		if t.entry.IsDirectory {
			err = restoreDirectory(&zr.Reader, t, isExcluded, report)
		} else {
			err = restoreFile(&zr.Reader, t, isExcluded, report)
		}
		if err != nil {
			return report, fmt.Errorf("restoring %q: %w", t.entry.Path, err)
		}
	}
	return report, nil
}

func restoreDirectory(zr *zip.Reader, t target, isExcluded func(string) bool, report *Report) error {
	exists, isDir, err := fs.Exists(t.abs)
	if err != nil {
		return fmt.Errorf("stat target: %w", err)
	}
	if exists && !isDir {
		return fmt.Errorf("target is a file, expected a directory: %s", t.abs)
	}

	if exists {
		if err := clearDirectory(t.abs, isExcluded, report); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(t.abs, 0755); err != nil {
		return fmt.Errorf("creating target directory: %w", err)
	}

	prefix := t.entry.EntryName + "/"
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, prefix) || f.Name == prefix {
			continue
		}
		rel := filepath.FromSlash(strings.TrimPrefix(f.Name, prefix))
		dest := filepath.Join(t.abs, rel)
		if !paths.IsWithin(t.abs, dest) {
			return fmt.Errorf("entry escapes target directory: %s", f.Name)
		}
		if isExcluded(dest) {
			continue
		}
		if strings.HasSuffix(f.Name, "/") {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
			continue
		}
		if err := extract(f, dest); err != nil {
			return err
		}
		report.Restored = append(report.Restored, dest)
	}
	return nil
}

// clearDirectory deletes every file under dir that is not excluded. The ignore
// file and the files it matches were never captured, so they stay too.
// Directories left empty are removed, except dir itself and excluded
// directories.
func clearDirectory(dir string, isExcluded func(string) bool, report *Report) error {
	ignore, err := fs.IgnoreMatcher(dir)
	if err != nil {
		return err
	}

	var files []fs.File
	err = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return fmt.Errorf("calculating relative path: %w", err)
		}
		files = append(files, fs.File{AbsPath: p, RelPath: rel})
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning target directory: %w", err)
	}

	for _, f := range files {
		if isExcluded(f.AbsPath) || ignore.Match(f.RelPath) {
			report.Preserved = append(report.Preserved, f.AbsPath)
			continue
		}
		if err := os.Remove(f.AbsPath); err != nil {
			return fmt.Errorf("removing %s: %w", f.AbsPath, err)
		}
		report.Removed = append(report.Removed, f.AbsPath)
	}
	return pruneEmptyDirs(dir, dir, isExcluded)
}

func pruneEmptyDirs(root, dir string, isExcluded func(string) bool) error {
	if dir != root && isExcluded(dir) {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := pruneEmptyDirs(root, filepath.Join(dir, e.Name()), isExcluded); err != nil {
				return err
			}
		}
	}
	if dir == root {
		return nil
	}
	entries, err = os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	if len(entries) == 0 {
		if err := os.Remove(dir); err != nil {
			return fmt.Errorf("removing empty directory %s: %w", dir, err)
		}
	}
	return nil
}

func restoreFile(zr *zip.Reader, t target, isExcluded func(string) bool, report *Report) error {
	if isExcluded(t.abs) {
		report.Preserved = append(report.Preserved, t.abs)
		return nil
	}
	for _, f := range zr.File {
		if f.Name != t.entry.EntryName {
			continue
		}
		if err := extract(f, t.abs); err != nil {
			return err
		}
		report.Restored = append(report.Restored, t.abs)
		return nil
	}
	return fmt.Errorf("%w: entry %q listed in manifest but missing", ErrInvalidArchive, t.entry.EntryName)
}

func extract(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dest, err)
	}

	if !f.Modified.IsZero() {
		os.Chtimes(dest, f.Modified, f.Modified)
	}
	return nil
}
