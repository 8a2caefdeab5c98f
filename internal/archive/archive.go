// Package archive builds and extracts single-file save archives.
//
// An archive is a zip file holding one entry tree per captured save path plus a
// reserved manifest entry, always written last, that maps every top-level
// entry back to the logical path it was captured from:
//
//	<entry>/...                 captured directory content
//	<entry>                     captured single file
//	__savesync_manifest.json    manifest (see Manifest)
//
// The version CRC of an archive is a CRC-32 (IEEE) over every content entry
// (name, a zero byte, then its bytes) in archive order, followed by the
// archive's creation timestamp. The manifest itself is never part of the CRC,
// which is what allows a Latest archive to carry its own CRC.
package archive

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"savesync/internal/fs"
)

// ManifestEntryName is the reserved entry holding the manifest. A real save
// file with exactly this name cannot be captured.
const ManifestEntryName = "__savesync_manifest.json"

// manifestVersion is written into every manifest.
const manifestVersion = 1

// ErrInvalidArchive is returned for archives without a readable manifest.
var ErrInvalidArchive = errors.New("invalid archive")

// Source is one save path to capture.
type Source struct {
	// Logical is the portable template path recorded in the manifest.
	Logical string
	// Absolute is where the data lives on this device.
	Absolute    string
	IsDirectory bool
}

// Entry maps a top-level archive entry back to its logical path.
type Entry struct {
	Path        string `json:"path"`
	IsDirectory bool   `json:"is_directory"`
	EntryName   string `json:"entry_name"`
}

// LatestMeta is the self-contained copy of a Latest record's version state.
type LatestMeta struct {
	ConfigID       string    `json:"config_id"`
	CRC            string    `json:"crc"`
	VersionHistory []string  `json:"version_history"`
	CreatedAt      time.Time `json:"created_at"`
}

// Manifest describes an archive's content.
type Manifest struct {
	Version   int         `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	CRC       string      `json:"crc"`
	Entries   []Entry     `json:"entries"`
	Latest    *LatestMeta `json:"latest,omitempty"`
}

// Options control archive creation.
type Options struct {
	// CreatedAt is stamped into the manifest and the CRC. Defaults to now.
	CreatedAt time.Time
	// Latest, when set, is embedded into the manifest with its CRC and
	// CreatedAt filled in from the archive being written.
	Latest *LatestMeta
}

// Result describes a freshly written archive.
type Result struct {
	CRC      string
	Size     int64
	Manifest Manifest
}

// Create writes an archive of sources to w.
func Create(w io.Writer, sources []Source, opts Options) (*Result, error) {
	createdAt := opts.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = createdAt.UTC()

	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)
	crc := crc32.NewIEEE()
	names := newEntryNamer()

	manifest := Manifest{
		Version:   manifestVersion,
		CreatedAt: createdAt,
	}

	for _, src := range sources {
		name := names.next(filepath.Base(filepath.Clean(src.Absolute)))
		if src.IsDirectory {
			if err := addDirectory(zw, crc, name, src.Absolute); err != nil {
				zw.Close()
				return nil, fmt.Errorf("adding directory %s: %w", src.Absolute, err)
			}
		} else {
			if err := addFile(zw, crc, name, src.Absolute); err != nil {
				zw.Close()
				return nil, fmt.Errorf("adding file %s: %w", src.Absolute, err)
			}
		}
		manifest.Entries = append(manifest.Entries, Entry{
			Path:        src.Logical,
			IsDirectory: src.IsDirectory,
			EntryName:   name,
		})
	}

	io.WriteString(crc, createdAt.Format(time.RFC3339Nano))
	manifest.CRC = formatCRC(crc)

	if opts.Latest != nil {
		latest := *opts.Latest
		latest.CRC = manifest.CRC
		latest.CreatedAt = createdAt
		latest.VersionHistory = append([]string{}, opts.Latest.VersionHistory...)
		manifest.Latest = &latest
	}

	if err := writeManifest(zw, &manifest); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing archive: %w", err)
	}

	return &Result{CRC: manifest.CRC, Size: cw.n, Manifest: manifest}, nil
}

// CreateFile writes an archive of sources to dest. The archive is built in a
// temporary file beside dest and renamed into place only on success.
func CreateFile(dest string, sources []Source, opts Options) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-archive-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp archive: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	res, err := Create(tmp, sources, opts)
	if err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing temp archive: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return nil, fmt.Errorf("renaming temp archive: %w", err)
	}

	success = true
	return res, nil
}

// ReadManifest returns the manifest of the archive at p.
func ReadManifest(p string) (*Manifest, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer zr.Close()
	return readManifest(&zr.Reader)
}

// ComputeCRC recomputes the version CRC of the archive at p from its content.
func ComputeCRC(p string) (string, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer zr.Close()

	manifest, err := readManifest(&zr.Reader)
	if err != nil {
		return "", err
	}

	crc := crc32.NewIEEE()
	for _, f := range zr.File {
		if f.Name == ManifestEntryName {
			continue
		}
		if strings.HasSuffix(f.Name, "/") {
			hashEntry(crc, f.Name, nil)
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("opening entry %s: %w", f.Name, err)
		}
		err = hashEntry(crc, f.Name, rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("reading entry %s: %w", f.Name, err)
		}
	}
	io.WriteString(crc, manifest.CreatedAt.UTC().Format(time.RFC3339Nano))
	return formatCRC(crc), nil
}

func readManifest(zr *zip.Reader) (*Manifest, error) {
	for _, f := range zr.File {
		if f.Name != ManifestEntryName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: opening manifest: %v", ErrInvalidArchive, err)
		}
		defer rc.Close()

		var m Manifest
		if err := json.NewDecoder(rc).Decode(&m); err != nil {
			return nil, fmt.Errorf("%w: decoding manifest: %v", ErrInvalidArchive, err)
		}
		if m.Version == 0 {
			return nil, fmt.Errorf("%w: manifest has no version", ErrInvalidArchive)
		}
		return &m, nil
	}
	return nil, fmt.Errorf("%w: manifest not found", ErrInvalidArchive)
}

func addDirectory(zw *zip.Writer, crc hash.Hash32, name, root string) error {
	files, err := fs.ListFiles(root)
	if err != nil {
		return err
	}

	dirEntry := name + "/"
	if _, err := zw.CreateHeader(&zip.FileHeader{Name: dirEntry, Method: zip.Store}); err != nil {
		return fmt.Errorf("writing directory entry: %w", err)
	}
	hashEntry(crc, dirEntry, nil)

	for _, f := range files {
		entry := path.Join(name, filepath.ToSlash(f.RelPath))
		if err := addFile(zw, crc, entry, f.AbsPath); err != nil {
			return err
		}
	}
	return nil
}

func addFile(zw *zip.Writer, crc hash.Hash32, entry, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("building header: %w", err)
	}
	header.Name = entry
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	if err := hashEntry(crc, entry, io.TeeReader(f, w)); err != nil {
		return fmt.Errorf("writing content: %w", err)
	}
	return nil
}

func writeManifest(zw *zip.Writer, m *Manifest) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     ManifestEntryName,
		Method:   zip.Deflate,
		Modified: m.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("writing manifest header: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return nil
}

// hashEntry feeds one entry into the version CRC. A nil reader hashes the
// name only (directory entries).
func hashEntry(h hash.Hash32, name string, r io.Reader) error {
	io.WriteString(h, name)
	h.Write([]byte{0})
	if r == nil {
		return nil
	}
	_, err := io.Copy(h, r)
	return err
}

func formatCRC(h hash.Hash32) string {
	return fmt.Sprintf("%08X", h.Sum32())
}

// entryNamer derives deterministic, unique top-level entry names from the
// final path component of each source.
type entryNamer struct {
	used map[string]bool
}

func newEntryNamer() *entryNamer {
	return &entryNamer{used: map[string]bool{ManifestEntryName: true}}
}

func (n *entryNamer) next(base string) string {
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "root"
	}
	name := base
	for i := 2; n.used[strings.ToLower(name)] || n.used[name]; i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	n.used[name] = true
	n.used[strings.ToLower(name)] = true
	return name
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
