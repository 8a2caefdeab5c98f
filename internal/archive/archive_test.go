package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"savesync/internal/paths"
)

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	got := map[string]string{}
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		got[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func identity(logical string) (string, error) { return logical, nil }

func TestCreateRestore_RoundTrip(t *testing.T) {
	tmp := t.TempDir()
	saveDir := filepath.Join(tmp, "game", "saves")
	single := filepath.Join(tmp, "game", "options.ini")

	tree := map[string]string{
		"slot1.sav":          "slot one",
		"slot2.sav":          "slot two",
		"profiles/p1/a.json": `{"a":1}`,
		"profiles/p2/b.json": `{"b":2}`,
	}
	writeTree(t, saveDir, tree)
	if err := os.WriteFile(single, []byte("volume=3"), 0644); err != nil {
		t.Fatal(err)
	}

	archivePath := filepath.Join(tmp, "backup.zip")
	res, err := CreateFile(archivePath, []Source{
		{Logical: saveDir, Absolute: saveDir, IsDirectory: true},
		{Logical: single, Absolute: single},
	}, Options{CreatedAt: testTime})
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	if len(res.CRC) != 8 {
		t.Errorf("CRC = %q, want 8 hex digits", res.CRC)
	}
	info, err := os.Stat(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	if res.Size != info.Size() {
		t.Errorf("Size = %d, file size = %d", res.Size, info.Size())
	}

	// Wreck the live data, then restore.
	if err := os.RemoveAll(saveDir); err != nil {
		t.Fatal(err)
	}
	writeTree(t, saveDir, map[string]string{"stale.sav": "old"})
	if err := os.WriteFile(single, []byte("changed"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Restore(archivePath, identity, nil); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	got := readTree(t, saveDir)
	if len(got) != len(tree) {
		t.Fatalf("restored %d files, want %d: %v", len(got), len(tree), got)
	}
	for rel, want := range tree {
		if got[rel] != want {
			t.Errorf("%s = %q, want %q", rel, got[rel], want)
		}
	}
	data, _ := os.ReadFile(single)
	if string(data) != "volume=3" {
		t.Errorf("single file = %q, want %q", data, "volume=3")
	}
}

func TestRestore_Exclusion(t *testing.T) {
	tmp := t.TempDir()
	saveDir := filepath.Join(tmp, "saves")
	writeTree(t, saveDir, map[string]string{
		"slot1.sav":       "archived slot",
		"config/keys.cfg": "archived keys",
	})

	archivePath := filepath.Join(tmp, "a.zip")
	if _, err := CreateFile(archivePath, []Source{
		{Logical: saveDir, Absolute: saveDir, IsDirectory: true},
	}, Options{CreatedAt: testTime}); err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}

	// Local edits after the backup.
	writeTree(t, saveDir, map[string]string{
		"slot1.sav":       "local slot",
		"config/keys.cfg": "local keys",
		"config/extra":    "local extra",
		"new.sav":         "local new",
	})

	excluded := filepath.Join(saveDir, "config")
	report, err := Restore(archivePath, identity, []string{excluded})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	got := readTree(t, saveDir)
	want := map[string]string{
		"slot1.sav":       "archived slot",
		"config/keys.cfg": "local keys",
		"config/extra":    "local extra",
	}
	if len(got) != len(want) {
		t.Fatalf("tree = %v, want %v", got, want)
	}
	for rel, w := range want {
		if got[rel] != w {
			t.Errorf("%s = %q, want %q", rel, got[rel], w)
		}
	}
	if len(report.Preserved) != 2 {
		t.Errorf("Preserved = %v, want 2 entries", report.Preserved)
	}
}

func TestRestore_KeepsIgnoredFiles(t *testing.T) {
	tmp := t.TempDir()
	saveDir := filepath.Join(tmp, "saves")
	writeTree(t, saveDir, map[string]string{
		".savesyncignore": "*.log\n",
		"slot.sav":        "v1",
		"debug.log":       "old log",
	})

	archivePath := filepath.Join(tmp, "a.zip")
	if _, err := CreateFile(archivePath, []Source{
		{Logical: saveDir, Absolute: saveDir, IsDirectory: true},
	}, Options{CreatedAt: testTime}); err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}

	writeTree(t, saveDir, map[string]string{
		"slot.sav":  "v2",
		"debug.log": "new log",
		"stray.sav": "stray",
	})

	if _, err := Restore(archivePath, identity, nil); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	got := readTree(t, saveDir)
	want := map[string]string{
		".savesyncignore": "*.log\n",
		"slot.sav":        "v1",
		"debug.log":       "new log",
	}
	if len(got) != len(want) {
		t.Fatalf("tree = %v, want %v", got, want)
	}
	for rel, w := range want {
		if got[rel] != w {
			t.Errorf("%s = %q, want %q", rel, got[rel], w)
		}
	}
}

func TestRestore_MissingManifest(t *testing.T) {
	tmp := t.TempDir()
	p := filepath.Join(tmp, "raw.zip")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, _ := zw.Create("slot1.sav")
	fmt.Fprint(w, "data")
	zw.Close()
	f.Close()

	_, err = Restore(p, identity, nil)
	if !errors.Is(err, ErrInvalidArchive) {
		t.Fatalf("Restore() error = %v, want ErrInvalidArchive", err)
	}
	if _, err := ReadManifest(p); !errors.Is(err, ErrInvalidArchive) {
		t.Errorf("ReadManifest() error = %v, want ErrInvalidArchive", err)
	}
}

func TestRestore_NotAZip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "junk.zip")
	os.WriteFile(p, []byte("not a zip"), 0644)

	if _, err := Restore(p, identity, nil); !errors.Is(err, ErrInvalidArchive) {
		t.Fatalf("Restore() error = %v, want ErrInvalidArchive", err)
	}
}

func TestRestore_UnresolvedVariableWritesNothing(t *testing.T) {
	tmp := t.TempDir()
	first := filepath.Join(tmp, "first.sav")
	second := filepath.Join(tmp, "second.sav")
	os.WriteFile(first, []byte("1"), 0644)
	os.WriteFile(second, []byte("2"), 0644)

	archivePath := filepath.Join(tmp, "a.zip")
	_, err := CreateFile(archivePath, []Source{
		{Logical: first, Absolute: first},
		{Logical: "{InstallDir}/second.sav", Absolute: second},
	}, Options{CreatedAt: testTime})
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}

	os.WriteFile(first, []byte("local"), 0644)

	r := paths.Resolver{UserProfile: tmp}
	_, err = Restore(archivePath, r.ToAbsolute, nil)
	if !errors.Is(err, paths.ErrUnresolvedVariable) {
		t.Fatalf("Restore() error = %v, want ErrUnresolvedVariable", err)
	}
	data, _ := os.ReadFile(first)
	if string(data) != "local" {
		t.Errorf("first.sav = %q, restore must not write before resolving every path", data)
	}
}

func TestCreate_LatestMetaAndCRC(t *testing.T) {
	tmp := t.TempDir()
	saveDir := filepath.Join(tmp, "saves")
	writeTree(t, saveDir, map[string]string{"a": "1", "b/c": "2"})

	archivePath := filepath.Join(tmp, "Latest.zip")
	res, err := CreateFile(archivePath, []Source{
		{Logical: "{UserProfile}/saves", Absolute: saveDir, IsDirectory: true},
	}, Options{
		CreatedAt: testTime,
		Latest:    &LatestMeta{ConfigID: "cfg-1", VersionHistory: []string{"AAAAAAAA"}},
	})
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}

	m, err := ReadManifest(archivePath)
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	if m.Latest == nil {
		t.Fatal("manifest has no Latest metadata")
	}
	if m.Latest.CRC != res.CRC || m.CRC != res.CRC {
		t.Errorf("embedded CRC = %q/%q, want %q", m.Latest.CRC, m.CRC, res.CRC)
	}
	if len(m.Latest.VersionHistory) != 1 || m.Latest.VersionHistory[0] != "AAAAAAAA" {
		t.Errorf("VersionHistory = %v", m.Latest.VersionHistory)
	}
	if !m.Latest.CreatedAt.Equal(testTime) {
		t.Errorf("CreatedAt = %v, want %v", m.Latest.CreatedAt, testTime)
	}
	if len(m.Entries) != 1 || m.Entries[0].Path != "{UserProfile}/saves" || m.Entries[0].EntryName != "saves" {
		t.Errorf("Entries = %+v", m.Entries)
	}

	crc, err := ComputeCRC(archivePath)
	if err != nil {
		t.Fatalf("ComputeCRC() error = %v", err)
	}
	if crc != res.CRC {
		t.Errorf("ComputeCRC() = %q, want %q", crc, res.CRC)
	}
}

func TestCreate_CRCIncludesTimestamp(t *testing.T) {
	tmp := t.TempDir()
	p := filepath.Join(tmp, "s.sav")
	os.WriteFile(p, []byte("same"), 0644)
	src := []Source{{Logical: p, Absolute: p}}

	a, err := CreateFile(filepath.Join(tmp, "a.zip"), src, Options{CreatedAt: testTime})
	if err != nil {
		t.Fatal(err)
	}
	b, err := CreateFile(filepath.Join(tmp, "b.zip"), src, Options{CreatedAt: testTime})
	if err != nil {
		t.Fatal(err)
	}
	c, err := CreateFile(filepath.Join(tmp, "c.zip"), src, Options{CreatedAt: testTime.Add(time.Second)})
	if err != nil {
		t.Fatal(err)
	}

	if a.CRC != b.CRC {
		t.Errorf("same content and time gave %q and %q", a.CRC, b.CRC)
	}
	if a.CRC == c.CRC {
		t.Errorf("different creation time gave identical CRC %q", a.CRC)
	}
}

func TestCreate_EntryNamesAreUnique(t *testing.T) {
	tmp := t.TempDir()
	a := filepath.Join(tmp, "one", "save")
	b := filepath.Join(tmp, "two", "save")
	writeTree(t, a, map[string]string{"x": "from one"})
	writeTree(t, b, map[string]string{"x": "from two"})

	archivePath := filepath.Join(tmp, "a.zip")
	res, err := CreateFile(archivePath, []Source{
		{Logical: a, Absolute: a, IsDirectory: true},
		{Logical: b, Absolute: b, IsDirectory: true},
	}, Options{CreatedAt: testTime})
	if err != nil {
		t.Fatal(err)
	}
	if res.Manifest.Entries[0].EntryName != "save" || res.Manifest.Entries[1].EntryName != "save_2" {
		t.Errorf("entry names = %q, %q", res.Manifest.Entries[0].EntryName, res.Manifest.Entries[1].EntryName)
	}

	os.RemoveAll(a)
	os.RemoveAll(b)
	if _, err := Restore(archivePath, identity, nil); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := readTree(t, b); got["x"] != "from two" {
		t.Errorf("second tree = %v", got)
	}
}

func TestCreateFile_FailureLeavesNoArchive(t *testing.T) {
	tmp := t.TempDir()
	dest := filepath.Join(tmp, "out.zip")

	_, err := CreateFile(dest, []Source{
		{Logical: "x", Absolute: filepath.Join(tmp, "missing.sav")},
	}, Options{CreatedAt: testTime})
	if err == nil {
		t.Fatal("CreateFile() expected error for missing source")
	}

	entries, _ := os.ReadDir(tmp)
	if len(entries) != 0 {
		t.Errorf("directory not clean after failure: %v", entries)
	}
}
