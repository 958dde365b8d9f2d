package backup

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mrsinham/brkraw/internal/pvdataset"
	"github.com/mrsinham/brkraw/internal/pvgen"
)

func newHandler(t *testing.T) (*Handler, string, string) {
	t.Helper()
	rawDir := t.TempDir()
	arcDir := t.TempDir()
	h, err := New(rawDir, arcDir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h, rawDir, arcDir
}

func writeRaw(t *testing.T, rawDir, name string, o pvgen.Options) {
	t.Helper()
	if err := pvgen.Write(filepath.Join(rawDir, name), o); err != nil {
		t.Fatalf("write raw study: %v", err)
	}
}

func writeArc(t *testing.T, arcDir, name, root string, o pvgen.Options) {
	t.Helper()
	if err := pvgen.WriteZip(filepath.Join(arcDir, name), root, o); err != nil {
		t.Fatalf("write archive: %v", err)
	}
}

func quietConfirm(answer bool) func(string) (bool, error) {
	return func(string) (bool, error) { return answer, nil }
}

func TestScan_ClassifiesBothSides(t *testing.T) {
	h, rawDir, arcDir := newHandler(t)
	o := pvgen.DefaultOptions()
	writeRaw(t, rawDir, "study1", o)
	writeRaw(t, rawDir, "study2", o)
	writeArc(t, arcDir, "study1.zip", "study1", o)
	writeArc(t, arcDir, "orphan.zip", "gone-study", o)
	if err := os.MkdirAll(filepath.Join(rawDir, "notes"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(rawDir, "notes", "readme.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(arcDir, "crashed.zip"), []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := h.Scan(); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if r := h.cache.rawByPath("study1"); r == nil || !r.Archived || r.Garbage {
		t.Fatalf("study1 record = %+v, want archived", r)
	}
	if r := h.cache.rawByPath("study2"); r == nil || r.Archived || r.Garbage {
		t.Fatalf("study2 record = %+v, want unarchived", r)
	}
	if r := h.cache.rawByPath("notes"); r == nil || !r.Garbage {
		t.Fatalf("notes record = %+v, want garbage", r)
	}
	if r := h.cache.rawByPath("gone-study"); r == nil || !r.Removed || !r.Archived {
		t.Fatalf("gone-study record = %+v, want removed and archived", r)
	}
	if a := h.cache.arcByPath("crashed.zip"); a == nil || !a.Crashed || !a.Issued || !a.Garbage {
		t.Fatalf("crashed.zip record = %+v, want crashed", a)
	}

	need := h.cache.needBackup()
	if len(need) != 1 || need[0].Path != "study2" {
		t.Fatalf("needBackup = %+v, want study2 only", need)
	}
	if _, err := os.Stat(filepath.Join(arcDir, cacheName)); err != nil {
		t.Fatalf("cache file missing: %v", err)
	}
}

func TestScan_FlagsRecoMismatch(t *testing.T) {
	h, rawDir, arcDir := newHandler(t)
	o := pvgen.DefaultOptions()
	writeRaw(t, rawDir, "study1", o)
	short := o
	short.Scans = o.Scans[:2]
	writeArc(t, arcDir, "study1.zip", "study1", short)

	if err := h.Scan(); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if a := h.cache.arcByPath("study1.zip"); a == nil || !a.Issued || a.Crashed {
		t.Fatalf("archive record = %+v, want issued", a)
	}
	if r := h.cache.rawByPath("study1"); r.Archived {
		t.Fatal("mismatched archive must not mark the raw dataset archived")
	}
}

func TestScan_ResolvesIssueAfterRepair(t *testing.T) {
	h, rawDir, arcDir := newHandler(t)
	o := pvgen.DefaultOptions()
	writeRaw(t, rawDir, "study1", o)
	short := o
	short.Scans = o.Scans[:2]
	writeArc(t, arcDir, "study1.zip", "study1", short)
	if err := h.Scan(); err != nil {
		t.Fatalf("first Scan: %v", err)
	}

	// A matching archive replaces the short one under the same name.
	writeArc(t, arcDir, "study1.zip", "study1", o)
	if err := h.Scan(); err != nil {
		t.Fatalf("second Scan: %v", err)
	}

	if a := h.cache.arcByPath("study1.zip"); a == nil || a.Issued {
		t.Fatalf("archive record = %+v, want issue resolved", a)
	}
	if r := h.cache.rawByPath("study1"); !r.Archived {
		t.Fatal("repaired archive must mark the raw dataset archived")
	}
}

func TestScan_TracksRemovals(t *testing.T) {
	h, rawDir, arcDir := newHandler(t)
	o := pvgen.DefaultOptions()
	writeRaw(t, rawDir, "study1", o)
	writeArc(t, arcDir, "study1.zip", "study1", o)
	if err := h.Scan(); err != nil {
		t.Fatalf("first Scan: %v", err)
	}

	if err := os.RemoveAll(filepath.Join(rawDir, "study1")); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(arcDir, "study1.zip")); err != nil {
		t.Fatal(err)
	}
	if err := h.Scan(); err != nil {
		t.Fatalf("second Scan: %v", err)
	}

	if a := h.cache.arcByPath("study1.zip"); a != nil {
		t.Fatalf("vanished archive still recorded: %+v", a)
	}
	r := h.cache.rawByPath("study1")
	if r == nil || !r.Removed {
		t.Fatalf("raw record = %+v, want removed", r)
	}
	if !r.Archived {
		t.Fatal("removal must not erase the archive history")
	}
}

func TestBackup_ArchivesAndSkips(t *testing.T) {
	h, rawDir, arcDir := newHandler(t)
	o := pvgen.DefaultOptions()
	writeRaw(t, rawDir, "study1", o)
	if err := h.Scan(); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	var out bytes.Buffer
	if err := h.Backup(&out); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if !strings.Contains(out.String(), "Compressing") {
		t.Fatalf("Backup output = %q, want compression message", out.String())
	}

	arcPath := filepath.Join(arcDir, "study1.zip")
	if !pvdataset.IsZipFile(arcPath) {
		t.Fatal("generated archive is not a zip")
	}
	ds, err := pvdataset.Open(arcPath)
	if err != nil {
		t.Fatalf("open generated archive: %v", err)
	}
	defer ds.Close()
	if !ds.IsPvDataset() {
		t.Fatal("generated archive is not a readable dataset")
	}
	if got, want := ds.SourceDir(), "study1"; got != want {
		t.Fatalf("archive root = %q, want %q", got, want)
	}

	// The second run finds the matching archive and leaves it alone.
	var again bytes.Buffer
	if err := h.Backup(&again); err != nil {
		t.Fatalf("second Backup: %v", err)
	}
	if strings.Contains(again.String(), "Compressing") {
		t.Fatalf("second run recompressed: %q", again.String())
	}
}

func TestBackup_ReplacesCrashedArchive(t *testing.T) {
	h, rawDir, arcDir := newHandler(t)
	o := pvgen.DefaultOptions()
	writeRaw(t, rawDir, "study1", o)
	arcPath := filepath.Join(arcDir, "study1.zip")
	if err := os.WriteFile(arcPath, []byte("truncated upload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.Scan(); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	var out bytes.Buffer
	if err := h.Backup(&out); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if !strings.Contains(out.String(), "removing crashed archive") {
		t.Fatalf("Backup output = %q, want crashed-archive removal", out.String())
	}
	if !pvdataset.IsZipFile(arcPath) {
		t.Fatal("crashed archive was not replaced by a zip")
	}
	ds, err := pvdataset.Open(arcPath)
	if err != nil {
		t.Fatalf("open replaced archive: %v", err)
	}
	defer ds.Close()
	if !ds.IsPvDataset() {
		t.Fatal("replaced archive is not a readable dataset")
	}
}

func TestClean_RemovesFlaggedArchives(t *testing.T) {
	h, rawDir, arcDir := newHandler(t)
	o := pvgen.DefaultOptions()
	writeRaw(t, rawDir, "study1", o)
	writeArc(t, arcDir, "study1.zip", "study1", o)
	writeArc(t, arcDir, "study1-copy.zip", "study1", o)
	if err := os.WriteFile(filepath.Join(arcDir, "junk.zip"), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.Scan(); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	h.Confirm = quietConfirm(true)
	var out bytes.Buffer
	if err := h.Clean(&out); err != nil {
		t.Fatalf("Clean: %v", err)
	}

	for _, name := range []string{"junk.zip", "study1.zip", "study1-copy.zip"} {
		if _, err := os.Stat(filepath.Join(arcDir, name)); err == nil {
			t.Fatalf("%s survived the clean", name)
		}
	}
	if len(h.cache.Arc) != 0 {
		t.Fatalf("archive records left after clean: %+v", h.cache.Arc)
	}
	s := out.String()
	if !strings.Contains(s, "Removing GARBAGE archives...") {
		t.Fatalf("Clean output = %q, want garbage section", s)
	}
	if !strings.Contains(s, "Removing DUPLICATED archives...") || !strings.Contains(s, "+- study1-copy.zip") {
		t.Fatalf("Clean output = %q, want duplicate section", s)
	}
}

func TestClean_DeclinedLeavesFiles(t *testing.T) {
	h, _, arcDir := newHandler(t)
	if err := os.WriteFile(filepath.Join(arcDir, "junk.zip"), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.Scan(); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	h.Confirm = quietConfirm(false)
	var out bytes.Buffer
	if err := h.Clean(&out); err != nil {
		t.Fatalf("Clean: %v", err)
	}

	if _, err := os.Stat(filepath.Join(arcDir, "junk.zip")); err != nil {
		t.Fatal("declined clean removed a file")
	}
	if a := h.cache.arcByPath("junk.zip"); a == nil {
		t.Fatal("declined clean dropped the archive record")
	}
}

func TestCachePersistsAcrossHandlers(t *testing.T) {
	h, rawDir, arcDir := newHandler(t)
	o := pvgen.DefaultOptions()
	writeRaw(t, rawDir, "study1", o)
	if err := h.Scan(); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	h2, err := New(rawDir, arcDir)
	if err != nil {
		t.Fatalf("reopen handler: %v", err)
	}
	if len(h2.cache.Raw) != len(h.cache.Raw) {
		t.Fatalf("reloaded cache has %d raw records, want %d", len(h2.cache.Raw), len(h.cache.Raw))
	}
	if r := h2.cache.rawByPath("study1"); r == nil {
		t.Fatal("study1 record lost across handlers")
	}
}

func TestNew_RecoversFromCorruptCache(t *testing.T) {
	rawDir := t.TempDir()
	arcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(arcDir, cacheName), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	h, err := New(rawDir, arcDir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(h.cache.Raw) != 0 || len(h.cache.Arc) != 0 {
		t.Fatalf("corrupt cache produced records: %+v", h.cache)
	}
}
