package backup

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/mrsinham/brkraw/internal/pvdataset"
)

// Backup archives every raw dataset that has no healthy archive yet, then
// re-archives the datasets whose archives are flagged as issued. Stale part
// files and crashed or mismatched archives are removed before compressing.
// Progress messages go to w.
func (h *Handler) Backup(w io.Writer) error {
	h.cache.log("backup", "backup started")

	steps := []struct {
		label string
		raws  []*rawRecord
	}{
		{"raw datasets with no archive", h.cache.needBackup()},
		{"raw datasets with issued archives", h.rawsForIssued()},
	}
	for _, step := range steps {
		if len(step.raws) == 0 {
			continue
		}
		fmt.Fprintf(w, "\nArchiving %s...\n", step.label)
		h.cache.log("backup", "archiving "+step.label)
		for _, r := range step.raws {
			if err := h.backupOne(w, r); err != nil {
				return err
			}
		}
	}
	return h.save()
}

// rawsForIssued maps issued archives back to their raw datasets, deduped.
func (h *Handler) rawsForIssued() []*rawRecord {
	var raws []*rawRecord
	seen := make(map[int]bool)
	for _, a := range h.cache.issued() {
		r := h.cache.rawByID(a.RawID)
		if r == nil || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		raws = append(raws, r)
	}
	return raws
}

func (h *Handler) backupOne(w io.Writer, r *rawRecord) error {
	rawPath := filepath.Join(h.rawDir, r.Path)
	if _, err := os.Stat(rawPath); err != nil {
		return nil
	}
	arcPath := filepath.Join(h.arcDir, r.Path+".zip")
	tmpPath := filepath.Join(h.arcDir, r.Path+".part")

	if _, err := os.Stat(tmpPath); err == nil {
		fmt.Fprintf(w, " - removing leftover %s\n", filepath.Base(tmpPath))
		if err := os.Remove(tmpPath); err != nil {
			return fmt.Errorf("remove leftover part file: %w", err)
		}
	}
	if _, err := os.Stat(arcPath); err == nil {
		switch {
		case !pvdataset.IsZipFile(arcPath):
			fmt.Fprintf(w, " - removing crashed archive %s\n", filepath.Base(arcPath))
			if err := os.Remove(arcPath); err != nil {
				return fmt.Errorf("remove crashed archive: %w", err)
			}
		case h.sameAsRaw(filepath.Base(arcPath)):
			return nil
		default:
			fmt.Fprintf(w, " - removing mismatched archive %s\n", filepath.Base(arcPath))
			if err := os.Remove(arcPath); err != nil {
				return fmt.Errorf("remove mismatched archive: %w", err)
			}
		}
	}

	fmt.Fprintf(w, " :: Compressing [%s]...\n", rawPath)
	start := time.Now()
	if err := zipDir(tmpPath, rawPath, r.Path); err != nil {
		h.cache.log("backup", fmt.Sprintf("archiving %s failed: %v", r.Path, err))
		os.Remove(tmpPath)
		return fmt.Errorf("archive %s: %w", r.Path, err)
	}
	if err := os.Rename(tmpPath, arcPath); err != nil {
		h.cache.log("backup", fmt.Sprintf("renaming %s failed: %v", tmpPath, err))
		return fmt.Errorf("rename archive: %w", err)
	}
	fmt.Fprintf(w, " - %s generated in %s\n",
		filepath.Base(arcPath), time.Since(start).Round(time.Millisecond))
	h.cache.log("backup", r.Path+" archived")
	return nil
}

// zipDir compresses dir into zipPath with every entry placed under root,
// matching how the scanner exports its own archives.
func zipDir(zipPath, dir, root string) error {
	f, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)

	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		dst, err := zw.Create(path.Join(root, filepath.ToSlash(rel)))
		if err != nil {
			return err
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(dst, src)
		return err
	})
	if err != nil {
		zw.Close()
		f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
