// Package backup keeps ParaVision raw studies and their zip archives in
// sync. It classifies both sides of an archive directory pair, reports what
// still needs archiving or went wrong, compresses what is missing, and
// removes what the user confirms as broken.
//
// State lives in a JSON cache stored next to the archives, so raw datasets
// deleted from the scanner keep their archive history.
package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/brkraw/internal/pvdataset"
)

// Handler pairs one raw-data directory with one archive directory. Confirm
// is the yes/no prompt used by Clean; tests swap it for a canned answer.
type Handler struct {
	rawDir    string
	arcDir    string
	cachePath string
	cache     *cache

	Confirm func(question string) (bool, error)
}

// New opens or creates the archive cache inside arcDir. Both directories
// may start with ~ for the home directory.
func New(rawDir, arcDir string) (*Handler, error) {
	h := &Handler{
		rawDir:  expandHome(rawDir),
		arcDir:  expandHome(arcDir),
		Confirm: askConfirm,
	}
	h.cachePath = filepath.Join(h.arcDir, cacheName)
	if err := h.load(); err != nil {
		return nil, err
	}
	return h, nil
}

// Scan reconciles the cache with both directories: new raw studies and
// archives are classified and linked, vanished ones are marked or dropped,
// and issue flags are re-checked against what is on disk now.
func (h *Handler) Scan() error {
	raws, err := h.listRawDirs()
	if err != nil {
		return err
	}
	arcs, err := h.listArchives()
	if err != nil {
		return err
	}

	for _, name := range raws {
		h.addRaw(name, false)
	}
	for _, name := range arcs {
		h.addArc(name)
	}
	h.refreshRaw()
	h.reviewArcs()

	log.Debugf("backup cache holds %d raw and %d archive records", len(h.cache.Raw), len(h.cache.Arc))
	return h.save()
}

func (h *Handler) listRawDirs() ([]string, error) {
	entries, err := os.ReadDir(h.rawDir)
	if err != nil {
		return nil, fmt.Errorf("list raw datasets: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (h *Handler) listArchives() ([]string, error) {
	entries, err := os.ReadDir(h.arcDir)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".zip", ".PvDatasets":
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (h *Handler) addRaw(name string, removed bool) {
	if h.cache.rawByPath(name) != nil {
		return
	}
	// A record created with removed set descends from an archive whose raw
	// directory is already gone, so it counts as archived.
	rec := &rawRecord{
		ID:       len(h.cache.Raw),
		Path:     name,
		Removed:  removed,
		Archived: removed,
	}
	if !removed {
		p := filepath.Join(h.rawDir, name)
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			h.cache.log("scan", name+" is not a directory, raw datasets must be directories")
			return
		}
		rec.Garbage = !isPvDataset(p)
	}
	h.cache.Raw = append(h.cache.Raw, rec)
}

func (h *Handler) addArc(name string) {
	if h.cache.arcByPath(name) != nil {
		return
	}
	arcPath := filepath.Join(h.arcDir, name)

	rawName := ""
	garbage := false
	crashed := false
	arcRecos := 0
	if ds, err := pvdataset.Open(arcPath); err != nil {
		h.cache.log("scan", name+" is unreadable")
		log.Warnf("archive %s is unreadable: %v", name, err)
		garbage, crashed = true, true
	} else {
		rawName = ds.SourceDir()
		garbage = !ds.IsPvDataset()
		arcRecos = ds.NumRecos()
		ds.Close()
	}

	issued := crashed
	r := h.cache.rawByPath(rawName)
	if r == nil {
		stem := rawName
		if stem == "" {
			stem = strings.TrimSuffix(name, filepath.Ext(name))
		}
		h.addRaw(stem, true)
		r = h.cache.rawByPath(stem)
		if r.Removed {
			// The record descends from this archive alone, so the archive
			// classification is all we know about the raw side.
			r.Garbage = garbage
		}
	} else if !crashed && !r.Removed {
		if n, ok := recoCount(filepath.Join(h.rawDir, r.Path)); !ok || n != arcRecos {
			issued = true
		}
	}

	if !crashed && !issued && !garbage {
		r.Archived = true
	}
	h.cache.Arc = append(h.cache.Arc, &arcRecord{
		RawID:   r.ID,
		Path:    name,
		Garbage: garbage,
		Crashed: crashed,
		Issued:  issued,
	})
}

// refreshRaw marks records whose raw directory vanished since the last scan.
func (h *Handler) refreshRaw() {
	for _, r := range h.cache.Raw {
		if r.Path == "" || r.Removed {
			continue
		}
		if _, err := os.Stat(filepath.Join(h.rawDir, r.Path)); err != nil {
			r.Removed = true
		}
	}
}

// reviewArcs drops records of vanished archives and re-checks issue flags:
// a crashed archive may have been replaced by a healthy one under the same
// name, and a reco-count mismatch may have been resolved.
func (h *Handler) reviewArcs() {
	kept := h.cache.Arc[:0]
	for _, a := range h.cache.Arc {
		arcPath := filepath.Join(h.arcDir, a.Path)
		if _, err := os.Stat(arcPath); err != nil {
			continue
		}
		kept = append(kept, a)

		if a.Issued {
			if a.Crashed {
				if pvdataset.IsZipFile(arcPath) {
					a.Crashed = false
					a.Issued = !h.sameAsRaw(a.Path)
					if a.Issued && a.Garbage && isPvDataset(arcPath) {
						a.Garbage = false
					}
				}
			} else {
				a.Issued = !h.sameAsRaw(a.Path)
				if !a.Issued {
					if r := h.cache.rawByID(a.RawID); r != nil {
						r.Archived = true
					}
				}
			}
		} else if r := h.cache.rawByID(a.RawID); r != nil && !a.Garbage {
			r.Archived = true
		}
	}
	h.cache.Arc = kept
}

// sameAsRaw reports whether the archive matches its raw dataset by reco
// count. Unreadable archives, archives without a recorded source folder,
// and missing raw directories all count as a mismatch.
func (h *Handler) sameAsRaw(arcName string) bool {
	arc, err := pvdataset.Open(filepath.Join(h.arcDir, arcName))
	if err != nil {
		return false
	}
	defer arc.Close()
	src := arc.SourceDir()
	if src == "" {
		return false
	}
	raw, err := pvdataset.Open(filepath.Join(h.rawDir, src))
	if err != nil {
		return false
	}
	defer raw.Close()
	return arc.NumRecos() == raw.NumRecos()
}

func isPvDataset(p string) bool {
	ds, err := pvdataset.Open(p)
	if err != nil {
		return false
	}
	defer ds.Close()
	return ds.IsPvDataset()
}

func recoCount(p string) (int, bool) {
	ds, err := pvdataset.Open(p)
	if err != nil {
		return 0, false
	}
	defer ds.Close()
	return ds.NumRecos(), true
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
