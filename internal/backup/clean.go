package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	humanize "github.com/dustin/go-humanize"
)

// Clean interactively removes archives flagged as issued, garbage, or
// duplicated. Each file needs its own confirmation; run Scan first so the
// flags reflect the directories.
func (h *Handler) Clean(w io.Writer) error {
	fmt.Fprintln(w, "[Warning] This removes archives classified as issued and cannot be undone.")
	fmt.Fprintln(w, "          Update the backup status with the review command before cleaning.")
	ok, err := h.Confirm("Are you sure to continue?")
	if err != nil || !ok {
		return err
	}

	if err := h.cleanIssued(w); err != nil {
		return err
	}
	if err := h.cleanGarbage(w); err != nil {
		return err
	}
	if err := h.cleanDuplicates(w); err != nil {
		return err
	}
	return h.save()
}

// cleanIssued removes issued archives that the garbage pass does not cover.
func (h *Handler) cleanIssued(w io.Writer) error {
	var targets []*arcRecord
	for _, a := range h.cache.issued() {
		if !a.Garbage && !a.Crashed {
			targets = append(targets, a)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nRemoving ISSUED archives...")
	for _, a := range targets {
		if err := h.removeArchive(w, a); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) cleanGarbage(w io.Writer) error {
	targets := h.cache.garbage()
	if len(targets) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nRemoving GARBAGE archives...")
	for _, a := range targets {
		if err := h.removeArchive(w, a); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) cleanDuplicates(w io.Writer) error {
	dups := h.cache.duplicates()
	if len(dups) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nRemoving DUPLICATED archives...")
	for _, d := range dups {
		size := "removed"
		rawPath := filepath.Join(h.rawDir, d.rawPath)
		if _, err := os.Stat(rawPath); err == nil {
			size = humanize.IBytes(dirSize(rawPath))
		}
		fmt.Fprintf(w, "Raw dataset [%s] %s\n", d.rawPath, size)
		for _, arc := range d.arcs {
			fmt.Fprintf(w, "  +- %s\n", arc)
		}
		for _, arc := range d.arcs {
			a := h.cache.arcByPath(arc)
			if a == nil {
				continue
			}
			if err := h.removeArchive(w, a); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handler) removeArchive(w io.Writer, a *arcRecord) error {
	ok, err := h.Confirm(fmt.Sprintf("Remove [%s]?", a.Path))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	p := filepath.Join(h.arcDir, a.Path)
	if err := os.Remove(p); err != nil {
		h.cache.log("clean", fmt.Sprintf("removing %s failed: %v", p, err))
		fmt.Fprintf(w, "    failed to remove %s: %v\n", a.Path, err)
		return nil
	}
	h.cache.log("clean", a.Path+" removed")
	h.cache.dropArc(a.Path)
	return nil
}

func askConfirm(question string) (bool, error) {
	ok := false
	if err := huh.NewConfirm().Title(question).Value(&ok).Run(); err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}
	return ok, nil
}
