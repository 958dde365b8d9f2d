package backup

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
)

// Reports are fixed at 80 columns to stay readable on scanner consoles.
const reportWidth = 80

var (
	thinRule  = strings.Repeat("-", reportWidth)
	thickRule = strings.Repeat("=", reportWidth)
)

// PrintStatus writes the review report: raw datasets that still need a
// backup, archives that crashed or mismatch their raw data, and raw
// datasets with more than one archive.
func (h *Handler) PrintStatus(w io.Writer) error {
	var b strings.Builder
	now := time.Now().Format("2006-01-02 15:04:05")
	writeHeader(&b, fmt.Sprintf("Report of backup status review [%s]", now))

	listed := 0

	need := h.cache.needBackup()
	if len(need) > 0 {
		listed += len(need)
		fmt.Fprintln(&b, ">> Raw datasets that need a backup.")
		fmt.Fprintln(&b, "[Note: raw datasets without usable scan data are not listed here]")
		fmt.Fprintln(&b, thinRule)
		fmt.Fprintf(&b, "%s%s\n", center("Rawdata Path", reportWidth-10), padLeft("Size", 10))
		for _, r := range need {
			size := humanize.IBytes(dirSize(filepath.Join(h.rawDir, r.Path)))
			fmt.Fprintf(&b, "%s%s\n",
				padRight(shorten(r.Path, reportWidth-10), reportWidth-10),
				padLeft(size, 10))
		}
		fmt.Fprintln(&b, thinRule)
		fmt.Fprintln(&b)
	}

	issued := h.cache.issued()
	if len(issued) > 0 {
		listed += len(issued)
		fmt.Fprintln(&b, ">> Failed or incomplete archives.")
		fmt.Fprintln(&b, "[Note: listed archives are crashed or do not match their raw dataset]")
		fmt.Fprintln(&b, thinRule)
		fmt.Fprintf(&b, "%s%s%s\n",
			center("Backup Path", reportWidth-20), padLeft("Condition", 10), padLeft("Size", 10))
		for _, a := range issued {
			cond := "Issued"
			if a.Crashed {
				cond = "Crashed"
			}
			size := humanize.IBytes(fileSize(filepath.Join(h.arcDir, a.Path)))
			fmt.Fprintf(&b, "%s%s%s\n",
				padRight(shorten(a.Path, reportWidth-20), reportWidth-20),
				center(cond, 10),
				padLeft(size, 10))
		}
		fmt.Fprintln(&b, thinRule)
		fmt.Fprintln(&b)
	}

	dups := h.cache.duplicates()
	if len(dups) > 0 {
		listed += len(dups)
		half := reportWidth/2 - 1
		fmt.Fprintln(&b, ">> Duplicated archives.")
		fmt.Fprintln(&b, "[Note: listed raw datasets have more than one archive]")
		fmt.Fprintln(&b, thinRule)
		fmt.Fprintf(&b, "%s  %s\n", center("Raw Path", half), center("Archived", half))
		for _, d := range dups {
			raw := shorten(d.rawPath, half)
			for i, arc := range d.arcs {
				arc = shorten(arc, half)
				if i == 0 {
					fmt.Fprintf(&b, "%s:-%s\n", padRight(raw, half), padRight(arc, half))
				} else {
					fmt.Fprintf(&b, "%s -%s\n", strings.Repeat(" ", half), padRight(arc, half))
				}
			}
		}
		fmt.Fprintln(&b, thinRule)
		fmt.Fprintln(&b)
	}

	if listed == 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, center("Backup status is up-to-date...", reportWidth))
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, thinRule)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// PrintCompleted writes the archived-dataset listing with removal state.
func (h *Handler) PrintCompleted(w io.Writer) error {
	var b strings.Builder
	now := time.Now().Format("2006-01-02 15:04:05")
	writeHeader(&b, fmt.Sprintf("List of archived datasets [%s]", now))

	completed := h.cache.completed()
	if len(completed) == 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, center("No archived data...", reportWidth))
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, thinRule)
	} else {
		fmt.Fprintln(&b, thinRule)
		fmt.Fprintf(&b, "%s%s%s\n",
			center("Rawdata Path", reportWidth-20), padLeft("Removed", 10), padLeft("Archived", 10))
		for _, r := range completed {
			fmt.Fprintf(&b, "%s%s%s\n",
				padRight(shorten(r.Path, reportWidth-20), reportWidth-20),
				center(strconv.FormatBool(r.Removed), 10),
				center(strconv.FormatBool(r.Archived), 10))
		}
		fmt.Fprintln(&b, thinRule)
		fmt.Fprintln(&b)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeHeader(b *strings.Builder, title string) {
	fmt.Fprintln(b)
	fmt.Fprintln(b, thickRule)
	fmt.Fprintln(b)
	fmt.Fprintln(b, center(title, reportWidth))
	fmt.Fprintln(b, padLeft("Generated by "+reportUser(), reportWidth))
	fmt.Fprintln(b, thickRule)
	fmt.Fprintln(b)
}

func reportUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

func center(s string, w int) string {
	if len(s) >= w {
		return s
	}
	left := (w - len(s)) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", w-len(s)-left)
}

func padLeft(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return strings.Repeat(" ", w-len(s)) + s
}

func padRight(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}

func shorten(s string, w int) string {
	if len(s) <= w {
		return s
	}
	return s[:w-4] + "... "
}

func dirSize(p string) uint64 {
	var n uint64
	filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if info, err := d.Info(); err == nil {
			n += uint64(info.Size())
		}
		return nil
	})
	return n
}

func fileSize(p string) uint64 {
	info, err := os.Stat(p)
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}
