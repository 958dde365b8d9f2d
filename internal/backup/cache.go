package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// cacheName is the status file kept next to the archives. It records every
// raw dataset and archive seen so far, so datasets removed from the scanner
// keep their history.
const cacheName = ".brk-backup_cache"

// rawRecord tracks one raw study directory. ID never changes once assigned;
// archive records point back to it.
type rawRecord struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Garbage  bool   `json:"garbage"`
	Removed  bool   `json:"removed"`
	Archived bool   `json:"archived"`
}

// arcRecord tracks one archive file in the archive directory.
type arcRecord struct {
	RawID   int    `json:"raw_id"`
	Path    string `json:"path"`
	Garbage bool   `json:"garbage"`
	Crashed bool   `json:"crashed"`
	Issued  bool   `json:"issued"`
}

type logLine struct {
	Time    string `json:"time"`
	Op      string `json:"op"`
	Message string `json:"message"`
}

type cache struct {
	Raw []*rawRecord `json:"raw"`
	Arc []*arcRecord `json:"arc"`
	Log []logLine    `json:"log"`
}

func (c *cache) log(op, message string) {
	c.Log = append(c.Log, logLine{
		Time:    time.Now().Format("20060102-150405"),
		Op:      op,
		Message: message,
	})
}

func (c *cache) rawByPath(p string) *rawRecord {
	if p == "" {
		return nil
	}
	for _, r := range c.Raw {
		if r.Path == p {
			return r
		}
	}
	return nil
}

func (c *cache) rawByID(id int) *rawRecord {
	for _, r := range c.Raw {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (c *cache) arcByPath(p string) *arcRecord {
	for _, a := range c.Arc {
		if a.Path == p {
			return a
		}
	}
	return nil
}

func (c *cache) dropArc(p string) {
	for i, a := range c.Arc {
		if a.Path == p {
			c.Arc = append(c.Arc[:i], c.Arc[i+1:]...)
			return
		}
	}
}

// needBackup returns raw datasets without a healthy archive, garbage aside.
func (c *cache) needBackup() []*rawRecord {
	var out []*rawRecord
	for _, r := range c.Raw {
		if !r.Archived && !r.Garbage {
			out = append(out, r)
		}
	}
	return out
}

func (c *cache) completed() []*rawRecord {
	var out []*rawRecord
	for _, r := range c.Raw {
		if r.Archived {
			out = append(out, r)
		}
	}
	return out
}

func (c *cache) issued() []*arcRecord {
	var out []*arcRecord
	for _, a := range c.Arc {
		if a.Issued {
			out = append(out, a)
		}
	}
	return out
}

func (c *cache) garbage() []*arcRecord {
	var out []*arcRecord
	for _, a := range c.Arc {
		if a.Garbage {
			out = append(out, a)
		}
	}
	return out
}

// duplicate groups the archives that share one raw dataset.
type duplicate struct {
	rawPath string
	arcs    []string
}

func (c *cache) duplicates() []duplicate {
	byRaw := make(map[int][]*arcRecord)
	for _, a := range c.Arc {
		byRaw[a.RawID] = append(byRaw[a.RawID], a)
	}

	var dups []duplicate
	seen := make(map[int]bool)
	for _, a := range c.Arc {
		group := byRaw[a.RawID]
		if len(group) < 2 || seen[a.RawID] {
			continue
		}
		seen[a.RawID] = true
		d := duplicate{}
		if r := c.rawByID(a.RawID); r != nil {
			d.rawPath = r.Path
		}
		for _, b := range group {
			d.arcs = append(d.arcs, b.Path)
		}
		dups = append(dups, d)
	}
	return dups
}

func (h *Handler) load() error {
	b, err := os.ReadFile(h.cachePath)
	if errors.Is(err, fs.ErrNotExist) {
		h.cache = &cache{}
		return h.save()
	}
	if err != nil {
		return fmt.Errorf("read backup cache: %w", err)
	}
	c := &cache{}
	if err := json.Unmarshal(b, c); err != nil {
		log.Warnf("backup cache %s is unreadable, starting over: %v", h.cachePath, err)
		h.cache = &cache{}
		return h.save()
	}
	h.cache = c
	return nil
}

func (h *Handler) save() error {
	b, err := json.MarshalIndent(h.cache, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup cache: %w", err)
	}
	if err := os.WriteFile(h.cachePath, b, 0o644); err != nil {
		return fmt.Errorf("write backup cache: %w", err)
	}
	return nil
}
