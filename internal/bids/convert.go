package bids

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/brkraw/internal/convert"
	"github.com/mrsinham/brkraw/internal/pvdataset"
)

// ConvertOptions tune the tree build. The zero value converts into ./Data
// with the built-in metadata recipes and one worker per CPU.
type ConvertOptions struct {
	OutDir      string
	RefPath     string
	Workers     int
	Slope       convert.Rescale
	Offset      convert.Rescale
	SubjectType string
	Position    string
	Version     string
	Out         io.Writer
}

// plan is one scheduled output file, resolved down to its directory and
// filename stem.
type plan struct {
	c      *convert.Converter
	row    Row
	line   int
	outDir string
	name   string
}

type indexedRow struct {
	Row
	line int
}

type taskResult struct {
	p   *plan
	err error
}

var entityPattern = regexp.MustCompile(`[^0-9a-zA-Z]`)

// Convert builds a BIDS tree under opts.OutDir from the datasets below
// parent, driven by a curated datasheet. Planning is sequential so that run
// numbers come out stable; the conversions themselves execute on a worker
// pool. A failed conversion is reported and the rest proceed.
func Convert(parent, sheetPath string, opts ConvertOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	sheet, err := ReadDatasheet(sheetPath)
	if err != nil {
		return err
	}
	refs := convert.DefaultRefSet()
	if opts.RefPath != "" {
		if refs, err = convert.LoadRefSet(opts.RefPath); err != nil {
			return err
		}
	}
	parent, err = filepath.Abs(parent)
	if err != nil {
		return err
	}
	root := opts.OutDir
	if root == "" {
		root = "Data"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	if err := writeAgnosticFiles(root, opts.Version); err != nil {
		return err
	}

	includeSession := false
	for _, r := range sheet.Rows {
		if r.SessID != "" {
			includeSession = true
			break
		}
	}

	names, err := datasetDirs(parent)
	if err != nil {
		return err
	}

	var plans []*plan
	var open []*pvdataset.Dataset
	defer func() {
		for _, ds := range open {
			ds.Close()
		}
	}()

	written := make(map[string]bool)
	for _, name := range names {
		p := filepath.Join(parent, name)
		ds, err := pvdataset.Open(p)
		if err != nil {
			log.Debugf("skipping %s: %v", p, err)
			continue
		}
		if !ds.IsPvDataset() {
			ds.Close()
			continue
		}
		rows := rowsFor(sheet, ds.Path())
		if len(rows) == 0 {
			ds.Close()
			continue
		}
		open = append(open, ds)

		c := convert.New(ds)
		if opts.SubjectType != "" {
			if err := c.OverrideSubjectType(opts.SubjectType); err != nil {
				return err
			}
		}
		if opts.Position != "" {
			if err := c.OverridePosition(opts.Position); err != nil {
				return err
			}
		}

		subjCode := "sub-" + rows[0].SubjID
		if !written[subjCode] {
			written[subjCode] = true
			if err := appendParticipant(root, subjCode); err != nil {
				return err
			}
		}

		fmt.Fprintf(out, "Converting %s...\n", ds.Name())
		ps, err := planRows(c, rows, includeSession, root)
		if err != nil {
			return err
		}
		plans = append(plans, ps...)
	}

	if err := numberRuns(plans); err != nil {
		return err
	}
	runPlans(plans, refs, opts, out)
	fmt.Fprintln(out, "...Done.")
	return nil
}

func rowsFor(sheet *Datasheet, dsPath string) []indexedRow {
	var rows []indexedRow
	for i, r := range sheet.Rows {
		if r.RawData == dsPath || filepath.Base(r.RawData) == filepath.Base(dsPath) {
			rows = append(rows, indexedRow{Row: r, line: i + 2})
		}
	}
	return rows
}

// planRows resolves each row to a target directory and a filename stem with
// the entity fields validated and appended in the order the naming scheme
// prescribes. Run suffixes are left for a later global pass.
func planRows(c *convert.Converter, rows []indexedRow, includeSession bool, root string) ([]*plan, error) {
	ds := c.Dataset()
	plans := make([]*plan, 0, len(rows))
	for _, r := range rows {
		subjCode := "sub-" + r.SubjID
		dir := filepath.Join(root, subjCode)
		name := subjCode
		if includeSession && r.SessID != "" {
			sess := "ses-" + r.SessID
			dir = filepath.Join(dir, sess)
			name += "_" + sess
		}
		dir = filepath.Join(dir, r.DataType)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}

		for _, ent := range []struct {
			col, val string
			max      int
		}{
			{"task", r.Task, 10},
			{"acq", r.Acq, 10},
			{"ce", r.CE, 5},
			{"rec", r.Rec, 2},
			{"dir", r.Dir, 2},
		} {
			if ent.val == "" {
				continue
			}
			if err := validateEntity(ent.col, r.line, ent.val, ent.max); err != nil {
				return nil, err
			}
			name += fmt.Sprintf("_%s-%s", ent.col, ent.val)
		}

		if r.Modality == "" {
			m, err := methodModality(ds, r.ScanID, r.DataType)
			if err != nil {
				return nil, err
			}
			r.Modality = m
		} else if err := validateEntity("modality", r.line, r.Modality, 10); err != nil {
			return nil, err
		}

		plans = append(plans, &plan{c: c, row: r.Row, line: r.line, outDir: dir, name: name})
	}
	return plans, nil
}

// methodModality falls back to a modality derived from the acquisition
// method when the datasheet leaves the column empty.
func methodModality(ds *pvdataset.Dataset, scanID int, dataType string) (string, error) {
	scan, err := ds.Scan(scanID)
	if err != nil {
		return "", err
	}
	method := scan.Method()
	if method == nil {
		return "", fmt.Errorf("scan %d has no method parameters", scanID)
	}
	name, err := method.Text("Method")
	if err != nil {
		return "", err
	}
	if dataType == "anat" {
		switch {
		case flashPattern.MatchString(name):
			return "FLASH", nil
		case rarePattern.MatchString(name):
			return "T2w", nil
		}
	}
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	return name, nil
}

func validateEntity(col string, line int, val string, maxLen int) error {
	if len(val) > maxLen {
		return fmt.Errorf("column %s row %d: %q runs past %d characters", col, line, val, maxLen)
	}
	if bad := entityPattern.FindString(val); bad != "" {
		if bad == " " {
			return fmt.Errorf("column %s row %d: %q holds whitespace", col, line, val)
		}
		return fmt.Errorf("column %s row %d: %q holds characters outside 0-9a-zA-Z", col, line, val)
	}
	return nil
}

// numberRuns appends run-NN suffixes wherever several rows resolved to the
// same stem and modality. Explicit run values win; the rest take their
// position in sheet order.
func numberRuns(plans []*plan) error {
	groups := make(map[string][]*plan)
	var order []string
	for _, p := range plans {
		key := p.name + "\x00" + p.row.Modality
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], p)
	}
	for _, key := range order {
		group := groups[key]
		if len(group) == 1 {
			continue
		}
		taken := make(map[int]*plan, len(group))
		for j, p := range group {
			run := j + 1
			if p.row.Run != "" {
				if err := validateEntity("run", p.line, p.row.Run, 3); err != nil {
					return err
				}
				n, err := strconv.Atoi(p.row.Run)
				if err != nil {
					return fmt.Errorf("column run row %d: %q is not an integer", p.line, p.row.Run)
				}
				run = n
			}
			if prev, ok := taken[run]; ok {
				return fmt.Errorf("scan %d: run %d is already used by scan %d, run values must be unique within one modality",
					p.row.ScanID, run, prev.row.ScanID)
			}
			taken[run] = p
			p.name = fmt.Sprintf("%s_run-%02d", p.name, run)
		}
	}
	return nil
}

func runPlans(plans []*plan, refs *convert.RefSet, opts ConvertOptions, out io.Writer) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(plans) {
		workers = len(plans)
	}

	tasks := make(chan *plan, len(plans))
	results := make(chan taskResult, len(plans))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range tasks {
				results <- taskResult{p, buildOne(p, refs, opts)}
			}
		}()
	}
	for _, p := range plans {
		tasks <- p
	}
	close(tasks)
	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		if res.err != nil {
			fmt.Fprintf(out, "Conversion failed: ScanID:%d, RecoID:%d\n", res.p.row.ScanID, res.p.row.RecoID)
			log.Warnf("convert scan %d reco %d: %v", res.p.row.ScanID, res.p.row.RecoID, res.err)
		}
	}
}

// buildOne writes the NIfTI volume(s), the diffusion tables and the sidecar
// for one planned row. Multi-echo scans fan out into one file per echo;
// magnitude images skip the sidecar.
func buildOne(p *plan, refs *convert.RefSet, opts ConvertOptions) error {
	row := p.row
	var crop *convert.Crop
	if row.Start != nil || row.End != nil {
		crop = &convert.Crop{Start: row.Start, End: row.End}
	}
	vopts := convert.Options{Slope: opts.Slope, Offset: opts.Offset, Crop: crop}

	nEcho, err := p.c.EchoCount(row.ScanID, row.RecoID)
	if err != nil {
		return err
	}
	if nEcho > 0 {
		imgs, err := p.c.Images(row.ScanID, row.RecoID, vopts)
		if err != nil {
			return err
		}
		ref, err := refs.ForModality(row.Modality)
		if err != nil {
			return err
		}
		for e, img := range imgs {
			stem := fmt.Sprintf("%s_echo-%d_%s", p.name, e+1, row.Modality)
			if err := img.WriteFile(filepath.Join(p.outDir, stem+".nii.gz")); err != nil {
				return err
			}
			cond := &convert.Condition{Code: convert.CondMultiEcho, Echo: e}
			if err := p.c.SaveJSON(row.ScanID, row.RecoID, p.outDir, stem, ref, cond); err != nil {
				return err
			}
		}
		return nil
	}

	stem := p.name + "_" + row.Modality
	if _, err := p.c.SaveNifti(row.ScanID, row.RecoID, vopts, p.outDir, stem, "nii.gz"); err != nil {
		return err
	}
	if dwiPattern.MatchString(row.Modality) {
		if err := p.c.SaveBdata(row.ScanID, p.outDir, stem); err != nil {
			return err
		}
	}
	if magPattern.MatchString(row.Modality) {
		// magnitude images need no sidecar
		return nil
	}
	ref, err := refs.ForModality(row.Modality)
	if err != nil {
		return err
	}
	var cond *convert.Condition
	if fieldmapPattern.MatchString(row.Modality) {
		cond = &convert.Condition{Code: convert.CondFieldmap}
	}
	return p.c.SaveJSON(row.ScanID, row.RecoID, p.outDir, stem, ref, cond)
}

// writeAgnosticFiles seeds the files BIDS expects at the tree root. An
// existing participants table means the directory already holds a converted
// tree, which is refused rather than appended to twice.
func writeAgnosticFiles(root, version string) error {
	if version == "" {
		version = "dev"
	}

	desc := filepath.Join(root, "dataset_description.json")
	if _, err := os.Stat(desc); os.IsNotExist(err) {
		body, err := json.MarshalIndent(struct {
			Name               string   `json:"Name"`
			BIDSVersion        string   `json:"BIDSVersion"`
			DatasetType        string   `json:"DatasetType"`
			ReferencesAndLinks []string `json:"ReferencesAndLinks"`
		}{
			Name:               filepath.Base(root),
			BIDSVersion:        SupportedBidsVersion,
			DatasetType:        "raw",
			ReferencesAndLinks: []string{"https://doi.org/10.5281/zenodo.3818615"},
		}, "", "    ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(desc, body, 0o644); err != nil {
			return err
		}
	}

	readme := filepath.Join(root, "README")
	if _, err := os.Stat(readme); os.IsNotExist(err) {
		body := fmt.Sprintf("This dataset was converted with brkraw v%s at %s.\n"+
			"## How to cite?\n - https://doi.org/10.5281/zenodo.3818615\n",
			version, time.Now().Format("2006-01-02 15:04:05"))
		if err := os.WriteFile(readme, []byte(body), 0o644); err != nil {
			return err
		}
	}

	tsv := filepath.Join(root, "participants.tsv")
	if _, err := os.Stat(tsv); err == nil {
		return fmt.Errorf("participants.tsv already exists in %s, refusing to convert into a used tree", root)
	}
	if err := os.WriteFile(tsv, []byte("participant_id\n"), 0o644); err != nil {
		return err
	}

	pj := filepath.Join(root, "participants.json")
	if _, err := os.Stat(pj); err == nil {
		return fmt.Errorf("participants.json already exists in %s, refusing to convert into a used tree", root)
	}
	body, err := json.MarshalIndent(map[string]any{
		"participant_id": map[string]string{"Description": "Participant identifier"},
	}, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(pj, body, 0o644)
}

func appendParticipant(root, subjCode string) error {
	f, err := os.OpenFile(filepath.Join(root, "participants.tsv"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(subjCode + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
