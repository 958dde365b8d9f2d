// Package bids plans and performs the reorganization of raw Bruker studies
// into a BIDS directory tree. The workflow is two-step: BuildDatasheet scans
// a directory of raw datasets into an editable table, the operator curates
// entity names in a spreadsheet, and Convert materializes the tree from the
// curated table.
package bids

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/brkraw/internal/convert"
	"github.com/mrsinham/brkraw/internal/pvdataset"
)

// SupportedBidsVersion is the BIDS specification release the produced trees
// aim for.
const SupportedBidsVersion = "1.2.2"

var (
	epiPattern      = regexp.MustCompile(`(?i)epi`)
	dtiPattern      = regexp.MustCompile(`(?i)dti`)
	flashPattern    = regexp.MustCompile(`(?i)flash`)
	rarePattern     = regexp.MustCompile(`(?i)rare`)
	fieldmapPattern = regexp.MustCompile(`(?i)fieldmap`)
	msmePattern     = regexp.MustCompile(`(?i)msme`)
	dwiPattern      = regexp.MustCompile(`(?i)dwi`)
	magPattern      = regexp.MustCompile(`(?i)magnitude`)
)

// columns is the datasheet header. Lowercase names are BIDS filename
// entities the operator may fill in, the rest locate the source data.
var columns = []string{
	"RawData", "SubjID", "SessID", "ScanID", "RecoID", "DataType",
	"task", "acq", "ce", "rec", "dir", "run", "flip", "mt", "part",
	"modality", "Start", "End",
}

// Row describes one planned output file: where its voxels come from and how
// its BIDS name is assembled. Start and End crop the frame axis, which is
// how a fieldmap acquisition splits into a fieldmap and a magnitude image.
type Row struct {
	RawData  string
	SubjID   string
	SessID   string
	ScanID   int
	RecoID   int
	DataType string
	Task     string
	Acq      string
	CE       string
	Rec      string
	Dir      string
	Run      string
	Flip     string
	MT       string
	Part     string
	Modality string
	Start    *int
	End      *int
}

// Datasheet is the editable conversion plan, one Row per output file.
type Datasheet struct {
	Rows []Row
}

// BuildDatasheet walks a directory of raw datasets and drafts the
// conversion plan. Directories or archives that are not ParaVision datasets
// are skipped, as are localizers and non-spatial reconstructions.
func BuildDatasheet(parent string) (*Datasheet, error) {
	parent, err := filepath.Abs(parent)
	if err != nil {
		return nil, err
	}
	names, err := datasetDirs(parent)
	if err != nil {
		return nil, err
	}

	sheet := &Datasheet{}
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
		sheet.Rows = append(sheet.Rows, datasetRows(ds)...)
		ds.Close()
	}
	return sheet, nil
}

// datasetDirs lists the candidate dataset names under parent. A parent that
// is itself a dataset (it has a subject file) yields a single empty name.
func datasetDirs(parent string) ([]string, error) {
	if _, err := os.Stat(filepath.Join(parent, "subject")); err == nil {
		return []string{""}, nil
	}
	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func datasetRows(ds *pvdataset.Dataset) []Row {
	c := convert.New(ds)
	subj := sanitizeID(ds.SubjectID(), "subject")
	sess := sanitizeID(ds.SessionID(), "session")

	var rows []Row
	for _, scanID := range ds.Scans() {
		scan, err := ds.Scan(scanID)
		if err != nil {
			log.Warnf("scan %d of %s: %v", scanID, ds.Name(), err)
			continue
		}
		method := scan.Method()
		if method == nil {
			continue
		}
		methodName, err := method.Text("Method")
		if err != nil {
			continue
		}
		for _, recoID := range scan.Recos() {
			spatial, err := c.SpatialOnly(scanID, recoID)
			if err != nil || !spatial {
				continue
			}
			if loc, err := c.IsLocalizer(scanID, recoID); err != nil || loc {
				continue
			}
			base := Row{
				RawData:  ds.Path(),
				SubjID:   subj,
				SessID:   sess,
				ScanID:   scanID,
				RecoID:   recoID,
				DataType: Classify(methodName),
			}
			rows = append(rows, expandRow(base, methodName)...)
		}
	}
	return rows
}

// expandRow turns one reconstruction into its datasheet rows. Fieldmap scans
// store the field map and the magnitude image as consecutive frames, so they
// plan as two rows with crop windows.
func expandRow(base Row, methodName string) []Row {
	switch {
	case base.DataType == "fmap":
		fm, mag := base, base
		fm.Modality = "fieldmap"
		fm.Start, fm.End = intp(0), intp(1)
		mag.Modality = "magnitude"
		mag.Start, mag.End = intp(1), intp(2)
		return []Row{fm, mag}
	case base.DataType == "dwi":
		base.Modality = "dwi"
	case base.DataType == "anat" && msmePattern.MatchString(methodName):
		base.Modality = "MESE"
	}
	return []Row{base}
}

func intp(n int) *int { return &n }

// Classify assigns the BIDS data type for an acquisition method name.
func Classify(method string) string {
	switch {
	case epiPattern.MatchString(method) && !dtiPattern.MatchString(method):
		return "func"
	case dtiPattern.MatchString(method):
		return "dwi"
	case flashPattern.MatchString(method) || rarePattern.MatchString(method):
		return "anat"
	case fieldmapPattern.MatchString(method):
		return "fmap"
	case msmePattern.MatchString(method):
		log.Warn("MSME scan defaults to the anat type with MESE modality, edit the datasheet if that is not wanted")
		return "anat"
	default:
		log.Warnf("cannot classify method %q, marked as etc; set its DataType before converting", method)
		return "etc"
	}
}

// sanitizeID rewrites characters that would break the sub-/ses- label
// grammar. BIDS reserves underscores and hyphens as separators.
func sanitizeID(id, what string) string {
	if strings.Contains(id, "_") {
		log.Warnf("%s id %q holds underscores, spelled out as Underscore for a valid BIDS label", what, id)
		id = strings.ReplaceAll(id, "_", "Underscore")
	}
	if strings.Contains(id, "-") {
		log.Warnf("%s id %q holds hyphens, spelled out as Hyphen for a valid BIDS label", what, id)
		id = strings.ReplaceAll(id, "-", "Hyphen")
	}
	return id
}
