// Package pvdataset provides read access to Bruker ParaVision raw datasets,
// either as a study directory tree or as a single zip archive.
//
// A study holds a subject parameter file and numbered scan directories; each
// scan holds method/acqp parameter files, optionally the raw k-space blob
// (fid), and numbered reconstruction directories under pdata with the image
// bytes (2dseq) and their visu_pars parameters.
package pvdataset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mrsinham/brkraw/internal/jcampdx"
)

// ErrNotValid reports that a path does not point to a readable ParaVision
// dataset (directory or zip archive).
var ErrNotValid = errors.New("not a ParaVision dataset")

// Dataset is an open ParaVision study.
type Dataset struct {
	path     string
	zipped   bool
	rootName string
	src      source
	subject  *jcampdx.Parameters
	scans    map[int]*Scan
}

// Open opens a study directory or zip archive. Zip detection is by file
// signature, not extension, so renamed .PvDatasets archives work.
func Open(p string) (*Dataset, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}

	if info.IsDir() {
		return openDir(p)
	}
	if IsZipFile(p) {
		return openZip(p)
	}
	return nil, fmt.Errorf("%s: %w", p, ErrNotValid)
}

func openDir(root string) (*Dataset, error) {
	d := &Dataset{
		path:  root,
		src:   &dirSource{root: root},
		scans: make(map[int]*Scan),
	}

	err := filepath.WalkDir(root, func(p string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		d.classifyDir(rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk dataset: %w", err)
	}
	return d, nil
}

// classifyDir applies the layout rules to one directory of the study tree:
// a directory holding subject is the study root, a numeric directory with
// method and acqp is a scan, a numeric directory with 2dseq and visu_pars
// is a reconstruction.
func (d *Dataset) classifyDir(rel string) {
	has := func(name string) bool {
		_, err := d.src.stat(joinRel(rel, name))
		return err == nil
	}

	if has("subject") {
		params, err := d.parseParams(joinRel(rel, "subject"))
		if err != nil {
			logrus.WithField("path", rel).Warnf("unreadable subject file: %v", err)
		} else {
			d.subject = params
		}
	}

	base := path.Base(filepath.ToSlash(rel))
	id, numeric := parseID(base)

	if numeric && has("method") && has("acqp") {
		scan := d.scan(id)
		scan.rel = rel
		if m, err := d.parseParams(joinRel(rel, "method")); err == nil {
			scan.method = m
		}
		if a, err := d.parseParams(joinRel(rel, "acqp")); err == nil {
			scan.acqp = a
		}
		for _, name := range []string{"fid", "rawdata.job0"} {
			if has(name) {
				scan.fidRel = joinRel(rel, name)
				break
			}
		}
		return
	}

	if numeric && has("2dseq") && has("visu_pars") {
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 3 {
			return
		}
		scanID, ok := parseID(parts[len(parts)-3])
		if !ok {
			return
		}
		visu, err := d.parseParams(joinRel(rel, "visu_pars"))
		if err != nil {
			logrus.WithField("path", rel).Warnf("unreadable visu_pars: %v", err)
			return
		}
		reco := &Reco{
			id:      id,
			visu:    visu,
			dataRel: joinRel(rel, "2dseq"),
		}
		if r, err := d.parseParams(joinRel(rel, "reco")); err == nil {
			reco.recoParams = r
		}
		scan := d.scan(scanID)
		reco.scan = scan
		scan.recos[id] = reco
	}
}

func (d *Dataset) scan(id int) *Scan {
	s, ok := d.scans[id]
	if !ok {
		s = &Scan{id: id, ds: d, recos: make(map[int]*Reco)}
		d.scans[id] = s
	}
	return s
}

func (d *Dataset) parseParams(rel string) (*jcampdx.Parameters, error) {
	r, err := d.src.reader(rel)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return jcampdx.Parse(r)
}

// Close releases the underlying archive handle, if any.
func (d *Dataset) Close() error {
	return d.src.close()
}

// Path returns the path the dataset was opened from.
func (d *Dataset) Path() string { return d.path }

// Name returns the base name of the dataset path, without a zip extension.
func (d *Dataset) Name() string {
	base := filepath.Base(d.path)
	if d.zipped {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return base
}

// SourceDir returns the name of the study directory the dataset content came
// from. For a directory this is its base name; for an archive it is the root
// folder recorded inside the zip, which can differ from the archive name and
// is empty when the archive has no inner folder.
func (d *Dataset) SourceDir() string {
	if d.zipped {
		return d.rootName
	}
	return filepath.Base(d.path)
}

// IsZip reports whether the dataset was opened from an archive.
func (d *Dataset) IsZip() bool { return d.zipped }

// IsPvDataset reports whether the open path holds a usable study: at least
// one scan and a readable subject file.
func (d *Dataset) IsPvDataset() bool {
	return d.NumScans() > 0 && d.subject != nil
}

// NumScans counts acquired measurements: scans carrying raw k-space, or if
// none do, scans carrying at least one reconstruction.
func (d *Dataset) NumScans() int {
	withFID := 0
	withReco := 0
	for _, s := range d.scans {
		if s.fidRel != "" {
			withFID++
		}
		if len(s.recos) > 0 {
			withReco++
		}
	}
	if withFID > 0 {
		return withFID
	}
	return withReco
}

// NumRecos counts reconstructions with visu_pars across all scans.
func (d *Dataset) NumRecos() int {
	n := 0
	for _, s := range d.scans {
		n += len(s.availRecos())
	}
	return n
}

// Scans returns sorted scan ids having at least one usable reconstruction.
func (d *Dataset) Scans() []int {
	var ids []int
	for id, s := range d.scans {
		if len(s.availRecos()) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Scan returns the scan with the given id.
func (d *Dataset) Scan(id int) (*Scan, error) {
	s, ok := d.scans[id]
	if !ok {
		return nil, fmt.Errorf("scan %d not found in %s", id, d.Name())
	}
	return s, nil
}

// Subject returns the study's subject parameters, nil when absent.
func (d *Dataset) Subject() *jcampdx.Parameters { return d.subject }

// UserAccount returns the scanner account from the subject file OWNER header.
func (d *Dataset) UserAccount() string {
	if d.subject == nil {
		return ""
	}
	owner, _ := d.subject.HeaderValue("OWNER")
	return owner
}

// SubjectID returns the study's subject identifier.
func (d *Dataset) SubjectID() string { return d.subjectText("SUBJECT_id") }

// StudyID returns the study number within the subject.
func (d *Dataset) StudyID() string { return d.subjectText("SUBJECT_study_nr") }

// SessionID returns the study name used as the session identifier.
func (d *Dataset) SessionID() string { return d.subjectText("SUBJECT_study_name") }

// SubjectEntry returns the subject entry direction (HeadFirst or FeetFirst).
func (d *Dataset) SubjectEntry() string {
	return lastUnderscoreField(d.subjectText("SUBJECT_entry"))
}

// SubjectPose returns the subject pose (Supine, Prone, Left, Right).
func (d *Dataset) SubjectPose() string {
	return lastUnderscoreField(d.subjectText("SUBJECT_position"))
}

// SubjectSex returns the subject sex.
func (d *Dataset) SubjectSex() string { return d.subjectText("SUBJECT_sex") }

// SubjectType returns the subject type (Biped, Quadruped, Phantom, ...).
func (d *Dataset) SubjectType() string { return d.subjectText("SUBJECT_type") }

// SubjectWeight returns the subject weight in kilograms.
func (d *Dataset) SubjectWeight() float64 {
	if d.subject == nil {
		return 0
	}
	w, err := d.subject.Float("SUBJECT_weight")
	if err != nil {
		return 0
	}
	return w
}

// SubjectDOB returns the subject date of birth as recorded.
func (d *Dataset) SubjectDOB() string { return d.subjectText("SUBJECT_dbirth") }

// UserName returns the researcher name string.
func (d *Dataset) UserName() string { return d.subjectText("SUBJECT_name_string") }

// SubjectDate returns the raw SUBJECT_date value for scan time parsing.
func (d *Dataset) SubjectDate() string { return d.subjectText("SUBJECT_date") }

func (d *Dataset) subjectText(name string) string {
	if d.subject == nil {
		return ""
	}
	v, ok := d.subject.Get(name)
	if !ok {
		return ""
	}
	return asText(v)
}

func asText(v jcampdx.Value) string {
	if s, err := v.Text(); err == nil {
		return s
	}
	if n, err := v.Int(); err == nil {
		return strconv.Itoa(n)
	}
	if f, err := v.Float(); err == nil {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return v.String()
}

func lastUnderscoreField(s string) string {
	if s == "" {
		return ""
	}
	parts := strings.Split(s, "_")
	return parts[len(parts)-1]
}

func parseID(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func joinRel(dir, name string) string {
	if dir == "." || dir == "" {
		return name
	}
	return filepath.ToSlash(filepath.Join(dir, name))
}

// IsZipFile reports whether the file starts with a zip local header. Renamed
// or half-written archives fail this check even when their extension says zip.
func IsZipFile(p string) bool {
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	defer f.Close()
	var sig [4]byte
	if _, err := io.ReadFull(f, sig[:]); err != nil {
		return false
	}
	return sig[0] == 'P' && sig[1] == 'K' && sig[2] == 0x03 && sig[3] == 0x04
}
