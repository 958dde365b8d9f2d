package dicomexport

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mrsinham/brkraw/internal/jcampdx"
	"github.com/mrsinham/brkraw/internal/pvdataset"
)

// gyromagneticRatio is the proton resonance frequency in MHz per tesla.
const gyromagneticRatio = 42.577

// Meta carries the patient and acquisition attributes stamped on every
// exported slice. Zero values drop the corresponding optional tags.
type Meta struct {
	SubjectID   string
	SubjectName string
	SubjectSex  string // DICOM code: M, F or O
	BirthDate   string // DICOM DA, yyyymmdd
	Position    string // DICOM patient position code, HFS and friends

	StudyID          string
	StudyDate        string // DICOM DA
	StudyTime        string // DICOM TM, hhmmss
	StudyDescription string

	SeriesNumber      int // series number of the first volume
	SeriesDescription string
	Protocol          string

	RepetitionTime float64   // msec
	EchoTime       float64   // msec, first echo
	EchoTimes      []float64 // per-volume echo times for multi-echo exports
	FlipAngle      float64   // degrees
	FieldStrength  float64   // tesla
	Frequency      float64   // MHz
}

// MetaFromDataset collects export metadata for one reconstruction from the
// subject file and the scan's parameter files. Missing parameters leave
// their fields zero rather than failing the export.
func MetaFromDataset(ds *pvdataset.Dataset, scanID, recoID int) (Meta, error) {
	scan, err := ds.Scan(scanID)
	if err != nil {
		return Meta{}, err
	}
	reco, err := scan.Reco(recoID)
	if err != nil {
		return Meta{}, err
	}
	visu := reco.VisuPars()
	if visu == nil {
		return Meta{}, fmt.Errorf("scan %d reco %d has no visu parameters", scanID, recoID)
	}
	acqp := scan.Acqp()
	method := scan.Method()

	m := Meta{
		SubjectID:        ds.SubjectID(),
		SubjectName:      ds.UserName(),
		SubjectSex:       dicomSex(ds.SubjectSex()),
		BirthDate:        dicomDate(ds.SubjectDOB()),
		StudyID:          ds.StudyID(),
		StudyDescription: ds.SessionID(),
		SeriesNumber:     scanID,
	}
	if m.SubjectName == "" {
		m.SubjectName = m.SubjectID
	}

	m.StudyDate, m.StudyTime = dicomDateTime(ds.SubjectDate())
	if m.StudyDate == "" {
		m.StudyDate, m.StudyTime = dicomDateTime(textParam(acqp, "ACQ_time"))
	}

	m.Position = positionFromVisu(visu)
	if m.Position == "" {
		m.Position = positionCode(ds.SubjectEntry(), ds.SubjectPose())
	}

	m.Protocol = textParam(visu, "VisuAcquisitionProtocol")
	if m.Protocol == "" {
		m.Protocol = textParam(acqp, "ACQ_scan_name")
	}
	m.SeriesDescription = m.Protocol

	m.RepetitionTime = floatParam(visu, "VisuAcqRepetitionTime")
	if m.RepetitionTime == 0 {
		m.RepetitionTime = floatParam(method, "PVM_RepetitionTime")
	}
	if m.RepetitionTime == 0 {
		m.RepetitionTime = floatParam(acqp, "ACQ_repetition_time")
	}

	m.EchoTimes = floatsParam(visu, "VisuAcqEchoTime")
	if len(m.EchoTimes) == 0 {
		m.EchoTimes = floatsParam(method, "PVM_EchoTime")
	}
	if len(m.EchoTimes) == 0 {
		m.EchoTimes = floatsParam(acqp, "ACQ_echo_time")
	}
	if len(m.EchoTimes) > 0 {
		m.EchoTime = m.EchoTimes[0]
	}

	m.FlipAngle = floatParam(visu, "VisuAcqFlipAngle")
	if m.FlipAngle == 0 {
		m.FlipAngle = floatParam(acqp, "ACQ_flip_angle")
	}

	m.Frequency = floatParam(visu, "VisuAcqImagingFrequency")
	if m.Frequency != 0 {
		m.FieldStrength = m.Frequency / gyromagneticRatio
	}
	return m, nil
}

func textParam(p *jcampdx.Parameters, key string) string {
	if p == nil || !p.Has(key) {
		return ""
	}
	s, err := p.Text(key)
	if err != nil {
		return ""
	}
	return s
}

func floatParam(p *jcampdx.Parameters, key string) float64 {
	vals := floatsParam(p, key)
	if len(vals) == 0 {
		return 0
	}
	return vals[0]
}

func floatsParam(p *jcampdx.Parameters, key string) []float64 {
	if p == nil || !p.Has(key) {
		return nil
	}
	vals, err := p.Floats(key)
	if err != nil {
		return nil
	}
	return vals
}

func dicomSex(s string) string {
	switch strings.ToUpper(s) {
	case "MALE":
		return "M"
	case "FEMALE":
		return "F"
	case "":
		return ""
	default:
		return "O"
	}
}

var (
	// 10:34:16  19 Feb 2020, used by Paravision 5
	clockDatePattern = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2})\s+(\d+\s\w+\s\d{4})`)
	// 2020-02-19T10:34:16, used by Paravision 6 and later
	isoDatePattern = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})[T](\d{2}):(\d{2}):(\d{2})`)

	digitsOnly = regexp.MustCompile(`[^0-9]`)
)

// dicomDateTime converts a ParaVision timestamp into DICOM DA and TM values.
func dicomDateTime(raw string) (string, string) {
	if m := isoDatePattern.FindStringSubmatch(raw); m != nil {
		return m[1] + m[2] + m[3], m[4] + m[5] + m[6]
	}
	if m := clockDatePattern.FindStringSubmatch(raw); m != nil {
		d, err := time.Parse("2 Jan 2006", m[4])
		if err != nil {
			return "", ""
		}
		return d.Format("20060102"), m[1] + m[2] + m[3]
	}
	return "", ""
}

// dicomDate normalizes a date of birth like 2022-11-01 to DICOM DA.
func dicomDate(raw string) string {
	s := digitsOnly.ReplaceAllString(raw, "")
	if len(s) != 8 {
		return ""
	}
	return s
}

// positionFromVisu maps VisuSubjectPosition values such as Head_Supine onto
// DICOM patient position codes.
func positionFromVisu(visu *jcampdx.Parameters) string {
	v := textParam(visu, "VisuSubjectPosition")
	if v == "" {
		return ""
	}
	parts := strings.SplitN(v, "_", 2)
	if len(parts) != 2 {
		return ""
	}
	return positionCode(parts[0], parts[1])
}

func positionCode(entry, pose string) string {
	var prefix string
	switch strings.ToLower(entry) {
	case "head", "headfirst":
		prefix = "HF"
	case "foot", "feet", "footfirst", "feetfirst":
		prefix = "FF"
	default:
		return ""
	}
	switch strings.ToLower(pose) {
	case "supine":
		return prefix + "S"
	case "prone":
		return prefix + "P"
	case "left":
		return prefix + "DL"
	case "right":
		return prefix + "DR"
	default:
		return ""
	}
}
