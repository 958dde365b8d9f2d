package convert

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/mrsinham/brkraw/internal/jcampdx"
)

// Info writes a readable study summary: subject block first, then one line
// per scan with its acquisition parameters and one line per reconstruction
// with the geometry.
func (c *Converter) Info(w io.Writer) error {
	var lines []string
	first := true
	for _, scanID := range c.ds.Scans() {
		scan, err := c.ds.Scan(scanID)
		if err != nil {
			return err
		}
		for j, recoID := range scan.Recos() {
			reco, err := scan.Reco(recoID)
			if err != nil {
				return err
			}
			visu := reco.VisuPars()
			if visu == nil {
				continue
			}
			if first {
				lines = append(lines, c.headerLines(visu)...)
				first = false
			}
			if j == 0 {
				lines = append(lines, scanLine(scanID, visu))
			}
			lines = append(lines, recoLines(recoID, visu)...)
		}
	}
	lines = append(lines, "\n")
	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

func (c *Converter) headerLines(visu *jcampdx.Parameters) []string {
	sw := ""
	if visu.Has("VisuCreatorVersion") {
		sw, _ = visu.Text("VisuCreatorVersion")
	}
	title := fmt.Sprintf("Paravision %s", sw)

	date := "None"
	if st, err := c.ScanTime(nil); err == nil {
		date = st.Date.Format("2006-01-02")
	}

	ds := c.ds
	return []string{
		title,
		strings.Repeat("-", len(title)),
		fmt.Sprintf("UserAccount:\t%s", ds.UserAccount()),
		fmt.Sprintf("Date:\t\t%s", date),
		fmt.Sprintf("Researcher:\t%s", ds.UserName()),
		fmt.Sprintf("Subject ID:\t%s", ds.SubjectID()),
		fmt.Sprintf("Session ID:\t%s", ds.SessionID()),
		fmt.Sprintf("Study ID:\t%s", ds.StudyID()),
		fmt.Sprintf("Date of Birth:\t%s", ds.SubjectDOB()),
		fmt.Sprintf("Sex:\t\t%s", ds.SubjectSex()),
		fmt.Sprintf("Weight:\t\t%s kg", trimFloat(ds.SubjectWeight())),
		fmt.Sprintf("Subject Type:\t%s", ds.SubjectType()),
		fmt.Sprintf("Position:\t%s\t\tEntry:\t%s", ds.SubjectPose(), ds.SubjectEntry()),
		"\n[ScanID]\tSequence::Protocol::[Parameters]",
	}
}

func scanLine(scanID int, visu *jcampdx.Parameters) string {
	tr := displayParam(visu, "VisuAcqRepetitionTime", "")
	te := displayParam(visu, "VisuAcqEchoTime", "0")
	bw := displayParam(visu, "VisuAcqPixelBandwidth", "")
	fa := displayParam(visu, "VisuAcqFlipAngle", "")
	params := fmt.Sprintf("[ TR: %s ms, TE: %s ms, pixelBW: %s Hz, FlipAngle: %s degree]", tr, te, bw, fa)

	proto := ""
	if visu.Has("VisuAcquisitionProtocol") {
		proto, _ = visu.Text("VisuAcquisitionProtocol")
	}
	seq := ""
	if visu.Has("VisuAcqSequenceName") {
		seq, _ = visu.Text("VisuAcqSequenceName")
	}
	return fmt.Sprintf("[%03d]\t%s::%s::\n\t%s", scanID, seq, proto, params)
}

func recoLines(recoID int, visu *jcampdx.Parameters) []string {
	dim, class, err := dimInfo(visu)
	if err != nil {
		return []string{fmt.Sprintf("    [%02d] unreadable reconstruction: %v", recoID, err)}
	}
	if class != dimSpatialOnly {
		return []string{fmt.Sprintf("    [%02d] dim: %d, %s", recoID, dim, class)}
	}

	size, err := matrixSize(visu, 0)
	if err != nil {
		return []string{fmt.Sprintf("    [%02d] unreadable reconstruction: %v", recoID, err)}
	}
	sizeStr := make([]string, len(size))
	for i, s := range size {
		sizeStr[i] = strconv.Itoa(s)
	}
	sp, err := spatial(visu)
	if err != nil {
		return []string{fmt.Sprintf("    [%02d] unreadable reconstruction: %v", recoID, err)}
	}
	temp, err := temporal(visu)
	if err != nil {
		return []string{fmt.Sprintf("    [%02d] unreadable reconstruction: %v", recoID, err)}
	}
	fovStr := make([]string, len(sp.fov))
	for i, f := range sp.fov {
		fovStr[i] = trimFloat(f)
	}
	resolStr := make([]string, len(sp.resol[0]))
	for i, r := range sp.resol[0] {
		resolStr[i] = fmt.Sprintf("%.3f", r)
	}

	return []string{fmt.Sprintf("    [%02d] dim: %dD, matrix_size: %s, fov_size: %s (unit:mm)\n"+
		"         spatial_resol: %s (unit:mm), temporal_resol: %.3f (unit:msec)",
		recoID, dim,
		strings.Join(sizeStr, " x "),
		strings.Join(fovStr, " x "),
		strings.Join(resolStr, " x "),
		temp.resol)}
}

// displayParam renders an acquisition parameter for the summary: scalar
// floats with two decimals, lists comma joined, missing values as fallback.
func displayParam(visu *jcampdx.Parameters, key, fallback string) string {
	v, ok := visu.Get(key)
	if !ok {
		return fallback
	}
	switch v.Kind() {
	case jcampdx.KindInt:
		n, _ := v.Int()
		return strconv.Itoa(n)
	case jcampdx.KindFloat:
		f, _ := v.Float()
		return fmt.Sprintf("%.2f", f)
	case jcampdx.KindIntArray:
		ns, _ := v.Ints()
		parts := make([]string, len(ns))
		for i, n := range ns {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, ",")
	case jcampdx.KindFloatArray:
		fs, _ := v.Floats()
		parts := make([]string, len(fs))
		for i, f := range fs {
			parts[i] = trimFloat(f)
		}
		return strings.Join(parts, ",")
	case jcampdx.KindString:
		s, _ := v.Text()
		return s
	default:
		return fallback
	}
}

// trimFloat prints a float compactly but keeps one decimal for whole
// numbers, matching how scanner consoles report geometry.
func trimFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return fmt.Sprintf("%.1f", f)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
