package pvgen

import (
	"fmt"
	"strings"
)

// paramWriter assembles JCAMP-DX parameter file text.
type paramWriter struct {
	b strings.Builder
}

func newParamWriter(title string) *paramWriter {
	w := &paramWriter{}
	w.header("TITLE", title)
	w.header("JCAMPDX", "4.24")
	w.header("DATATYPE", "Parameter Values")
	w.header("ORIGIN", "Bruker BioSpin MRI GmbH")
	w.header("OWNER", "nmrsu")
	return w
}

func (w *paramWriter) header(key, val string) {
	fmt.Fprintf(&w.b, "##%s=%s\n", key, val)
}

func (w *paramWriter) comment(text string) {
	fmt.Fprintf(&w.b, "$$ %s\n", text)
}

func (w *paramWriter) sym(key, val string) {
	fmt.Fprintf(&w.b, "##$%s=%s\n", key, val)
}

func (w *paramWriter) num(key string, val any) {
	fmt.Fprintf(&w.b, "##$%s=%v\n", key, val)
}

func (w *paramWriter) str(key, val string) {
	fmt.Fprintf(&w.b, "##$%s=( %d )\n<%s>\n", key, max(len(val)+1, 16), val)
}

func (w *paramWriter) ints(key string, vals ...int) {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%d", v)
	}
	fmt.Fprintf(&w.b, "##$%s=( %d )\n%s\n", key, len(vals), strings.Join(parts, " "))
}

func (w *paramWriter) floats(key string, vals ...float64) {
	fmt.Fprintf(&w.b, "##$%s=( %d )\n%s\n", key, len(vals), joinFloats(vals))
}

// shaped writes a flat float list with an explicit multi-dimensional shape.
func (w *paramWriter) shaped(key string, dims []int, vals []float64) {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = fmt.Sprintf("%d", d)
	}
	fmt.Fprintf(&w.b, "##$%s=( %s )\n%s\n", key, strings.Join(parts, ", "), joinFloats(vals))
}

// tuples writes parenthesized rows under a row-count shape declaration.
func (w *paramWriter) tuples(key string, rows ...string) {
	fmt.Fprintf(&w.b, "##$%s=( %d )\n%s\n", key, len(rows), strings.Join(rows, " "))
}

// rep writes an array in ParaVision 360 run-length notation.
func (w *paramWriter) rep(key string, n int, val string) {
	fmt.Fprintf(&w.b, "##$%s=( %d )\n@%d*(%s)\n", key, n, n, val)
}

func (w *paramWriter) bytes() []byte {
	w.b.WriteString("##END=\n")
	return []byte(w.b.String())
}

func subjectFile(o Options) []byte {
	w := newParamWriter("Parameter List, ParaVision 6.0.1")
	w.comment("2023-02-28 12:30:15.123 +0100  nmrsu@scanner")
	w.str("SUBJECT_id", o.SubjectID)
	w.num("SUBJECT_study_nr", o.StudyNr)
	w.str("SUBJECT_study_name", o.SessionName)
	w.sym("SUBJECT_entry", "SUBJECT_entry_"+o.Entry)
	w.sym("SUBJECT_position", "SUBJECT_pos_"+o.Position)
	w.sym("SUBJECT_sex", "MALE")
	w.sym("SUBJECT_type", o.SubjectType)
	w.num("SUBJECT_weight", 0.31)
	w.str("SUBJECT_dbirth", "2022-11-01")
	w.str("SUBJECT_name_string", o.SubjectID)
	w.str("SUBJECT_date", "2023-02-28T12:30:15,123+0100")
	w.str("SUBJECT_abs_date", "2023-02-28T12:30:15,123+0100")
	return w.bytes()
}

func methodFile(s ScanSpec) []byte {
	w := newParamWriter("Parameter List, ParaVision 6.0.1")
	w.str("Method", methodOrDefault(s))
	w.floats("PVM_RepetitionTime", s.TR)
	w.floats("PVM_EchoTime", echoTimes(s)...)
	w.sym("PVM_ObjOrderScheme", "Interlaced")
	w.ints("PVM_ObjOrderList", interlaced(s.NSlices)...)
	w.shaped("PVM_SPackArrGradOrient", []int{1, 3, 3},
		[]float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	w.floats("PVM_SPackArrSliceDistance", 1.0)
	if s.Kind == KindDTI && s.NDirs > 0 {
		bvals := make([]float64, s.NDirs)
		vecs := make([]float64, 0, s.NDirs*3)
		mats := make([]float64, 0, s.NDirs*9)
		for i := 0; i < s.NDirs; i++ {
			if i == 0 {
				bvals[i] = 0
				vecs = append(vecs, 0, 0, 0)
				mats = append(mats, 0, 0, 0, 0, 0, 0, 0, 0, 0)
				continue
			}
			bvals[i] = 1000
			axis := i % 3
			switch axis {
			case 0:
				vecs = append(vecs, 1, 0, 0)
			case 1:
				vecs = append(vecs, 0, 1, 0)
			default:
				vecs = append(vecs, 0, 0, 1)
			}
			// b matrix of a single-axis gradient: b on the diagonal entry
			m := make([]float64, 9)
			if axis == 0 {
				m[0] = 1000
			} else if axis == 1 {
				m[4] = 1000
			} else {
				m[8] = 1000
			}
			mats = append(mats, m...)
		}
		w.floats("PVM_DwEffBval", bvals...)
		w.shaped("PVM_DwGradVec", []int{s.NDirs, 3}, vecs)
		w.shaped("PVM_DwBMat", []int{s.NDirs, 3, 3}, mats)
	}
	return w.bytes()
}

func acqpFile(s ScanSpec) []byte {
	w := newParamWriter("Parameter List, ParaVision 6.0.1")
	w.str("ACQ_scan_name", fmt.Sprintf("%s (E%d)", protocolOrDefault(s), s.ID))
	w.str("ACQ_method", methodOrDefault(s))
	w.str("ACQ_sw_version", "PV 6.0.1")
	w.str("ACQ_time", "2023-02-28T12:30:15,123+0100")
	w.ints("ACQ_obj_order", interlaced(s.NSlices)...)
	w.num("ACQ_phase_factor", 1)
	w.floats("ACQ_repetition_time", s.TR)
	w.floats("ACQ_echo_time", s.TE)
	w.num("NSLICES", s.NSlices)
	return w.bytes()
}

func recoFile(s ScanSpec) []byte {
	w := newParamWriter("Parameter List, ParaVision 6.0.1")
	w.sym("RECO_wordtype", "_16BIT_SGN_INT")
	w.sym("RECO_byte_order", "littleEndian")
	w.ints("RECO_size", s.Size[0], s.Size[1])
	w.ints("RECO_transposition", 0)
	return w.bytes()
}

func visuFile(o Options, s ScanSpec) []byte {
	frames := frameCount(s)
	w := newParamWriter("Parameter List, ParaVision 6.0.1")
	w.num("VisuVersion", 3)
	w.str("VisuUid", "2.16.756.5.5.100.1384712661.15985.1362423915.23")
	w.str("VisuCreatorVersion", "6.0.1")
	w.str("VisuCreationDate", "2023-02-28T12:34:45,123+0100")
	w.num("VisuCoreFrameCount", frames)
	w.num("VisuCoreDim", 2)
	w.ints("VisuCoreSize", s.Size[0], s.Size[1])
	w.floats("VisuCoreExtent", float64(s.Size[0])*0.15, float64(s.Size[1])*0.15)
	w.floats("VisuCoreFrameThickness", 1.0)
	w.sym("VisuCoreDimDesc", "spatial spatial")
	w.sym("VisuCoreWordType", "_16BIT_SGN_INT")
	w.sym("VisuCoreByteOrder", "littleEndian")
	w.sym("VisuCoreDiskSliceOrder", "disk_normal_slice_order")
	w.sym("VisuCoreFrameType", "MAGNITUDE_IMAGE")
	if s.Kind == KindFieldmap {
		w.str("VisuCoreDataUnits", "Hz")
	}
	w.rep("VisuCoreDataSlope", frames, "3.05175781")
	w.rep("VisuCoreDataOffs", frames, "0")
	writeOrientation(w, s, frames)
	w.str("VisuSubjectName", o.SubjectID)
	w.str("VisuSubjectId", o.SubjectID)
	w.sym("VisuSubjectType", o.SubjectType)
	w.sym("VisuSubjectPosition", "Head_Supine")
	w.str("VisuStudyId", o.SessionName)
	w.str("VisuAcquisitionProtocol", protocolOrDefault(s))
	w.str("VisuAcqSequenceName", methodOrDefault(s))
	w.floats("VisuAcqRepetitionTime", s.TR)
	w.floats("VisuAcqEchoTime", echoTimes(s)...)
	w.floats("VisuAcqFlipAngle", 90)
	w.floats("VisuAcqImagingFrequency", 400.3)
	w.num("VisuAcqPixelBandwidth", 340)
	w.num("VisuAcqScanTime", scanTimeMsec(s))
	w.sym("VisuAcqGradEncoding", "read_enc phase_enc")
	w.num("VisuAcqEchoTrainLength", 1)
	writeFrameGroups(w, s)
	w.tuples("VisuCoreSlicePacksDef", "(0, 1)")
	w.tuples("VisuCoreSlicePacksSlices", fmt.Sprintf("(0, %d)", s.NSlices))
	w.floats("VisuCoreSlicePacksSliceDist", 1.0)
	return w.bytes()
}

// writeOrientation emits per-frame orientation and position rows. All rows
// share the identity orientation; positions step along z by the slice
// distance, repeating across non-slice frames.
func writeOrientation(w *paramWriter, s ScanSpec, frames int) {
	orient := make([]float64, 0, frames*9)
	pos := make([]float64, 0, frames*3)
	for f := 0; f < frames; f++ {
		orient = append(orient, 1, 0, 0, 0, 1, 0, 0, 0, 1)
		slice := f % s.NSlices
		z := float64(slice) - float64(s.NSlices-1)/2
		pos = append(pos, -float64(s.Size[0])*0.15/2, -float64(s.Size[1])*0.15/2, z)
	}
	w.shaped("VisuCoreOrientation", []int{frames, 9}, orient)
	w.shaped("VisuCorePosition", []int{frames, 3}, pos)
}

func writeFrameGroups(w *paramWriter, s ScanSpec) {
	rows := []string{fmt.Sprintf("(%d, <FG_SLICE>, <>, 0, 2)", s.NSlices)}
	switch {
	case s.Kind == KindFunc && s.NReps > 1:
		rows = append(rows, fmt.Sprintf("(%d, <FG_CYCLE>, <>, 2, 0)", s.NReps))
	case s.Kind == KindDTI && s.NDirs > 1:
		rows = append(rows, fmt.Sprintf("(%d, <FG_DIFFUSION>, <>, 2, 0)", s.NDirs))
	case s.Kind == KindFieldmap:
		rows = append(rows, "(2, <FG_ECHO>, <FieldMap>, 2, 0)")
	case s.Kind == KindMultiEcho && s.NEchoes > 1:
		rows = append(rows, fmt.Sprintf("(%d, <FG_ECHO>, <>, 2, 0)", s.NEchoes))
	}
	w.num("VisuFGOrderDescDim", len(rows))
	w.tuples("VisuFGOrderDesc", rows...)
	w.tuples("VisuGroupDepVals",
		"(<VisuCoreOrientation>, 0)", "(<VisuCorePosition>, 0)")
}

func scanTimeMsec(s ScanSpec) int {
	reps := 1
	if s.Kind == KindFunc && s.NReps > 1 {
		reps = s.NReps
	}
	return int(s.TR) * s.NSlices * reps
}

// echoTimes lists the effective echo times, one entry per echo.
func echoTimes(s ScanSpec) []float64 {
	switch {
	case s.Kind == KindMultiEcho && s.NEchoes > 1:
		tes := make([]float64, s.NEchoes)
		for i := range tes {
			tes[i] = s.TE * float64(i+1)
		}
		return tes
	case s.Kind == KindFieldmap:
		return []float64{s.TE, s.TE * 2}
	default:
		return []float64{s.TE}
	}
}

func interlaced(n int) []int {
	if n <= 0 {
		return []int{0}
	}
	order := make([]int, 0, n)
	for i := 0; i < n; i += 2 {
		order = append(order, i)
	}
	for i := 1; i < n; i += 2 {
		order = append(order, i)
	}
	return order
}
