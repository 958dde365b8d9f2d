package dicomexport

import (
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/mat"

	"github.com/mrsinham/brkraw/internal/convert"
	"github.com/mrsinham/brkraw/internal/pvdataset"
	"github.com/mrsinham/brkraw/internal/pvgen"
)

func testVolume(t *testing.T) *Volume {
	t.Helper()
	data := make([]float64, 4*4*3)
	for i := range data {
		data[i] = float64(i)
	}
	affine := mat.NewDense(4, 4, []float64{
		2, 0, 0, -10,
		0, 2, 0, -20,
		0, 0, 2, 5,
		0, 0, 0, 1,
	})
	return &Volume{Data: data, Shape: []int{4, 4, 3}, Affine: affine}
}

func testMeta() Meta {
	return Meta{
		SubjectID:         "rat01",
		SubjectName:       "rat01",
		SubjectSex:        "M",
		BirthDate:         "20221101",
		Position:          "HFS",
		StudyID:           "1",
		StudyDate:         "20230228",
		StudyTime:         "123015",
		StudyDescription:  "ses01",
		SeriesNumber:      2,
		SeriesDescription: "T2_TurboRARE",
		Protocol:          "T2_TurboRARE",
		RepetitionTime:    2500,
		EchoTime:          33,
		FlipAngle:         90,
		FieldStrength:     9.4,
		Frequency:         400.3,
	}
}

func parseExported(t *testing.T, path string) dicom.Dataset {
	t.Helper()
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return ds
}

func elementString(t *testing.T, ds dicom.Dataset, tg tag.Tag) string {
	t.Helper()
	el, err := ds.FindElementByTag(tg)
	if err != nil {
		t.Fatalf("element %v missing: %v", tg, err)
	}
	vals := dicom.MustGetStrings(el.Value)
	if len(vals) == 0 {
		t.Fatalf("element %v is empty", tg)
	}
	return vals[0]
}

func elementStrings(t *testing.T, ds dicom.Dataset, tg tag.Tag) []string {
	t.Helper()
	el, err := ds.FindElementByTag(tg)
	if err != nil {
		t.Fatalf("element %v missing: %v", tg, err)
	}
	return dicom.MustGetStrings(el.Value)
}

func elementInt(t *testing.T, ds dicom.Dataset, tg tag.Tag) int {
	t.Helper()
	el, err := ds.FindElementByTag(tg)
	if err != nil {
		t.Fatalf("element %v missing: %v", tg, err)
	}
	return dicom.MustGetInts(el.Value)[0]
}

func TestExport_OneFilePerSlice(t *testing.T) {
	outDir := t.TempDir()
	paths, err := Export([]*Volume{testVolume(t)}, testMeta(), outDir, Options{Seed: "fixture"})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 files, got %d", len(paths))
	}
	for i, p := range paths {
		want := filepath.Join(outDir, "IMG000"+strconv.Itoa(i+1)+".dcm")
		if p != want {
			t.Errorf("path %d = %s, want %s", i, p, want)
		}
		if _, err := os.Stat(p); err != nil {
			t.Errorf("file %s missing: %v", p, err)
		}
	}

	ds := parseExported(t, paths[0])
	if got := elementString(t, ds, tag.PatientID); got != "rat01" {
		t.Errorf("PatientID = %q, want rat01", got)
	}
	if got := elementString(t, ds, tag.Modality); got != "MR" {
		t.Errorf("Modality = %q, want MR", got)
	}
	if got := elementString(t, ds, tag.SeriesNumber); got != "2" {
		t.Errorf("SeriesNumber = %q, want 2", got)
	}
	if got := elementString(t, ds, tag.InstanceNumber); got != "1" {
		t.Errorf("InstanceNumber = %q, want 1", got)
	}
	if got := elementString(t, ds, tag.PatientPosition); got != "HFS" {
		t.Errorf("PatientPosition = %q, want HFS", got)
	}
	if got := elementInt(t, ds, tag.Rows); got != 4 {
		t.Errorf("Rows = %d, want 4", got)
	}
	if got := elementInt(t, ds, tag.Columns); got != 4 {
		t.Errorf("Columns = %d, want 4", got)
	}
	if got := elementInt(t, ds, tag.BitsStored); got != 12 {
		t.Errorf("BitsStored = %d, want 12", got)
	}
}

func TestExport_GeometryFromAffine(t *testing.T) {
	outDir := t.TempDir()
	paths, err := Export([]*Volume{testVolume(t)}, testMeta(), outDir, Options{Seed: "fixture"})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	// The affine scales by 2 and translates to (-10, -20, 5) in RAS, which
	// is (10, 20, 5) in patient coordinates.
	ds := parseExported(t, paths[2])
	pos := elementStrings(t, ds, tag.ImagePositionPatient)
	wantPos := []string{"10.000000", "20.000000", "9.000000"}
	for i, want := range wantPos {
		if pos[i] != want {
			t.Errorf("ImagePositionPatient[%d] = %s, want %s", i, pos[i], want)
		}
	}

	orient := elementStrings(t, ds, tag.ImageOrientationPatient)
	wantOrient := []string{"-1.000000", "0.000000", "0.000000", "0.000000", "-1.000000", "0.000000"}
	for i, want := range wantOrient {
		if orient[i] != want {
			t.Errorf("ImageOrientationPatient[%d] = %s, want %s", i, orient[i], want)
		}
	}

	spacing := elementStrings(t, ds, tag.PixelSpacing)
	if spacing[0] != "2.000000" || spacing[1] != "2.000000" {
		t.Errorf("PixelSpacing = %v, want 2.000000 pair", spacing)
	}
	if got := elementString(t, ds, tag.SliceThickness); got != "2.000000" {
		t.Errorf("SliceThickness = %s, want 2.000000", got)
	}
	if got := elementString(t, ds, tag.SliceLocation); got != "9.000000" {
		t.Errorf("SliceLocation = %s, want 9.000000", got)
	}
}

func TestExport_PixelRoundTrip(t *testing.T) {
	vol := testVolume(t)
	outDir := t.TempDir()
	paths, err := Export([]*Volume{vol}, testMeta(), outDir, Options{Seed: "fixture"})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	scale := newVolumeScale(vol.Data)
	for k, p := range paths {
		ds := parseExported(t, p)

		slope, err := strconv.ParseFloat(elementString(t, ds, tag.RescaleSlope), 64)
		if err != nil {
			t.Fatalf("parse RescaleSlope: %v", err)
		}
		intercept, err := strconv.ParseFloat(elementString(t, ds, tag.RescaleIntercept), 64)
		if err != nil {
			t.Fatalf("parse RescaleIntercept: %v", err)
		}

		el, err := ds.FindElementByTag(tag.PixelData)
		if err != nil {
			t.Fatalf("PixelData missing: %v", err)
		}
		info := dicom.MustGetPixelDataInfo(el.Value)
		if len(info.Frames) != 1 {
			t.Fatalf("expected 1 frame, got %d", len(info.Frames))
		}
		img, err := info.Frames[0].GetImage()
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}

		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				orig := vol.Data[k*16+y*4+x]
				c := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
				if want := scale.stored(orig); c.Y != want {
					t.Fatalf("slice %d pixel (%d,%d): stored %d, want %d", k, x, y, c.Y, want)
				}
				if got := float64(c.Y)*slope + intercept; math.Abs(got-orig) > slope {
					t.Fatalf("slice %d pixel (%d,%d): value %f, want %f", k, x, y, got, orig)
				}
			}
		}
	}
}

func TestExport_DeterministicUIDs(t *testing.T) {
	meta := testMeta()

	first, err := Export([]*Volume{testVolume(t)}, meta, t.TempDir(), Options{Seed: "fixture"})
	if err != nil {
		t.Fatalf("first export: %v", err)
	}
	second, err := Export([]*Volume{testVolume(t)}, meta, t.TempDir(), Options{Seed: "fixture"})
	if err != nil {
		t.Fatalf("second export: %v", err)
	}
	other, err := Export([]*Volume{testVolume(t)}, meta, t.TempDir(), Options{Seed: "other"})
	if err != nil {
		t.Fatalf("third export: %v", err)
	}

	ds1 := parseExported(t, first[0])
	ds2 := parseExported(t, second[0])
	ds3 := parseExported(t, other[0])

	study1 := elementString(t, ds1, tag.StudyInstanceUID)
	if !strings.HasPrefix(study1, uidRoot) {
		t.Errorf("StudyInstanceUID %q lacks the %s root", study1, uidRoot)
	}
	if len(study1) > 64 {
		t.Errorf("StudyInstanceUID is %d chars, limit is 64", len(study1))
	}
	if got := elementString(t, ds2, tag.StudyInstanceUID); got != study1 {
		t.Errorf("same seed produced study UIDs %q and %q", study1, got)
	}
	if got := elementString(t, ds3, tag.StudyInstanceUID); got == study1 {
		t.Errorf("different seeds share study UID %q", got)
	}

	sop1 := elementString(t, ds1, tag.SOPInstanceUID)
	if got := elementString(t, ds2, tag.SOPInstanceUID); got != sop1 {
		t.Errorf("same seed produced SOP UIDs %q and %q", sop1, got)
	}
}

func TestExport_FourDAcquisitionNumbers(t *testing.T) {
	data := make([]float64, 2*2*2*3)
	for i := range data {
		data[i] = float64(i)
	}
	affine := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	vol := &Volume{Data: data, Shape: []int{2, 2, 2, 3}, Affine: affine}

	paths, err := Export([]*Volume{vol}, testMeta(), t.TempDir(), Options{Seed: "fixture"})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(paths) != 6 {
		t.Fatalf("expected 6 files for 2 slices x 3 frames, got %d", len(paths))
	}

	wants := []struct {
		acq  string
		inst string
	}{
		{"1", "1"}, {"1", "2"},
		{"2", "3"}, {"2", "4"},
		{"3", "5"}, {"3", "6"},
	}
	for i, want := range wants {
		ds := parseExported(t, paths[i])
		if got := elementString(t, ds, tag.AcquisitionNumber); got != want.acq {
			t.Errorf("file %d AcquisitionNumber = %s, want %s", i+1, got, want.acq)
		}
		if got := elementString(t, ds, tag.InstanceNumber); got != want.inst {
			t.Errorf("file %d InstanceNumber = %s, want %s", i+1, got, want.inst)
		}
	}
}

func TestExport_MultiVolumeSeries(t *testing.T) {
	affine := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	vols := []*Volume{
		{Data: []float64{0, 1, 2, 3}, Shape: []int{2, 2, 1}, Affine: affine},
		{Data: []float64{4, 5, 6, 7}, Shape: []int{2, 2, 1}, Affine: affine},
	}
	meta := testMeta()
	meta.SeriesNumber = 0
	meta.EchoTimes = []float64{15, 30}

	paths, err := Export(vols, meta, t.TempDir(), Options{Seed: "fixture"})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 files, got %d", len(paths))
	}

	ds1 := parseExported(t, paths[0])
	ds2 := parseExported(t, paths[1])

	if got := elementString(t, ds1, tag.SeriesNumber); got != "1" {
		t.Errorf("first volume SeriesNumber = %s, want 1", got)
	}
	if got := elementString(t, ds2, tag.SeriesNumber); got != "2" {
		t.Errorf("second volume SeriesNumber = %s, want 2", got)
	}
	if got := elementString(t, ds2, tag.InstanceNumber); got != "1" {
		t.Errorf("second volume restarts instances, got %s", got)
	}
	if elementString(t, ds1, tag.SeriesInstanceUID) == elementString(t, ds2, tag.SeriesInstanceUID) {
		t.Error("volumes share a SeriesInstanceUID")
	}
	if elementString(t, ds1, tag.StudyInstanceUID) != elementString(t, ds2, tag.StudyInstanceUID) {
		t.Error("volumes do not share the StudyInstanceUID")
	}
	if got := elementString(t, ds1, tag.EchoTime); got != "15" {
		t.Errorf("first volume EchoTime = %s, want 15", got)
	}
	if got := elementString(t, ds2, tag.EchoTime); got != "30" {
		t.Errorf("second volume EchoTime = %s, want 30", got)
	}
}

func TestExport_RejectsBadVolume(t *testing.T) {
	affine := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	tests := []struct {
		name string
		vol  *Volume
	}{
		{name: "no_volumes", vol: nil},
		{name: "shape_mismatch", vol: &Volume{Data: make([]float64, 5), Shape: []int{2, 2, 1}, Affine: affine}},
		{name: "no_affine", vol: &Volume{Data: make([]float64, 4), Shape: []int{2, 2, 1}}},
		{name: "too_many_dims", vol: &Volume{Data: make([]float64, 4), Shape: []int{2, 2, 1, 1, 1}, Affine: affine}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vols []*Volume
			if tt.vol != nil {
				vols = []*Volume{tt.vol}
			}
			if _, err := Export(vols, testMeta(), t.TempDir(), Options{Seed: "fixture"}); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestExport_FromConvertedReco(t *testing.T) {
	root := t.TempDir()
	studyDir := filepath.Join(root, "study1")
	if err := pvgen.Write(studyDir, pvgen.DefaultOptions()); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	ds, err := pvdataset.Open(studyDir)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer ds.Close()

	imgs, err := convert.New(ds).Images(2, 1, convert.Options{})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	vols := make([]*Volume, len(imgs))
	for i, img := range imgs {
		if vols[i], err = FromNifti(img); err != nil {
			t.Fatalf("volume %d: %v", i, err)
		}
	}
	meta, err := MetaFromDataset(ds, 2, 1)
	if err != nil {
		t.Fatalf("meta: %v", err)
	}

	outDir := t.TempDir()
	paths, err := Export(vols, meta, outDir, Options{Seed: "fixture", Workers: 2})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	// The anatomical scan has nine slices in one volume.
	if len(paths) != 9 {
		t.Fatalf("expected 9 files, got %d", len(paths))
	}

	parsed := parseExported(t, paths[0])
	if got := elementString(t, parsed, tag.PatientID); got != "rat01" {
		t.Errorf("PatientID = %q, want rat01", got)
	}
	if got := elementString(t, parsed, tag.ProtocolName); got != "T2_TurboRARE" {
		t.Errorf("ProtocolName = %q, want T2_TurboRARE", got)
	}
	if got := elementInt(t, parsed, tag.Rows); got != 64 {
		t.Errorf("Rows = %d, want 64", got)
	}
}

func TestExport_ReportsProgress(t *testing.T) {
	var calls int
	var lastDone, lastTotal int
	_, err := Export([]*Volume{testVolume(t)}, testMeta(), t.TempDir(), Options{
		Seed:    "fixture",
		Workers: 1,
		Progress: func(done, total int) {
			calls++
			lastDone, lastTotal = done, total
		},
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("progress called %d times, want 3", calls)
	}
	if lastDone != 3 || lastTotal != 3 {
		t.Errorf("final progress %d/%d, want 3/3", lastDone, lastTotal)
	}
}

func TestDeterministicUID(t *testing.T) {
	seeds := []string{"test", "study_123_series_456", "test/path/to/output", "s"}
	seen := make(map[string]string)
	for _, seed := range seeds {
		uid := deterministicUID(seed)
		if !strings.HasPrefix(uid, uidRoot) {
			t.Errorf("uid %q lacks root %s", uid, uidRoot)
		}
		if len(uid) > 64 {
			t.Errorf("uid %q is %d chars, limit is 64", uid, len(uid))
		}
		for _, c := range uid {
			if c != '.' && (c < '0' || c > '9') {
				t.Errorf("uid %q contains %q", uid, c)
				break
			}
		}
		for _, part := range strings.Split(uid, ".") {
			if len(part) > 1 && part[0] == '0' {
				t.Errorf("uid %q has a leading zero component %q", uid, part)
			}
		}
		if uid != deterministicUID(seed) {
			t.Errorf("seed %q is not deterministic", seed)
		}
		if prev, dup := seen[uid]; dup {
			t.Errorf("seeds %q and %q collide on %q", seed, prev, uid)
		}
		seen[uid] = seed
	}
}

func TestVolumeScale(t *testing.T) {
	t.Run("flat", func(t *testing.T) {
		sc := newVolumeScale([]float64{7, 7, 7})
		if sc.slope != 1 || sc.intercept != 7 {
			t.Errorf("flat scale = %+v, want slope 1 intercept 7", sc)
		}
		if got := sc.stored(7); got != 0 {
			t.Errorf("stored(7) = %d, want 0", got)
		}
	})
	t.Run("ramp", func(t *testing.T) {
		sc := newVolumeScale([]float64{-2, 0, 8})
		if got := sc.stored(-2); got != 0 {
			t.Errorf("stored(lo) = %d, want 0", got)
		}
		if got := sc.stored(8); got != maxStoredValue {
			t.Errorf("stored(hi) = %d, want %d", got, maxStoredValue)
		}
		mid := sc.stored(3)
		if got := float64(mid)*sc.slope + sc.intercept; math.Abs(got-3) > sc.slope {
			t.Errorf("round trip of 3 gave %f", got)
		}
	})
}
