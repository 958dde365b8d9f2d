package convert

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mrsinham/brkraw/internal/jcampdx"
	"github.com/mrsinham/brkraw/internal/nifti"
	"github.com/mrsinham/brkraw/internal/pvdataset"
	"github.com/mrsinham/brkraw/internal/pvgen"
)

// studyOptions extends the default three-scan study with a diffusion scan,
// a field map and a multi-echo scan so every conversion path has a fixture.
func studyOptions() pvgen.Options {
	o := pvgen.DefaultOptions()
	o.Scans = append(o.Scans,
		pvgen.ScanSpec{ID: 4, Kind: pvgen.KindDTI, Protocol: "DtiStandard", Method: "Bruker:DtiEpi",
			Size: [2]int{32, 32}, NSlices: 5, NDirs: 7, TR: 3000, TE: 25},
		pvgen.ScanSpec{ID: 5, Kind: pvgen.KindFieldmap, Protocol: "B0Map", Method: "Bruker:FieldMap",
			Size: [2]int{32, 32}, NSlices: 5, TR: 20, TE: 1.5},
		pvgen.ScanSpec{ID: 6, Kind: pvgen.KindMultiEcho, Protocol: "MSME_T2map", Method: "Bruker:MSME",
			Size: [2]int{32, 32}, NSlices: 5, NEchoes: 3, TR: 2000, TE: 10},
	)
	return o
}

func openStudy(t *testing.T) *Converter {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "20230228_123015_rat01_1_1")
	if err := pvgen.Write(dir, studyOptions()); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	ds, err := pvdataset.Open(dir)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	t.Cleanup(func() { ds.Close() })
	return New(ds)
}

func parseParams(t *testing.T, text string) *jcampdx.Parameters {
	t.Helper()
	p, err := jcampdx.Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("parse parameters: %v", err)
	}
	return p
}

func approx(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestImages_FunctionalTimingHeader(t *testing.T) {
	c := openStudy(t)

	imgs, err := c.Images(3, 1, Options{})
	if err != nil {
		t.Fatalf("Images: %v", err)
	}
	if len(imgs) != 1 {
		t.Fatalf("got %d volumes, want 1", len(imgs))
	}
	h := imgs[0].Header

	if want := [8]int16{4, 32, 32, 9, 5, 1, 1, 1}; h.Dim != want {
		t.Errorf("Dim = %v, want %v", h.Dim, want)
	}
	if h.DataType != nifti.DTInt16 {
		t.Errorf("DataType = %d, want %d", h.DataType, nifti.DTInt16)
	}
	if got := len(imgs[0].Data); got != 32*32*45*2 {
		t.Errorf("payload = %d bytes, want %d", got, 32*32*45*2)
	}

	// EPI runs get their repetition timing written into the header.
	if h.XYZTUnits != nifti.UnitsMM|nifti.UnitsSec {
		t.Errorf("XYZTUnits = %d, want %d", h.XYZTUnits, nifti.UnitsMM|nifti.UnitsSec)
	}
	if h.DimInfo != 3<<4 {
		t.Errorf("DimInfo = %d, want %d", h.DimInfo, 3<<4)
	}
	// 67500 ms over 5 repetitions, end to end per volume.
	approx(t, "PixDim[4]", float64(h.PixDim[4]), 13.5, 1e-6)
	approx(t, "SliceDuration", float64(h.SliceDuration), 1.5, 1e-6)
	if h.SliceCode != nifti.SliceAltInc {
		t.Errorf("SliceCode = %d, want %d (interlaced)", h.SliceCode, nifti.SliceAltInc)
	}
	if h.SliceStart != 0 || h.SliceEnd != 8 {
		t.Errorf("slice range = [%d, %d], want [0, 8]", h.SliceStart, h.SliceEnd)
	}

	// Default policy records the vendor scaling in the header.
	approx(t, "SclSlope", float64(h.SclSlope), 3.05175781, 1e-6)
	if h.SclInter != 0 {
		t.Errorf("SclInter = %v, want 0", h.SclInter)
	}
}

func TestImages_AnatomicalAffine(t *testing.T) {
	c := openStudy(t)

	imgs, err := c.Images(2, 1, Options{})
	if err != nil {
		t.Fatalf("Images: %v", err)
	}
	h := imgs[0].Header

	if want := [8]int16{3, 64, 64, 9, 1, 1, 1, 1}; h.Dim != want {
		t.Errorf("Dim = %v, want %v", h.Dim, want)
	}
	if h.XYZTUnits != nifti.UnitsMM {
		t.Errorf("XYZTUnits = %d, want %d", h.XYZTUnits, nifti.UnitsMM)
	}
	if h.SliceCode != nifti.SliceUnknown || h.SliceDuration != 0 {
		t.Errorf("anatomical scan carries slice timing: code %d duration %v",
			h.SliceCode, h.SliceDuration)
	}
	if h.QFormCode != nifti.XFormScannerAnat || h.SFormCode != nifti.XFormUnknown {
		t.Errorf("form codes = (%d, %d), want (1, 0)", h.QFormCode, h.SFormCode)
	}

	// Identity scanner orientation, supine head first quadruped: x stays
	// left-right, the bore axis lands on y, the vertical flips onto z.
	wantX := [4]float64{0.15, 0, 0, -4.8}
	wantY := [4]float64{0, 0, 1, -4}
	wantZ := [4]float64{0, -0.15, 0, 4.8}
	for j := 0; j < 4; j++ {
		approx(t, "SRowX", float64(h.SRowX[j]), wantX[j], 1e-6)
		approx(t, "SRowY", float64(h.SRowY[j]), wantY[j], 1e-6)
		approx(t, "SRowZ", float64(h.SRowZ[j]), wantZ[j], 1e-6)
	}
	approx(t, "QOffsetX", float64(h.QOffsetX), -4.8, 1e-6)
	approx(t, "QOffsetY", float64(h.QOffsetY), -4, 1e-6)
	approx(t, "QOffsetZ", float64(h.QOffsetZ), 4.8, 1e-6)
	approx(t, "PixDim[1]", float64(h.PixDim[1]), 0.15, 1e-6)
	approx(t, "PixDim[2]", float64(h.PixDim[2]), 0.15, 1e-6)
	approx(t, "PixDim[3]", float64(h.PixDim[3]), 1, 1e-6)

	// No frame reordering and no scaling applied: the payload must be the
	// stored 2dseq bytes.
	scan, err := c.Dataset().Scan(2)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	reco, err := scan.Reco(1)
	if err != nil {
		t.Fatalf("Reco: %v", err)
	}
	raw, err := reco.RawData()
	if err != nil {
		t.Fatalf("RawData: %v", err)
	}
	if !bytes.Equal(imgs[0].Data, raw) {
		t.Error("payload differs from the stored image data")
	}
}

func TestImages_RescaleApply(t *testing.T) {
	c := openStudy(t)

	raw, err := c.Images(3, 1, Options{})
	if err != nil {
		t.Fatalf("Images raw: %v", err)
	}
	scaled, err := c.Images(3, 1, Options{Slope: RescaleApply, Offset: RescaleApply})
	if err != nil {
		t.Fatalf("Images scaled: %v", err)
	}

	h := scaled[0].Header
	if h.DataType != nifti.DTFloat64 {
		t.Fatalf("DataType = %d, want %d", h.DataType, nifti.DTFloat64)
	}
	if h.SclSlope != 1 || h.SclInter != 0 {
		t.Errorf("scl = (%v, %v), want (1, 0) once applied", h.SclSlope, h.SclInter)
	}

	for i := 0; i < 200; i++ {
		r := int16(binary.LittleEndian.Uint16(raw[0].Data[i*2:]))
		f := math.Float64frombits(binary.LittleEndian.Uint64(scaled[0].Data[i*8:]))
		want := float64(r) * 3.05175781
		if math.Abs(f-want) > 1e-9 {
			t.Fatalf("voxel %d = %v, want %v", i, f, want)
		}
	}
}

func TestImages_RescaleIgnore(t *testing.T) {
	c := openStudy(t)

	imgs, err := c.Images(3, 1, Options{Slope: RescaleIgnore, Offset: RescaleIgnore})
	if err != nil {
		t.Fatalf("Images: %v", err)
	}
	h := imgs[0].Header
	if h.DataType != nifti.DTInt16 {
		t.Errorf("DataType = %d, want %d", h.DataType, nifti.DTInt16)
	}
	if h.SclSlope != 1 || h.SclInter != 0 {
		t.Errorf("scl = (%v, %v), want (1, 0) when ignored", h.SclSlope, h.SclInter)
	}
}

func TestImages_CropFrames(t *testing.T) {
	c := openStudy(t)

	full, err := c.Images(3, 1, Options{})
	if err != nil {
		t.Fatalf("Images full: %v", err)
	}
	start, end := 1, 4
	cropped, err := c.Images(3, 1, Options{Crop: &Crop{Start: &start, End: &end}})
	if err != nil {
		t.Fatalf("Images cropped: %v", err)
	}

	h := cropped[0].Header
	if h.Dim[4] != 3 {
		t.Fatalf("Dim[4] = %d, want 3", h.Dim[4])
	}
	chunk := 32 * 32 * 9 * 2
	if !bytes.Equal(cropped[0].Data, full[0].Data[start*chunk:end*chunk]) {
		t.Error("cropped payload is not the middle frames of the full run")
	}

	// An open start keeps the leading frames.
	tail := 2
	leading, err := c.Images(3, 1, Options{Crop: &Crop{End: &tail}})
	if err != nil {
		t.Fatalf("Images leading: %v", err)
	}
	if leading[0].Header.Dim[4] != 2 {
		t.Errorf("Dim[4] = %d, want 2", leading[0].Header.Dim[4])
	}

	bad := 99
	if _, err := c.Images(3, 1, Options{Crop: &Crop{End: &bad}}); err == nil {
		t.Error("expected error for a crop past the last frame")
	}
}

func TestImages_MultiEchoSplits(t *testing.T) {
	c := openStudy(t)

	imgs, err := c.Images(6, 1, Options{})
	if err != nil {
		t.Fatalf("Images: %v", err)
	}
	if len(imgs) != 3 {
		t.Fatalf("got %d volumes, want one per echo", len(imgs))
	}

	scan, err := c.Dataset().Scan(6)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	reco, err := scan.Reco(1)
	if err != nil {
		t.Fatalf("Reco: %v", err)
	}
	raw, err := reco.RawData()
	if err != nil {
		t.Fatalf("RawData: %v", err)
	}

	chunk := 32 * 32 * 5 * 2
	for e, img := range imgs {
		if want := [8]int16{3, 32, 32, 5, 1, 1, 1, 1}; img.Header.Dim != want {
			t.Errorf("echo %d Dim = %v, want %v", e+1, img.Header.Dim, want)
		}
		if img.Header.XYZTUnits != nifti.UnitsMM {
			t.Errorf("echo %d XYZTUnits = %d, want mm only", e+1, img.Header.XYZTUnits)
		}
		if !bytes.Equal(img.Data, raw[e*chunk:(e+1)*chunk]) {
			t.Errorf("echo %d payload does not match its frame block", e+1)
		}
	}
}

func TestImages_FieldmapKeepsEchoes(t *testing.T) {
	c := openStudy(t)

	imgs, err := c.Images(5, 1, Options{})
	if err != nil {
		t.Fatalf("Images: %v", err)
	}
	if len(imgs) != 1 {
		t.Fatalf("got %d volumes, want 1", len(imgs))
	}
	if want := [8]int16{4, 32, 32, 5, 2, 1, 1, 1}; imgs[0].Header.Dim != want {
		t.Errorf("Dim = %v, want %v", imgs[0].Header.Dim, want)
	}
}

func TestImages_DiffusionKeepsPlainUnits(t *testing.T) {
	c := openStudy(t)

	imgs, err := c.Images(4, 1, Options{})
	if err != nil {
		t.Fatalf("Images: %v", err)
	}
	h := imgs[0].Header
	if want := [8]int16{4, 32, 32, 5, 7, 1, 1, 1}; h.Dim != want {
		t.Errorf("Dim = %v, want %v", h.Dim, want)
	}
	// DtiEpi matches the EPI pattern but diffusion runs are not time series.
	if h.XYZTUnits != nifti.UnitsMM {
		t.Errorf("XYZTUnits = %d, want mm only", h.XYZTUnits)
	}
	if h.SliceDuration != 0 {
		t.Errorf("SliceDuration = %v, want 0", h.SliceDuration)
	}
}

func TestSaveNifti_Naming(t *testing.T) {
	c := openStudy(t)
	dir := t.TempDir()

	single, err := c.SaveNifti(2, 1, Options{}, dir, "anat", "nii.gz")
	if err != nil {
		t.Fatalf("SaveNifti: %v", err)
	}
	if len(single) != 1 || single[0] != filepath.Join(dir, "anat.nii.gz") {
		t.Fatalf("paths = %v, want single anat.nii.gz", single)
	}

	back, err := nifti.ReadFile(single[0])
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if want := [8]int16{3, 64, 64, 9, 1, 1, 1, 1}; back.Header.Dim != want {
		t.Errorf("round trip Dim = %v, want %v", back.Header.Dim, want)
	}

	split, err := c.SaveNifti(6, 1, Options{}, dir, "msme", "nii")
	if err != nil {
		t.Fatalf("SaveNifti split: %v", err)
	}
	want := []string{
		filepath.Join(dir, "msme-01.nii"),
		filepath.Join(dir, "msme-02.nii"),
		filepath.Join(dir, "msme-03.nii"),
	}
	if len(split) != len(want) {
		t.Fatalf("paths = %v, want %v", split, want)
	}
	for i, p := range want {
		if split[i] != p {
			t.Errorf("paths[%d] = %s, want %s", i, split[i], p)
		}
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing output %s: %v", p, err)
		}
	}
}

func TestIsLocalizer(t *testing.T) {
	c := openStudy(t)

	tests := []struct {
		scanID int
		want   bool
	}{
		{1, true},
		{2, false},
		{3, false},
	}
	for _, tt := range tests {
		got, err := c.IsLocalizer(tt.scanID, 1)
		if err != nil {
			t.Fatalf("IsLocalizer(%d): %v", tt.scanID, err)
		}
		if got != tt.want {
			t.Errorf("IsLocalizer(%d) = %v, want %v", tt.scanID, got, tt.want)
		}
	}
}

func TestOverrides_ChangeAffine(t *testing.T) {
	c := openStudy(t)

	if err := c.OverridePosition("Head_Prone"); err != nil {
		t.Fatalf("OverridePosition: %v", err)
	}
	imgs, err := c.Images(2, 1, Options{})
	if err != nil {
		t.Fatalf("Images: %v", err)
	}
	h := imgs[0].Header
	// Prone skips the supine flip, so x keeps its sign and the vertical
	// lands on z unflipped.
	approx(t, "SRowX[0]", float64(h.SRowX[0]), -0.15, 1e-6)
	approx(t, "SRowX[3]", float64(h.SRowX[3]), 2.4*2, 1e-6)
	approx(t, "SRowZ[1]", float64(h.SRowZ[1]), 0.15, 1e-6)
	approx(t, "SRowZ[3]", float64(h.SRowZ[3]), -4.8, 1e-6)

	c2 := New(c.Dataset())
	if err := c2.OverrideSubjectType("Biped"); err != nil {
		t.Fatalf("OverrideSubjectType: %v", err)
	}
	imgs, err = c2.Images(2, 1, Options{})
	if err != nil {
		t.Fatalf("Images: %v", err)
	}
	h = imgs[0].Header
	// Human coordinates skip the bore rotation entirely.
	approx(t, "SRowX[0]", float64(h.SRowX[0]), -0.15, 1e-6)
	approx(t, "SRowY[1]", float64(h.SRowY[1]), -0.15, 1e-6)
	approx(t, "SRowZ[2]", float64(h.SRowZ[2]), 1, 1e-6)
	approx(t, "SRowZ[3]", float64(h.SRowZ[3]), -4, 1e-6)
}

func TestOverrides_RejectUnknownValues(t *testing.T) {
	c := openStudy(t)

	err := c.OverridePosition("Sideways")
	if err == nil || !strings.Contains(err.Error(), "unknown position") {
		t.Errorf("OverridePosition error = %v, want vocabulary error", err)
	}
	err = c.OverrideSubjectType("Robot")
	if err == nil || !strings.Contains(err.Error(), "unknown subject type") {
		t.Errorf("OverrideSubjectType error = %v, want vocabulary error", err)
	}
}

const multiPackVisu = `##TITLE=Parameter List, ParaVision 6.0.1
##$VisuVersion=3
##$VisuCoreFrameCount=6
##$VisuCoreDim=2
##$VisuCoreSize=( 2 )
32 32
##$VisuCoreExtent=( 2 )
4.8 4.8
##$VisuCoreFrameThickness=( 1 )
1
##$VisuCoreDimDesc=spatial spatial
##$VisuCoreDiskSliceOrder=disk_normal_slice_order
##$VisuCoreOrientation=( 6, 9 )
1 0 0 0 1 0 0 0 1 1 0 0 0 1 0 0 0 1 1 0 0 0 1 0 0 0 1
0 1 0 -1 0 0 0 0 1 0 1 0 -1 0 0 0 0 1 0 1 0 -1 0 0 0 0 1
##$VisuCorePosition=( 6, 3 )
-2.4 -2.4 -1 -2.4 -2.4 0 -2.4 -2.4 1
-2.4 -2.4 -1 -2.4 -2.4 0 -2.4 -2.4 1
##$VisuSubjectPosition=Head_Supine
##$VisuSubjectType=Quadruped
##$VisuFGOrderDescDim=1
##$VisuFGOrderDesc=( 1 )
(6, <FG_SLICE>, <>, 0, 2)
##$VisuCoreSlicePacksDef=( 1 )
(0, 2)
##$VisuCoreSlicePacksSlices=( 1 )
(0, 3)
##$VisuCoreSlicePacksSliceDist=( 1 )
1
##END=
`

func TestAffines_MultiPack(t *testing.T) {
	visu := parseParams(t, multiPackVisu)
	c := New(nil)

	affs, err := c.affines(visu, nil)
	if err != nil {
		t.Fatalf("affines: %v", err)
	}
	if len(affs) != 2 {
		t.Fatalf("got %d affines, want one per slice pack", len(affs))
	}
	// The first pack keeps x along the rows, the rotated pack moves it to
	// the second voxel axis.
	approx(t, "pack1[0][0]", affs[0].At(0, 0), 0.15, 1e-6)
	approx(t, "pack1[0][3]", affs[0].At(0, 3), -2.4, 1e-6)
	approx(t, "pack2[0][0]", affs[1].At(0, 0), 0, 1e-6)
	approx(t, "pack2[0][1]", affs[1].At(0, 1), -0.15, 1e-6)
}

func TestAffines_ReversedMultiPackUnsupported(t *testing.T) {
	text := strings.Replace(multiPackVisu,
		"disk_normal_slice_order", "disk_reverse_slice_order", 1)
	visu := parseParams(t, text)
	c := New(nil)

	_, err := c.affines(visu, nil)
	if err == nil || !strings.Contains(err.Error(), "multiple slice packs") {
		t.Errorf("err = %v, want reversed multi-pack rejection", err)
	}
}

func TestMatrixSize_MultiPackConcatenatesSlices(t *testing.T) {
	visu := parseParams(t, multiPackVisu)

	size, err := matrixSize(visu, 0)
	if err != nil {
		t.Fatalf("matrixSize: %v", err)
	}
	if len(size) != 3 || size[0] != 32 || size[1] != 32 || size[2] != 6 {
		t.Errorf("size = %v, want [32 32 6]", size)
	}
}
