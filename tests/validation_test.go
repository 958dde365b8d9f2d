package tests

import (
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/brkraw/internal/bids"
	"github.com/mrsinham/brkraw/internal/convert"
	"github.com/mrsinham/brkraw/internal/dicomexport"
	"github.com/mrsinham/brkraw/internal/nifti"
)

// TestValidation_NiftiHeaderFields writes the anatomical volume and checks
// the fixed header fields a downstream reader depends on.
func TestValidation_NiftiHeaderFields(t *testing.T) {
	ds := openStudy(t)
	outDir := t.TempDir()

	paths, err := convert.New(ds).SaveNifti(2, 1, convert.Options{}, outDir, "anat", "nii.gz")
	if err != nil {
		t.Fatalf("SaveNifti failed: %v", err)
	}
	img, err := nifti.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	h := &img.Header

	if h.SizeOfHdr != 348 {
		t.Errorf("SizeOfHdr = %d, want 348", h.SizeOfHdr)
	}
	if h.Magic != [4]byte{'n', '+', '1', 0} {
		t.Errorf("Magic = %q, want n+1", h.Magic)
	}
	if h.VoxOffset != 352 {
		t.Errorf("VoxOffset = %v, want 352", h.VoxOffset)
	}
	t.Logf("✓ Fixed fields: size=%d magic=%q offset=%v", h.SizeOfHdr, h.Magic[:3], h.VoxOffset)

	if h.Dim[0] != 3 {
		t.Errorf("Dim[0] = %d, want 3 for a single volume", h.Dim[0])
	}
	for i := int16(1); i <= h.Dim[0]; i++ {
		if h.Dim[i] < 1 {
			t.Errorf("Dim[%d] = %d, want >= 1", i, h.Dim[i])
		}
		if h.PixDim[i] <= 0 {
			t.Errorf("PixDim[%d] = %v, want > 0", i, h.PixDim[i])
		}
	}
	t.Logf("✓ Dimensions: %v", img.Shape())

	bp, err := nifti.BitPixFor(h.DataType)
	if err != nil {
		t.Fatalf("Header datatype %d is not supported: %v", h.DataType, err)
	}
	if bp != h.BitPix {
		t.Errorf("BitPix = %d, inconsistent with datatype %d (want %d)", h.BitPix, h.DataType, bp)
	}
	t.Logf("✓ Datatype %d at %d bits per voxel", h.DataType, h.BitPix)

	if h.QFormCode != nifti.XFormScannerAnat {
		t.Errorf("QFormCode = %d, want %d (scanner)", h.QFormCode, nifti.XFormScannerAnat)
	}
	if h.SFormCode != nifti.XFormUnknown {
		t.Errorf("SFormCode = %d, want %d (unset)", h.SFormCode, nifti.XFormUnknown)
	}
	if h.XYZTUnits != nifti.UnitsMM {
		t.Errorf("XYZTUnits = %d, want %d (mm)", h.XYZTUnits, nifti.UnitsMM)
	}
	t.Logf("✓ Orientation codes: qform=%d sform=%d", h.QFormCode, h.SFormCode)
}

// TestValidation_AffineGeometry checks that the stored transform is a
// scaled rotation whose column lengths are the voxel sizes.
func TestValidation_AffineGeometry(t *testing.T) {
	ds := openStudy(t)

	imgs, err := convert.New(ds).Images(2, 1, convert.Options{})
	if err != nil {
		t.Fatalf("Images failed: %v", err)
	}
	img := imgs[0]
	aff := img.Affine()

	if r, c := aff.Dims(); r != 4 || c != 4 {
		t.Fatalf("Affine is %dx%d, want 4x4", r, c)
	}
	col := func(j int) [3]float64 {
		return [3]float64{aff.At(0, j), aff.At(1, j), aff.At(2, j)}
	}
	norm := func(v [3]float64) float64 {
		return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	}
	dot := func(a, b [3]float64) float64 {
		return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
	}

	for j := 0; j < 3; j++ {
		want := float64(img.Header.PixDim[j+1])
		if got := norm(col(j)); !within(got, want, 1e-4) {
			t.Errorf("Column %d norm = %v, want voxel size %v", j, got, want)
		} else {
			t.Logf("✓ Column %d norm matches voxel size %v", j, want)
		}
	}
	for j := 0; j < 3; j++ {
		for k := j + 1; k < 3; k++ {
			a, b := col(j), col(k)
			cosine := dot(a, b) / (norm(a) * norm(b))
			if !within(cosine, 0, 1e-4) {
				t.Errorf("Columns %d and %d are not orthogonal, cos = %v", j, k, cosine)
			}
		}
	}
	t.Logf("✓ Rotation columns are mutually orthogonal")

	bottom := []float64{aff.At(3, 0), aff.At(3, 1), aff.At(3, 2), aff.At(3, 3)}
	if bottom[0] != 0 || bottom[1] != 0 || bottom[2] != 0 || bottom[3] != 1 {
		t.Errorf("Bottom row = %v, want [0 0 0 1]", bottom)
	}
}

// TestValidation_DicomRequiredTags checks that every exported slice carries
// the attributes a PACS viewer needs.
func TestValidation_DicomRequiredTags(t *testing.T) {
	paths := exportSeries(t)

	parsed, err := dicom.ParseFile(paths[0], nil)
	if err != nil {
		t.Fatalf("Failed to parse first slice: %v", err)
	}

	requiredTags := []struct {
		tag  tag.Tag
		name string
	}{
		{tag.PatientName, "PatientName"},
		{tag.PatientID, "PatientID"},
		{tag.PatientSex, "PatientSex"},
		{tag.PatientBirthDate, "PatientBirthDate"},
		{tag.StudyInstanceUID, "StudyInstanceUID"},
		{tag.StudyID, "StudyID"},
		{tag.StudyDate, "StudyDate"},
		{tag.StudyTime, "StudyTime"},
		{tag.SeriesInstanceUID, "SeriesInstanceUID"},
		{tag.SeriesNumber, "SeriesNumber"},
		{tag.Modality, "Modality"},
		{tag.SOPInstanceUID, "SOPInstanceUID"},
		{tag.SOPClassUID, "SOPClassUID"},
		{tag.InstanceNumber, "InstanceNumber"},
		{tag.AcquisitionNumber, "AcquisitionNumber"},
		{tag.PixelSpacing, "PixelSpacing"},
		{tag.SliceThickness, "SliceThickness"},
		{tag.Manufacturer, "Manufacturer"},
		{tag.ImagePositionPatient, "ImagePositionPatient"},
		{tag.ImageOrientationPatient, "ImageOrientationPatient"},
		{tag.SliceLocation, "SliceLocation"},
		{tag.FrameOfReferenceUID, "FrameOfReferenceUID"},
		{tag.Rows, "Rows"},
		{tag.Columns, "Columns"},
		{tag.BitsAllocated, "BitsAllocated"},
		{tag.BitsStored, "BitsStored"},
		{tag.HighBit, "HighBit"},
		{tag.PhotometricInterpretation, "PhotometricInterpretation"},
		{tag.RescaleSlope, "RescaleSlope"},
		{tag.RescaleIntercept, "RescaleIntercept"},
		{tag.EchoTime, "EchoTime"},
		{tag.RepetitionTime, "RepetitionTime"},
		{tag.FlipAngle, "FlipAngle"},
		{tag.MagneticFieldStrength, "MagneticFieldStrength"},
		{tag.ProtocolName, "ProtocolName"},
		{tag.PixelData, "PixelData"},
	}

	for _, rt := range requiredTags {
		elem, err := parsed.FindElementByTag(rt.tag)
		if err != nil {
			t.Errorf("Required tag %s missing: %v", rt.name, err)
			continue
		}
		if elem == nil {
			t.Errorf("Required tag %s is nil", rt.name)
			continue
		}
		t.Logf("✓ Found %s", rt.name)
	}

	valueChecks := []struct {
		tag  tag.Tag
		name string
		want string
	}{
		{tag.Modality, "Modality", "MR"},
		{tag.PatientID, "PatientID", "rat01"},
		{tag.PatientSex, "PatientSex", "M"},
		{tag.PatientBirthDate, "PatientBirthDate", "20221101"},
		{tag.StudyDate, "StudyDate", "20230228"},
		{tag.StudyTime, "StudyTime", "123015"},
		{tag.Manufacturer, "Manufacturer", "Bruker BioSpin MRI GmbH"},
		{tag.PhotometricInterpretation, "PhotometricInterpretation", "MONOCHROME2"},
		{tag.SOPClassUID, "SOPClassUID", "1.2.840.10008.5.1.4.1.1.4"},
		{tag.ProtocolName, "ProtocolName", "T2_TurboRARE"},
		{tag.PatientPosition, "PatientPosition", "HFS"},
	}
	for _, vc := range valueChecks {
		if got := tagString(parsed, vc.tag); got != vc.want {
			t.Errorf("%s = %q, want %q", vc.name, got, vc.want)
		} else {
			t.Logf("✓ %s = %q", vc.name, got)
		}
	}
}

// TestValidation_DicomUIDConsistency parses the whole series and checks the
// identifier topology: shared study and series, unique instances.
func TestValidation_DicomUIDConsistency(t *testing.T) {
	paths := exportSeries(t)
	if len(paths) != 9 {
		t.Fatalf("Expected 9 slices, got %d", len(paths))
	}

	var studyUID, seriesUID, frameUID string
	sopUIDs := make(map[string]bool)
	instanceNumbers := make(map[string]bool)

	for i, p := range paths {
		parsed, err := dicom.ParseFile(p, nil)
		if err != nil {
			t.Fatalf("Failed to parse slice %d: %v", i+1, err)
		}

		study := tagString(parsed, tag.StudyInstanceUID)
		series := tagString(parsed, tag.SeriesInstanceUID)
		frame := tagString(parsed, tag.FrameOfReferenceUID)
		sop := tagString(parsed, tag.SOPInstanceUID)
		inst := tagString(parsed, tag.InstanceNumber)

		if i == 0 {
			studyUID, seriesUID, frameUID = study, series, frame
			t.Logf("Study UID:  %s", studyUID)
			t.Logf("Series UID: %s", seriesUID)
		} else {
			if study != studyUID {
				t.Errorf("Slice %d has different StudyInstanceUID: %s", i+1, study)
			}
			if series != seriesUID {
				t.Errorf("Slice %d has different SeriesInstanceUID: %s", i+1, series)
			}
			if frame != frameUID {
				t.Errorf("Slice %d has different FrameOfReferenceUID: %s", i+1, frame)
			}
		}

		if !strings.HasPrefix(sop, "1.2.826.0.1.3680043.8.498.") {
			t.Errorf("SOPInstanceUID %s lacks the registered root", sop)
		}
		if sopUIDs[sop] {
			t.Errorf("Duplicate SOPInstanceUID: %s", sop)
		}
		sopUIDs[sop] = true

		if instanceNumbers[inst] {
			t.Errorf("Duplicate InstanceNumber: %s", inst)
		}
		instanceNumbers[inst] = true
	}

	if len(sopUIDs) != 9 {
		t.Errorf("Expected 9 unique SOPInstanceUIDs, got %d", len(sopUIDs))
	} else {
		t.Logf("✓ All 9 SOPInstanceUIDs unique under a shared study and series")
	}
	if len(instanceNumbers) != 9 {
		t.Errorf("Expected 9 unique InstanceNumbers, got %d", len(instanceNumbers))
	}
}

// TestValidation_DicomSeedDeterminism exports the same volume twice with
// one seed and expects identical identifiers.
func TestValidation_DicomSeedDeterminism(t *testing.T) {
	ds := openStudy(t)

	imgs, err := convert.New(ds).Images(2, 1, convert.Options{})
	if err != nil {
		t.Fatalf("Images failed: %v", err)
	}
	vol, err := dicomexport.FromNifti(imgs[0])
	if err != nil {
		t.Fatalf("FromNifti failed: %v", err)
	}
	meta, err := dicomexport.MetaFromDataset(ds, 2, 1)
	if err != nil {
		t.Fatalf("MetaFromDataset failed: %v", err)
	}

	opts := dicomexport.Options{Seed: "fixed-seed", Workers: 2}
	first, err := dicomexport.Export([]*dicomexport.Volume{vol}, meta, t.TempDir(), opts)
	if err != nil {
		t.Fatalf("First export failed: %v", err)
	}
	second, err := dicomexport.Export([]*dicomexport.Volume{vol}, meta, t.TempDir(), opts)
	if err != nil {
		t.Fatalf("Second export failed: %v", err)
	}

	for i := range first {
		a, err := dicom.ParseFile(first[i], nil)
		if err != nil {
			t.Fatalf("Parse first run slice %d: %v", i+1, err)
		}
		b, err := dicom.ParseFile(second[i], nil)
		if err != nil {
			t.Fatalf("Parse second run slice %d: %v", i+1, err)
		}
		ua := tagString(a, tag.SOPInstanceUID)
		ub := tagString(b, tag.SOPInstanceUID)
		if ua != ub {
			t.Errorf("Slice %d SOPInstanceUID differs across runs: %s vs %s", i+1, ua, ub)
		}
	}
	t.Logf("✓ Seeded UIDs identical across %d slices and two runs", len(first))
}

// TestValidation_BIDSLayout converts the study and checks the structural
// rules of the produced tree: naming pattern, sidecar pairing, and the
// declared version.
func TestValidation_BIDSLayout(t *testing.T) {
	studyDir := writeStudy(t)
	parent := filepath.Dir(studyDir)

	sheet, err := bids.BuildDatasheet(parent)
	if err != nil {
		t.Fatalf("BuildDatasheet failed: %v", err)
	}
	sheetPath, err := bids.WriteDatasheet(sheet, filepath.Join(parent, "plan.csv"), "csv")
	if err != nil {
		t.Fatalf("WriteDatasheet failed: %v", err)
	}

	root := filepath.Join(t.TempDir(), "bids")
	err = bids.Convert(parent, sheetPath, bids.ConvertOptions{
		OutDir: root,
		Out:    io.Discard,
	})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	var desc struct {
		Name        string `json:"Name"`
		BIDSVersion string `json:"BIDSVersion"`
		DatasetType string `json:"DatasetType"`
	}
	raw, err := os.ReadFile(filepath.Join(root, "dataset_description.json"))
	if err != nil {
		t.Fatalf("dataset_description.json missing: %v", err)
	}
	if err := json.Unmarshal(raw, &desc); err != nil {
		t.Fatalf("dataset_description.json invalid: %v", err)
	}
	if desc.BIDSVersion != bids.SupportedBidsVersion {
		t.Errorf("BIDSVersion = %s, want %s", desc.BIDSVersion, bids.SupportedBidsVersion)
	}
	if desc.DatasetType != "raw" {
		t.Errorf("DatasetType = %s, want raw", desc.DatasetType)
	}
	t.Logf("✓ Description: %s, BIDS %s, type %s", desc.Name, desc.BIDSVersion, desc.DatasetType)

	tsv, err := os.ReadFile(filepath.Join(root, "participants.tsv"))
	if err != nil {
		t.Fatalf("participants.tsv missing: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(tsv)), "\n")
	if lines[0] != "participant_id" {
		t.Errorf("participants.tsv header = %q, want participant_id", lines[0])
	}
	if len(lines) != 2 || lines[1] != "sub-rat01" {
		t.Errorf("participants.tsv rows = %v, want [sub-rat01]", lines[1:])
	}
	t.Logf("✓ Participants table lists the one subject")

	images, err := filepath.Glob(filepath.Join(root, "sub-rat01", "ses-ses01", "*", "*.nii.gz"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("Found %d images in the tree, want 2: %v", len(images), images)
	}
	namePattern := regexp.MustCompile(`^sub-rat01_ses-ses01(_[a-zA-Z]+-[a-zA-Z0-9]+)*_[A-Za-z0-9]+\.nii\.gz$`)
	for _, img := range images {
		base := filepath.Base(img)
		if !namePattern.MatchString(base) {
			t.Errorf("Image name %q does not follow the entity pattern", base)
		}
		sidecar := strings.TrimSuffix(img, ".nii.gz") + ".json"
		if _, err := os.Stat(sidecar); err != nil {
			t.Errorf("Image %s has no sidecar: %v", base, err)
		} else {
			t.Logf("✓ %s with sidecar", base)
		}
	}
}

// exportSeries converts the anatomical scan and exports it as one DICOM
// series, returning the written paths.
func exportSeries(t *testing.T) []string {
	t.Helper()
	ds := openStudy(t)

	imgs, err := convert.New(ds).Images(2, 1, convert.Options{})
	if err != nil {
		t.Fatalf("convert scan 2: %v", err)
	}
	vol, err := dicomexport.FromNifti(imgs[0])
	if err != nil {
		t.Fatalf("volume from image: %v", err)
	}
	meta, err := dicomexport.MetaFromDataset(ds, 2, 1)
	if err != nil {
		t.Fatalf("series metadata: %v", err)
	}
	paths, err := dicomexport.Export([]*dicomexport.Volume{vol}, meta, t.TempDir(), dicomexport.Options{Workers: 2})
	if err != nil {
		t.Fatalf("export series: %v", err)
	}
	return paths
}
