package dicomexport

import (
	"fmt"
	"math"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/mat"
)

// Stored pixel layout, the usual 12 bits in a 16 bit word of MR scanners.
const (
	bitsAllocated  = 16
	bitsStored     = 12
	highBit        = 11
	maxStoredValue = 1<<bitsStored - 1
)

const (
	transferSyntaxExplicitLE = "1.2.840.10008.1.2.1"
	mrImageStorage           = "1.2.840.10008.5.1.4.1.1.4"
	manufacturerBruker       = "Bruker BioSpin MRI GmbH"
)

// geometry holds the patient-space layout of a volume, derived once from its
// affine. DICOM patient coordinates are LPS while the affine is RAS, so the
// first two world components change sign.
type geometry struct {
	orient     []string
	rowSpacing float64
	colSpacing float64
	thickness  float64
	origin     [3]float64
	step       [3]float64
	normal     [3]float64
}

func volumeGeometry(affine *mat.Dense) (*geometry, error) {
	if affine == nil {
		return nil, fmt.Errorf("volume has no affine")
	}
	if r, c := affine.Dims(); r != 4 || c != 4 {
		return nil, fmt.Errorf("affine is %dx%d, want 4x4", r, c)
	}
	col := func(j int) [3]float64 {
		return lps([3]float64{affine.At(0, j), affine.At(1, j), affine.At(2, j)})
	}
	cx, cy, cz := col(0), col(1), col(2)
	sx, sy, sz := norm3(cx), norm3(cy), norm3(cz)
	if sx == 0 || sy == 0 {
		return nil, fmt.Errorf("affine has a zero in-plane column")
	}

	u := scale3(cx, 1/sx)
	v := scale3(cy, 1/sy)
	g := &geometry{
		orient: []string{
			fmt.Sprintf("%.6f", u[0]), fmt.Sprintf("%.6f", u[1]), fmt.Sprintf("%.6f", u[2]),
			fmt.Sprintf("%.6f", v[0]), fmt.Sprintf("%.6f", v[1]), fmt.Sprintf("%.6f", v[2]),
		},
		rowSpacing: sy,
		colSpacing: sx,
		thickness:  sz,
		origin:     col(3),
		step:       cz,
		normal:     cross3(u, v),
	}
	if g.thickness == 0 {
		g.thickness = 1
	}
	return g, nil
}

// slicePosition returns the patient-space position of the first voxel of
// slice k and its location along the stack normal.
func (g *geometry) slicePosition(k int) ([]string, float64) {
	p := [3]float64{
		g.origin[0] + float64(k)*g.step[0],
		g.origin[1] + float64(k)*g.step[1],
		g.origin[2] + float64(k)*g.step[2],
	}
	loc := g.normal[0]*p[0] + g.normal[1]*p[1] + g.normal[2]*p[2]
	pos := []string{
		fmt.Sprintf("%.6f", p[0]),
		fmt.Sprintf("%.6f", p[1]),
		fmt.Sprintf("%.6f", p[2]),
	}
	return pos, loc
}

func lps(v [3]float64) [3]float64 {
	return [3]float64{-v[0], -v[1], v[2]}
}

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func scale3(v [3]float64, s float64) [3]float64 {
	return [3]float64{v[0] * s, v[1] * s, v[2] * s}
}

func cross3(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// slicePlan is everything sliceElements needs to stamp one instance.
type slicePlan struct {
	meta         Meta
	studyUID     string
	frameUID     string
	seriesUID    string
	seriesNumber int
	echoTime     float64
	width        int
	height       int
	scale        volumeScale
	geom         *geometry
	slice        int
	acquisition  int
	instance     int
	sopUID       string
}

func sliceElements(p slicePlan) []*dicom.Element {
	m := p.meta
	imagePositionPatient, sliceLocation := p.geom.slicePosition(p.slice)
	windowCenter := (p.scale.hi + p.scale.lo) / 2
	windowWidth := p.scale.hi - p.scale.lo
	if windowWidth < 1 {
		windowWidth = 1
	}

	metadata := []*dicom.Element{
		mustNewElement(tag.TransferSyntaxUID, []string{transferSyntaxExplicitLE}),
		mustNewElement(tag.PatientName, []string{m.SubjectName}),
		mustNewElement(tag.PatientID, []string{m.SubjectID}),
		mustNewElement(tag.PatientBirthDate, []string{m.BirthDate}),
		mustNewElement(tag.PatientSex, []string{m.SubjectSex}),
		mustNewElement(tag.StudyInstanceUID, []string{p.studyUID}),
		mustNewElement(tag.StudyID, []string{m.StudyID}),
		mustNewElement(tag.StudyDate, []string{m.StudyDate}),
		mustNewElement(tag.StudyTime, []string{m.StudyTime}),
		mustNewElement(tag.StudyDescription, []string{m.StudyDescription}),
		mustNewElement(tag.SeriesInstanceUID, []string{p.seriesUID}),
		mustNewElement(tag.SeriesNumber, []string{fmt.Sprintf("%d", p.seriesNumber)}),
		mustNewElement(tag.SeriesDescription, []string{m.SeriesDescription}),
		mustNewElement(tag.Modality, []string{"MR"}),
		mustNewElement(tag.SOPInstanceUID, []string{p.sopUID}),
		mustNewElement(tag.SOPClassUID, []string{mrImageStorage}),
		mustNewElement(tag.InstanceNumber, []string{fmt.Sprintf("%d", p.instance)}),
		mustNewElement(tag.AcquisitionNumber, []string{fmt.Sprintf("%d", p.acquisition)}),
		mustNewElement(tag.PixelSpacing, []string{
			fmt.Sprintf("%.6f", p.geom.rowSpacing),
			fmt.Sprintf("%.6f", p.geom.colSpacing),
		}),
		mustNewElement(tag.SliceThickness, []string{fmt.Sprintf("%.6f", p.geom.thickness)}),
		mustNewElement(tag.SpacingBetweenSlices, []string{fmt.Sprintf("%.6f", p.geom.thickness)}),
		mustNewElement(tag.Manufacturer, []string{manufacturerBruker}),
		mustNewElement(tag.WindowCenter, []string{fmt.Sprintf("%.1f", windowCenter)}),
		mustNewElement(tag.WindowWidth, []string{fmt.Sprintf("%.1f", windowWidth)}),
		mustNewElement(tag.ImagePositionPatient, imagePositionPatient),
		mustNewElement(tag.ImageOrientationPatient, p.geom.orient),
		mustNewElement(tag.SliceLocation, []string{fmt.Sprintf("%.6f", sliceLocation)}),
		mustNewElement(tag.FrameOfReferenceUID, []string{p.frameUID}),
		mustNewElement(tag.Rows, []int{p.height}),
		mustNewElement(tag.Columns, []int{p.width}),
		mustNewElement(tag.BitsAllocated, []int{bitsAllocated}),
		mustNewElement(tag.BitsStored, []int{bitsStored}),
		mustNewElement(tag.HighBit, []int{highBit}),
		mustNewElement(tag.PixelRepresentation, []int{0}),
		mustNewElement(tag.SamplesPerPixel, []int{1}),
		mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
		mustNewElement(tag.RescaleIntercept, []string{floatToDS(p.scale.intercept)}),
		mustNewElement(tag.RescaleSlope, []string{floatToDS(p.scale.slope)}),
		mustNewElement(tag.RescaleType, []string{"US"}),
	}

	if m.Position != "" {
		metadata = append(metadata, mustNewElement(tag.PatientPosition, []string{m.Position}))
	}
	if m.Protocol != "" {
		metadata = append(metadata, mustNewElement(tag.ProtocolName, []string{m.Protocol}))
	}
	if m.FieldStrength != 0 {
		metadata = append(metadata, mustNewElement(tag.MagneticFieldStrength, []string{floatToDS(m.FieldStrength)}))
	}
	if m.Frequency != 0 {
		metadata = append(metadata, mustNewElement(tag.ImagingFrequency, []string{floatToDS(m.Frequency)}))
	}
	if p.echoTime != 0 {
		metadata = append(metadata, mustNewElement(tag.EchoTime, []string{floatToDS(p.echoTime)}))
	}
	if m.RepetitionTime != 0 {
		metadata = append(metadata, mustNewElement(tag.RepetitionTime, []string{floatToDS(m.RepetitionTime)}))
	}
	if m.FlipAngle != 0 {
		metadata = append(metadata, mustNewElement(tag.FlipAngle, []string{floatToDS(m.FlipAngle)}))
	}
	return metadata
}

// mustNewElement creates a new DICOM element, panicking on error.
func mustNewElement(t tag.Tag, value interface{}) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}

// floatToDS converts a float64 to a DICOM Decimal String.
func floatToDS(f float64) string {
	return fmt.Sprintf("%.6g", f)
}
