// Package nifti writes and reads NIFTI-1 images (.nii, .nii.gz).
//
// Field layout follows the official nifti1 header definition,
// https://nifti.nimh.nih.gov/pub/dist/src/niftilib/nifti1.h
package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// Data type codes from the nifti1 standard.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
)

// Spatial and temporal unit codes for XYZTUnits.
const (
	UnitsMM  int8 = 2
	UnitsSec int8 = 8
)

// Transform codes for QFormCode and SFormCode.
const (
	XFormUnknown     int16 = 0
	XFormScannerAnat int16 = 1
)

// Slice timing order codes.
const (
	SliceUnknown     int8 = 0
	SliceSeqInc      int8 = 1
	SliceSeqDec      int8 = 2
	SliceAltInc      int8 = 3
	SliceAltDec      int8 = 4
)

const (
	minHeaderSize = 348
	headerSize    = 352
)

var magicN1 = [4]byte{'n', '+', '1', 0}

// Header is the binary nifti1 header.
//
// Type translation from the C header: int -> int32, float -> float32,
// short -> int16, char -> int8/byte.
type Header struct {
	SizeOfHdr          int32    // Must be 348
	UnusedDataType     [10]byte // Unused
	UnusedDbName       [18]byte // Unused
	UnusedExtents      int32    // Unused
	UnusedSessionError int16    // Unused
	UnusedRegular      byte     // Unused
	DimInfo            int8     // MRI slice ordering

	Dim           [8]int16   // Data array dimensions
	IntentP1      float32    // 1st intent parameter
	IntentP2      float32    // 2nd intent parameter
	IntentP3      float32    // 3rd intent parameter
	IntentCode    int16      // NIFTI_INTENT_* code
	DataType      int16      // Defines data type
	BitPix        int16      // Number bits/voxel
	SliceStart    int16      // First slice index
	PixDim        [8]float32 // Grid spacing
	VoxOffset     float32    // Offset into .nii file
	SclSlope      float32    // Data scaling: slope
	SclInter      float32    // Data scaling: offset
	SliceEnd      int16      // Last slice index
	SliceCode     int8       // Slice timing order
	XYZTUnits     int8       // Units of pixdim[1..4]
	CalMax        float32    // Max display intensity
	CalMin        float32    // Min display intensity
	SliceDuration float32    // Time for 1 slice
	TOffset       float32    // Time axis shift
	UnusedGlmax   int32      // Unused
	UnusedGlmin   int32      // Unused

	Descrip [80]byte // Any text you like
	AuxFile [24]byte // Auxiliary filename

	QFormCode int16 // NIFTI_XFORM_* code
	SFormCode int16 // NIFTI_XFORM_* code

	QuaternB float32 // Quaternion b param
	QuaternC float32 // Quaternion c param
	QuaternD float32 // Quaternion d param
	QOffsetX float32 // Quaternion x shift
	QOffsetY float32 // Quaternion y shift
	QOffsetZ float32 // Quaternion z shift

	SRowX [4]float32 // 1st row affine transform
	SRowY [4]float32 // 2nd row affine transform
	SRowZ [4]float32 // 3rd row affine transform

	IntentName [16]byte // 'name' or meaning of data

	Magic [4]byte // Must be "n+1\0"
}

// BitPixFor returns the bits per voxel for a data type code.
func BitPixFor(dt int16) (int16, error) {
	switch dt {
	case DTUint8:
		return 8, nil
	case DTInt16:
		return 16, nil
	case DTInt32, DTFloat32:
		return 32, nil
	case DTFloat64:
		return 64, nil
	default:
		return 0, fmt.Errorf("unsupported nifti datatype %d", dt)
	}
}

// Image is a nifti1 header plus its voxel payload.
type Image struct {
	Header Header
	Data   []byte
}

// New builds an image with the given dimensions, grid spacing in mm, data
// type and encoded payload. dim holds the sizes of each axis in order.
func New(dim []int, pixdim []float64, dt int16, data []byte) (*Image, error) {
	if len(dim) < 1 || len(dim) > 7 {
		return nil, fmt.Errorf("nifti supports 1 to 7 dimensions, got %d", len(dim))
	}
	bitpix, err := BitPixFor(dt)
	if err != nil {
		return nil, err
	}

	h := Header{
		SizeOfHdr: minHeaderSize,
		DataType:  dt,
		BitPix:    bitpix,
		VoxOffset: headerSize,
		SclSlope:  1,
		XYZTUnits: UnitsMM,
		Magic:     magicN1,
	}
	h.Dim[0] = int16(len(dim))
	nvox := 1
	for i, d := range dim {
		h.Dim[i+1] = int16(d)
		nvox *= d
	}
	for i := len(dim); i < 7; i++ {
		h.Dim[i+1] = 1
	}
	h.PixDim[0] = 1
	for i := range h.PixDim[1:] {
		h.PixDim[i+1] = 1
	}
	for i, p := range pixdim {
		if i >= 7 {
			break
		}
		h.PixDim[i+1] = float32(p)
	}

	if want := nvox * int(bitpix) / 8; want != len(data) {
		return nil, fmt.Errorf("payload is %d bytes, dimensions require %d", len(data), want)
	}
	return &Image{Header: h, Data: data}, nil
}

// SetDescrip stores a description string, truncated to the 80-byte field.
func (img *Image) SetDescrip(s string) {
	var d [80]byte
	copy(d[:], s)
	img.Header.Descrip = d
}

// Shape returns the axis sizes declared in the header.
func (img *Image) Shape() []int {
	nd := int(img.Header.Dim[0])
	if nd < 1 {
		return nil
	}
	if nd > 7 {
		nd = 7
	}
	shape := make([]int, nd)
	for i := range shape {
		shape[i] = int(img.Header.Dim[i+1])
	}
	return shape
}

// Values decodes the voxel payload back into float64 values. The payload is
// read little endian, matching what Encode produces.
func (img *Image) Values() ([]float64, error) {
	dt := img.Header.DataType
	bitpix, err := BitPixFor(dt)
	if err != nil {
		return nil, err
	}
	step := int(bitpix) / 8
	if len(img.Data)%step != 0 {
		return nil, fmt.Errorf("payload of %d bytes is not a multiple of %d", len(img.Data), step)
	}
	vals := make([]float64, len(img.Data)/step)
	switch dt {
	case DTUint8:
		for i := range vals {
			vals[i] = float64(img.Data[i])
		}
	case DTInt16:
		for i := range vals {
			vals[i] = float64(int16(binary.LittleEndian.Uint16(img.Data[i*2:])))
		}
	case DTInt32:
		for i := range vals {
			vals[i] = float64(int32(binary.LittleEndian.Uint32(img.Data[i*4:])))
		}
	case DTFloat32:
		for i := range vals {
			vals[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(img.Data[i*4:])))
		}
	case DTFloat64:
		for i := range vals {
			vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(img.Data[i*8:]))
		}
	}
	return vals, nil
}

// WriteTo serializes the image: header, extension flag, then voxel data.
func (img *Image) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &img.Header); err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}
	if buf.Len() != minHeaderSize {
		return 0, fmt.Errorf("header encoded to %d bytes, want %d", buf.Len(), minHeaderSize)
	}
	// No extensions.
	buf.Write([]byte{0, 0, 0, 0})

	n, err := w.Write(buf.Bytes())
	total := int64(n)
	if err != nil {
		return total, err
	}
	n, err = w.Write(img.Data)
	total += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}

// WriteFile writes the image to path, gzip-compressed when the name ends in
// .nii.gz.
func (img *Image) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}
	if _, err := img.WriteTo(w); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("finish %s: %w", path, err)
		}
	}
	return f.Close()
}

// Encode serializes voxel values into the binary payload for a data type.
// Integer types round to nearest.
func Encode(dt int16, vals []float64) ([]byte, error) {
	bitpix, err := BitPixFor(dt)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(vals)*int(bitpix)/8)
	switch dt {
	case DTUint8:
		for i, v := range vals {
			buf[i] = uint8(clamp(math.Round(v), 0, math.MaxUint8))
		}
	case DTInt16:
		for i, v := range vals {
			binary.LittleEndian.PutUint16(buf[i*2:],
				uint16(int16(clamp(math.Round(v), math.MinInt16, math.MaxInt16))))
		}
	case DTInt32:
		for i, v := range vals {
			binary.LittleEndian.PutUint32(buf[i*4:],
				uint32(int32(clamp(math.Round(v), math.MinInt32, math.MaxInt32))))
		}
	case DTFloat32:
		for i, v := range vals {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
		}
	case DTFloat64:
		for i, v := range vals {
			binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
		}
	}
	return buf, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
