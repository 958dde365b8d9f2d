package convert

import (
	"encoding/binary"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/brkraw/internal/jcampdx"
	"github.com/mrsinham/brkraw/internal/nifti"
)

// Rescale selects how the slope and offset stored with a reconstruction are
// handled on conversion.
type Rescale int

const (
	// RescaleHeader keeps raw voxel values and records the scaling in the
	// nifti header.
	RescaleHeader Rescale = iota
	// RescaleApply multiplies the scaling into the voxel values.
	RescaleApply
	// RescaleIgnore discards the scaling entirely.
	RescaleIgnore
)

// frame groups that loop over whole volumes rather than interleaving with
// the spatial axes
var volumeLoopGroups = map[string]bool{
	"FG_DIFFUSION":     true,
	"FG_DTI":           true,
	"FG_MOVIE":         true,
	"FG_COIL":          true,
	"FG_CYCLE":         true,
	"FG_COMPLEX":       true,
	"FG_CARDIAC_MOVIE": true,
}

func wordTypeCode(visu *jcampdx.Parameters) (int16, error) {
	wt, err := visu.Text("VisuCoreWordType")
	if err != nil {
		return 0, err
	}
	switch wt {
	case "_32BIT_SGN_INT":
		return nifti.DTInt32, nil
	case "_16BIT_SGN_INT":
		return nifti.DTInt16, nil
	case "_8BIT_UNSGN_INT":
		return nifti.DTUint8, nil
	case "_32BIT_FLOAT":
		return nifti.DTFloat32, nil
	default:
		return 0, fmt.Errorf("unknown VisuCoreWordType %q", wt)
	}
}

func byteOrderOf(visu *jcampdx.Parameters) (binary.ByteOrder, error) {
	if !visu.Has("VisuCoreByteOrder") {
		return binary.LittleEndian, nil
	}
	bo, err := visu.Text("VisuCoreByteOrder")
	if err != nil {
		return nil, err
	}
	switch bo {
	case "littleEndian":
		return binary.LittleEndian, nil
	case "bigEndian":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("unknown VisuCoreByteOrder %q", bo)
	}
}

// decodeFrames turns the raw 2dseq bytes into float64 voxel values. The
// returned code is the nifti datatype of the source words.
func decodeFrames(visu *jcampdx.Parameters, raw []byte) ([]float64, int16, error) {
	dt, err := wordTypeCode(visu)
	if err != nil {
		return nil, 0, err
	}
	order, err := byteOrderOf(visu)
	if err != nil {
		return nil, 0, err
	}
	width := 0
	switch dt {
	case nifti.DTUint8:
		width = 1
	case nifti.DTInt16:
		width = 2
	case nifti.DTInt32, nifti.DTFloat32:
		width = 4
	}
	if len(raw)%width != 0 {
		return nil, 0, fmt.Errorf("image data of %d bytes is not a multiple of the %d byte word size", len(raw), width)
	}
	vals := make([]float64, len(raw)/width)
	switch dt {
	case nifti.DTUint8:
		for i, b := range raw {
			vals[i] = float64(b)
		}
	case nifti.DTInt16:
		for i := range vals {
			vals[i] = float64(int16(order.Uint16(raw[i*2:])))
		}
	case nifti.DTInt32:
		for i := range vals {
			vals[i] = float64(int32(order.Uint32(raw[i*4:])))
		}
	case nifti.DTFloat32:
		for i := range vals {
			vals[i] = float64(math.Float32frombits(order.Uint32(raw[i*4:])))
		}
	}
	return vals, dt, nil
}

// applyFrameScale multiplies or shifts voxel values frame by frame. vec must
// hold one factor per frame; the flat data is frame-major.
func applyFrameScale(vals []float64, vec []float64, frames, dim int, size []int, add bool) error {
	if frames != len(vec) {
		return fmt.Errorf("scaling vector has %d entries for %d frames", len(vec), frames)
	}
	var chunk int
	switch dim {
	case 2:
		chunk = size[0] * size[1]
	case 3:
		chunk = size[0] * size[1] * size[2]
	default:
		return fmt.Errorf("per-frame scaling is undefined for %dD data", dim)
	}
	if chunk*frames != len(vals) {
		return fmt.Errorf("%d frames of %d voxels do not cover %d values", frames, chunk, len(vals))
	}
	for f := 0; f < frames; f++ {
		seg := vals[f*chunk : (f+1)*chunk]
		for i := range seg {
			if add {
				seg[i] += vec[f]
			} else {
				seg[i] *= vec[f]
			}
		}
	}
	return nil
}

// dataObj decodes a reconstruction into a spatially ordered volume. With
// applySlope or applyOffset the stored scaling is written into the values
// and the result is promoted to float64 output.
func dataObj(visu *jcampdx.Parameters, raw []byte, applySlope, applyOffset bool) (*array, int16, error) {
	vals, dt, err := decodeFrames(visu, raw)
	if err != nil {
		return nil, 0, err
	}
	dim, _, err := dimInfo(visu)
	if err != nil {
		return nil, 0, err
	}
	fg, err := frameGroups(visu)
	if err != nil {
		return nil, 0, err
	}
	size, err := matrixSize(visu, len(vals))
	if err != nil {
		return nil, 0, err
	}
	rv, err := dataSlope(visu)
	if err != nil {
		return nil, 0, err
	}

	if applySlope {
		if rv.slopeVec != nil {
			if err := applyFrameScale(vals, rv.slopeVec, fg.frameSize, dim, size, false); err != nil {
				return nil, 0, err
			}
		} else {
			for i := range vals {
				vals[i] *= rv.slope
			}
		}
	}
	if applyOffset {
		if rv.offsetVec != nil {
			if err := applyFrameScale(vals, rv.offsetVec, fg.frameSize, dim, size, true); err != nil {
				return nil, 0, err
			}
		} else {
			for i := range vals {
				vals[i] += rv.offset
			}
		}
	}
	if applySlope || applyOffset {
		dt = nifti.DTFloat64
	}

	arr, err := newArray(vals, size)
	if err != nil {
		return nil, 0, err
	}

	nEcho, err := multiEcho(visu)
	if err != nil {
		return nil, 0, err
	}
	if fg.present && fg.frameType != "" {
		switch {
		case fg.ids[0] == "FG_SLICE":
			// slices already interleave fastest, nothing to move
		case fg.ids[0] == "FG_ECHO":
			if nEcho > 0 {
				// push the echo axis last so echoes split into files
				if si := fg.indexOf("FG_SLICE"); si < 0 {
					arr.swapAxes(dim, -1)
				} else {
					arr.swapAxes(si+2, -1)
					arr.swapAxes(2, -1)
				}
				arr = arr.materialize()
			}
		case volumeLoopGroups[fg.ids[0]]:
			if si := fg.indexOf("FG_SLICE"); si >= 0 {
				arr.swapAxes(2, si+2)
				arr = arr.materialize()
			}
		default:
			log.WithField("groups", fg.ids).Warn("unexpected frame group combination")
		}
	}
	return arr, dt, nil
}

// multiEcho returns the echo count when echoes should become separate output
// files. Field map reconstructions keep their frames together.
func multiEcho(visu *jcampdx.Parameters) (int, error) {
	fg, err := frameGroups(visu)
	if err != nil {
		return 0, err
	}
	i := fg.indexOf("FG_ECHO")
	if i < 0 {
		return 0, nil
	}
	for _, c := range fg.comments {
		if c == "FieldMap" {
			return 0, nil
		}
	}
	return fg.shape[i], nil
}
