package convert

import (
	"fmt"
	"regexp"

	"github.com/mrsinham/brkraw/internal/jcampdx"
)

// Dimension classes reported by dimInfo.
const (
	dimSpatialOnly   = "spatial_only"
	dimSpectroscopic = "contain_spectroscopic"
	dimTemporal      = "contain_temporal"
)

var slicePattern = regexp.MustCompile(`(?i)slice`)

type frameGroupInfo struct {
	present   bool
	frameType string
	shape     []int
	ids       []string
	comments  []string
	frameSize int
}

func (fg *frameGroupInfo) indexOf(id string) int {
	for i, g := range fg.ids {
		if g == id {
			return i
		}
	}
	return -1
}

func frameGroups(visu *jcampdx.Parameters) (*frameGroupInfo, error) {
	fg := &frameGroupInfo{}
	if !visu.Has("VisuFGOrderDescDim") {
		return fg, nil
	}
	fg.present = true
	if visu.Has("VisuCoreFrameType") {
		if s, err := firstString(visu, "VisuCoreFrameType"); err == nil {
			fg.frameType = s
		}
	}
	rows, err := visu.Tuples("VisuFGOrderDesc")
	if err != nil {
		return nil, err
	}
	fg.frameSize = 1
	for _, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("malformed VisuFGOrderDesc row %v", row)
		}
		n, ok := asInt(row[0])
		if !ok {
			return nil, fmt.Errorf("malformed VisuFGOrderDesc count %v", row[0])
		}
		id, _ := row[1].(string)
		comment, _ := row[2].(string)
		fg.shape = append(fg.shape, n)
		fg.ids = append(fg.ids, id)
		fg.comments = append(fg.comments, comment)
		fg.frameSize *= n
	}
	return fg, nil
}

func dimInfo(visu *jcampdx.Parameters) (int, string, error) {
	dim, err := visu.Int("VisuCoreDim")
	if err != nil {
		return 0, "", err
	}
	desc, err := visu.Strings("VisuCoreDimDesc")
	if err != nil {
		return 0, "", err
	}
	for _, d := range desc {
		if d != "spatial" {
			if d == "spectroscopic" {
				return dim, dimSpectroscopic, nil
			}
			return dim, dimTemporal, nil
		}
	}
	return dim, dimSpatialOnly, nil
}

type sliceInfo struct {
	numPacks  int
	slicesPer []int
	distPer   []float64
}

func slicing(visu *jcampdx.Parameters) (*sliceInfo, error) {
	fg, err := frameGroups(visu)
	if err != nil {
		return nil, err
	}
	if !fg.present {
		frames, err := visu.Int("VisuCoreFrameCount")
		if err != nil {
			return nil, err
		}
		thick, err := firstFloat(visu, "VisuCoreFrameThickness")
		if err != nil {
			return nil, err
		}
		return &sliceInfo{numPacks: 1, slicesPer: []int{frames}, distPer: []float64{thick}}, nil
	}

	version, err := visu.Int("VisuVersion")
	if err != nil {
		return nil, err
	}
	info := &sliceInfo{}
	switch version {
	case 1:
		// Paravision 5.1 derives the pack count from the distinct phase
		// encoding directions.
		info.numPacks = 1
		if visu.Has("VisuAcqImagePhaseEncDir") {
			if dirs, err := visu.Strings("VisuAcqImagePhaseEncDir"); err == nil {
				if allSameStrings(dirs) {
					info.numPacks = 1
				} else {
					info.numPacks = len(dirs)
				}
			}
		}
		sliceFGs := 0
		for _, id := range fg.ids {
			if !slicePattern.MatchString(id) {
				continue
			}
			sliceFGs++
			if sliceFGs > 2 {
				return nil, fmt.Errorf("more than two slice frame groups")
			}
			for p := 0; p < info.numPacks; p++ {
				info.slicesPer = append(info.slicesPer, fg.shape[0]/info.numPacks)
			}
		}
		thick, err := firstFloat(visu, "VisuCoreFrameThickness")
		if err != nil {
			return nil, err
		}
		for p := 0; p < info.numPacks; p++ {
			info.distPer = append(info.distPer, thick)
		}
	case 3, 4, 5:
		info.numPacks = 1
		if visu.Has("VisuCoreSlicePacksDef") {
			def, err := visu.Tuples("VisuCoreSlicePacksDef")
			if err != nil {
				return nil, err
			}
			if len(def) > 0 && len(def[0]) > 1 {
				if n, ok := asInt(def[0][1]); ok {
					info.numPacks = n
				}
			}
		}
		sliceFGs := 0
		for _, id := range fg.ids {
			if !slicePattern.MatchString(id) {
				continue
			}
			sliceFGs++
			if sliceFGs > 2 {
				return nil, fmt.Errorf("more than two slice frame groups")
			}
			packs, err := visu.Tuples("VisuCoreSlicePacksSlices")
			if err != nil || len(packs) == 0 || len(packs[0]) < 2 {
				return nil, fmt.Errorf("malformed VisuCoreSlicePacksSlices")
			}
			n, ok := asInt(packs[0][1])
			if !ok {
				return nil, fmt.Errorf("malformed VisuCoreSlicePacksSlices")
			}
			dists, err := visu.Floats("VisuCoreSlicePacksSliceDist")
			if err != nil || len(dists) == 0 {
				return nil, fmt.Errorf("malformed VisuCoreSlicePacksSliceDist")
			}
			info.slicesPer = nil
			info.distPer = nil
			for p := 0; p < info.numPacks; p++ {
				info.slicesPer = append(info.slicesPer, n)
				info.distPer = append(info.distPer, dists[0])
			}
		}
	default:
		return nil, fmt.Errorf("unsupported VisuVersion %d", version)
	}

	if len(info.distPer) == 0 {
		thick, err := firstFloat(visu, "VisuCoreFrameThickness")
		if err != nil {
			return nil, err
		}
		info.distPer = []float64{thick}
	} else {
		for i, d := range info.distPer {
			if d == 0 {
				thick, err := firstFloat(visu, "VisuCoreFrameThickness")
				if err != nil {
					return nil, err
				}
				info.distPer[i] = thick
			}
		}
	}
	if len(info.slicesPer) == 0 {
		info.slicesPer = []int{1}
	}
	return info, nil
}

type spatialInfo struct {
	resol  [][]float64
	matrix [][]int
	fov    []float64
}

func spatial(visu *jcampdx.Parameters) (*spatialInfo, error) {
	dim, class, err := dimInfo(visu)
	if err != nil {
		return nil, err
	}
	size, err := visu.Ints("VisuCoreSize")
	if err != nil {
		return nil, err
	}
	fov, err := visu.Floats("VisuCoreExtent")
	if err != nil {
		return nil, err
	}
	if len(fov) != len(size) {
		return nil, fmt.Errorf("VisuCoreExtent has %d entries for %d axes", len(fov), len(size))
	}
	voxel := make([]float64, len(size))
	for i := range size {
		voxel[i] = fov[i] / float64(size[i])
	}

	if class != dimSpatialOnly {
		if dim != 1 {
			return nil, fmt.Errorf("cannot build spatial info for %s data of dimension %d", class, dim)
		}
		return &spatialInfo{resol: [][]float64{voxel}, matrix: [][]int{size}, fov: fov}, nil
	}

	switch dim {
	case 3:
		return &spatialInfo{resol: [][]float64{voxel}, matrix: [][]int{size}, fov: fov}, nil
	case 2:
		slices, err := slicing(visu)
		if err != nil {
			return nil, err
		}
		sp := &spatialInfo{fov: fov}
		for p := 0; p < slices.numPacks; p++ {
			zr := slices.distPer[p%len(slices.distPer)]
			zm := slices.slicesPer[p%len(slices.slicesPer)]
			sp.resol = append(sp.resol, []float64{voxel[0], voxel[1], zr})
			sp.matrix = append(sp.matrix, []int{size[0], size[1], zm})
		}
		return sp, nil
	default:
		return nil, fmt.Errorf("unsupported spatial dimension %d", dim)
	}
}

type tempInfo struct {
	resol  float64 // msec per frame
	frames int
}

func temporal(visu *jcampdx.Parameters) (*tempInfo, error) {
	fg, err := frameGroups(visu)
	if err != nil {
		return nil, err
	}
	frames := 1
	if fg.present {
		for i, id := range fg.ids {
			if !slicePattern.MatchString(id) {
				frames *= fg.shape[i]
			}
		}
	}
	var total float64
	if visu.Has("VisuAcqScanTime") {
		total, err = visu.Float("VisuAcqScanTime")
		if err != nil {
			return nil, err
		}
	}
	return &tempInfo{resol: total / float64(frames), frames: frames}, nil
}

// matrixSize resolves the output array shape: spatial axes first, then the
// remaining frame group axes. dataLen of zero skips the volume check.
func matrixSize(visu *jcampdx.Parameters, dataLen int) ([]int, error) {
	sp, err := spatial(visu)
	if err != nil {
		return nil, err
	}
	slices, err := slicing(visu)
	if err != nil {
		return nil, err
	}
	temp, err := temporal(visu)
	if err != nil {
		return nil, err
	}
	fg, err := frameGroups(visu)
	if err != nil {
		return nil, err
	}

	var size []int
	if slices.numPacks > 1 {
		if !allSameInts(sp.matrix) {
			return nil, fmt.Errorf("slice packs disagree on matrix size %v", sp.matrix)
		}
		size = append(size, sp.matrix[0]...)
		total := 0
		for _, n := range slices.slicesPer {
			total += n
		}
		size[len(size)-1] = total
	} else {
		size = append(size, sp.matrix[0]...)
		if i := fg.indexOf("FG_SLICE"); i > 0 {
			size = append([]int{size[0], size[1]}, fg.shape...)
		} else if temp.frames > 1 {
			size = append(size, temp.frames)
		}
	}

	if dataLen > 0 {
		n := 1
		for _, s := range size {
			n *= s
		}
		if n != dataLen {
			return nil, fmt.Errorf("matrix size %v does not cover %d voxels", size, dataLen)
		}
	}
	return size, nil
}

const (
	diskOrderNormal  = "normal"
	diskOrderReverse = "reverse"
)

func diskSliceOrder(visu *jcampdx.Parameters) (string, error) {
	if !visu.Has("VisuCoreDiskSliceOrder") {
		return diskOrderNormal, nil
	}
	v, err := visu.Text("VisuCoreDiskSliceOrder")
	if err != nil {
		return "", err
	}
	switch v {
	case "disk_normal_slice_order":
		return diskOrderNormal, nil
	case "disk_reverse_slice_order":
		return diskOrderReverse, nil
	default:
		return "", fmt.Errorf("unknown VisuCoreDiskSliceOrder %q", v)
	}
}

// rescaleVals holds slope and offset, collapsed to scalars when every frame
// shares one value. A nil vector marks a scalar.
type rescaleVals struct {
	slope     float64
	offset    float64
	slopeVec  []float64
	offsetVec []float64
}

func dataSlope(visu *jcampdx.Parameters) (*rescaleVals, error) {
	rv := &rescaleVals{slope: 1}
	if visu.Has("VisuCoreDataSlope") {
		vals, err := visu.Floats("VisuCoreDataSlope")
		if err != nil {
			return nil, err
		}
		switch {
		case len(vals) == 0:
		case allSameFloats(vals):
			rv.slope = vals[0]
		default:
			rv.slopeVec = vals
		}
	}
	if visu.Has("VisuCoreDataOffs") {
		vals, err := visu.Floats("VisuCoreDataOffs")
		if err != nil {
			return nil, err
		}
		switch {
		case len(vals) == 0:
		case allSameFloats(vals):
			rv.offset = vals[0]
		default:
			rv.offsetVec = vals
		}
	}
	return rv, nil
}

func firstFloat(p *jcampdx.Parameters, key string) (float64, error) {
	vals, err := p.Floats(key)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, fmt.Errorf("parameter %s is empty", key)
	}
	return vals[0], nil
}

func firstString(p *jcampdx.Parameters, key string) (string, error) {
	vals, err := p.Strings(key)
	if err != nil {
		return "", err
	}
	if len(vals) == 0 {
		return "", fmt.Errorf("parameter %s is empty", key)
	}
	return vals[0], nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

func allSameStrings(v []string) bool {
	for i := 1; i < len(v); i++ {
		if v[i] != v[0] {
			return false
		}
	}
	return true
}

func allSameFloats(v []float64) bool {
	for i := 1; i < len(v); i++ {
		if v[i] != v[0] {
			return false
		}
	}
	return true
}

func allSameInts(rows [][]int) bool {
	for i := 1; i < len(rows); i++ {
		if len(rows[i]) != len(rows[0]) {
			return false
		}
		for j, n := range rows[i] {
			if n != rows[0][j] {
				return false
			}
		}
	}
	return true
}
