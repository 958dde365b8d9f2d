package convert

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/mrsinham/brkraw/internal/jcampdx"
)

const angleTol = 1e-6

// Subject position vocabulary accepted by conversion and by the override
// flags.
var SubjectPositions = []string{
	"Head_Supine", "Head_Prone", "Head_Left", "Head_Right",
	"Foot_Supine", "Foot_Prone", "Foot_Left", "Foot_Right",
	"Tail_Supine", "Tail_Prone", "Tail_Left", "Tail_Right",
}

// Subject type vocabulary accepted by conversion and by the override flags.
var SubjectTypes = []string{"Biped", "Quadruped", "Phantom", "Other", "OtherAnimal"}

type orientPack struct {
	rmat  *mat.Dense
	order [3]int
	pose  [3]float64
}

type orientation struct {
	subjectType string
	subjectPose string
	packs       []orientPack
}

// sliceOrientName maps the column whose dominant world axis is z to the
// anatomical plane of the slice stack.
func sliceOrientName(order [3]int) (string, error) {
	for i, o := range order {
		if o == 2 {
			switch i {
			case 0:
				return "sagittal", nil
			case 1:
				return "coronal", nil
			default:
				return "axial", nil
			}
		}
	}
	return "", fmt.Errorf("orientation matrix has no slice axis")
}

func axisOrient(m *mat.Dense) [3]int {
	var order [3]int
	for j := 0; j < 3; j++ {
		best, bi := math.Abs(m.At(0, j)), 0
		for i := 1; i < 3; i++ {
			if v := math.Abs(m.At(i, j)); v > best {
				best, bi = v, i
			}
		}
		order[j] = bi
	}
	return order
}

// floatRows reads a shaped float parameter as a list of rows.
func floatRows(p *jcampdx.Parameters, key string) ([][]float64, error) {
	v, ok := p.Get(key)
	if !ok {
		return nil, fmt.Errorf("parameter %s not found", key)
	}
	flat, err := p.Floats(key)
	if err != nil {
		return nil, err
	}
	shape := v.Shape()
	if len(shape) < 2 {
		return [][]float64{flat}, nil
	}
	rowLen := 1
	for _, s := range shape[1:] {
		rowLen *= s
	}
	if shape[0]*rowLen != len(flat) {
		return nil, fmt.Errorf("parameter %s: shape %v does not cover %d values", key, shape, len(flat))
	}
	rows := make([][]float64, shape[0])
	for i := range rows {
		rows[i] = flat[i*rowLen : (i+1)*rowLen]
	}
	return rows, nil
}

func allRowsSame(rows [][]float64) bool {
	for _, row := range rows[1:] {
		if len(row) != len(rows[0]) {
			return false
		}
		for i, v := range row {
			if v != rows[0][i] {
				return false
			}
		}
	}
	return true
}

// orientInfo collects the per-pack rotation matrices and volume origins.
func orientInfo(visu, method *jcampdx.Parameters) (*orientation, error) {
	orows, err := floatRows(visu, "VisuCoreOrientation")
	if err != nil {
		return nil, err
	}
	prows, err := floatRows(visu, "VisuCorePosition")
	if err != nil {
		return nil, err
	}
	for _, row := range orows {
		if len(row) != 9 {
			return nil, fmt.Errorf("VisuCoreOrientation row has %d entries, want 9", len(row))
		}
	}

	var grad [][]float64
	if method != nil && method.Has("PVM_SPackArrGradOrient") {
		grows, err := floatRows(method, "PVM_SPackArrGradOrient")
		if err != nil {
			return nil, err
		}
		if len(grows[0]) < 9 {
			return nil, fmt.Errorf("PVM_SPackArrGradOrient pack has %d entries, want 9", len(grows[0]))
		}
		grad = [][]float64{
			grows[0][0:3],
			grows[0][3:6],
			grows[0][6:9],
		}
	}

	o := &orientation{}
	if visu.Has("VisuSubjectType") {
		o.subjectType, _ = visu.Text("VisuSubjectType")
	}
	if visu.Has("VisuSubjectPosition") {
		o.subjectPose, _ = visu.Text("VisuSubjectPosition")
	}

	slices, err := slicing(visu)
	if err != nil {
		return nil, err
	}
	if slices.numPacks > 1 {
		numOri := len(orows)
		if numOri != slices.numPacks {
			// one orientation per slice, grouped by pack
			if slices.numPacks%numOri == 0 {
				return nil, fmt.Errorf("%d orientation matrices for %d slice packs", numOri, slices.numPacks)
			}
			perPack := numOri / slices.numPacks
			for p := 0; p < slices.numPacks; p++ {
				group := orows[p*perPack : (p+1)*perPack]
				if !allRowsSame(group) {
					return nil, fmt.Errorf("orientation matrices differ within slice pack %d", p+1)
				}
				rmat := mat.NewDense(3, 3, append([]float64(nil), group[0]...))
				pose, err := getOrigin(prows[p*perPack:(p+1)*perPack], grad)
				if err != nil {
					return nil, err
				}
				o.packs = append(o.packs, orientPack{rmat: rmat, order: axisOrient(rmat), pose: pose})
			}
		} else {
			for p, row := range orows {
				rmat := mat.NewDense(3, 3, append([]float64(nil), row...))
				var pose [3]float64
				copy(pose[:], prows[p])
				o.packs = append(o.packs, orientPack{rmat: rmat, order: axisOrient(rmat), pose: pose})
			}
		}
		return o, nil
	}

	if !allRowsSame(orows) {
		return nil, fmt.Errorf("VisuCoreOrientation rows differ across frames")
	}
	rmat := mat.NewDense(3, 3, append([]float64(nil), orows[0]...))
	pose, err := getOrigin(prows, grad)
	if err != nil {
		return nil, err
	}
	o.packs = append(o.packs, orientPack{rmat: rmat, order: axisOrient(rmat), pose: pose})
	return o, nil
}

// getOrigin picks the world coordinate of the first voxel from the per-frame
// positions. The choice of end depends on the slice stack direction, read
// from the gradient orientation when the method file carries one.
func getOrigin(positions [][]float64, grad [][]float64) ([3]float64, error) {
	if len(positions) == 0 || len(positions[0]) < 3 {
		return [3]float64{}, fmt.Errorf("no volume positions")
	}
	var mins, maxs [3]float64
	for a := 0; a < 3; a++ {
		mins[a], maxs[a] = positions[0][a], positions[0][a]
	}
	for _, row := range positions[1:] {
		for a := 0; a < 3; a++ {
			if row[a] < mins[a] {
				mins[a] = row[a]
			}
			if row[a] > maxs[a] {
				maxs[a] = row[a]
			}
		}
	}
	axis := 0
	for a := 1; a < 3; a++ {
		if maxs[a]-mins[a] > maxs[axis]-mins[axis] {
			axis = a
		}
	}

	var rx, ry, rz float64
	hasGrad := grad != nil
	if hasGrad {
		// dominant-direction snap of the gradient orientation
		zmat := mat.NewDense(3, 3, nil)
		for cid := 0; cid < 3; cid++ {
			best, bi := math.Abs(grad[0][cid]), 0
			for i := 1; i < 3; i++ {
				if v := math.Abs(grad[i][cid]); v > best {
					best, bi = v, i
				}
			}
			zmat.Set(cid, bi, math.Round(grad[bi][cid]))
		}
		var zt mat.Dense
		zt.CloneFrom(zmat.T())
		var err error
		rx, ry, rz, err = eulerAngles(&zt)
		if err != nil {
			return [3]float64{}, err
		}
	}

	pick := func(useMax bool) int {
		idx := 0
		for i, row := range positions {
			if useMax && row[axis] > positions[idx][axis] {
				idx = i
			}
			if !useMax && row[axis] < positions[idx][axis] {
				idx = i
			}
		}
		return idx
	}

	var idx int
	switch axis {
	case 0: // sagittal stack
		if hasGrad && near(rz, 90) {
			idx = pick(false)
		} else {
			idx = pick(true)
		}
	case 1: // coronal stack
		if hasGrad && near(rx, -90) && !near(ry, -90) {
			idx = pick(false)
		} else {
			idx = pick(true)
		}
	default: // axial stack
		if !hasGrad {
			idx = pick(false)
		} else if near(math.Abs(ry), 180) || (near(math.Abs(rx), 180) && near(math.Abs(rz), 180)) {
			idx = pick(true)
		} else {
			idx = pick(false)
		}
	}

	var origin [3]float64
	copy(origin[:], positions[idx][:3])
	return origin, nil
}

func near(a, b float64) bool { return math.Abs(a-b) < angleTol }

// eulerAngles decomposes a rotation matrix into x, y, z angles in degrees.
func eulerAngles(m *mat.Dense) (float64, float64, float64, error) {
	var should mat.Dense
	should.Mul(m.T(), m)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(should.At(i, j)-want) > 1e-6 {
				return 0, 0, 0, fmt.Errorf("matrix is not a rotation")
			}
		}
	}
	sy := math.Hypot(m.At(0, 0), m.At(1, 0))
	var x, y, z float64
	if sy >= 1e-6 {
		x = math.Atan2(m.At(2, 1), m.At(2, 2))
		y = math.Atan2(-m.At(2, 0), sy)
		z = math.Atan2(m.At(1, 0), m.At(0, 0))
	} else {
		x = math.Atan2(-m.At(1, 2), m.At(1, 1))
		y = math.Atan2(-m.At(2, 0), sy)
		z = 0
	}
	const toDeg = 180 / math.Pi
	return x * toDeg, y * toDeg, z * toDeg, nil
}

func rotationMatrix(rx, ry, rz float64) *mat.Dense {
	mx := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, math.Cos(rx), -math.Sin(rx),
		0, math.Sin(rx), math.Cos(rx),
	})
	my := mat.NewDense(3, 3, []float64{
		math.Cos(ry), 0, math.Sin(ry),
		0, 1, 0,
		-math.Sin(ry), 0, math.Cos(ry),
	})
	mz := mat.NewDense(3, 3, []float64{
		math.Cos(rz), -math.Sin(rz), 0,
		math.Sin(rz), math.Cos(rz), 0,
		0, 0, 1,
	})
	var zy, zyx mat.Dense
	zy.Mul(mz, my)
	zyx.Mul(&zy, mx)
	return &zyx
}

func fromMatVec(m *mat.Dense, v [3]float64) *mat.Dense {
	aff := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			aff.Set(i, j, m.At(i, j))
		}
		aff.Set(i, 3, v[i])
	}
	aff.Set(3, 3, 1)
	return aff
}

// applyRotation rotates both the direction part and the translation of an
// affine, z after y after x.
func applyRotation(aff *mat.Dense, rx, ry, rz float64) *mat.Dense {
	r := rotationMatrix(rx, ry, rz)
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			sum := 0.0
			for k := 0; k < 3; k++ {
				sum += r.At(i, k) * aff.At(k, j)
			}
			out.Set(i, j, sum)
		}
	}
	out.Set(3, 3, 1)
	return out
}

// buildAffine composes the voxel-to-world transform for one slice pack and
// corrects it into human-based orientation for the subject pose.
func buildAffine(resol []float64, rmat *mat.Dense, pose [3]float64, subjPose, subjType, sliceOrient string) (*mat.Dense, error) {
	r := append([]float64(nil), resol...)
	if sliceOrient == "coronal" {
		r[2] = -r[2]
	}
	diag := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		diag.Set(i, i, r[i])
	}
	var dir mat.Dense
	dir.Mul(rmat.T(), diag)
	aff := fromMatVec(&dir, pose)

	switch subjPose {
	case "", "Head_Prone":
	case "Head_Supine":
		aff = applyRotation(aff, 0, 0, math.Pi)
	case "Head_Left":
		aff = applyRotation(aff, 0, 0, math.Pi/2)
	case "Head_Right":
		aff = applyRotation(aff, 0, 0, -math.Pi/2)
	case "Foot_Supine", "Tail_Supine":
		aff = applyRotation(aff, math.Pi, 0, 0)
	case "Foot_Prone", "Tail_Prone":
		aff = applyRotation(aff, 0, math.Pi, 0)
	case "Foot_Left", "Tail_Left":
		aff = applyRotation(aff, 0, 0, math.Pi/2)
	case "Foot_Right", "Tail_Right":
		aff = applyRotation(aff, 0, 0, -math.Pi/2)
	default:
		return nil, fmt.Errorf("unsupported subject position %q", subjPose)
	}
	if subjType != "Biped" {
		// animal scanners hold the subject prone along the bore
		aff = applyRotation(aff, -math.Pi/2, math.Pi, 0)
	}
	return aff, nil
}

func reversedPoseCorrection(pose [3]float64, rmat *mat.Dense, dist float64) [3]float64 {
	var rp [3]float64
	for i := 0; i < 3; i++ {
		rp[i] = rmat.At(i, 0)*pose[0] + rmat.At(i, 1)*pose[1] + rmat.At(i, 2)*pose[2]
	}
	rp[2] += dist
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = rmat.At(0, i)*rp[0] + rmat.At(1, i)*rp[1] + rmat.At(2, i)*rp[2]
	}
	return out
}
