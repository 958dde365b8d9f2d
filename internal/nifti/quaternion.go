package nifti

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Quatern holds the qform representation of a 4x4 affine.
type Quatern struct {
	B, C, D    float64
	QX, QY, QZ float64
	DX, DY, DZ float64
	QFac       float64
}

// SetAffine derives the qform quaternion from a voxel-to-world affine and
// stores it together with the sform rows. The qform is marked as scanner
// coordinates; the sform stays unset so the quaternion is authoritative.
func (img *Image) SetAffine(affine *mat.Dense) {
	q := Mat44ToQuatern(affine)

	h := &img.Header
	h.QFormCode = XFormScannerAnat
	h.SFormCode = XFormUnknown
	h.QuaternB = float32(q.B)
	h.QuaternC = float32(q.C)
	h.QuaternD = float32(q.D)
	h.QOffsetX = float32(q.QX)
	h.QOffsetY = float32(q.QY)
	h.QOffsetZ = float32(q.QZ)
	h.PixDim[0] = float32(q.QFac)
	h.PixDim[1] = float32(q.DX)
	h.PixDim[2] = float32(q.DY)
	h.PixDim[3] = float32(q.DZ)

	for j := 0; j < 4; j++ {
		h.SRowX[j] = float32(affine.At(0, j))
		h.SRowY[j] = float32(affine.At(1, j))
		h.SRowZ[j] = float32(affine.At(2, j))
	}
}

// Affine rebuilds the voxel-to-world transform from the sform rows, which
// SetAffine fills alongside the quaternion.
func (img *Image) Affine() *mat.Dense {
	h := &img.Header
	return mat.NewDense(4, 4, []float64{
		float64(h.SRowX[0]), float64(h.SRowX[1]), float64(h.SRowX[2]), float64(h.SRowX[3]),
		float64(h.SRowY[0]), float64(h.SRowY[1]), float64(h.SRowY[2]), float64(h.SRowY[3]),
		float64(h.SRowZ[0]), float64(h.SRowZ[1]), float64(h.SRowZ[2]), float64(h.SRowZ[3]),
		0, 0, 0, 1,
	})
}

// Mat44ToQuatern decomposes a 4x4 affine into the nifti1 quaternion
// parameters. The rotation part must be orthogonal after the column norms
// are divided out; shears are not representable and are discarded.
func Mat44ToQuatern(affine *mat.Dense) Quatern {
	var q Quatern
	q.QX = affine.At(0, 3)
	q.QY = affine.At(1, 3)
	q.QZ = affine.At(2, 3)

	// Grid spacings are the column norms of the rotation part.
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = affine.At(i, j)
		}
	}
	colNorm := func(j int) float64 {
		return math.Sqrt(r[0][j]*r[0][j] + r[1][j]*r[1][j] + r[2][j]*r[2][j])
	}
	q.DX, q.DY, q.DZ = colNorm(0), colNorm(1), colNorm(2)
	for j, d := range []float64{q.DX, q.DY, q.DZ} {
		if d == 0 {
			continue
		}
		for i := 0; i < 3; i++ {
			r[i][j] /= d
		}
	}

	det := r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
	if det > 0 {
		q.QFac = 1
	} else {
		// Proper rotations only: flip the third column and remember it
		// in qfac.
		q.QFac = -1
		r[0][2], r[1][2], r[2][2] = -r[0][2], -r[1][2], -r[2][2]
	}

	a := r[0][0] + r[1][1] + r[2][2] + 1
	var b, c, d float64
	if a > 0.5 {
		a = 0.5 * math.Sqrt(a)
		b = 0.25 * (r[2][1] - r[1][2]) / a
		c = 0.25 * (r[0][2] - r[2][0]) / a
		d = 0.25 * (r[1][0] - r[0][1]) / a
	} else {
		// Trace close to -1, pick the largest diagonal term.
		xd := 1 + r[0][0] - r[1][1] - r[2][2]
		yd := 1 + r[1][1] - r[0][0] - r[2][2]
		zd := 1 + r[2][2] - r[0][0] - r[1][1]
		switch {
		case xd > 1:
			b = 0.5 * math.Sqrt(xd)
			c = 0.25 * (r[0][1] + r[1][0]) / b
			d = 0.25 * (r[0][2] + r[2][0]) / b
			a = 0.25 * (r[2][1] - r[1][2]) / b
		case yd > 1:
			c = 0.5 * math.Sqrt(yd)
			b = 0.25 * (r[0][1] + r[1][0]) / c
			d = 0.25 * (r[1][2] + r[2][1]) / c
			a = 0.25 * (r[0][2] - r[2][0]) / c
		default:
			d = 0.5 * math.Sqrt(zd)
			b = 0.25 * (r[0][2] + r[2][0]) / d
			c = 0.25 * (r[1][2] + r[2][1]) / d
			a = 0.25 * (r[1][0] - r[0][1]) / d
		}
		if a < 0 {
			a, b, c, d = -a, -b, -c, -d
		}
	}
	q.B, q.C, q.D = b, c, d
	return q
}

// QuaternToMat44 rebuilds the rotation affine from quaternion parameters.
func QuaternToMat44(q Quatern) *mat.Dense {
	b, c, d := q.B, q.C, q.D
	a := 1 - b*b - c*c - d*d
	if a < 1e-7 {
		// Special case: 180 degree rotation.
		a = 1 / math.Sqrt(b*b+c*c+d*d)
		b *= a
		c *= a
		d *= a
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	xd, yd, zd := q.DX, q.DY, q.DZ
	if xd <= 0 {
		xd = 1
	}
	if yd <= 0 {
		yd = 1
	}
	if zd <= 0 {
		zd = 1
	}
	if q.QFac < 0 {
		zd = -zd
	}

	m := mat.NewDense(4, 4, []float64{
		(a*a + b*b - c*c - d*d) * xd, 2 * (b*c - a*d) * yd, 2 * (b*d + a*c) * zd, q.QX,
		2 * (b*c + a*d) * xd, (a*a + c*c - b*b - d*d) * yd, 2 * (c*d - a*b) * zd, q.QY,
		2 * (b*d - a*c) * xd, 2 * (c*d + a*b) * yd, (a*a + d*d - c*c - b*b) * zd, q.QZ,
		0, 0, 0, 1,
	})
	return m
}
