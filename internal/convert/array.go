package convert

import "fmt"

// array is a column-major volume: the first axis varies fastest in the
// backing slice, matching both the 2dseq frame layout and the nifti1
// payload order. Axis swaps are views; materialize copies them out.
type array struct {
	data    []float64
	shape   []int
	strides []int
}

func newArray(data []float64, shape []int) (*array, error) {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d values, have %d", shape, n, len(data))
	}
	strides := make([]int, len(shape))
	acc := 1
	for i, s := range shape {
		strides[i] = acc
		acc *= s
	}
	return &array{data: data, shape: shape, strides: strides}, nil
}

func (a *array) ndim() int { return len(a.shape) }

func (a *array) size() int {
	n := 1
	for _, s := range a.shape {
		n *= s
	}
	return n
}

// swapAxes exchanges two axes without touching the data. Negative indices
// count from the end.
func (a *array) swapAxes(i, j int) {
	if i < 0 {
		i += len(a.shape)
	}
	if j < 0 {
		j += len(a.shape)
	}
	a.shape[i], a.shape[j] = a.shape[j], a.shape[i]
	a.strides[i], a.strides[j] = a.strides[j], a.strides[i]
}

// materialize returns a column-major contiguous copy honoring any axis
// swaps applied so far.
func (a *array) materialize() *array {
	out := make([]float64, a.size())
	idx := make([]int, len(a.shape))
	for i := range out {
		off := 0
		for d, v := range idx {
			off += v * a.strides[d]
		}
		out[i] = a.data[off]
		for d := 0; d < len(idx); d++ {
			idx[d]++
			if idx[d] < a.shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	shape := make([]int, len(a.shape))
	copy(shape, a.shape)
	res, _ := newArray(out, shape)
	return res
}

// isContiguous reports whether the view still matches column-major layout.
func (a *array) isContiguous() bool {
	acc := 1
	for i, s := range a.shape {
		if a.strides[i] != acc {
			return false
		}
		acc *= s
	}
	return true
}

// sliceLast narrows the final axis to [start, end). The receiver must be
// contiguous; the result shares the backing slice.
func (a *array) sliceLast(start, end int) (*array, error) {
	if !a.isContiguous() {
		return nil, fmt.Errorf("cannot slice a permuted view")
	}
	last := len(a.shape) - 1
	if start < 0 || end > a.shape[last] || start >= end {
		return nil, fmt.Errorf("slice [%d:%d) out of range for axis of %d", start, end, a.shape[last])
	}
	block := a.strides[last]
	shape := make([]int, len(a.shape))
	copy(shape, a.shape)
	shape[last] = end - start
	return newArray(a.data[start*block:end*block], shape)
}

// takeLast picks one index on the final axis and drops that axis.
func (a *array) takeLast(i int) (*array, error) {
	sub, err := a.sliceLast(i, i+1)
	if err != nil {
		return nil, err
	}
	return newArray(sub.data, sub.shape[:len(sub.shape)-1])
}

// collapseTo4D folds every axis past the third into a single frame axis.
// The receiver must be contiguous.
func (a *array) collapseTo4D() (*array, error) {
	if len(a.shape) <= 4 {
		return a, nil
	}
	if !a.isContiguous() {
		return nil, fmt.Errorf("cannot reshape a permuted view")
	}
	frames := 1
	for _, s := range a.shape[3:] {
		frames *= s
	}
	return newArray(a.data, []int{a.shape[0], a.shape[1], a.shape[2], frames})
}
