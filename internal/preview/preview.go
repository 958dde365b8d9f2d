// Package preview renders converted volumes as quick-look grayscale images.
// A render shows one slice (the middle one by default) or tiles every slice
// into a montage, with intensities windowed between robust percentiles so a
// few hot voxels cannot flatten the rest of the image. An optional label is
// stamped with an outlined bitmap face that stays readable on any
// background.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"sort"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/stat"

	"github.com/mrsinham/brkraw/internal/nifti"
)

// Default window percentiles.
const (
	defaultLowerQ = 0.02
	defaultUpperQ = 0.98
)

// Volume is the voxel payload to render: values with x varying fastest and
// the axis sizes, two to four of them.
type Volume struct {
	Data  []float64
	Shape []int
}

// FromNifti unpacks a converted image into a renderable volume.
func FromNifti(img *nifti.Image) (*Volume, error) {
	vals, err := img.Values()
	if err != nil {
		return nil, err
	}
	return &Volume{Data: vals, Shape: img.Shape()}, nil
}

// Options controls a render.
type Options struct {
	// Slice is the one-based slice to show. Zero picks the middle slice.
	Slice int
	// Volume is the one-based temporal frame for 4D data. Zero picks the
	// first.
	Volume int
	// Montage tiles every slice of the frame into one grid instead of
	// showing a single slice.
	Montage bool
	// Columns sets the montage grid width. Zero picks a near-square layout.
	Columns int
	// LowerQ and UpperQ are the window percentiles. Both zero means the
	// defaults; an explicit 0 and 1 selects the full intensity range.
	LowerQ float64
	UpperQ float64
	// Label, when set, is stamped onto the rendered image.
	Label string
}

// Render maps one slice or a montage of vol to an 8-bit grayscale image.
// The window is computed over the whole selected frame, so montage tiles
// share one intensity mapping.
func Render(vol *Volume, opts Options) (image.Image, error) {
	nx, ny, nz, nt, err := volumeDims(vol)
	if err != nil {
		return nil, err
	}

	ti := opts.Volume
	if ti == 0 {
		ti = 1
	}
	if ti < 1 || ti > nt {
		return nil, fmt.Errorf("volume %d out of range 1..%d", ti, nt)
	}
	data := vol.Data[(ti-1)*nx*ny*nz : ti*nx*ny*nz]

	lo, hi, err := window(data, opts.LowerQ, opts.UpperQ)
	if err != nil {
		return nil, err
	}

	var img *image.Gray
	if opts.Montage {
		cols := opts.Columns
		if cols == 0 {
			cols = int(math.Ceil(math.Sqrt(float64(nz))))
		}
		if cols < 1 {
			return nil, fmt.Errorf("montage needs at least one column, got %d", cols)
		}
		rows := (nz + cols - 1) / cols
		img = image.NewGray(image.Rect(0, 0, cols*nx, rows*ny))
		for k := 0; k < nz; k++ {
			drawSlice(img, (k%cols)*nx, (k/cols)*ny, data[k*nx*ny:], nx, ny, lo, hi)
		}
	} else {
		k := opts.Slice
		if k == 0 {
			k = nz/2 + 1
		}
		if k < 1 || k > nz {
			return nil, fmt.Errorf("slice %d out of range 1..%d", k, nz)
		}
		img = image.NewGray(image.Rect(0, 0, nx, ny))
		drawSlice(img, 0, 0, data[(k-1)*nx*ny:], nx, ny, lo, hi)
	}

	if opts.Label != "" {
		drawLabel(img, opts.Label)
	}
	return img, nil
}

// WritePNG encodes img into a PNG file at path.
func WritePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}

func volumeDims(vol *Volume) (nx, ny, nz, nt int, err error) {
	s := vol.Shape
	switch len(s) {
	case 2:
		nx, ny, nz, nt = s[0], s[1], 1, 1
	case 3:
		nx, ny, nz, nt = s[0], s[1], s[2], 1
	case 4:
		nx, ny, nz, nt = s[0], s[1], s[2], s[3]
	default:
		return 0, 0, 0, 0, fmt.Errorf("unsupported shape %v", s)
	}
	if nx < 1 || ny < 1 || nz < 1 || nt < 1 {
		return 0, 0, 0, 0, fmt.Errorf("degenerate shape %v", s)
	}
	if want := nx * ny * nz * nt; want != len(vol.Data) {
		return 0, 0, 0, 0, fmt.Errorf("shape %v does not cover %d voxels", s, len(vol.Data))
	}
	return nx, ny, nz, nt, nil
}

// window returns the display intensity bounds, clipped at percentiles of the
// frame unless the caller picked explicit ones.
func window(vals []float64, lowerQ, upperQ float64) (lo, hi float64, err error) {
	if upperQ == 0 {
		lowerQ, upperQ = defaultLowerQ, defaultUpperQ
	}
	if lowerQ < 0 || upperQ > 1 || lowerQ >= upperQ {
		return 0, 0, fmt.Errorf("window percentiles %g..%g out of order", lowerQ, upperQ)
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	lo = stat.Quantile(lowerQ, stat.Empirical, sorted, nil)
	hi = stat.Quantile(upperQ, stat.Empirical, sorted, nil)
	if hi <= lo {
		// Flat tails: fall back to the full range.
		lo = sorted[0]
		hi = sorted[len(sorted)-1]
	}
	return lo, hi, nil
}

func drawSlice(dst *image.Gray, ox, oy int, data []float64, nx, ny int, lo, hi float64) {
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			dst.SetGray(ox+x, oy+y, color.Gray{Y: grayLevel(data[y*nx+x], lo, hi)})
		}
	}
}

func grayLevel(v, lo, hi float64) uint8 {
	if hi <= lo {
		return 0
	}
	t := (v - lo) / (hi - lo)
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return uint8(math.Round(t * 255))
}

// drawLabel stamps text into the top-left corner. The glyphs are rendered at
// the bitmap size, scaled toward a third of the image width, and stamped
// twice: a black disc-shaped outline pass first, then the white fill.
func drawLabel(dst *image.Gray, text string) {
	face := basicfont.Face7x13
	baseWidth := font.MeasureString(face, text).Ceil()
	baseHeight := 13
	if baseWidth == 0 {
		return
	}

	textImg := image.NewRGBA(image.Rect(0, 0, baseWidth, baseHeight))
	drawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: face,
		Dot:  fixed.Point26_6{Y: fixed.I(baseHeight)},
	}
	drawer.DrawString(text)

	width := dst.Bounds().Dx()
	scale := float64(width) * 0.3 / float64(baseWidth)
	if scale < 1 {
		scale = 1
	}
	scaledWidth := int(float64(baseWidth) * scale)
	scaledHeight := int(float64(baseHeight) * scale)
	scaledText := image.NewRGBA(image.Rect(0, 0, scaledWidth, scaledHeight))
	draw.BiLinear.Scale(scaledText, scaledText.Bounds(), textImg, textImg.Bounds(), draw.Over, nil)

	const margin = 4
	thickness := max(2, scaledHeight/10)
	for dx := -thickness; dx <= thickness; dx++ {
		for dy := -thickness; dy <= thickness; dy++ {
			if dx*dx+dy*dy > thickness*thickness {
				continue
			}
			stamp(dst, scaledText, margin+dx, margin+dy, false)
		}
	}
	stamp(dst, scaledText, margin, margin, true)
}

// stamp writes the covered mask pixels into dst at an offset. The fill pass
// copies the mask brightness, keeping scaled glyph edges soft; the outline
// pass paints solid black.
func stamp(dst *image.Gray, mask *image.RGBA, x0, y0 int, fill bool) {
	bounds := dst.Bounds()
	mb := mask.Bounds()
	for sy := 0; sy < mb.Dy(); sy++ {
		for sx := 0; sx < mb.Dx(); sx++ {
			r, g, b, a := mask.At(sx, sy).RGBA()
			if a == 0 {
				continue
			}
			x, y := x0+sx, y0+sy
			if x < bounds.Min.X || x >= bounds.Max.X || y < bounds.Min.Y || y >= bounds.Max.Y {
				continue
			}
			level := uint8(0)
			if fill {
				level = uint8((r + g + b) / 3 / 256)
			}
			dst.SetGray(x, y, color.Gray{Y: level})
		}
	}
}
