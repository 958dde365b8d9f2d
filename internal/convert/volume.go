package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gonum.org/v1/gonum/mat"

	"github.com/mrsinham/brkraw/internal/jcampdx"
	"github.com/mrsinham/brkraw/internal/nifti"
)

var (
	epiPattern = regexp.MustCompile(`(?i)epi`)
	dtiPattern = regexp.MustCompile(`(?i)dti`)
)

// Images converts one reconstruction. The result holds a single volume for
// ordinary scans, one volume per slice pack for multi-pack geometries, and
// one volume per echo for multi-echo scans.
func (c *Converter) Images(scanID, recoID int, opts Options) ([]*nifti.Image, error) {
	imgs, _, err := c.convertImages(scanID, recoID, opts)
	return imgs, err
}

// SaveNifti converts a reconstruction and writes it under dir with the given
// stem and extension. Conversions yielding several volumes get a -NN suffix.
// It returns the written paths.
func (c *Converter) SaveNifti(scanID, recoID int, opts Options, dir, stem, ext string) ([]string, error) {
	imgs, split, err := c.convertImages(scanID, recoID, opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var paths []string
	if split {
		for i, img := range imgs {
			p := filepath.Join(dir, fmt.Sprintf("%s-%02d.%s", stem, i+1, ext))
			if err := img.WriteFile(p); err != nil {
				return nil, err
			}
			paths = append(paths, p)
		}
		return paths, nil
	}
	p := filepath.Join(dir, fmt.Sprintf("%s.%s", stem, ext))
	if err := imgs[0].WriteFile(p); err != nil {
		return nil, err
	}
	return []string{p}, nil
}

func (c *Converter) convertImages(scanID, recoID int, opts Options) ([]*nifti.Image, bool, error) {
	scan, reco, err := c.scanReco(scanID, recoID)
	if err != nil {
		return nil, false, err
	}
	visu := reco.VisuPars()
	method := scan.Method()
	if visu == nil {
		return nil, false, fmt.Errorf("scan %d reco %d has no visu parameters", scanID, recoID)
	}

	affines, err := c.affines(visu, method)
	if err != nil {
		return nil, false, err
	}
	rv, err := dataSlope(visu)
	if err != nil {
		return nil, false, err
	}

	applySlope := opts.Slope == RescaleApply
	applyOffset := opts.Offset == RescaleApply
	// per-frame slopes cannot live in the header, force them into the data
	if rv.slopeVec != nil && opts.Slope != RescaleIgnore {
		applySlope = true
		if rv.offsetVec != nil && opts.Offset != RescaleIgnore {
			applyOffset = true
		}
	}
	slopePol := opts.Slope
	if applySlope {
		slopePol = RescaleApply
	}
	offsetPol := opts.Offset
	if applyOffset {
		offsetPol = RescaleApply
	}

	raw, err := reco.RawData()
	if err != nil {
		return nil, false, err
	}
	arr, dt, err := dataObj(visu, raw, applySlope, applyOffset)
	if err != nil {
		return nil, false, err
	}

	sp, err := spatial(visu)
	if err != nil {
		return nil, false, err
	}

	if len(affines) > 1 {
		slices, err := slicing(visu)
		if err != nil {
			return nil, false, err
		}
		imgs := make([]*nifti.Image, 0, len(affines))
		for p := range affines {
			start := p * slices.slicesPer[p]
			end := start + slices.slicesPer[p]
			seg, err := arr.sliceLast(start, end)
			if err != nil {
				return nil, false, err
			}
			img, err := c.buildImage(seg, dt, affines[p], sp.resol[p], visu, method, slopePol, offsetPol, rv)
			if err != nil {
				return nil, false, err
			}
			imgs = append(imgs, img)
		}
		return imgs, true, nil
	}

	nEcho, err := multiEcho(visu)
	if err != nil {
		return nil, false, err
	}
	if nEcho > 0 {
		imgs := make([]*nifti.Image, 0, nEcho)
		for e := 0; e < nEcho; e++ {
			sub, err := arr.takeLast(e)
			if err != nil {
				return nil, false, err
			}
			if sub, err = sub.collapseTo4D(); err != nil {
				return nil, false, err
			}
			if sub, err = cropLast(sub, opts.Crop); err != nil {
				return nil, false, err
			}
			img, err := c.buildImage(sub, dt, affines[0], sp.resol[0], visu, method, slopePol, offsetPol, rv)
			if err != nil {
				return nil, false, err
			}
			imgs = append(imgs, img)
		}
		return imgs, true, nil
	}

	if arr, err = arr.collapseTo4D(); err != nil {
		return nil, false, err
	}
	if arr, err = cropLast(arr, opts.Crop); err != nil {
		return nil, false, err
	}
	img, err := c.buildImage(arr, dt, affines[0], sp.resol[0], visu, method, slopePol, offsetPol, rv)
	if err != nil {
		return nil, false, err
	}
	return []*nifti.Image{img}, false, nil
}

func cropLast(a *array, crop *Crop) (*array, error) {
	if crop == nil || (crop.Start == nil && crop.End == nil) {
		return a, nil
	}
	last := a.shape[len(a.shape)-1]
	start, end := 0, last
	if crop.Start != nil {
		start = *crop.Start
	}
	if crop.End != nil {
		end = *crop.End
	}
	if start < 0 || end > last || start > end {
		return nil, fmt.Errorf("crop [%d:%d] out of range for %d frames", start, end, last)
	}
	return a.sliceLast(start, end)
}

func (c *Converter) buildImage(arr *array, dt int16, affine *mat.Dense, resol []float64,
	visu, method *jcampdx.Parameters, slopePol, offsetPol Rescale, rv *rescaleVals) (*nifti.Image, error) {

	payload, err := nifti.Encode(dt, arr.data)
	if err != nil {
		return nil, err
	}
	pixdim := make([]float64, len(arr.shape))
	for i := range pixdim {
		pixdim[i] = 1
	}
	for i := 0; i < len(resol) && i < len(pixdim); i++ {
		pixdim[i] = resol[i]
	}
	img, err := nifti.New(arr.shape, pixdim, dt, payload)
	if err != nil {
		return nil, err
	}
	img.SetAffine(affine)
	if err := finishHeader(img, visu, method, slopePol, offsetPol, rv); err != nil {
		return nil, err
	}
	return img, nil
}

// finishHeader fills the timing and scaling fields the way downstream fMRI
// tooling expects them.
func finishHeader(img *nifti.Image, visu, method *jcampdx.Parameters, slopePol, offsetPol Rescale, rv *rescaleVals) error {
	slices, err := slicing(visu)
	if err != nil {
		return err
	}
	temp, err := temporal(visu)
	if err != nil {
		return err
	}
	acqMethod := ""
	if method != nil && method.Has("Method") {
		acqMethod, _ = method.Text("Method")
	}

	if epiPattern.MatchString(acqMethod) && !dtiPattern.MatchString(acqMethod) {
		img.Header.XYZTUnits = nifti.UnitsMM | nifti.UnitsSec
		trSec := temp.resol / 1000
		img.Header.PixDim[4] = float32(trSec)
		// slice axis is the third spatial dimension
		img.Header.DimInfo = 3 << 4
		numSlices := slices.slicesPer[0]
		img.Header.SliceDuration = float32(trSec / float64(numSlices))

		scheme := ""
		if method != nil && method.Has("PVM_ObjOrderScheme") {
			scheme, _ = method.Text("PVM_ObjOrderScheme")
		}
		switch scheme {
		case "User_defined_slice_scheme", "Angiopraphy":
			img.Header.SliceCode = nifti.SliceUnknown
		case "Sequential":
			img.Header.SliceCode = nifti.SliceSeqInc
		case "Reverse_sequential":
			img.Header.SliceCode = nifti.SliceSeqDec
		case "Interlaced":
			img.Header.SliceCode = nifti.SliceAltInc
		case "Reverse_interlacesd":
			img.Header.SliceCode = nifti.SliceAltDec
		default:
			return fmt.Errorf("unsupported slice ordering scheme %q", scheme)
		}
		img.Header.SliceStart = 0
		img.Header.SliceEnd = int16(numSlices - 1)
	} else {
		img.Header.XYZTUnits = nifti.UnitsMM
	}

	switch slopePol {
	case RescaleHeader:
		if rv.slopeVec != nil {
			return fmt.Errorf("per-frame slope cannot be stored in the nifti header")
		}
		img.Header.SclSlope = float32(rv.slope)
	default:
		img.Header.SclSlope = 1
	}
	switch offsetPol {
	case RescaleHeader:
		if rv.offsetVec != nil {
			return fmt.Errorf("per-frame offset cannot be stored in the nifti header")
		}
		img.Header.SclInter = float32(rv.offset)
	default:
		img.Header.SclInter = 0
	}
	return nil
}
