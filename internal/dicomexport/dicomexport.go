// Package dicomexport writes converted reconstructions as classic
// single-frame MR Image Storage series. Every slice of every volume becomes
// one file; UIDs derive from a caller seed so repeated exports of the same
// data produce identical identifiers.
package dicomexport

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/mat"

	"github.com/mrsinham/brkraw/internal/nifti"
)

// Volume is one converted image volume: voxel values with x varying fastest,
// the axis sizes, and the RAS voxel-to-world affine.
type Volume struct {
	Data   []float64
	Shape  []int
	Affine *mat.Dense
}

// FromNifti unpacks a converted image into an export volume.
func FromNifti(img *nifti.Image) (*Volume, error) {
	vals, err := img.Values()
	if err != nil {
		return nil, err
	}
	return &Volume{Data: vals, Shape: img.Shape(), Affine: img.Affine()}, nil
}

// Options controls an export run.
type Options struct {
	// Seed namespaces the generated UIDs. Empty defaults to the output
	// directory path, so re-exports into the same place stay stable.
	Seed string
	// Workers bounds the parallel file writes. Zero means NumCPU.
	Workers int
	// Progress, when set, is called after each completed file.
	Progress func(done, total int)
}

type sliceTask struct {
	index    int
	filePath string
	metadata []*dicom.Element
	data     []float64
	offset   int
	width    int
	height   int
	scale    volumeScale
}

// Export writes one DICOM file per slice of each volume into outDir. Each
// volume becomes its own series; temporal frames of 4D volumes repeat the
// slice loop under increasing acquisition numbers. It returns the written
// paths in instance order.
func Export(vols []*Volume, meta Meta, outDir string, opts Options) ([]string, error) {
	if len(vols) == 0 {
		return nil, fmt.Errorf("no volumes to export")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	seed := opts.Seed
	if seed == "" {
		seed = outDir
	}
	studyUID := deterministicUID(seed + "_study")
	frameUID := deterministicUID(seed + "_frame")

	seriesBase := meta.SeriesNumber
	if seriesBase <= 0 {
		seriesBase = 1
	}

	// Phase 1: assemble the per-slice metadata and tasks.
	var tasks []sliceTask
	globalIndex := 1
	for vi, vol := range vols {
		nx, ny, nz, nt, err := volumeDims(vol)
		if err != nil {
			return nil, fmt.Errorf("volume %d: %w", vi+1, err)
		}
		geom, err := volumeGeometry(vol.Affine)
		if err != nil {
			return nil, fmt.Errorf("volume %d: %w", vi+1, err)
		}
		scale := newVolumeScale(vol.Data)

		seriesNumber := seriesBase + vi
		seriesUID := deterministicUID(fmt.Sprintf("%s_series_%d", seed, seriesNumber))
		echoTime := meta.EchoTime
		if len(meta.EchoTimes) == len(vols) && len(vols) > 1 {
			echoTime = meta.EchoTimes[vi]
		}

		instance := 1
		for t := 0; t < nt; t++ {
			for k := 0; k < nz; k++ {
				elements := sliceElements(slicePlan{
					meta:         meta,
					studyUID:     studyUID,
					frameUID:     frameUID,
					seriesUID:    seriesUID,
					seriesNumber: seriesNumber,
					echoTime:     echoTime,
					width:        nx,
					height:       ny,
					scale:        scale,
					geom:         geom,
					slice:        k,
					acquisition:  t + 1,
					instance:     instance,
					sopUID: deterministicUID(fmt.Sprintf("%s_series_%d_instance_%d",
						seed, seriesNumber, instance)),
				})
				tasks = append(tasks, sliceTask{
					index:    globalIndex,
					filePath: filepath.Join(outDir, fmt.Sprintf("IMG%04d.dcm", globalIndex)),
					metadata: elements,
					data:     vol.Data,
					offset:   (t*nz + k) * nx * ny,
					width:    nx,
					height:   ny,
					scale:    scale,
				})
				instance++
				globalIndex++
			}
		}
	}

	// Phase 2: render and write the files in parallel.
	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > len(tasks) {
		numWorkers = len(tasks)
	}

	taskChan := make(chan sliceTask, len(tasks))
	resultChan := make(chan struct {
		index int
		err   error
	}, len(tasks))

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				err := writeSliceFromTask(task)
				resultChan <- struct {
					index int
					err   error
				}{task.index, err}
			}
		}()
	}
	for _, task := range tasks {
		taskChan <- task
	}
	close(taskChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	completed := 0
	var firstErr error
	for result := range resultChan {
		if result.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("write slice %d: %w", result.index, result.err)
		}
		completed++
		if opts.Progress != nil {
			opts.Progress(completed, len(tasks))
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	paths := make([]string, len(tasks))
	for i, task := range tasks {
		paths[i] = task.filePath
	}
	return paths, nil
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

// writeSliceFromTask renders the stored pixel values of one slice and writes
// the complete dataset.
func writeSliceFromTask(task sliceTask) error {
	width, height := task.width, task.height
	pixelsPerFrame := width * height

	nativeFrame := frame.NewNativeFrame[uint16](16, height, width, pixelsPerFrame, 1)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			nativeFrame.RawData[y*width+x] = task.scale.stored(task.data[task.offset+y*width+x])
		}
	}
	pixelDataInfo := dicom.PixelDataInfo{
		Frames: []*frame.Frame{
			{
				Encapsulated: false,
				NativeData:   nativeFrame,
			},
		},
	}

	elements := make([]*dicom.Element, len(task.metadata)+1)
	copy(elements, task.metadata)
	elements[len(task.metadata)] = mustNewElement(tag.PixelData, pixelDataInfo)

	return writeDatasetToFile(task.filePath, dicom.Dataset{Elements: elements})
}

func writeDatasetToFile(filename string, ds dicom.Dataset) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return dicom.Write(f, ds)
}

// volumeScale maps voxel values onto the stored 12-bit range. Real values
// come back as stored*slope + intercept.
type volumeScale struct {
	lo        float64
	hi        float64
	slope     float64
	intercept float64
}

func newVolumeScale(vals []float64) volumeScale {
	sc := volumeScale{slope: 1}
	if len(vals) == 0 {
		return sc
	}
	sc.lo, sc.hi = vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < sc.lo {
			sc.lo = v
		}
		if v > sc.hi {
			sc.hi = v
		}
	}
	sc.intercept = sc.lo
	if span := sc.hi - sc.lo; span > 0 {
		sc.slope = span / float64(maxStoredValue)
	}
	return sc
}

func (sc volumeScale) stored(v float64) uint16 {
	s := math.Round((v - sc.intercept) / sc.slope)
	if s < 0 {
		s = 0
	}
	if s > maxStoredValue {
		s = maxStoredValue
	}
	return uint16(s)
}
