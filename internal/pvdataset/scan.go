package pvdataset

import (
	"fmt"
	"io"
	"sort"

	"github.com/mrsinham/brkraw/internal/jcampdx"
)

// Scan is one acquired measurement within a study.
type Scan struct {
	id     int
	rel    string
	method *jcampdx.Parameters
	acqp   *jcampdx.Parameters
	fidRel string
	recos  map[int]*Reco
	ds     *Dataset
}

// ID returns the scan number.
func (s *Scan) ID() int { return s.id }

// Method returns the method parameters, nil when the file was absent.
func (s *Scan) Method() *jcampdx.Parameters { return s.method }

// Acqp returns the acqp parameters, nil when the file was absent.
func (s *Scan) Acqp() *jcampdx.Parameters { return s.acqp }

// HasFID reports whether raw k-space data exists for this scan.
func (s *Scan) HasFID() bool { return s.fidRel != "" }

// FID opens the raw k-space blob for streaming. The caller closes it.
func (s *Scan) FID() (io.ReadCloser, error) {
	if s.fidRel == "" {
		return nil, fmt.Errorf("scan %d has no raw k-space data", s.id)
	}
	return s.ds.src.reader(s.fidRel)
}

// Recos returns sorted reconstruction ids with visu_pars available.
func (s *Scan) Recos() []int {
	ids := s.availRecos()
	sort.Ints(ids)
	return ids
}

func (s *Scan) availRecos() []int {
	var ids []int
	for id, r := range s.recos {
		if r.visu != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Reco returns the reconstruction with the given id.
func (s *Scan) Reco(id int) (*Reco, error) {
	r, ok := s.recos[id]
	if !ok {
		return nil, fmt.Errorf("reco %d not found in scan %d", id, s.id)
	}
	return r, nil
}

// Reco is one reconstruction variant of a scan.
type Reco struct {
	id         int
	visu       *jcampdx.Parameters
	recoParams *jcampdx.Parameters
	dataRel    string
	scan       *Scan
}

// ID returns the reconstruction number.
func (r *Reco) ID() int { return r.id }

// VisuPars returns the reconstruction's visu_pars parameters.
func (r *Reco) VisuPars() *jcampdx.Parameters { return r.visu }

// RecoParams returns the reco parameter file, nil when absent.
func (r *Reco) RecoParams() *jcampdx.Parameters { return r.recoParams }

// HasData reports whether image bytes exist for this reconstruction.
func (r *Reco) HasData() bool { return r.dataRel != "" }

// RawData reads the full 2dseq image byte blob.
func (r *Reco) RawData() ([]byte, error) {
	if r.dataRel == "" {
		return nil, fmt.Errorf("reco %d of scan %d has no image data", r.id, r.scan.id)
	}
	b, err := r.scan.ds.src.bytes(r.dataRel)
	if err != nil {
		return nil, fmt.Errorf("read image data: %w", err)
	}
	return b, nil
}
