// Package convert turns Bruker Paravision reconstructions into NIfTI-1
// volumes. It reorders the stored frames into spatial order, applies or
// records the vendor scaling, and derives a subject-based affine from the
// visu parameters.
package convert

import (
	"fmt"
	"regexp"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/mrsinham/brkraw/internal/jcampdx"
	"github.com/mrsinham/brkraw/internal/pvdataset"
)

var localizerPattern = regexp.MustCompile(`(?i)tripilot|localizer`)

// Converter reads reconstructions from a dataset and shapes them for output.
// The zero overrides keep the subject type and position recorded by the
// scanner.
type Converter struct {
	ds       *pvdataset.Dataset
	subjType string
	subjPose string
}

func New(ds *pvdataset.Dataset) *Converter {
	return &Converter{ds: ds}
}

func (c *Converter) Dataset() *pvdataset.Dataset { return c.ds }

// OverridePosition replaces the recorded subject position for all later
// conversions. The value must be <BodyPart>_<Side> with body parts Head,
// Foot or Tail and sides Supine, Prone, Left or Right.
func (c *Converter) OverridePosition(pose string) error {
	for _, p := range SubjectPositions {
		if p == pose {
			c.subjPose = pose
			return nil
		}
	}
	return fmt.Errorf("unknown position %q, expected <BodyPart>_<Side> with "+
		"body parts (Head, Foot, Tail) and sides (Supine, Prone, Left, Right)", pose)
}

// OverrideSubjectType replaces the recorded subject type for all later
// conversions.
func (c *Converter) OverrideSubjectType(subjType string) error {
	for _, t := range SubjectTypes {
		if t == subjType {
			c.subjType = subjType
			return nil
		}
	}
	return fmt.Errorf("unknown subject type %q, available options are (%s)",
		subjType, strings.Join(SubjectTypes, ", "))
}

// Crop bounds the frames kept on the last output axis. A nil edge leaves
// that side open.
type Crop struct {
	Start *int
	End   *int
}

// Options control scaling and frame cropping during conversion.
type Options struct {
	Slope  Rescale
	Offset Rescale
	Crop   *Crop
}

func (c *Converter) scanReco(scanID, recoID int) (*pvdataset.Scan, *pvdataset.Reco, error) {
	scan, err := c.ds.Scan(scanID)
	if err != nil {
		return nil, nil, err
	}
	reco, err := scan.Reco(recoID)
	if err != nil {
		return nil, nil, err
	}
	return scan, reco, nil
}

// IsLocalizer reports whether the acquisition protocol marks the scan as a
// scout image.
func (c *Converter) IsLocalizer(scanID, recoID int) (bool, error) {
	_, reco, err := c.scanReco(scanID, recoID)
	if err != nil {
		return false, err
	}
	visu := reco.VisuPars()
	if !visu.Has("VisuAcquisitionProtocol") {
		return false, nil
	}
	proto, err := visu.Text("VisuAcquisitionProtocol")
	if err != nil {
		return false, nil
	}
	return localizerPattern.MatchString(proto), nil
}

// SpatialOnly reports whether every dimension of the reconstruction is
// spatial. Spectroscopic and temporal axes disqualify it from image output.
func (c *Converter) SpatialOnly(scanID, recoID int) (bool, error) {
	_, reco, err := c.scanReco(scanID, recoID)
	if err != nil {
		return false, err
	}
	_, class, err := dimInfo(reco.VisuPars())
	if err != nil {
		return false, err
	}
	return class == dimSpatialOnly, nil
}

// EchoCount returns the echo count of a multi-echo reconstruction, zero for
// everything else.
func (c *Converter) EchoCount(scanID, recoID int) (int, error) {
	_, reco, err := c.scanReco(scanID, recoID)
	if err != nil {
		return 0, err
	}
	return multiEcho(reco.VisuPars())
}

// orientFor reads the orientation info with the converter overrides applied.
func (c *Converter) orientFor(visu, method *jcampdx.Parameters) (*orientation, error) {
	o, err := orientInfo(visu, method)
	if err != nil {
		return nil, err
	}
	if c.subjPose != "" {
		o.subjectPose = c.subjPose
	}
	if c.subjType != "" {
		o.subjectType = c.subjType
	}
	return o, nil
}

// affines builds one voxel-to-world transform per slice pack.
func (c *Converter) affines(visu, method *jcampdx.Parameters) ([]*mat.Dense, error) {
	order, err := diskSliceOrder(visu)
	if err != nil {
		return nil, err
	}
	reversed := order == diskOrderReverse
	slices, err := slicing(visu)
	if err != nil {
		return nil, err
	}
	sp, err := spatial(visu)
	if err != nil {
		return nil, err
	}
	o, err := c.orientFor(visu, method)
	if err != nil {
		return nil, err
	}

	if slices.numPacks > 1 {
		if reversed {
			return nil, fmt.Errorf("reverse disk slice order with multiple slice packs is not supported")
		}
		affs := make([]*mat.Dense, 0, slices.numPacks)
		for i := 0; i < slices.numPacks; i++ {
			pack := o.packs[i]
			so, err := sliceOrientName(pack.order)
			if err != nil {
				return nil, err
			}
			aff, err := buildAffine(sp.resol[i], pack.rmat, pack.pose, o.subjectPose, o.subjectType, so)
			if err != nil {
				return nil, err
			}
			affs = append(affs, aff)
		}
		return affs, nil
	}

	pack := o.packs[0]
	so, err := sliceOrientName(pack.order)
	if err != nil {
		return nil, err
	}
	pose := pack.pose
	if reversed {
		pose = reversedPoseCorrection(pose, pack.rmat, slices.distPer[0])
	}
	aff, err := buildAffine(sp.resol[0], pack.rmat, pose, o.subjectPose, o.subjectType, so)
	if err != nil {
		return nil, err
	}
	return []*mat.Dense{aff}, nil
}
