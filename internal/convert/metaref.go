package convert

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// RefEntry pairs one sidecar field with its resolution spec.
type RefEntry struct {
	Key  string
	Spec any
}

// MetaRef is an ordered table mapping sidecar fields to parameter specs.
type MetaRef struct {
	keys []string
	spec map[string]any
}

func NewMetaRef(entries ...RefEntry) *MetaRef {
	r := &MetaRef{spec: make(map[string]any, len(entries))}
	for _, e := range entries {
		r.Set(e.Key, e.Spec)
	}
	return r
}

// Set stores a spec, appending new keys at the end.
func (r *MetaRef) Set(key string, spec any) {
	if _, ok := r.spec[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.spec[key] = spec
}

func (r *MetaRef) Keys() []string {
	return append([]string(nil), r.keys...)
}

func (r *MetaRef) Spec(key string) (any, bool) {
	v, ok := r.spec[key]
	return v, ok
}

func (r *MetaRef) clone() *MetaRef {
	c := &MetaRef{
		keys: append([]string(nil), r.keys...),
		spec: make(map[string]any, len(r.spec)),
	}
	for k, v := range r.spec {
		c.spec[k] = v
	}
	return c
}

// merge appends the fields of other, rejecting keys already present.
func (r *MetaRef) merge(other *MetaRef, section string) error {
	if other == nil {
		return nil
	}
	for _, k := range other.keys {
		if _, ok := r.spec[k]; ok {
			return fmt.Errorf("duplicated key found at %s: %s", section, k)
		}
		r.Set(k, other.spec[k])
	}
	return nil
}

// RefSet bundles the metadata tables for a study: fields shared by every
// modality plus the functional and fieldmap supplements.
type RefSet struct {
	Common *MetaRef
	Func   *MetaRef
	Fmap   *MetaRef
}

func DefaultRefSet() *RefSet {
	return &RefSet{
		Common: DefaultCommonRef(),
		Func:   DefaultFuncRef(),
		Fmap:   DefaultFmapRef(),
	}
}

var (
	funcModalities = regexp.MustCompile(`^(bold|cbv|epi)$`)
	fmapModalities = regexp.MustCompile(`^(fieldmap|phase1|phase2|phasediff|magnitude|magnitude1|magnitude2)$`)
)

// ForModality builds the lookup table for one output modality.
func (rs *RefSet) ForModality(modality string) (*MetaRef, error) {
	if rs.Common == nil {
		return nil, fmt.Errorf("metadata reference has no common section")
	}
	ref := rs.Common.clone()
	if funcModalities.MatchString(modality) {
		if err := ref.merge(rs.Func, "func"); err != nil {
			return nil, err
		}
	}
	if fmapModalities.MatchString(modality) {
		if err := ref.merge(rs.Fmap, "fmap"); err != nil {
			return nil, err
		}
	}
	return ref, nil
}

// LoadRefSet reads a metadata reference written by the datasheet helper,
// keeping the field order of each section.
func LoadRefSet(path string) (*RefSet, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".json") {
		return nil, fmt.Errorf("metadata reference %s is not a json file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("metadata reference %s: %w", path, err)
	}
	rs := &RefSet{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		section, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("metadata reference %s: unexpected token %v", path, tok)
		}
		switch section {
		case "common":
			if rs.Common, err = decodeMetaRef(dec); err != nil {
				return nil, err
			}
		case "func":
			if rs.Func, err = decodeMetaRef(dec); err != nil {
				return nil, err
			}
		case "fmap":
			if rs.Fmap, err = decodeMetaRef(dec); err != nil {
				return nil, err
			}
		default:
			var skip any
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
		}
	}
	return rs, nil
}

func decodeMetaRef(dec *json.Decoder) (*MetaRef, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	ref := NewMetaRef()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v in metadata section", tok)
		}
		var spec any
		if err := dec.Decode(&spec); err != nil {
			return nil, err
		}
		ref.Set(key, spec)
	}
	if _, err := dec.Token(); err != nil { // closing brace
		return nil, err
	}
	return ref, nil
}

func expectDelim(dec *json.Decoder, want rune) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || rune(d) != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// WriteJSON writes the reference template consumed by the BIDS converter.
func (rs *RefSet) WriteJSON(w io.Writer) error {
	sections := []string{"common", "func", "fmap"}
	refs := map[string]*MetaRef{"common": rs.Common, "func": rs.Func, "fmap": rs.Fmap}
	return writeOrderedObject(w, sections, func(k string) any { return refs[k] }, 0)
}

// writeOrderedObject renders a JSON object with four space indent, keeping
// the given key order. Values that are themselves a MetaRef nest with their
// own order preserved.
func writeOrderedObject(w io.Writer, keys []string, get func(string) any, depth int) error {
	pad := strings.Repeat("    ", depth)
	if len(keys) == 0 {
		_, err := io.WriteString(w, "{}")
		return err
	}
	if _, err := io.WriteString(w, "{"); err != nil {
		return err
	}
	for i, k := range keys {
		if i > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"+pad+"    "); err != nil {
			return err
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		if _, err := w.Write(kb); err != nil {
			return err
		}
		if _, err := io.WriteString(w, ": "); err != nil {
			return err
		}
		v := get(k)
		if ref, ok := v.(*MetaRef); ok {
			if ref == nil {
				if _, err := io.WriteString(w, "null"); err != nil {
					return err
				}
			} else if err := writeOrderedObject(w, ref.keys, func(k string) any { return ref.spec[k] }, depth+1); err != nil {
				return err
			}
		} else {
			vb, err := json.MarshalIndent(v, pad+"    ", "    ")
			if err != nil {
				return err
			}
			if _, err := w.Write(vb); err != nil {
				return err
			}
		}
	}
	_, err := io.WriteString(w, "\n"+pad+"}")
	return err
}

// DefaultCommonRef lists the sidecar fields filled for every modality. Each
// spec follows the resolution language of metaValue.
func DefaultCommonRef() *MetaRef {
	return NewMetaRef(
		RefEntry{"Manufacturer", "VisuManufacturer"},
		RefEntry{"ManufacturersModelName", "VisuStation"},
		RefEntry{"DeviceSerialNumber", "VisuSystemOrderNumber"},
		RefEntry{"StationName", "VisuStation"},
		RefEntry{"SoftwareVersion", "VisuAcqSoftwareVersion"},
		RefEntry{"MagneticFieldStrength", map[string]any{
			"Freq":     "VisuAcqImagingFrequency",
			"Equation": "Freq / 42.576",
		}},
		RefEntry{"ReceiveCoilName", "VisuCoilReceiveName"},
		RefEntry{"ReceiveCoilActiveElements", "VisuCoilReceiveType"},
		RefEntry{"GradientSetType", "ACQ_status"},
		RefEntry{"MRTransmitCoilSequence", []any{
			"VisuCoilTransmitName",
			"VisuCoilTransmitManufacturer",
			"VisuCoilTransmitType",
		}},
		RefEntry{"CoilConfigName", "ACQ_coil_config_file"},
		RefEntry{"MatrixCoilMode", "ACQ_experiment_mode"},
		RefEntry{"CoilCombinationMethod", nil},
		RefEntry{"PulseSequenceType", "VisuAcqEchoSequenceType"},
		RefEntry{"ScanningSequence", "VisuAcqSequenceName"},
		RefEntry{"SequenceVariant", "VisuAcqEchoSequenceType"},
		RefEntry{"ScanOptions", map[string]any{
			"RG":  "VisuRespSynchUsed",
			"CG":  "VisuCardiacSynchUsed",
			"PFF": []any{map[string]any{"key": "VisuAcqPartialFourier", "idx": 0}, 0},
			"PFP": []any{map[string]any{"key": "VisuAcqPartialFourier", "idx": 1}, 0},
			"FC":  "VisuAcqFlowCompensation",
			"SP":  "PVM_FovSatOnOff",
			"FP":  "VisuAcqSpectralSuppression",
		}},
		RefEntry{"SequenceName", []any{"VisuAcquisitionProtocol", "ACQ_protocol_name"}},
		RefEntry{"PulseSequenceDetails", "ACQ_scan_name"},
		RefEntry{"NonlinearGradientCorrection", "VisuAcqKSpaceTraversal"},
		RefEntry{"NumberShots", "VisuAcqKSpaceTrajectoryCnt"},
		RefEntry{"ParallelReductionFactorInPlane", "ACQ_phase_factor"},
		RefEntry{"ParallelAcquisitionTechnique", nil},
		RefEntry{"PartialFourier", "VisuAcqPartialFourier"},
		RefEntry{"PartialFourierDirection", nil},
		RefEntry{"PhaseEncodingDirection", []any{
			map[string]any{"key": "VisuAcqGradEncoding", "where": "phase_enc"},
			"VisuAcqImagePhaseEncDir",
		}},
		RefEntry{"EffectiveEchoSpacing", map[string]any{
			"ETL":       "VisuAcqEchoTrainLength",
			"BWhzPixel": "VisuAcqPixelBandwidth",
			"ACCfactor": "ACQ_phase_factor",
			"Equation":  "(1000 * 1 / (ETL * BWhzPixel)) / ACCfactor",
		}},
		RefEntry{"TotalReadoutTime", ""},
		RefEntry{"EchoTime", "VisuAcqEchoTime"},
		RefEntry{"InversionTime", "VisuAcqInversionTime"},
		RefEntry{"SliceTiming", map[string]any{
			"TR":           "VisuAcqRepetitionTime",
			"Num_of_Slice": "VisuCoreFrameCount",
			"Order":        "ACQ_obj_order",
			"Equation":     "linspace(0, TR, Num_of_Slice + 1)[Order]",
		}},
		RefEntry{"SliceEncodingDirection", map[string]any{
			"key": "VisuAcqGradEncoding", "where": "slice_enc",
		}},
		RefEntry{"DwellTime", map[string]any{
			"BWhzPixel": "VisuAcqPixelBandwidth",
			"Equation":  "1 / BWhzPixel",
		}},
		RefEntry{"FlipAngle", "VisuAcqFlipAngle"},
		RefEntry{"MultibandAccerlationFactor", nil},
		RefEntry{"AnatomicalLandmarkCoordinates", nil},
		RefEntry{"InstitutionName", "VisuInstitution"},
		RefEntry{"InstitutionAddress", nil},
		RefEntry{"InstitutionalDepartmentName", nil},
	)
}

// DefaultFuncRef supplements functional scans.
func DefaultFuncRef() *MetaRef {
	return NewMetaRef(
		RefEntry{"TaskName", nil},
		RefEntry{"RepetitionTime", map[string]any{
			"TR":       "VisuAcqRepetitionTime",
			"Equation": "TR / 1000",
		}},
		RefEntry{"VolumeTiming", nil},
		RefEntry{"NumberOfVolumesDiscardedByScanner", "PVM_DummyScans"},
	)
}

// DefaultFmapRef supplements fieldmap scans.
func DefaultFmapRef() *MetaRef {
	return NewMetaRef(
		RefEntry{"Units", nil},
		RefEntry{"IntendedFor", nil},
		RefEntry{"EchoTime1", map[string]any{"key": "VisuAcqEchoTime", "idx": 0}},
		RefEntry{"EchoTime2", map[string]any{"key": "VisuAcqEchoTime", "idx": 1}},
	)
}
