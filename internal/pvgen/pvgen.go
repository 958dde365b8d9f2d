// Package pvgen writes small synthetic ParaVision studies for tests. The
// generated trees carry enough of the parameter surface (subject, method,
// acqp, visu_pars) plus deterministic 2dseq bytes to exercise the accessor,
// the converter, and the CLI without shipping scanner data.
package pvgen

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScanKind selects the pulse program family of a generated scan.
type ScanKind int

const (
	// KindAnat is a FLASH/RARE structural scan.
	KindAnat ScanKind = iota
	// KindFunc is an EPI scan with repetitions.
	KindFunc
	// KindDTI is a diffusion EPI scan with b-values and gradient vectors.
	KindDTI
	// KindFieldmap is a field map scan with a two-echo frame group.
	KindFieldmap
	// KindLocalizer is a tripilot scout scan.
	KindLocalizer
	// KindMultiEcho is an MSME scan with one frame group level per echo.
	KindMultiEcho
)

// ScanSpec describes one generated scan.
type ScanSpec struct {
	ID       int
	Kind     ScanKind
	Protocol string
	Method   string
	Size     [2]int
	NSlices  int
	NReps    int
	NDirs    int
	NEchoes  int
	TR       float64
	TE       float64
	WithFID  bool
	Recos    []int
}

// Options describes one generated study.
type Options struct {
	SubjectID   string
	StudyNr     int
	SessionName string
	SubjectType string
	Position    string
	Entry       string
	Seed        uint64
	Scans       []ScanSpec
}

// DefaultOptions returns a small three-scan study: a localizer, a RARE
// anatomical, and an EPI functional run.
func DefaultOptions() Options {
	return Options{
		SubjectID:   "rat01",
		StudyNr:     1,
		SessionName: "ses01",
		SubjectType: "Quadruped",
		Position:    "supine",
		Entry:       "HeadFirst",
		Seed:        42,
		Scans: []ScanSpec{
			{ID: 1, Kind: KindLocalizer, Protocol: "Tripilot", Method: "Bruker:FLASH",
				Size: [2]int{64, 64}, NSlices: 3, TR: 100, TE: 2.5},
			{ID: 2, Kind: KindAnat, Protocol: "T2_TurboRARE", Method: "Bruker:RARE",
				Size: [2]int{64, 64}, NSlices: 9, TR: 2500, TE: 33, WithFID: true},
			{ID: 3, Kind: KindFunc, Protocol: "EPI_fMRI", Method: "Bruker:EPI",
				Size: [2]int{32, 32}, NSlices: 9, NReps: 5, TR: 1500, TE: 15, WithFID: true},
		},
	}
}

// Write generates the study tree under dir, creating it if needed.
func Write(dir string, o Options) error {
	files, order, err := build(o)
	if err != nil {
		return err
	}
	for _, rel := range order {
		abs := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("create fixture directory: %w", err)
		}
		if err := os.WriteFile(abs, files[rel], 0o644); err != nil {
			return fmt.Errorf("write fixture file: %w", err)
		}
	}
	return nil
}

// WriteZip generates the study as a zip archive with rootName as the top
// level folder, matching how the scanner exports archives.
func WriteZip(zipPath, rootName string, o Options) error {
	files, order, err := build(o)
	if err != nil {
		return err
	}
	f, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, rel := range order {
		w, err := zw.Create(rootName + "/" + rel)
		if err != nil {
			return fmt.Errorf("create archive entry: %w", err)
		}
		if _, err := w.Write(files[rel]); err != nil {
			return fmt.Errorf("write archive entry: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func build(o Options) (map[string][]byte, []string, error) {
	if o.SubjectID == "" {
		o.SubjectID = "subj"
	}
	if o.SubjectType == "" {
		o.SubjectType = "Quadruped"
	}
	if o.Position == "" {
		o.Position = "supine"
	}
	if o.Entry == "" {
		o.Entry = "HeadFirst"
	}

	files := make(map[string][]byte)
	files["subject"] = subjectFile(o)

	for _, s := range o.Scans {
		if s.Size[0] == 0 || s.Size[1] == 0 {
			return nil, nil, fmt.Errorf("scan %d has no matrix size", s.ID)
		}
		if s.NSlices == 0 {
			s.NSlices = 1
		}
		if len(s.Recos) == 0 {
			s.Recos = []int{1}
		}
		prefix := fmt.Sprintf("%d", s.ID)
		files[prefix+"/method"] = methodFile(s)
		files[prefix+"/acqp"] = acqpFile(s)
		if s.WithFID {
			files[prefix+"/fid"] = fidBytes(o.Seed, s)
		}
		for _, recoID := range s.Recos {
			recoDir := fmt.Sprintf("%s/pdata/%d", prefix, recoID)
			files[recoDir+"/visu_pars"] = visuFile(o, s)
			files[recoDir+"/reco"] = recoFile(s)
			files[recoDir+"/2dseq"] = seqBytes(o.Seed, s, recoID)
		}
	}

	order := make([]string, 0, len(files))
	for rel := range files {
		order = append(order, rel)
	}
	sort.Strings(order)
	return files, order, nil
}

// frameCount returns the number of 2dseq frames for a scan spec.
func frameCount(s ScanSpec) int {
	n := s.NSlices
	switch s.Kind {
	case KindFunc:
		if s.NReps > 1 {
			n *= s.NReps
		}
	case KindDTI:
		if s.NDirs > 1 {
			n *= s.NDirs
		}
	case KindFieldmap:
		n *= 2
	case KindMultiEcho:
		if s.NEchoes > 1 {
			n *= s.NEchoes
		}
	}
	return n
}

func seed(base uint64, parts ...int) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d", base)
	for _, p := range parts {
		fmt.Fprintf(h, "/%d", p)
	}
	return h.Sum64()
}

// seqBytes produces deterministic little-endian int16 image data: a ramp
// per frame with mild seeded noise, bounded to 12 bits like scanner output.
func seqBytes(base uint64, s ScanSpec, recoID int) []byte {
	x, y := s.Size[0], s.Size[1]
	frames := frameCount(s)
	sd := seed(base, s.ID, recoID)
	rng := rand.New(rand.NewPCG(sd, sd))

	buf := make([]byte, x*y*frames*2)
	i := 0
	for f := 0; f < frames; f++ {
		for row := 0; row < y; row++ {
			for col := 0; col < x; col++ {
				v := (col*4095)/x + row + f*7 + int(rng.Uint64N(32))
				if v > 4095 {
					v = 4095
				}
				binary.LittleEndian.PutUint16(buf[i:], uint16(v))
				i += 2
			}
		}
	}
	return buf
}

func fidBytes(base uint64, s ScanSpec) []byte {
	sd := seed(base, s.ID)
	rng := rand.New(rand.NewPCG(sd, sd))
	n := s.Size[0] * s.Size[1] * s.NSlices * 2
	buf := make([]byte, n*4)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(rng.Int32N(1<<20)))
	}
	return buf
}

func kindLabel(k ScanKind) string {
	switch k {
	case KindFunc:
		return "EPI"
	case KindDTI:
		return "DtiEpi"
	case KindFieldmap:
		return "FieldMap"
	case KindLocalizer:
		return "FLASH"
	case KindMultiEcho:
		return "MSME"
	default:
		return "RARE"
	}
}

func protocolOrDefault(s ScanSpec) string {
	if s.Protocol != "" {
		return s.Protocol
	}
	return kindLabel(s.Kind)
}

func methodOrDefault(s ScanSpec) string {
	if s.Method != "" {
		return s.Method
	}
	return "Bruker:" + kindLabel(s.Kind)
}

func joinFloats(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = trimFloat(v)
	}
	return strings.Join(parts, " ")
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%g", v)
	return s
}
