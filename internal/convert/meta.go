package convert

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/brkraw/internal/jcampdx"
)

// Sidecar condition codes used when one scan yields several output files.
const (
	CondMultiEcho = "me"
	CondFieldmap  = "fm"
)

// Condition tailors a sidecar to one output file: CondMultiEcho picks the
// echo time for the given echo, CondFieldmap attaches units and intent.
type Condition struct {
	Code string
	Echo int
}

// Sidecar is an ordered set of BIDS sidecar fields.
type Sidecar struct {
	keys []string
	vals map[string]any
}

func newSidecar() *Sidecar {
	return &Sidecar{vals: make(map[string]any)}
}

// Set stores a field, appending new keys at the end.
func (s *Sidecar) Set(key string, val any) {
	if _, ok := s.vals[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.vals[key] = val
}

func (s *Sidecar) Get(key string) (any, bool) {
	v, ok := s.vals[key]
	return v, ok
}

func (s *Sidecar) Delete(key string) {
	if _, ok := s.vals[key]; !ok {
		return
	}
	delete(s.vals, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
}

func (s *Sidecar) Keys() []string {
	return append([]string(nil), s.keys...)
}

// WriteJSON writes the fields in insertion order with four space indent.
func (s *Sidecar) WriteJSON(w io.Writer) error {
	return writeOrderedObject(w, s.keys, func(k string) any { return s.vals[k] }, 0)
}

// Sidecar resolves the metadata reference against the scan parameters. A nil
// ref uses the built-in common table.
func (c *Converter) Sidecar(scanID, recoID int, ref *MetaRef) (*Sidecar, error) {
	scan, reco, err := c.scanReco(scanID, recoID)
	if err != nil {
		return nil, err
	}
	acqp, method, visu := scan.Acqp(), scan.Method(), reco.VisuPars()
	if ref == nil {
		ref = DefaultCommonRef()
	}
	sc := newSidecar()
	for _, k := range ref.keys {
		val := metaValue(ref.spec[k], acqp, method, visu)
		if k == "PhaseEncodingDirection" || k == "SliceEncodingDirection" {
			if val, err = bidsEncDir(val); err != nil {
				return nil, err
			}
		}
		sc.Set(k, val)
	}
	return sc, nil
}

// SaveJSON writes the sidecar for one output file under dir.
func (c *Converter) SaveJSON(scanID, recoID int, dir, stem string, ref *MetaRef, cond *Condition) error {
	sc, err := c.Sidecar(scanID, recoID, ref)
	if err != nil {
		return err
	}
	if cond != nil {
		switch cond.Code {
		case CondMultiEcho:
			if te, ok := sc.Get("EchoTime"); ok {
				list, isList := te.([]any)
				if !isList {
					return fmt.Errorf("cannot pick echo %d from a single echo time", cond.Echo+1)
				}
				if cond.Echo < 0 || cond.Echo >= len(list) {
					return fmt.Errorf("echo %d out of range for %d echo times", cond.Echo+1, len(list))
				}
				sc.Set("EchoTime", list[cond.Echo])
			}
		case CondFieldmap:
			_, reco, err := c.scanReco(scanID, recoID)
			if err != nil {
				return err
			}
			if u, err := firstString(reco.VisuPars(), "VisuCoreDataUnits"); err == nil {
				sc.Set("Units", u)
			}
			sc.Set("IntendFor", []any{"func/*_bold.nii.gz"})
		default:
			return fmt.Errorf("invalid condition code %q for json creation", cond.Code)
		}
	}

	for _, k := range sc.Keys() {
		if v, _ := sc.Get(k); v == nil {
			sc.Set(k, "Value was not specified")
		}
	}

	// RepetitionTime and VolumeTiming are mutually exclusive in BIDS
	if rt, ok := sc.Get("RepetitionTime"); ok {
		if _, both := sc.Get("VolumeTiming"); both {
			switch rt.(type) {
			case int, float64:
				sc.Delete("VolumeTiming")
				log.Warn("both RepetitionTime and VolumeTiming are set, dropped VolumeTiming to keep the sidecar valid")
			}
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, stem+".json"))
	if err != nil {
		return err
	}
	defer f.Close()
	if err := sc.WriteJSON(f); err != nil {
		return err
	}
	return f.Close()
}

// PrintBids writes the resolved sidecar fields as aligned key value lines.
func (c *Converter) PrintBids(w io.Writer, scanID, recoID int, ref *MetaRef) error {
	sc, err := c.Sidecar(scanID, recoID, ref)
	if err != nil {
		return err
	}
	for _, k := range sc.keys {
		n := 5 - len(k)/8
		if len(k)%8 >= 7 {
			n--
		}
		if n < 0 {
			n = 0
		}
		if _, err := fmt.Fprintf(w, "%s:%s%s\n", k, strings.Repeat("\t", n), displayValue(sc.vals[k])); err != nil {
			return err
		}
	}
	return nil
}

func displayValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case string:
		return t
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = displayValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		var parts []string
		for k, e := range t {
			parts = append(parts, fmt.Sprintf("%s: %s", k, displayValue(e)))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// metaValue resolves one reference spec. Strings name parameters and fall
// back to themselves, lists try alternatives in order, maps select by key
// and position or evaluate an equation.
func metaValue(spec any, acqp, method, visu *jcampdx.Parameters) any {
	switch s := spec.(type) {
	case string:
		return metaSource(s, acqp, method, visu)
	case map[string]any:
		_, hasKey := s["key"]
		_, hasWhere := s["where"]
		_, hasIdx := s["idx"]
		_, hasEq := s["Equation"]
		switch {
		case hasKey && hasWhere:
			return metaWhere(s, acqp, method, visu)
		case hasKey && hasIdx:
			return metaIndex(s, acqp, method, visu)
		case hasEq:
			return metaExpress(s, acqp, method, visu)
		default:
			out := make(map[string]any, len(s))
			for k, v := range s {
				out[k] = metaValue(v, acqp, method, visu)
			}
			return out
		}
	case []any:
		var picked []any
		last := len(s) - 1
		for i, vi := range s {
			val := metaValue(vi, acqp, method, visu)
			if val == nil {
				continue
			}
			if reflect.DeepEqual(val, vi) {
				// unresolved literal, keep only as the final fallback
				if i == last {
					picked = append(picked, val)
				}
			} else {
				picked = append(picked, val)
			}
		}
		if len(picked) > 0 {
			return picked[0]
		}
		return nil
	default:
		return spec
	}
}

// metaSource looks a parameter up in acqp, then method, then visu. Unknown
// names resolve to themselves so callers can chain literal fallbacks.
func metaSource(key string, acqp, method, visu *jcampdx.Parameters) any {
	for _, p := range []*jcampdx.Parameters{acqp, method, visu} {
		if p == nil {
			continue
		}
		if v, ok := p.Get(key); ok {
			return paramValue(v)
		}
	}
	return key
}

func metaWhere(spec map[string]any, acqp, method, visu *jcampdx.Parameters) any {
	val := metaValue(spec["key"], acqp, method, visu)
	if val == nil {
		return nil
	}
	where := spec["where"]
	if w, isStr := where.(string); isStr {
		switch v := val.(type) {
		case string:
			if i := strings.Index(v, w); i >= 0 {
				return i
			}
			return nil
		case []any:
			for i, e := range v {
				if reflect.DeepEqual(e, any(w)) {
					return i
				}
			}
			return nil
		default:
			return nil
		}
	}
	resolved := metaValue(where, acqp, method, visu)
	if resolved == nil {
		return nil
	}
	if list, ok := val.([]any); ok {
		for i, e := range list {
			if reflect.DeepEqual(e, resolved) {
				return i
			}
		}
	}
	return nil
}

func metaIndex(spec map[string]any, acqp, method, visu *jcampdx.Parameters) any {
	val := metaValue(spec["key"], acqp, method, visu)
	if val == nil {
		return nil
	}
	// an unresolved parameter name has nothing to index into
	if keySpec, ok := spec["key"].(string); ok {
		if s, isStr := val.(string); isStr && s == keySpec {
			return nil
		}
	}
	idx, ok := asInt(spec["idx"])
	if !ok {
		resolved := metaValue(spec["idx"], acqp, method, visu)
		if idx, ok = asInt(resolved); !ok {
			return nil
		}
	}
	switch v := val.(type) {
	case []any:
		if idx < 0 || idx >= len(v) {
			return nil
		}
		return v[idx]
	case string:
		r := []rune(v)
		if idx < 0 || idx >= len(r) {
			return nil
		}
		return string(r[idx])
	default:
		return nil
	}
}

func metaExpress(spec map[string]any, acqp, method, visu *jcampdx.Parameters) any {
	eq, ok := spec["Equation"].(string)
	if !ok {
		return nil
	}
	vars := make(map[string]any, len(spec)-1)
	for k, v := range spec {
		if k == "Equation" {
			continue
		}
		vars[k] = metaValue(v, acqp, method, visu)
	}
	out, err := evalExpr(eq, vars)
	if err != nil {
		return nil
	}
	return out
}

// paramValue converts a parsed parameter into the plain value domain the
// metadata specs operate on.
func paramValue(v jcampdx.Value) any {
	switch v.Kind() {
	case jcampdx.KindInt:
		n, _ := v.Int()
		return n
	case jcampdx.KindFloat:
		f, _ := v.Float()
		return f
	case jcampdx.KindString:
		s, _ := v.Text()
		return s
	case jcampdx.KindIntArray:
		ns, _ := v.Ints()
		out := make([]any, len(ns))
		for i, n := range ns {
			out[i] = n
		}
		return out
	case jcampdx.KindFloatArray:
		fs, _ := v.Floats()
		out := make([]any, len(fs))
		for i, f := range fs {
			out[i] = f
		}
		return out
	case jcampdx.KindStringArray:
		ss, _ := v.Strings()
		out := make([]any, len(ss))
		for i, s := range ss {
			out[i] = s
		}
		return out
	case jcampdx.KindTuples:
		rows, _ := v.Tuples()
		out := make([]any, len(rows))
		for i, row := range rows {
			out[i] = append([]any(nil), row...)
		}
		return out
	default:
		return nil
	}
}

var encDirLetters = [3]string{"i", "j", "k"}

// bidsEncDir rewrites an encoding direction value into the BIDS letter
// convention. Axis indexes map directly, Paravision 5 direction codes are
// translated through their axis layout.
func bidsEncDir(val any) (any, error) {
	switch v := val.(type) {
	case nil:
		return nil, nil
	case int:
		if v < 0 || v >= len(encDirLetters) {
			return nil, fmt.Errorf("encoding axis %d out of range", v)
		}
		return encDirLetters[v], nil
	case []any:
		if len(v) == 0 {
			return nil, nil
		}
		if allSameAny(v) {
			return v[0], nil
		}
		out := make([]any, 0, len(v))
		for _, e := range v {
			switch t := e.(type) {
			case int:
				if t < 0 || t >= len(encDirLetters) {
					return nil, fmt.Errorf("encoding axis %d out of range", t)
				}
				out = append(out, encDirLetters[t])
			case string:
				letter, err := encDirFromCode(t)
				if err != nil {
					return nil, err
				}
				out = append(out, letter)
			default:
				return nil, fmt.Errorf("unexpected encoding direction element %T", e)
			}
		}
		return out, nil
	case string:
		return encDirFromCode(v)
	default:
		return nil, fmt.Errorf("unexpected phase encoding direction %T", val)
	}
}

func encDirFromCode(code string) (any, error) {
	axes, err := encDirAxes(code)
	if err != nil {
		return nil, err
	}
	for i, a := range axes {
		if a == "phase_enc" {
			return encDirLetters[i], nil
		}
	}
	return nil, nil
}

// encDirAxes expands a Paravision 5 direction code into its axis order.
func encDirAxes(code string) ([]string, error) {
	switch code {
	case "col_dir":
		return []string{"read_enc", "phase_enc"}, nil
	case "row_dir":
		return []string{"phase_enc", "read_enc"}, nil
	case "col_slice_dir":
		return []string{"read_enc", "phase_enc", "slice_enc"}, nil
	case "row_slice_dir":
		return []string{"phase_enc", "read_enc", "slice_enc"}, nil
	default:
		return nil, fmt.Errorf("unknown phase encoding direction code %q", code)
	}
}

func allSameAny(v []any) bool {
	if len(v) == 0 {
		return true
	}
	for _, e := range v[1:] {
		if !reflect.DeepEqual(e, v[0]) {
			return false
		}
	}
	return true
}
