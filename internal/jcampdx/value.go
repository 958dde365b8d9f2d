package jcampdx

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Kind identifies the parsed form of a parameter value.
type Kind int

const (
	// KindEmpty is a parameter with no value text.
	KindEmpty Kind = iota
	// KindInt is a scalar integer.
	KindInt
	// KindFloat is a scalar floating point number.
	KindFloat
	// KindString is a scalar <string> or bare symbol such as Head_Supine.
	KindString
	// KindIntArray is a list of integers.
	KindIntArray
	// KindFloatArray is a list of floats.
	KindFloatArray
	// KindStringArray is a list of strings or symbols.
	KindStringArray
	// KindTuples is rows of parenthesized mixed-type elements.
	KindTuples
)

// String returns the kind name for diagnostics.
func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindIntArray:
		return "int array"
	case KindFloatArray:
		return "float array"
	case KindStringArray:
		return "string array"
	case KindTuples:
		return "tuples"
	default:
		return "unknown"
	}
}

// Value is one parsed parameter value. The zero Value has KindEmpty.
type Value struct {
	kind   Kind
	shape  []int
	ints   []int
	floats []float64
	strs   []string
	tuples [][]any
	raw    string
}

// Kind returns the parsed form of the value.
func (v Value) Kind() Kind { return v.kind }

// String returns the raw value text as it appeared in the file.
func (v Value) String() string { return v.raw }

// Shape returns the declared array dimensions when they match the parsed
// element count, nil otherwise. String length declarations are dropped.
func (v Value) Shape() []int {
	if v.shape == nil {
		return nil
	}
	out := make([]int, len(v.shape))
	copy(out, v.shape)
	return out
}

// Len returns the number of parsed elements (rows for tuple values).
func (v Value) Len() int {
	switch v.kind {
	case KindInt, KindFloat, KindString:
		return 1
	case KindIntArray:
		return len(v.ints)
	case KindFloatArray:
		return len(v.floats)
	case KindStringArray:
		return len(v.strs)
	case KindTuples:
		return len(v.tuples)
	default:
		return 0
	}
}

// IsArray reports whether the value parsed as a list rather than a scalar.
func (v Value) IsArray() bool {
	switch v.kind {
	case KindIntArray, KindFloatArray, KindStringArray, KindTuples:
		return true
	default:
		return false
	}
}

// Int returns the value as a scalar integer. Integral floats convert.
func (v Value) Int() (int, error) {
	switch v.kind {
	case KindInt:
		return v.ints[0], nil
	case KindFloat:
		f := v.floats[0]
		if f == math.Trunc(f) {
			return int(f), nil
		}
		return 0, fmt.Errorf("value %s is not an integer", v.raw)
	default:
		return 0, fmt.Errorf("value is %s, not an integer", v.kind)
	}
}

// Float returns the value as a scalar float. Integer scalars convert.
func (v Value) Float() (float64, error) {
	switch v.kind {
	case KindInt:
		return float64(v.ints[0]), nil
	case KindFloat:
		return v.floats[0], nil
	default:
		return 0, fmt.Errorf("value is %s, not a number", v.kind)
	}
}

// Text returns the value as a scalar string or symbol.
func (v Value) Text() (string, error) {
	if v.kind != KindString {
		return "", fmt.Errorf("value is %s, not a string", v.kind)
	}
	return v.strs[0], nil
}

// Ints returns the value as an integer slice. Scalars become one-element
// slices; float lists convert when all elements are integral.
func (v Value) Ints() ([]int, error) {
	switch v.kind {
	case KindInt:
		return []int{v.ints[0]}, nil
	case KindIntArray:
		out := make([]int, len(v.ints))
		copy(out, v.ints)
		return out, nil
	case KindFloat, KindFloatArray:
		fs := v.floats
		out := make([]int, len(fs))
		for i, f := range fs {
			if f != math.Trunc(f) {
				return nil, fmt.Errorf("value %s is not an integer list", v.raw)
			}
			out[i] = int(f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value is %s, not an integer list", v.kind)
	}
}

// Floats returns the value as a float slice. Scalars become one-element
// slices and integer lists convert.
func (v Value) Floats() ([]float64, error) {
	switch v.kind {
	case KindInt:
		return []float64{float64(v.ints[0])}, nil
	case KindFloat:
		return []float64{v.floats[0]}, nil
	case KindIntArray:
		out := make([]float64, len(v.ints))
		for i, n := range v.ints {
			out[i] = float64(n)
		}
		return out, nil
	case KindFloatArray:
		out := make([]float64, len(v.floats))
		copy(out, v.floats)
		return out, nil
	default:
		return nil, fmt.Errorf("value is %s, not a number list", v.kind)
	}
}

// Strings returns the value as a string slice. Scalar strings become
// one-element slices.
func (v Value) Strings() ([]string, error) {
	switch v.kind {
	case KindString:
		return []string{v.strs[0]}, nil
	case KindStringArray:
		out := make([]string, len(v.strs))
		copy(out, v.strs)
		return out, nil
	default:
		return nil, fmt.Errorf("value is %s, not a string list", v.kind)
	}
}

// Tuples returns the value as rows of mixed-type elements. Row elements are
// int, float64, string, or []any for nested groups.
func (v Value) Tuples() ([][]any, error) {
	if v.kind != KindTuples {
		return nil, fmt.Errorf("value is %s, not tuple rows", v.kind)
	}
	out := make([][]any, len(v.tuples))
	copy(out, v.tuples)
	return out, nil
}

var (
	shapePattern = regexp.MustCompile(`^\(\s*\d+(\s*,\s*\d+)*\s*\)$`)
	repPattern   = regexp.MustCompile(`@(\d+)\*\(([^()]*)\)`)
	strPattern   = regexp.MustCompile(`<([^>]*)>`)
	onlyString   = regexp.MustCompile(`^<[^>]*>$`)
)

// parseValue builds a Value from the record's value lines: the text after
// the = on the key line, then any continuation lines.
func parseValue(lines []string) Value {
	first := strings.TrimSpace(lines[0])
	rest := strings.TrimSpace(strings.Join(lines[1:], " "))

	var shape []int
	var data string
	switch {
	case rest != "" && shapePattern.MatchString(first):
		// ( N ) or ( N, M ) on the key line declares the array shape and
		// the data follows on continuation lines. A lone parenthesized
		// group with no continuation is data, not a shape.
		shape = parseShape(first)
		data = rest
	case first == "":
		data = rest
	case rest == "":
		data = first
	default:
		data = first + " " + rest
	}

	data = expandRepetitions(data)
	v := classify(data)
	v.raw = data
	if validShape(shape, v) {
		v.shape = shape
	}
	return v
}

func parseShape(s string) []int {
	s = strings.Trim(s, "() \t")
	parts := strings.Split(s, ",")
	dims := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil
		}
		dims = append(dims, n)
	}
	return dims
}

func validShape(shape []int, v Value) bool {
	if len(shape) == 0 {
		return false
	}
	product := 1
	for _, d := range shape {
		product *= d
	}
	switch v.kind {
	case KindIntArray:
		return product == len(v.ints)
	case KindFloatArray:
		return product == len(v.floats)
	case KindTuples:
		return shape[0] == len(v.tuples)
	default:
		// String shape declarations are character capacities.
		return false
	}
}

// expandRepetitions rewrites ParaVision 360 run-length notation @N*(v) into
// N space-separated copies of v.
func expandRepetitions(data string) string {
	if !strings.Contains(data, "@") {
		return data
	}
	return repPattern.ReplaceAllStringFunc(data, func(m string) string {
		groups := repPattern.FindStringSubmatch(m)
		n, err := strconv.Atoi(groups[1])
		if err != nil || n <= 0 {
			return m
		}
		elem := strings.TrimSpace(groups[2])
		parts := make([]string, n)
		for i := range parts {
			parts[i] = elem
		}
		return strings.Join(parts, " ")
	})
}

func classify(data string) Value {
	if data == "" {
		return Value{kind: KindEmpty}
	}

	if strings.HasPrefix(data, "(") {
		if rows, ok := parseTupleRows(data); ok {
			return Value{kind: KindTuples, tuples: rows}
		}
	}

	if strings.Contains(data, "<") {
		strs := extractStrings(data)
		switch {
		case len(strs) == 1 && onlyString.MatchString(data):
			return Value{kind: KindString, strs: strs}
		case len(strs) > 0:
			return Value{kind: KindStringArray, strs: strs}
		}
	}

	tokens := splitTokens(data)
	if len(tokens) == 0 {
		return Value{kind: KindEmpty}
	}

	if ints, ok := parseIntTokens(tokens); ok {
		if len(ints) == 1 {
			return Value{kind: KindInt, ints: ints}
		}
		return Value{kind: KindIntArray, ints: ints}
	}
	if floats, ok := parseFloatTokens(tokens); ok {
		if len(floats) == 1 {
			return Value{kind: KindFloat, floats: floats}
		}
		return Value{kind: KindFloatArray, floats: floats}
	}
	if len(tokens) == 1 {
		return Value{kind: KindString, strs: tokens}
	}
	return Value{kind: KindStringArray, strs: tokens}
}

func extractStrings(data string) []string {
	matches := strPattern.FindAllStringSubmatch(data, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

func splitTokens(data string) []string {
	return strings.FieldsFunc(data, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

func parseIntTokens(tokens []string) ([]int, bool) {
	out := make([]int, len(tokens))
	for i, t := range tokens {
		n, err := strconv.Atoi(t)
		if err != nil {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}

func parseFloatTokens(tokens []string) ([]float64, bool) {
	out := make([]float64, len(tokens))
	for i, t := range tokens {
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

// parseTupleRows splits data of the form (a, b, c) (d, e, f) into rows.
// Returns false when the input is not purely parenthesized groups.
func parseTupleRows(data string) ([][]any, bool) {
	var rows [][]any
	depth := 0
	inStr := false
	start := -1
	for i, r := range data {
		switch {
		case r == '<' && depth > 0:
			inStr = true
		case r == '>' && inStr:
			inStr = false
		case r == '(' && !inStr:
			if depth == 0 {
				start = i + 1
			}
			depth++
		case r == ')' && !inStr:
			depth--
			if depth < 0 {
				return nil, false
			}
			if depth == 0 && start >= 0 {
				rows = append(rows, splitTupleElems(data[start:i]))
				start = -1
			}
		default:
			if depth == 0 && !inStr && !unicode.IsSpace(r) && r != ',' {
				return nil, false
			}
		}
	}
	if depth != 0 || inStr {
		return nil, false
	}
	return rows, len(rows) > 0
}

// splitTupleElems splits one row's contents on commas outside nested groups
// and <> strings, converting each element to int, float64, string, or a
// nested []any group.
func splitTupleElems(row string) []any {
	var elems []any
	depth := 0
	inStr := false
	start := 0
	emit := func(end int) {
		elems = append(elems, convertElem(strings.TrimSpace(row[start:end])))
		start = end + 1
	}
	for i, r := range row {
		switch {
		case r == '<' && !inStr:
			inStr = true
		case r == '>' && inStr:
			inStr = false
		case r == '(' && !inStr:
			depth++
		case r == ')' && !inStr:
			depth--
		case r == ',' && !inStr && depth == 0:
			emit(i)
		}
	}
	emit(len(row))
	return elems
}

func convertElem(s string) any {
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		return []any(splitTupleElems(s[1 : len(s)-1]))
	}
	if m := onlyString.FindString(s); m != "" {
		return s[1 : len(s)-1]
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
