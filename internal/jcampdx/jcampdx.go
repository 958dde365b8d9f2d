// Package jcampdx parses JCAMP-DX parameter files as written by Bruker
// ParaVision scanners (subject, acqp, method, visu_pars, reco).
//
// A file is a sequence of ##KEY=VALUE records. Keys prefixed with $ are
// vendor private parameters; the rest are header records (TITLE, OWNER,
// JCAMPDX). Lines starting with $$ are provenance comments. A record value
// may continue over following lines until the next record or comment line.
package jcampdx

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoRecords is returned by Parse when the input contains no JCAMP-DX
// records at all, which usually means the file is not a parameter file.
var ErrNoRecords = errors.New("no JCAMP-DX records found")

// Header is a non-parameter record such as ##TITLE or ##OWNER.
type Header struct {
	Key   string
	Value string
}

// Parameters holds the parsed content of one JCAMP-DX parameter file.
// Parameter order follows the file; lookups are by name without the $ prefix.
type Parameters struct {
	headers  []Header
	params   map[string]Value
	order    []string
	comments []string
}

// ParseFile opens and parses a parameter file from disk.
func ParseFile(path string) (*Parameters, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parameter file: %w", err)
	}
	defer f.Close()

	p, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return p, nil
}

// Parse reads a JCAMP-DX parameter stream into a Parameters container.
func Parse(r io.Reader) (*Parameters, error) {
	p := &Parameters{params: make(map[string]Value)}

	sc := bufio.NewScanner(r)
	// Array values can put thousands of elements on a single line.
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var (
		curKey   string
		curParam bool
		curLines []string
		open     bool
	)
	flush := func() {
		if !open {
			return
		}
		if curParam {
			if _, dup := p.params[curKey]; !dup {
				p.order = append(p.order, curKey)
			}
			p.params[curKey] = parseValue(curLines)
		} else {
			p.headers = append(p.headers, Header{
				Key:   curKey,
				Value: strings.TrimSpace(strings.Join(curLines, " ")),
			})
		}
		open = false
		curLines = nil
	}

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "##"):
			flush()
			key, val, found := strings.Cut(line[2:], "=")
			if !found {
				continue
			}
			key = strings.TrimSpace(key)
			if strings.HasPrefix(key, "$") {
				curKey = strings.TrimPrefix(key, "$")
				curParam = true
			} else {
				curKey = key
				curParam = false
			}
			curLines = []string{strings.TrimSpace(val)}
			open = true
		case strings.HasPrefix(line, "$$"):
			// Comments terminate any running value continuation.
			flush()
			p.comments = append(p.comments, strings.TrimSpace(strings.TrimPrefix(line, "$$")))
		default:
			if open {
				curLines = append(curLines, strings.TrimSpace(line))
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read parameter stream: %w", err)
	}
	flush()

	if len(p.headers) == 0 && len(p.params) == 0 {
		return nil, ErrNoRecords
	}
	return p, nil
}

// Get returns the parameter value for name, with ok reporting presence.
func (p *Parameters) Get(name string) (Value, bool) {
	v, ok := p.params[name]
	return v, ok
}

// Has reports whether the parameter name is present.
func (p *Parameters) Has(name string) bool {
	_, ok := p.params[name]
	return ok
}

// Names returns all parameter names in file order.
func (p *Parameters) Names() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Headers returns the non-parameter records in file order.
func (p *Parameters) Headers() []Header {
	out := make([]Header, len(p.headers))
	copy(out, p.headers)
	return out
}

// HeaderValue returns the value of the first header record with the given key.
func (p *Parameters) HeaderValue(key string) (string, bool) {
	for _, h := range p.headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return "", false
}

// Comments returns the $$ provenance lines in file order.
func (p *Parameters) Comments() []string {
	out := make([]string, len(p.comments))
	copy(out, p.comments)
	return out
}

func (p *Parameters) lookup(name string) (Value, error) {
	v, ok := p.params[name]
	if !ok {
		if suggestion := p.Suggest(name); suggestion != "" {
			return Value{}, fmt.Errorf("unknown parameter %q, did you mean %q?", name, suggestion)
		}
		return Value{}, fmt.Errorf("unknown parameter %q", name)
	}
	return v, nil
}

// Int returns the named parameter as a scalar integer.
func (p *Parameters) Int(name string) (int, error) {
	v, err := p.lookup(name)
	if err != nil {
		return 0, err
	}
	n, err := v.Int()
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", name, err)
	}
	return n, nil
}

// Float returns the named parameter as a scalar float.
func (p *Parameters) Float(name string) (float64, error) {
	v, err := p.lookup(name)
	if err != nil {
		return 0, err
	}
	f, err := v.Float()
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", name, err)
	}
	return f, nil
}

// Text returns the named parameter as a scalar string or symbol.
func (p *Parameters) Text(name string) (string, error) {
	v, err := p.lookup(name)
	if err != nil {
		return "", err
	}
	s, err := v.Text()
	if err != nil {
		return "", fmt.Errorf("parameter %s: %w", name, err)
	}
	return s, nil
}

// Ints returns the named parameter as an integer slice.
func (p *Parameters) Ints(name string) ([]int, error) {
	v, err := p.lookup(name)
	if err != nil {
		return nil, err
	}
	ns, err := v.Ints()
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", name, err)
	}
	return ns, nil
}

// Floats returns the named parameter as a float slice.
func (p *Parameters) Floats(name string) ([]float64, error) {
	v, err := p.lookup(name)
	if err != nil {
		return nil, err
	}
	fs, err := v.Floats()
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", name, err)
	}
	return fs, nil
}

// Strings returns the named parameter as a string slice.
func (p *Parameters) Strings(name string) ([]string, error) {
	v, err := p.lookup(name)
	if err != nil {
		return nil, err
	}
	ss, err := v.Strings()
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", name, err)
	}
	return ss, nil
}

// Tuples returns the named parameter as rows of mixed-type elements.
func (p *Parameters) Tuples(name string) ([][]any, error) {
	v, err := p.lookup(name)
	if err != nil {
		return nil, err
	}
	ts, err := v.Tuples()
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", name, err)
	}
	return ts, nil
}
