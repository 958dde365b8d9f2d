package jcampdx

import (
	"errors"
	"strings"
	"testing"
)

const sampleVisu = `##TITLE=Parameter List, ParaVision 6.0.1
##JCAMPDX=4.24
##DATATYPE=Parameter Values
##ORIGIN=Bruker BioSpin MRI GmbH
##OWNER=nmrsu
$$ 2023-02-28 12:30:15.123 +0100  nmrsu@mri-scanner
$$ /opt/PV6.0.1/data/nmrsu/20230228_123015_rat_1_1/3/pdata/1/visu_pars
##$VisuVersion=3
##$VisuUid=( 65 )
<2.16.756.5.5.100.1384712661.15985.1362423915.23>
##$VisuCoreFrameCount=10
##$VisuCoreDim=2
##$VisuCoreSize=( 2 )
128 128
##$VisuCoreExtent=( 2 )
19.2 19.2
##$VisuCoreFrameThickness=( 1 )
0.5
##$VisuCoreWordType=_16BIT_SGN_INT
##$VisuCoreByteOrder=littleEndian
##$VisuCoreDataSlope=( 10 )
@10*(3.05175781)
##$VisuCoreDataOffs=( 10 )
@10*(0)
##$VisuSubjectPosition=Head_Supine
##$VisuSubjectType=Quadruped
##$VisuFGOrderDescDim=1
##$VisuFGOrderDesc=( 1 )
(10, <FG_SLICE>, <>, 0, 2)
##$VisuCoreOrientation=( 1, 9 )
1 0 0 0 1 0 0 0 1
##$VisuAcqImagingFrequency=400.331
##$VisuAcqEchoTime=( 1 )
3.5
##END=
`

func TestParse_Headers(t *testing.T) {
	p, err := Parse(strings.NewReader(sampleVisu))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	owner, ok := p.HeaderValue("OWNER")
	if !ok {
		t.Fatal("OWNER header not found")
	}
	if owner != "nmrsu" {
		t.Errorf("OWNER = %q, want %q", owner, "nmrsu")
	}

	title, _ := p.HeaderValue("TITLE")
	if !strings.Contains(title, "ParaVision 6.0.1") {
		t.Errorf("TITLE = %q, want ParaVision version string", title)
	}
}

func TestParse_Comments(t *testing.T) {
	p, err := Parse(strings.NewReader(sampleVisu))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	comments := p.Comments()
	if len(comments) != 2 {
		t.Fatalf("got %d comments, want 2", len(comments))
	}
	if !strings.Contains(comments[1], "visu_pars") {
		t.Errorf("comment[1] = %q, want path line", comments[1])
	}
}

func TestParse_ParameterKinds(t *testing.T) {
	p, err := Parse(strings.NewReader(sampleVisu))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	tests := []struct {
		name string
		key  string
		want Kind
	}{
		{name: "scalar_int", key: "VisuCoreFrameCount", want: KindInt},
		{name: "scalar_float", key: "VisuAcqImagingFrequency", want: KindFloat},
		{name: "symbol", key: "VisuCoreWordType", want: KindString},
		{name: "quoted_string", key: "VisuUid", want: KindString},
		{name: "int_array", key: "VisuCoreSize", want: KindIntArray},
		{name: "float_array", key: "VisuCoreExtent", want: KindFloatArray},
		{name: "repeated_float_array", key: "VisuCoreDataSlope", want: KindFloatArray},
		{name: "tuple_rows", key: "VisuFGOrderDesc", want: KindTuples},
		{name: "collapsed_single", key: "VisuCoreFrameThickness", want: KindFloat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := p.Get(tt.key)
			if !ok {
				t.Fatalf("parameter %s not found", tt.key)
			}
			if v.Kind() != tt.want {
				t.Errorf("%s kind = %s, want %s", tt.key, v.Kind(), tt.want)
			}
		})
	}
}

func TestParse_TypedGetters(t *testing.T) {
	p, err := Parse(strings.NewReader(sampleVisu))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	count, err := p.Int("VisuCoreFrameCount")
	if err != nil {
		t.Fatalf("Int(VisuCoreFrameCount): %v", err)
	}
	if count != 10 {
		t.Errorf("frame count = %d, want 10", count)
	}

	size, err := p.Ints("VisuCoreSize")
	if err != nil {
		t.Fatalf("Ints(VisuCoreSize): %v", err)
	}
	if len(size) != 2 || size[0] != 128 || size[1] != 128 {
		t.Errorf("size = %v, want [128 128]", size)
	}

	wordType, err := p.Text("VisuCoreWordType")
	if err != nil {
		t.Fatalf("Text(VisuCoreWordType): %v", err)
	}
	if wordType != "_16BIT_SGN_INT" {
		t.Errorf("word type = %q", wordType)
	}

	slope, err := p.Floats("VisuCoreDataSlope")
	if err != nil {
		t.Fatalf("Floats(VisuCoreDataSlope): %v", err)
	}
	if len(slope) != 10 {
		t.Fatalf("slope length = %d, want 10 after expansion", len(slope))
	}
	for i, s := range slope {
		if s != 3.05175781 {
			t.Errorf("slope[%d] = %v, want 3.05175781", i, s)
		}
	}

	thickness, err := p.Float("VisuCoreFrameThickness")
	if err != nil {
		t.Fatalf("Float(VisuCoreFrameThickness): %v", err)
	}
	if thickness != 0.5 {
		t.Errorf("thickness = %v, want 0.5", thickness)
	}
}

func TestParse_TupleRows(t *testing.T) {
	p, err := Parse(strings.NewReader(sampleVisu))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	rows, err := p.Tuples("VisuFGOrderDesc")
	if err != nil {
		t.Fatalf("Tuples(VisuFGOrderDesc): %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	row := rows[0]
	if len(row) != 5 {
		t.Fatalf("row has %d elements, want 5", len(row))
	}
	if n, ok := row[0].(int); !ok || n != 10 {
		t.Errorf("row[0] = %v, want int 10", row[0])
	}
	if s, ok := row[1].(string); !ok || s != "FG_SLICE" {
		t.Errorf("row[1] = %v, want FG_SLICE", row[1])
	}
	if s, ok := row[2].(string); !ok || s != "" {
		t.Errorf("row[2] = %v, want empty string", row[2])
	}
}

func TestParse_OrientationShape(t *testing.T) {
	p, err := Parse(strings.NewReader(sampleVisu))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	v, ok := p.Get("VisuCoreOrientation")
	if !ok {
		t.Fatal("VisuCoreOrientation not found")
	}
	shape := v.Shape()
	if len(shape) != 2 || shape[0] != 1 || shape[1] != 9 {
		t.Errorf("shape = %v, want [1 9]", shape)
	}
	if v.Len() != 9 {
		t.Errorf("len = %d, want 9", v.Len())
	}
}

func TestParse_UnknownParameterSuggestion(t *testing.T) {
	p, err := Parse(strings.NewReader(sampleVisu))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	_, err = p.Int("VisuCoreFramCount")
	if err == nil {
		t.Fatal("expected error for unknown parameter")
	}
	if !strings.Contains(err.Error(), "VisuCoreFrameCount") {
		t.Errorf("error %q does not suggest VisuCoreFrameCount", err)
	}
}

func TestParse_NoRecords(t *testing.T) {
	_, err := Parse(strings.NewReader("this is not a parameter file\njust text\n"))
	if !errors.Is(err, ErrNoRecords) {
		t.Errorf("err = %v, want ErrNoRecords", err)
	}
}

func TestParse_Names_FileOrder(t *testing.T) {
	p, err := Parse(strings.NewReader(sampleVisu))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	names := p.Names()
	if len(names) == 0 {
		t.Fatal("no parameter names")
	}
	if names[0] != "VisuVersion" {
		t.Errorf("names[0] = %q, want VisuVersion", names[0])
	}
	if names[len(names)-1] != "VisuAcqEchoTime" {
		t.Errorf("last name = %q, want VisuAcqEchoTime", names[len(names)-1])
	}
}
