package convert

import (
	"bytes"
	"strings"
	"testing"
)

func TestInfo_SubjectBlock(t *testing.T) {
	c := openStudy(t)

	var buf bytes.Buffer
	if err := c.Info(&buf); err != nil {
		t.Fatalf("Info: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Paravision 6.0.1\n----------------\n",
		"UserAccount:\tnmrsu\n",
		"Date:\t\t2023-02-28\n",
		"Researcher:\trat01\n",
		"Subject ID:\trat01\n",
		"Session ID:\tses01\n",
		"Study ID:\t1\n",
		"Date of Birth:\t2022-11-01\n",
		"Sex:\t\tMALE\n",
		"Weight:\t\t0.31 kg\n",
		"Subject Type:\tQuadruped\n",
		"Position:\tsupine\t\tEntry:\tHeadFirst\n",
		"\n[ScanID]\tSequence::Protocol::[Parameters]\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary is missing %q", want)
		}
	}
}

func TestInfo_ScanLines(t *testing.T) {
	c := openStudy(t)

	var buf bytes.Buffer
	if err := c.Info(&buf); err != nil {
		t.Fatalf("Info: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		// scalar echo times print with two decimals, integers plain
		"[001]\tBruker:FLASH::Tripilot::\n\t[ TR: 100 ms, TE: 2.50 ms, pixelBW: 340 Hz, FlipAngle: 90 degree]",
		"[002]\tBruker:RARE::T2_TurboRARE::\n\t[ TR: 2500 ms, TE: 33 ms, pixelBW: 340 Hz, FlipAngle: 90 degree]",
		"[003]\tBruker:EPI::EPI_fMRI::",
		// echo time lists stay comma joined
		"[005]\tBruker:FieldMap::B0Map::\n\t[ TR: 20 ms, TE: 1.5,3.0 ms",
		"[006]\tBruker:MSME::MSME_T2map::\n\t[ TR: 2000 ms, TE: 10,20,30 ms",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary is missing %q", want)
		}
	}
}

func TestInfo_RecoLines(t *testing.T) {
	c := openStudy(t)

	var buf bytes.Buffer
	if err := c.Info(&buf); err != nil {
		t.Fatalf("Info: %v", err)
	}
	out := buf.String()

	anat := "    [01] dim: 2D, matrix_size: 64 x 64 x 9, fov_size: 9.6 x 9.6 (unit:mm)\n" +
		"         spatial_resol: 0.150 x 0.150 x 1.000 (unit:mm), temporal_resol: 22500.000 (unit:msec)"
	if !strings.Contains(out, anat) {
		t.Errorf("summary is missing the anatomical geometry line:\n%s", out)
	}
	if !strings.Contains(out, "matrix_size: 32 x 32 x 9 x 5") {
		t.Error("functional matrix size must include repetitions")
	}
	if !strings.Contains(out, "temporal_resol: 13500.000") {
		t.Error("functional temporal resolution must be the volume TR")
	}
	if !strings.HasSuffix(out, "\n\n\n") {
		t.Error("summary must end with a blank line")
	}
}
