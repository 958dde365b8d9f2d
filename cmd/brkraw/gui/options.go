package gui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/mrsinham/brkraw/internal/jcampdx"
	"github.com/mrsinham/brkraw/internal/pvdataset"
)

const (
	rescaleHeader = "header"
	rescaleApply  = "apply"
	rescaleIgnore = "ignore"
)

// jobDraft carries the conversion choices between screens.
type jobDraft struct {
	scan     int
	reco     int
	filename string
	format   string
	rescale  string
}

// optionsScreen configures the conversion of one scan.
type optionsScreen struct {
	form      *huh.Form
	panel     string
	draft     jobDraft
	width     int
	height    int
	done      bool
	back      bool
	cancelled bool
}

func newOptionsScreen(ds *pvdataset.Dataset, draft jobDraft) *optionsScreen {
	s := &optionsScreen{
		draft: draft,
		panel: scanPanel(ds, draft.scan),
	}

	recos := recoIDs(ds, draft.scan)
	recoOpts := make([]huh.Option[int], 0, len(recos))
	for _, id := range recos {
		recoOpts = append(recoOpts, huh.NewOption(fmt.Sprintf("Reco %d", id), id))
	}

	s.draft.reco = recos[0]
	for _, id := range recos {
		if id == draft.reco {
			s.draft.reco = id
			break
		}
	}
	if s.draft.format == "" {
		s.draft.format = "nii.gz"
	}
	if s.draft.rescale == "" {
		s.draft.rescale = rescaleHeader
	}

	s.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Key("reco").
				Title("Reconstruction").
				Options(recoOpts...).
				Value(&s.draft.reco),

			huh.NewInput().
				Key("filename").
				Title("Filename").
				Placeholder("empty for date_subject_session_study_scan_reco").
				Value(&s.draft.filename).
				Validate(func(v string) error {
					if strings.ContainsAny(v, `/\`) {
						return fmt.Errorf("filename must not contain path separators")
					}
					return nil
				}),

			huh.NewSelect[string]().
				Key("format").
				Title("Format").
				Options(
					huh.NewOption("Compressed NIfTI (.nii.gz)", "nii.gz"),
					huh.NewOption("Plain NIfTI (.nii)", "nii"),
				).
				Value(&s.draft.format),

			huh.NewSelect[string]().
				Key("rescale").
				Title("Slope and offset").
				Options(
					huh.NewOption("Record in the header", rescaleHeader),
					huh.NewOption("Multiply into the voxels", rescaleApply),
					huh.NewOption("Discard", rescaleIgnore),
				).
				Value(&s.draft.rescale),
		),
	).WithShowHelp(false).WithShowErrors(true)

	return s
}

func recoIDs(ds *pvdataset.Dataset, scanID int) []int {
	scan, err := ds.Scan(scanID)
	if err != nil {
		return []int{1}
	}
	recos := scan.Recos()
	if len(recos) == 0 {
		return []int{1}
	}
	return recos
}

// scanPanel renders acquisition details for the selected scan.
func scanPanel(ds *pvdataset.Dataset, scanID int) string {
	scan, err := ds.Scan(scanID)
	if err != nil {
		return err.Error()
	}

	var visu *jcampdx.Parameters
	for _, recoID := range scan.Recos() {
		reco, err := scan.Reco(recoID)
		if err != nil {
			continue
		}
		if v := reco.VisuPars(); v != nil {
			visu = v
			break
		}
	}

	var sb strings.Builder
	sb.WriteString(panelTitleStyle.Render(fmt.Sprintf("Scan %d", scanID)))
	sb.WriteString("\n\n")

	if visu == nil {
		sb.WriteString(labelStyle.Render("no visu parameters"))
		return sb.String()
	}

	rows := []struct {
		label string
		value string
	}{
		{"Sequence", visuText(visu, "VisuAcqSequenceName")},
		{"Protocol", visuText(visu, "VisuAcquisitionProtocol")},
		{"TR", visuNum(visu, "VisuAcqRepetitionTime") + " ms"},
		{"TE", visuNum(visu, "VisuAcqEchoTime") + " ms"},
		{"Flip angle", visuNum(visu, "VisuAcqFlipAngle") + " degree"},
		{"Matrix", matrixText(visu)},
		{"Recos", recoText(scan)},
	}
	for _, r := range rows {
		sb.WriteString(labelStyle.Render(r.label + ": "))
		sb.WriteString(valueStyle.Render(r.value))
		sb.WriteString("\n")
	}
	return sb.String()
}

func visuText(visu *jcampdx.Parameters, name string) string {
	v, err := visu.Text(name)
	if err != nil {
		return ""
	}
	return v
}

func visuNum(visu *jcampdx.Parameters, name string) string {
	vals, err := visu.Floats(name)
	if err != nil || len(vals) == 0 {
		return "0"
	}
	return strconv.FormatFloat(vals[0], 'f', -1, 64)
}

func matrixText(visu *jcampdx.Parameters) string {
	size, err := visu.Ints("VisuCoreSize")
	if err != nil {
		return ""
	}
	parts := make([]string, len(size))
	for i, s := range size {
		parts[i] = strconv.Itoa(s)
	}
	return strings.Join(parts, " x ")
}

func recoText(scan *pvdataset.Scan) string {
	ids := scan.Recos()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}

// Init implements tea.Model
func (s *optionsScreen) Init() tea.Cmd {
	return s.form.Init()
}

// Update implements tea.Model
func (s *optionsScreen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			s.cancelled = true
			return s, tea.Quit
		case "esc":
			// Esc goes back to the scan list instead of cancelling
			s.back = true
			return s, nil
		}
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height
	}

	form, cmd := s.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		s.form = f
	}

	if s.form.State == huh.StateCompleted {
		s.done = true
	}

	return s, cmd
}

// View implements tea.Model
func (s *optionsScreen) View() string {
	if s.cancelled {
		return "Cancelled.\n"
	}

	title := TitleStyle.Render("BRKRAW - Conversion Options")

	panel := panelStyle.Width(40).Render(s.panel)
	body := lipgloss.JoinHorizontal(lipgloss.Top, s.form.View(), "  ", panel)

	content := lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		body,
		"",
		hintStyle.Render("Tab: Next field | Enter: Submit | Esc: Back"),
	)

	return content
}

// Done returns true if the form was completed
func (s *optionsScreen) Done() bool {
	return s.done
}

// Back returns true if the user asked to return to the scan list
func (s *optionsScreen) Back() bool {
	return s.back
}

// Cancelled returns true if the user cancelled
func (s *optionsScreen) Cancelled() bool {
	return s.cancelled
}

// Draft returns the conversion choices made on this screen.
func (s *optionsScreen) Draft() jobDraft {
	return s.draft
}
