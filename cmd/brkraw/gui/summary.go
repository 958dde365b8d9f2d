package gui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/mrsinham/brkraw/internal/pvdataset"
)

const (
	actionConvert = "convert"
	actionSave    = "save_session"
	actionBack    = "back"
	actionCancel  = "cancel"
)

var (
	treeFolderStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("33"))

	treeNameStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("252"))

	cliCommandStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1)
)

// summaryScreen reviews the conversion before it starts.
type summaryScreen struct {
	form      *huh.Form
	ds        *pvdataset.Dataset
	path      string
	outDir    string
	draft     jobDraft
	filename  string
	notice    string
	action    string
	width     int
	height    int
	done      bool
	cancelled bool
}

func newSummaryScreen(ds *pvdataset.Dataset, path, outDir string, draft jobDraft, filename, notice string) *summaryScreen {
	s := &summaryScreen{
		ds:       ds,
		path:     path,
		outDir:   outDir,
		draft:    draft,
		filename: filename,
		notice:   notice,
		action:   actionConvert,
	}

	s.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("action").
				Title("Select an action").
				Options(
					huh.NewOption("Convert to NIfTI", actionConvert),
					huh.NewOption("Save session to YAML", actionSave),
					huh.NewOption("Back to edit", actionBack),
					huh.NewOption("Cancel and exit", actionCancel),
				).
				Value(&s.action),
		),
	).WithShowHelp(false)

	return s
}

// Init implements tea.Model
func (s *summaryScreen) Init() tea.Cmd {
	return s.form.Init()
}

// Update implements tea.Model
func (s *summaryScreen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			s.cancelled = true
			return s, tea.Quit
		case "esc":
			// Esc goes back instead of cancelling
			s.action = actionBack
			s.done = true
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
func (s *summaryScreen) View() string {
	if s.cancelled {
		return "Cancelled.\n"
	}

	title := TitleStyle.Render("BRKRAW - Review Conversion")

	leftPanel := s.buildConversionSummary()
	rightPanel := s.buildOutputPreview()

	panelWidth := 45
	leftStyled := panelStyle.Width(panelWidth).Render(leftPanel)
	rightStyled := panelStyle.Width(panelWidth).Render(rightPanel)
	panels := lipgloss.JoinHorizontal(lipgloss.Top, leftStyled, "  ", rightStyled)

	cliSection := s.buildCLICommand()

	parts := []string{title, "", panels, "", cliSection, ""}
	if s.notice != "" {
		parts = append(parts, noticeStyle.Render(s.notice), "")
	}
	parts = append(parts, s.form.View(), "", hintStyle.Render("Enter: Select action | Esc: Back"))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// buildConversionSummary builds the left panel with the chosen settings.
func (s *summaryScreen) buildConversionSummary() string {
	var sb strings.Builder

	sb.WriteString(panelTitleStyle.Render("Conversion Summary"))
	sb.WriteString("\n\n")

	params := []struct {
		label string
		value string
	}{
		{"Dataset", s.ds.Name()},
		{"Scan", scanEntry(s.ds, s.draft.scan)},
		{"Reco", fmt.Sprintf("%d", s.draft.reco)},
		{"Filename", s.filename},
		{"Format", s.draft.format},
		{"Slope/offset", s.draft.rescale},
		{"Output Directory", s.outDir},
	}

	for _, p := range params {
		sb.WriteString(labelStyle.Render(p.label + ": "))
		sb.WriteString(valueStyle.Render(p.value))
		sb.WriteString("\n")
	}

	return sb.String()
}

// buildOutputPreview builds the right panel showing the file to be written.
func (s *summaryScreen) buildOutputPreview() string {
	var sb strings.Builder

	sb.WriteString(panelTitleStyle.Render("Output Preview"))
	sb.WriteString("\n\n")

	folder := treeFolderStyle.Render("[DIR]")
	sb.WriteString(folder)
	sb.WriteString(" ")
	sb.WriteString(treeNameStyle.Render(s.outDir + "/"))
	sb.WriteString("\n")

	sb.WriteString(labelStyle.Render("└── "))
	sb.WriteString(treeNameStyle.Render(s.filename + "." + s.draft.format))
	sb.WriteString("\n")

	return sb.String()
}

// buildCLICommand shows the command line form of the same conversion.
func (s *summaryScreen) buildCLICommand() string {
	cmd := fmt.Sprintf("brkraw tonii -s %d -r %d", s.draft.scan, s.draft.reco)
	if s.draft.rescale == rescaleIgnore {
		cmd += " -ignore-rescale"
	}
	cmd += " " + s.path

	return labelStyle.Render("Equivalent command: ") + cliCommandStyle.Render(cmd)
}

// Done returns true if an action was chosen
func (s *summaryScreen) Done() bool {
	return s.done
}

// Cancelled returns true if the user cancelled
func (s *summaryScreen) Cancelled() bool {
	return s.cancelled
}

// Action returns the chosen action.
func (s *summaryScreen) Action() string {
	return s.action
}
