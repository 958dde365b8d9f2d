package gui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/mrsinham/brkraw/internal/convert"
	"github.com/mrsinham/brkraw/internal/pvdataset"
)

// browseScreen lists the scans of the open dataset next to a summary of
// the study subject.
type browseScreen struct {
	form      *huh.Form
	panel     string
	scan      int
	width     int
	height    int
	done      bool
	cancelled bool
}

func newBrowseScreen(ds *pvdataset.Dataset, conv *convert.Converter, preselect int) *browseScreen {
	s := &browseScreen{
		panel: datasetPanel(ds, conv),
	}

	scans := ds.Scans()
	opts := make([]huh.Option[int], 0, len(scans))
	for _, id := range scans {
		opts = append(opts, huh.NewOption(scanEntry(ds, id), id))
	}

	s.scan = scans[0]
	for _, id := range scans {
		if id == preselect {
			s.scan = id
			break
		}
	}

	s.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Key("scan").
				Title("Scans").
				Options(opts...).
				Value(&s.scan),
		),
	).WithShowHelp(false)

	return s
}

// scanEntry renders one line of the scan list.
func scanEntry(ds *pvdataset.Dataset, id int) string {
	name := ""
	if scan, err := ds.Scan(id); err == nil {
		name, _ = scan.Acqp().Text("ACQ_scan_name")
		if name == "" {
			name, _ = scan.Method().Text("Method")
		}
	}
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("[%03d] %s", id, name)
}

// datasetPanel renders the subject summary shown next to the scan list.
func datasetPanel(ds *pvdataset.Dataset, conv *convert.Converter) string {
	date := "None"
	if st, err := conv.ScanTime(nil); err == nil {
		date = st.Date.Format("2006-01-02")
	}

	rows := []struct {
		label string
		value string
	}{
		{"Subject", ds.SubjectID()},
		{"Session", ds.SessionID()},
		{"Study", ds.StudyID()},
		{"Date", date},
		{"Researcher", ds.UserName()},
		{"Sex", ds.SubjectSex()},
		{"Weight", trimWeight(ds.SubjectWeight())},
		{"Type", ds.SubjectType()},
		{"Position", ds.SubjectPose()},
		{"Entry", ds.SubjectEntry()},
		{"Scans", strconv.Itoa(ds.NumScans())},
	}

	var sb strings.Builder
	sb.WriteString(panelTitleStyle.Render("Study"))
	sb.WriteString("\n\n")
	for _, r := range rows {
		sb.WriteString(labelStyle.Render(r.label + ": "))
		sb.WriteString(valueStyle.Render(r.value))
		sb.WriteString("\n")
	}
	return sb.String()
}

func trimWeight(w float64) string {
	return strconv.FormatFloat(w, 'f', -1, 64) + " kg"
}

// Init implements tea.Model
func (s *browseScreen) Init() tea.Cmd {
	return s.form.Init()
}

// Update implements tea.Model
func (s *browseScreen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			s.cancelled = true
			return s, tea.Quit
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
func (s *browseScreen) View() string {
	if s.cancelled {
		return "Cancelled.\n"
	}

	title := TitleStyle.Render("BRKRAW - Select Scan")

	panel := panelStyle.Width(40).Render(s.panel)
	body := lipgloss.JoinHorizontal(lipgloss.Top, s.form.View(), "  ", panel)

	content := lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		body,
		"",
		hintStyle.Render("Enter: Select scan | Esc: Quit"),
	)

	return content
}

// Done returns true if a scan was selected
func (s *browseScreen) Done() bool {
	return s.done
}

// Cancelled returns true if the user cancelled
func (s *browseScreen) Cancelled() bool {
	return s.cancelled
}

// Scan returns the selected scan id.
func (s *browseScreen) Scan() int {
	return s.scan
}
