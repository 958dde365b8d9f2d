package gui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/mrsinham/brkraw/internal/pvdataset"
)

// openScreen asks for the raw dataset and the output directory.
type openScreen struct {
	form      *huh.Form
	path      string
	outDir    string
	width     int
	height    int
	done      bool
	cancelled bool
}

func newOpenScreen(path, outDir string) *openScreen {
	s := &openScreen{
		path:   path,
		outDir: outDir,
	}

	s.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Key("dataset").
				Title("Raw dataset").
				Placeholder("ParaVision study directory or zip archive").
				Value(&s.path).
				Validate(validateDataset),

			huh.NewInput().
				Key("output").
				Title("Output directory").
				Value(&s.outDir).
				Validate(func(v string) error {
					if strings.TrimSpace(v) == "" {
						return fmt.Errorf("output directory is required")
					}
					return nil
				}),
		),
	).WithShowHelp(false).WithShowErrors(true)

	return s
}

func validateDataset(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("a dataset path is required")
	}
	ds, err := pvdataset.Open(p)
	if err != nil {
		return fmt.Errorf("cannot open %s", p)
	}
	defer ds.Close()
	if !ds.IsPvDataset() {
		return fmt.Errorf("%s is not a ParaVision dataset", p)
	}
	return nil
}

// Init implements tea.Model
func (s *openScreen) Init() tea.Cmd {
	return s.form.Init()
}

// Update implements tea.Model
func (s *openScreen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
func (s *openScreen) View() string {
	if s.cancelled {
		return "Cancelled.\n"
	}

	title := TitleStyle.Render("BRKRAW - Open Dataset")
	subtitle := SubtitleStyle.Render("Pick a ParaVision study and where to write the conversions")

	content := lipgloss.JoinVertical(lipgloss.Left,
		title,
		subtitle,
		"",
		s.form.View(),
		"",
		hintStyle.Render("Tab: Next field | Enter: Submit | Esc: Cancel"),
	)

	return content
}

// Done returns true if the form was completed
func (s *openScreen) Done() bool {
	return s.done
}

// Cancelled returns true if the user cancelled
func (s *openScreen) Cancelled() bool {
	return s.cancelled
}

// Path returns the dataset path entered by the user.
func (s *openScreen) Path() string {
	return s.path
}

// OutDir returns the chosen output directory.
func (s *openScreen) OutDir() string {
	return s.outDir
}
