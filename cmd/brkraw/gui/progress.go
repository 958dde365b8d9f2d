package gui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// CompletionMsg is sent when the conversion finishes successfully
type CompletionMsg struct {
	Files     []string      // Written file paths
	TotalSize int64         // Total size in bytes
	Duration  time.Duration // Time taken
	OutputDir string        // Output directory path
}

// ErrorMsg is sent when the conversion fails
type ErrorMsg struct {
	Error error
}

// tickMsg repaints the progress screen while the conversion runs
type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second/5, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

var (
	progressSpinnerStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("63")).
		Bold(true)

	progressFileStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	progressElapsedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	cancelHintStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)
)

// progressScreen is shown while the conversion runs
type progressScreen struct {
	scanLabel string
	reco      int
	frame     int
	startTime time.Time
	cancelled bool
	width     int
	height    int
}

func newProgressScreen(scanLabel string, reco int) *progressScreen {
	return &progressScreen{
		scanLabel: scanLabel,
		reco:      reco,
		startTime: time.Now(),
	}
}

// Init implements tea.Model
func (s *progressScreen) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (s *progressScreen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			s.cancelled = true
			return s, tea.Quit
		}
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height
	case tickMsg:
		s.frame++
	}

	return s, nil
}

// View implements tea.Model
func (s *progressScreen) View() string {
	if s.cancelled {
		return "Cancelled.\n"
	}

	title := TitleStyle.Render("Converting to NIfTI...")

	spinner := progressSpinnerStyle.Render(spinnerFrames[s.frame%len(spinnerFrames)])
	target := progressFileStyle.Render(fmt.Sprintf("%s reco %d", s.scanLabel, s.reco))

	elapsed := time.Since(s.startTime)
	elapsedStr := progressElapsedStyle.Render(fmt.Sprintf("Elapsed: %.1fs", elapsed.Seconds()))

	cancelHint := cancelHintStyle.Render("Press Ctrl+C to cancel")

	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("\n\n")
	sb.WriteString(spinner)
	sb.WriteString(" ")
	sb.WriteString(target)
	sb.WriteString("\n")
	sb.WriteString(elapsedStr)
	sb.WriteString("\n\n")
	sb.WriteString(cancelHint)

	return sb.String()
}

// Cancelled returns true if the user cancelled
func (s *progressScreen) Cancelled() bool {
	return s.cancelled
}

// Completion screen styles
var (
	completionSuccessStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	completionHintStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244")).
		Italic(true)

	completionCommandStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1)
)

// completionScreen displays the conversion summary
type completionScreen struct {
	files     []string
	totalSize int64
	duration  time.Duration
	outputDir string
	done      bool
	back      bool
	width     int
	height    int
}

func newCompletionScreen(msg CompletionMsg) *completionScreen {
	return &completionScreen{
		files:     msg.Files,
		totalSize: msg.TotalSize,
		duration:  msg.Duration,
		outputDir: msg.OutputDir,
	}
}

// Init implements tea.Model
func (s *completionScreen) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (s *completionScreen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "enter", "q":
			s.done = true
			return s, tea.Quit
		case "b":
			s.back = true
			return s, nil
		}
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height
	}

	return s, nil
}

// View implements tea.Model
func (s *completionScreen) View() string {
	var sb strings.Builder

	successIcon := completionSuccessStyle.Render("✓")
	successText := completionSuccessStyle.Render("Conversion complete!")
	sb.WriteString(successIcon)
	sb.WriteString(" ")
	sb.WriteString(successText)
	sb.WriteString("\n\n")

	for _, f := range s.files {
		sb.WriteString("  ")
		sb.WriteString(valueStyle.Render(filepath.Base(f)))
		sb.WriteString(labelStyle.Render(" has converted"))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString(TitleStyle.Render("Summary:"))
	sb.WriteString("\n")

	stats := []struct {
		label string
		value string
	}{
		{"Files written", fmt.Sprintf("%d", len(s.files))},
		{"Total size", humanize.IBytes(uint64(s.totalSize))},
		{"Duration", fmt.Sprintf("%.1fs", s.duration.Seconds())},
		{"Output", s.outputDir},
	}

	for _, stat := range stats {
		sb.WriteString("  ")
		sb.WriteString(labelStyle.Render(stat.label + ":"))
		sb.WriteString(" ")
		sb.WriteString(valueStyle.Render(stat.value))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")

	sb.WriteString(TitleStyle.Render("Next steps:"))
	sb.WriteString("\n")

	listCmd := completionCommandStyle.Render(fmt.Sprintf("ls -la %s", s.outputDir))
	sb.WriteString("  • View files: ")
	sb.WriteString(listCmd)
	sb.WriteString("\n")

	if len(s.files) > 0 {
		inspectCmd := completionCommandStyle.Render(fmt.Sprintf("nib-ls %s", s.files[0]))
		sb.WriteString("  • Inspect:    ")
		sb.WriteString(inspectCmd)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString(completionHintStyle.Render("Press b to convert another scan, Enter or q to exit"))

	return sb.String()
}

// Done returns true if the user is finished
func (s *completionScreen) Done() bool {
	return s.done
}

// Back returns true if the user wants to pick another scan
func (s *completionScreen) Back() bool {
	return s.back
}

var (
	errorTitleStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")).
		Bold(true)

	errorMessageStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("252"))

	errorHintStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244")).
		Italic(true)
)

// errorScreen displays a conversion failure
type errorScreen struct {
	err    error
	done   bool
	back   bool
	width  int
	height int
}

func newErrorScreen(err error) *errorScreen {
	return &errorScreen{
		err: err,
	}
}

// Init implements tea.Model
func (s *errorScreen) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (s *errorScreen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "enter", "q":
			s.done = true
			return s, tea.Quit
		case "b":
			s.back = true
			return s, nil
		}
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height
	}

	return s, nil
}

// View implements tea.Model
func (s *errorScreen) View() string {
	var sb strings.Builder

	errorIcon := errorTitleStyle.Render("✗")
	errorText := errorTitleStyle.Render("Conversion failed")
	sb.WriteString(errorIcon)
	sb.WriteString(" ")
	sb.WriteString(errorText)
	sb.WriteString("\n\n")

	sb.WriteString(TitleStyle.Render("Error:"))
	sb.WriteString("\n")
	sb.WriteString("  ")
	sb.WriteString(errorMessageStyle.Render(s.err.Error()))
	sb.WriteString("\n\n")

	sb.WriteString(errorHintStyle.Render("Press b to go back, Enter or q to exit"))

	return sb.String()
}

// Done returns true if the user is finished
func (s *errorScreen) Done() bool {
	return s.done
}

// Back returns true if the user wants to adjust the settings
func (s *errorScreen) Back() bool {
	return s.back
}
