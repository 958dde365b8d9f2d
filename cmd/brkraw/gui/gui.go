package gui

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/mrsinham/brkraw/internal/config"
	"github.com/mrsinham/brkraw/internal/convert"
	"github.com/mrsinham/brkraw/internal/pvdataset"
)

// Phase represents the current screen of the interface.
type Phase int

const (
	PhaseOpen Phase = iota
	PhaseBrowse
	PhaseOptions
	PhaseSummary
	PhaseSaveSession
	PhaseProgress
	PhaseComplete
	PhaseError
)

// App is the main orchestrator for the interactive interface.
type App struct {
	cfg *config.Config

	// Current phase
	phase Phase

	// Screen instances
	open       *openScreen
	browse     *browseScreen
	options    *optionsScreen
	summary    *summaryScreen
	progress   *progressScreen
	completion *completionScreen
	errScreen  *errorScreen

	// Save session form
	saveSessionForm *huh.Form
	sessionPath     string

	// Open dataset
	ds   *pvdataset.Dataset
	conv *convert.Converter
	path string

	outDir string
	draft  jobDraft
	notice string

	// Window size
	width  int
	height int

	// Final state
	cancelled bool
	finished  bool
	err       error
}

func newApp(cfg *config.Config, path, outDir string, draft jobDraft) *App {
	a := &App{
		cfg:    cfg,
		phase:  PhaseOpen,
		path:   path,
		outDir: outDir,
		draft:  draft,
	}
	a.open = newOpenScreen(path, outDir)
	return a
}

// openDataset opens the raw dataset and moves to the scan list.
func (a *App) openDataset(p string) error {
	ds, err := pvdataset.Open(p)
	if err != nil {
		return err
	}
	if !ds.IsPvDataset() {
		ds.Close()
		return fmt.Errorf("%s is not a ParaVision dataset", p)
	}
	if len(ds.Scans()) == 0 {
		ds.Close()
		return fmt.Errorf("%s does not contain any scan data to convert", p)
	}

	a.ds = ds
	a.conv = convert.New(ds)
	a.path = p
	a.phase = PhaseBrowse
	a.browse = newBrowseScreen(ds, a.conv, a.draft.scan)
	return nil
}

func (a *App) closeDataset() {
	if a.ds != nil {
		a.ds.Close()
		a.ds = nil
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	if a.phase == PhaseBrowse {
		return a.browse.Init()
	}
	return a.open.Init()
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// Handle window size for all phases
	if wsm, ok := msg.(tea.WindowSizeMsg); ok {
		a.width = wsm.Width
		a.height = wsm.Height
	}

	switch a.phase {
	case PhaseOpen:
		return a.updateOpen(msg)
	case PhaseBrowse:
		return a.updateBrowse(msg)
	case PhaseOptions:
		return a.updateOptions(msg)
	case PhaseSummary:
		return a.updateSummary(msg)
	case PhaseSaveSession:
		return a.updateSaveSession(msg)
	case PhaseProgress:
		return a.updateProgress(msg)
	case PhaseComplete:
		return a.updateComplete(msg)
	case PhaseError:
		return a.updateError(msg)
	}

	return a, nil
}

// View implements tea.Model.
func (a *App) View() string {
	switch a.phase {
	case PhaseOpen:
		return a.open.View()
	case PhaseBrowse:
		return a.browse.View()
	case PhaseOptions:
		return a.options.View()
	case PhaseSummary:
		return a.summary.View()
	case PhaseSaveSession:
		return a.viewSaveSession()
	case PhaseProgress:
		return a.progress.View()
	case PhaseComplete:
		return a.completion.View()
	case PhaseError:
		return a.errScreen.View()
	}

	return ""
}

// updateOpen handles updates on the open screen.
func (a *App) updateOpen(msg tea.Msg) (tea.Model, tea.Cmd) {
	model, cmd := a.open.Update(msg)
	if s, ok := model.(*openScreen); ok {
		a.open = s
	}

	if a.open.Cancelled() {
		a.cancelled = true
		return a, tea.Quit
	}

	if a.open.Done() {
		a.outDir = a.open.OutDir()
		if err := a.openDataset(a.open.Path()); err != nil {
			a.err = err
			a.phase = PhaseError
			a.errScreen = newErrorScreen(err)
			return a, nil
		}
		return a, a.browse.Init()
	}

	return a, cmd
}

// updateBrowse handles updates on the scan list.
func (a *App) updateBrowse(msg tea.Msg) (tea.Model, tea.Cmd) {
	model, cmd := a.browse.Update(msg)
	if s, ok := model.(*browseScreen); ok {
		a.browse = s
	}

	if a.browse.Cancelled() {
		a.cancelled = true
		return a, tea.Quit
	}

	if a.browse.Done() {
		a.draft.scan = a.browse.Scan()
		a.phase = PhaseOptions
		a.options = newOptionsScreen(a.ds, a.draft)
		return a, a.options.Init()
	}

	return a, cmd
}

// updateOptions handles updates on the conversion options screen.
func (a *App) updateOptions(msg tea.Msg) (tea.Model, tea.Cmd) {
	model, cmd := a.options.Update(msg)
	if s, ok := model.(*optionsScreen); ok {
		a.options = s
	}

	if a.options.Cancelled() {
		a.cancelled = true
		return a, tea.Quit
	}

	if a.options.Back() {
		a.phase = PhaseBrowse
		a.browse = newBrowseScreen(a.ds, a.conv, a.draft.scan)
		return a, a.browse.Init()
	}

	if a.options.Done() {
		a.draft = a.options.Draft()
		return a.transitionToSummary()
	}

	return a, cmd
}

// transitionToSummary moves to the summary screen.
func (a *App) transitionToSummary() (tea.Model, tea.Cmd) {
	a.phase = PhaseSummary
	a.summary = newSummaryScreen(a.ds, a.path, a.outDir, a.draft, a.resolveFilename(), a.notice)
	a.notice = ""
	return a, a.summary.Init()
}

// resolveFilename returns the name the output files will carry.
func (a *App) resolveFilename() string {
	if a.draft.filename != "" {
		return a.draft.filename
	}
	return a.autoFilename()
}

// autoFilename builds the default date_subject_session_study_scan_reco stem.
func (a *App) autoFilename() string {
	var parts []string
	if st, err := a.conv.ScanTime(nil); err == nil {
		parts = append(parts, st.Date.Format("060102"))
	}
	for _, p := range []string{a.ds.SubjectID(), a.ds.SessionID(), a.ds.StudyID()} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	parts = append(parts, strconv.Itoa(a.draft.scan), strconv.Itoa(a.draft.reco))
	return strings.Join(parts, "_")
}

// updateSummary handles updates on the summary screen.
func (a *App) updateSummary(msg tea.Msg) (tea.Model, tea.Cmd) {
	model, cmd := a.summary.Update(msg)
	if s, ok := model.(*summaryScreen); ok {
		a.summary = s
	}

	if a.summary.Cancelled() {
		a.cancelled = true
		return a, tea.Quit
	}

	if a.summary.Done() {
		switch a.summary.Action() {
		case actionConvert:
			return a.startConversion()
		case actionSave:
			return a.transitionToSaveSession()
		case actionBack:
			a.phase = PhaseOptions
			a.options = newOptionsScreen(a.ds, a.draft)
			return a, a.options.Init()
		case actionCancel:
			a.cancelled = true
			return a, tea.Quit
		}
	}

	return a, cmd
}

// transitionToSaveSession shows the save session dialog.
func (a *App) transitionToSaveSession() (tea.Model, tea.Cmd) {
	a.phase = PhaseSaveSession
	a.sessionPath = "brkraw-session.yaml"

	a.saveSessionForm = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Key("session_path").
				Title("Save session to").
				Description("Enter the path for the YAML session file").
				Value(&a.sessionPath).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("path is required")
					}
					return nil
				}),
		),
	).WithShowHelp(false)

	return a, a.saveSessionForm.Init()
}

// updateSaveSession handles updates in the save session dialog.
func (a *App) updateSaveSession(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			// Go back to summary
			return a.transitionToSummary()
		case "ctrl+c":
			a.cancelled = true
			return a, tea.Quit
		}
	}

	form, cmd := a.saveSessionForm.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		a.saveSessionForm = f
	}

	if a.saveSessionForm.State == huh.StateCompleted {
		s := &Session{
			Dataset:   a.path,
			OutputDir: a.outDir,
			Scan:      a.draft.scan,
			Reco:      a.draft.reco,
			Filename:  a.draft.filename,
			Format:    a.draft.format,
			Rescale:   a.draft.rescale,
		}
		if err := SaveSession(s, a.sessionPath); err != nil {
			a.err = err
			a.phase = PhaseError
			a.errScreen = newErrorScreen(err)
			return a, nil
		}

		a.notice = fmt.Sprintf("Session saved, restore it with: brkraw gui -f %s", a.sessionPath)
		return a.transitionToSummary()
	}

	return a, cmd
}

// viewSaveSession renders the save session dialog.
func (a *App) viewSaveSession() string {
	title := TitleStyle.Render("Save Session")

	content := lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		a.saveSessionForm.View(),
		"",
		hintStyle.Render("Enter: Save | Esc: Back"),
	)

	return content
}

// startConversion begins writing the NIfTI files.
func (a *App) startConversion() (tea.Model, tea.Cmd) {
	a.phase = PhaseProgress
	a.progress = newProgressScreen(scanEntry(a.ds, a.draft.scan), a.draft.reco)

	conv := a.conv
	draft := a.draft
	outDir := a.outDir
	stem := a.resolveFilename()

	run := func() tea.Msg {
		startTime := time.Now()

		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return ErrorMsg{Error: err}
		}

		files, err := conv.SaveNifti(draft.scan, draft.reco, rescaleFor(draft.rescale), outDir, stem, draft.format)
		if err != nil {
			return ErrorMsg{Error: err}
		}

		var totalSize int64
		for _, f := range files {
			if info, err := os.Stat(f); err == nil {
				totalSize += info.Size()
			}
		}

		return CompletionMsg{
			Files:     files,
			TotalSize: totalSize,
			Duration:  time.Since(startTime),
			OutputDir: outDir,
		}
	}

	return a, tea.Batch(run, tickCmd())
}

// rescaleFor maps the chosen rescale mode to conversion options.
func rescaleFor(mode string) convert.Options {
	var opts convert.Options
	switch mode {
	case rescaleApply:
		opts.Slope = convert.RescaleApply
		opts.Offset = convert.RescaleApply
	case rescaleIgnore:
		opts.Slope = convert.RescaleIgnore
		opts.Offset = convert.RescaleIgnore
	}
	return opts
}

// updateProgress handles updates while the conversion runs.
func (a *App) updateProgress(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		model, _ := a.progress.Update(msg)
		if s, ok := model.(*progressScreen); ok {
			a.progress = s
		}
		return a, tickCmd()

	case CompletionMsg:
		a.phase = PhaseComplete
		a.completion = newCompletionScreen(msg)
		return a, nil

	case ErrorMsg:
		a.phase = PhaseError
		a.err = msg.Error
		a.errScreen = newErrorScreen(msg.Error)
		return a, nil
	}

	model, cmd := a.progress.Update(msg)
	if s, ok := model.(*progressScreen); ok {
		a.progress = s
	}

	if a.progress.Cancelled() {
		a.cancelled = true
		return a, tea.Quit
	}

	return a, cmd
}

// updateComplete handles updates on the completion screen.
func (a *App) updateComplete(msg tea.Msg) (tea.Model, tea.Cmd) {
	model, cmd := a.completion.Update(msg)
	if s, ok := model.(*completionScreen); ok {
		a.completion = s
	}

	if a.completion.Back() {
		a.phase = PhaseBrowse
		a.browse = newBrowseScreen(a.ds, a.conv, a.draft.scan)
		return a, a.browse.Init()
	}

	if a.completion.Done() {
		a.finished = true
		return a, tea.Quit
	}

	return a, cmd
}

// updateError handles updates on the error screen.
func (a *App) updateError(msg tea.Msg) (tea.Model, tea.Cmd) {
	model, cmd := a.errScreen.Update(msg)
	if s, ok := model.(*errorScreen); ok {
		a.errScreen = s
	}

	if a.errScreen.Back() {
		a.err = nil
		if a.ds == nil {
			a.phase = PhaseOpen
			a.open = newOpenScreen(a.path, a.outDir)
			return a, a.open.Init()
		}
		return a.transitionToSummary()
	}

	if a.errScreen.Done() {
		a.finished = true
		return a, tea.Quit
	}

	return a, cmd
}

// Run starts the interactive browser. A non-empty input opens that
// dataset directly, output overrides the configured output directory
// and session restores choices saved from the summary screen.
func Run(input, output, session string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	path := input
	outDir := output
	draft := jobDraft{format: cfg.GUI.OutputFormat}

	if session != "" {
		s, err := LoadSession(session)
		if err != nil {
			return fmt.Errorf("loading session: %w", err)
		}
		if path == "" {
			path = s.Dataset
		}
		if outDir == "" {
			outDir = s.OutputDir
		}
		draft = jobDraft{
			scan:     s.Scan,
			reco:     s.Reco,
			filename: s.Filename,
			format:   s.Format,
			rescale:  s.Rescale,
		}
	}
	if outDir == "" {
		outDir = cfg.GUI.OutputDir
	}
	if outDir == "" {
		outDir = "."
	}
	if draft.format == "" {
		draft.format = "nii.gz"
	}

	a := newApp(cfg, path, outDir, draft)
	if path != "" {
		if err := a.openDataset(path); err != nil {
			return err
		}
	}

	p := tea.NewProgram(a, tea.WithAltScreen())

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("running interface: %w", err)
	}

	// Check final state
	if final, ok := finalModel.(*App); ok {
		final.closeDataset()
		if final.cancelled {
			return nil // User cancelled, not an error
		}
		if final.err != nil {
			return final.err
		}
	}

	return nil
}
