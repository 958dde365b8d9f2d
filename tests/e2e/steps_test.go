package e2e

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"github.com/mrsinham/brkraw/internal/nifti"
	"github.com/mrsinham/brkraw/internal/pvgen"
)

// binary paths compiled once in TestMain
var (
	brkrawPath    string
	brkBackupPath string
)

// testContext holds state for a single scenario
type testContext struct {
	tmpDir   string
	exitCode int
	output   string
}

// buildBinary compiles one command package into a temp file
func buildBinary(name, pkg string) (string, error) {
	tmpFile, err := os.CreateTemp("", name+"-test-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpFile.Close()

	// Get the directory of this test file to find the project root
	_, thisFile, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(thisFile), "..", "..")

	cmd := exec.Command("go", "build", "-o", tmpFile.Name(), pkg)
	cmd.Dir = projectRoot
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("build %s failed: %w\n%s", name, err, stderr.String())
	}

	return tmpFile.Name(), nil
}

// TestMain compiles both binaries once before running all tests
func TestMain(m *testing.M) {
	var err error
	brkrawPath, err = buildBinary("brkraw", "./cmd/brkraw")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build binary: %v\n", err)
		os.Exit(1)
	}
	brkBackupPath, err = buildBinary("brk-backup", "./cmd/brk-backup")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build binary: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	os.Remove(brkrawPath)
	os.Remove(brkBackupPath)
	os.Exit(code)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

func InitializeScenario(sc *godog.ScenarioContext) {
	tc := &testContext{}

	// Setup: create temp directory before each scenario
	sc.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tmpDir, err := os.MkdirTemp("", "brkraw-e2e-*")
		if err != nil {
			return ctx, err
		}
		tc.tmpDir = tmpDir
		return ctx, nil
	})

	// Teardown: cleanup temp directory after each scenario
	sc.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if tc.tmpDir != "" {
			os.RemoveAll(tc.tmpDir)
		}
		return ctx, nil
	})

	// Step definitions
	sc.Step(`^brkraw is built$`, tc.brkrawIsBuilt)
	sc.Step(`^brk-backup is built$`, tc.brkBackupIsBuilt)
	sc.Step(`^a raw study "([^"]*)" in the workspace$`, tc.aRawStudy)
	sc.Step(`^a zipped raw study "([^"]*)" in the workspace$`, tc.aZippedRawStudy)
	sc.Step(`^a directory "([^"]*)" in the workspace$`, tc.aDirectory)
	sc.Step(`^I run brkraw with "([^"]*)"$`, tc.iRunBrkrawWith)
	sc.Step(`^I run brk-backup with "([^"]*)"$`, tc.iRunBrkBackupWith)
	sc.Step(`^the exit code should be (\d+)$`, tc.theExitCodeShouldBe)
	sc.Step(`^the output should contain "([^"]*)"$`, tc.theOutputShouldContain)
	sc.Step(`^"([^"]*)" should exist$`, tc.shouldExist)
	sc.Step(`^"([^"]*)" should be a gzipped NIfTI image$`, tc.shouldBeNiftiImage)
}

func (tc *testContext) brkrawIsBuilt() error {
	if brkrawPath == "" {
		return fmt.Errorf("binary not built")
	}
	if _, err := os.Stat(brkrawPath); os.IsNotExist(err) {
		return fmt.Errorf("binary does not exist at %s", brkrawPath)
	}
	return nil
}

func (tc *testContext) brkBackupIsBuilt() error {
	if brkBackupPath == "" {
		return fmt.Errorf("binary not built")
	}
	if _, err := os.Stat(brkBackupPath); os.IsNotExist(err) {
		return fmt.Errorf("binary does not exist at %s", brkBackupPath)
	}
	return nil
}

// aRawStudy writes a small synthetic ParaVision study under the scenario
// workspace: a localizer, a RARE anatomical and an EPI functional run.
func (tc *testContext) aRawStudy(name string) error {
	return pvgen.Write(tc.resolve(name), pvgen.DefaultOptions())
}

func (tc *testContext) aZippedRawStudy(name string) error {
	root := strings.TrimSuffix(filepath.Base(name), ".zip")
	return pvgen.WriteZip(tc.resolve(name), root, pvgen.DefaultOptions())
}

func (tc *testContext) aDirectory(name string) error {
	return os.MkdirAll(tc.resolve(name), 0o755)
}

func (tc *testContext) iRunBrkrawWith(args string) error {
	return tc.run(brkrawPath, args)
}

func (tc *testContext) iRunBrkBackupWith(args string) error {
	return tc.run(brkBackupPath, args)
}

// run executes one binary inside the scenario workspace, so paths in the
// command line and files the commands drop resolve against the temp
// directory.
func (tc *testContext) run(binary, args string) error {
	// Replace {tmpdir} placeholder with actual temp directory
	args = strings.ReplaceAll(args, "{tmpdir}", tc.tmpDir)

	// Split args respecting quotes
	argList := splitArgs(args)

	cmd := exec.Command(binary, argList...)
	cmd.Dir = tc.tmpDir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	tc.output = output.String()

	if exitErr, ok := err.(*exec.ExitError); ok {
		tc.exitCode = exitErr.ExitCode()
	} else if err != nil {
		return fmt.Errorf("failed to run command: %w", err)
	} else {
		tc.exitCode = 0
	}

	return nil
}

func (tc *testContext) theExitCodeShouldBe(expected int) error {
	if tc.exitCode != expected {
		return fmt.Errorf("expected exit code %d, got %d\nOutput:\n%s", expected, tc.exitCode, tc.output)
	}
	return nil
}

func (tc *testContext) theOutputShouldContain(expected string) error {
	if !strings.Contains(tc.output, expected) {
		return fmt.Errorf("output does not contain %q\nOutput:\n%s", expected, tc.output)
	}
	return nil
}

func (tc *testContext) shouldExist(path string) error {
	p := tc.resolve(path)
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return fmt.Errorf("path does not exist: %s", p)
	}
	return nil
}

func (tc *testContext) shouldBeNiftiImage(path string) error {
	img, err := nifti.ReadFile(tc.resolve(path))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(img.Data) == 0 {
		return fmt.Errorf("%s holds no voxel data", path)
	}
	return nil
}

// resolve expands the {tmpdir} placeholder and anchors relative paths at
// the scenario workspace.
func (tc *testContext) resolve(path string) string {
	path = strings.ReplaceAll(path, "{tmpdir}", tc.tmpDir)
	if !filepath.IsAbs(path) {
		path = filepath.Join(tc.tmpDir, path)
	}
	return path
}

// splitArgs splits a command line string into arguments
func splitArgs(s string) []string {
	var args []string
	var current strings.Builder
	inQuote := false

	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args
}
