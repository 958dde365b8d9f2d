package gui

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Session captures one conversion setup so it can be restored with the
// -f flag on a later launch.
type Session struct {
	Dataset   string `yaml:"dataset"`
	OutputDir string `yaml:"output_dir"`
	Scan      int    `yaml:"scan"`
	Reco      int    `yaml:"reco"`
	Filename  string `yaml:"filename,omitempty"`
	Format    string `yaml:"format"`
	Rescale   string `yaml:"rescale"`
}

// SaveSession writes the session as YAML.
func SaveSession(s *Session, path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}

// LoadSession reads a session saved by a previous run.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", path, err)
	}
	if s.Dataset == "" {
		return nil, fmt.Errorf("session %s names no dataset", path)
	}
	return &s, nil
}
