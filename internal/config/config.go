// Package config loads and persists brkraw settings from the user's home
// directory, writing defaults on first use.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const fileName = "config.toml"

// Config holds the persisted settings from config.toml.
type Config struct {
	Spec SpecConfig `toml:"spec"`
	GUI  GUIConfig  `toml:"gui"`
}

// SpecConfig names the files that make up each level of a ParaVision
// dataset.
type SpecConfig struct {
	Dataset FileSet `toml:"pvdataset"`
	Scan    FileSet `toml:"pvscan"`
	Reco    FileSet `toml:"pvreco"`
}

// FileSet splits the known file names of one dataset level into binary
// blobs and parameter files.
type FileSet struct {
	BinaryFiles    []string `toml:"binary_files"`
	ParameterFiles []string `toml:"parameter_files"`
}

// GUIConfig carries terminal UI defaults.
type GUIConfig struct {
	OutputDir    string `toml:"output_dir"`
	OutputFormat string `toml:"output_format"`
}

// Default returns the configuration written on first use.
func Default() *Config {
	return &Config{
		Spec: SpecConfig{
			Dataset: FileSet{
				BinaryFiles:    []string{},
				ParameterFiles: []string{"subject", "ResultState", "AdjStatePerStudy", "study.MR"},
			},
			Scan: FileSet{
				BinaryFiles:    []string{"fid", "rawdata.job0"},
				ParameterFiles: []string{"method", "acqp", "configscan", "visu_pars", "AdjStatePerScan"},
			},
			Reco: FileSet{
				BinaryFiles:    []string{"2dseq"},
				ParameterFiles: []string{"reco", "visu_pars", "procs", "methreco", "id"},
			},
		},
		GUI: GUIConfig{
			OutputFormat: "nii.gz",
		},
	}
}

// Dir returns the configuration directory, honoring $BRKRAW_HOME, and
// creates it on first use.
func Dir() (string, error) {
	dir := os.Getenv("BRKRAW_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locate home directory: %w", err)
		}
		dir = filepath.Join(home, ".brkraw")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	return dir, nil
}

// Load reads config.toml from Dir, writing the defaults first when the
// file does not exist yet.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(dir, fileName))
	if errors.Is(err, fs.ErrNotExist) {
		c := Default()
		if err := c.Save(); err != nil {
			return nil, err
		}
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c := &Config{}
	if err := toml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// Save writes the configuration to config.toml under Dir.
func (c *Config) Save() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	b, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, fileName), b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
