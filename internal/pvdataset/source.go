package pvdataset

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// source abstracts file access over a study directory or a zip archive.
// Relative paths use forward slashes rooted at the study directory.
type source interface {
	reader(rel string) (io.ReadCloser, error)
	bytes(rel string) ([]byte, error)
	stat(rel string) (fs.FileInfo, error)
	close() error
}

type dirSource struct {
	root string
}

func (d *dirSource) abs(rel string) string {
	return filepath.Join(d.root, filepath.FromSlash(rel))
}

func (d *dirSource) reader(rel string) (io.ReadCloser, error) {
	return os.Open(d.abs(rel))
}

func (d *dirSource) bytes(rel string) ([]byte, error) {
	return os.ReadFile(d.abs(rel))
}

func (d *dirSource) stat(rel string) (fs.FileInfo, error) {
	return os.Stat(d.abs(rel))
}

func (d *dirSource) close() error { return nil }
