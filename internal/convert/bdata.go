package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SaveBdata writes the FSL diffusion tables for a scan: a bval row, a bvec
// table with one row per axis, and a bmat table with one flattened matrix
// per direction.
func (c *Converter) SaveBdata(scanID int, dir, stem string) error {
	scan, err := c.ds.Scan(scanID)
	if err != nil {
		return err
	}
	method := scan.Method()
	if method == nil {
		return fmt.Errorf("scan %d has no method parameters", scanID)
	}

	bval, err := method.Floats("PVM_DwEffBval")
	if err != nil {
		return fmt.Errorf("read b values: %w", err)
	}
	grad, err := floatRows(method, "PVM_DwGradVec")
	if err != nil {
		return fmt.Errorf("read gradient vectors: %w", err)
	}
	bmat, err := floatRows(method, "PVM_DwBMat")
	if err != nil {
		return fmt.Errorf("read b matrices: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	base := filepath.Join(dir, stem)

	var sb strings.Builder
	for _, b := range bval {
		fmt.Fprintf(&sb, "%f ", b)
	}
	sb.WriteString("\n")
	if err := os.WriteFile(base+".bval", []byte(sb.String()), 0o644); err != nil {
		return err
	}

	// transpose to one row per axis
	sb.Reset()
	for axis := 0; axis < 3; axis++ {
		for _, row := range grad {
			if axis >= len(row) {
				return fmt.Errorf("gradient vector %v has no axis %d", row, axis)
			}
			fmt.Fprintf(&sb, "%f ", row[axis])
		}
		sb.WriteString("\n")
	}
	if err := os.WriteFile(base+".bvec", []byte(sb.String()), 0o644); err != nil {
		return err
	}

	sb.Reset()
	for _, row := range bmat {
		for _, v := range row {
			fmt.Fprintf(&sb, "%v ", v)
		}
		sb.WriteString("\n")
	}
	return os.WriteFile(base+".bmat", []byte(sb.String()), 0o644)
}
