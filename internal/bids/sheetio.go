package bids

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mrsinham/brkraw/internal/convert"
)

const sheetName = "Sheet1"

// WriteDatasheet serializes the plan next to path. The extension picks the
// format; an extension that is not a known format falls back to the format
// argument. It returns the path actually written.
func WriteDatasheet(sheet *Datasheet, path, format string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	switch ext {
	case ".xlsx", ".csv", ".tsv":
		format = ext[1:]
	}
	if format == "" {
		format = "csv"
	}
	out := stem + "." + format
	switch format {
	case "xlsx":
		return out, writeXLSX(sheet, out)
	case "csv":
		return out, writeSeparated(sheet, out, ',')
	case "tsv":
		return out, writeSeparated(sheet, out, '\t')
	}
	return "", fmt.Errorf("unsupported datasheet format %q", format)
}

// ReadDatasheet loads a plan written by WriteDatasheet, possibly edited by
// the operator in a spreadsheet program.
func ReadDatasheet(path string) (*Datasheet, error) {
	var records [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		records, err = readXLSX(path)
	case ".csv":
		records, err = readSeparated(path, ',')
	case ".tsv":
		records, err = readSeparated(path, '\t')
	default:
		return nil, fmt.Errorf("unsupported datasheet format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("read datasheet %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("datasheet %s has no header row", path)
	}

	colIdx := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		colIdx[strings.TrimSpace(name)] = i
	}
	for _, name := range columns {
		if _, ok := colIdx[name]; !ok {
			return nil, fmt.Errorf("datasheet %s is missing column %q", path, name)
		}
	}

	sheet := &Datasheet{}
	for i, rec := range records[1:] {
		if emptyRecord(rec) {
			continue
		}
		row, err := parseRecord(rec, colIdx)
		if err != nil {
			return nil, fmt.Errorf("datasheet %s row %d: %w", path, i+2, err)
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}

// WriteMetaRef writes the sidecar metadata recipes as a JSON the operator
// can adjust and pass back to the converter.
func WriteMetaRef(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := convert.DefaultRefSet().WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// record flattens a row into the column order of the sheet.
func (r Row) record() []string {
	start, end := "", ""
	if r.Start != nil {
		start = strconv.Itoa(*r.Start)
	}
	if r.End != nil {
		end = strconv.Itoa(*r.End)
	}
	return []string{
		r.RawData, r.SubjID, r.SessID,
		strconv.Itoa(r.ScanID), strconv.Itoa(r.RecoID), r.DataType,
		r.Task, r.Acq, r.CE, r.Rec, r.Dir, r.Run, r.Flip, r.MT, r.Part,
		r.Modality, start, end,
	}
}

func parseRecord(rec []string, colIdx map[string]int) (Row, error) {
	cell := func(name string) string {
		i := colIdx[name]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	scanID, err := cellInt(cell("ScanID"))
	if err != nil {
		return Row{}, fmt.Errorf("ScanID: %w", err)
	}
	recoID, err := cellInt(cell("RecoID"))
	if err != nil {
		return Row{}, fmt.Errorf("RecoID: %w", err)
	}
	row := Row{
		RawData:  cell("RawData"),
		SubjID:   cell("SubjID"),
		SessID:   cell("SessID"),
		ScanID:   scanID,
		RecoID:   recoID,
		DataType: cell("DataType"),
		Task:     cell("task"),
		Acq:      cell("acq"),
		CE:       cell("ce"),
		Rec:      cell("rec"),
		Dir:      cell("dir"),
		Run:      cell("run"),
		Flip:     cell("flip"),
		MT:       cell("mt"),
		Part:     cell("part"),
		Modality: cell("modality"),
	}
	if row.Start, err = cellOptInt(cell("Start")); err != nil {
		return Row{}, fmt.Errorf("Start: %w", err)
	}
	if row.End, err = cellOptInt(cell("End")); err != nil {
		return Row{}, fmt.Errorf("End: %w", err)
	}
	return row, nil
}

// cellInt parses an integer cell, tolerating the decimal rendering some
// spreadsheet programs apply to whole numbers.
func cellInt(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return int(f), nil
}

func cellOptInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := cellInt(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func emptyRecord(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func writeXLSX(sheet *Datasheet, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return err
	}
	for i, row := range sheet.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		rec := row.record()
		vals := make([]any, len(rec))
		for j, v := range rec {
			vals[j] = v
		}
		if err := f.SetSheetRow(sheetName, cell, &vals); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.GetRows(sheetName)
}

func writeSeparated(sheet *Datasheet, path string, sep rune) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Comma = sep
	if err := w.Write(columns); err != nil {
		f.Close()
		return err
	}
	for _, row := range sheet.Rows {
		if err := w.Write(row.record()); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readSeparated(path string, sep rune) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.Comma = sep
	r.FieldsPerRecord = -1
	return r.ReadAll()
}
