// Package parser reads tabular input files into a header row and data rows.
// It uses vantagedatachat GoExcel for .xlsx, shakinm/xlsReader for legacy
// .xls and encoding/csv for delimited text.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	goexcel "github.com/VantageDataChat/GoExcel"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither spreadsheets nor CSV.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrTooSmall is returned when the first sheet has fewer than two rows.
	ErrTooSmall = errors.New("file has no data rows")
	// ErrParse wraps codec failures.
	ErrParse = errors.New("failed to parse file")
)

// Format identifies an input codec.
type Format string

const (
	FormatXLSX    Format = "xlsx"
	FormatXLS     Format = "xls"
	FormatCSV     Format = "csv"
	FormatRecords Format = "json"
)

var mimeFormats = map[string]Format{
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": FormatXLSX,
	"application/vnd.ms-excel": FormatXLS,
	"text/csv":                 FormatCSV,
}

var extFormats = map[string]Format{
	".xlsx": FormatXLSX,
	".xls":  FormatXLS,
	".csv":  FormatCSV,
}

// Table is the parsed content of the first sheet.
type Table struct {
	Columns []string
	Rows    [][]any
	Sheet   string
	Format  Format
}

// DetectFormat picks the codec from the MIME type or the file extension.
// Either one matching is enough.
func DetectFormat(name, mime string) (Format, error) {
	mime = strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	if f, ok := mimeFormats[mime]; ok {
		if ef, ok := extFormats[strings.ToLower(filepath.Ext(name))]; ok {
			return ef, nil
		}
		return f, nil
	}
	if f, ok := extFormats[strings.ToLower(filepath.Ext(name))]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

// IsSupported reports whether a file with this name or MIME type is accepted.
func IsSupported(name, mime string) bool {
	_, err := DetectFormat(name, mime)
	return err == nil
}

// Parse reads data as the format implied by name and mime and returns the
// header row and the data rows of the first sheet. Header names are trimmed.
func Parse(data []byte, name, mime string) (*Table, error) {
	format, err := DetectFormat(name, mime)
	if err != nil {
		return nil, err
	}
	// Some exports carry a misleading extension; trust the content.
	switch {
	case bytes.HasPrefix(data, zipMagic):
		format = FormatXLSX
	case bytes.HasPrefix(data, ole2Magic):
		format = FormatXLS
	}

	var grid [][]any
	var sheet string
	switch format {
	case FormatXLSX:
		grid, sheet, err = parseXLSX(data)
	case FormatXLS:
		grid, sheet, err = parseXLS(data)
	default:
		grid, err = parseDelimited(data)
	}
	if err != nil {
		return nil, err
	}
	t, err := fromGrid(grid)
	if err != nil {
		return nil, err
	}
	t.Sheet = sheet
	t.Format = format
	return t, nil
}

var (
	zipMagic  = []byte("PK\x03\x04")
	ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// fromGrid splits the first row off as the header. Trailing fully empty rows
// are not counted.
func fromGrid(grid [][]any) (*Table, error) {
	for len(grid) > 0 && emptyRow(grid[len(grid)-1]) {
		grid = grid[:len(grid)-1]
	}
	if len(grid) < 2 {
		return nil, ErrTooSmall
	}
	header := grid[0]
	cols := make([]string, len(header))
	for i, h := range header {
		if h != nil {
			cols[i] = strings.TrimSpace(fmt.Sprint(h))
		}
	}
	return &Table{Columns: cols, Rows: grid[1:]}, nil
}

func emptyRow(r []any) bool {
	for _, c := range r {
		if c != nil && c != "" {
			return false
		}
	}
	return true
}

// parseXLSX reads the first sheet with goexcel, placing every cell at its
// column index so gaps stay aligned with the header.
func parseXLSX(data []byte) (grid [][]any, sheetName string, err error) {
	defer func() {
		if r := recover(); r != nil {
			grid = nil
			err = fmt.Errorf("%w: xlsx: %v", ErrParse, r)
		}
	}()

	reader := goexcel.NewXLSXReader()
	wb, err := reader.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, "", fmt.Errorf("%w: xlsx: %w", ErrParse, err)
	}

	names := wb.GetSheetNames()
	if len(names) == 0 {
		return nil, "", ErrTooSmall
	}
	sheetName = names[0]
	sheet, err := wb.GetSheetByName(sheetName)
	if err != nil {
		return nil, "", fmt.Errorf("%w: xlsx sheet %q: %w", ErrParse, sheetName, err)
	}
	rows, err := sheet.RowIterator()
	if err != nil {
		return nil, "", fmt.Errorf("%w: xlsx rows: %w", ErrParse, err)
	}

	for _, row := range rows {
		var out []any
		for _, cell := range row {
			if cell == nil || cell.IsEmpty() {
				continue
			}
			col := int(cell.Col())
			if col < 0 {
				continue
			}
			for len(out) <= col {
				out = append(out, nil)
			}
			out[col] = cell.GetFormattedValue()
		}
		if emptyRow(out) {
			continue
		}
		grid = append(grid, out)
	}
	return grid, sheetName, nil
}
