// Package export writes filtered rows back out as an .xlsx workbook.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/spf13/cast"
	"github.com/xuri/excelize/v2"

	"ewmsearch/internal/table"
)

// SheetName is the name of the single worksheet in an export.
const SheetName = "Resultados"

// ErrNothingToExport is returned when the view has no rows.
var ErrNothingToExport = errors.New("nothing to export")

var lastExt = regexp.MustCompile(`\.[^/.]+$`)

// FileName builds "{base}_export_{YYYY-MM-DD}.xlsx", where base is source
// without its last extension and the date is now in UTC.
func FileName(source string, now time.Time) string {
	base := lastExt.ReplaceAllString(source, "")
	if base == "" {
		base = "dados"
	}
	return fmt.Sprintf("%s_export_%s.xlsx", base, now.UTC().Format("2006-01-02"))
}

// Workbook writes columns as the header row followed by one row per entry in
// rows. Numbers and booleans keep their type; other values are written as text.
func Workbook(w io.Writer, columns []string, rows []table.Row) (err error) {
	if len(rows) == 0 {
		return ErrNothingToExport
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("xlsx export: %v", r)
		}
	}()

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := make([]any, len(columns))
		for j := range columns {
			values[j] = cellValue(r.Cell(j))
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// XLSX returns the workbook bytes for columns and rows.
func XLSX(columns []string, rows []table.Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := Workbook(&buf, columns, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cellValue(v any) any {
	switch v := v.(type) {
	case nil:
		return nil
	case bool:
		// Excel booleans read back as TRUE/FALSE; keep the display form.
		return table.CellString(v)
	case string, int, int64, float64:
		return v
	default:
		return cast.ToString(v)
	}
}
