package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/richardlehane/mscfb"
	"github.com/shakinm/xlsReader/xls"
)

// isCompoundWorkbook reports whether data is an OLE2 container holding a
// BIFF workbook stream. Many ERP systems write tab-separated text or HTML
// under an .xls name; those are not compound files.
func isCompoundWorkbook(data []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return false
	}
	for {
		entry, err := doc.Next()
		if err != nil {
			return false
		}
		switch entry.Name {
		case "Workbook", "Book":
			return true
		}
	}
}

// parseXLS reads the first sheet of a legacy .xls file. Files that are not
// compound workbooks are read as delimited text.
func parseXLS(data []byte) (grid [][]any, sheetName string, err error) {
	if !isCompoundWorkbook(data) {
		if bytes.HasPrefix(data, ole2Magic) || looksLikeMarkup(data) {
			return nil, "", fmt.Errorf("%w: xls: not a workbook", ErrParse)
		}
		grid, err = parseDelimited(data)
		return grid, "", err
	}

	defer func() {
		if r := recover(); r != nil {
			grid = nil
			err = fmt.Errorf("%w: xls: %v", ErrParse, r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: xls: %w", ErrParse, err)
	}
	if wb.GetNumberSheets() == 0 {
		return nil, "", ErrTooSmall
	}
	sheet, err := wb.GetSheet(0)
	if err != nil {
		return nil, "", fmt.Errorf("%w: xls sheet: %w", ErrParse, err)
	}
	sheetName = sheet.GetName()

	numRows := sheet.GetNumberRows()
	for rowIdx := 0; rowIdx < numRows; rowIdx++ {
		row, err := sheet.GetRow(rowIdx)
		if err != nil || row == nil {
			continue
		}
		cols := row.GetCols()
		out := make([]any, len(cols))
		for colIdx, cell := range cols {
			if val := cell.GetString(); val != "" {
				out[colIdx] = val
			}
		}
		for len(out) > 0 && out[len(out)-1] == nil {
			out = out[:len(out)-1]
		}
		if emptyRow(out) {
			continue
		}
		grid = append(grid, out)
	}
	return grid, sheetName, nil
}

func looksLikeMarkup(data []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(data[:min(len(data), 512)])))
	return strings.HasPrefix(head, "<html") || strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<?xml")
}
