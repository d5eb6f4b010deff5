// Package export serialises a list view to downloadable files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/pitabwire/caseview/model"
)

// ContentType returns the MIME type for an export format.
func ContentType(format string) string {
	switch format {
	case model.ExportXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv; charset=utf-8"
	}
}

// FileName returns "<prefix>_<YYYY-MM-DD>.<format>" for the given day.
func FileName(prefix, format string, now time.Time) string {
	if prefix == "" {
		prefix = "export"
	}
	return fmt.Sprintf("%s_%s.%s", prefix, now.Format(time.DateOnly), format)
}

// bom marks the CSV as UTF-8 for spreadsheet applications.
const bom = "\ufeff"

// WriteCSV writes a BOM, a header row of column labels and one row per
// record using each column's display formatting.
func WriteCSV(w io.Writer, columns []model.ColumnDefinition, records []model.Record) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return fmt.Errorf("export: writing bom: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header(columns)); err != nil {
		return fmt.Errorf("export: writing header: %w", err)
	}
	row := make([]string, len(columns))
	for _, r := range records {
		for i, col := range columns {
			row[i] = col.Display(r)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export: writing row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flushing csv: %w", err)
	}
	return nil
}

// WriteXLSX writes a single-sheet workbook with a bold header row.
func WriteXLSX(w io.Writer, sheet string, columns []model.ColumnDefinition, records []model.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet = sheetName(sheet)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("export: naming sheet: %w", err)
	}

	headerRow := make([]any, len(columns))
	for i, h := range header(columns) {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return fmt.Errorf("export: writing header: %w", err)
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("export: creating header style: %w", err)
	}
	if len(columns) > 0 {
		last, err := excelize.CoordinatesToCellName(len(columns), 1)
		if err != nil {
			return fmt.Errorf("export: header range: %w", err)
		}
		if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
			return fmt.Errorf("export: styling header: %w", err)
		}
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("export: row %d: %w", i, err)
		}
		values := make([]any, len(columns))
		for j, col := range columns {
			values[j] = col.Display(r)
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("export: writing row %d: %w", i, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("export: writing workbook: %w", err)
	}
	return nil
}

// sheetName strips characters Excel rejects and truncates to 31 runes.
func sheetName(s string) string {
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if r := []rune(s); len(r) > 31 {
		s = string(r[:31])
	}
	if s == "" {
		return "Sheet1"
	}
	return s
}

func header(columns []model.ColumnDefinition) []string {
	h := make([]string, len(columns))
	for i, c := range columns {
		h[i] = c.Label
	}
	return h
}
