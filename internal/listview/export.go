package listview

import (
	"io"

	"github.com/pitabwire/caseview/internal/export"
	"github.com/pitabwire/caseview/model"
)

// ExportColumns returns the columns written by exports: the page's export
// columns when configured, otherwise its table columns.
func (c *Controller) ExportColumns() []model.ColumnDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exportColumns()
}

func (c *Controller) exportColumns() []model.ColumnDefinition {
	if len(c.page.Export.Columns) > 0 {
		return c.page.Export.Columns
	}
	return c.page.Columns
}

// ExportFileName returns the download name for format, dated today.
func (c *Controller) ExportFileName(format string) string {
	c.mu.Lock()
	prefix := c.page.Export.FilePrefix
	if prefix == "" {
		prefix = c.page.ID
	}
	c.mu.Unlock()
	return export.FileName(prefix, format, c.now())
}

// ExportCSV writes the whole filtered view, in display order, as CSV.
// Nothing is written when the view is empty.
func (c *Controller) ExportCSV(w io.Writer) error {
	records, err := c.ExportRecords()
	if err != nil {
		return err
	}
	return export.WriteCSV(w, c.ExportColumns(), records)
}

// ExportXLSX writes the whole filtered view as a spreadsheet.
func (c *Controller) ExportXLSX(w io.Writer) error {
	records, err := c.ExportRecords()
	if err != nil {
		return err
	}
	c.mu.Lock()
	title, columns := c.page.Title, c.exportColumns()
	c.mu.Unlock()
	return export.WriteXLSX(w, title, columns, records)
}
