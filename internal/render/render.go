// Package render turns list view descriptors into HTML: the full list page
// and the list fragment re-rendered after every state change.
package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/pitabwire/caseview/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// PageData is the input of the full list page.
type PageData struct {
	Page       model.PageDescriptor
	View       model.ViewDescriptor
	Navigation model.NavigationTree
	CSRFToken  string
}

// Renderer executes the embedded templates.
type Renderer struct {
	tmpl *template.Template
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	tmpl, err := template.New("render").Funcs(funcs()).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("render: parsing templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Page writes the full HTML page.
func (r *Renderer) Page(w io.Writer, data PageData) error {
	if err := r.tmpl.ExecuteTemplate(w, "page", pageModel{PageData: data, KeywordOptions: keywordOptions(data.Page)}); err != nil {
		return fmt.Errorf("render: page %s: %w", data.Page.ID, err)
	}
	return nil
}

// Fragment writes the list fragment: notice, summary, result count, the
// table or grid (or the empty state) and pagination.
func (r *Renderer) Fragment(w io.Writer, view model.ViewDescriptor) error {
	if err := r.tmpl.ExecuteTemplate(w, "list", view); err != nil {
		return fmt.Errorf("render: fragment %s: %w", view.PageID, err)
	}
	return nil
}

type pageModel struct {
	PageData
	KeywordOptions []model.StaticOption
}

// keywordOptions labels each keyword field with its column label when the
// field is also a column.
func keywordOptions(page model.PageDescriptor) []model.StaticOption {
	labels := make(map[string]string, len(page.Columns))
	for _, c := range page.Columns {
		labels[c.Field] = c.Label
	}
	out := make([]model.StaticOption, 0, len(page.KeywordFields))
	for _, f := range page.KeywordFields {
		label := labels[f]
		if label == "" {
			label = f
		}
		out = append(out, model.StaticOption{Label: label, Value: f})
	}
	return out
}

func funcs() template.FuncMap {
	return template.FuncMap{
		"hasLinks": func(rows []model.RowDescriptor) bool {
			for _, r := range rows {
				if len(r.Links) > 0 {
					return true
				}
			}
			return false
		},
		"viewLabel": func(v model.ViewMode) string {
			switch v {
			case model.ViewGrid:
				return "卡片"
			default:
				return "表格"
			}
		},
		"equalsValue": func(c model.FilterCriteria, field string) string {
			return c.Equals[field]
		},
		"containsValue": func(c model.FilterCriteria, field string) string {
			return c.Contains[field]
		},
		"rangeValue": func(c model.FilterCriteria, field string) model.DateRange {
			return c.Ranges[field]
		},
	}
}
