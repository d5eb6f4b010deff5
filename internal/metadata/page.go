// Package metadata turns loaded page definitions into the descriptors served
// to the frontend: per-page descriptors and the navigation menu.
package metadata

import (
	"fmt"

	"github.com/pitabwire/caseview/internal/definition"
	"github.com/pitabwire/caseview/model"
)

// PageProvider resolves page descriptors from the definition registry.
type PageProvider struct {
	registry *definition.Registry
}

// NewPageProvider creates a new PageProvider.
func NewPageProvider(registry *definition.Registry) *PageProvider {
	return &PageProvider{registry: registry}
}

// Definition returns the raw page definition, or NOT_FOUND.
func (p *PageProvider) Definition(pageID string) (model.PageDefinition, error) {
	page, ok := p.registry.GetPage(pageID)
	if !ok {
		return model.PageDefinition{}, model.NewNotFoundError(fmt.Sprintf("page %q not found", pageID))
	}
	return page, nil
}

// GetPage returns the descriptor for the given page.
func (p *PageProvider) GetPage(pageID string) (model.PageDescriptor, error) {
	page, err := p.Definition(pageID)
	if err != nil {
		return model.PageDescriptor{}, err
	}
	return Describe(page), nil
}

// Describe builds the descriptor for a page definition.
func Describe(page model.PageDefinition) model.PageDescriptor {
	desc := model.PageDescriptor{
		ID:            page.ID,
		Title:         page.Title,
		Route:         page.Route,
		PageSize:      page.PageSize,
		Paginated:     page.IsPaginated(),
		DefaultView:   page.DefaultView,
		Views:         page.Views,
		Columns:       model.DescribeColumns(page.Columns),
		KeywordFields: page.SearchableFields,
		ViewEndpoint:  "/ui/pages/" + page.ID + "/view",
	}
	if len(desc.Views) == 0 {
		desc.Views = []model.ViewMode{model.ViewTable}
	}
	if desc.DefaultView == "" {
		desc.DefaultView = desc.Views[0]
	}
	if desc.KeywordFields == nil {
		desc.KeywordFields = []string{}
	}

	for _, f := range page.Filters {
		desc.Filters = append(desc.Filters, model.FilterDescriptor{
			Field:    f.Field,
			Label:    f.Label,
			Type:     f.Type,
			Operator: f.Operator,
			Options:  f.Options,
		})
	}
	for _, format := range []string{model.ExportCSV, model.ExportXLSX} {
		if page.Export.Supports(format) {
			desc.Exports = append(desc.Exports, format)
		}
	}
	return desc
}
