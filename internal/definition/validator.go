package definition

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pitabwire/caseview/internal/openapi"
	"github.com/pitabwire/caseview/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is the error returned when a definition set is rejected.
type ValidationErrors []VError

func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.Error()
	}
	return "definition: invalid definitions: " + strings.Join(msgs, "; ")
}

var (
	validViews     = []model.ViewMode{model.ViewTable, model.ViewGrid}
	validOperators = []string{model.FilterEquals, model.FilterContains, model.FilterRange}
	validFormats   = []string{model.ExportCSV, model.ExportXLSX}
)

// Validator checks definitions structurally, referentially and, when an
// index is supplied, against the upstream OpenAPI specs.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions. index may be nil to skip OpenAPI checks.
func (v *Validator) Validate(defs []model.DomainDefinition, index *openapi.Index) []VError {
	var errs []VError
	seenDomains := make(map[string]string)
	seenPages := make(map[string]string)

	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		if def.SourceFile != "" {
			prefix = def.SourceFile
		}
		errs = append(errs, v.validateDomain(prefix, def, index)...)

		if def.Domain != "" {
			if other, dup := seenDomains[def.Domain]; dup {
				errs = append(errs, VError{Path: prefix + ".domain", Code: "DUPLICATE",
					Message: fmt.Sprintf("domain %q already defined in %s", def.Domain, other)})
			}
			seenDomains[def.Domain] = prefix
		}
		for j, p := range def.Pages {
			if p.ID == "" {
				continue
			}
			if other, dup := seenPages[p.ID]; dup {
				errs = append(errs, VError{Path: fmt.Sprintf("%s.pages[%d].id", prefix, j), Code: "DUPLICATE",
					Message: fmt.Sprintf("page %q already defined in %s", p.ID, other)})
			}
			seenPages[p.ID] = prefix
		}
	}
	return errs
}

func (v *Validator) validateDomain(prefix string, def model.DomainDefinition, index *openapi.Index) []VError {
	var errs []VError

	if def.Domain == "" {
		errs = append(errs, required(prefix+".domain", "domain"))
	}
	if def.Version == "" {
		errs = append(errs, required(prefix+".version", "version"))
	}
	if def.Navigation.Label == "" {
		errs = append(errs, required(prefix+".navigation.label", "navigation.label"))
	}
	if len(def.Pages) == 0 {
		errs = append(errs, VError{Path: prefix + ".pages", Code: "REQUIRED", Message: "at least one page is required"})
	}

	for i, p := range def.Pages {
		errs = append(errs, v.validatePage(fmt.Sprintf("%s.pages[%d]", prefix, i), p, index)...)
	}
	return errs
}

func (v *Validator) validatePage(prefix string, p model.PageDefinition, index *openapi.Index) []VError {
	var errs []VError

	// 1. Identity.
	if p.ID == "" {
		errs = append(errs, required(prefix+".id", "id"))
	}
	if p.Title == "" {
		errs = append(errs, required(prefix+".title", "title"))
	}

	// 2. Data source.
	errs = append(errs, v.validateDataSource(prefix+".data_source", p.DataSource, index)...)

	// 3. Layout.
	if p.IsPaginated() && p.PageSize < 1 {
		errs = append(errs, VError{Path: prefix + ".page_size", Code: "RANGE", Message: "page_size must be at least 1"})
	}
	for _, mode := range p.Views {
		if !slices.Contains(validViews, mode) {
			errs = append(errs, invalidEnum(prefix+".views", "view", string(mode)))
		}
	}
	if p.DefaultView != "" {
		if !slices.Contains(validViews, p.DefaultView) {
			errs = append(errs, invalidEnum(prefix+".default_view", "view", string(p.DefaultView)))
		} else if len(p.Views) > 0 && !slices.Contains(p.Views, p.DefaultView) {
			errs = append(errs, VError{Path: prefix + ".default_view", Code: "REF_NOT_FOUND",
				Message: fmt.Sprintf("default view %q is not listed in views", p.DefaultView)})
		}
	}
	if slices.Contains(p.Views, model.ViewGrid) && p.Card.TitleField == "" {
		errs = append(errs, VError{Path: prefix + ".card.title_field", Code: "REQUIRED", Message: "card.title_field is required when the grid view is enabled"})
	}

	if ds := p.DefaultSort; ds.Field != "" {
		if col, ok := p.Column(ds.Field); !ok || !col.Sortable {
			errs = append(errs, VError{Path: prefix + ".default_sort.field", Code: "NOT_SORTABLE",
				Message: fmt.Sprintf("default sort field %q is not a sortable column", ds.Field)})
		}
		if ds.Direction != "" && ds.Direction != model.SortAsc && ds.Direction != model.SortDesc {
			errs = append(errs, invalidEnum(prefix+".default_sort.direction", "sort direction", string(ds.Direction)))
		}
	}

	// 4. Columns and field references.
	if len(p.Columns) == 0 {
		errs = append(errs, VError{Path: prefix + ".columns", Code: "REQUIRED", Message: "at least one column is required"})
	}
	known := make(map[string]bool, len(p.Columns)+len(p.SearchableFields))
	for i, c := range p.Columns {
		if c.Field == "" {
			errs = append(errs, required(fmt.Sprintf("%s.columns[%d].field", prefix, i), "field"))
			continue
		}
		if known[c.Field] {
			errs = append(errs, VError{Path: fmt.Sprintf("%s.columns[%d].field", prefix, i), Code: "DUPLICATE",
				Message: fmt.Sprintf("column %q declared twice", c.Field)})
		}
		known[c.Field] = true
		if c.Format != "" && c.Format != model.FormatDate {
			errs = append(errs, invalidEnum(fmt.Sprintf("%s.columns[%d].format", prefix, i), "format", c.Format))
		}
	}
	for _, f := range p.SearchableFields {
		known[f] = true
	}
	for _, f := range p.NumericFields {
		if !known[f] {
			errs = append(errs, unknownField(prefix+".numeric_fields", f))
		}
	}

	// 5. Filters.
	for i, f := range p.Filters {
		fp := fmt.Sprintf("%s.filters[%d]", prefix, i)
		if f.Field == "" {
			errs = append(errs, required(fp+".field", "field"))
		} else if !known[f.Field] {
			errs = append(errs, unknownField(fp+".field", f.Field))
		}
		if !slices.Contains(validOperators, f.Operator) {
			errs = append(errs, invalidEnum(fp+".operator", "operator", f.Operator))
		}
	}

	// 6. Summary, export and links.
	if len(p.Summary.Buckets) > 0 && p.Summary.GroupBy == "" {
		errs = append(errs, required(prefix+".summary.group_by", "group_by"))
	}
	for _, format := range p.Export.Formats {
		if !slices.Contains(validFormats, format) {
			errs = append(errs, invalidEnum(prefix+".export.formats", "export format", format))
		}
	}
	for i, l := range p.Links {
		if l.Route == "" {
			errs = append(errs, required(fmt.Sprintf("%s.links[%d].route", prefix, i), "route"))
		}
	}

	return errs
}

func (v *Validator) validateDataSource(prefix string, ds model.DataSourceDefinition, index *openapi.Index) []VError {
	switch {
	case ds.Handler != "" && (ds.ServiceID != "" || ds.OperationID != ""):
		return []VError{{Path: prefix, Code: "AMBIGUOUS", Message: "set either handler or service_id/operation_id, not both"}}
	case ds.Handler != "":
		return nil
	case ds.ServiceID == "" || ds.OperationID == "":
		return []VError{{Path: prefix, Code: "REQUIRED", Message: "service_id and operation_id, or handler, are required"}}
	}

	if index != nil && slices.Contains(index.Services(), ds.ServiceID) {
		if _, ok := index.GetOperation(ds.ServiceID, ds.OperationID); !ok {
			return []VError{{
				Path:    prefix + ".operation_id",
				Code:    "OPERATION_NOT_FOUND",
				Message: fmt.Sprintf("operation %q not found in service %q", ds.OperationID, ds.ServiceID),
			}}
		}
	}
	return nil
}

func required(path, name string) VError {
	return VError{Path: path, Code: "REQUIRED", Message: name + " is required"}
}

func invalidEnum(path, kind, value string) VError {
	return VError{Path: path, Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid %s %q", kind, value)}
}

func unknownField(path, field string) VError {
	return VError{Path: path, Code: "UNKNOWN_FIELD", Message: fmt.Sprintf("field %q is neither a column nor a searchable field", field)}
}
