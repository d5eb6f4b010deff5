package model

// DomainDefinition is the root structure of a definition file. Each file
// declares one domain's navigation entry and its list pages.
type DomainDefinition struct {
	Domain     string               `yaml:"domain"     json:"domain"`
	Version    string               `yaml:"version"    json:"version"`
	Navigation NavigationDefinition `yaml:"navigation" json:"navigation"`
	Pages      []PageDefinition     `yaml:"pages"      json:"pages,omitempty"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// NavigationDefinition describes a domain's menu entry.
type NavigationDefinition struct {
	Label string `yaml:"label" json:"label"`
	Icon  string `yaml:"icon"  json:"icon"`
	Order int    `yaml:"order" json:"order"`
}

// PageDefinition describes one list page and everything the list view
// controller needs to drive it.
type PageDefinition struct {
	ID               string               `yaml:"id"                json:"id"`
	Title            string               `yaml:"title"             json:"title"`
	Route            string               `yaml:"route"             json:"route"`
	Icon             string               `yaml:"icon"              json:"icon,omitempty"`
	Order            int                  `yaml:"order"             json:"order,omitempty"`
	DataSource       DataSourceDefinition `yaml:"data_source"       json:"data_source"`
	PageSize         int                  `yaml:"page_size"         json:"page_size"`
	Paginated        *bool                `yaml:"paginated"         json:"paginated,omitempty"`
	DefaultView      ViewMode             `yaml:"default_view"      json:"default_view,omitempty"`
	Views            []ViewMode           `yaml:"views"             json:"views,omitempty"`
	DefaultSort      SortSpec             `yaml:"default_sort"      json:"default_sort,omitzero"`
	SearchableFields []string             `yaml:"searchable_fields" json:"searchable_fields"`
	NumericFields    []string             `yaml:"numeric_fields"    json:"numeric_fields,omitempty"`
	Columns          []ColumnDefinition   `yaml:"columns"           json:"columns"`
	Filters          []FilterDefinition   `yaml:"filters"           json:"filters,omitempty"`
	Card             CardDefinition       `yaml:"card"              json:"card"`
	Links            []LinkDefinition     `yaml:"links"             json:"links,omitempty"`
	Export           ExportDefinition     `yaml:"export"            json:"export"`
	Summary          SummaryDefinition    `yaml:"summary"           json:"summary,omitempty"`
	Messages         MessageDefinition    `yaml:"messages"          json:"messages"`
}

// IsPaginated reports whether the page slices its view into pages. Card-only
// pages such as the interview lists show every match at once.
func (p PageDefinition) IsPaginated() bool {
	return p.Paginated == nil || *p.Paginated
}

// Column returns the column definition for field, if declared.
func (p PageDefinition) Column(field string) (ColumnDefinition, bool) {
	for _, c := range p.Columns {
		if c.Field == field {
			return c, true
		}
	}
	return ColumnDefinition{}, false
}

// DataSourceDefinition describes how the page's records are fetched. Either
// ServiceID/OperationID (an upstream HTTP search endpoint) or Handler (an
// in-process search handler) must be set.
type DataSourceDefinition struct {
	ServiceID    string `yaml:"service_id"    json:"service_id,omitempty"`
	OperationID  string `yaml:"operation_id"  json:"operation_id,omitempty"`
	Handler      string `yaml:"handler"       json:"handler,omitempty"`
	StatusFilter string `yaml:"status_filter" json:"status_filter,omitempty"`
}

// Binding converts the data source into an invocation binding.
func (d DataSourceDefinition) Binding() OperationBinding {
	if d.Handler != "" {
		return OperationBinding{Type: BindingHandler, Handler: d.Handler}
	}
	return OperationBinding{Type: BindingHTTP, ServiceID: d.ServiceID, OperationID: d.OperationID}
}

// ColumnDefinition describes a table column and how its value is displayed.
type ColumnDefinition struct {
	Field       string            `yaml:"field"       json:"field"`
	Label       string            `yaml:"label"       json:"label"`
	Sortable    bool              `yaml:"sortable"    json:"sortable,omitempty"`
	Format      string            `yaml:"format"      json:"format,omitempty"`
	LabelMap    map[string]string `yaml:"label_map"   json:"label_map,omitempty"`
	Placeholder string            `yaml:"placeholder" json:"placeholder,omitempty"`
	Badge       bool              `yaml:"badge"       json:"badge,omitempty"`
}

// Display formats a record's value for this column.
func (c ColumnDefinition) Display(r Record) string {
	var v string
	if c.Format == FormatDate {
		v = r.DatePart(c.Field)
	} else {
		v = r.Text(c.Field)
	}
	if c.LabelMap != nil {
		if label, ok := c.LabelMap[v]; ok {
			return label
		}
		if c.Placeholder != "" {
			return c.Placeholder
		}
	}
	if v == "" {
		return c.Placeholder
	}
	return v
}

// Column formats.
const (
	FormatDate = "date"
)

// Filter operators.
const (
	FilterEquals   = "eq"
	FilterContains = "contains"
	FilterRange    = "range"
)

// FilterDefinition describes a filter control above the list.
type FilterDefinition struct {
	Field    string         `yaml:"field"    json:"field"`
	Label    string         `yaml:"label"    json:"label"`
	Type     string         `yaml:"type"     json:"type"`
	Operator string         `yaml:"operator" json:"operator"`
	Options  []StaticOption `yaml:"options"  json:"options,omitempty"`
}

// StaticOption is a label/value pair for dropdowns and filters.
type StaticOption struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
}

// CardDefinition describes the grid-view card layout.
type CardDefinition struct {
	TitleField string   `yaml:"title_field" json:"title_field"`
	BadgeField string   `yaml:"badge_field" json:"badge_field,omitempty"`
	Fields     []string `yaml:"fields"      json:"fields"`
}

// LinkDefinition is a per-record action link. Route may contain {field}
// placeholders that are filled from the record.
type LinkDefinition struct {
	Label string `yaml:"label" json:"label"`
	Route string `yaml:"route" json:"route"`
	Style string `yaml:"style" json:"style,omitempty"`
}

// ExportDefinition configures file export of the filtered view.
type ExportDefinition struct {
	FilePrefix string             `yaml:"file_prefix" json:"file_prefix"`
	Formats    []string           `yaml:"formats"     json:"formats,omitempty"`
	Columns    []ColumnDefinition `yaml:"columns"     json:"columns,omitempty"`
}

// Export formats.
const (
	ExportCSV  = "csv"
	ExportXLSX = "xlsx"
)

// Supports reports whether the export format is enabled. CSV is enabled
// when no formats are listed.
func (e ExportDefinition) Supports(format string) bool {
	if len(e.Formats) == 0 {
		return format == ExportCSV
	}
	for _, f := range e.Formats {
		if f == format {
			return true
		}
	}
	return false
}

// SummaryDefinition configures the per-value count summary shown above the
// list, e.g. completed/pending/missed phone follow-ups.
type SummaryDefinition struct {
	GroupBy string         `yaml:"group_by" json:"group_by,omitempty"`
	Buckets []StaticOption `yaml:"buckets"  json:"buckets,omitempty"`
}

// MessageDefinition holds the user-facing notices of a page.
type MessageDefinition struct {
	Empty       string `yaml:"empty"        json:"empty,omitempty"`
	LoadFailed  string `yaml:"load_failed"  json:"load_failed,omitempty"`
	ExportEmpty string `yaml:"export_empty" json:"export_empty,omitempty"`
}
