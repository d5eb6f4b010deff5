package model

// NavigationTree is the top-level navigation structure returned to the frontend.
type NavigationTree struct {
	Items []NavigationNode `json:"items"`
}

// NavigationNode is a single node in the navigation tree.
type NavigationNode struct {
	ID       string           `json:"id"`
	Label    string           `json:"label"`
	Icon     string           `json:"icon"`
	Route    string           `json:"route,omitempty"`
	Children []NavigationNode `json:"children"`
}

// PageDescriptor is the static page metadata sent to the frontend.
type PageDescriptor struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Route         string             `json:"route"`
	PageSize      int                `json:"page_size"`
	Paginated     bool               `json:"paginated"`
	DefaultView   ViewMode           `json:"default_view"`
	Views         []ViewMode         `json:"views"`
	Columns       []ColumnDescriptor `json:"columns"`
	Filters       []FilterDescriptor `json:"filters,omitempty"`
	KeywordFields []string           `json:"keyword_fields"`
	Exports       []string           `json:"exports,omitempty"`
	ViewEndpoint  string             `json:"view_endpoint"`
}

// ColumnDescriptor describes a visible table column.
type ColumnDescriptor struct {
	Field    string `json:"field"`
	Label    string `json:"label"`
	Sortable bool   `json:"sortable"`
	Format   string `json:"format,omitempty"`
}

// DescribeColumns converts column definitions into their descriptors.
func DescribeColumns(cols []ColumnDefinition) []ColumnDescriptor {
	out := make([]ColumnDescriptor, 0, len(cols))
	for _, c := range cols {
		out = append(out, ColumnDescriptor{
			Field:    c.Field,
			Label:    c.Label,
			Sortable: c.Sortable,
			Format:   c.Format,
		})
	}
	return out
}

// FilterDescriptor describes a resolved filter control.
type FilterDescriptor struct {
	Field    string         `json:"field"`
	Label    string         `json:"label"`
	Type     string         `json:"type"`
	Operator string         `json:"operator"`
	Options  []StaticOption `json:"options,omitempty"`
}

// ViewDescriptor is the rendered state of a list page: the visible slice of
// the filtered, sorted view plus everything needed to draw its controls.
type ViewDescriptor struct {
	PageID     string               `json:"page_id"`
	Title      string               `json:"title"`
	View       ViewMode             `json:"view"`
	Loaded     bool                 `json:"loaded"`
	Columns    []ColumnDescriptor   `json:"columns"`
	Rows       []RowDescriptor      `json:"rows"`
	Criteria   FilterCriteria       `json:"criteria"`
	Sort       SortSpec             `json:"sort"`
	Pagination PaginationDescriptor `json:"pagination"`
	Summary    []SummaryBucket      `json:"summary,omitempty"`
	Empty      bool                 `json:"empty"`
	EmptyText  string               `json:"empty_text,omitempty"`
	Notice     *Notice              `json:"notice,omitempty"`
}

// RowDescriptor is one visible record, pre-formatted for display. Cells
// follow the column order; Card is populated in grid view.
type RowDescriptor struct {
	Cells  []string         `json:"cells"`
	Card   *CardDescriptor  `json:"card,omitempty"`
	Links  []LinkDescriptor `json:"links,omitempty"`
	Record Record           `json:"record"`
}

// CardDescriptor is a record laid out as a grid card.
type CardDescriptor struct {
	Title  string      `json:"title"`
	Badge  string      `json:"badge,omitempty"`
	Fields []CardField `json:"fields"`
}

// CardField is a labelled value on a card.
type CardField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// LinkDescriptor is a resolved per-record link.
type LinkDescriptor struct {
	Label string `json:"label"`
	Href  string `json:"href"`
	Style string `json:"style,omitempty"`
}

// PaginationDescriptor summarises the visible slice. Start and End are
// 1-based and inclusive; both are 0 when Total is 0.
type PaginationDescriptor struct {
	CurrentPage int   `json:"current_page"`
	PageCount   int   `json:"page_count"`
	PageSize    int   `json:"page_size"`
	Start       int   `json:"start"`
	End         int   `json:"end"`
	Total       int   `json:"total"`
	SourceTotal int   `json:"source_total"`
	Window      []int `json:"window"`
	HasPrev     bool  `json:"has_prev"`
	HasNext     bool  `json:"has_next"`
}

// SummaryBucket is one entry of the per-value count summary.
type SummaryBucket struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Notice is a user-facing message attached to a rendered view. Level is
// "error" for load failures and "info" otherwise.
type Notice struct {
	Level   string `json:"level"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
