package metadata

import (
	"errors"
	"testing"

	"github.com/pitabwire/caseview/internal/definition"
	"github.com/pitabwire/caseview/model"
)

func testDomains() []model.DomainDefinition {
	return []model.DomainDefinition{
		{
			Domain:     "phone",
			Navigation: model.NavigationDefinition{Label: "電話關懷", Icon: "phone", Order: 2},
			Pages: []model.PageDefinition{
				{ID: "phone-missed", Title: "未接通", Order: 2},
				{ID: "phone-followup", Title: "電話追蹤", Icon: "list", Order: 1},
			},
		},
		{
			Domain:     "cases",
			Navigation: model.NavigationDefinition{Label: "個案管理", Icon: "folder", Order: 1},
			Pages: []model.PageDefinition{
				{
					ID:               "case-query",
					Title:            "個案查詢",
					Route:            "/case-query",
					PageSize:         10,
					DefaultView:      model.ViewGrid,
					Views:            []model.ViewMode{model.ViewTable, model.ViewGrid},
					SearchableFields: []string{"medical_record_no", "patient_name"},
					Columns: []model.ColumnDefinition{
						{Field: "medical_record_no", Label: "病歷號", Sortable: true},
						{Field: "created_at", Label: "建檔日期", Format: model.FormatDate},
					},
					Filters: []model.FilterDefinition{
						{Field: "created_at", Label: "建檔日期", Type: "date_range", Operator: model.FilterRange},
					},
					Export: model.ExportDefinition{Formats: []string{model.ExportXLSX, model.ExportCSV}},
				},
			},
		},
		{
			Domain:     "empty",
			Navigation: model.NavigationDefinition{Label: "Empty", Order: 0},
		},
	}
}

func TestPageProvider_GetPage(t *testing.T) {
	p := NewPageProvider(definition.NewRegistry(testDomains()))

	desc, err := p.GetPage("case-query")
	if err != nil {
		t.Fatalf("GetPage error: %v", err)
	}
	if desc.Title != "個案查詢" {
		t.Errorf("Title = %q, want 個案查詢", desc.Title)
	}
	if desc.Route != "/case-query" {
		t.Errorf("Route = %q, want /case-query", desc.Route)
	}
	if !desc.Paginated {
		t.Error("Paginated = false, want true")
	}
	if desc.DefaultView != model.ViewGrid {
		t.Errorf("DefaultView = %q, want grid", desc.DefaultView)
	}
	if len(desc.Columns) != 2 || !desc.Columns[0].Sortable || desc.Columns[1].Format != model.FormatDate {
		t.Errorf("Columns = %+v", desc.Columns)
	}
	if len(desc.Filters) != 1 || desc.Filters[0].Operator != model.FilterRange {
		t.Errorf("Filters = %+v", desc.Filters)
	}
	if len(desc.KeywordFields) != 2 {
		t.Errorf("KeywordFields = %v, want 2 fields", desc.KeywordFields)
	}
	if len(desc.Exports) != 2 || desc.Exports[0] != model.ExportCSV || desc.Exports[1] != model.ExportXLSX {
		t.Errorf("Exports = %v, want [csv xlsx]", desc.Exports)
	}
	if desc.ViewEndpoint != "/ui/pages/case-query/view" {
		t.Errorf("ViewEndpoint = %q", desc.ViewEndpoint)
	}
}

func TestPageProvider_GetPage_defaults(t *testing.T) {
	p := NewPageProvider(definition.NewRegistry(testDomains()))

	desc, err := p.GetPage("phone-missed")
	if err != nil {
		t.Fatalf("GetPage error: %v", err)
	}
	if desc.DefaultView != model.ViewTable {
		t.Errorf("DefaultView = %q, want table", desc.DefaultView)
	}
	if len(desc.Views) != 1 || desc.Views[0] != model.ViewTable {
		t.Errorf("Views = %v, want [table]", desc.Views)
	}
	if desc.KeywordFields == nil {
		t.Error("KeywordFields = nil, want empty slice")
	}
	if len(desc.Exports) != 1 || desc.Exports[0] != model.ExportCSV {
		t.Errorf("Exports = %v, want [csv]", desc.Exports)
	}
}

func TestPageProvider_GetPage_notFound(t *testing.T) {
	p := NewPageProvider(definition.NewRegistry(testDomains()))

	_, err := p.GetPage("nope")
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		t.Fatalf("error = %v, want *ErrorEnvelope", err)
	}
	if ee.Code != model.ErrNotFound {
		t.Errorf("Code = %s, want NOT_FOUND", ee.Code)
	}
}

func TestPageProvider_followsRegistryReplace(t *testing.T) {
	reg := definition.NewRegistry(testDomains())
	p := NewPageProvider(reg)

	reg.Replace(nil)
	if _, err := p.Definition("case-query"); err == nil {
		t.Error("Definition after Replace(nil) succeeded, want NOT_FOUND")
	}
}
