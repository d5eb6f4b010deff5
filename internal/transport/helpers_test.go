package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pitabwire/caseview/internal/config"
	"github.com/pitabwire/caseview/internal/definition"
	"github.com/pitabwire/caseview/internal/listview"
	"github.com/pitabwire/caseview/internal/metadata"
	"github.com/pitabwire/caseview/internal/observability"
	"github.com/pitabwire/caseview/internal/render"
	"github.com/pitabwire/caseview/internal/session"
	"github.com/pitabwire/caseview/model"
)

// --- Test fixtures ---

func testDomain() model.DomainDefinition {
	return model.DomainDefinition{
		Domain:     "cases",
		Version:    "1.0.0",
		Navigation: model.NavigationDefinition{Label: "個案管理", Order: 1},
		Checksum:   "c1",
		Pages: []model.PageDefinition{{
			ID:               "case-query",
			Title:            "個案查詢",
			Route:            "/case-query",
			DataSource:       model.DataSourceDefinition{Handler: "cases"},
			PageSize:         2,
			Views:            []model.ViewMode{model.ViewTable, model.ViewGrid},
			SearchableFields: []string{"medical_record_no", "patient_name"},
			Columns: []model.ColumnDefinition{
				{Field: "medical_record_no", Label: "病歷號", Sortable: true},
				{Field: "patient_name", Label: "姓名"},
			},
			Card:  model.CardDefinition{TitleField: "medical_record_no", Fields: []string{"patient_name"}},
			Links: []model.LinkDefinition{{Label: "檢視", Route: "/case-detail/{medical_record_no}"}},
			Export: model.ExportDefinition{
				FilePrefix: "case-query",
				Formats:    []string{model.ExportCSV},
			},
			Messages: model.MessageDefinition{
				Empty:       "查無符合條件的個案資料",
				LoadFailed:  "載入個案資料失敗，請重新整理頁面",
				ExportEmpty: "沒有資料可以匯出",
			},
		}},
	}
}

func testRecords() []model.Record {
	return []model.Record{
		{"medical_record_no": "A003", "patient_name": "林美玲"},
		{"medical_record_no": "A001", "patient_name": "陳小明"},
		{"medical_record_no": "A002", "patient_name": "王大同"},
		{"medical_record_no": "A005", "patient_name": "王小華"},
		{"medical_record_no": "A004", "patient_name": "張志明"},
	}
}

// stubSource serves records or fails, counting calls.
type stubSource struct {
	mu      sync.Mutex
	records []model.Record
	err     error
	calls   int
}

func (s *stubSource) Fetch(context.Context, model.SearchRequest) ([]model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.records, s.err
}

func (s *stubSource) set(records []model.Record, err error) {
	s.mu.Lock()
	s.records, s.err = records, err
	s.mu.Unlock()
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type testEnv struct {
	handler http.Handler
	source  *stubSource
	store   *session.MemoryStore
	metrics *observability.Metrics
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config, *Dependencies)) *testEnv {
	t.Helper()

	cfg := config.Defaults()
	cfg.Session.CookieSecure = false

	registry := definition.NewRegistry([]model.DomainDefinition{testDomain()})
	src := &stubSource{records: testRecords()}
	store := session.NewMemoryStore(time.Hour, 0)
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	sessions := session.NewManager(registry, func(model.PageDefinition) listview.Source { return src },
		store, time.Hour, session.WithManagerMetrics(metrics))

	renderer, err := render.New()
	if err != nil {
		t.Fatalf("render.New error: %v", err)
	}

	deps := Dependencies{
		Config:   cfg,
		Metrics:  metrics,
		Pages:    metadata.NewPageProvider(registry),
		Menu:     metadata.NewMenuProvider(registry),
		Sessions: sessions,
		Renderer: renderer,
	}
	for _, m := range mutate {
		m(cfg, &deps)
	}

	return &testEnv{
		handler: NewRouter(deps),
		source:  src,
		store:   store,
		metrics: metrics,
	}
}

// client replays cookies between requests like a browser.
type client struct {
	t       *testing.T
	env     *testEnv
	cookies map[string]*http.Cookie
	headers http.Header
}

func (e *testEnv) client(t *testing.T) *client {
	return &client{t: t, env: e, cookies: map[string]*http.Cookie{}, headers: http.Header{}}
}

func (c *client) do(method, path, body, contentType string) *httptest.ResponseRecorder {
	c.t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}

	w := httptest.NewRecorder()
	c.env.handler.ServeHTTP(w, req)
	for _, ck := range w.Result().Cookies() {
		c.cookies[ck.Name] = ck
	}
	return w
}

func (c *client) get(path string) *httptest.ResponseRecorder {
	c.t.Helper()
	return c.do(http.MethodGet, path, "", "")
}

func (c *client) postJSON(path, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, "application/json")
}

type viewBody struct {
	Error *model.ErrorEnvelope `json:"error"`
	View  model.ViewDescriptor `json:"view"`
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) viewBody {
	t.Helper()
	var body viewBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding view response: %v\nbody: %s", err, w.Body.String())
	}
	return body
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error response: %v\nbody: %s", err, w.Body.String())
	}
	if body.Error == nil {
		t.Fatalf("response has no error: %s", w.Body.String())
	}
	return body.Error
}

func firstCells(view model.ViewDescriptor) []string {
	out := make([]string, 0, len(view.Rows))
	for _, r := range view.Rows {
		out = append(out, r.Cells[0])
	}
	return out
}
