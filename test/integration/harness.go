// Package integration provides a reusable test harness for end-to-end
// testing of the caseview server. It starts a full HTTP server wired like
// the serve command, backed by a mock case-svc upstream, an in-process
// fixture handler and a memory or Redis session store.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/caseview/internal/config"
	"github.com/pitabwire/caseview/internal/definition"
	"github.com/pitabwire/caseview/internal/invoker"
	"github.com/pitabwire/caseview/internal/listview"
	"github.com/pitabwire/caseview/internal/metadata"
	"github.com/pitabwire/caseview/internal/observability"
	"github.com/pitabwire/caseview/internal/openapi"
	"github.com/pitabwire/caseview/internal/render"
	"github.com/pitabwire/caseview/internal/session"
	"github.com/pitabwire/caseview/internal/transport"
	"github.com/pitabwire/caseview/model"
)

const caseService = "case-svc"

// TestHarness encapsulates a fully wired caseview instance with a mock
// upstream for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Registry *definition.Registry
	OAIndex  *openapi.Index
	Invokers *invoker.Registry
	HTTP     *invoker.HTTPSearchInvoker
	Sessions *session.Manager
	Store    session.Store
	Metrics  *observability.Metrics
	Gatherer *prometheus.Registry

	backend *MockBackend
	cfg     *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs []string
	breaker        config.CircuitBreakerConfig
	serviceTimeout time.Duration
	handlerTimeout time.Duration
	csrfKey        []byte
	redis          *miniredis.Miniredis
	backend        *MockBackend
}

// WithDefinitions sets the definition directories to load.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.definitionDirs = dirs
	}
}

// WithCircuitBreaker sets the case-svc circuit breaker settings.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.breaker = cb
	}
}

// WithServiceTimeout sets the HTTP client timeout for case-svc.
func WithServiceTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.serviceTimeout = d
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithCSRF enables CSRF protection with the given 32-byte key.
func WithCSRF(key []byte) HarnessOption {
	return func(c *harnessConfig) {
		c.csrfKey = key
	}
}

// WithRedisSessions stores session state in mr instead of memory. Two
// harnesses sharing mr behave like two server replicas.
func WithRedisSessions(mr *miniredis.Miniredis) HarnessOption {
	return func(c *harnessConfig) {
		c.redis = mr
	}
}

// WithBackend reuses an existing mock upstream.
func WithBackend(mb *MockBackend) HarnessOption {
	return func(c *harnessConfig) {
		c.backend = mb
	}
}

// NewTestHarness creates and starts a full caseview test instance. The
// server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		serviceTimeout: 5 * time.Second,
		handlerTimeout: 10 * time.Second,
		breaker: config.CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(hc)
	}

	testdata := testdataDir()
	if len(hc.definitionDirs) == 0 {
		hc.definitionDirs = []string{filepath.Join(testdata, "definitions")}
	}

	h := &TestHarness{t: t}

	// Step 1: Start the mock upstream and point the spec at it.
	h.backend = hc.backend
	if h.backend == nil {
		h.backend = NewBackend(t)
	}
	specPath := filepath.Join(t.TempDir(), "case-svc.yaml")
	data, err := os.ReadFile(filepath.Join(testdata, "specs", "case-svc.yaml"))
	if err != nil {
		t.Fatalf("read spec: %v", err)
	}
	spec := strings.ReplaceAll(string(data), "{{CASE_SVC_URL}}", h.backend.URL())
	if err := os.WriteFile(specPath, []byte(spec), 0o600); err != nil {
		t.Fatalf("write temp spec: %v", err)
	}

	// Step 2: Build config.
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Definitions.Directories = hc.definitionDirs
	cfg.Services = map[string]config.ServiceConfig{
		caseService: {
			BaseURL:        h.backend.URL(),
			Timeout:        hc.serviceTimeout,
			CircuitBreaker: hc.breaker,
		},
	}
	cfg.Handlers = map[string]config.HandlerConfig{
		"followups": {
			File:          filepath.Join(testdata, "fixtures", "followups.json"),
			KeywordFields: []string{"medical_record_no", "patient_name"},
			StatusField:   "case_status",
		},
	}
	cfg.Session.CookieSecure = false
	if hc.csrfKey != nil {
		cfg.Server.CSRF.Enabled = true
		cfg.Server.CSRF.Secure = false
	}
	h.cfg = cfg

	// Step 3: Load OpenAPI index and definitions.
	h.OAIndex = openapi.NewIndex()
	if err := h.OAIndex.Load([]openapi.SpecSource{{ServiceID: caseService, BaseURL: h.backend.URL(), SpecPath: specPath}}); err != nil {
		t.Fatalf("load OpenAPI specs: %v", err)
	}
	defs, err := definition.LoadAndValidate(hc.definitionDirs, h.OAIndex)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	h.Registry = definition.NewRegistry(defs)

	// Step 4: Build invokers.
	h.Gatherer = prometheus.NewRegistry()
	h.Metrics = observability.InitMetrics(h.Gatherer)

	handlers := invoker.NewHandlerRegistry()
	for name, cfgHandler := range cfg.Handlers {
		fh, err := invoker.NewFixtureHandler(name, cfgHandler)
		if err != nil {
			t.Fatalf("fixture handler %s: %v", name, err)
		}
		handlers.Register(fh)
	}
	h.HTTP = invoker.NewHTTPSearchInvoker(h.OAIndex, cfg.Services, invoker.WithMetrics(h.Metrics))
	h.Invokers = invoker.NewRegistry()
	h.Invokers.Register(invoker.NewHandlerInvoker(handlers))
	h.Invokers.Register(h.HTTP)

	// Step 5: Build the session store and manager.
	if hc.redis != nil {
		client := redis.NewClient(&redis.Options{Addr: hc.redis.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		h.Store = session.NewRedisStore(client, cfg.Session.KeyPrefix, cfg.Session.TTL)
	} else {
		h.Store = session.NewMemoryStore(cfg.Session.TTL, cfg.Session.MaxEntries)
	}
	h.Sessions = session.NewManager(h.Registry,
		func(p model.PageDefinition) listview.Source { return invoker.NewSource(h.Invokers, p) },
		h.Store, cfg.Session.TTL,
		session.WithManagerMetrics(h.Metrics),
		session.WithMaxLive(cfg.Session.MaxEntries),
	)

	renderer, err := render.New()
	if err != nil {
		t.Fatalf("parse templates: %v", err)
	}

	// Step 6: Build router with full middleware chain.
	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return h.Registry.PageCount() > 0 },
		OpenAPILoaded:     h.OAIndex.Loaded,
	}
	if hcheck, ok := h.Store.(observability.HealthChecker); ok {
		readiness.SessionStore = hcheck
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:         cfg,
		Logger:         zap.NewNop(),
		Metrics:        h.Metrics,
		Pages:          metadata.NewPageProvider(h.Registry),
		Menu:           metadata.NewMenuProvider(h.Registry),
		Sessions:       h.Sessions,
		Renderer:       renderer,
		CSRFKey:        hc.csrfKey,
		HealthHandler:  observability.HandleHealth(),
		ReadyHandler:   observability.HandleReady(readiness),
		MetricsHandler: observability.Handler(h.Gatherer),
	})

	// Step 7: Start test server.
	h.server = httptest.NewServer(h.Metrics.MetricsMiddleware(observability.TracingMiddleware(router)))
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// MockBackend returns the mock case-svc upstream.
func (h *TestHarness) MockBackend() *MockBackend {
	return h.backend
}

// --- Browser clients ---

// Browser is an HTTP client with its own cookie jar, standing in for one
// browser session.
type Browser struct {
	h       *TestHarness
	client  *http.Client
	headers http.Header
}

// NewBrowser returns a client with an empty cookie jar.
func (h *TestHarness) NewBrowser() *Browser {
	jar, err := cookiejar.New(nil)
	if err != nil {
		h.t.Fatalf("cookie jar: %v", err)
	}
	return h.BrowserWithJar(jar)
}

// BrowserWithJar returns a client sharing jar, so a session can move between
// harnesses.
func (h *TestHarness) BrowserWithJar(jar http.CookieJar) *Browser {
	return &Browser{
		h: h,
		client: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		headers: http.Header{},
	}
}

// Jar returns the browser's cookie jar.
func (b *Browser) Jar() http.CookieJar {
	return b.client.Jar
}

// SetHeader sets a header sent with every subsequent request.
func (b *Browser) SetHeader(key, value string) {
	b.headers.Set(key, value)
}

// GET performs a GET request.
func (b *Browser) GET(path string) *http.Response {
	b.h.t.Helper()
	return b.do(http.MethodGet, path, nil)
}

// POST performs a POST request with a JSON body. A nil body sends none.
func (b *Browser) POST(path string, body any) *http.Response {
	b.h.t.Helper()
	return b.do(http.MethodPost, path, body)
}

// DELETE performs a DELETE request.
func (b *Browser) DELETE(path string) *http.Response {
	b.h.t.Helper()
	return b.do(http.MethodDelete, path, nil)
}

func (b *Browser) do(method, path string, body any) *http.Response {
	b.h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			b.h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, b.h.server.URL+path, bodyReader)
	if err != nil {
		b.h.t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range b.headers {
		req.Header[k] = v
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// Load posts a load for pageID and returns the decoded response.
func (b *Browser) Load(t *testing.T, pageID string) (int, ViewResponse) {
	t.Helper()
	return b.Action(t, pageID, "load", nil)
}

// Action posts to a list action route and decodes the response.
func (b *Browser) Action(t *testing.T, pageID, action string, body any) (int, ViewResponse) {
	t.Helper()
	resp := b.POST("/ui/pages/"+pageID+"/"+action, body)
	var out ViewResponse
	b.h.ParseJSON(resp, &out)
	return resp.StatusCode, out
}

// ViewResponse is the body of list action responses.
type ViewResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
	View  model.ViewDescriptor `json:"view"`
}

// --- Response helpers ---

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Fixtures ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// CaseFixture returns a case record as the upstream sends it.
func CaseFixture(no, name string, gender int, createdAt string) map[string]any {
	return map[string]any{
		"medical_record_no": no,
		"patient_name":      name,
		"gender":            gender,
		"created_at":        createdAt,
	}
}

// CaseRecords returns n cases numbered A001..Ann with alternating gender.
func CaseRecords(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range n {
		out[i] = CaseFixture(
			fmt.Sprintf("A%03d", i+1),
			fmt.Sprintf("病患%02d", i+1),
			i%2+1,
			fmt.Sprintf("2024-01-%02dT09:00:00", i%28+1),
		)
	}
	return out
}

// SearchEnvelope wraps records in a successful search response.
func SearchEnvelope(records ...map[string]any) map[string]any {
	if records == nil {
		records = []map[string]any{}
	}
	return map[string]any{
		"success": true,
		"data":    records,
	}
}

// FirstCells returns the first cell of each visible row.
func FirstCells(view model.ViewDescriptor) []string {
	out := make([]string, 0, len(view.Rows))
	for _, r := range view.Rows {
		out = append(out, r.Cells[0])
	}
	return out
}
