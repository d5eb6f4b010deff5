package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/caseview/internal/config"
	"github.com/pitabwire/caseview/internal/observability"
	"github.com/pitabwire/caseview/internal/openapi"
	"github.com/pitabwire/caseview/model"
)

var searchBinding = model.OperationBinding{
	Type:        model.BindingHTTP,
	ServiceID:   "case-svc",
	OperationID: "searchCases",
}

func newTestInvoker(t *testing.T, handler http.HandlerFunc, opts ...HTTPOption) (*HTTPSearchInvoker, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	inv := NewHTTPSearchInvoker(nil, map[string]config.ServiceConfig{
		"case-svc": {
			BaseURL:        srv.URL,
			SearchPaths:    map[string]string{"searchCases": "/cases/search"},
			Timeout:        time.Second,
			CircuitBreaker: config.CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Minute},
		},
	}, opts...)
	return inv, srv
}

func writeSearchJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func envelopeCode(t *testing.T, err error) string {
	t.Helper()
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		t.Fatalf("error %v is not an ErrorEnvelope", err)
	}
	return ee.Code
}

// --- Request shape ---

func TestHTTPSearchInvoker_postsSearchRequest(t *testing.T) {
	var got model.SearchRequest
	var headers http.Header
	var path, method string
	inv, _ := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		path, method, headers = r.URL.Path, r.Method, r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeSearchJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    []map[string]any{{"id": "C-001", "gender": 1}},
		})
	})

	rctx := &model.RequestContext{CorrelationID: "corr-1\r\nX-Evil: 1", Locale: "zh-TW"}
	records, err := inv.Search(context.Background(), rctx, searchBinding, model.SearchRequest{StatusFilter: "1"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if method != http.MethodPost || path != "/cases/search" {
		t.Errorf("request = %s %s, want POST /cases/search", method, path)
	}
	if got.Keyword != "" || got.StatusFilter != "1" {
		t.Errorf("body = %+v, want empty keyword and status_filter 1", got)
	}
	if h := headers.Get("X-Correlation-Id"); h != "corr-1X-Evil: 1" {
		t.Errorf("X-Correlation-Id = %q, want sanitized value", h)
	}
	if h := headers.Get("Accept-Language"); h != "zh-TW" {
		t.Errorf("Accept-Language = %q, want zh-TW", h)
	}
	if len(records) != 1 || records[0].Text("id") != "C-001" || records[0].Text("gender") != "1" {
		t.Errorf("records = %v", records)
	}
}

func TestHTTPSearchInvoker_emptyDataIsEmptySlice(t *testing.T) {
	inv, _ := newTestInvoker(t, func(w http.ResponseWriter, _ *http.Request) {
		writeSearchJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	records, err := inv.Search(context.Background(), nil, searchBinding, model.SearchRequest{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("records = %#v, want empty non-nil slice", records)
	}
}

func TestHTTPSearchInvoker_resolvesThroughOpenAPIIndex(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		writeSearchJSON(w, http.StatusOK, map[string]any{"success": true, "data": []any{}})
	}))
	defer srv.Close()

	idx := openapi.NewIndex()
	if err := idx.Load([]openapi.SpecSource{{ServiceID: "case-svc", BaseURL: srv.URL, SpecPath: "testdata/case-svc.yaml"}}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	inv := NewHTTPSearchInvoker(idx, map[string]config.ServiceConfig{"case-svc": {BaseURL: "http://unused.invalid"}})

	if _, err := inv.Search(context.Background(), nil, searchBinding, model.SearchRequest{}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if path != "/cases/search" {
		t.Errorf("path = %q, want /cases/search", path)
	}
}

func TestHTTPSearchInvoker_unresolvableOperation(t *testing.T) {
	inv, _ := newTestInvoker(t, func(http.ResponseWriter, *http.Request) {
		t.Error("upstream should not be called")
	})

	binding := searchBinding
	binding.OperationID = "searchMissing"
	_, err := inv.Search(context.Background(), nil, binding, model.SearchRequest{})
	if code := envelopeCode(t, err); code != model.ErrInternalError {
		t.Errorf("code = %s, want INTERNAL_ERROR", code)
	}

	binding.ServiceID = "other-svc"
	_, err = inv.Search(context.Background(), nil, binding, model.SearchRequest{})
	if code := envelopeCode(t, err); code != model.ErrInternalError {
		t.Errorf("code = %s, want INTERNAL_ERROR", code)
	}
}

// --- Error classification ---

func TestHTTPSearchInvoker_classification(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantCode string
		wantMsg  string
	}{
		{
			name: "application rejection",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeSearchJSON(w, http.StatusOK, map[string]any{"success": false, "message": "查詢條件錯誤"})
			},
			wantCode: model.ErrSearchRejected,
			wantMsg:  "查詢條件錯誤",
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantCode: model.ErrBackendUnavailable,
		},
		{
			name: "client error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantCode: model.ErrBackendUnavailable,
		},
		{
			name: "undecodable body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("<html>gateway</html>"))
			},
			wantCode: model.ErrBackendUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, _ := newTestInvoker(t, tt.handler)
			_, err := inv.Search(context.Background(), nil, searchBinding, model.SearchRequest{})
			if err == nil {
				t.Fatal("Search() should fail")
			}
			var ee *model.ErrorEnvelope
			if !errors.As(err, &ee) {
				t.Fatalf("error %v is not an ErrorEnvelope", err)
			}
			if ee.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", ee.Code, tt.wantCode)
			}
			if tt.wantMsg != "" && ee.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", ee.Message, tt.wantMsg)
			}
		})
	}
}

func TestHTTPSearchInvoker_connectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	inv := NewHTTPSearchInvoker(nil, map[string]config.ServiceConfig{
		"case-svc": {BaseURL: url, SearchPaths: map[string]string{"searchCases": "/cases/search"}},
	})
	_, err := inv.Search(context.Background(), nil, searchBinding, model.SearchRequest{})
	if code := envelopeCode(t, err); code != model.ErrBackendUnavailable {
		t.Errorf("code = %s, want BACKEND_UNAVAILABLE", code)
	}
}

func TestHTTPSearchInvoker_timeout(t *testing.T) {
	release := make(chan struct{})
	inv, _ := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := inv.Search(ctx, nil, searchBinding, model.SearchRequest{})
	if code := envelopeCode(t, err); code != model.ErrBackendTimeout {
		t.Errorf("code = %s, want BACKEND_TIMEOUT", code)
	}
}

func TestHTTPSearchInvoker_cancellationIsNotAFailure(t *testing.T) {
	release := make(chan struct{})
	inv, _ := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	for range 3 {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(10*time.Millisecond, cancel)
		_, err := inv.Search(ctx, nil, searchBinding, model.SearchRequest{})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Search() error = %v, want context.Canceled", err)
		}
	}

	cb, _ := inv.Breaker("case-svc")
	if s := cb.State(); s != BreakerClosed {
		t.Errorf("breaker = %v, want closed after cancellations", s)
	}
}

func TestHTTPSearchInvoker_oversizedResponse(t *testing.T) {
	inv, _ := newTestInvoker(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":[],"message":"`))
		_, _ = w.Write([]byte(strings.Repeat("x", maxResponseBytes)))
		_, _ = w.Write([]byte(`"}`))
	})

	_, err := inv.Search(context.Background(), nil, searchBinding, model.SearchRequest{})
	if code := envelopeCode(t, err); code != model.ErrBackendUnavailable {
		t.Errorf("code = %s, want BACKEND_UNAVAILABLE", code)
	}
}

// --- Breaker integration ---

func TestHTTPSearchInvoker_breakerOpensAndShortCircuits(t *testing.T) {
	var calls atomic.Int32
	reg := prometheus.NewRegistry()
	metrics := observability.InitMetrics(reg)
	inv, _ := newTestInvoker(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithMetrics(metrics))

	for range 2 {
		_, _ = inv.Search(context.Background(), nil, searchBinding, model.SearchRequest{})
	}
	_, err := inv.Search(context.Background(), nil, searchBinding, model.SearchRequest{})

	if code := envelopeCode(t, err); code != model.ErrBackendUnavailable {
		t.Errorf("code = %s, want BACKEND_UNAVAILABLE", code)
	}
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("error = %v, want wrapped ErrBreakerOpen", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
	if v := testutil.ToFloat64(metrics.BackendCircuitBreakerState.WithLabelValues("case-svc")); v != 2 {
		t.Errorf("breaker gauge = %v, want 2 (open)", v)
	}
	if v := testutil.ToFloat64(metrics.BackendRequestsTotal.WithLabelValues("case-svc", "searchCases", "503")); v != 2 {
		t.Errorf("backend requests{503} = %v, want 2", v)
	}
}

func TestHTTPSearchInvoker_rejectionKeepsBreakerClosed(t *testing.T) {
	inv, _ := newTestInvoker(t, func(w http.ResponseWriter, _ *http.Request) {
		writeSearchJSON(w, http.StatusOK, map[string]any{"success": false, "message": "no"})
	})
	for range 5 {
		_, _ = inv.Search(context.Background(), nil, searchBinding, model.SearchRequest{})
	}
	cb, ok := inv.Breaker("case-svc")
	if !ok {
		t.Fatal("Breaker(case-svc) not found")
	}
	if s := cb.State(); s != BreakerClosed {
		t.Errorf("breaker = %v, want closed", s)
	}
}

func TestHTTPSearchInvoker_Supports(t *testing.T) {
	inv := NewHTTPSearchInvoker(nil, nil)
	if !inv.Supports(model.OperationBinding{Type: model.BindingHTTP}) {
		t.Error("should support http bindings")
	}
	if inv.Supports(model.OperationBinding{Type: model.BindingHandler}) {
		t.Error("should not support handler bindings")
	}
}
