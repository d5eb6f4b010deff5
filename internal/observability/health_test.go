package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHandleHealth_returnsOK(t *testing.T) {
	origVersion, origCommit := Version, Commit
	Version = "1.2.3"
	Commit = "abc1234"
	t.Cleanup(func() {
		Version = origVersion
		Commit = origCommit
	})

	rec := httptest.NewRecorder()
	HandleHealth().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ui/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "1.2.3" || resp.Commit != "abc1234" {
		t.Errorf("resp = %+v, want ok/1.2.3/abc1234", resp)
	}
}

func serveReady(t *testing.T, checks ReadinessChecks) (int, ReadinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	HandleReady(checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ui/ready", nil))
	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return rec.Code, resp
}

func TestHandleReady(t *testing.T) {
	yes := func() bool { return true }
	no := func() bool { return false }
	healthy := HealthCheckFunc(func(context.Context) error { return nil })
	down := HealthCheckFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name       string
		checks     ReadinessChecks
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "definitions only",
			checks:     ReadinessChecks{DefinitionsLoaded: yes},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"definitions": "ok"},
		},
		{
			name:       "all healthy",
			checks:     ReadinessChecks{DefinitionsLoaded: yes, OpenAPILoaded: yes, SessionStore: healthy},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"definitions": "ok", "openapi_index": "ok", "session_store": "ok"},
		},
		{
			name:       "definitions missing",
			checks:     ReadinessChecks{DefinitionsLoaded: no},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"definitions": "error"},
		},
		{
			name:       "nil definitions check fails",
			checks:     ReadinessChecks{},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"definitions": "error"},
		},
		{
			name:       "openapi not loaded",
			checks:     ReadinessChecks{DefinitionsLoaded: yes, OpenAPILoaded: no},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"definitions": "ok", "openapi_index": "error"},
		},
		{
			name:       "session store down",
			checks:     ReadinessChecks{DefinitionsLoaded: yes, SessionStore: down},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"definitions": "ok", "session_store": "error"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := serveReady(t, tt.checks)
			if code != tt.wantStatus {
				t.Errorf("status = %d, want %d", code, tt.wantStatus)
			}
			wantOverall := "ready"
			if tt.wantStatus != http.StatusOK {
				wantOverall = "not_ready"
			}
			if resp.Status != wantOverall {
				t.Errorf("status = %q, want %q", resp.Status, wantOverall)
			}
			if len(resp.Checks) != len(tt.wantChecks) {
				t.Errorf("checks = %v, want %d entries", resp.Checks, len(tt.wantChecks))
			}
			for name, want := range tt.wantChecks {
				if got := resp.Checks[name].Status; got != want {
					t.Errorf("checks[%s] = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestHandleReady_reportsCheckError(t *testing.T) {
	_, resp := serveReady(t, ReadinessChecks{
		DefinitionsLoaded: func() bool { return true },
		SessionStore: HealthCheckFunc(func(context.Context) error {
			return errors.New("connection refused")
		}),
	})
	if got := resp.Checks["session_store"].Error; got != "connection refused" {
		t.Errorf("error = %q, want connection refused", got)
	}
}

func TestRunCheck_appliesTimeout(t *testing.T) {
	slow := HealthCheckFunc(func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
			return nil
		}
	})
	if r := runCheck(context.Background(), slow); r.Status != "ok" {
		t.Errorf("runCheck() = %+v, want ok", r)
	}
}
