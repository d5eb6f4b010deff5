package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON body of the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON body of the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ReadinessChecks holds the dependency checks behind /ui/ready.
// DefinitionsLoaded always runs; nil optional checks are skipped.
type ReadinessChecks struct {
	DefinitionsLoaded func() bool

	OpenAPILoaded func() bool
	SessionStore  HealthChecker
}

const checkTimeout = 2 * time.Second

// HandleHealth serves the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady serves the readiness endpoint. Checks run concurrently; any
// failure yields 503.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := make(map[string]CheckResult)
		var mu sync.Mutex
		var wg sync.WaitGroup

		record := func(name string, result CheckResult) {
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}
		run := func(name string, fn func() CheckResult) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				record(name, fn())
			}()
		}

		run("definitions", func() CheckResult {
			return flagCheck(checks.DefinitionsLoaded, "no page definitions loaded")
		})
		if checks.OpenAPILoaded != nil {
			run("openapi_index", func() CheckResult {
				return flagCheck(checks.OpenAPILoaded, "no OpenAPI specs loaded")
			})
		}
		if checks.SessionStore != nil {
			run("session_store", func() CheckResult {
				return runCheck(r.Context(), checks.SessionStore)
			})
		}

		wg.Wait()

		status := "ready"
		httpStatus := http.StatusOK
		for _, result := range results {
			if result.Status != "ok" {
				status = "not_ready"
				httpStatus = http.StatusServiceUnavailable
				break
			}
		}

		writeHealthJSON(w, httpStatus, ReadinessResponse{Status: status, Checks: results})
	}
}

func flagCheck(fn func() bool, failure string) CheckResult {
	start := time.Now()
	ok := fn != nil && fn()
	result := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if !ok {
		result.Status = "error"
		result.Error = failure
	}
	return result
}

// runCheck executes a health check with a per-check timeout.
func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	result := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		result.Status = "error"
		result.Error = err.Error()
	}
	return result
}

func writeHealthJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
