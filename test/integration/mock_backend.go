package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockBackend stands in for the upstream case search service. Each search
// operation answers from a script of replies; the last reply repeats once the
// script is exhausted and an empty success envelope is sent when nothing is
// scripted. Every received search is recorded.
type MockBackend struct {
	serviceID string
	server    *httptest.Server

	mu      sync.Mutex
	scripts map[string][]reply
	calls   map[string][]*SearchCall
}

// SearchCall is one search received by the mock.
type SearchCall struct {
	Method  string
	Path    string
	Headers http.Header
	Body    map[string]any
	At      time.Time
}

type reply struct {
	status int
	body   any
	raw    string
	delay  time.Duration
	hangUp bool
}

// searchRoutes are the search operations of testdata/specs/case-svc.yaml.
var searchRoutes = map[string]string{
	"searchCases":     "POST /cases/search",
	"searchReferrals": "POST /referrals/search",
}

// NewBackend starts a mock case-svc. Several harnesses may share one.
func NewBackend(t *testing.T) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		serviceID: caseService,
		scripts:   make(map[string][]reply),
		calls:     make(map[string][]*SearchCall),
	}
	mux := http.NewServeMux()
	for opID, pattern := range searchRoutes {
		mux.HandleFunc(pattern, mb.serve(opID))
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mock case-svc: no route for "+r.Method+" "+r.URL.Path, http.StatusNotFound)
	})

	mb.server = httptest.NewServer(mux)
	t.Cleanup(mb.server.Close)
	return mb
}

// URL returns the base URL of the mock.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// OperationMock appends replies to one operation's script.
type OperationMock struct {
	backend *MockBackend
	opID    string
}

// OnOperation returns the script builder for operationID.
func (mb *MockBackend) OnOperation(operationID string) *OperationMock {
	return &OperationMock{backend: mb, opID: operationID}
}

func (om *OperationMock) then(r reply) *OperationMock {
	om.backend.mu.Lock()
	om.backend.scripts[om.opID] = append(om.backend.scripts[om.opID], r)
	om.backend.mu.Unlock()
	return om
}

// RespondWith answers with status and body encoded as JSON. A nil body
// sends no content.
func (om *OperationMock) RespondWith(status int, body any) *OperationMock {
	return om.then(reply{status: status, body: body})
}

// RespondWithRecords answers with a successful envelope carrying records.
func (om *OperationMock) RespondWithRecords(records ...map[string]any) *OperationMock {
	return om.RespondWith(http.StatusOK, SearchEnvelope(records...))
}

// RespondWithRejection answers HTTP 200 with success=false and message.
func (om *OperationMock) RespondWithRejection(message string) *OperationMock {
	return om.RespondWith(http.StatusOK, map[string]any{"success": false, "message": message})
}

// RespondWithRaw answers with body written verbatim.
func (om *OperationMock) RespondWithRaw(status int, body string) *OperationMock {
	return om.then(reply{status: status, raw: body})
}

// RespondWithDelay answers after delay, or never if the caller gives up
// first.
func (om *OperationMock) RespondWithDelay(delay time.Duration, status int, body any) *OperationMock {
	return om.then(reply{status: status, body: body, delay: delay})
}

// RespondWithConnectionError closes the connection without answering.
func (om *OperationMock) RespondWithConnectionError() *OperationMock {
	return om.then(reply{hangUp: true})
}

func (mb *MockBackend) serve(opID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		call := &SearchCall{
			Method:  r.Method,
			Path:    r.URL.Path,
			Headers: r.Header.Clone(),
			At:      time.Now(),
		}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			_ = json.Unmarshal(raw, &call.Body)
		}

		mb.mu.Lock()
		mb.calls[opID] = append(mb.calls[opID], call)
		next, scripted := mb.next(opID)
		mb.mu.Unlock()

		if !scripted {
			writeJSON(w, http.StatusOK, SearchEnvelope())
			return
		}
		if next.hangUp {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
				}
			}
			return
		}
		if next.delay > 0 {
			select {
			case <-time.After(next.delay):
			case <-r.Context().Done():
				return
			}
		}
		if next.raw != "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(next.status)
			_, _ = io.WriteString(w, next.raw)
			return
		}
		writeJSON(w, next.status, next.body)
	}
}

// next pops the head of the operation's script, keeping the last reply.
// Callers hold mb.mu.
func (mb *MockBackend) next(opID string) (reply, bool) {
	script := mb.scripts[opID]
	if len(script) == 0 {
		return reply{}, false
	}
	head := script[0]
	if len(script) > 1 {
		mb.scripts[opID] = script[1:]
	}
	return head, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// Calls returns the number of searches received for operationID.
func (mb *MockBackend) Calls(operationID string) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.calls[operationID])
}

// AssertCalled checks that operationID was searched exactly want times.
func (mb *MockBackend) AssertCalled(t *testing.T, operationID string, want int) {
	t.Helper()
	if got := mb.Calls(operationID); got != want {
		t.Errorf("mock %s: %s called %d times, want %d", mb.serviceID, operationID, got, want)
	}
}

// AssertNotCalled checks that operationID was never searched.
func (mb *MockBackend) AssertNotCalled(t *testing.T, operationID string) {
	t.Helper()
	mb.AssertCalled(t, operationID, 0)
}

// LastRequest returns the latest search for operationID, or nil.
func (mb *MockBackend) LastRequest(operationID string) *SearchCall {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	calls := mb.calls[operationID]
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}
