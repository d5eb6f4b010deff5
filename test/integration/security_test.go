package integration

import (
	"html"
	"net/http"
	"regexp"
	"testing"

	"github.com/pitabwire/caseview/model"
)

var csrfToken = regexp.MustCompile(`<meta name="csrf-token" content="([^"]+)">`)

func TestSecurity_CSRFProtectsStateChanges(t *testing.T) {
	h := NewTestHarness(t, WithCSRF([]byte("fedcba9876543210fedcba9876543210")))
	h.MockBackend().OnOperation("searchCases").RespondWithRecords(CaseRecords(3)...)
	b := h.NewBrowser()

	page := string(h.ReadBody(b.GET("/pages/case-query")))
	m := csrfToken.FindStringSubmatch(page)
	if m == nil {
		t.Fatal("page has no csrf-token meta tag")
	}

	// Without the header every mutating route is refused.
	for _, action := range []string{"load", "filter", "reset", "sort", "page", "view-mode"} {
		resp := b.POST("/ui/pages/case-query/"+action, map[string]any{})
		var body ViewResponse
		h.AssertJSON(t, resp, http.StatusForbidden, &body)
		if body.Error == nil || body.Error.Code != model.ErrForbidden {
			t.Errorf("%s: error = %+v, want FORBIDDEN", action, body.Error)
		}
	}
	resp := b.DELETE("/ui/pages/case-query/state")
	h.AssertStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	// Reads stay open.
	resp = b.GET("/ui/pages/case-query/export.csv")
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	b.SetHeader("X-CSRF-Token", html.UnescapeString(m[1]))
	status, body := b.Action(t, "case-query", "sort", map[string]any{"field": "medical_record_no"})
	if status != http.StatusOK {
		t.Fatalf("status with token = %d, want 200 (%+v)", status, body.Error)
	}
	if body.View.Sort.Field != "medical_record_no" {
		t.Errorf("sort = %+v", body.View.Sort)
	}
	h.MockBackend().AssertCalled(t, "searchCases", 1)
}

func TestSecurity_TokenFromAnotherSessionIsRejected(t *testing.T) {
	h := NewTestHarness(t, WithCSRF([]byte("fedcba9876543210fedcba9876543210")))
	alice := h.NewBrowser()
	mallory := h.NewBrowser()

	m := csrfToken.FindStringSubmatch(string(h.ReadBody(alice.GET("/pages/phone-followup"))))
	if m == nil {
		t.Fatal("page has no csrf-token meta tag")
	}
	mallory.SetHeader("X-CSRF-Token", html.UnescapeString(m[1]))

	resp := mallory.POST("/ui/pages/phone-followup/reset", nil)
	h.AssertStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestSecurity_SessionCookie(t *testing.T) {
	h := NewTestHarness(t)
	resp := h.NewBrowser().GET("/ui/navigation")
	defer resp.Body.Close()

	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "caseview_session" {
			session = c
		}
	}
	if session == nil {
		t.Fatal("no caseview_session cookie")
	}
	if !session.HttpOnly {
		t.Error("session cookie is not HttpOnly")
	}
	if session.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", session.SameSite)
	}
	if session.Path != "/" {
		t.Errorf("Path = %q, want /", session.Path)
	}
}

func TestSecurity_ResponseHeaders(t *testing.T) {
	h := NewTestHarness(t)
	b := h.NewBrowser()

	for _, path := range []string{"/ui/navigation", "/pages/phone-followup"} {
		resp := b.GET(path)
		resp.Body.Close()
		if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
			t.Errorf("%s: X-Content-Type-Options = %q", path, got)
		}
		if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
			t.Errorf("%s: X-Frame-Options = %q", path, got)
		}
		if resp.Header.Get("X-Correlation-Id") == "" {
			t.Errorf("%s: missing X-Correlation-Id", path)
		}
	}
}

func TestSecurity_RecordValuesAreEscaped(t *testing.T) {
	h := NewTestHarness(t)
	h.MockBackend().OnOperation("searchCases").RespondWithRecords(
		CaseFixture("X001", `<script>alert("x")</script>`, 1, "2024-02-01"),
	)
	b := h.NewBrowser()

	page := string(h.ReadBody(b.GET("/pages/case-query")))
	if regexp.MustCompile(`<script>alert`).MatchString(page) {
		t.Error("record value rendered unescaped")
	}
	if !regexp.MustCompile(`&lt;script&gt;alert`).MatchString(page) {
		t.Error("escaped record value not found")
	}
}
