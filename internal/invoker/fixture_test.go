package invoker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/caseview/internal/config"
	"github.com/pitabwire/caseview/model"
)

func loadFixture(t *testing.T) *FixtureHandler {
	t.Helper()
	h, err := NewFixtureHandler("demo-cases", config.HandlerConfig{
		File:          "testdata/cases.json",
		KeywordFields: []string{"id", "name"},
		StatusField:   "status",
	})
	require.NoError(t, err)
	return h
}

func TestFixtureHandler_load(t *testing.T) {
	h := loadFixture(t)
	assert.Equal(t, "demo-cases", h.Name())
	assert.Equal(t, 4, h.Len())
}

func TestFixtureHandler_envelopeFile(t *testing.T) {
	h, err := NewFixtureHandler("referrals", config.HandlerConfig{File: "testdata/envelope.json"})
	require.NoError(t, err)

	records, err := h.Search(context.Background(), nil, model.SearchRequest{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "R-1", records[0].Text("id"))
}

func TestFixtureHandler_Search(t *testing.T) {
	h := loadFixture(t)

	tests := []struct {
		name    string
		req     model.SearchRequest
		wantIDs []string
	}{
		{name: "everything", req: model.SearchRequest{}, wantIDs: []string{"C-001", "C-002", "C-003", "C-004"}},
		{name: "status filter", req: model.SearchRequest{StatusFilter: "1"}, wantIDs: []string{"C-001", "C-003", "C-004"}},
		{name: "keyword in name", req: model.SearchRequest{Keyword: "王"}, wantIDs: []string{"C-002"}},
		{name: "keyword case-insensitive", req: model.SearchRequest{Keyword: "wang"}, wantIDs: []string{"C-004"}},
		{name: "keyword and status", req: model.SearchRequest{Keyword: "c-00", StatusFilter: "2"}, wantIDs: []string{"C-002"}},
		{name: "no match", req: model.SearchRequest{Keyword: "zzz"}, wantIDs: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := h.Search(context.Background(), nil, tt.req)
			require.NoError(t, err)
			ids := make([]string, 0, len(records))
			for _, r := range records {
				ids = append(ids, r.Text("id"))
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestFixtureHandler_numbersStayExact(t *testing.T) {
	h := loadFixture(t)
	records, err := h.Search(context.Background(), nil, model.SearchRequest{})
	require.NoError(t, err)
	assert.Equal(t, "1", records[0].Text("gender"))
	assert.Equal(t, 2, records[1].Int("gender"))
}

func TestFixtureHandler_cancelledContext(t *testing.T) {
	h := loadFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Search(ctx, nil, model.SearchRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFixtureHandler_errors(t *testing.T) {
	_, err := NewFixtureHandler("x", config.HandlerConfig{File: "testdata/missing.json"})
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	_, err = NewFixtureHandler("x", config.HandlerConfig{File: bad})
	assert.Error(t, err)
}
