package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pitabwire/caseview/internal/config"
	"github.com/pitabwire/caseview/model"
)

// FixtureHandler serves records from a JSON file. It applies the same coarse
// filtering a search upstream would: a case-insensitive keyword match over
// the configured fields and an exact status match.
type FixtureHandler struct {
	name          string
	records       []model.Record
	keywordFields []string
	statusField   string
}

// NewFixtureHandler loads cfg.File, which holds either a JSON array of
// records or a search envelope ({"success": true, "data": [...]}).
func NewFixtureHandler(name string, cfg config.HandlerConfig) (*FixtureHandler, error) {
	raw, err := os.ReadFile(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("invoker: reading fixture %s: %w", cfg.File, err)
	}
	records, err := decodeFixture(raw)
	if err != nil {
		return nil, fmt.Errorf("invoker: parsing fixture %s: %w", cfg.File, err)
	}
	return &FixtureHandler{
		name:          name,
		records:       records,
		keywordFields: cfg.KeywordFields,
		statusField:   cfg.StatusField,
	}, nil
}

func decodeFixture(raw []byte) ([]model.Record, error) {
	trimmed := bytes.TrimSpace(raw)
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []model.Record
		if err := dec.Decode(&records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var env model.SearchResponse
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// Name returns the handler's binding name.
func (h *FixtureHandler) Name() string { return h.name }

// Len returns the number of records in the fixture.
func (h *FixtureHandler) Len() int { return len(h.records) }

// Search returns the fixture records matching req.
func (h *FixtureHandler) Search(ctx context.Context, _ *model.RequestContext, req model.SearchRequest) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keyword := strings.ToLower(strings.TrimSpace(req.Keyword))
	out := make([]model.Record, 0, len(h.records))
	for _, r := range h.records {
		if req.StatusFilter != "" && h.statusField != "" && r.Text(h.statusField) != req.StatusFilter {
			continue
		}
		if keyword != "" && !h.matchesKeyword(r, keyword) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (h *FixtureHandler) matchesKeyword(r model.Record, keyword string) bool {
	for _, f := range h.keywordFields {
		if strings.Contains(strings.ToLower(r.Text(f)), keyword) {
			return true
		}
	}
	return false
}
