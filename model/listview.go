package model

import (
	"fmt"
	"maps"
	"strings"
)

// ViewMode selects how the visible page is rendered.
type ViewMode string

const (
	ViewTable ViewMode = "table"
	ViewGrid  ViewMode = "grid"
)

// ParseViewMode validates a view mode string.
func ParseViewMode(s string) (ViewMode, error) {
	switch ViewMode(strings.ToLower(strings.TrimSpace(s))) {
	case ViewTable:
		return ViewTable, nil
	case ViewGrid:
		return ViewGrid, nil
	}
	return "", fmt.Errorf("unknown view mode %q", s)
}

// SortDirection is either ascending or descending.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortSpec is the active sort. An empty Field means the source order.
type SortSpec struct {
	Field     string        `yaml:"field"     json:"field,omitempty"`
	Direction SortDirection `yaml:"direction" json:"direction,omitempty"`
}

// DateRange is an inclusive range over the date part of a field. Either
// bound may be empty.
type DateRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// IsZero reports whether neither bound is set.
func (d DateRange) IsZero() bool {
	return d.From == "" && d.To == ""
}

// FilterCriteria is the conjunction of predicates applied to the source
// collection. Field, when set, restricts the keyword to that one field.
type FilterCriteria struct {
	Keyword  string               `json:"keyword,omitempty"`
	Field    string               `json:"field,omitempty"`
	Equals   map[string]string    `json:"equals,omitempty"`
	Contains map[string]string    `json:"contains,omitempty"`
	Ranges   map[string]DateRange `json:"ranges,omitempty"`
}

// Normalized trims the keyword and drops predicates without a value.
func (c FilterCriteria) Normalized() FilterCriteria {
	out := FilterCriteria{
		Keyword: strings.TrimSpace(c.Keyword),
		Field:   strings.TrimSpace(c.Field),
	}
	for k, v := range c.Equals {
		if v = strings.TrimSpace(v); v != "" {
			if out.Equals == nil {
				out.Equals = map[string]string{}
			}
			out.Equals[k] = v
		}
	}
	for k, v := range c.Contains {
		if v = strings.TrimSpace(v); v != "" {
			if out.Contains == nil {
				out.Contains = map[string]string{}
			}
			out.Contains[k] = v
		}
	}
	for k, r := range c.Ranges {
		r = DateRange{From: strings.TrimSpace(r.From), To: strings.TrimSpace(r.To)}
		if !r.IsZero() {
			if out.Ranges == nil {
				out.Ranges = map[string]DateRange{}
			}
			out.Ranges[k] = r
		}
	}
	return out
}

// IsZero reports whether the criteria match every record.
func (c FilterCriteria) IsZero() bool {
	n := c.Normalized()
	return n.Keyword == "" && len(n.Equals) == 0 && len(n.Contains) == 0 && len(n.Ranges) == 0
}

// Clone returns a deep copy.
func (c FilterCriteria) Clone() FilterCriteria {
	c.Equals = maps.Clone(c.Equals)
	c.Contains = maps.Clone(c.Contains)
	c.Ranges = maps.Clone(c.Ranges)
	return c
}

// SearchRequest is the body posted to an upstream search endpoint.
type SearchRequest struct {
	Keyword      string `json:"keyword"`
	StatusFilter string `json:"status_filter,omitempty"`
}

// SearchResponse is the upstream search envelope.
type SearchResponse struct {
	Success bool     `json:"success"`
	Data    []Record `json:"data"`
	Message string   `json:"message,omitempty"`
}
