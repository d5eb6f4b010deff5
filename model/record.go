package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Record is a single case record as returned by the search endpoint. Field
// names are opaque; only the names configured for a page are interpreted.
type Record map[string]any

// Text returns the field value as a string. Missing and null values yield
// the empty string.
func (r Record) Text(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// DatePart returns the calendar-date portion of a date-like field, i.e.
// everything before the first 'T'.
func (r Record) DatePart(field string) string {
	s := r.Text(field)
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		return s[:i]
	}
	return s
}

// Int coerces the field to an integer the way a lenient leading-digits parse
// does: surrounding space is ignored, trailing garbage is dropped and
// anything without a leading integer is 0.
func (r Record) Int(field string) int {
	switch t := r[field].(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	}
	return LeadingInt(r.Text(field))
}

// LeadingInt parses the optional sign and digits at the start of s.
func LeadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}
