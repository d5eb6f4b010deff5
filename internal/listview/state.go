package listview

import (
	"slices"
	"time"

	"github.com/pitabwire/caseview/model"
)

// State is a serialisable snapshot of a controller, used to persist page
// state between requests.
type State struct {
	Records  []model.Record       `json:"records"`
	Loaded   bool                 `json:"loaded"`
	LoadedAt time.Time            `json:"loaded_at,omitzero"`
	Criteria model.FilterCriteria `json:"criteria"`
	Sort     model.SortSpec       `json:"sort"`
	Page     int                  `json:"page"`
	View     model.ViewMode       `json:"view"`
	Notice   *model.Notice        `json:"notice,omitempty"`
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		Records:  slices.Clone(c.records),
		Loaded:   c.loaded,
		LoadedAt: c.loadedAt,
		Criteria: c.criteria.Clone(),
		Sort:     c.sort,
		Page:     c.current,
		View:     c.view,
	}
	if c.notice != nil {
		n := *c.notice
		s.Notice = &n
	}
	return s
}

// Restore replaces the controller's state with s, recomputing the view from
// the restored source. An unknown view mode falls back to the page default.
func (c *Controller) Restore(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = s.Records
	c.loaded = s.Loaded
	c.loadedAt = s.LoadedAt
	c.criteria = s.Criteria.Normalized()
	c.sort = s.Sort
	c.current = s.Page
	c.view = s.View
	if c.view == "" || (len(c.page.Views) > 0 && !slices.Contains(c.page.Views, c.view)) {
		c.view = defaultView(c.page)
	}
	c.notice = s.Notice
	c.refresh()
}

// LoadedAt returns the time of the last successful load.
func (c *Controller) LoadedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadedAt
}
