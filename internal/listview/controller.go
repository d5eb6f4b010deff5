// Package listview implements the list view controller: a single fetch of a
// page's records followed by in-memory filtering, sorting, pagination,
// rendering and export until the next explicit reload.
package listview

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/caseview/model"
)

// ErrSuperseded is returned by Load when a newer Load started before this one
// finished. The superseded result is discarded.
var ErrSuperseded = errors.New("listview: load superseded by a newer load")

// Source fetches the full record collection for a page.
type Source interface {
	Fetch(ctx context.Context, req model.SearchRequest) ([]model.Record, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, req model.SearchRequest) ([]model.Record, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context, req model.SearchRequest) ([]model.Record, error) {
	return f(ctx, req)
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock overrides the clock used for load timestamps and export file
// names.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller holds the state of one list page for one browser session. It
// is safe for concurrent use.
type Controller struct {
	page   model.PageDefinition
	source Source
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	records  []model.Record
	loaded   bool
	loadedAt time.Time
	criteria model.FilterCriteria
	sort     model.SortSpec
	current  int
	view     model.ViewMode
	notice   *model.Notice

	// visible is the filtered view in display order, recomputed on every
	// criteria or sort change.
	visible []model.Record

	gen    uint64
	cancel context.CancelFunc
}

// New creates a Controller for the given page definition.
func New(page model.PageDefinition, source Source, opts ...Option) *Controller {
	c := &Controller{
		page:    page,
		source:  source,
		logger:  zap.NewNop(),
		now:     time.Now,
		current: 1,
		view:    defaultView(page),
		sort:    defaultSort(page),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultView(page model.PageDefinition) model.ViewMode {
	if page.DefaultView != "" {
		return page.DefaultView
	}
	if len(page.Views) > 0 {
		return page.Views[0]
	}
	return model.ViewTable
}

// defaultSort is the page's initial ordering; a missing direction means
// ascending.
func defaultSort(page model.PageDefinition) model.SortSpec {
	s := page.DefaultSort
	if s.Field != "" && s.Direction == "" {
		s.Direction = model.SortAsc
	}
	return s
}

// Page returns the page definition driving this controller.
func (c *Controller) Page() model.PageDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// Rebind switches the controller to a reloaded definition of its page and
// the source built for it. Records, criteria, sort and page are kept and the
// view is recomputed; a view mode the new definition lacks falls back to its
// default. A Load in flight completes into this controller.
func (c *Controller) Rebind(page model.PageDefinition, source Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.page = page
	c.source = source
	if len(page.Views) > 0 && !slices.Contains(page.Views, c.view) {
		c.view = defaultView(page)
	}
	c.refresh()
}

// Loaded reports whether a load has succeeded at least once.
func (c *Controller) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// SourceLen returns the size of the loaded collection.
func (c *Controller) SourceLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Load fetches the whole collection with an empty keyword. On success the
// source is replaced, the criteria are cleared and the first page is shown;
// sort and view mode are kept. On failure the prior state is left untouched
// and a notice is recorded for the next render.
//
// A Load that is still in flight when another Load starts has its context
// cancelled and its result discarded; it returns ErrSuperseded.
func (c *Controller) Load(ctx context.Context) error {
	// 1. Claim a generation and cancel any older in-flight load.
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	source := c.source
	req := model.SearchRequest{
		Keyword:      "",
		StatusFilter: c.page.DataSource.StatusFilter,
	}
	c.mu.Unlock()
	defer cancel()

	// 2. Fetch without holding the lock.
	records, err := source.Fetch(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()

	// 3. Drop stale results.
	if gen != c.gen {
		c.logger.Debug("discarding superseded load",
			zap.String("page_id", c.page.ID),
			zap.Uint64("generation", gen),
		)
		return ErrSuperseded
	}
	c.cancel = nil

	// 4. Surface failures without touching the current view.
	if err != nil {
		ee := c.classifyLoadError(err)
		c.notice = &model.Notice{Level: "error", Code: ee.Code, Message: ee.Message}
		return ee
	}

	// 5. Replace the source and reset the derived state.
	c.records = records
	c.loaded = true
	c.loadedAt = c.now()
	c.criteria = model.FilterCriteria{}
	c.current = 1
	c.notice = nil
	c.refresh()

	c.logger.Debug("list loaded",
		zap.String("page_id", c.page.ID),
		zap.Int("records", len(records)),
	)
	return nil
}

// classifyLoadError maps a source error onto the user-facing taxonomy:
// application rejections keep the upstream message, everything else becomes
// the page's generic load-failed notice.
func (c *Controller) classifyLoadError(err error) *model.ErrorEnvelope {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) && ee.Code == model.ErrSearchRejected {
		return ee
	}
	return model.NewLoadFailedError(c.page.Messages.LoadFailed).WithCause(err)
}

// ApplyFilter replaces the criteria, recomputes the filtered view from the
// full source and returns to the first page.
func (c *Controller) ApplyFilter(criteria model.FilterCriteria) error {
	criteria = criteria.Normalized()

	c.mu.Lock()
	defer c.mu.Unlock()
	if criteria.Field != "" && !c.isKeywordField(criteria.Field) {
		return model.NewValidationError([]model.FieldError{{
			Field:   "field",
			Code:    "UNKNOWN_FIELD",
			Message: fmt.Sprintf("cannot search field %q", criteria.Field),
		}})
	}
	c.criteria = criteria
	c.current = 1
	c.notice = nil
	c.refresh()

	c.logger.Debug("filter applied",
		zap.String("page_id", c.page.ID),
		zap.String("keyword", criteria.Keyword),
		zap.Int("matches", len(c.visible)),
	)
	return nil
}

// Reset clears every criterion and returns to the first page.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.criteria = model.FilterCriteria{}
	c.current = 1
	c.notice = nil
	c.refresh()
}

// ApplySort sorts by field ascending, or flips the direction when field is
// already the sort key. The current page is kept, clamped to the page count.
func (c *Controller) ApplySort(field string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	col, ok := c.page.Column(field)
	if !ok || !col.Sortable {
		return model.NewValidationError([]model.FieldError{{
			Field:   "field",
			Code:    "NOT_SORTABLE",
			Message: fmt.Sprintf("column %q is not sortable", field),
		}})
	}
	if c.sort.Field == field {
		if c.sort.Direction == model.SortAsc {
			c.sort.Direction = model.SortDesc
		} else {
			c.sort.Direction = model.SortAsc
		}
	} else {
		c.sort = model.SortSpec{Field: field, Direction: model.SortAsc}
	}
	c.notice = nil
	c.refresh()
	return nil
}

// GoToPage moves to page n clamped to [1, pageCount] and returns the page
// now shown.
func (c *Controller) GoToPage(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = clampPage(n, c.pageCount())
	c.notice = nil
	return c.current
}

// ChangePage moves delta pages relative to the current one. Targets outside
// [1, pageCount] leave the state unchanged.
func (c *Controller) ChangePage(delta int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	target := c.current + delta
	if target < 1 || target > c.pageCount() {
		return c.current, false
	}
	c.current = target
	c.notice = nil
	return c.current, true
}

// SwitchView changes the rendering mode. The data is untouched.
func (c *Controller) SwitchView(mode model.ViewMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.page.Views) > 0 && !slices.Contains(c.page.Views, mode) {
		return model.NewBadRequestError(fmt.Sprintf("page %q has no %q view", c.page.ID, mode))
	}
	c.view = mode
	return nil
}

// ExportRecords returns a copy of the whole filtered view in display order.
// An empty view is refused with EMPTY_EXPORT and a notice.
func (c *Controller) ExportRecords() ([]model.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.visible) == 0 {
		ee := model.NewEmptyExportError(c.page.Messages.ExportEmpty)
		c.notice = &model.Notice{Level: "info", Code: ee.Code, Message: ee.Message}
		return nil, ee
	}
	return slices.Clone(c.visible), nil
}

// Now returns the controller's clock reading.
func (c *Controller) Now() time.Time {
	return c.now()
}

// isKeywordField reports whether field may restrict the keyword. Callers
// hold c.mu.
func (c *Controller) isKeywordField(field string) bool {
	if slices.Contains(c.page.SearchableFields, field) {
		return true
	}
	_, ok := c.page.Column(field)
	return ok
}

// refresh recomputes the visible view and clamps the current page. Callers
// hold c.mu.
func (c *Controller) refresh() {
	c.visible = filterRecords(c.records, c.criteria, c.page.SearchableFields)
	sortRecords(c.visible, c.sort, c.page.NumericFields)
	c.current = clampPage(c.current, c.pageCount())
}

func (c *Controller) pageSize() int {
	if !c.page.IsPaginated() {
		return max(1, len(c.visible))
	}
	return max(1, c.page.PageSize)
}

func (c *Controller) pageCount() int {
	return pageCount(len(c.visible), c.pageSize())
}
