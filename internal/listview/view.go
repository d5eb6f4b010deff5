package listview

import (
	"net/url"
	"sort"
	"strings"

	"github.com/pitabwire/caseview/model"
)

// Render describes the visible slice of the current view: the rows (and
// cards in grid view) of the current page, the pagination summary, and
// either the empty state or the pending notice.
func (c *Controller) Render() model.ViewDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.pageSize()
	count := c.pageCount()
	total := len(c.visible)
	start, end := pageBounds(c.current, size, total)

	vd := model.ViewDescriptor{
		PageID:   c.page.ID,
		Title:    c.page.Title,
		View:     c.view,
		Loaded:   c.loaded,
		Columns:  model.DescribeColumns(c.page.Columns),
		Rows:     make([]model.RowDescriptor, 0, end-start),
		Criteria: c.criteria.Clone(),
		Sort:     c.sort,
		Pagination: model.PaginationDescriptor{
			CurrentPage: c.current,
			PageCount:   count,
			PageSize:    size,
			Total:       total,
			SourceTotal: len(c.records),
			Window:      pageWindow(c.current, count),
			HasPrev:     c.current > 1,
			HasNext:     c.current < count,
		},
		Empty: c.loaded && total == 0,
	}
	if total > 0 {
		vd.Pagination.Start = start + 1
		vd.Pagination.End = end
	}
	if vd.Empty {
		vd.EmptyText = c.page.Messages.Empty
	}
	if c.notice != nil {
		n := *c.notice
		vd.Notice = &n
	}

	for _, r := range c.visible[start:end] {
		vd.Rows = append(vd.Rows, c.row(r))
	}
	vd.Summary = c.summary()
	return vd
}

func (c *Controller) row(r model.Record) model.RowDescriptor {
	row := model.RowDescriptor{
		Cells:  make([]string, len(c.page.Columns)),
		Record: r,
	}
	for i, col := range c.page.Columns {
		row.Cells[i] = col.Display(r)
	}
	for _, l := range c.page.Links {
		row.Links = append(row.Links, model.LinkDescriptor{
			Label: l.Label,
			Href:  expandRoute(l.Route, r),
			Style: l.Style,
		})
	}
	if c.view == model.ViewGrid {
		row.Card = c.card(r)
	}
	return row
}

func (c *Controller) card(r model.Record) *model.CardDescriptor {
	cd := &model.CardDescriptor{
		Title: c.display(c.page.Card.TitleField, r),
	}
	if c.page.Card.BadgeField != "" {
		cd.Badge = c.display(c.page.Card.BadgeField, r)
	}
	for _, f := range c.page.Card.Fields {
		label := f
		if col, ok := c.page.Column(f); ok {
			label = col.Label
		}
		cd.Fields = append(cd.Fields, model.CardField{Label: label, Value: c.display(f, r)})
	}
	return cd
}

func (c *Controller) display(field string, r model.Record) string {
	if col, ok := c.page.Column(field); ok {
		return col.Display(r)
	}
	return r.Text(field)
}

// summary counts the filtered view per value of the group-by field.
// Configured buckets are always listed, in order, even when empty.
func (c *Controller) summary() []model.SummaryBucket {
	field := c.page.Summary.GroupBy
	if field == "" {
		return nil
	}
	counts := make(map[string]int)
	for _, r := range c.visible {
		counts[r.Text(field)]++
	}

	if len(c.page.Summary.Buckets) > 0 {
		out := make([]model.SummaryBucket, 0, len(c.page.Summary.Buckets))
		for _, b := range c.page.Summary.Buckets {
			out = append(out, model.SummaryBucket{Value: b.Value, Label: b.Label, Count: counts[b.Value]})
		}
		return out
	}

	values := make([]string, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	sort.Strings(values)
	out := make([]model.SummaryBucket, 0, len(values))
	for _, v := range values {
		out = append(out, model.SummaryBucket{Value: v, Label: v, Count: counts[v]})
	}
	return out
}

// expandRoute fills {field} placeholders in route from the record.
func expandRoute(route string, r model.Record) string {
	var b strings.Builder
	for {
		open := strings.IndexByte(route, '{')
		if open < 0 {
			break
		}
		end := strings.IndexByte(route[open:], '}')
		if end < 0 {
			break
		}
		b.WriteString(route[:open])
		b.WriteString(url.PathEscape(r.Text(route[open+1 : open+end])))
		route = route[open+end+1:]
	}
	b.WriteString(route)
	return b.String()
}
