package invoker

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pitabwire/caseview/internal/observability"
	"github.com/pitabwire/caseview/model"
)

// Source fetches a page's records through a SearchInvoker. It satisfies
// listview.Source.
type Source struct {
	invoker model.SearchInvoker
	pageID  string
	binding model.OperationBinding
}

// NewSource binds inv to the data source of page.
func NewSource(inv model.SearchInvoker, page model.PageDefinition) *Source {
	return &Source{
		invoker: inv,
		pageID:  page.ID,
		binding: page.DataSource.Binding(),
	}
}

// Binding returns the operation binding used for every fetch.
func (s *Source) Binding() model.OperationBinding {
	return s.binding
}

// Fetch runs the bound search inside an upstream.search span, passing the
// request context found in ctx.
func (s *Source) Fetch(ctx context.Context, req model.SearchRequest) ([]model.Record, error) {
	attrs := []attribute.KeyValue{observability.AttrPageID.String(s.pageID)}
	if s.binding.Type == model.BindingHandler {
		attrs = append(attrs, observability.AttrHandler.String(s.binding.Handler))
	} else {
		attrs = append(attrs,
			observability.AttrServiceID.String(s.binding.ServiceID),
			observability.AttrOperationID.String(s.binding.OperationID),
		)
	}
	ctx, span := observability.StartSpan(ctx, observability.SpanUpstreamSearch, attrs...)

	records, err := s.invoker.Search(ctx, model.RequestContextFrom(ctx), s.binding, req)
	span.SetAttributes(observability.AttrRecordCount.Int(len(records)))
	observability.EndSpanWithError(span, err)
	return records, err
}
