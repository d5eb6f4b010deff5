// Package invoker calls the search operation behind a page: upstream HTTP
// endpoints guarded by per-service circuit breakers, or named in-process
// handlers.
package invoker

import (
	"context"
	"fmt"

	"github.com/pitabwire/caseview/model"
)

// Registry dispatches searches to the first registered invoker that
// supports the binding. It implements model.SearchInvoker.
type Registry struct {
	invokers []model.SearchInvoker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an invoker.
func (r *Registry) Register(inv model.SearchInvoker) {
	r.invokers = append(r.invokers, inv)
}

// Supports reports whether any registered invoker handles the binding.
func (r *Registry) Supports(binding model.OperationBinding) bool {
	for _, inv := range r.invokers {
		if inv.Supports(binding) {
			return true
		}
	}
	return false
}

// Search delegates to the first invoker supporting the binding.
func (r *Registry) Search(ctx context.Context, rctx *model.RequestContext, binding model.OperationBinding, req model.SearchRequest) ([]model.Record, error) {
	for _, inv := range r.invokers {
		if inv.Supports(binding) {
			return inv.Search(ctx, rctx, binding, req)
		}
	}
	return nil, model.NewInternalError().WithCause(
		fmt.Errorf("invoker: no invoker supports binding type %q", binding.Type))
}
