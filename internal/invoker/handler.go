package invoker

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/pitabwire/caseview/model"
)

// SearchHandler is an in-process search operation, bound to pages by name.
type SearchHandler interface {
	Name() string
	Search(ctx context.Context, rctx *model.RequestContext, req model.SearchRequest) ([]model.Record, error)
}

// HandlerRegistry stores named search handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]SearchHandler
}

// NewHandlerRegistry creates an empty HandlerRegistry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]SearchHandler)}
}

// Register adds h under its Name. Registering a name twice is a wiring bug
// and panics.
func (r *HandlerRegistry) Register(h SearchHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Name()]; exists {
		panic(fmt.Sprintf("invoker: search handler %q already registered", h.Name()))
	}
	r.handlers[h.Name()] = h
}

// Get returns the handler registered under name.
func (r *HandlerRegistry) Get(name string) (SearchHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered handler names, sorted.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// HandlerInvoker serves handler bindings from a HandlerRegistry.
type HandlerInvoker struct {
	registry *HandlerRegistry
}

// NewHandlerInvoker creates an invoker backed by registry.
func NewHandlerInvoker(registry *HandlerRegistry) *HandlerInvoker {
	return &HandlerInvoker{registry: registry}
}

// Supports returns true for handler bindings.
func (inv *HandlerInvoker) Supports(binding model.OperationBinding) bool {
	return binding.Type == model.BindingHandler
}

// Search looks up binding.Handler and delegates to it.
func (inv *HandlerInvoker) Search(ctx context.Context, rctx *model.RequestContext, binding model.OperationBinding, req model.SearchRequest) ([]model.Record, error) {
	h, ok := inv.registry.Get(binding.Handler)
	if !ok {
		return nil, model.NewInternalError().WithCause(
			fmt.Errorf("invoker: search handler %q not found", binding.Handler))
	}
	return h.Search(ctx, rctx, req)
}
