package model

import "context"

// Binding types.
const (
	BindingHTTP    = "http"
	BindingHandler = "handler"
)

// OperationBinding identifies the search operation backing a page.
type OperationBinding struct {
	Type        string `json:"type"`
	ServiceID   string `json:"service_id,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
	Handler     string `json:"handler,omitempty"`
}

// SearchInvoker is the unified interface for upstream search invocation.
type SearchInvoker interface {
	// Search calls the search operation described by the binding.
	Search(ctx context.Context, rctx *RequestContext, binding OperationBinding, req SearchRequest) ([]Record, error)

	// Supports returns true if this invoker can handle the given binding type.
	Supports(binding OperationBinding) bool
}
