// Package openapi loads upstream OpenAPI specifications and indexes their
// operations by (serviceID, operationID) so search endpoints can be resolved
// and request bodies checked before they are sent.
package openapi

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/caseview/internal/config"
)

// SpecSource describes an OpenAPI spec file to load.
type SpecSource struct {
	ServiceID string
	BaseURL   string
	SpecPath  string
}

// SourcesFromConfig resolves the configured spec files against the spec
// directory and attaches each service's configured base URL.
func SourcesFromConfig(cfg *config.Config) []SpecSource {
	out := make([]SpecSource, 0, len(cfg.Specs.Sources))
	for _, src := range cfg.Specs.Sources {
		path := src.SpecFile
		if !filepath.IsAbs(path) && cfg.Specs.Directory != "" {
			path = filepath.Join(cfg.Specs.Directory, path)
		}
		out = append(out, SpecSource{
			ServiceID: src.ServiceID,
			BaseURL:   cfg.Services[src.ServiceID].BaseURL,
			SpecPath:  path,
		})
	}
	return out
}

// IndexedOperation is a resolved operation with the context needed to call
// it.
type IndexedOperation struct {
	ServiceID    string
	OperationID  string
	Method       string
	PathTemplate string
	RequestBody  *openapi3.RequestBody
	Responses    *openapi3.Responses
	BaseURL      string
}

// URL joins the operation's base URL and path.
func (op IndexedOperation) URL() string {
	return strings.TrimRight(op.BaseURL, "/") + op.PathTemplate
}

// ValidationError describes one schema violation in a request body.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) String() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Index is an in-memory index of OpenAPI operations. It is built once at
// startup and read concurrently afterwards.
type Index struct {
	operations map[string]IndexedOperation // "serviceID:operationID"
	byService  map[string][]string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		operations: make(map[string]IndexedOperation),
		byService:  make(map[string][]string),
	}
}

func operationKey(serviceID, operationID string) string {
	return serviceID + ":" + operationID
}

// Load parses and validates each spec and indexes every operation that has
// an operationId.
func (idx *Index) Load(specs []SpecSource) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	for _, src := range specs {
		doc, err := loader.LoadFromFile(src.SpecPath)
		if err != nil {
			return fmt.Errorf("openapi: loading %s (%s): %w", src.ServiceID, src.SpecPath, err)
		}
		if err := doc.Validate(context.Background()); err != nil {
			return fmt.Errorf("openapi: validating %s: %w", src.ServiceID, err)
		}

		baseURL := src.BaseURL
		if baseURL == "" && len(doc.Servers) > 0 {
			baseURL = doc.Servers[0].URL
		}

		for path, item := range doc.Paths.Map() {
			for method, op := range item.Operations() {
				if op.OperationID == "" {
					continue
				}
				var body *openapi3.RequestBody
				if op.RequestBody != nil {
					body = op.RequestBody.Value
				}
				idx.operations[operationKey(src.ServiceID, op.OperationID)] = IndexedOperation{
					ServiceID:    src.ServiceID,
					OperationID:  op.OperationID,
					Method:       method,
					PathTemplate: path,
					RequestBody:  body,
					Responses:    op.Responses,
					BaseURL:      baseURL,
				}
				idx.byService[src.ServiceID] = append(idx.byService[src.ServiceID], op.OperationID)
			}
		}
	}
	return nil
}

// GetOperation returns the indexed operation.
func (idx *Index) GetOperation(serviceID, operationID string) (IndexedOperation, bool) {
	op, ok := idx.operations[operationKey(serviceID, operationID)]
	return op, ok
}

// AllOperationIDs returns the service's operation IDs, sorted.
func (idx *Index) AllOperationIDs(serviceID string) []string {
	ids := slices.Clone(idx.byService[serviceID])
	slices.Sort(ids)
	return ids
}

// Services returns the indexed service IDs, sorted.
func (idx *Index) Services() []string {
	ids := make([]string, 0, len(idx.byService))
	for id := range idx.byService {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Loaded reports whether any operation has been indexed.
func (idx *Index) Loaded() bool {
	return len(idx.operations) > 0
}

// ValidateRequest checks a decoded JSON request body against the operation's
// application/json request schema. It returns nil when the body is valid or
// the operation declares no schema.
func (idx *Index) ValidateRequest(serviceID, operationID string, body any) []ValidationError {
	op, ok := idx.GetOperation(serviceID, operationID)
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("operation %s/%s not found", serviceID, operationID)}}
	}
	if op.RequestBody == nil {
		return nil
	}
	mt := op.RequestBody.Content.Get("application/json")
	if mt == nil || mt.Schema == nil || mt.Schema.Value == nil {
		return nil
	}

	err := mt.Schema.Value.VisitJSON(body, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	return flattenSchemaErrors(err)
}

func flattenSchemaErrors(err error) []ValidationError {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		var out []ValidationError
		for _, e := range multi {
			out = append(out, flattenSchemaErrors(e)...)
		}
		return out
	}
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		return []ValidationError{{
			Field:   strings.Join(se.JSONPointer(), "."),
			Message: se.Reason,
		}}
	}
	return []ValidationError{{Message: err.Error()}}
}
