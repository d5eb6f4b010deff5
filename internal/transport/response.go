// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the list pages.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/caseview/internal/observability"
	"github.com/pitabwire/caseview/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrForbidden:          http.StatusForbidden,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrBackendUnavailable: http.StatusBadGateway,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
	model.ErrLoadFailed:         http.StatusBadGateway,
	model.ErrSearchRejected:     http.StatusUnprocessableEntity,
	model.ErrEmptyExport:        http.StatusUnprocessableEntity,
	model.ErrNotLoaded:          http.StatusConflict,
}

// viewResponse is the body of every state-changing route: the re-rendered
// view, plus the error when the operation failed but the view survived.
type viewResponse struct {
	Error *model.ErrorEnvelope `json:"error,omitempty"`
	View  model.ViewDescriptor `json:"view"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. If err is not an *ErrorEnvelope, a generic 500 is returned.
func WriteError(w http.ResponseWriter, err error) {
	ee := toEnvelope(err)
	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, statusFor(ee), errorResponse{Error: ee})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// writeRequestError stamps the trace ID on the envelope before writing it.
func writeRequestError(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, withTraceID(r, toEnvelope(err)))
}

// writeView writes the view with 200, or with the error's status and the
// error alongside the view when err is non-nil.
func writeView(w http.ResponseWriter, r *http.Request, view model.ViewDescriptor, err error) {
	if err == nil {
		WriteJSON(w, http.StatusOK, viewResponse{View: view})
		return
	}
	ee := withTraceID(r, toEnvelope(err))
	WriteJSON(w, statusFor(ee), viewResponse{Error: ee, View: view})
}

func toEnvelope(err error) *model.ErrorEnvelope {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}
	return model.NewInternalError()
}

func statusFor(ee *model.ErrorEnvelope) int {
	if status := statusForCode[ee.Code]; status != 0 {
		return status
	}
	return http.StatusInternalServerError
}

func withTraceID(r *http.Request, ee *model.ErrorEnvelope) *model.ErrorEnvelope {
	if ee.TraceID != "" {
		return ee
	}
	traceID := observability.TraceIDFromContext(r.Context())
	if traceID == "" {
		if rctx := model.RequestContextFrom(r.Context()); rctx != nil {
			traceID = rctx.CorrelationID
		}
	}
	cp := *ee
	cp.TraceID = traceID
	return &cp
}
