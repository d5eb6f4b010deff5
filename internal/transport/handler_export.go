package transport

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/pitabwire/caseview/internal/export"
	"github.com/pitabwire/caseview/internal/observability"
	"github.com/pitabwire/caseview/internal/session"
	"github.com/pitabwire/caseview/model"
)

// handleExport downloads the whole filtered view in display order. An empty
// view answers with EMPTY_EXPORT and the view carrying the notice.
func handleExport(format string, sessions *session.Manager, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, rctx, ok := acquire(w, r, sessions)
		if !ok {
			return
		}
		page := ctrl.Page()
		if !page.Export.Supports(format) {
			writeRequestError(w, r, model.NewNotFoundError(fmt.Sprintf("page %q does not export %s", page.ID, format)))
			return
		}
		if !ctrl.Loaded() {
			writeRequestError(w, r, model.NewNotLoadedError())
			return
		}

		ctx, span := observability.StartSpan(r.Context(), observability.SpanExport,
			observability.AttrPageID.String(page.ID),
			observability.AttrFormat.String(format),
		)
		var buf bytes.Buffer
		var err error
		switch format {
		case model.ExportXLSX:
			err = ctrl.ExportXLSX(&buf)
		default:
			err = ctrl.ExportCSV(&buf)
		}
		observability.EndSpanWithError(span, err)

		status := "ok"
		var ee *model.ErrorEnvelope
		switch {
		case err == nil:
		case errors.As(err, &ee) && ee.Code == model.ErrEmptyExport:
			status = "empty"
		default:
			status = "error"
			observability.LoggerFrom(ctx, zap.NewNop()).Error("export failed",
				zap.String("page_id", page.ID),
				zap.String("format", format),
				zap.Error(err),
			)
		}
		if metrics != nil {
			metrics.RecordExport(page.ID, format, status)
		}

		if err != nil {
			persist(r, sessions, rctx, ctrl)
			if status == "error" {
				writeRequestError(w, r, model.NewInternalError())
				return
			}
			writeView(w, r, ctrl.Render(), err)
			return
		}

		name := ctrl.ExportFileName(format)
		w.Header().Set("Content-Type", export.ContentType(format))
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}
