package transport

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"github.com/pitabwire/caseview/internal/listview"
	"github.com/pitabwire/caseview/internal/metadata"
	"github.com/pitabwire/caseview/internal/observability"
	"github.com/pitabwire/caseview/internal/render"
	"github.com/pitabwire/caseview/internal/session"
	"github.com/pitabwire/caseview/model"
)

// Load outcomes reported to metrics.
const (
	loadOK         = "ok"
	loadFailed     = "failed"
	loadRejected   = "rejected"
	loadSuperseded = "superseded"
)

func handleGetPage(pages *metadata.PageProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		desc, err := pages.GetPage(chi.URLParam(r, "pageId"))
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, desc)
	}
}

// handlePageHTML serves the full list page. The first visit of a session
// loads the list before rendering; a failed load renders the notice.
func handlePageHTML(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		desc, err := deps.Pages.GetPage(chi.URLParam(r, "pageId"))
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		ctrl, rctx, ok := acquire(w, r, deps.Sessions)
		if !ok {
			return
		}

		if !ctrl.Loaded() {
			_ = loadList(r.Context(), ctrl, deps.Metrics)
			persist(r, deps.Sessions, rctx, ctrl)
		}

		var buf bytes.Buffer
		err = deps.Renderer.Page(&buf, render.PageData{
			Page:       desc,
			View:       ctrl.Render(),
			Navigation: deps.Menu.GetMenu(),
			CSRFToken:  csrf.Token(r),
		})
		if err != nil {
			observability.LoggerFrom(r.Context(), deps.Logger).Error("page render failed", zap.Error(err))
			writeRequestError(w, r, model.NewInternalError())
			return
		}
		writeHTML(w, buf.Bytes())
	}
}

func handleFragment(sessions *session.Manager, renderer *render.Renderer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, _, ok := acquire(w, r, sessions)
		if !ok {
			return
		}
		var buf bytes.Buffer
		if err := renderer.Fragment(&buf, ctrl.Render()); err != nil {
			observability.LoggerFrom(r.Context(), logger).Error("fragment render failed", zap.Error(err))
			writeRequestError(w, r, model.NewInternalError())
			return
		}
		writeHTML(w, buf.Bytes())
	}
}

func handleGetView(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, _, ok := acquire(w, r, sessions)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, ctrl.Render())
	}
}

// --- helpers ---

// acquire resolves the session's controller for the routed page.
func acquire(w http.ResponseWriter, r *http.Request, sessions *session.Manager) (*listview.Controller, *model.RequestContext, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		writeRequestError(w, r, model.NewInternalError())
		return nil, nil, false
	}
	ctrl, err := sessions.Acquire(r.Context(), rctx.SessionID, chi.URLParam(r, "pageId"))
	if err != nil {
		writeRequestError(w, r, err)
		return nil, nil, false
	}
	return ctrl, rctx, true
}

// persist saves the controller state. A store failure is logged and the
// request still succeeds with the live state.
func persist(r *http.Request, sessions *session.Manager, rctx *model.RequestContext, ctrl *listview.Controller) {
	if err := sessions.Persist(r.Context(), rctx.SessionID, ctrl); err != nil {
		observability.LoggerFrom(r.Context(), zap.NewNop()).Warn("session state not persisted", zap.Error(err))
	}
}

// loadList runs a traced, measured Load.
func loadList(ctx context.Context, ctrl *listview.Controller, metrics *observability.Metrics) error {
	pageID := ctrl.Page().ID
	logger := observability.PageLogger(observability.LoggerFrom(ctx, zap.NewNop()), pageID)

	ctx, span := observability.StartSpan(ctx, observability.SpanViewLoad, observability.AttrPageID.String(pageID))
	start := time.Now()
	err := ctrl.Load(ctx)
	duration := time.Since(start)

	status := loadStatus(err)
	records := 0
	switch status {
	case loadOK:
		records = ctrl.SourceLen()
		span.SetAttributes(observability.AttrRecordCount.Int(records))
		logger.Info("list loaded", zap.Int("records", records), zap.Duration("duration", duration))
	case loadSuperseded:
		logger.Debug("load superseded")
	case loadRejected:
		logger.Warn("search rejected by upstream", zap.Error(err))
	default:
		logger.Error("list load failed", zap.Error(err))
	}
	if status == loadSuperseded {
		observability.EndSpanWithError(span, nil)
	} else {
		observability.EndSpanWithError(span, err)
	}

	if metrics != nil {
		metrics.RecordViewLoad(pageID, status, duration, records)
	}
	return err
}

func loadStatus(err error) string {
	if err == nil {
		return loadOK
	}
	if errors.Is(err, listview.ErrSuperseded) {
		return loadSuperseded
	}
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) && ee.Code == model.ErrSearchRejected {
		return loadRejected
	}
	return loadFailed
}

func writeHTML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
