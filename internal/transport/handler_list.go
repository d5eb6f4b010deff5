package transport

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/pitabwire/caseview/internal/listview"
	"github.com/pitabwire/caseview/internal/observability"
	"github.com/pitabwire/caseview/internal/session"
	"github.com/pitabwire/caseview/model"
)

const maxBodyBytes = 64 << 10

// View operations reported to metrics.
const (
	opFilter   = "filter"
	opReset    = "reset"
	opSort     = "sort"
	opPage     = "page"
	opViewMode = "view_mode"
	opForget   = "forget"
)

type sortRequest struct {
	Field string `json:"field"`
}

type pageRequest struct {
	Page  *int `json:"page"`
	Delta *int `json:"delta"`
}

type viewModeRequest struct {
	Mode string `json:"mode"`
}

// handleLoad reloads the list. A failed load answers with the error and the
// preserved view; a load superseded by a newer one answers with the view.
func handleLoad(sessions *session.Manager, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, rctx, ok := acquire(w, r, sessions)
		if !ok {
			return
		}
		err := loadList(r.Context(), ctrl, metrics)
		if errors.Is(err, listview.ErrSuperseded) {
			err = nil
		}
		persist(r, sessions, rctx, ctrl)
		writeView(w, r, ctrl.Render(), err)
	}
}

func handleFilter(sessions *session.Manager, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		criteria, err := decodeCriteria(w, r)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		mutate(w, r, sessions, metrics, opFilter, func(ctrl *listview.Controller) error {
			return ctrl.ApplyFilter(criteria)
		})
	}
}

func handleReset(sessions *session.Manager, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mutate(w, r, sessions, metrics, opReset, func(ctrl *listview.Controller) error {
			ctrl.Reset()
			return nil
		})
	}
}

func handleSort(sessions *session.Manager, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sortRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeRequestError(w, r, err)
			return
		}
		mutate(w, r, sessions, metrics, opSort, func(ctrl *listview.Controller) error {
			return ctrl.ApplySort(req.Field)
		})
	}
}

// handlePage moves to an absolute page (clamped) or by a relative delta
// (ignored when it would leave the page range).
func handlePage(sessions *session.Manager, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pageRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeRequestError(w, r, err)
			return
		}
		if (req.Page == nil) == (req.Delta == nil) {
			writeRequestError(w, r, model.NewBadRequestError("exactly one of page or delta is required"))
			return
		}
		mutate(w, r, sessions, metrics, opPage, func(ctrl *listview.Controller) error {
			if req.Delta != nil {
				ctrl.ChangePage(*req.Delta)
			} else {
				ctrl.GoToPage(*req.Page)
			}
			return nil
		})
	}
}

func handleViewMode(sessions *session.Manager, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req viewModeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeRequestError(w, r, err)
			return
		}
		mode, err := model.ParseViewMode(req.Mode)
		if err != nil {
			writeRequestError(w, r, model.NewBadRequestError(err.Error()))
			return
		}
		mutate(w, r, sessions, metrics, opViewMode, func(ctrl *listview.Controller) error {
			return ctrl.SwitchView(mode)
		})
	}
}

func handleForget(sessions *session.Manager, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, rctx, ok := acquire(w, r, sessions)
		if !ok {
			return
		}
		pageID := ctrl.Page().ID
		if err := sessions.Forget(r.Context(), rctx.SessionID, pageID); err != nil {
			writeRequestError(w, r, err)
			return
		}
		if metrics != nil {
			metrics.RecordViewOperation(pageID, opForget)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// mutate applies op to the session's controller, persists the new state and
// answers with the re-rendered view. A rejected op leaves the state as it
// was and answers with the error alone.
func mutate(
	w http.ResponseWriter,
	r *http.Request,
	sessions *session.Manager,
	metrics *observability.Metrics,
	name string,
	op func(*listview.Controller) error,
) {
	ctrl, rctx, ok := acquire(w, r, sessions)
	if !ok {
		return
	}
	if err := op(ctrl); err != nil {
		writeRequestError(w, r, err)
		return
	}
	persist(r, sessions, rctx, ctrl)
	if metrics != nil {
		metrics.RecordViewOperation(ctrl.Page().ID, name)
	}
	writeView(w, r, ctrl.Render(), nil)
}

// --- request decoding ---

// decodeJSON decodes a bounded JSON body into dst. An empty body leaves dst
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return model.NewBadRequestError("request body is not valid JSON")
	}
	return nil
}

// decodeCriteria reads filter criteria from a JSON body or from a form post
// using the field names of the list page form.
func decodeCriteria(w http.ResponseWriter, r *http.Request) (model.FilterCriteria, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/x-www-form-urlencoded" {
		var c model.FilterCriteria
		err := decodeJSON(w, r, &c)
		return c, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return model.FilterCriteria{}, model.NewBadRequestError("request form is malformed")
	}
	return criteriaFromForm(r.PostForm), nil
}

// criteriaFromForm maps keyword, field, eq:<f>, contains:<f>, from:<f> and
// to:<f> form fields onto criteria.
func criteriaFromForm(form url.Values) model.FilterCriteria {
	c := model.FilterCriteria{
		Keyword: form.Get("keyword"),
		Field:   form.Get("field"),
	}
	for name, values := range form {
		kind, field, ok := strings.Cut(name, ":")
		if !ok || field == "" || len(values) == 0 {
			continue
		}
		v := values[0]
		switch kind {
		case "eq":
			if c.Equals == nil {
				c.Equals = map[string]string{}
			}
			c.Equals[field] = v
		case "contains":
			if c.Contains == nil {
				c.Contains = map[string]string{}
			}
			c.Contains[field] = v
		case "from", "to":
			if c.Ranges == nil {
				c.Ranges = map[string]model.DateRange{}
			}
			dr := c.Ranges[field]
			if kind == "from" {
				dr.From = v
			} else {
				dr.To = v
			}
			c.Ranges[field] = dr
		}
	}
	return c
}
