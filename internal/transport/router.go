package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/caseview/internal/config"
	"github.com/pitabwire/caseview/internal/metadata"
	"github.com/pitabwire/caseview/internal/observability"
	"github.com/pitabwire/caseview/internal/render"
	"github.com/pitabwire/caseview/internal/session"
	"github.com/pitabwire/caseview/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Pages    *metadata.PageProvider
	Menu     *metadata.MenuProvider
	Sessions *session.Manager
	Renderer *render.Renderer

	// CSRFKey enables CSRF protection when server.csrf.enabled is set.
	CSRFKey []byte

	HealthHandler  http.Handler
	ReadyHandler   http.Handler
	MetricsHandler http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// session middleware.
func NewRouter(deps Dependencies) chi.Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	cfg := deps.Config

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(deps.Logger))
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes.
	health := deps.HealthHandler
	if health == nil {
		health = observability.HandleHealth()
	}
	r.Method(http.MethodGet, "/ui/health", health)
	if deps.ReadyHandler != nil {
		r.Method(http.MethodGet, "/ui/ready", deps.ReadyHandler)
	}
	if deps.MetricsHandler != nil && cfg.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, cfg.Observability.Metrics.Path, deps.MetricsHandler)
	}

	// Session-scoped routes.
	r.Group(func(r chi.Router) {
		r.Use(Session(cfg.Session, deps.Logger))
		if cfg.Server.CSRF.Enabled && len(deps.CSRFKey) > 0 {
			r.Use(CSRF(cfg.Server.CSRF, deps.CSRFKey))
		}
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))

		r.Get("/", handleIndex(deps.Menu))
		r.Get("/ui/navigation", handleNavigation(deps.Menu))
		r.Get("/pages/{pageId}", handlePageHTML(deps))

		r.Route("/ui/pages/{pageId}", func(r chi.Router) {
			r.Get("/", handleGetPage(deps.Pages))
			r.Get("/view", handleGetView(deps.Sessions))
			r.Get("/fragment", handleFragment(deps.Sessions, deps.Renderer, deps.Logger))
			r.Post("/load", handleLoad(deps.Sessions, deps.Metrics))
			r.Post("/filter", handleFilter(deps.Sessions, deps.Metrics))
			r.Post("/reset", handleReset(deps.Sessions, deps.Metrics))
			r.Post("/sort", handleSort(deps.Sessions, deps.Metrics))
			r.Post("/page", handlePage(deps.Sessions, deps.Metrics))
			r.Post("/view-mode", handleViewMode(deps.Sessions, deps.Metrics))
			r.Get("/export.csv", handleExport(model.ExportCSV, deps.Sessions, deps.Metrics))
			r.Get("/export.xlsx", handleExport(model.ExportXLSX, deps.Sessions, deps.Metrics))
			r.Delete("/state", handleForget(deps.Sessions, deps.Metrics))
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusMethodNotAllowed, map[string]any{
			"error": model.NewBadRequestError("method not allowed"),
		})
	})

	return r
}
