package transport

import (
	"net/http"

	"github.com/pitabwire/caseview/internal/metadata"
)

func handleNavigation(menu *metadata.MenuProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, menu.GetMenu())
	}
}

// handleIndex redirects to the first list page in navigation order.
func handleIndex(menu *metadata.MenuProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, item := range menu.GetMenu().Items {
			for _, child := range item.Children {
				if child.Route != "" {
					http.Redirect(w, r, child.Route, http.StatusFound)
					return
				}
			}
		}
		WriteNotFound(w, "no list pages configured")
	}
}
