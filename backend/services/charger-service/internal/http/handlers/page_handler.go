package handlers

import (
	"context"
	"net/http"

	"ampease/backend/services/charger-service/internal/activation"
	"ampease/backend/services/charger-service/internal/models"
)

// PageController produces the page state for a visitor.
type PageController interface {
	RequestPage(ctx context.Context, client activation.ClientInfo) models.PageState
}

// Renderer turns page state into a response.
type Renderer interface {
	Render(w http.ResponseWriter, state models.PageState)
}

// JSONRenderer writes the page state as JSON for a browser front end.
type JSONRenderer struct{}

// Render writes state with 200, or 403 when the visitor is geofenced.
func (JSONRenderer) Render(w http.ResponseWriter, state models.PageState) {
	w.Header().Set("Cache-Control", "no-store")
	status := http.StatusOK
	if state.Status == models.PageGeofenced {
		status = http.StatusForbidden
	}
	writeJSON(w, status, state)
}

// NewPageHandler handles GET /.
func NewPageHandler(controller PageController, renderer Renderer, observer Observer, trustProxy bool) http.HandlerFunc {
	observer = observerOrNoop(observer)
	return func(w http.ResponseWriter, r *http.Request) {
		state := controller.RequestPage(r.Context(), clientInfo(r, trustProxy))
		observer.ObservePage(string(state.Status))
		renderer.Render(w, state)
	}
}
