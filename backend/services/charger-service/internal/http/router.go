package httpserver

import (
	"net/http"

	"ampease/backend/services/charger-service/internal/http/handlers"
	"ampease/backend/services/charger-service/internal/http/middleware"
)

// Routes collects handler dependencies. Admin is nil when operator access is disabled.
type Routes struct {
	Page    http.HandlerFunc
	Payment http.HandlerFunc
	Status  http.HandlerFunc
	Health  http.HandlerFunc
	Metrics http.Handler
	Admin   *handlers.AdminHandlers
}

// NewRouter wires HTTP routes with middleware.
func NewRouter(routes Routes, authMiddleware func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/{$}", method(http.MethodGet, routes.Page))
	mux.Handle("/process-payment", method(http.MethodPost, routes.Payment))
	mux.Handle("/ws/status", method(http.MethodGet, routes.Status))
	mux.Handle("/health", method(http.MethodGet, routes.Health))
	mux.Handle("/metrics", method(http.MethodGet, routes.Metrics))

	if routes.Admin != nil {
		authenticated := func(handler http.HandlerFunc) http.Handler {
			return middleware.Chain(handler, authMiddleware)
		}
		mux.Handle("/admin/login", method(http.MethodPost, http.HandlerFunc(routes.Admin.Login)))
		mux.Handle("/admin/status", method(http.MethodGet, authenticated(routes.Admin.Status)))
		mux.Handle("/admin/reconcile", method(http.MethodPost, authenticated(routes.Admin.Reconcile)))
	}

	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
