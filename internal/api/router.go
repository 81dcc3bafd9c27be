package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Nirovitsky/baltek-chat-gateway/internal/ws"
)

// NewRouter registers the proxy routes and the chat WebSocket endpoint.
func NewRouter(h *Handler, relay *ws.RelayHandler) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLog(h.logger()))

	r.HandleFunc("/api/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs", h.Jobs).Methods(http.MethodGet)
	r.HandleFunc("/api/organizations", h.Organizations).Methods(http.MethodGet)
	r.HandleFunc("/api/organizations/{id}", h.Organization).Methods(http.MethodGet)
	r.HandleFunc("/api/organizations/{id}/jobs", h.OrganizationJobs).Methods(http.MethodGet)
	r.HandleFunc("/ws", relay.ServeWS)

	return r
}

func requestLog(log *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Info("request", "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}
