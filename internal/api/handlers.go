package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
)

// UpstreamReader is the slice of the upstream client the proxy handlers use.
type UpstreamReader interface {
	GetJobs(ctx context.Context, query url.Values) (json.RawMessage, error)
	GetOrganizations(ctx context.Context, query url.Values) (json.RawMessage, error)
	GetOrganization(ctx context.Context, id string) (json.RawMessage, error)
	GetOrganizationJobs(ctx context.Context, id, page, limit string) (json.RawMessage, error)
}

// ResponseCache caches proxied GET bodies. A nil value disables caching.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, body []byte)
}

type Handler struct {
	Upstream UpstreamReader
	Cache    ResponseCache
	Log      *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Jobs(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, "Failed to fetch jobs", func(ctx context.Context) (json.RawMessage, error) {
		return h.Upstream.GetJobs(ctx, r.URL.Query())
	})
}

func (h *Handler) Organizations(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, "Failed to fetch organizations", func(ctx context.Context) (json.RawMessage, error) {
		return h.Upstream.GetOrganizations(ctx, r.URL.Query())
	})
}

func (h *Handler) Organization(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.proxy(w, r, "Failed to fetch organization", func(ctx context.Context) (json.RawMessage, error) {
		return h.Upstream.GetOrganization(ctx, id)
	})
}

func (h *Handler) OrganizationJobs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	page := r.URL.Query().Get("page")
	limit := r.URL.Query().Get("limit")
	if page == "" {
		page = "1"
	}
	if limit == "" {
		limit = "20"
	}
	h.proxy(w, r, "Failed to fetch organization jobs", func(ctx context.Context) (json.RawMessage, error) {
		return h.Upstream.GetOrganizationJobs(ctx, id, page, limit)
	})
}

// proxy serves a cached body when available, otherwise fetches from upstream
// and caches the result. Upstream failures surface as a 500 with an error
// body, matching what the frontend expects.
func (h *Handler) proxy(w http.ResponseWriter, r *http.Request, failMsg string, fetch func(ctx context.Context) (json.RawMessage, error)) {
	key := r.URL.RequestURI()
	if h.Cache != nil {
		if body, ok := h.Cache.Get(r.Context(), key); ok {
			writeRaw(w, http.StatusOK, body)
			return
		}
	}

	body, err := fetch(r.Context())
	if err != nil {
		h.logger().Error("proxy fetch failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": failMsg})
		return
	}

	if h.Cache != nil {
		h.Cache.Set(r.Context(), key, body)
	}
	writeRaw(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
