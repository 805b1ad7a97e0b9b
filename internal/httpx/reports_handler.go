package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/mohmdloai/flasky/internal/redisx"
)

// ReportsHandler serves job results straight from the transient cache.
type ReportsHandler struct {
	Redis *redis.Client
}

func (h *ReportsHandler) Register(r *chi.Mux) {
	r.Get("/api/reports/popular", h.popular)
}

func (h *ReportsHandler) popular(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	s, err := h.Redis.Get(ctx, redisx.KeyPopular).Result()
	if errors.Is(err, redis.Nil) {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(s))
}
