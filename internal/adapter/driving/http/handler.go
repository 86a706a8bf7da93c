package http

import (
	"encoding/json"
	"net/http"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	RelayService *service.RelayService
	Hub          *ws.Hub

	// StaticDir, when set, is served at / (a browser client, typically).
	StaticDir string
}

func NewHandler(relayService *service.RelayService, hub *ws.Hub) *Handler {
	return &Handler{
		RelayService: relayService,
		Hub:          hub,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.ServeWS)
	r.Get("/healthz", h.Health)
	r.Get("/participants", h.Participants)

	if h.StaticDir != "" {
		fs := http.FileServer(http.Dir(h.StaticDir))
		r.Handle("/*", fs)
	}

	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) Participants(w http.ResponseWriter, r *http.Request) {
	type participantDTO struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	snapshot, err := h.RelayService.Snapshot(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read presence")
		http.Error(w, "presence unavailable", http.StatusInternalServerError)
		return
	}

	out := make([]participantDTO, 0, len(snapshot))
	for _, p := range snapshot.Others("") {
		out = append(out, participantDTO{ID: p.ID.String(), Name: p.Name})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Error().Err(err).Msg("Failed to encode participants")
	}
}
