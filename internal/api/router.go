// Package api exposes the cards over HTTP.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"dashboard_cards/internal/card"
	"dashboard_cards/internal/ws"
)

type server struct {
	registry *card.Registry
	logger   *logrus.Logger
}

// NewRouter serves the card API; wsHandler is mounted at /ws when non-nil and
// frontendDir, when non-empty, is served as static files.
func NewRouter(registry *card.Registry, wsHandler http.Handler, frontendDir string, logger *logrus.Logger) *mux.Router {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &server{registry: registry, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/cards", s.listCards).Methods(http.MethodGet)
	r.HandleFunc("/api/cards/{id}", s.getCard).Methods(http.MethodGet)
	r.HandleFunc("/api/cards/{id}/refresh", s.refreshCard).Methods(http.MethodPost)
	if wsHandler != nil {
		r.Handle("/ws", wsHandler)
	}
	if frontendDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(frontendDir)))
	}
	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// cardResponse pairs a card's layout info with its last rendered view.
type cardResponse struct {
	ws.CardInfo
	View any `json:"view"`
}

func (s *server) listCards(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, ws.CardsListFromRegistry(s.registry))
}

func (s *server) getCard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, ok := s.registry.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown card "+id)
		return
	}
	s.writeJSON(w, http.StatusOK, cardResponse{CardInfo: ws.InfoOf(c), View: c.View()})
}

func (s *server) refreshCard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, ok := s.registry.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown card "+id)
		return
	}
	// the new view is pushed over the websocket once the cycle finishes
	go c.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("writing response")
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
