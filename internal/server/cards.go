package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/howard-nolan/cardforge/internal/card"
)

// handleGetProfile handles GET /v1/users/{userID}/profile.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Profiles.GetProfile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handlePutProfile handles PUT /v1/users/{userID}/profile. The user ID in
// the path wins over any id in the body.
func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	var p card.Profile
	if !decodeJSON(w, r, &p) {
		return
	}
	p.ID = chi.URLParam(r, "userID")
	if err := s.deps.Service.SaveProfile(r.Context(), &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &p)
}

// handleListCards handles GET /v1/users/{userID}/cards, newest first.
func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := s.deps.Cards.ListCards(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": cards})
}

type generateCardRequest struct {
	Name  string `json:"businesscard_name"`
	Style string `json:"style"`
}

// handleGenerateCard handles POST /v1/users/{userID}/cards. It blocks
// while the chat and image models run.
func (s *Server) handleGenerateCard(w http.ResponseWriter, r *http.Request) {
	var req generateCardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Style) == "" {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_request_error", "businesscard_name and style are required")
		return
	}
	c, err := s.deps.Designer.Generate(r.Context(), chi.URLParam(r, "userID"), req.Name, req.Style)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// handleUpdateCardInfo handles PATCH /v1/users/{userID}/cards/{cardID}.
func (s *Server) handleUpdateCardInfo(w http.ResponseWriter, r *http.Request) {
	var u card.InfoUpdate
	if !decodeJSON(w, r, &u) {
		return
	}
	c, err := s.deps.Service.UpdateInfo(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "cardID"), u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// cardWithProfile is a card together with its owner's profile, which is
// what a card page renders.
type cardWithProfile struct {
	*card.Card
	Profile *card.Profile `json:"profile,omitempty"`
}

// handleGetCard handles GET /v1/cards/{cardID}.
func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Cards.GetCard(r.Context(), chi.URLParam(r, "cardID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := cardWithProfile{Card: c}
	p, err := s.deps.Profiles.GetProfile(r.Context(), c.Owner)
	switch {
	case err == nil:
		out.Profile = p
	case !errors.Is(err, card.ErrNotFound):
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDeleteCard handles DELETE /v1/cards/{cardID}.
func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Cards.DeleteCard(r.Context(), chi.URLParam(r, "cardID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
