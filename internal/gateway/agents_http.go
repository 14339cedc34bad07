package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gosuda/chatdesk/internal/chat"
)

// The agent registry is managed over a small REST surface guarded by the
// same admin credential as the console socket.

func (g *Gateway) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !g.verifier.Verify(token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *Gateway) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.registry.List())
}

func (g *Gateway) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Avatar      string `json:"avatar"`
		AvatarColor string `json:"avatarColor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	a, err := g.registry.Create(strings.TrimSpace(req.Name), req.Avatar, req.AvatarColor)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (g *Gateway) handleSetOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"isOnline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	err := g.registry.SetOnline(chi.URLParam(r, "id"), req.Online)
	g.answerRegistry(w, err)
}

func (g *Gateway) handleSetActive(w http.ResponseWriter, r *http.Request) {
	err := g.registry.SetActive(chi.URLParam(r, "id"))
	g.answerRegistry(w, err)
}

func (g *Gateway) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	err := g.registry.Delete(chi.URLParam(r, "id"))
	g.answerRegistry(w, err)
}

func (g *Gateway) answerRegistry(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrAgentNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, g.registry.List())
	}
}
