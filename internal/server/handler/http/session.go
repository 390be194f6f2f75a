package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atinyakov/firewatch/internal/middleware"
	"github.com/atinyakov/firewatch/internal/models"
)

// SessionService defines the session operations required by the SessionHandler.
type SessionService interface {
	// SignIn verifies idToken and signs its subject in.
	SignIn(ctx context.Context, idToken string) (models.Session, error)
	// SignOut ends the session.
	SignOut() models.Session
	// Current returns the current session.
	Current() models.Session
}

// SessionHandler handles HTTP requests for the auth session.
type SessionHandler struct {
	SessionService SessionService
}

// SignIn handles POST /api/session.
// The ID token comes from the JSON body {"id_token": ...} or, when the
// body is empty, from an "Authorization: Bearer" header.
func (h *SessionHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	token := middleware.GetTokenFromContext(r.Context())
	if r.ContentLength != 0 {
		var req models.SessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, KindInvalidRequest, "invalid request")
			return
		}
		if req.IDToken != "" {
			token = req.IDToken
		}
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "id token required")
		return
	}

	session, err := h.SessionService.SignIn(r.Context(), token)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		writeError(w, http.StatusUnauthorized, KindInvalidToken, "invalid id token")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// SignOut handles DELETE /api/session.
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.SessionService.SignOut())
}

// Current handles GET /api/session.
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.SessionService.Current())
}
