package handlers

import (
	"net/http"
	"time"

	"github.com/kimhsiao/gatesync/internal/client"
	"github.com/kimhsiao/gatesync/internal/session"
)

// SessionHandler handles operator login and logout.
type SessionHandler struct {
	client  *client.Client
	session *session.Session
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(c *client.Client, s *session.Session) *SessionHandler {
	return &SessionHandler{client: c, session: s}
}

// LoginRequest is the body of POST /api/session/login. User may be a username or an email.
type LoginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// SessionResponse describes the current session without exposing tokens.
type SessionResponse struct {
	LoggedIn  bool       `json:"logged_in"`
	BaseURL   string     `json:"base_url"`
	Tenant    string     `json:"tenant"`
	Subject   string     `json:"subject,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Login handles POST /api/session/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.client.Login(r.Context(), req.User, req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.describe())
}

// Logout handles POST /api/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Get handles GET /api/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.describe())
}

func (h *SessionHandler) describe() SessionResponse {
	snap := h.session.Snapshot()
	resp := SessionResponse{
		LoggedIn: snap.AccessToken != "",
		BaseURL:  snap.BaseURL,
		Tenant:   snap.Tenant,
	}
	if claims, ok := session.ParseClaims(snap.AccessToken); ok {
		resp.Subject = claims.Subject
		if !claims.ExpiresAt.IsZero() {
			exp := claims.ExpiresAt
			resp.ExpiresAt = &exp
		}
	}
	return resp
}
