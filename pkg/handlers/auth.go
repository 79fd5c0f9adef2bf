package handlers

import (
	"net"
	"net/http"

	"go.uber.org/zap"

	"retrocms/pkg/auth"
	"retrocms/pkg/errors"
)

// AuthHandlers contains authentication-related handlers
type AuthHandlers struct {
	service  AuthService
	sessions *auth.Manager
	logger   *zap.Logger
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(service AuthService, sessions *auth.Manager, logger *zap.Logger) *AuthHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandlers{
		service:  service,
		sessions: sessions,
		logger:   logger.Named("auth"),
	}
}

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// LoginHandler checks the credentials and sets the session cookie
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		errors.Respond(w, err)
		return
	}

	sessionID, err := h.service.Login(r.Context(), clientAddr(r), req.User, req.Password)
	if err != nil {
		errors.Respond(w, err)
		return
	}
	h.sessions.SetCookie(w, sessionID)

	session := h.sessions.Lookup(sessionID)
	writeJSON(w, http.StatusOK, session)
}

// LogoutHandler ends the current session
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.CookieName); err == nil {
		h.service.Logout(cookie.Value)
	}
	h.sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// clientAddr identifies the caller for login throttling
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
