package auth

import (
	"net/http"
	"sync"
	"time"

	"retrocms/pkg/models"
	"retrocms/pkg/utils"
)

// DefaultSessionTimeout is how long an idle admin session stays valid
const DefaultSessionTimeout = 30 * time.Minute

// CookieName is the session cookie set on login
const CookieName = "session"

// Manager handles session management
type Manager struct {
	sessions      map[string]*models.Session
	sessionsMutex sync.RWMutex
	timeout       time.Duration
	secureCookie  bool
	now           func() time.Time
}

// NewManager creates a new session manager. A zero timeout selects DefaultSessionTimeout.
func NewManager(timeout time.Duration, secureCookie bool) *Manager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &Manager{
		sessions:     make(map[string]*models.Session),
		timeout:      timeout,
		secureCookie: secureCookie,
		now:          time.Now,
	}
}

// CreateSession creates a new session for an authenticated subject
func (m *Manager) CreateSession(subject string) string {
	sessionID := utils.GenerateSessionID()

	m.sessionsMutex.Lock()
	m.sessions[sessionID] = &models.Session{
		Subject:   subject,
		ExpiresAt: m.now().Add(m.timeout),
	}
	m.sessionsMutex.Unlock()

	return sessionID
}

// Lookup returns a copy of a live session and extends it
func (m *Manager) Lookup(sessionID string) *models.Session {
	if sessionID == "" {
		return nil
	}

	m.sessionsMutex.Lock()
	defer m.sessionsMutex.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil
	}
	now := m.now()
	if now.After(session.ExpiresAt) {
		delete(m.sessions, sessionID)
		return nil
	}

	session.ExpiresAt = now.Add(m.timeout)
	cp := *session
	return &cp
}

// GetSession retrieves and validates the session named by the request cookie
func (m *Manager) GetSession(r *http.Request) *models.Session {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil
	}
	return m.Lookup(cookie.Value)
}

// IsAuthenticated checks if the request has a valid session
func (m *Manager) IsAuthenticated(r *http.Request) *models.Session {
	return m.GetSession(r)
}

// DeleteSession removes a session (logout)
func (m *Manager) DeleteSession(sessionID string) {
	m.sessionsMutex.Lock()
	delete(m.sessions, sessionID)
	m.sessionsMutex.Unlock()
}

// Count returns the number of live sessions and drops the expired ones
func (m *Manager) Count() int {
	m.sessionsMutex.Lock()
	defer m.sessionsMutex.Unlock()

	now := m.now()
	for id, session := range m.sessions {
		if now.After(session.ExpiresAt) {
			delete(m.sessions, id)
		}
	}
	return len(m.sessions)
}

// SetCookie writes the session cookie
func (m *Manager) SetCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(m.timeout.Seconds()),
	})
}

// ClearCookie expires the session cookie
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secureCookie,
		MaxAge:   -1,
	})
}
