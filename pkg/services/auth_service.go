package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"retrocms/pkg/auth"
	"retrocms/pkg/errors"
	"retrocms/pkg/storage"
)

// LoginLimits throttles login attempts per client
type LoginLimits struct {
	Every time.Duration `mapstructure:"every"`
	Burst int           `mapstructure:"burst"`
}

// DefaultLoginLimits allows five quick attempts, then one every twelve seconds
func DefaultLoginLimits() LoginLimits {
	return LoginLimits{Every: 12 * time.Second, Burst: 5}
}

// AuthService handles authentication business logic
type AuthService struct {
	provider auth.IdentityProvider
	sessions *auth.Manager
	local    *storage.LocalStore
	logger   *zap.Logger
	limits   LoginLimits

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewAuthService creates a new authentication service
func NewAuthService(provider auth.IdentityProvider, sessions *auth.Manager, local *storage.LocalStore, limits LoginLimits, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits.Every <= 0 || limits.Burst <= 0 {
		limits = DefaultLoginLimits()
	}
	return &AuthService{
		provider: provider,
		sessions: sessions,
		local:    local,
		logger:   logger.Named("auth"),
		limits:   limits,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Login verifies the credentials and opens a session. client identifies the
// caller for throttling, typically its remote address.
func (s *AuthService) Login(ctx context.Context, client, user, password string) (string, error) {
	if !s.limiter(client).Allow() {
		err := errors.ErrTooManyAttempts.WithContext("client", client)
		err.Log(s.logger)
		return "", err
	}

	user = strings.TrimSpace(user)
	if user == "" || password == "" {
		return "", errors.ValidationError("CREDENTIALS_EMPTY", "user and password are required",
			"Veuillez remplir tous les champs")
	}
	if s.provider == nil {
		return "", errors.ErrInvalidCredentials.WithContext("reason", "no identity provider")
	}

	subject, err := s.provider.Authenticate(ctx, user, password)
	if err != nil {
		var appErr *errors.AppError
		if !errors.As(err, &appErr) {
			appErr = errors.ErrInvalidCredentials.WithCause(err)
		}
		appErr.WithContext("client", client).Log(s.logger)
		return "", appErr
	}

	if err := s.local.Set(storage.KeyAdminAuth, true); err != nil {
		s.logger.Warn("could not record admin flag", zap.Error(err))
	}
	s.logger.Info("admin logged in", zap.String("subject", subject))
	return s.sessions.CreateSession(subject), nil
}

// Logout closes the session and clears the admin flag
func (s *AuthService) Logout(sessionID string) {
	s.sessions.DeleteSession(sessionID)
	if s.sessions.Count() > 0 {
		return
	}
	if err := s.local.Remove(storage.KeyAdminAuth); err != nil {
		s.logger.Warn("could not clear admin flag", zap.Error(err))
	}
}

// IsAdmin reports whether the admin flag is currently recorded
func (s *AuthService) IsAdmin() bool {
	return storage.Get(s.local, storage.KeyAdminAuth, false)
}

func (s *AuthService) limiter(client string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[client]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.limits.Every), s.limits.Burst)
		s.limiters[client] = l
	}
	return l
}
