package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"retrocms/pkg/models"
)

type stubAuth struct{ session *models.Session }

func (s stubAuth) IsAuthenticated(*http.Request) *models.Session { return s.session }

func TestRequireAuthAPI(t *testing.T) {
	var seen *models.Session
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SessionFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	RequireAuthAPI(stubAuth{})(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/photos", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_AUTHENTICATED")
	assert.Nil(t, seen)

	rec = httptest.NewRecorder()
	session := &models.Session{Subject: "admin"}
	RequireAuthAPI(stubAuth{session: session})(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/photos", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, session, seen)
}
