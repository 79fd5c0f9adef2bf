// Package handlers exposes the content services over HTTP.
package handlers

import (
	"context"
	"net/http"

	json "github.com/goccy/go-json"

	"retrocms/pkg/errors"
	"retrocms/pkg/models"
	"retrocms/pkg/services"
)

// ContentService is the part of services.ContentService the API uses
type ContentService interface {
	Photos() []models.Photo
	PhotosByCategory(category models.Category) []models.Photo
	HeaderImages() []string
	SubscribePhotos(fn func([]models.Photo)) (unsubscribe func())
	SubscribeHeaderImages(fn func([]string)) (unsubscribe func())
	AddPhoto(ctx context.Context, photo models.Photo) (models.Photo, error)
	UpdatePhoto(ctx context.Context, id string, patch models.PhotoPatch) error
	DeletePhoto(ctx context.Context, id string) error
	UpdateHeaderImages(ctx context.Context, images []string) error
	AddPhotoFromFile(ctx context.Context, file models.File, alt string, category models.Category) (models.Photo, error)
	InlineImage(file models.File) (string, error)
	UploadLimits() models.UploadLimits
	State(kind services.Kind) services.State
	RemoteReady() bool
}

// AuthService is the part of services.AuthService the API uses
type AuthService interface {
	Login(ctx context.Context, client, user, password string) (string, error)
	Logout(sessionID string)
}

var (
	_ ContentService = (*services.ContentService)(nil)
	_ AuthService    = (*services.AuthService)(nil)
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrTypeValidation, "INVALID_JSON", "invalid JSON body").
			WithUserMessage("Invalid request body")
	}
	return nil
}
