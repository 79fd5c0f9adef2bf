package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrocms/pkg/models"
)

func TestWithContextDoesNotMutatePredefined(t *testing.T) {
	derived := ErrPhotoNotFound.WithContext("id", "42")

	require.Equal(t, "42", derived.Context["id"])
	require.Empty(t, ErrPhotoNotFound.Context)
	require.ErrorIs(t, derived, ErrPhotoNotFound)
}

func TestWrappedErrorsMatchByType(t *testing.T) {
	cause := stderrors.New("permission denied")
	err := fmt.Errorf("add photo: %w", WriteError(cause, "set"))

	assert.True(t, IsType(err, ErrTypeWrite))
	assert.False(t, IsType(err, ErrTypeUpload))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(err))
}

func TestToFrontendErrorUsesUserMessage(t *testing.T) {
	fe := ToFrontendError(StorageError(stderrors.New("quota"), "retro_photos"))
	assert.Equal(t, string(ErrTypeStorage), fe.Type)
	assert.Equal(t, "STORAGE_WRITE_FAILED", fe.Code)
	assert.Contains(t, fe.Message, "Unable to save data locally")

	generic := ToFrontendError(stderrors.New("boom"))
	assert.Equal(t, "GENERIC_ERROR", generic.Code)
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(stderrors.New("boom")))
}

func TestValidateUploadChecksSizeBeforeType(t *testing.T) {
	v := NewValidator()
	limits := models.DefaultUploadLimits()

	tooBig := models.File{Name: "big.gif", ContentType: "image/gif", Size: 6 * 1024 * 1024}
	result := v.ValidateUpload(tooBig, limits)
	require.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	require.ErrorIs(t, result.Err(), ErrFileTooLarge)
	assert.True(t, strings.Contains(result.GetFirstError().GetUserMessage(), "5MB"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, HTTPStatus(result.Err()))

	wrongType := models.File{Name: "a.gif", ContentType: "image/gif", Size: 10}
	require.ErrorIs(t, v.ValidateUpload(wrongType, limits).Err(), ErrFileTypeNotAllowed)

	ok := models.File{Name: "a.png", ContentType: "image/png; charset=binary", Size: 10}
	require.NoError(t, v.ValidateUpload(ok, limits).Err())
}

func TestValidateFileCount(t *testing.T) {
	v := NewValidator()
	limits := models.DefaultUploadLimits()

	require.Error(t, v.ValidateFileCount(0, limits).Err())
	require.NoError(t, v.ValidateFileCount(1, limits).Err())
	require.ErrorIs(t, v.ValidateFileCount(2, limits).Err(), ErrTooManyFiles)
}

func TestValidatePhotoAndPatch(t *testing.T) {
	v := NewValidator()

	result := v.ValidatePhoto(models.Photo{Src: "a.jpg", Alt: "", Category: "menu"})
	require.False(t, result.IsValid)
	require.Len(t, result.Errors, 2)

	require.True(t, v.ValidatePhoto(models.Photo{Src: "a.jpg", Alt: "Bar", Category: models.CategoryPhotos}).IsValid)

	require.False(t, v.ValidatePatch("1", models.PhotoPatch{}).IsValid)
	bad := models.Category("menu")
	require.False(t, v.ValidatePatch("1", models.PhotoPatch{Category: &bad}).IsValid)
	require.False(t, v.ValidatePatch("a/b", models.PhotoPatch{}).IsValid)

	alt := "Terrasse"
	require.True(t, v.ValidatePatch("1", models.PhotoPatch{Alt: &alt}).IsValid)
}

func TestValidateDescription(t *testing.T) {
	v := NewValidator()

	require.True(t, v.ValidateDescription("Terrasse", models.CategoryPhotos).IsValid)

	result := v.ValidateDescription(" ", "menu")
	require.False(t, result.IsValid)
	codes := []string{result.Errors[0].Code, result.Errors[1].Code}
	assert.Equal(t, []string{"ALT_EMPTY", "CATEGORY_INVALID"}, codes)
}

func TestRespondWritesStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	Respond(rec, ErrPhotoNotFound.WithContext("id", "9"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":{"type":"not_found","code":"PHOTO_NOT_FOUND","message":"The requested photo could not be found","context":{"id":"9"}}}`, rec.Body.String())
}
