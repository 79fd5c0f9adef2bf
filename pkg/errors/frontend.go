package errors

import (
	stderrors "errors"
	"net/http"

	json "github.com/goccy/go-json"
)

// FrontendError represents an error formatted for frontend consumption
type FrontendError struct {
	Type    string         `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// ToFrontendError converts an AppError to a frontend-friendly format
func ToFrontendError(err error) *FrontendError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &FrontendError{
			Type:    string(appErr.Type),
			Code:    appErr.Code,
			Message: appErr.GetUserMessage(),
			Context: appErr.Context,
		}
	}

	// Handle generic errors
	return &FrontendError{
		Type:    string(ErrTypeApp),
		Code:    "GENERIC_ERROR",
		Message: "An unexpected error occurred. Please try again",
	}
}

// HTTPStatus maps an error to the status code the API answers with
func HTTPStatus(err error) int {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	switch appErr.Type {
	case ErrTypeValidation:
		if appErr.Code == ErrFileTooLarge.Code {
			return http.StatusRequestEntityTooLarge
		}
		if appErr.Code == ErrFileTypeNotAllowed.Code {
			return http.StatusUnsupportedMediaType
		}
		return http.StatusBadRequest
	case ErrTypeNotFound:
		return http.StatusNotFound
	case ErrTypeAuth:
		if appErr.Code == ErrTooManyAttempts.Code {
			return http.StatusTooManyRequests
		}
		return http.StatusUnauthorized
	case ErrTypeWrite, ErrTypeUpload:
		return http.StatusBadGateway
	case ErrTypeStorage:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err as a JSON error body with its matching status code
func Respond(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]any{"error": ToFrontendError(err)})
}
