package errors

import (
	stderrors "errors"
	"fmt"
	"maps"

	"go.uber.org/zap"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// Authentication errors
	ErrTypeAuth ErrorType = "authentication"
	// Local persistence errors (quota exceeded, storage disabled)
	ErrTypeStorage ErrorType = "storage"
	// Corrupt cached data; recovered by callers, never surfaced to users
	ErrTypeDeserialization ErrorType = "deserialization"
	// Remote store mutation errors
	ErrTypeWrite ErrorType = "write"
	// Blob upload errors
	ErrTypeUpload ErrorType = "upload"
	// Validation errors
	ErrTypeValidation ErrorType = "validation"
	// Missing records
	ErrTypeNotFound ErrorType = "not_found"
	// Configuration errors
	ErrTypeConfig ErrorType = "configuration"
	// Generic application errors
	ErrTypeApp ErrorType = "application"
)

// AppError represents a structured application error
type AppError struct {
	Type        ErrorType      `json:"type"`
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	UserMessage string         `json:"userMessage"`
	InternalErr error          `json:"-"`
	Context     map[string]any `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.InternalErr != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.InternalErr)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap exposes the wrapped error to errors.Is and errors.As
func (e *AppError) Unwrap() error {
	return e.InternalErr
}

// Is matches another AppError by type and code, so copies of the
// predefined errors still compare equal to them.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

func (e *AppError) clone() *AppError {
	cp := *e
	cp.Context = maps.Clone(e.Context)
	return &cp
}

// WithContext returns a copy of the error with an extra context entry
func (e *AppError) WithContext(key string, value any) *AppError {
	cp := e.clone()
	if cp.Context == nil {
		cp.Context = make(map[string]any)
	}
	cp.Context[key] = value
	return cp
}

// WithUserMessage returns a copy of the error with a user-friendly message
func (e *AppError) WithUserMessage(msg string) *AppError {
	cp := e.clone()
	cp.UserMessage = msg
	return cp
}

// WithCause returns a copy of the error wrapping err
func (e *AppError) WithCause(err error) *AppError {
	cp := e.clone()
	cp.InternalErr = err
	return cp
}

// Log logs the error with its context at a level matching its type
func (e *AppError) Log(logger *zap.Logger) {
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("type", string(e.Type)),
		zap.String("code", e.Code),
	}
	if e.InternalErr != nil {
		fields = append(fields, zap.Error(e.InternalErr))
	}
	if len(e.Context) > 0 {
		fields = append(fields, zap.Any("context", e.Context))
	}
	switch e.Type {
	case ErrTypeValidation, ErrTypeNotFound, ErrTypeDeserialization:
		logger.Warn(e.Message, fields...)
	default:
		logger.Error(e.Message, fields...)
	}
}

// New creates a new AppError
func New(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:        errType,
		Code:        code,
		Message:     message,
		InternalErr: err,
	}
}

// StorageError reports a failed local write
func StorageError(err error, key string) *AppError {
	return Wrap(err, ErrTypeStorage, "STORAGE_WRITE_FAILED", "failed to save data to local storage").
		WithUserMessage("Unable to save data locally. Storage may be full or disabled").
		WithContext("key", key)
}

// DeserializationError reports corrupt cached text
func DeserializationError(err error, key string) *AppError {
	return Wrap(err, ErrTypeDeserialization, "CACHE_CORRUPT", "failed to decode cached value").
		WithContext("key", key)
}

// WriteError reports a failed remote mutation
func WriteError(err error, op string) *AppError {
	return Wrap(err, ErrTypeWrite, "REMOTE_WRITE_FAILED", fmt.Sprintf("remote %s failed", op)).
		WithUserMessage("Unable to save changes online. Please try again").
		WithContext("op", op)
}

// UploadError reports a failed blob upload
func UploadError(err error, path string) *AppError {
	return Wrap(err, ErrTypeUpload, "UPLOAD_FAILED", "failed to upload file").
		WithUserMessage("Unable to upload the file. Please try again").
		WithContext("path", path)
}

// ValidationError reports invalid input
func ValidationError(code, message, userMessage string) *AppError {
	return New(ErrTypeValidation, code, message).WithUserMessage(userMessage)
}

// As is errors.As
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is is errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// IsType reports whether err wraps an AppError of the given type
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// Predefined errors for common scenarios
var (
	ErrNotAuthenticated = New(ErrTypeAuth, "NOT_AUTHENTICATED", "user not authenticated").
				WithUserMessage("Please log in to continue")

	ErrInvalidCredentials = New(ErrTypeAuth, "INVALID_CREDENTIALS", "invalid credentials").
				WithUserMessage("Email ou mot de passe incorrect")

	ErrTooManyAttempts = New(ErrTypeAuth, "TOO_MANY_ATTEMPTS", "login rate limit exceeded").
				WithUserMessage("Too many login attempts. Please wait a moment")

	ErrPhotoNotFound = New(ErrTypeNotFound, "PHOTO_NOT_FOUND", "photo not found").
				WithUserMessage("The requested photo could not be found")

	ErrDuplicatePhotoID = New(ErrTypeValidation, "DUPLICATE_ID", "photo id already exists").
				WithUserMessage("A photo with this id already exists")

	ErrFileTooLarge = New(ErrTypeValidation, "FILE_TOO_LARGE", "file exceeds size limit")

	ErrFileTypeNotAllowed = New(ErrTypeValidation, "FILE_TYPE_NOT_ALLOWED", "file type not allowed").
				WithUserMessage("Format non autorisé. Formats acceptés: JPEG, PNG, WebP")

	ErrTooManyFiles = New(ErrTypeValidation, "TOO_MANY_FILES", "too many files in one upload")

	ErrConfigLoadFailed = New(ErrTypeConfig, "CONFIG_LOAD_FAILED", "failed to load configuration").
				WithUserMessage("Configuration file could not be loaded")
)
