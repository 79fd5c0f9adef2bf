package errors

import (
	"fmt"
	"mime"
	"slices"
	"strings"

	"retrocms/pkg/models"
)

// ValidationResult holds validation results
type ValidationResult struct {
	IsValid bool
	Errors  []*AppError
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(err *AppError) {
	vr.IsValid = false
	vr.Errors = append(vr.Errors, err)
}

// GetFirstError returns the first error or nil
func (vr *ValidationResult) GetFirstError() *AppError {
	if len(vr.Errors) > 0 {
		return vr.Errors[0]
	}
	return nil
}

// Err returns the first error as an error value, nil when valid
func (vr *ValidationResult) Err() error {
	if first := vr.GetFirstError(); first != nil {
		return first
	}
	return nil
}

// Validator provides validation utilities
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateUpload checks a file against the upload limits.
// Size is checked before the content type; the first failure stops validation.
func (v *Validator) ValidateUpload(file models.File, limits models.UploadLimits) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	if limits.MaxFileSize > 0 && file.Size > limits.MaxFileSize {
		result.AddError(ErrFileTooLarge.
			WithUserMessage(fmt.Sprintf("Fichier trop volumineux. Maximum: %dMB", limits.MaxFileSize/1024/1024)).
			WithContext("size", file.Size).
			WithContext("max", limits.MaxFileSize))
		return result
	}

	if !allowedType(file.ContentType, limits.AllowedMimeTypes) {
		result.AddError(ErrFileTypeNotAllowed.WithContext("contentType", file.ContentType))
	}

	return result
}

// ValidateFileCount checks the number of files sent in one operation
func (v *Validator) ValidateFileCount(count int, limits models.UploadLimits) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	if count == 0 {
		result.AddError(ValidationError("FILE_MISSING", "no file provided", "Veuillez sélectionner un fichier"))
		return result
	}
	if limits.MaxFilesPerUpload > 0 && count > limits.MaxFilesPerUpload {
		result.AddError(ErrTooManyFiles.
			WithUserMessage(fmt.Sprintf("Maximum %d file(s) per upload", limits.MaxFilesPerUpload)).
			WithContext("count", count))
	}
	return result
}

// ValidatePhoto validates a photo before it is added
func (v *Validator) ValidatePhoto(photo models.Photo) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	if strings.TrimSpace(photo.Src) == "" {
		result.AddError(ValidationError("SRC_EMPTY", "photo source cannot be empty", "Veuillez remplir tous les champs"))
	}
	v.checkDescription(result, photo.Alt, photo.Category)

	return result
}

// ValidateDescription checks the alt text and category given with an
// uploaded file, whose source is only known once the file is stored.
func (v *Validator) ValidateDescription(alt string, category models.Category) *ValidationResult {
	result := &ValidationResult{IsValid: true}
	v.checkDescription(result, alt, category)
	return result
}

func (v *Validator) checkDescription(result *ValidationResult, alt string, category models.Category) {
	if strings.TrimSpace(alt) == "" {
		result.AddError(ValidationError("ALT_EMPTY", "photo description cannot be empty", "Veuillez remplir la description"))
	}
	if !category.Valid() {
		result.AddError(invalidCategory(category))
	}
}

// ValidatePatch validates a partial photo update
func (v *Validator) ValidatePatch(id string, patch models.PhotoPatch) *ValidationResult {
	result := v.ValidatePhotoID(id)
	if !result.IsValid {
		return result
	}

	if patch.IsEmpty() {
		result.AddError(ValidationError("PATCH_EMPTY", "no field to update", "Nothing to update"))
	}
	if patch.Src != nil && strings.TrimSpace(*patch.Src) == "" {
		result.AddError(ValidationError("SRC_EMPTY", "photo source cannot be empty", "Photo source cannot be empty"))
	}
	if patch.Category != nil && !patch.Category.Valid() {
		result.AddError(invalidCategory(*patch.Category))
	}

	return result
}

// ValidatePhotoID validates a photo id
func (v *Validator) ValidatePhotoID(id string) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	if strings.TrimSpace(id) == "" {
		result.AddError(ValidationError("ID_EMPTY", "photo ID cannot be empty", "Photo ID is required"))
		return result
	}

	// Remote stores use ids as path segments
	if strings.ContainsAny(id, "/.#$[]") {
		result.AddError(ValidationError("ID_INVALID", "invalid photo ID format", "Invalid photo ID format").
			WithContext("id", id))
	}

	return result
}

func invalidCategory(c models.Category) *AppError {
	return ValidationError("CATEGORY_INVALID", "unknown photo category", "Unknown category").
		WithContext("category", string(c))
}

func allowedType(contentType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return slices.Contains(allowed, strings.ToLower(mediaType))
}
