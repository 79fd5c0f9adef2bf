package handlers

import (
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"retrocms/pkg/errors"
	"retrocms/pkg/models"
	"retrocms/pkg/services"
	"retrocms/pkg/storage"
)

// multipartOverhead is allowed on top of the file size limit for form fields
const multipartOverhead = 1 << 20

// APIHandlers contains API endpoint handlers
type APIHandlers struct {
	content   ContentService
	blobs     *storage.BlobStore
	validator *errors.Validator
	logger    *zap.Logger
}

// NewAPIHandlers creates a new API handlers instance. blobs may be nil when
// uploaded files are not served by this process.
func NewAPIHandlers(content ContentService, blobs *storage.BlobStore, logger *zap.Logger) *APIHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandlers{
		content:   content,
		blobs:     blobs,
		validator: errors.NewValidator(),
		logger:    logger.Named("api"),
	}
}

// GetPhotosHandler returns all photos, or one category with ?category=
func (h *APIHandlers) GetPhotosHandler(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("category")
	if raw == "" {
		writeJSON(w, http.StatusOK, h.content.Photos())
		return
	}
	category, err := models.ParseCategory(raw)
	if err != nil {
		errors.Respond(w, errors.ValidationError("CATEGORY_INVALID", err.Error(), "Unknown category"))
		return
	}
	writeJSON(w, http.StatusOK, h.content.PhotosByCategory(category))
}

// CreatePhotoHandler adds a photo from a JSON record
func (h *APIHandlers) CreatePhotoHandler(w http.ResponseWriter, r *http.Request) {
	var req models.Photo
	if err := decodeJSON(r, &req); err != nil {
		errors.Respond(w, err)
		return
	}
	photo, err := h.content.AddPhoto(r.Context(), req)
	if err != nil {
		errors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, photo)
}

// UpdatePhotoHandler applies a partial update
func (h *APIHandlers) UpdatePhotoHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch models.PhotoPatch
	if err := decodeJSON(r, &patch); err != nil {
		errors.Respond(w, err)
		return
	}
	if err := h.content.UpdatePhoto(r.Context(), id, patch); err != nil {
		errors.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeletePhotoHandler deletes a photo by id
func (h *APIHandlers) DeletePhotoHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.content.DeletePhoto(r.Context(), chi.URLParam(r, "id")); err != nil {
		errors.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadPhotoHandler adds a photo from a multipart upload with fields file, alt and category
func (h *APIHandlers) UploadPhotoHandler(w http.ResponseWriter, r *http.Request) {
	file, closeFile, err := h.readUpload(w, r)
	if err != nil {
		errors.Respond(w, err)
		return
	}
	defer closeFile()

	category, err := models.ParseCategory(r.FormValue("category"))
	if err != nil {
		errors.Respond(w, errors.ValidationError("CATEGORY_INVALID", err.Error(), "Unknown category"))
		return
	}
	photo, err := h.content.AddPhotoFromFile(r.Context(), file, r.FormValue("alt"), category)
	if err != nil {
		errors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, photo)
}

// GetHeaderImagesHandler returns the header list
func (h *APIHandlers) GetHeaderImagesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.content.HeaderImages())
}

type headerImagesRequest struct {
	Images []string `json:"images"`
}

// ReplaceHeaderImagesHandler replaces the whole header list
func (h *APIHandlers) ReplaceHeaderImagesHandler(w http.ResponseWriter, r *http.Request) {
	var req headerImagesRequest
	if err := decodeJSON(r, &req); err != nil {
		errors.Respond(w, err)
		return
	}
	for _, src := range req.Images {
		if strings.TrimSpace(src) == "" {
			errors.Respond(w, errors.ValidationError("SRC_EMPTY", "header image cannot be empty", "Image URL is required"))
			return
		}
	}
	if err := h.content.UpdateHeaderImages(r.Context(), req.Images); err != nil {
		errors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.CloneStrings(req.Images))
}

// AddHeaderImageHandler appends one image URL to the header list
func (h *APIHandlers) AddHeaderImageHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Src string `json:"src"`
	}
	if err := decodeJSON(r, &req); err != nil {
		errors.Respond(w, err)
		return
	}
	if strings.TrimSpace(req.Src) == "" {
		errors.Respond(w, errors.ValidationError("SRC_EMPTY", "header image cannot be empty", "Image URL is required"))
		return
	}
	h.appendHeaderImage(w, r, req.Src)
}

// UploadHeaderImageHandler appends an uploaded image, inlined as a data URL
func (h *APIHandlers) UploadHeaderImageHandler(w http.ResponseWriter, r *http.Request) {
	file, closeFile, err := h.readUpload(w, r)
	if err != nil {
		errors.Respond(w, err)
		return
	}
	defer closeFile()

	src, err := h.content.InlineImage(file)
	if err != nil {
		errors.Respond(w, err)
		return
	}
	h.appendHeaderImage(w, r, src)
}

func (h *APIHandlers) appendHeaderImage(w http.ResponseWriter, r *http.Request, src string) {
	current := h.content.HeaderImages()
	if slices.Contains(current, src) {
		errors.Respond(w, errors.ValidationError("HEADER_DUPLICATE", "header image already listed",
			"Cette image est déjà dans le carrousel"))
		return
	}
	next := append(current, src)
	if err := h.content.UpdateHeaderImages(r.Context(), next); err != nil {
		errors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, next)
}

// DeleteHeaderImageHandler removes the header image at {index}
func (h *APIHandlers) DeleteHeaderImageHandler(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		errors.Respond(w, errors.ValidationError("INDEX_INVALID", "index must be a number", "Invalid index"))
		return
	}
	current := h.content.HeaderImages()
	if index < 0 || index >= len(current) {
		errors.Respond(w, errors.New(errors.ErrTypeNotFound, "HEADER_NOT_FOUND", "no header image at index").
			WithContext("index", index))
		return
	}
	next := slices.Delete(current, index, index+1)
	if err := h.content.UpdateHeaderImages(r.Context(), next); err != nil {
		errors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

type statusResponse struct {
	RemoteReady bool                `json:"remoteReady"`
	States      map[string]string   `json:"states"`
	Upload      models.UploadLimits `json:"upload"`
}

// StatusHandler reports sync state per collection
func (h *APIHandlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		RemoteReady: h.content.RemoteReady(),
		States: map[string]string{
			string(services.KindPhotos):       h.content.State(services.KindPhotos).String(),
			string(services.KindHeaderImages): h.content.State(services.KindHeaderImages).String(),
		},
		Upload: h.content.UploadLimits(),
	})
}

// BlobHandler serves uploaded photo files
func (h *APIHandlers) BlobHandler(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		http.NotFound(w, r)
		return
	}
	f, info, err := h.blobs.Open(chi.URLParam(r, "*"))
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) || errors.Is(err, storage.ErrInvalidBlobPath) {
			http.NotFound(w, r)
			return
		}
		h.logger.Warn("open blob", zap.Error(err))
		http.Error(w, "blob unavailable", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, "", info.CreatedAt, f)
}

// readUpload parses a multipart request holding exactly the allowed number of files
func (h *APIHandlers) readUpload(w http.ResponseWriter, r *http.Request) (models.File, func(), error) {
	limits := h.content.UploadLimits()
	r.Body = http.MaxBytesReader(w, r.Body, limits.MaxFileSize*int64(max(limits.MaxFilesPerUpload, 1))+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return models.File{}, nil, errors.ErrFileTooLarge.WithCause(err)
		}
		return models.File{}, nil, errors.Wrap(err, errors.ErrTypeValidation, "MULTIPART_INVALID",
			"invalid multipart body").WithUserMessage("Invalid upload")
	}

	headers := r.MultipartForm.File["file"]
	if result := h.validator.ValidateFileCount(len(headers), limits); !result.IsValid {
		return models.File{}, nil, result.GetFirstError()
	}

	header := headers[0]
	f, err := header.Open()
	if err != nil {
		return models.File{}, nil, errors.Wrap(err, errors.ErrTypeValidation, "FILE_READ_FAILED",
			"failed to read uploaded file").WithUserMessage("Impossible de lire le fichier")
	}
	file := models.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Content:     io.Reader(f),
	}
	return file, func() {
		f.Close()
		_ = r.MultipartForm.RemoveAll()
	}, nil
}
