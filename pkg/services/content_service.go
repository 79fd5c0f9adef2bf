package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"slices"
	"sync"

	"go.uber.org/zap"

	"retrocms/pkg/catalog"
	"retrocms/pkg/errors"
	"retrocms/pkg/metrics"
	"retrocms/pkg/models"
	"retrocms/pkg/observable"
	"retrocms/pkg/remote"
	"retrocms/pkg/storage"
	"retrocms/pkg/utils"
)

// RemoteClient is the remote sync surface the content service relies on
type RemoteClient interface {
	IsReady() bool
	SubscribePhotos(fn func(remote.Snapshot[models.Photo])) (unsubscribe func())
	SubscribeHeaderImages(fn func(remote.Snapshot[string])) (unsubscribe func())
	AddPhoto(ctx context.Context, photo models.Photo) error
	UpdatePhoto(ctx context.Context, id string, patch models.PhotoPatch) error
	DeletePhoto(ctx context.Context, id string) error
	UpdateHeaderImages(ctx context.Context, images []string) error
	ReplacePhotos(ctx context.Context, photos []models.Photo) error
	UploadPhotoFile(ctx context.Context, file models.File, id string) (string, error)
	DeletePhotoFile(ctx context.Context, id string) error
}

// Kind names a content collection
type Kind string

const (
	KindPhotos       Kind = "photos"
	KindHeaderImages Kind = "headerImages"
)

// State is the sync state of one collection
type State int

const (
	StateUninitialized State = iota
	StateLocalLoaded
	StateRemoteSynced
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLocalLoaded:
		return "local_loaded"
	case StateRemoteSynced:
		return "remote_synced"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ContentService owns the photo collection and the header image list.
// Mutations go to the remote store once it is ready and to the local cache
// otherwise. The remote snapshot wins as soon as it arrives.
type ContentService struct {
	local     *storage.LocalStore
	remote    RemoteClient
	catalog   *catalog.Catalog
	validator *errors.Validator
	logger    *zap.Logger
	metrics   metrics.Recorder

	photos  *observable.Value[[]models.Photo]
	headers *observable.Value[[]string]

	// background context for seed writes, cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	states       map[Kind]State
	seeded       map[Kind]bool
	limits       models.UploadLimits
	unsubscribes []func()
	closed       bool
}

// NewContentService loads both collections from the local cache, falling back
// to the default catalog, then follows the remote client when one is given.
func NewContentService(local *storage.LocalStore, client RemoteClient, cat *catalog.Catalog, limits models.UploadLimits, logger *zap.Logger, recorder metrics.Recorder) (*ContentService, error) {
	if local == nil {
		return nil, fmt.Errorf("local store is required")
	}
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &ContentService{
		local:     local,
		remote:    client,
		catalog:   cat,
		validator: errors.NewValidator(),
		logger:    logger.Named("content"),
		metrics:   recorder,
		ctx:       ctx,
		cancel:    cancel,
		states: map[Kind]State{
			KindPhotos:       StateUninitialized,
			KindHeaderImages: StateUninitialized,
		},
		seeded: make(map[Kind]bool),
		limits: limits,
	}

	s.photos = observable.New(s.loadPhotos())
	s.headers = observable.New(s.loadHeaderImages())
	s.states[KindPhotos] = StateLocalLoaded
	s.states[KindHeaderImages] = StateLocalLoaded

	if client != nil {
		s.unsubscribes = append(s.unsubscribes,
			client.SubscribePhotos(s.onRemotePhotos),
			client.SubscribeHeaderImages(s.onRemoteHeaderImages),
		)
	}
	return s, nil
}

func (s *ContentService) loadPhotos() []models.Photo {
	cached := storage.Get(s.local, storage.KeyPhotos, []models.Photo(nil))
	if cached != nil {
		return cached
	}
	defaults := s.catalog.Photos()
	if err := s.local.Set(storage.KeyPhotos, defaults); err != nil {
		s.logError(err)
	}
	s.logger.Debug("no cached photos, using default catalog", zap.Int("count", len(defaults)))
	return defaults
}

func (s *ContentService) loadHeaderImages() []string {
	cached := storage.Get(s.local, storage.KeyHeaderImages, []string(nil))
	if cached != nil {
		return cached
	}
	defaults := s.catalog.HeaderImages()
	if err := s.local.Set(storage.KeyHeaderImages, defaults); err != nil {
		s.logError(err)
	}
	s.logger.Debug("no cached header images, using default catalog", zap.Int("count", len(defaults)))
	return defaults
}

// Close stops following the remote client
func (s *ContentService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribes := s.unsubscribes
	s.unsubscribes = nil
	s.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
	s.cancel()
}

// State returns the sync state of a collection
func (s *ContentService) State(kind Kind) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[kind]
}

// RemoteReady reports whether mutations are routed to the remote store
func (s *ContentService) RemoteReady() bool {
	return s.remote != nil && s.remote.IsReady()
}

// remoteAction decides what to do with a remote snapshot
type remoteAction int

const (
	actionIgnore remoteAction = iota
	actionApply
	actionSeed
)

func (s *ContentService) classify(kind Kind, origin remote.Origin, empty bool) remoteAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return actionIgnore
	}

	state := s.states[kind]
	switch {
	case origin == remote.OriginCache:
		// Fallback after a subscription error; never overrides synced data
		if state == StateRemoteSynced || empty {
			return actionIgnore
		}
		return actionApply
	case !empty, origin == remote.OriginWrite:
		// A successful write of ours is what the remote store now holds
		s.states[kind] = StateRemoteSynced
		return actionApply
	case state == StateRemoteSynced:
		// Cleared after it was synced: a deliberate removal
		return actionApply
	case s.seeded[kind]:
		return actionIgnore
	default:
		// Empty before any sync: the remote store was never initialized
		s.seeded[kind] = true
		return actionSeed
	}
}

func (s *ContentService) onRemotePhotos(snap remote.Snapshot[models.Photo]) {
	switch s.classify(KindPhotos, snap.Origin, len(snap.Items) == 0) {
	case actionApply:
		s.applyPhotos(models.ClonePhotos(snap.Items))
	case actionSeed:
		defaults := s.catalog.Photos()
		s.logger.Info("remote photo collection is empty, seeding defaults", zap.Int("count", len(defaults)))
		if err := s.remote.ReplacePhotos(s.ctx, defaults); err != nil {
			s.logError(err)
			return
		}
		s.metrics.ObserveSeed(string(KindPhotos))
	}
}

func (s *ContentService) onRemoteHeaderImages(snap remote.Snapshot[string]) {
	switch s.classify(KindHeaderImages, snap.Origin, len(snap.Items) == 0) {
	case actionApply:
		s.applyHeaderImages(models.CloneStrings(snap.Items))
	case actionSeed:
		defaults := s.catalog.HeaderImages()
		s.logger.Info("remote header list is empty, seeding defaults", zap.Int("count", len(defaults)))
		if err := s.remote.UpdateHeaderImages(s.ctx, defaults); err != nil {
			s.logError(err)
			return
		}
		s.metrics.ObserveSeed(string(KindHeaderImages))
	}
}

// applyPhotos overwrites memory and cache with a remote snapshot. A cache
// write failure is logged; the remote copy stays authoritative.
func (s *ContentService) applyPhotos(photos []models.Photo) {
	_, _ = s.photos.Update(func([]models.Photo) ([]models.Photo, error) {
		if err := s.local.Set(storage.KeyPhotos, photos); err != nil {
			s.logError(err)
		}
		return photos, nil
	})
}

func (s *ContentService) applyHeaderImages(images []string) {
	_, _ = s.headers.Update(func([]string) ([]string, error) {
		if err := s.local.Set(storage.KeyHeaderImages, images); err != nil {
			s.logError(err)
		}
		return images, nil
	})
}

// Photos returns the current photo collection
func (s *ContentService) Photos() []models.Photo {
	photos, _ := s.photos.Get()
	return models.ClonePhotos(photos)
}

// PhotosByCategory returns the photos of one category, in collection order
func (s *ContentService) PhotosByCategory(category models.Category) []models.Photo {
	photos, _ := s.photos.Get()
	return filterCategory(photos, category)
}

// HeaderImages returns the current header image list
func (s *ContentService) HeaderImages() []string {
	images, _ := s.headers.Get()
	return models.CloneStrings(images)
}

// SubscribePhotos calls fn with the current collection and after every change
func (s *ContentService) SubscribePhotos(fn func([]models.Photo)) (unsubscribe func()) {
	return s.photos.Subscribe(func(photos []models.Photo) {
		fn(models.ClonePhotos(photos))
	})
}

// SubscribePhotosByCategory is SubscribePhotos filtered to one category
func (s *ContentService) SubscribePhotosByCategory(category models.Category, fn func([]models.Photo)) (unsubscribe func()) {
	return s.photos.Subscribe(func(photos []models.Photo) {
		fn(filterCategory(photos, category))
	})
}

// SubscribeHeaderImages calls fn with the current list and after every change
func (s *ContentService) SubscribeHeaderImages(fn func([]string)) (unsubscribe func()) {
	return s.headers.Subscribe(func(images []string) {
		fn(models.CloneStrings(images))
	})
}

// UploadLimits returns the limits applied to uploaded files
func (s *ContentService) UploadLimits() models.UploadLimits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limits
}

// SetUploadLimits replaces the upload limits, used on config reload
func (s *ContentService) SetUploadLimits(limits models.UploadLimits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = limits
}

// AddPhoto adds a photo. An empty id is replaced with a fresh unique one.
func (s *ContentService) AddPhoto(ctx context.Context, photo models.Photo) (models.Photo, error) {
	if photo.ID == "" {
		photo.ID = s.newPhotoID()
	} else if result := s.validator.ValidatePhotoID(photo.ID); !result.IsValid {
		return models.Photo{}, s.fail(result.GetFirstError())
	}
	if result := s.validator.ValidatePhoto(photo); !result.IsValid {
		return models.Photo{}, s.fail(result.GetFirstError())
	}
	if s.hasPhoto(photo.ID) {
		return models.Photo{}, s.fail(errors.ErrDuplicatePhotoID.WithContext("id", photo.ID))
	}

	if s.RemoteReady() {
		if err := s.remote.AddPhoto(ctx, photo); err != nil {
			return models.Photo{}, s.fail(err)
		}
		s.logger.Info("photo added", zap.String("id", photo.ID), zap.String("target", "remote"))
		return photo, nil
	}

	_, err := s.photos.Update(func(cur []models.Photo) ([]models.Photo, error) {
		if slices.ContainsFunc(cur, func(p models.Photo) bool { return p.ID == photo.ID }) {
			return nil, errors.ErrDuplicatePhotoID.WithContext("id", photo.ID)
		}
		next := append(models.ClonePhotos(cur), photo)
		if err := s.local.Set(storage.KeyPhotos, next); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return models.Photo{}, s.fail(err)
	}
	s.logger.Info("photo added", zap.String("id", photo.ID), zap.String("target", "local"))
	return photo, nil
}

// UpdatePhoto merges patch into the photo with the given id
func (s *ContentService) UpdatePhoto(ctx context.Context, id string, patch models.PhotoPatch) error {
	if result := s.validator.ValidatePatch(id, patch); !result.IsValid {
		return s.fail(result.GetFirstError())
	}
	if !s.hasPhoto(id) {
		return s.fail(errors.ErrPhotoNotFound.WithContext("id", id))
	}

	if s.RemoteReady() {
		if err := s.remote.UpdatePhoto(ctx, id, patch); err != nil {
			return s.fail(err)
		}
		return nil
	}

	_, err := s.photos.Update(func(cur []models.Photo) ([]models.Photo, error) {
		i := slices.IndexFunc(cur, func(p models.Photo) bool { return p.ID == id })
		if i < 0 {
			return nil, errors.ErrPhotoNotFound.WithContext("id", id)
		}
		next := models.ClonePhotos(cur)
		next[i] = patch.Apply(next[i])
		if err := s.local.Set(storage.KeyPhotos, next); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return s.fail(err)
	}
	return nil
}

// DeletePhoto removes a photo. Deleting an unknown id is not an error.
func (s *ContentService) DeletePhoto(ctx context.Context, id string) error {
	if result := s.validator.ValidatePhotoID(id); !result.IsValid {
		return s.fail(result.GetFirstError())
	}

	if s.RemoteReady() {
		if err := s.remote.DeletePhoto(ctx, id); err != nil {
			return s.fail(err)
		}
		s.logger.Info("photo deleted", zap.String("id", id), zap.String("target", "remote"))
		return nil
	}

	_, err := s.photos.Update(func(cur []models.Photo) ([]models.Photo, error) {
		next := slices.DeleteFunc(models.ClonePhotos(cur), func(p models.Photo) bool { return p.ID == id })
		if err := s.local.Set(storage.KeyPhotos, next); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return s.fail(err)
	}
	s.logger.Info("photo deleted", zap.String("id", id), zap.String("target", "local"))
	return nil
}

// UpdateHeaderImages replaces the whole header list
func (s *ContentService) UpdateHeaderImages(ctx context.Context, images []string) error {
	images = models.CloneStrings(images)

	if s.RemoteReady() {
		if err := s.remote.UpdateHeaderImages(ctx, images); err != nil {
			return s.fail(err)
		}
		return nil
	}

	_, err := s.headers.Update(func([]string) ([]string, error) {
		if err := s.local.Set(storage.KeyHeaderImages, images); err != nil {
			return nil, err
		}
		return images, nil
	})
	if err != nil {
		return s.fail(err)
	}
	return nil
}

// AddPhotoFromFile validates an uploaded image and adds it as a photo. The
// file goes to blob storage when the remote store is ready and is inlined as
// a data URL otherwise.
func (s *ContentService) AddPhotoFromFile(ctx context.Context, file models.File, alt string, category models.Category) (models.Photo, error) {
	limits := s.UploadLimits()
	if result := s.validator.ValidateUpload(file, limits); !result.IsValid {
		return models.Photo{}, s.fail(result.GetFirstError())
	}
	if result := s.validator.ValidateDescription(alt, category); !result.IsValid {
		return models.Photo{}, s.fail(result.GetFirstError())
	}

	photo := models.Photo{ID: s.newPhotoID(), Alt: alt, Category: category}

	if s.RemoteReady() {
		url, err := s.remote.UploadPhotoFile(ctx, file, photo.ID)
		if err != nil {
			return models.Photo{}, s.fail(err)
		}
		photo.Src = url
		added, err := s.AddPhoto(ctx, photo)
		if err != nil {
			if derr := s.remote.DeletePhotoFile(ctx, photo.ID); derr != nil {
				s.logger.Warn("could not delete orphaned photo file", zap.String("id", photo.ID), zap.Error(derr))
			}
			return models.Photo{}, err
		}
		return added, nil
	}

	src, err := encodeDataURL(file, limits.MaxFileSize)
	if err != nil {
		return models.Photo{}, s.fail(err)
	}
	photo.Src = src
	return s.AddPhoto(ctx, photo)
}

// InlineImage validates an uploaded image and returns it as a data URL,
// the form header images added from a file are stored in.
func (s *ContentService) InlineImage(file models.File) (string, error) {
	limits := s.UploadLimits()
	if result := s.validator.ValidateUpload(file, limits); !result.IsValid {
		return "", s.fail(result.GetFirstError())
	}
	src, err := encodeDataURL(file, limits.MaxFileSize)
	if err != nil {
		return "", s.fail(err)
	}
	return src, nil
}

func (s *ContentService) hasPhoto(id string) bool {
	photos, _ := s.photos.Get()
	return slices.ContainsFunc(photos, func(p models.Photo) bool { return p.ID == id })
}

func (s *ContentService) newPhotoID() string {
	for {
		id := utils.NewPhotoID()
		if !s.hasPhoto(id) {
			return id
		}
	}
}

// fail logs err and returns it
func (s *ContentService) fail(err error) error {
	s.logError(err)
	return err
}

func (s *ContentService) logError(err error) {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		appErr.Log(s.logger)
		return
	}
	s.logger.Error("content operation failed", zap.Error(err))
}

func filterCategory(photos []models.Photo, category models.Category) []models.Photo {
	out := []models.Photo{}
	for _, p := range photos {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

// encodeDataURL reads the file into a base64 data URL
func encodeDataURL(file models.File, maxSize int64) (string, error) {
	if file.Content == nil {
		return "", errors.ValidationError("FILE_EMPTY", "file has no content", "Le fichier est vide")
	}
	r := file.Content
	if maxSize > 0 {
		r = io.LimitReader(r, maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrTypeValidation, "FILE_READ_FAILED", "failed to read uploaded file").
			WithUserMessage("Impossible de lire le fichier")
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return "", errors.ErrFileTooLarge.WithContext("size", len(data))
	}
	mediaType, _, err := mime.ParseMediaType(file.ContentType)
	if err != nil {
		mediaType = "application/octet-stream"
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
