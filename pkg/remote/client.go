package remote

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "retrocms/pkg/errors"
	"retrocms/pkg/metrics"
	"retrocms/pkg/models"
	"retrocms/pkg/observable"
	"retrocms/pkg/storage"
)

// Config names the remote nodes the client works on
type Config struct {
	PhotosPath       string `mapstructure:"photosPath"`
	HeaderImagesPath string `mapstructure:"headerImagesPath"`
	BlobPrefix       string `mapstructure:"blobPrefix"`
}

func DefaultConfig() Config {
	return Config{
		PhotosPath:       "photos",
		HeaderImagesPath: "headerImages",
		BlobPrefix:       "photos",
	}
}

// Client keeps a live mirror of the remote photo collection and header list.
// Nothing is emitted to subscribers before the first remote event.
type Client struct {
	db      Database
	blobs   BlobStorage
	local   *storage.LocalStore
	cfg     Config
	logger  *zap.Logger
	metrics metrics.Recorder

	photos  *observable.Value[Snapshot[models.Photo]]
	headers *observable.Value[Snapshot[string]]
	ready   atomic.Bool

	mu      sync.Mutex
	cancels []func()
	started bool
	closed  bool
}

// NewClient creates a client. blobs may be nil when no blob storage is configured.
func NewClient(db Database, blobs BlobStorage, local *storage.LocalStore, cfg Config, logger *zap.Logger, recorder metrics.Recorder) (*Client, error) {
	if db == nil {
		return nil, fmt.Errorf("remote database is required")
	}
	if local == nil {
		return nil, fmt.Errorf("local store is required")
	}
	defaults := DefaultConfig()
	if cfg.PhotosPath == "" {
		cfg.PhotosPath = defaults.PhotosPath
	}
	if cfg.HeaderImagesPath == "" {
		cfg.HeaderImagesPath = defaults.HeaderImagesPath
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = defaults.BlobPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Client{
		db:      db,
		blobs:   blobs,
		local:   local,
		cfg:     cfg,
		logger:  logger.Named("remote"),
		metrics: recorder,
		photos:  observable.Empty[Snapshot[models.Photo]](),
		headers: observable.Empty[Snapshot[string]](),
	}, nil
}

// Start attaches the photo and header watches. A watch that cannot be
// attached is handled like a subscription error: the cached snapshot is
// emitted once and the error is returned.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("remote client is closed")
	}
	if c.started {
		return fmt.Errorf("remote client already started")
	}
	c.started = true

	var errs []error
	cancel, err := c.db.Watch(ctx, c.cfg.PhotosPath, c.onPhotos, c.onPhotosError)
	if err != nil {
		c.onPhotosError(err)
		errs = append(errs, fmt.Errorf("watch %s: %w", c.cfg.PhotosPath, err))
	} else {
		c.cancels = append(c.cancels, cancel)
	}

	cancel, err = c.db.Watch(ctx, c.cfg.HeaderImagesPath, c.onHeaderImages, c.onHeaderImagesError)
	if err != nil {
		c.onHeaderImagesError(err)
		errs = append(errs, fmt.Errorf("watch %s: %w", c.cfg.HeaderImagesPath, err))
	} else {
		c.cancels = append(c.cancels, cancel)
	}
	return errors.Join(errs...)
}

// Close detaches the watches. Subscribers keep their last snapshot.
func (c *Client) Close() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.closed = true
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// IsReady reports whether at least one remote emission has been received
func (c *Client) IsReady() bool {
	return c.ready.Load()
}

// SubscribePhotos registers fn for every photo snapshot. Items must not be modified.
func (c *Client) SubscribePhotos(fn func(Snapshot[models.Photo])) (unsubscribe func()) {
	return c.photos.Subscribe(fn)
}

// SubscribeHeaderImages registers fn for every header list snapshot. Items must not be modified.
func (c *Client) SubscribeHeaderImages(fn func(Snapshot[string])) (unsubscribe func()) {
	return c.headers.Subscribe(fn)
}

func (c *Client) onPhotos(raw []byte) {
	photos, skipped, err := decodePhotos(raw)
	if err != nil {
		c.logger.Warn("ignoring undecodable photo snapshot", zap.Error(err))
		return
	}
	if skipped > 0 {
		c.logger.Warn("skipped undecodable photo records", zap.Int("count", skipped))
	}
	c.ready.Store(true)
	c.metrics.ObserveEmission("photos", string(OriginRemote))
	c.photos.Set(Snapshot[models.Photo]{Items: photos, Origin: OriginRemote})
}

func (c *Client) onHeaderImages(raw []byte) {
	images, skipped, err := decodeHeaderImages(raw)
	if err != nil {
		c.logger.Warn("ignoring undecodable header snapshot", zap.Error(err))
		return
	}
	if skipped > 0 {
		c.logger.Warn("skipped undecodable header entries", zap.Int("count", skipped))
	}
	c.ready.Store(true)
	c.metrics.ObserveEmission("headerImages", string(OriginRemote))
	c.headers.Set(Snapshot[string]{Items: images, Origin: OriginRemote})
}

func (c *Client) onPhotosError(err error) {
	c.logger.Warn("photo subscription failed, using cached photos", zap.Error(err))
	cached := storage.Get(c.local, storage.KeyPhotos, []models.Photo{})
	c.metrics.ObserveEmission("photos", string(OriginCache))
	c.photos.Set(Snapshot[models.Photo]{Items: models.ClonePhotos(cached), Origin: OriginCache})
}

func (c *Client) onHeaderImagesError(err error) {
	c.logger.Warn("header subscription failed, using cached header images", zap.Error(err))
	cached := storage.Get(c.local, storage.KeyHeaderImages, []string{})
	c.metrics.ObserveEmission("headerImages", string(OriginCache))
	c.headers.Set(Snapshot[string]{Items: models.CloneStrings(cached), Origin: OriginCache})
}

// AddPhoto writes the full record under its id
func (c *Client) AddPhoto(ctx context.Context, photo models.Photo) error {
	path := JoinPath(c.cfg.PhotosPath, photo.ID)
	if err := c.write("add_photo", func() error { return c.db.Set(ctx, path, photo) }); err != nil {
		return err
	}
	c.mergePhotos(func(items []models.Photo) []models.Photo {
		if i := indexOf(items, photo.ID); i >= 0 {
			items[i] = photo
			return items
		}
		items = append(items, photo)
		SortPhotos(items)
		return items
	})
	return nil
}

// UpdatePhoto merges the patch fields into the record at id. Some stores
// create the node when it does not exist.
func (c *Client) UpdatePhoto(ctx context.Context, id string, patch models.PhotoPatch) error {
	path := JoinPath(c.cfg.PhotosPath, id)
	if err := c.write("update_photo", func() error { return c.db.Update(ctx, path, patch.Fields()) }); err != nil {
		return err
	}
	c.mergePhotos(func(items []models.Photo) []models.Photo {
		if i := indexOf(items, id); i >= 0 {
			items[i] = patch.Apply(items[i])
		}
		return items
	})
	return nil
}

// DeletePhoto removes the record, then the uploaded file if there is one.
// A failed file cleanup is logged and does not fail the delete.
func (c *Client) DeletePhoto(ctx context.Context, id string) error {
	path := JoinPath(c.cfg.PhotosPath, id)
	if err := c.write("delete_photo", func() error { return c.db.Remove(ctx, path) }); err != nil {
		return err
	}
	if err := c.DeletePhotoFile(ctx, id); err != nil {
		c.logger.Warn("could not delete photo file", zap.String("id", id), zap.Error(err))
	}
	c.mergePhotos(func(items []models.Photo) []models.Photo {
		return slices.DeleteFunc(items, func(p models.Photo) bool { return p.ID == id })
	})
	return nil
}

// DeletePhotoFile removes the uploaded file stored for id. It is a no-op
// without blob storage.
func (c *Client) DeletePhotoFile(ctx context.Context, id string) error {
	if c.blobs == nil {
		return nil
	}
	return c.blobs.Delete(ctx, JoinPath(c.cfg.BlobPrefix, id))
}

// UpdateHeaderImages replaces the whole header list in one write
func (c *Client) UpdateHeaderImages(ctx context.Context, images []string) error {
	images = models.CloneStrings(images)
	if err := c.write("update_header_images", func() error {
		return c.db.Set(ctx, c.cfg.HeaderImagesPath, images)
	}); err != nil {
		return err
	}
	if _, ok := c.headers.Get(); ok {
		c.headers.Set(Snapshot[string]{Items: images, Origin: OriginWrite})
	}
	return nil
}

// ReplacePhotos overwrites the whole photo collection, keyed by id. The
// mirror is left to the next remote emission.
func (c *Client) ReplacePhotos(ctx context.Context, photos []models.Photo) error {
	records := photoRecords(photos)
	return c.write("replace_photos", func() error {
		return c.db.Set(ctx, c.cfg.PhotosPath, records)
	})
}

// UploadPhotoFile stores the file content under the photo id and returns its URL.
// The file is expected to be validated already.
func (c *Client) UploadPhotoFile(ctx context.Context, file models.File, id string) (string, error) {
	path := JoinPath(c.cfg.BlobPrefix, id)
	if c.blobs == nil {
		err := apperrors.UploadError(fmt.Errorf("blob storage not configured"), path)
		c.metrics.ObserveUpload(file.Size, err)
		return "", err
	}
	if err := c.blobs.Upload(ctx, path, file.Content, file.Size, file.ContentType); err != nil {
		c.metrics.ObserveUpload(file.Size, err)
		return "", apperrors.UploadError(err, path)
	}
	url, err := c.blobs.DownloadURL(ctx, path)
	c.metrics.ObserveUpload(file.Size, err)
	if err != nil {
		return "", apperrors.UploadError(err, path)
	}
	return url, nil
}

func (c *Client) write(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	c.metrics.ObserveRemoteWrite(op, time.Since(start), err)
	if err != nil {
		return apperrors.WriteError(err, op)
	}
	return nil
}

// mergePhotos applies a successful write to the mirror so the local
// subscriber reads its own writes before the remote echo arrives.
func (c *Client) mergePhotos(fn func([]models.Photo) []models.Photo) {
	if _, ok := c.photos.Get(); !ok {
		return
	}
	_, _ = c.photos.Update(func(cur Snapshot[models.Photo]) (Snapshot[models.Photo], error) {
		return Snapshot[models.Photo]{Items: fn(models.ClonePhotos(cur.Items)), Origin: OriginWrite}, nil
	})
}

func indexOf(photos []models.Photo, id string) int {
	return slices.IndexFunc(photos, func(p models.Photo) bool { return p.ID == id })
}
