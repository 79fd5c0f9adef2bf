package storage

import (
	"fmt"
	"slices"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	apperrors "retrocms/pkg/errors"
	"retrocms/pkg/metrics"
)

// Key names one of the values cached in the local store
type Key int

const (
	KeyPhotos Key = iota
	KeyHeaderImages
	KeyAdminAuth
)

func (k Key) String() string {
	switch k {
	case KeyPhotos:
		return "photos"
	case KeyHeaderImages:
		return "headerImages"
	case KeyAdminAuth:
		return "adminAuth"
	default:
		return fmt.Sprintf("Key(%d)", int(k))
	}
}

// Keys maps logical keys to the names they are stored under
type Keys struct {
	Photos       string `mapstructure:"photos"`
	HeaderImages string `mapstructure:"headerImages"`
	AdminAuth    string `mapstructure:"adminAuth"`
}

// DefaultKeys returns the storage names used by the public site
func DefaultKeys() Keys {
	return Keys{
		Photos:       "retro_photos",
		HeaderImages: "retro_header",
		AdminAuth:    "admin_authenticated",
	}
}

// Name resolves key to its storage name
func (k Keys) Name(key Key) string {
	switch key {
	case KeyPhotos:
		return k.Photos
	case KeyHeaderImages:
		return k.HeaderImages
	case KeyAdminAuth:
		return k.AdminAuth
	default:
		return ""
	}
}

func (k Keys) validate() error {
	names := []string{k.Photos, k.HeaderImages, k.AdminAuth}
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("storage key names must not be empty")
		}
	}
	slices.Sort(names)
	if len(slices.Compact(names)) != 3 {
		return fmt.Errorf("storage key names must be distinct")
	}
	return nil
}

// Backend persists raw values by name
type Backend interface {
	Get(name string) ([]byte, bool, error)
	Put(name string, value []byte) error
	Delete(name string) error
	List() ([]string, error)
	Close() error
}

// LocalStore is a typed key-value cache over a Backend.
// Values are stored as JSON text.
type LocalStore struct {
	backend Backend
	keys    Keys
	logger  *zap.Logger
	metrics metrics.Recorder
}

// NewLocalStore creates a local store. A zero Keys value selects DefaultKeys.
func NewLocalStore(backend Backend, keys Keys, logger *zap.Logger, recorder metrics.Recorder) (*LocalStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	if keys == (Keys{}) {
		keys = DefaultKeys()
	}
	if err := keys.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &LocalStore{
		backend: backend,
		keys:    keys,
		logger:  logger.Named("local_store"),
		metrics: recorder,
	}, nil
}

// Set serializes value and writes it under key
func (s *LocalStore) Set(key Key, value any) error {
	name := s.keys.Name(key)
	data, err := json.Marshal(value)
	if err != nil {
		s.metrics.ObserveLocalStoreFailure("set")
		return apperrors.StorageError(fmt.Errorf("encode %s: %w", key, err), name)
	}
	if err := s.backend.Put(name, data); err != nil {
		s.metrics.ObserveLocalStoreFailure("set")
		return apperrors.StorageError(err, name)
	}
	return nil
}

// Get reads the value stored under key. Missing keys and corrupt text yield def.
func Get[T any](s *LocalStore, key Key, def T) T {
	name := s.keys.Name(key)
	data, ok, err := s.backend.Get(name)
	if err != nil {
		s.metrics.ObserveLocalStoreFailure("get")
		s.logger.Warn("read cached value", zap.String("key", name), zap.Error(err))
		return def
	}
	if !ok {
		return def
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		apperrors.DeserializationError(err, name).Log(s.logger)
		return def
	}
	return value
}

// Remove deletes the value stored under key
func (s *LocalStore) Remove(key Key) error {
	name := s.keys.Name(key)
	if err := s.backend.Delete(name); err != nil {
		s.metrics.ObserveLocalStoreFailure("remove")
		return apperrors.StorageError(err, name)
	}
	return nil
}

// Has reports whether a value is stored under key
func (s *LocalStore) Has(key Key) bool {
	_, ok, err := s.backend.Get(s.keys.Name(key))
	return err == nil && ok
}

// Keys lists every stored name
func (s *LocalStore) Keys() []string {
	names, err := s.backend.List()
	if err != nil {
		s.logger.Warn("list cached keys", zap.Error(err))
		return []string{}
	}
	return names
}

// Clear removes every stored value
func (s *LocalStore) Clear() error {
	names, err := s.backend.List()
	if err != nil {
		return apperrors.StorageError(err, "*")
	}
	for _, name := range names {
		if err := s.backend.Delete(name); err != nil {
			s.metrics.ObserveLocalStoreFailure("clear")
			return apperrors.StorageError(err, name)
		}
	}
	return nil
}

// Raw returns the stored text for key, used by backups
func (s *LocalStore) Raw(key Key) ([]byte, bool) {
	data, ok, err := s.backend.Get(s.keys.Name(key))
	if err != nil {
		return nil, false
	}
	return data, ok
}

// Close releases the backend
func (s *LocalStore) Close() error {
	return s.backend.Close()
}
