package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

const blobMetaSuffix = ".meta.json"

var (
	ErrBlobNotFound    = errors.New("blob not found")
	ErrInvalidBlobPath = errors.New("invalid blob path")
	ErrBlobTooLarge    = errors.New("blob exceeds size limit")
)

// BlobInfo describes a stored blob
type BlobInfo struct {
	Path        string    `json:"path"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlobStore keeps uploaded files on disk and hands out URLs served by the
// HTTP layer under /blobs/.
type BlobStore struct {
	dataDir       string
	publicBaseURL string
	maxSize       int64
	mutex         sync.RWMutex
}

// NewBlobStore creates a blob store rooted at dataDir. maxSize <= 0 disables the size ceiling.
func NewBlobStore(dataDir, publicBaseURL string, maxSize int64) (*BlobStore, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, fmt.Errorf("blob directory is required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &BlobStore{
		dataDir:       dataDir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		maxSize:       maxSize,
	}, nil
}

// Dir returns the directory blobs are written to
func (bs *BlobStore) Dir() string {
	return bs.dataDir
}

// SetMaxSize changes the size ceiling for later uploads. maxSize <= 0 disables it.
func (bs *BlobStore) SetMaxSize(maxSize int64) {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()
	bs.maxSize = maxSize
}

// Upload stores the content of r at blobPath, replacing any previous blob
func (bs *BlobStore) Upload(ctx context.Context, blobPath string, r io.Reader, size int64, contentType string) error {
	target, err := bs.resolve(blobPath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	maxSize := bs.maxSize
	if maxSize > 0 && size > maxSize {
		return ErrBlobTooLarge
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	src := r
	if maxSize > 0 {
		src = io.LimitReader(r, maxSize+1)
	}
	written, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if maxSize > 0 && written > maxSize {
		return ErrBlobTooLarge
	}

	info := BlobInfo{
		Path:        blobPath,
		ContentType: contentType,
		Size:        written,
		CreatedAt:   time.Now().UTC(),
	}
	if err := bs.saveInfo(target, info); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("commit blob: %w", err)
	}
	return nil
}

// DownloadURL returns the public URL of an existing blob
func (bs *BlobStore) DownloadURL(_ context.Context, blobPath string) (string, error) {
	target, err := bs.resolve(blobPath)
	if err != nil {
		return "", err
	}

	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrBlobNotFound
		}
		return "", err
	}
	return bs.publicBaseURL + "/blobs/" + escapePath(blobPath), nil
}

// Delete removes a blob and its metadata. Deleting a missing blob is not an error.
func (bs *BlobStore) Delete(_ context.Context, blobPath string) error {
	target, err := bs.resolve(blobPath)
	if err != nil {
		return err
	}

	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	if err := os.Remove(target + blobMetaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob metadata: %w", err)
	}
	return nil
}

// Open returns the blob content and its metadata. Callers close the file.
func (bs *BlobStore) Open(blobPath string) (*os.File, BlobInfo, error) {
	target, err := bs.resolve(blobPath)
	if err != nil {
		return nil, BlobInfo{}, err
	}

	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, BlobInfo{}, ErrBlobNotFound
		}
		return nil, BlobInfo{}, err
	}
	info, err := bs.loadInfo(target)
	if err != nil {
		// Missing metadata still serves the bytes
		stat, statErr := f.Stat()
		if statErr != nil {
			f.Close()
			return nil, BlobInfo{}, statErr
		}
		info = BlobInfo{Path: blobPath, Size: stat.Size(), CreatedAt: stat.ModTime()}
	}
	return f, info, nil
}

// List returns metadata for every stored blob
func (bs *BlobStore) List() ([]BlobInfo, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	var blobs []BlobInfo
	err := filepath.WalkDir(bs.dataDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !strings.HasSuffix(p, blobMetaSuffix) {
			return nil
		}
		info, err := bs.loadInfo(strings.TrimSuffix(p, blobMetaSuffix))
		if err != nil {
			return nil // Skip corrupted metadata
		}
		blobs = append(blobs, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read blob directory: %w", err)
	}
	return blobs, nil
}

func (bs *BlobStore) resolve(blobPath string) (string, error) {
	clean := path.Clean("/" + blobPath)
	if blobPath == "" || clean == "/" || clean != "/"+blobPath || strings.HasSuffix(clean, blobMetaSuffix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidBlobPath, blobPath)
	}
	return filepath.Join(bs.dataDir, filepath.FromSlash(clean[1:])), nil
}

func (bs *BlobStore) saveInfo(target string, info BlobInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(target+blobMetaSuffix, data, 0o644); err != nil {
		return fmt.Errorf("write blob metadata: %w", err)
	}
	return nil
}

func (bs *BlobStore) loadInfo(target string) (BlobInfo, error) {
	data, err := os.ReadFile(target + blobMetaSuffix)
	if err != nil {
		return BlobInfo{}, err
	}
	var info BlobInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return BlobInfo{}, err
	}
	return info, nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
