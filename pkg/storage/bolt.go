package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	schemaVersion = 1

	rootBucketName  = "retrocms"
	metaBucketName  = "meta"
	cacheBucketName = "cache"
	treeBucketName  = "tree"
	versionKey      = "version"
	treeKey         = "root"
)

var ErrStoreClosed = errors.New("local store is closed")

// BoltBackend keeps cached values in a bbolt database file
type BoltBackend struct {
	mu     sync.RWMutex
	db     *bolt.DB
	path   string
	closed bool
}

// OpenBolt opens or creates the database at path
func OpenBolt(path string) (*BoltBackend, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("local store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure local store dir: %w", err)
	}
	base, err := bolt.Open(trimmed, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if err := ensureSchema(base); err != nil {
		_ = base.Close()
		return nil, err
	}
	return &BoltBackend{db: base, path: trimmed}, nil
}

func (b *BoltBackend) Path() string {
	return b.path
}

func (b *BoltBackend) Get(name string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := b.view(cacheBucketName, func(bucket *bolt.Bucket) error {
		raw := bucket.Get([]byte(name))
		if raw == nil {
			return nil
		}
		value = append([]byte(nil), raw...)
		found = true
		return nil
	})
	return value, found, err
}

func (b *BoltBackend) Put(name string, value []byte) error {
	if name == "" {
		return fmt.Errorf("empty key")
	}
	return b.update(cacheBucketName, func(bucket *bolt.Bucket) error {
		return bucket.Put([]byte(name), value)
	})
}

func (b *BoltBackend) Delete(name string) error {
	return b.update(cacheBucketName, func(bucket *bolt.Bucket) error {
		return bucket.Delete([]byte(name))
	})
}

func (b *BoltBackend) List() ([]string, error) {
	names := []string{}
	err := b.view(cacheBucketName, func(bucket *bolt.Bucket) error {
		return bucket.ForEach(func(key, _ []byte) error {
			names = append(names, string(key))
			return nil
		})
	})
	return names, err
}

// LoadTree returns the saved in-process remote tree, nil when none was saved.
// The tree lives beside the cache bucket so cache listings never see it.
func (b *BoltBackend) LoadTree() ([]byte, error) {
	var data []byte
	err := b.view(treeBucketName, func(bucket *bolt.Bucket) error {
		if raw := bucket.Get([]byte(treeKey)); raw != nil {
			data = append([]byte(nil), raw...)
		}
		return nil
	})
	return data, err
}

// SaveTree replaces the saved remote tree
func (b *BoltBackend) SaveTree(data []byte) error {
	return b.update(treeBucketName, func(bucket *bolt.Bucket) error {
		return bucket.Put([]byte(treeKey), data)
	})
}

func (b *BoltBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

func (b *BoltBackend) view(name string, fn func(*bolt.Bucket) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStoreClosed
	}
	return b.db.View(func(tx *bolt.Tx) error {
		bucket, err := childBucket(tx, name)
		if err != nil {
			return err
		}
		return fn(bucket)
	})
}

func (b *BoltBackend) update(name string, fn func(*bolt.Bucket) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStoreClosed
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := childBucket(tx, name)
		if err != nil {
			return err
		}
		return fn(bucket)
	})
}

func childBucket(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	root := tx.Bucket([]byte(rootBucketName))
	if root == nil {
		return nil, fmt.Errorf("missing root bucket")
	}
	bucket := root.Bucket([]byte(name))
	if bucket == nil {
		return nil, fmt.Errorf("missing %s bucket", name)
	}
	return bucket, nil
}

func ensureSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(rootBucketName))
		if err != nil {
			return fmt.Errorf("create root bucket: %w", err)
		}
		meta, err := root.CreateBucketIfNotExists([]byte(metaBucketName))
		if err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		if _, err := root.CreateBucketIfNotExists([]byte(cacheBucketName)); err != nil {
			return fmt.Errorf("create cache bucket: %w", err)
		}
		if _, err := root.CreateBucketIfNotExists([]byte(treeBucketName)); err != nil {
			return fmt.Errorf("create tree bucket: %w", err)
		}

		current := readSchemaVersion(meta)
		switch {
		case current == 0:
			return writeSchemaVersion(meta, schemaVersion)
		case current > schemaVersion:
			return fmt.Errorf("unsupported local store schema version %d", current)
		default:
			return nil
		}
	})
}

func readSchemaVersion(meta *bolt.Bucket) int {
	raw := meta.Get([]byte(versionKey))
	if len(raw) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(raw))
}

func writeSchemaVersion(meta *bolt.Bucket, version int) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(version))
	return meta.Put([]byte(versionKey), buf)
}
