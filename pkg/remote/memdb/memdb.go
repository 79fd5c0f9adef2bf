// Package memdb is an in-process realtime tree database. It backs the remote
// client when no external store is configured and in tests.
package memdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"retrocms/pkg/remote"
)

// ErrOffline is returned by writes while the database is offline
var ErrOffline = errors.New("memdb: database offline")

var ErrClosed = errors.New("memdb: database closed")

// Persister keeps the encoded tree between runs
type Persister interface {
	LoadTree() ([]byte, error)
	SaveTree(data []byte) error
}

// DB holds a JSON tree. Arrays are stored as objects keyed by index and empty
// nodes are pruned, so a removed or emptied node reads back as null.
type DB struct {
	mu        sync.Mutex
	root      map[string]any
	watchers  map[uint64]*watcher
	nextID    uint64
	offline   bool
	closed    bool
	wg        conc.WaitGroup
	logger    *zap.Logger
	persister Persister
	saved     []byte
}

func New(logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{
		root:     map[string]any{},
		watchers: make(map[uint64]*watcher),
		logger:   logger.Named("memdb"),
	}
}

// Open creates a database that starts from the tree saved in p and saves the
// whole tree after every write. A write that cannot be saved is rolled back.
func Open(p Persister, logger *zap.Logger) (*DB, error) {
	data, err := p.LoadTree()
	if err != nil {
		return nil, fmt.Errorf("memdb: load tree: %w", err)
	}
	root, err := decodeRoot(data)
	if err != nil {
		return nil, err
	}
	db := New(logger)
	db.root = root
	db.persister = p
	db.saved = data
	db.logger.Info("tree loaded", zap.Int("bytes", len(data)))
	return db, nil
}

// SetOffline simulates a lost connection. Going offline fails every active
// watch once; later writes fail with ErrOffline until the database is back online.
func (db *DB) SetOffline(offline bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.offline = offline
	if !offline {
		return
	}
	for id, w := range db.watchers {
		w.push(event{err: ErrOffline})
		delete(db.watchers, id)
	}
}

// Value returns the JSON value at path, null when absent
func (db *DB) Value(path string) []byte {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.renderLocked(remote.SplitPath(path))
}

func (db *DB) Set(_ context.Context, path string, value any) error {
	node, err := normalize(value)
	if err != nil {
		return err
	}
	return db.write(func() error {
		return db.setLocked(remote.SplitPath(path), node)
	})
}

// Update sets each field below path. Field names may be nested paths. The
// node is created when missing.
func (db *DB) Update(_ context.Context, path string, fields map[string]any) error {
	nodes := make(map[string]any, len(fields))
	for key, value := range fields {
		node, err := normalize(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		nodes[key] = node
	}
	base := remote.SplitPath(path)
	return db.write(func() error {
		for key, node := range nodes {
			target := append(append([]string{}, base...), remote.SplitPath(key)...)
			if err := db.setLocked(target, node); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) Remove(_ context.Context, path string) error {
	return db.write(func() error {
		return db.setLocked(remote.SplitPath(path), nil)
	})
}

// Watch delivers the value at path now and after every change to it.
// Deliveries run on a dedicated goroutine per watch, in write order.
func (db *DB) Watch(ctx context.Context, path string, onValue func([]byte), onError func(error)) (func(), error) {
	if onValue == nil {
		return nil, fmt.Errorf("memdb: onValue is required")
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}

	db.nextID++
	w := newWatcher(db.nextID, remote.SplitPath(path), onValue, onError)
	if db.offline {
		w.push(event{err: ErrOffline})
	} else {
		db.watchers[w.id] = w
		w.offer(db.renderLocked(w.path))
	}
	db.wg.Go(w.run)

	cancel := func() {
		db.mu.Lock()
		delete(db.watchers, w.id)
		db.mu.Unlock()
		w.stop()
	}
	context.AfterFunc(ctx, cancel)
	return cancel, nil
}

// Close stops every watch and waits for pending deliveries to finish
func (db *DB) Close() {
	db.mu.Lock()
	db.closed = true
	for id, w := range db.watchers {
		w.stop()
		delete(db.watchers, id)
	}
	db.mu.Unlock()
	db.wg.Wait()
}

func (db *DB) write(fn func() error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	if db.offline {
		return ErrOffline
	}
	if err := fn(); err != nil {
		return err
	}
	if err := db.persistLocked(); err != nil {
		return err
	}
	for _, w := range db.watchers {
		w.offer(db.renderLocked(w.path))
	}
	return nil
}

func (db *DB) persistLocked() error {
	if db.persister == nil {
		return nil
	}
	data, err := json.Marshal(db.root)
	if err == nil {
		err = db.persister.SaveTree(data)
	}
	if err != nil {
		// The last saved tree decoded once already
		db.root, _ = decodeRoot(db.saved)
		return fmt.Errorf("memdb: save tree: %w", err)
	}
	db.saved = data
	return nil
}

func decodeRoot(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("memdb: decode tree: %w", err)
	}
	if generic == nil {
		return map[string]any{}, nil
	}
	if _, ok := generic.(map[string]any); !ok {
		return nil, fmt.Errorf("memdb: saved tree is not an object")
	}
	root, ok := toTree(generic).(map[string]any)
	if !ok {
		return map[string]any{}, nil
	}
	return root, nil
}

func (db *DB) setLocked(path []string, node any) error {
	if len(path) == 0 {
		if node == nil {
			db.root = map[string]any{}
			return nil
		}
		obj, ok := node.(map[string]any)
		if !ok {
			return fmt.Errorf("memdb: root must be an object")
		}
		db.root = obj
		return nil
	}

	parents := make([]map[string]any, 0, len(path))
	cur := db.root
	for _, seg := range path[:len(path)-1] {
		parents = append(parents, cur)
		next, ok := cur[seg].(map[string]any)
		if !ok {
			if node == nil {
				return nil
			}
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}

	last := path[len(path)-1]
	if node == nil {
		delete(cur, last)
	} else {
		cur[last] = node
	}

	// Prune emptied parents bottom-up
	for i := len(parents) - 1; i >= 0 && len(cur) == 0; i-- {
		delete(parents[i], path[i])
		cur = parents[i]
	}
	return nil
}

func (db *DB) renderLocked(path []string) []byte {
	var node any = db.root
	for _, seg := range path {
		obj, ok := node.(map[string]any)
		if !ok {
			return []byte("null")
		}
		if node, ok = obj[seg]; !ok {
			return []byte("null")
		}
	}
	if obj, ok := node.(map[string]any); ok && len(obj) == 0 {
		return []byte("null")
	}
	data, err := json.Marshal(node)
	if err != nil {
		db.logger.Error("render node", zap.Strings("path", path), zap.Error(err))
		return []byte("null")
	}
	return data
}

// normalize turns value into the stored tree shape: maps, strings, numbers
// and bools, with arrays converted to index-keyed maps and nulls dropped.
func normalize(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("memdb: encode value: %w", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("memdb: decode value: %w", err)
	}
	return toTree(generic), nil
}

func toTree(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			if node := toTree(child); node != nil {
				out[k] = node
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []any:
		out := make(map[string]any, len(t))
		for i, child := range t {
			if node := toTree(child); node != nil {
				out[strconv.Itoa(i)] = node
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return v
	}
}

type event struct {
	value []byte
	err   error
}

type watcher struct {
	id      uint64
	path    []string
	onValue func([]byte)
	onError func(error)

	mu     sync.Mutex
	queue  []event
	last   []byte
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newWatcher(id uint64, path []string, onValue func([]byte), onError func(error)) *watcher {
	return &watcher{
		id:      id,
		path:    path,
		onValue: onValue,
		onError: onError,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// offer queues value unless it equals the last queued value
func (w *watcher) offer(value []byte) {
	w.mu.Lock()
	if w.last != nil && bytes.Equal(w.last, value) {
		w.mu.Unlock()
		return
	}
	w.last = value
	w.mu.Unlock()
	w.push(event{value: value})
}

func (w *watcher) push(ev event) {
	w.mu.Lock()
	w.queue = append(w.queue, ev)
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) stop() {
	w.once.Do(func() { close(w.done) })
}

func (w *watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case <-w.signal:
		}
		for {
			w.mu.Lock()
			if len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			ev := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()

			select {
			case <-w.done:
				return
			default:
			}
			if ev.err != nil {
				if w.onError != nil {
					w.onError(ev.err)
				}
				return
			}
			w.onValue(ev.value)
		}
	}
}

var _ remote.Database = (*DB)(nil)
