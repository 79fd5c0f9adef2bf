// Package pgdb stores the realtime tree in PostgreSQL. Each top level node is
// one JSONB row; watchers are woken through LISTEN/NOTIFY.
package pgdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"retrocms/pkg/remote"
)

const notifyChannel = "realtime_nodes"

const (
	nodeEnsureSQL = `
INSERT INTO realtime_nodes (path, value, updated_at)
VALUES ($1, 'null'::jsonb, NOW())
ON CONFLICT (path) DO NOTHING;
`
	nodeLockSQL   = `SELECT value FROM realtime_nodes WHERE path = $1 FOR UPDATE;`
	nodeUpsertSQL = `
INSERT INTO realtime_nodes (path, value, updated_at)
VALUES ($1, $2::jsonb, NOW())
ON CONFLICT (path) DO UPDATE SET
    value = EXCLUDED.value,
    updated_at = NOW();
`
	nodeDeleteSQL = `DELETE FROM realtime_nodes WHERE path = $1;`
	nodeSelectSQL = `SELECT value #> $2::text[] FROM realtime_nodes WHERE path = $1;`
	notifySQL     = `SELECT pg_notify($1, $2);`
	listenSQL     = `LISTEN ` + notifyChannel + `;`
	unlistenSQL   = `UNLISTEN *;`
)

var errRootPath = errors.New("pgdb: path must name a top level node")

// DB implements remote.Database on a pgx pool
type DB struct {
	pool   *pgxpool.Pool
	owned  bool
	logger *zap.Logger

	mu      sync.Mutex
	cancels map[uint64]context.CancelFunc
	nextID  uint64
	wg      conc.WaitGroup
}

// Open connects to dsn and owns the resulting pool
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgdb: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgdb: ping: %w", err)
	}
	db := New(pool, logger)
	db.owned = true
	return db, nil
}

// New wraps an existing pool. The caller keeps ownership of it.
func New(pool *pgxpool.Pool, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{
		pool:    pool,
		logger:  logger.Named("pgdb"),
		cancels: make(map[uint64]context.CancelFunc),
	}
}

// Close stops every watch and closes the pool when owned
func (db *DB) Close() {
	db.mu.Lock()
	for id, cancel := range db.cancels {
		cancel()
		delete(db.cancels, id)
	}
	db.mu.Unlock()
	db.wg.Wait()
	if db.owned {
		db.pool.Close()
	}
}

func (db *DB) Set(ctx context.Context, path string, value any) error {
	node, err := normalize(value)
	if err != nil {
		return err
	}
	return db.mutate(ctx, path, func(doc any, rest []string) any {
		return setIn(doc, rest, node)
	})
}

func (db *DB) Update(ctx context.Context, path string, fields map[string]any) error {
	nodes := make(map[string]any, len(fields))
	for key, value := range fields {
		node, err := normalize(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		nodes[key] = node
	}
	return db.mutate(ctx, path, func(doc any, rest []string) any {
		for key, node := range nodes {
			target := append(append([]string{}, rest...), remote.SplitPath(key)...)
			doc = setIn(doc, target, node)
		}
		return doc
	})
}

func (db *DB) Remove(ctx context.Context, path string) error {
	return db.mutate(ctx, path, func(doc any, rest []string) any {
		return setIn(doc, rest, nil)
	})
}

// mutate rewrites the top level row holding path inside one transaction and
// notifies watchers on commit.
func (db *DB) mutate(ctx context.Context, path string, fn func(doc any, rest []string) any) error {
	segments := remote.SplitPath(path)
	if len(segments) == 0 {
		return errRootPath
	}
	key, rest := segments[0], segments[1:]

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgdb: begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, nodeEnsureSQL, key); err != nil {
		return fmt.Errorf("pgdb: ensure node %s: %w", key, err)
	}
	var raw []byte
	if err := tx.QueryRow(ctx, nodeLockSQL, key).Scan(&raw); err != nil {
		return fmt.Errorf("pgdb: lock node %s: %w", key, err)
	}
	var doc any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("pgdb: decode node %s: %w", key, err)
		}
	}

	next := fn(doc, rest)
	if next == nil {
		if _, err := tx.Exec(ctx, nodeDeleteSQL, key); err != nil {
			return fmt.Errorf("pgdb: delete node %s: %w", key, err)
		}
	} else {
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("pgdb: encode node %s: %w", key, err)
		}
		if _, err := tx.Exec(ctx, nodeUpsertSQL, key, string(data)); err != nil {
			return fmt.Errorf("pgdb: write node %s: %w", key, err)
		}
	}
	if _, err := tx.Exec(ctx, notifySQL, notifyChannel, key); err != nil {
		return fmt.Errorf("pgdb: notify %s: %w", key, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgdb: commit: %w", err)
	}
	return nil
}

// Value returns the JSON value at path, null when absent
func (db *DB) Value(ctx context.Context, path string) ([]byte, error) {
	segments := remote.SplitPath(path)
	if len(segments) == 0 {
		return nil, errRootPath
	}
	var raw []byte
	err := db.pool.QueryRow(ctx, nodeSelectSQL, segments[0], segments[1:]).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && raw == nil) {
		return []byte("null"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgdb: read %s: %w", path, err)
	}
	return raw, nil
}

// Watch holds a dedicated connection listening for node changes. The first
// value and every change are delivered from one goroutine. A lost connection
// is reported to onError once and ends the watch.
func (db *DB) Watch(ctx context.Context, path string, onValue func([]byte), onError func(error)) (func(), error) {
	segments := remote.SplitPath(path)
	if len(segments) == 0 {
		return nil, errRootPath
	}
	if onValue == nil {
		return nil, fmt.Errorf("pgdb: onValue is required")
	}

	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgdb: acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, listenSQL); err != nil {
		conn.Release()
		return nil, fmt.Errorf("pgdb: listen: %w", err)
	}

	wctx, cancel := context.WithCancel(ctx)
	db.mu.Lock()
	db.nextID++
	id := db.nextID
	db.cancels[id] = cancel
	db.mu.Unlock()

	db.wg.Go(func() {
		defer func() {
			db.mu.Lock()
			delete(db.cancels, id)
			db.mu.Unlock()
			if _, err := conn.Exec(context.Background(), unlistenSQL); err != nil {
				// Broken connections are dropped by the pool on release
				db.logger.Debug("unlisten", zap.Error(err))
			}
			conn.Release()
		}()
		err := db.listen(wctx, conn, segments, onValue)
		if err != nil && wctx.Err() == nil {
			db.logger.Warn("watch ended", zap.String("path", path), zap.Error(err))
			if onError != nil {
				onError(err)
			}
		}
	})

	return cancel, nil
}

func (db *DB) listen(ctx context.Context, conn *pgxpool.Conn, segments []string, onValue func([]byte)) error {
	path := remote.JoinPath(segments...)
	var last []byte
	deliver := func() error {
		value, err := db.Value(ctx, path)
		if err != nil {
			return err
		}
		if last != nil && jsonEqual(last, value) {
			return nil
		}
		last = value
		onValue(value)
		return nil
	}

	if err := deliver(); err != nil {
		return err
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if n.Payload != segments[0] {
			continue
		}
		if err := deliver(); err != nil {
			return err
		}
	}
}

func jsonEqual(a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return false
	}
	ac, _ := json.Marshal(av)
	bc, _ := json.Marshal(bv)
	return bytes.Equal(ac, bc)
}

func normalize(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("pgdb: encode value: %w", err)
	}
	var node any
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("pgdb: decode value: %w", err)
	}
	return prune(node), nil
}

// prune drops nulls and empty containers, the way a removed node reads back
func prune(node any) any {
	switch t := node.(type) {
	case map[string]any:
		for k, child := range t {
			if p := prune(child); p == nil {
				delete(t, k)
			} else {
				t[k] = p
			}
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		out := t[:0]
		for _, child := range t {
			if p := prune(child); p != nil {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return node
	}
}

// setIn returns doc with node placed at path. Arrays on the way are turned
// into index-keyed objects. A nil result means the document is empty.
func setIn(doc any, path []string, node any) any {
	if len(path) == 0 {
		return node
	}
	var obj map[string]any
	switch t := doc.(type) {
	case map[string]any:
		obj = t
	case []any:
		obj = make(map[string]any, len(t))
		for i, child := range t {
			obj[strconv.Itoa(i)] = child
		}
	default:
		if node == nil {
			return doc
		}
		obj = map[string]any{}
	}

	child := setIn(obj[path[0]], path[1:], node)
	if child == nil {
		delete(obj, path[0])
	} else {
		obj[path[0]] = child
	}
	if len(obj) == 0 {
		return nil
	}
	return obj
}

var _ remote.Database = (*DB)(nil)
