// Package remote mirrors the remote photo and header collections and writes
// changes back to them.
package remote

import (
	"context"
	"io"
	"strings"
)

// Database is a realtime tree store addressed by slash separated paths.
//
// Watch delivers the full value at path as JSON, first when the watch is
// attached and then after every change below path. A missing node is
// delivered as null. onError is called at most once; the watch is dead after
// it. Callbacks for one watch are never called concurrently.
type Database interface {
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Remove(ctx context.Context, path string) error
	Watch(ctx context.Context, path string, onValue func([]byte), onError func(error)) (cancel func(), err error)
}

// BlobStorage keeps binary objects addressed by path
type BlobStorage interface {
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	DownloadURL(ctx context.Context, path string) (string, error)
	Delete(ctx context.Context, path string) error
}

// JoinPath joins path segments, dropping empty ones and stray slashes
func JoinPath(parts ...string) string {
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		for _, seg := range strings.Split(part, "/") {
			if seg != "" {
				segments = append(segments, seg)
			}
		}
	}
	return strings.Join(segments, "/")
}

// SplitPath returns the non-empty segments of path
func SplitPath(path string) []string {
	segments := []string{}
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}
