package remote

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"retrocms/pkg/models"
)

// Origin tells where a snapshot came from
type Origin string

const (
	// OriginRemote is a snapshot pushed by the remote store
	OriginRemote Origin = "remote"
	// OriginWrite is the mirror after a successful write by this client
	OriginWrite Origin = "write"
	// OriginCache is the locally cached snapshot re-emitted after a watch failure
	OriginCache Origin = "cache"
)

// Snapshot is a full copy of a collection
type Snapshot[T any] struct {
	Items  []T
	Origin Origin
}

// CompareKeys orders child keys the way realtime databases do: keys that
// parse as 32-bit integers first, numerically, then the rest as strings.
func CompareKeys(a, b string) int {
	ai, aInt := intKey(a)
	bi, bInt := intKey(b)
	switch {
	case aInt && bInt:
		return cmp.Compare(ai, bi)
	case aInt:
		return -1
	case bInt:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func intKey(k string) (int64, bool) {
	n, err := strconv.ParseInt(k, 10, 32)
	if err != nil {
		return 0, false
	}
	// "007" and "+7" are plain strings
	if strconv.FormatInt(n, 10) != k {
		return 0, false
	}
	return n, true
}

// SortPhotos orders photos by id using CompareKeys
func SortPhotos(photos []models.Photo) {
	slices.SortStableFunc(photos, func(a, b models.Photo) int {
		return CompareKeys(a.ID, b.ID)
	})
}

func isNull(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodePhotos reads a photo collection. The collection is normally an object
// keyed by id; arrays are accepted because numeric keys may come back that way.
// Records that fail to decode are skipped and counted.
func decodePhotos(raw []byte) ([]models.Photo, int, error) {
	if isNull(raw) {
		return []models.Photo{}, 0, nil
	}

	var (
		photos  = []models.Photo{}
		skipped int
	)
	decodeOne := func(key string, item json.RawMessage) {
		if isNull(item) {
			return
		}
		var p models.Photo
		if err := json.Unmarshal(item, &p); err != nil {
			skipped++
			return
		}
		if p.ID == "" {
			p.ID = key
		}
		photos = append(photos, p)
	}

	switch bytes.TrimSpace(raw)[0] {
	case '{':
		var byKey map[string]json.RawMessage
		if err := json.Unmarshal(raw, &byKey); err != nil {
			return nil, 0, fmt.Errorf("decode photo collection: %w", err)
		}
		keys := make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		slices.SortFunc(keys, CompareKeys)
		for _, k := range keys {
			decodeOne(k, byKey[k])
		}
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, 0, fmt.Errorf("decode photo collection: %w", err)
		}
		for i, item := range list {
			decodeOne(strconv.Itoa(i), item)
		}
	default:
		return nil, 0, fmt.Errorf("decode photo collection: unexpected JSON %.20q", raw)
	}
	return photos, skipped, nil
}

// decodeHeaderImages reads the header list, stored as an array or as an
// object with index keys.
func decodeHeaderImages(raw []byte) ([]string, int, error) {
	if isNull(raw) {
		return []string{}, 0, nil
	}

	var (
		images  = []string{}
		skipped int
	)
	decodeOne := func(item json.RawMessage) {
		if isNull(item) {
			return
		}
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			skipped++
			return
		}
		images = append(images, s)
	}

	switch bytes.TrimSpace(raw)[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, 0, fmt.Errorf("decode header images: %w", err)
		}
		for _, item := range list {
			decodeOne(item)
		}
	case '{':
		var byKey map[string]json.RawMessage
		if err := json.Unmarshal(raw, &byKey); err != nil {
			return nil, 0, fmt.Errorf("decode header images: %w", err)
		}
		keys := make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		slices.SortFunc(keys, CompareKeys)
		for _, k := range keys {
			decodeOne(byKey[k])
		}
	default:
		return nil, 0, fmt.Errorf("decode header images: unexpected JSON %.20q", raw)
	}
	return images, skipped, nil
}

// photoRecords keys photos by id, the shape the photo collection is stored in
func photoRecords(photos []models.Photo) map[string]models.Photo {
	records := make(map[string]models.Photo, len(photos))
	for _, p := range photos {
		records[p.ID] = p
	}
	return records
}
