// Package catalog exposes the default content used to seed a fresh install.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"retrocms/pkg/models"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Catalog is an immutable set of default photos and header images
type Catalog struct {
	version      int
	photos       []models.Photo
	headerImages []string
}

type catalogFile struct {
	Version      int            `yaml:"version"`
	HeaderImages []string       `yaml:"headerImages"`
	Photos       []models.Photo `yaml:"photos"`
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the catalog embedded in the binary
func Default() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(defaultsYAML)
	})
	if defaultErr != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", defaultErr))
	}
	return defaultCatalog
}

// Parse decodes and validates a catalog document
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Photos))
	for i, photo := range file.Photos {
		if photo.ID == "" {
			return nil, fmt.Errorf("photo %d: missing id", i)
		}
		if _, dup := seen[photo.ID]; dup {
			return nil, fmt.Errorf("photo %d: duplicate id %q", i, photo.ID)
		}
		seen[photo.ID] = struct{}{}
		if !photo.Category.Valid() {
			return nil, fmt.Errorf("photo %q: unknown category %q", photo.ID, photo.Category)
		}
	}

	return &Catalog{
		version:      file.Version,
		photos:       file.Photos,
		headerImages: file.HeaderImages,
	}, nil
}

// Version identifies the catalog revision
func (c *Catalog) Version() int {
	return c.version
}

// Photos returns a copy of the default photo records
func (c *Catalog) Photos() []models.Photo {
	return models.ClonePhotos(c.photos)
}

// HeaderImages returns a copy of the default header image paths
func (c *Catalog) HeaderImages() []string {
	return models.CloneStrings(c.headerImages)
}
