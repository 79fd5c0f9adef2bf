package models

import (
	"fmt"
	"io"
	"strings"
)

// Category tags where a photo is displayed on the public site
type Category string

const (
	CategoryHeader     Category = "header"
	CategoryPhotos     Category = "photos"
	CategoryEvenements Category = "evenements"
)

// Categories lists every valid category in display order
var Categories = []Category{CategoryHeader, CategoryPhotos, CategoryEvenements}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	switch c {
	case CategoryHeader, CategoryPhotos, CategoryEvenements:
		return true
	}
	return false
}

// ParseCategory converts user input into a Category
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", raw)
	}
	return c, nil
}

// Photo is a single image entry shown on the site.
// Src is a relative asset path, an inline data URL or a blob URL.
type Photo struct {
	ID       string   `json:"id" yaml:"id"`
	Src      string   `json:"src" yaml:"src"`
	Alt      string   `json:"alt" yaml:"alt"`
	Category Category `json:"category" yaml:"category"`
}

// PhotoPatch carries the fields of a partial update. Nil fields are left untouched.
// The id of a photo can never be patched.
type PhotoPatch struct {
	Src      *string   `json:"src,omitempty"`
	Alt      *string   `json:"alt,omitempty"`
	Category *Category `json:"category,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p PhotoPatch) IsEmpty() bool {
	return p.Src == nil && p.Alt == nil && p.Category == nil
}

// Apply returns a copy of photo with the patch merged in
func (p PhotoPatch) Apply(photo Photo) Photo {
	if p.Src != nil {
		photo.Src = *p.Src
	}
	if p.Alt != nil {
		photo.Alt = *p.Alt
	}
	if p.Category != nil {
		photo.Category = *p.Category
	}
	return photo
}

// Fields returns the patch as a field map, the shape remote stores merge
func (p PhotoPatch) Fields() map[string]any {
	fields := make(map[string]any, 3)
	if p.Src != nil {
		fields["src"] = *p.Src
	}
	if p.Alt != nil {
		fields["alt"] = *p.Alt
	}
	if p.Category != nil {
		fields["category"] = string(*p.Category)
	}
	return fields
}

// File is an uploaded image waiting to be stored
type File struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// ClonePhotos returns an independent copy of photos
func ClonePhotos(photos []Photo) []Photo {
	if photos == nil {
		return []Photo{}
	}
	out := make([]Photo, len(photos))
	copy(out, photos)
	return out
}

// CloneStrings returns an independent copy of values
func CloneStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

// UploadLimits constrains files accepted by the admin screen
type UploadLimits struct {
	MaxFileSize       int64    `json:"maxFileSize" mapstructure:"maxFileSize"`
	AllowedMimeTypes  []string `json:"allowedMimeTypes" mapstructure:"allowedMimeTypes"`
	MaxFilesPerUpload int      `json:"maxFilesPerUpload" mapstructure:"maxFilesPerUpload"`
}

// DefaultUploadLimits returns 5MB, JPEG/PNG/WebP, one file at a time
func DefaultUploadLimits() UploadLimits {
	return UploadLimits{
		MaxFileSize:       5 * 1024 * 1024,
		AllowedMimeTypes:  []string{"image/jpeg", "image/png", "image/webp"},
		MaxFilesPerUpload: 1,
	}
}
