package utils

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// GenerateSessionID generates a secure random session ID
func GenerateSessionID() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		// If random read fails, return an empty string for safety
		return ""
	}
	return base64.URLEncoding.EncodeToString(bytes)
}

// NewPhotoID returns a time-ordered id, so remote stores that order children
// by key keep photos in insertion order.
func NewPhotoID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
