package models

import "time"

// Session represents an authenticated admin session
type Session struct {
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
}
