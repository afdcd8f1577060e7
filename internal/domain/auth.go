package domain

import "time"

// Session is the outcome of a successful login.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
	User        User
}
