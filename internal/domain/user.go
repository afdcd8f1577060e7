package domain

import "time"

// User is an agent allowed to sign in and work tickets.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
