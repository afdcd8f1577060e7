package dto

import "github.com/spec-kit/ticket-desk/internal/domain"

// UserLoginRequest payload for login.
type UserLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// User is the public view of an account.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   string `json:"expiresAt"`
	User        User   `json:"user"`
}

// NewAuthResponse renders a session.
func NewAuthResponse(session domain.Session) AuthResponse {
	return AuthResponse{
		AccessToken: session.AccessToken,
		ExpiresAt:   domain.FormatTimestamp(session.ExpiresAt),
		User: User{
			ID:    session.User.ID,
			Name:  session.User.Name,
			Email: session.User.Email,
		},
	}
}
