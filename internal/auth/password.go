package auth

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes and checks agent passwords with bcrypt.
type PasswordHasher struct {
	cost int

	decoyOnce sync.Once
	decoy     []byte
}

// NewPasswordHasher clamps cost into bcrypt's range; zero means the default.
func NewPasswordHasher(cost int) *PasswordHasher {
	switch {
	case cost == 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &PasswordHasher{cost: cost}
}

func (h *PasswordHasher) Hash(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether plain matches hashed. An empty hash is compared
// against a decoy so unknown accounts cost as much as wrong passwords.
func (h *PasswordHasher) Verify(hashed, plain string) bool {
	if hashed == "" {
		h.decoyOnce.Do(func() {
			h.decoy, _ = bcrypt.GenerateFromPassword([]byte("ticket-desk-decoy"), h.cost)
		})
		_ = bcrypt.CompareHashAndPassword(h.decoy, []byte(plain))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}
