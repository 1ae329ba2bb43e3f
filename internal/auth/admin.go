package auth

import (
	"crypto/subtle"
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUnauthorized       = errors.New("admin token required")
)

// Admin guards the admin console endpoints. A zero or nil Admin is disabled and lets every request through.
type Admin struct {
	username string
	hash     string
	secret   string
	ttl      time.Duration
}

func NewAdmin(username, password, secret string, ttl time.Duration) (*Admin, error) {
	if password == "" {
		return &Admin{}, nil
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Admin{username: username, hash: hash, secret: secret, ttl: ttl}, nil
}

func (a *Admin) Enabled() bool {
	return a != nil && a.hash != ""
}

// Login checks the credentials and issues a bearer token.
func (a *Admin) Login(username, password string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := CheckPassword(a.hash, password)
	if !userOK || !passOK {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return SignJWT(a.secret, a.username, a.ttl)
}

// Verify reports whether token grants admin access. Always nil when the gate is disabled.
func (a *Admin) Verify(token string) error {
	if !a.Enabled() {
		return nil
	}
	if token == "" {
		return ErrUnauthorized
	}
	if _, err := ParseJWT(a.secret, token); err != nil {
		return ErrUnauthorized
	}
	return nil
}
