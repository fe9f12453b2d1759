package domain

import (
	"errors"
	"regexp"
)

var (
	ErrInvalidKey         = errors.New("invalid key")
	ErrInvalidFilter      = errors.New("invalid filter")
	ErrInvalidCursor      = errors.New("invalid cursor")
	ErrNotFound           = errors.New("not found")
	ErrInvalidUser        = errors.New("invalid user")
	ErrInvalidRole        = errors.New("invalid role")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveUser       = errors.New("user is inactive")
	ErrResetTokenInvalid  = errors.New("reset token invalid or expired")
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9._:/-]+$`)

func ValidateKey(key string) error {
	if key == "" || !keyPattern.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}
