package ports

import (
	"context"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
)

type APIKeyRepository interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (domain.APIKey, error)
	Upsert(ctx context.Context, key domain.APIKey) error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// ResetNotifier delivers a password-reset token to its owner.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, user domain.UserState, token string) error
}
