package ports

import (
	"context"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
)

type UserReader interface {
	FindByID(ctx context.Context, tenantID, id string) (*domain.User, error)
	FindByEmail(ctx context.Context, tenantID, email string) (*domain.User, error)
	FindManyByIDs(ctx context.Context, tenantID string, ids []string) ([]*domain.User, error)
}

// UserRepository persists users. Create and Save are the dispatch trigger
// point: once the write succeeds the user's pending events are dispatched,
// and on failure they stay buffered.
type UserRepository interface {
	UserReader
	Create(ctx context.Context, user *domain.User) error
	Save(ctx context.Context, user *domain.User) error
}
