package ports

import (
	"context"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
)

type AuditLogRepository interface {
	// Create stores a log. Writing an id that already exists is a no-op so a
	// redelivered event yields a single record.
	Create(ctx context.Context, log domain.AuditLog) error
	FindMany(ctx context.Context, filter domain.AuditLogFilter, page domain.CursorParams) (domain.AuditLogPage, error)
	// ResolveActorIDByEmail returns ok=false when no actor of actorType has the email.
	ResolveActorIDByEmail(ctx context.Context, tenantID string, actorType domain.ActorType, email string) (id string, ok bool, err error)
}
