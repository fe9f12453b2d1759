package ports

import (
	"context"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
)

// EventDispatcher runs the handlers registered for domain events.
type EventDispatcher interface {
	DispatchAggregate(ctx context.Context, source domain.EventSource) error
	DispatchEvent(ctx context.Context, event domain.Event) error
}

type OutboxRepository interface {
	FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkDispatched(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error
	MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error
}

// OutboxHistory reads relayed outbox rows back, oldest first.
type OutboxHistory interface {
	ListDispatched(ctx context.Context, tenantID string, afterID int64, limit int) ([]domain.OutboxEvent, error)
}
