package usecase

import (
	"context"
	"fmt"

	"github.com/atvirokodosprendimai/useraudit/internal/core/dispatch"
	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
	"github.com/atvirokodosprendimai/useraudit/internal/core/ports"
)

// ReplayTenantEvents feeds every relayed event of a tenant, oldest first, to
// applyFn and returns how many were applied. Only events that went through the
// outbox can be replayed.
func ReplayTenantEvents(ctx context.Context, history ports.OutboxHistory, codec *EventCodec, tenantID string, batchSize int, applyFn func(context.Context, domain.Event) error) (int, error) {
	afterID := int64(0)
	applied := 0
	for {
		rows, err := history.ListDispatched(ctx, tenantID, afterID, batchSize)
		if err != nil {
			return applied, fmt.Errorf("list outbox events: %w", err)
		}
		if len(rows) == 0 {
			return applied, nil
		}

		for _, row := range rows {
			event, err := codec.DecodeJSON(row.PayloadJSON)
			if err != nil {
				return applied, fmt.Errorf("decode event %s: %w", row.EventID, err)
			}
			if err := applyFn(ctx, event); err != nil {
				return applied, fmt.Errorf("apply replay event %s: %w", row.EventID, err)
			}
			applied++
			afterID = row.ID
		}
	}
}

// RebuildAuditTrail re-runs the audit subscribers over a tenant's relayed
// events. Audit ids equal event ids, so records that already exist stay as
// they are and only missing ones are written.
func RebuildAuditTrail(ctx context.Context, history ports.OutboxHistory, codec *EventCodec, rec AuditRecorder, tenantID string) (int, error) {
	d := dispatch.New()
	RegisterAuditSubscribers(d, rec)
	d.Enable()
	return ReplayTenantEvents(ctx, history, codec, tenantID, 100, d.DispatchEvent)
}
