package usecase

import (
	"context"

	"github.com/atvirokodosprendimai/useraudit/internal/core/dispatch"
	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
)

// AuditRecorder is the write side the subscribers depend on.
type AuditRecorder interface {
	Create(ctx context.Context, in CreateAuditLogInput) error
}

// RegisterAuditSubscribers binds one audit subscriber to every user event kind.
func RegisterAuditSubscribers(d *dispatch.Dispatcher, rec AuditRecorder) {
	dispatch.Subscribe(d, func(ctx context.Context, e domain.UserCreated) error {
		return rec.Create(ctx, auditUserCreated(e))
	})
	dispatch.Subscribe(d, func(ctx context.Context, e domain.UserUpdated) error {
		return rec.Create(ctx, auditUserUpdated(e))
	})
	dispatch.Subscribe(d, func(ctx context.Context, e domain.UserRoleChanged) error {
		return rec.Create(ctx, auditUserRoleChanged(e))
	})
	dispatch.Subscribe(d, func(ctx context.Context, e domain.UserActiveStatusChanged) error {
		return rec.Create(ctx, auditUserActiveStatusChanged(e))
	})
	dispatch.Subscribe(d, func(ctx context.Context, e domain.UserPasswordChanged) error {
		return rec.Create(ctx, auditOccurrence(e.EventMeta, domain.ActionUserPasswordChanged))
	})
	dispatch.Subscribe(d, func(ctx context.Context, e domain.UserLoggedIn) error {
		return rec.Create(ctx, auditOccurrence(e.EventMeta, domain.ActionUserLoggedIn))
	})
	dispatch.Subscribe(d, func(ctx context.Context, e domain.UserLoggedOut) error {
		return rec.Create(ctx, auditOccurrence(e.EventMeta, domain.ActionUserLoggedOut))
	})
	dispatch.Subscribe(d, func(ctx context.Context, e domain.UserRequestedPasswordReset) error {
		return rec.Create(ctx, auditOccurrence(e.EventMeta, domain.ActionUserRequestedPasswordReset))
	})
	dispatch.Subscribe(d, func(ctx context.Context, e domain.UserResetPassword) error {
		return rec.Create(ctx, auditOccurrence(e.EventMeta, domain.ActionUserResetPassword))
	})
}

func auditUserCreated(e domain.UserCreated) CreateAuditLogInput {
	in := auditOccurrence(e.EventMeta, domain.ActionUserCreated)
	in.Changes = domain.Changes{
		"name":      e.Name,
		"email":     e.Email,
		"role":      e.Role,
		"createdAt": e.CreatedAt,
	}
	return in
}

func auditUserUpdated(e domain.UserUpdated) CreateAuditLogInput {
	in := auditOccurrence(e.EventMeta, domain.ActionUserUpdated)
	in.Changes = make(domain.Changes, len(e.Changes))
	for field, change := range e.Changes {
		in.Changes[field] = change
	}
	return in
}

func auditUserRoleChanged(e domain.UserRoleChanged) CreateAuditLogInput {
	in := auditOccurrence(e.EventMeta, domain.ActionUserRoleUpdated)
	in.Changes = domain.Changes{
		"role": domain.FieldChange{Before: e.PreviousRole, After: e.NewRole},
	}
	return in
}

func auditUserActiveStatusChanged(e domain.UserActiveStatusChanged) CreateAuditLogInput {
	in := auditOccurrence(e.EventMeta, domain.ActionUserActiveStatusUpdated)
	in.Changes = domain.Changes{
		"isActive": domain.FieldChange{Before: e.PreviousActive, After: e.NewActive},
	}
	return in
}

// auditOccurrence builds a record without a diff. The entity is always the
// aggregate the event was raised on; the actor may be someone else.
func auditOccurrence(meta domain.EventMeta, action string) CreateAuditLogInput {
	actorType := meta.ActorType
	if actorType == "" {
		actorType = domain.ActorTypeUser
	}
	return CreateAuditLogInput{
		ID:         meta.EventID,
		TenantID:   meta.TenantID,
		ActorID:    meta.ActorID,
		ActorType:  actorType,
		Action:     action,
		Entity:     domain.EntityUser,
		EntityID:   meta.AggregateID,
		OccurredAt: meta.OccurredAt,
	}
}
