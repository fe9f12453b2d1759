package domain

import "time"

type ActorType string

const (
	ActorTypeUser   ActorType = "USER"
	ActorTypeClient ActorType = "CLIENT"
)

func (t ActorType) Valid() bool {
	return t == ActorTypeUser || t == ActorTypeClient
}

// ActorRef names who caused an event.
type ActorRef struct {
	ID   string
	Type ActorType
}

func UserActor(id string) ActorRef   { return ActorRef{ID: id, Type: ActorTypeUser} }
func ClientActor(id string) ActorRef { return ActorRef{ID: id, Type: ActorTypeClient} }

const EntityUser = "USER"

// Audit actions are flat namespaced strings so new kinds need no migration.
const (
	ActionUserCreated                = "user:created"
	ActionUserUpdated                = "user:updated"
	ActionUserRoleUpdated            = "user:role_updated"
	ActionUserActiveStatusUpdated    = "user:active_status_updated"
	ActionUserPasswordChanged        = "user:password_changed"
	ActionUserLoggedIn               = "user:logged_in"
	ActionUserLoggedOut              = "user:logged_out"
	ActionUserRequestedPasswordReset = "user:requested_password_reset"
	ActionUserResetPassword          = "user:reset_password"
)

// UnknownActor is shown for actors that no longer resolve.
const UnknownActor = "[unknown]"

// Changes is stored and returned verbatim; its shape belongs to the writer.
type Changes map[string]any

// AuditLog is immutable once written.
type AuditLog struct {
	ID        string
	TenantID  string
	ActorID   string
	ActorType ActorType
	Action    string
	Entity    string
	EntityID  string
	Changes   Changes
	CreatedAt time.Time
}

type AuditLogFilter struct {
	TenantID   string
	ActorType  ActorType
	ActorID    string
	ActorEmail string
	Entity     string
	Action     string
	EntityID   string
	StartDate  *time.Time
	EndDate    *time.Time
}

// CursorParams pages a listing. Cursor is the id of the last record of the
// previous page; empty starts from the newest record.
type CursorParams struct {
	Cursor string
	Limit  int
}

type AuditLogPage struct {
	Records     []AuditLog
	HasNextPage bool
}

type Actor struct {
	ID    string
	Type  ActorType
	Name  string
	Email string
}

// AuditLogView is an audit log with its actor resolved for display.
type AuditLogView struct {
	AuditLog
	Actor Actor
}

type AuditLogList struct {
	Data        []AuditLogView
	Count       int
	HasNextPage bool
	NextCursor  *string
}
