package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies one variant of Event. The set is closed: every kind
// listed in EventKinds has exactly one concrete type in this package.
type EventKind string

const (
	KindUserCreated                EventKind = "UserCreated"
	KindUserUpdated                EventKind = "UserUpdated"
	KindUserRoleChanged            EventKind = "UserRoleChanged"
	KindUserActiveStatusChanged    EventKind = "UserActiveStatusChanged"
	KindUserPasswordChanged        EventKind = "UserPasswordChanged"
	KindUserLoggedIn               EventKind = "UserLoggedIn"
	KindUserLoggedOut              EventKind = "UserLoggedOut"
	KindUserRequestedPasswordReset EventKind = "UserRequestedPasswordReset"
	KindUserResetPassword          EventKind = "UserResetPassword"
)

var eventKinds = []EventKind{
	KindUserCreated,
	KindUserUpdated,
	KindUserRoleChanged,
	KindUserActiveStatusChanged,
	KindUserPasswordChanged,
	KindUserLoggedIn,
	KindUserLoggedOut,
	KindUserRequestedPasswordReset,
	KindUserResetPassword,
}

// EventKinds returns every defined kind in declaration order.
func EventKinds() []EventKind {
	out := make([]EventKind, len(eventKinds))
	copy(out, eventKinds)
	return out
}

func (k EventKind) Valid() bool {
	for _, known := range eventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Event is an immutable fact about one aggregate. Implementations live only in
// this package; the unexported marker keeps the union closed.
type Event interface {
	Kind() EventKind
	Meta() EventMeta
	isEvent()
}

type EventMeta struct {
	EventID     string    `json:"eventId"`
	TenantID    string    `json:"tenantId"`
	AggregateID string    `json:"aggregateId"`
	ActorID     string    `json:"actorId"`
	ActorType   ActorType `json:"actorType"`
	OccurredAt  time.Time `json:"occurredAt"`
}

func (m EventMeta) Meta() EventMeta { return m }

func (EventMeta) isEvent() {}

func newEventMeta(tenantID, aggregateID string, actor ActorRef, at time.Time) EventMeta {
	return EventMeta{
		EventID:     uuid.Must(uuid.NewV7()).String(),
		TenantID:    tenantID,
		AggregateID: aggregateID,
		ActorID:     actor.ID,
		ActorType:   actor.Type,
		OccurredAt:  at.UTC(),
	}
}

// FieldChange is the before/after pair recorded for one changed field.
type FieldChange struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

type UserCreated struct {
	EventMeta
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func (UserCreated) Kind() EventKind { return KindUserCreated }

// UserUpdated carries one combined diff for every profile field that changed.
type UserUpdated struct {
	EventMeta
	Changes map[string]FieldChange `json:"changes"`
}

func (UserUpdated) Kind() EventKind { return KindUserUpdated }

type UserRoleChanged struct {
	EventMeta
	PreviousRole Role `json:"previousRole"`
	NewRole      Role `json:"newRole"`
}

func (UserRoleChanged) Kind() EventKind { return KindUserRoleChanged }

type UserActiveStatusChanged struct {
	EventMeta
	PreviousActive bool `json:"previousActive"`
	NewActive      bool `json:"newActive"`
}

func (UserActiveStatusChanged) Kind() EventKind { return KindUserActiveStatusChanged }

type UserPasswordChanged struct {
	EventMeta
}

func (UserPasswordChanged) Kind() EventKind { return KindUserPasswordChanged }

type UserLoggedIn struct {
	EventMeta
}

func (UserLoggedIn) Kind() EventKind { return KindUserLoggedIn }

type UserLoggedOut struct {
	EventMeta
}

func (UserLoggedOut) Kind() EventKind { return KindUserLoggedOut }

type UserRequestedPasswordReset struct {
	EventMeta
	ExpiresAt time.Time `json:"expiresAt"`
}

func (UserRequestedPasswordReset) Kind() EventKind { return KindUserRequestedPasswordReset }

type UserResetPassword struct {
	EventMeta
}

func (UserResetPassword) Kind() EventKind { return KindUserResetPassword }
