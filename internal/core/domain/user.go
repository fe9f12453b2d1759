package domain

import (
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleManager  Role = "MANAGER"
	RoleOperator Role = "OPERATOR"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleOperator:
		return true
	}
	return false
}

type Address struct {
	Label      string `json:"label,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

// UserState is the persisted shape of a User. Repositories map rows to and
// from it; business code goes through User methods.
type UserState struct {
	ID                  string
	TenantID            string
	Name                string
	Email               string
	Role                Role
	IsActive            bool
	AvatarURL           string
	Addresses           []Address
	PasswordHash        string
	ResetTokenHash      string
	ResetTokenExpiresAt *time.Time
	LastLoginAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type User struct {
	AggregateRoot
	state UserState
}

type NewUserParams struct {
	TenantID     string
	Name         string
	Email        string
	Role         Role
	PasswordHash string
	AvatarURL    string
	Addresses    []Address
}

// ProfileUpdate holds the editable profile fields. Nil means "leave as is".
type ProfileUpdate struct {
	Name      *string
	AvatarURL *string
	Addresses *[]Address
}

// NewUser creates an active user and raises UserCreated on behalf of actor.
func NewUser(p NewUserParams, actor ActorRef, now time.Time) (*User, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, ErrInvalidUser
	}
	email, err := NormalizeEmail(p.Email)
	if err != nil {
		return nil, err
	}
	if !p.Role.Valid() {
		return nil, ErrInvalidRole
	}
	if err := ValidateKey(p.TenantID); err != nil {
		return nil, err
	}

	now = now.UTC()
	u := &User{state: UserState{
		ID:           uuid.NewString(),
		TenantID:     p.TenantID,
		Name:         name,
		Email:        email,
		Role:         p.Role,
		IsActive:     true,
		AvatarURL:    p.AvatarURL,
		Addresses:    slices.Clone(p.Addresses),
		PasswordHash: p.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}}
	u.addEvent(UserCreated{
		EventMeta: newEventMeta(u.state.TenantID, u.state.ID, actor, now),
		Name:      u.state.Name,
		Email:     u.state.Email,
		Role:      u.state.Role,
		CreatedAt: now,
	})
	return u, nil
}

// RestoreUser rebuilds a user loaded from storage. The event buffer starts empty.
func RestoreUser(s UserState) *User {
	s.Addresses = slices.Clone(s.Addresses)
	return &User{state: s}
}

func (u *User) AggregateID() string { return u.state.ID }
func (u *User) ID() string          { return u.state.ID }
func (u *User) TenantID() string    { return u.state.TenantID }
func (u *User) Name() string        { return u.state.Name }
func (u *User) Email() string       { return u.state.Email }
func (u *User) Role() Role          { return u.state.Role }
func (u *User) IsActive() bool      { return u.state.IsActive }
func (u *User) PasswordHash() string {
	return u.state.PasswordHash
}

// State returns a copy of the current persisted shape.
func (u *User) State() UserState {
	s := u.state
	s.Addresses = slices.Clone(u.state.Addresses)
	return s
}

// UpdateProfile applies the non-nil fields. It reports whether anything
// changed; an update equal to the current state raises no event.
func (u *User) UpdateProfile(actor ActorRef, upd ProfileUpdate, now time.Time) (bool, error) {
	changes := make(map[string]FieldChange)

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return false, ErrInvalidUser
		}
		if name != u.state.Name {
			changes["name"] = FieldChange{Before: u.state.Name, After: name}
			u.state.Name = name
		}
	}
	if upd.AvatarURL != nil && *upd.AvatarURL != u.state.AvatarURL {
		changes["avatarUrl"] = FieldChange{Before: u.state.AvatarURL, After: *upd.AvatarURL}
		u.state.AvatarURL = *upd.AvatarURL
	}
	if upd.Addresses != nil && !slices.Equal(*upd.Addresses, u.state.Addresses) {
		next := slices.Clone(*upd.Addresses)
		changes["addresses"] = FieldChange{Before: slices.Clone(u.state.Addresses), After: slices.Clone(next)}
		u.state.Addresses = next
	}

	if len(changes) == 0 {
		return false, nil
	}
	u.touch(now)
	u.addEvent(UserUpdated{
		EventMeta: newEventMeta(u.state.TenantID, u.state.ID, actor, now),
		Changes:   changes,
	})
	return true, nil
}

// ChangeRole sets a new role. Assigning the current role is a no-op.
func (u *User) ChangeRole(actor ActorRef, role Role, now time.Time) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	previous := u.state.Role
	if previous == role {
		return nil
	}
	u.state.Role = role
	u.touch(now)
	u.addEvent(UserRoleChanged{
		EventMeta:    newEventMeta(u.state.TenantID, u.state.ID, actor, now),
		PreviousRole: previous,
		NewRole:      role,
	})
	return nil
}

// SetActive toggles the active flag. Setting the current value is a no-op.
func (u *User) SetActive(actor ActorRef, active bool, now time.Time) {
	previous := u.state.IsActive
	if previous == active {
		return
	}
	u.state.IsActive = active
	u.touch(now)
	u.addEvent(UserActiveStatusChanged{
		EventMeta:      newEventMeta(u.state.TenantID, u.state.ID, actor, now),
		PreviousActive: previous,
		NewActive:      active,
	})
}

func (u *User) ChangePassword(actor ActorRef, passwordHash string, now time.Time) error {
	if passwordHash == "" {
		return ErrInvalidUser
	}
	u.state.PasswordHash = passwordHash
	u.clearResetToken()
	u.touch(now)
	u.addEvent(UserPasswordChanged{
		EventMeta: newEventMeta(u.state.TenantID, u.state.ID, actor, now),
	})
	return nil
}

func (u *User) RecordLogin(now time.Time) error {
	if !u.state.IsActive {
		return ErrInactiveUser
	}
	at := now.UTC()
	u.state.LastLoginAt = &at
	u.addEvent(UserLoggedIn{
		EventMeta: newEventMeta(u.state.TenantID, u.state.ID, u.self(), now),
	})
	return nil
}

func (u *User) RecordLogout(now time.Time) {
	u.addEvent(UserLoggedOut{
		EventMeta: newEventMeta(u.state.TenantID, u.state.ID, u.self(), now),
	})
}

// RequestPasswordReset stores the hash of a one-time reset token.
func (u *User) RequestPasswordReset(tokenHash string, expiresAt, now time.Time) error {
	if !u.state.IsActive {
		return ErrInactiveUser
	}
	exp := expiresAt.UTC()
	u.state.ResetTokenHash = tokenHash
	u.state.ResetTokenExpiresAt = &exp
	u.touch(now)
	u.addEvent(UserRequestedPasswordReset{
		EventMeta: newEventMeta(u.state.TenantID, u.state.ID, u.self(), now),
		ExpiresAt: exp,
	})
	return nil
}

// ResetPassword consumes a reset token issued by RequestPasswordReset.
func (u *User) ResetPassword(tokenHash, passwordHash string, now time.Time) error {
	if u.state.ResetTokenHash == "" || u.state.ResetTokenHash != tokenHash {
		return ErrResetTokenInvalid
	}
	if u.state.ResetTokenExpiresAt == nil || !now.Before(*u.state.ResetTokenExpiresAt) {
		return ErrResetTokenInvalid
	}
	if passwordHash == "" {
		return ErrInvalidUser
	}
	u.state.PasswordHash = passwordHash
	u.clearResetToken()
	u.touch(now)
	u.addEvent(UserResetPassword{
		EventMeta: newEventMeta(u.state.TenantID, u.state.ID, u.self(), now),
	})
	return nil
}

func (u *User) self() ActorRef {
	return UserActor(u.state.ID)
}

func (u *User) clearResetToken() {
	u.state.ResetTokenHash = ""
	u.state.ResetTokenExpiresAt = nil
}

func (u *User) touch(now time.Time) {
	u.state.UpdatedAt = now.UTC()
}

// NormalizeEmail validates an email and lower-cases it the way users store it.
func NormalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", ErrInvalidUser
	}
	return strings.ToLower(addr.Address), nil
}
