package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/useraudit/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
	"github.com/atvirokodosprendimai/useraudit/internal/core/ports"
	"gorm.io/gorm"
)

type userModel struct {
	ID                  string     `gorm:"column:id;primaryKey"`
	TenantID            string     `gorm:"column:tenant_id;not null"`
	Name                string     `gorm:"column:name;not null"`
	Email               string     `gorm:"column:email;not null"`
	Role                string     `gorm:"column:role;not null"`
	IsActive            bool       `gorm:"column:is_active;not null"`
	AvatarURL           string     `gorm:"column:avatar_url;not null"`
	AddressesJSON       string     `gorm:"column:addresses_json;not null"`
	PasswordHash        string     `gorm:"column:password_hash;not null"`
	ResetTokenHash      string     `gorm:"column:reset_token_hash;not null"`
	ResetTokenExpiresAt *time.Time `gorm:"column:reset_token_expires_at"`
	LastLoginAt         *time.Time `gorm:"column:last_login_at"`
	CreatedAt           time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (userModel) TableName() string {
	return "users"
}

// UserRepository stores users and publishes their buffered events once the
// write has committed. In sync mode the dispatcher runs right after commit.
// With an outbox encoder the events are written to outbox_events in the same
// transaction and the relay dispatches them later. A failed write leaves the
// buffer untouched.
type UserRepository struct {
	db         *gormsqlite.DB
	dispatcher ports.EventDispatcher
	outbox     EventEncoder
	now        func() time.Time
}

func NewUserRepository(db *gormsqlite.DB, dispatcher ports.EventDispatcher) *UserRepository {
	return &UserRepository{db: db, dispatcher: dispatcher, now: func() time.Time { return time.Now().UTC() }}
}

// WithOutbox switches the repository to transactional outbox mode.
func (r *UserRepository) WithOutbox(enc EventEncoder) *UserRepository {
	r.outbox = enc
	return r
}

func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	model, err := toUserModel(u.State())
	if err != nil {
		return err
	}
	events := u.PendingEvents()
	err = r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		if err := tx.Create(&model).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrEmailTaken
			}
			return fmt.Errorf("insert user: %w", err)
		}
		return r.stageEvents(tx.DB, events)
	})
	if err != nil {
		return err
	}
	return r.publish(ctx, u)
}

func (r *UserRepository) Save(ctx context.Context, u *domain.User) error {
	model, err := toUserModel(u.State())
	if err != nil {
		return err
	}
	events := u.PendingEvents()
	err = r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&userModel{}).
			Where("id = ? AND tenant_id = ?", model.ID, model.TenantID).
			Updates(map[string]any{
				"name":                   model.Name,
				"email":                  model.Email,
				"role":                   model.Role,
				"is_active":              model.IsActive,
				"avatar_url":             model.AvatarURL,
				"addresses_json":         model.AddressesJSON,
				"password_hash":          model.PasswordHash,
				"reset_token_hash":       model.ResetTokenHash,
				"reset_token_expires_at": model.ResetTokenExpiresAt,
				"last_login_at":          model.LastLoginAt,
				"updated_at":             model.UpdatedAt,
			})
		if res.Error != nil {
			if isUniqueViolation(res.Error) {
				return domain.ErrEmailTaken
			}
			return fmt.Errorf("update user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return r.stageEvents(tx.DB, events)
	})
	if err != nil {
		return err
	}
	return r.publish(ctx, u)
}

func (r *UserRepository) stageEvents(tx *gorm.DB, events []domain.Event) error {
	if r.outbox == nil || len(events) == 0 {
		return nil
	}
	return insertOutbox(tx, r.outbox, events, r.now())
}

func (r *UserRepository) publish(ctx context.Context, u *domain.User) error {
	if r.outbox != nil || r.dispatcher == nil {
		u.ClearEvents()
		return nil
	}
	return r.dispatcher.DispatchAggregate(ctx, u)
}

func (r *UserRepository) FindByID(ctx context.Context, tenantID, id string) (*domain.User, error) {
	return r.findOne(ctx, "tenant_id = ? AND id = ?", tenantID, id)
}

func (r *UserRepository) FindByEmail(ctx context.Context, tenantID, email string) (*domain.User, error) {
	return r.findOne(ctx, "tenant_id = ? AND email = ?", tenantID, strings.ToLower(email))
}

func (r *UserRepository) findOne(ctx context.Context, where string, args ...any) (*domain.User, error) {
	var model userModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where(where, args...).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	state, err := toUserState(model)
	if err != nil {
		return nil, err
	}
	return domain.RestoreUser(state), nil
}

func (r *UserRepository) FindManyByIDs(ctx context.Context, tenantID string, ids []string) ([]*domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []userModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("tenant_id = ? AND id IN ?", tenantID, ids).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}

	users := make([]*domain.User, 0, len(rows))
	for _, row := range rows {
		state, err := toUserState(row)
		if err != nil {
			return nil, err
		}
		users = append(users, domain.RestoreUser(state))
	}
	return users, nil
}

func toUserModel(s domain.UserState) (userModel, error) {
	addresses := s.Addresses
	if addresses == nil {
		addresses = []domain.Address{}
	}
	raw, err := json.Marshal(addresses)
	if err != nil {
		return userModel{}, fmt.Errorf("marshal addresses: %w", err)
	}
	return userModel{
		ID:                  s.ID,
		TenantID:            s.TenantID,
		Name:                s.Name,
		Email:               s.Email,
		Role:                string(s.Role),
		IsActive:            s.IsActive,
		AvatarURL:           s.AvatarURL,
		AddressesJSON:       string(raw),
		PasswordHash:        s.PasswordHash,
		ResetTokenHash:      s.ResetTokenHash,
		ResetTokenExpiresAt: utcPtr(s.ResetTokenExpiresAt),
		LastLoginAt:         utcPtr(s.LastLoginAt),
		CreatedAt:           s.CreatedAt.UTC(),
		UpdatedAt:           s.UpdatedAt.UTC(),
	}, nil
}

func toUserState(m userModel) (domain.UserState, error) {
	var addresses []domain.Address
	if m.AddressesJSON != "" {
		if err := json.Unmarshal([]byte(m.AddressesJSON), &addresses); err != nil {
			return domain.UserState{}, fmt.Errorf("decode addresses for user %s: %w", m.ID, err)
		}
	}
	return domain.UserState{
		ID:                  m.ID,
		TenantID:            m.TenantID,
		Name:                m.Name,
		Email:               m.Email,
		Role:                domain.Role(m.Role),
		IsActive:            m.IsActive,
		AvatarURL:           m.AvatarURL,
		Addresses:           addresses,
		PasswordHash:        m.PasswordHash,
		ResetTokenHash:      m.ResetTokenHash,
		ResetTokenExpiresAt: m.ResetTokenExpiresAt,
		LastLoginAt:         m.LastLoginAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}
