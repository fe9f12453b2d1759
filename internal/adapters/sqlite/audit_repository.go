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
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type auditLogModel struct {
	ID          string    `gorm:"column:id;primaryKey"`
	TenantID    string    `gorm:"column:tenant_id;not null"`
	ActorID     string    `gorm:"column:actor_id;not null"`
	ActorType   string    `gorm:"column:actor_type;not null"`
	Action      string    `gorm:"column:action;not null"`
	Entity      string    `gorm:"column:entity;not null"`
	EntityID    string    `gorm:"column:entity_id;not null"`
	ChangesJSON *string   `gorm:"column:changes_json"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
}

func (auditLogModel) TableName() string {
	return "audit_logs"
}

type AuditRepository struct {
	db *gormsqlite.DB
}

func NewAuditRepository(db *gormsqlite.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts the log. A log whose id already exists is left as it is, so
// a redelivered event does not duplicate its record.
func (r *AuditRepository) Create(ctx context.Context, log domain.AuditLog) error {
	model := auditLogModel{
		ID:        log.ID,
		TenantID:  log.TenantID,
		ActorID:   log.ActorID,
		ActorType: string(log.ActorType),
		Action:    log.Action,
		Entity:    log.Entity,
		EntityID:  log.EntityID,
		CreatedAt: log.CreatedAt.UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if log.Changes != nil {
		raw, err := json.Marshal(log.Changes)
		if err != nil {
			return fmt.Errorf("marshal audit changes: %w", err)
		}
		s := string(raw)
		model.ChangesJSON = &s
	}

	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// FindMany returns up to page.Limit logs ordered newest first. The cursor is
// the id of the last log already seen; it is resolved to its (created_at, id)
// position so that pages never overlap or skip rows with equal timestamps.
func (r *AuditRepository) FindMany(ctx context.Context, filter domain.AuditLogFilter, page domain.CursorParams) (domain.AuditLogPage, error) {
	var rows []auditLogModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Model(&auditLogModel{}).
			Where("tenant_id = ? AND actor_type = ?", filter.TenantID, string(filter.ActorType))
		if filter.ActorID != "" {
			query = query.Where("actor_id = ?", filter.ActorID)
		}
		if filter.Entity != "" {
			query = query.Where("entity = ?", filter.Entity)
		}
		if filter.Action != "" {
			query = query.Where("action = ?", filter.Action)
		}
		if filter.EntityID != "" {
			query = query.Where("entity_id = ?", filter.EntityID)
		}
		if filter.StartDate != nil {
			query = query.Where("created_at >= ?", filter.StartDate.UTC())
		}
		if filter.EndDate != nil {
			query = query.Where("created_at <= ?", filter.EndDate.UTC())
		}

		if page.Cursor != "" {
			var anchor auditLogModel
			err := tx.Select("id", "created_at").
				Where("tenant_id = ? AND id = ?", filter.TenantID, page.Cursor).
				First(&anchor).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrInvalidCursor
			}
			if err != nil {
				return fmt.Errorf("resolve cursor: %w", err)
			}
			query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", anchor.CreatedAt, anchor.CreatedAt, anchor.ID)
		}

		return query.Order("created_at DESC").Order("id DESC").Limit(page.Limit + 1).Find(&rows).Error
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCursor) {
			return domain.AuditLogPage{}, err
		}
		return domain.AuditLogPage{}, fmt.Errorf("list audit logs: %w", err)
	}

	hasNext := len(rows) > page.Limit
	if hasNext {
		rows = rows[:page.Limit]
	}

	records := make([]domain.AuditLog, 0, len(rows))
	for _, row := range rows {
		log, err := toAuditLog(row)
		if err != nil {
			return domain.AuditLogPage{}, err
		}
		records = append(records, log)
	}
	return domain.AuditLogPage{Records: records, HasNextPage: hasNext}, nil
}

// ResolveActorIDByEmail maps an email to a user id within the tenant. API
// clients have no email, so CLIENT lookups never resolve.
func (r *AuditRepository) ResolveActorIDByEmail(ctx context.Context, tenantID string, actorType domain.ActorType, email string) (string, bool, error) {
	if actorType != domain.ActorTypeUser {
		return "", false, nil
	}
	var ids []string
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&userModel{}).
			Where("tenant_id = ? AND email = ?", tenantID, strings.ToLower(email)).
			Limit(1).
			Pluck("id", &ids).Error
	})
	if err != nil {
		return "", false, fmt.Errorf("resolve actor email: %w", err)
	}
	if len(ids) == 0 {
		return "", false, nil
	}
	return ids[0], true, nil
}

func toAuditLog(m auditLogModel) (domain.AuditLog, error) {
	log := domain.AuditLog{
		ID:        m.ID,
		TenantID:  m.TenantID,
		ActorID:   m.ActorID,
		ActorType: domain.ActorType(m.ActorType),
		Action:    m.Action,
		Entity:    m.Entity,
		EntityID:  m.EntityID,
		CreatedAt: m.CreatedAt,
	}
	if m.ChangesJSON != nil {
		if err := json.Unmarshal([]byte(*m.ChangesJSON), &log.Changes); err != nil {
			return domain.AuditLog{}, fmt.Errorf("decode changes for audit log %s: %w", m.ID, err)
		}
	}
	return log, nil
}
