package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/useraudit/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// apiKeyModel stores only the SHA-256 of a key; the key itself is never kept.
type apiKeyModel struct {
	TokenHash string    `gorm:"column:token_hash;primaryKey"`
	TenantID  string    `gorm:"column:tenant_id;not null"`
	Name      string    `gorm:"column:name;not null"`
	Active    bool      `gorm:"column:active;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
}

func (apiKeyModel) TableName() string {
	return "api_keys"
}

type APIKeyRepository struct {
	db *gormsqlite.DB
}

func NewAPIKeyRepository(db *gormsqlite.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) FindByTokenHash(ctx context.Context, tokenHash string) (domain.APIKey, error) {
	var model apiKeyModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("token_hash = ?", tokenHash).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.APIKey{}, domain.ErrNotFound
		}
		return domain.APIKey{}, fmt.Errorf("find api key: %w", err)
	}
	return toAPIKey(model), nil
}

// Upsert registers a key or updates the tenant, name and active flag of an
// existing one. The creation time of an existing key is kept.
func (r *APIKeyRepository) Upsert(ctx context.Context, key domain.APIKey) error {
	if err := domain.ValidateKey(key.TenantID); err != nil {
		return fmt.Errorf("api key tenant: %w", err)
	}
	createdAt := key.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	model := apiKeyModel{
		TokenHash: key.TokenHash,
		TenantID:  key.TenantID,
		Name:      key.Name,
		Active:    key.Active,
		CreatedAt: createdAt.UTC(),
	}

	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "name", "active"}),
		}).Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("upsert api key: %w", err)
	}
	return nil
}

// Revoke deactivates every key of the tenant with the given name and reports
// how many were active before.
func (r *APIKeyRepository) Revoke(ctx context.Context, tenantID, name string) (int64, error) {
	var revoked int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&apiKeyModel{}).
			Where("tenant_id = ? AND name = ? AND active = ?", tenantID, name, true).
			Update("active", false)
		revoked = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("revoke api key: %w", err)
	}
	return revoked, nil
}

func toAPIKey(m apiKeyModel) domain.APIKey {
	return domain.APIKey{
		TokenHash: m.TokenHash,
		TenantID:  m.TenantID,
		Name:      m.Name,
		Active:    m.Active,
		CreatedAt: m.CreatedAt.UTC(),
	}
}
