package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
	"github.com/atvirokodosprendimai/useraudit/internal/core/ports"
)

const (
	defaultAuditPageSize = 20
	maxAuditPageSize     = 100
)

// CreateAuditLogInput comes from trusted internal callers and is not
// re-validated. ID is optional; subscribers pass the event id so that a
// redelivered event maps onto the same record. OccurredAt, when set, becomes
// the record's creation time so relayed or replayed events keep their place
// in the feed.
type CreateAuditLogInput struct {
	ID         string
	TenantID   string
	ActorID    string
	ActorType  domain.ActorType
	Action     string
	Entity     string
	EntityID   string
	Changes    domain.Changes
	OccurredAt time.Time
}

type ListAuditLogsQuery struct {
	Filter domain.AuditLogFilter
	Page   domain.CursorParams
}

type AuditService struct {
	repo  ports.AuditLogRepository
	users ports.UserReader
	now   func() time.Time
}

func NewAuditService(repo ports.AuditLogRepository, users ports.UserReader) *AuditService {
	return &AuditService{repo: repo, users: users, now: func() time.Time { return time.Now().UTC() }}
}

// Create persists one audit log. Nothing but a repository failure rejects it.
func (s *AuditService) Create(ctx context.Context, in CreateAuditLogInput) error {
	id := in.ID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	createdAt := in.OccurredAt.UTC()
	if in.OccurredAt.IsZero() {
		createdAt = s.now()
	}
	log := domain.AuditLog{
		ID:        id,
		TenantID:  in.TenantID,
		ActorID:   in.ActorID,
		ActorType: in.ActorType,
		Action:    in.Action,
		Entity:    in.Entity,
		EntityID:  in.EntityID,
		Changes:   in.Changes,
		CreatedAt: createdAt,
	}
	if err := s.repo.Create(ctx, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// List returns one page of audit logs, newest first, with actors resolved.
func (s *AuditService) List(ctx context.Context, q ListAuditLogsQuery) (domain.AuditLogList, error) {
	filter := q.Filter
	if err := domain.ValidateKey(filter.TenantID); err != nil {
		return domain.AuditLogList{}, err
	}
	if !filter.ActorType.Valid() {
		return domain.AuditLogList{}, fmt.Errorf("%w: actorType must be USER or CLIENT", domain.ErrInvalidFilter)
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return domain.AuditLogList{}, fmt.Errorf("%w: endDate before startDate", domain.ErrInvalidFilter)
	}

	page := q.Page
	if page.Limit <= 0 {
		page.Limit = defaultAuditPageSize
	}
	if page.Limit > maxAuditPageSize {
		page.Limit = maxAuditPageSize
	}

	if filter.ActorID == "" && filter.ActorEmail != "" {
		email := strings.ToLower(strings.TrimSpace(filter.ActorEmail))
		actorID, ok, err := s.repo.ResolveActorIDByEmail(ctx, filter.TenantID, filter.ActorType, email)
		if err != nil {
			return domain.AuditLogList{}, fmt.Errorf("resolve actor email: %w", err)
		}
		if !ok {
			return emptyAuditLogList(), nil
		}
		filter.ActorID = actorID
	}

	result, err := s.repo.FindMany(ctx, filter, page)
	if err != nil {
		return domain.AuditLogList{}, fmt.Errorf("find audit logs: %w", err)
	}

	views, err := s.withActors(ctx, filter.TenantID, result.Records)
	if err != nil {
		return domain.AuditLogList{}, err
	}

	list := domain.AuditLogList{
		Data:        views,
		Count:       len(views),
		HasNextPage: result.HasNextPage,
	}
	if result.HasNextPage && len(views) > 0 {
		next := views[len(views)-1].ID
		list.NextCursor = &next
	}
	return list, nil
}

// withActors resolves every distinct USER actor in one lookup. Actors that
// no longer resolve get UnknownActor instead of failing the listing.
func (s *AuditService) withActors(ctx context.Context, tenantID string, records []domain.AuditLog) ([]domain.AuditLogView, error) {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, r := range records {
		if r.ActorType != domain.ActorTypeUser {
			continue
		}
		if _, ok := seen[r.ActorID]; ok {
			continue
		}
		seen[r.ActorID] = struct{}{}
		ids = append(ids, r.ActorID)
	}

	resolved := make(map[string]*domain.User, len(ids))
	if len(ids) > 0 {
		users, err := s.users.FindManyByIDs(ctx, tenantID, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve audit actors: %w", err)
		}
		for _, u := range users {
			resolved[u.ID()] = u
		}
	}

	views := make([]domain.AuditLogView, 0, len(records))
	for _, r := range records {
		actor := domain.Actor{ID: r.ActorID, Type: r.ActorType}
		switch {
		case r.ActorType != domain.ActorTypeUser:
			actor.Name = r.ActorID
		case resolved[r.ActorID] != nil:
			actor.Name = resolved[r.ActorID].Name()
			actor.Email = resolved[r.ActorID].Email()
		default:
			actor.Name = domain.UnknownActor
			actor.Email = domain.UnknownActor
		}
		views = append(views, domain.AuditLogView{AuditLog: r, Actor: actor})
	}
	return views, nil
}

func emptyAuditLogList() domain.AuditLogList {
	return domain.AuditLogList{Data: []domain.AuditLogView{}}
}
