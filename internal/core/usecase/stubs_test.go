package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
	"github.com/atvirokodosprendimai/useraudit/internal/core/ports"
)

// memUserRepo keeps users in memory and dispatches like the sqlite
// repository does in sync mode: only after the write succeeded.
type memUserRepo struct {
	users      map[string]domain.UserState
	dispatcher ports.EventDispatcher
	writeErr   error
	flushed    []domain.Event
	saves      int
}

func newMemUserRepo(dispatcher ports.EventDispatcher) *memUserRepo {
	return &memUserRepo{users: make(map[string]domain.UserState), dispatcher: dispatcher}
}

func (r *memUserRepo) FindByID(_ context.Context, tenantID, id string) (*domain.User, error) {
	s, ok := r.users[id]
	if !ok || s.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return domain.RestoreUser(s), nil
}

func (r *memUserRepo) FindByEmail(_ context.Context, tenantID, email string) (*domain.User, error) {
	for _, s := range r.users {
		if s.TenantID == tenantID && strings.EqualFold(s.Email, email) {
			return domain.RestoreUser(s), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memUserRepo) FindManyByIDs(_ context.Context, tenantID string, ids []string) ([]*domain.User, error) {
	out := make([]*domain.User, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.users[id]; ok && s.TenantID == tenantID {
			out = append(out, domain.RestoreUser(s))
		}
	}
	return out, nil
}

func (r *memUserRepo) Create(ctx context.Context, u *domain.User) error {
	return r.write(ctx, u)
}

func (r *memUserRepo) Save(ctx context.Context, u *domain.User) error {
	return r.write(ctx, u)
}

func (r *memUserRepo) write(ctx context.Context, u *domain.User) error {
	if r.writeErr != nil {
		return r.writeErr
	}
	r.saves++
	r.users[u.ID()] = u.State()
	r.flushed = append(r.flushed, u.PendingEvents()...)
	if r.dispatcher == nil {
		u.ClearEvents()
		return nil
	}
	return r.dispatcher.DispatchAggregate(ctx, u)
}

func (r *memUserRepo) put(s domain.UserState) {
	r.users[s.ID] = s
}

type plainHasher struct{}

func (plainHasher) Hash(pw string) (string, error) { return "hashed:" + pw, nil }

func (plainHasher) Compare(hash, pw string) error {
	if hash != "hashed:"+pw {
		return errors.New("mismatch")
	}
	return nil
}

type notifierStub struct {
	tokens map[string]string
}

func (n *notifierStub) NotifyPasswordReset(_ context.Context, user domain.UserState, token string) error {
	if n.tokens == nil {
		n.tokens = make(map[string]string)
	}
	n.tokens[user.Email] = token
	return nil
}

// memAuditRepo filters and pages like the sqlite repository.
type memAuditRepo struct {
	logs       []domain.AuditLog
	emails     map[string]string
	lastFilter domain.AuditLogFilter
	lastPage   domain.CursorParams
}

func (r *memAuditRepo) Create(_ context.Context, log domain.AuditLog) error {
	for _, l := range r.logs {
		if l.ID == log.ID {
			return nil
		}
	}
	r.logs = append(r.logs, log)
	return nil
}

func (r *memAuditRepo) FindMany(_ context.Context, filter domain.AuditLogFilter, page domain.CursorParams) (domain.AuditLogPage, error) {
	r.lastFilter = filter
	r.lastPage = page

	// newest first; logs are appended in creation order
	matched := make([]domain.AuditLog, 0)
	for i := len(r.logs) - 1; i >= 0; i-- {
		l := r.logs[i]
		if l.TenantID != filter.TenantID || l.ActorType != filter.ActorType {
			continue
		}
		if filter.ActorID != "" && l.ActorID != filter.ActorID {
			continue
		}
		if filter.Action != "" && l.Action != filter.Action {
			continue
		}
		matched = append(matched, l)
	}

	start := 0
	if page.Cursor != "" {
		start = -1
		for i, l := range matched {
			if l.ID == page.Cursor {
				start = i + 1
			}
		}
		if start < 0 {
			return domain.AuditLogPage{}, domain.ErrInvalidCursor
		}
	}
	rest := matched[start:]
	if len(rest) > page.Limit {
		return domain.AuditLogPage{Records: rest[:page.Limit], HasNextPage: true}, nil
	}
	return domain.AuditLogPage{Records: rest}, nil
}

func (r *memAuditRepo) ResolveActorIDByEmail(_ context.Context, _ string, actorType domain.ActorType, email string) (string, bool, error) {
	if actorType != domain.ActorTypeUser {
		return "", false, nil
	}
	id, ok := r.emails[email]
	return id, ok, nil
}
