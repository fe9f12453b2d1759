package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
)

type stubAPIKeyRepo struct {
	findFn func(ctx context.Context, tokenHash string) (domain.APIKey, error)
}

func (s *stubAPIKeyRepo) FindByTokenHash(ctx context.Context, tokenHash string) (domain.APIKey, error) {
	if s.findFn != nil {
		return s.findFn(ctx, tokenHash)
	}
	return domain.APIKey{}, domain.ErrNotFound
}

func (s *stubAPIKeyRepo) Upsert(context.Context, domain.APIKey) error { return nil }

func TestAuthServiceAuthenticateSuccess(t *testing.T) {
	repo := &stubAPIKeyRepo{findFn: func(_ context.Context, tokenHash string) (domain.APIKey, error) {
		if tokenHash != HashToken("token-1") {
			t.Fatalf("unexpected token hash: %s", tokenHash)
		}
		return domain.APIKey{TenantID: "tenant-a", Name: "ops", Active: true, CreatedAt: time.Now()}, nil
	}}

	svc := NewAuthService(repo, newMemUserRepo(nil))
	key, err := svc.Authenticate(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if key.TenantID != "tenant-a" {
		t.Fatalf("expected tenant-a, got %s", key.TenantID)
	}
}

func TestAuthServiceAuthenticateUnauthorized(t *testing.T) {
	svc := NewAuthService(&stubAPIKeyRepo{}, newMemUserRepo(nil))
	if _, err := svc.Authenticate(context.Background(), ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "unknown"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for unknown token, got %v", err)
	}
}

func TestAuthServiceAuthenticateInactiveKey(t *testing.T) {
	repo := &stubAPIKeyRepo{findFn: func(context.Context, string) (domain.APIKey, error) {
		return domain.APIKey{TenantID: "tenant-a", Active: false}, nil
	}}
	svc := NewAuthService(repo, newMemUserRepo(nil))
	if _, err := svc.Authenticate(context.Background(), "token-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAuthServicePrincipal(t *testing.T) {
	users := newMemUserRepo(nil)
	users.put(domain.UserState{ID: "user-1", TenantID: "tenant-a", IsActive: true})
	users.put(domain.UserState{ID: "user-2", TenantID: "tenant-a", IsActive: false})
	users.put(domain.UserState{ID: "user-3", TenantID: "tenant-b", IsActive: true})
	svc := NewAuthService(&stubAPIKeyRepo{}, users)
	key := domain.APIKey{TenantID: "tenant-a", Name: "ops", Active: true}

	p, err := svc.Principal(context.Background(), key, "")
	if err != nil {
		t.Fatalf("client principal: %v", err)
	}
	if p.ActorType != domain.ActorTypeClient || p.ActorID != "ops" {
		t.Fatalf("expected client principal ops, got %+v", p)
	}

	p, err = svc.Principal(context.Background(), key, "user-1")
	if err != nil {
		t.Fatalf("user principal: %v", err)
	}
	if p.ActorType != domain.ActorTypeUser || p.ActorID != "user-1" || p.TenantID != "tenant-a" {
		t.Fatalf("unexpected principal %+v", p)
	}

	for _, id := range []string{"user-2", "user-3", "missing"} {
		if _, err := svc.Principal(context.Background(), key, id); !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected forbidden for %s, got %v", id, err)
		}
	}
}
