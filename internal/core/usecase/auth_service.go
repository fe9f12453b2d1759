package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
	"github.com/atvirokodosprendimai/useraudit/internal/core/ports"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

type AuthService struct {
	repo  ports.APIKeyRepository
	users ports.UserReader
}

func NewAuthService(repo ports.APIKeyRepository, users ports.UserReader) *AuthService {
	return &AuthService{repo: repo, users: users}
}

func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.APIKey, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.APIKey{}, ErrUnauthorized
	}

	hash := HashToken(token)
	apiKey, err := s.repo.FindByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.APIKey{}, ErrUnauthorized
		}
		return domain.APIKey{}, err
	}
	if !apiKey.Active {
		return domain.APIKey{}, ErrUnauthorized
	}
	return apiKey, nil
}

// Principal decides who acts for a request. An empty actorUserID means the
// API client acts on its own; otherwise the user must exist in the client's
// tenant and be active.
func (s *AuthService) Principal(ctx context.Context, key domain.APIKey, actorUserID string) (domain.Principal, error) {
	actorUserID = strings.TrimSpace(actorUserID)
	if actorUserID == "" {
		return key.ClientPrincipal(), nil
	}

	user, err := s.users.FindByID(ctx, key.TenantID, actorUserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Principal{}, ErrForbidden
		}
		return domain.Principal{}, err
	}
	if !user.IsActive() {
		return domain.Principal{}, ErrForbidden
	}
	return domain.Principal{TenantID: key.TenantID, ActorID: user.ID(), ActorType: domain.ActorTypeUser}, nil
}

func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
