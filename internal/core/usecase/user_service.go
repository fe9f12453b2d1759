package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
	"github.com/atvirokodosprendimai/useraudit/internal/core/ports"
)

const (
	minPasswordLength    = 8
	defaultResetTokenTTL = time.Hour
)

type CreateUserInput struct {
	Name      string
	Email     string
	Role      domain.Role
	Password  string
	AvatarURL string
	Addresses []domain.Address
}

type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
}

// UserService runs the user use cases. Every mutation goes through a User
// method and then the repository, which dispatches the raised events.
type UserService struct {
	repo     ports.UserRepository
	hasher   ports.PasswordHasher
	notifier ports.ResetNotifier
	resetTTL time.Duration
	now      func() time.Time
}

func NewUserService(repo ports.UserRepository, hasher ports.PasswordHasher, notifier ports.ResetNotifier, resetTTL time.Duration) *UserService {
	if resetTTL <= 0 {
		resetTTL = defaultResetTokenTTL
	}
	return &UserService{
		repo:     repo,
		hasher:   hasher,
		notifier: notifier,
		resetTTL: resetTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *UserService) Create(ctx context.Context, actor domain.Principal, in CreateUserInput) (domain.UserState, error) {
	email, err := domain.NormalizeEmail(in.Email)
	if err != nil {
		return domain.UserState{}, err
	}
	if _, err := s.repo.FindByEmail(ctx, actor.TenantID, email); err == nil {
		return domain.UserState{}, domain.ErrEmailTaken
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.UserState{}, fmt.Errorf("check email: %w", err)
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return domain.UserState{}, err
	}

	user, err := domain.NewUser(domain.NewUserParams{
		TenantID:     actor.TenantID,
		Name:         in.Name,
		Email:        email,
		Role:         in.Role,
		PasswordHash: hash,
		AvatarURL:    in.AvatarURL,
		Addresses:    in.Addresses,
	}, actor.Ref(), s.now())
	if err != nil {
		return domain.UserState{}, err
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return domain.UserState{}, fmt.Errorf("create user: %w", err)
	}
	return user.State(), nil
}

func (s *UserService) Get(ctx context.Context, tenantID, id string) (domain.UserState, error) {
	user, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		return domain.UserState{}, err
	}
	return user.State(), nil
}

func (s *UserService) UpdateProfile(ctx context.Context, actor domain.Principal, id string, upd domain.ProfileUpdate) (domain.UserState, error) {
	user, err := s.repo.FindByID(ctx, actor.TenantID, id)
	if err != nil {
		return domain.UserState{}, err
	}
	changed, err := user.UpdateProfile(actor.Ref(), upd, s.now())
	if err != nil {
		return domain.UserState{}, err
	}
	if !changed {
		return user.State(), nil
	}
	if err := s.repo.Save(ctx, user); err != nil {
		return domain.UserState{}, fmt.Errorf("save user: %w", err)
	}
	return user.State(), nil
}

func (s *UserService) ChangeRole(ctx context.Context, actor domain.Principal, id string, role domain.Role) (domain.UserState, error) {
	return s.mutate(ctx, actor.TenantID, id, func(u *domain.User) error {
		return u.ChangeRole(actor.Ref(), role, s.now())
	})
}

func (s *UserService) SetActive(ctx context.Context, actor domain.Principal, id string, active bool) (domain.UserState, error) {
	return s.mutate(ctx, actor.TenantID, id, func(u *domain.User) error {
		u.SetActive(actor.Ref(), active, s.now())
		return nil
	})
}

// ChangePassword requires the current password when users change their own.
func (s *UserService) ChangePassword(ctx context.Context, actor domain.Principal, id string, in ChangePasswordInput) error {
	_, err := s.mutate(ctx, actor.TenantID, id, func(u *domain.User) error {
		if actor.ActorType == domain.ActorTypeUser && actor.ActorID == u.ID() {
			if err := s.hasher.Compare(u.PasswordHash(), in.CurrentPassword); err != nil {
				return domain.ErrInvalidCredentials
			}
		}
		hash, err := s.hashPassword(in.NewPassword)
		if err != nil {
			return err
		}
		return u.ChangePassword(actor.Ref(), hash, s.now())
	})
	return err
}

// Login checks credentials and records the login. Session and token issuing
// belong to the caller.
func (s *UserService) Login(ctx context.Context, tenantID, email, password string) (domain.UserState, error) {
	user, err := s.findByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.UserState{}, domain.ErrInvalidCredentials
		}
		return domain.UserState{}, err
	}
	if err := s.hasher.Compare(user.PasswordHash(), password); err != nil {
		return domain.UserState{}, domain.ErrInvalidCredentials
	}
	if err := user.RecordLogin(s.now()); err != nil {
		return domain.UserState{}, err
	}
	if err := s.repo.Save(ctx, user); err != nil {
		return domain.UserState{}, fmt.Errorf("save user: %w", err)
	}
	return user.State(), nil
}

func (s *UserService) Logout(ctx context.Context, tenantID, id string) error {
	_, err := s.mutate(ctx, tenantID, id, func(u *domain.User) error {
		u.RecordLogout(s.now())
		return nil
	})
	return err
}

// RequestPasswordReset issues a reset token and hands it to the notifier.
// Unknown or inactive accounts get the same nil result so callers cannot
// probe which emails exist.
func (s *UserService) RequestPasswordReset(ctx context.Context, tenantID, email string) error {
	user, err := s.findByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if !user.IsActive() {
		return nil
	}

	token, err := newResetToken()
	if err != nil {
		return err
	}
	now := s.now()
	if err := user.RequestPasswordReset(HashToken(token), now.Add(s.resetTTL), now); err != nil {
		return err
	}
	if err := s.repo.Save(ctx, user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	if err := s.notifier.NotifyPasswordReset(ctx, user.State(), token); err != nil {
		return fmt.Errorf("notify password reset: %w", err)
	}
	return nil
}

func (s *UserService) ResetPassword(ctx context.Context, tenantID, email, token, newPassword string) error {
	user, err := s.findByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrResetTokenInvalid
		}
		return err
	}
	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := user.ResetPassword(HashToken(token), hash, s.now()); err != nil {
		return err
	}
	if err := s.repo.Save(ctx, user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *UserService) mutate(ctx context.Context, tenantID, id string, fn func(u *domain.User) error) (domain.UserState, error) {
	user, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		return domain.UserState{}, err
	}
	if err := fn(user); err != nil {
		return domain.UserState{}, err
	}
	if len(user.PendingEvents()) == 0 {
		return user.State(), nil
	}
	if err := s.repo.Save(ctx, user); err != nil {
		return domain.UserState{}, fmt.Errorf("save user: %w", err)
	}
	return user.State(), nil
}

func (s *UserService) findByEmail(ctx context.Context, tenantID, email string) (*domain.User, error) {
	normalized, err := domain.NormalizeEmail(email)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	return s.repo.FindByEmail(ctx, tenantID, normalized)
}

func (s *UserService) hashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidUser, minPasswordLength)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

func newResetToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
