package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
	"github.com/atvirokodosprendimai/useraudit/internal/core/usecase"
)

type createUserRequest struct {
	Name      string           `json:"name"`
	Email     string           `json:"email"`
	Role      string           `json:"role"`
	Password  string           `json:"password"`
	AvatarURL string           `json:"avatarUrl"`
	Addresses []domain.Address `json:"addresses"`
}

type updateUserRequest struct {
	Name      *string           `json:"name"`
	AvatarURL *string           `json:"avatarUrl"`
	Addresses *[]domain.Address `json:"addresses"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

type setActiveRequest struct {
	IsActive bool `json:"isActive"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

type passwordResetConfirmRequest struct {
	Email    string `json:"email"`
	Token    string `json:"token"`
	Password string `json:"password"`
}

type userResponse struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Email       string           `json:"email"`
	Role        string           `json:"role"`
	IsActive    bool             `json:"isActive"`
	AvatarURL   string           `json:"avatarUrl"`
	Addresses   []domain.Address `json:"addresses"`
	LastLoginAt *string          `json:"lastLoginAt"`
	CreatedAt   string           `json:"createdAt"`
	UpdatedAt   string           `json:"updatedAt"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !h.decodeBody(w, r, "create_user", &req) {
		return
	}

	user, err := h.users.Create(r.Context(), principalFromContext(r.Context()), usecase.CreateUserInput{
		Name:      req.Name,
		Email:     req.Email,
		Role:      domain.Role(req.Role),
		Password:  req.Password,
		AvatarURL: req.AvatarURL,
		Addresses: req.Addresses,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	user, err := h.users.Get(r.Context(), p.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if !h.decodeBody(w, r, "update_user", &req) {
		return
	}

	upd := domain.ProfileUpdate{Name: req.Name, AvatarURL: req.AvatarURL, Addresses: req.Addresses}
	user, err := h.users.UpdateProfile(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id"), upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	var req changeRoleRequest
	if !h.decodeBody(w, r, "change_role", &req) {
		return
	}
	user, err := h.users.ChangeRole(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id"), domain.Role(req.Role))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if !h.decodeBody(w, r, "set_active", &req) {
		return
	}
	user, err := h.users.SetActive(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id"), req.IsActive)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !h.decodeBody(w, r, "change_password", &req) {
		return
	}
	err := h.users.ChangePassword(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id"), usecase.ChangePasswordInput{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeBody(w, r, "login", &req) {
		return
	}
	user, err := h.users.Login(r.Context(), principalFromContext(r.Context()).TenantID, req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// logout ends the session of the acting user. API clients acting on their
// own have no session.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	if p.ActorType != domain.ActorTypeUser {
		h.fail(w, r, usecase.ErrForbidden)
		return
	}
	if err := h.users.Logout(r.Context(), p.TenantID, p.ActorID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if !h.decodeBody(w, r, "password_reset", &req) {
		return
	}
	if err := h.users.RequestPasswordReset(r.Context(), principalFromContext(r.Context()).TenantID, req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) confirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetConfirmRequest
	if !h.decodeBody(w, r, "password_reset_confirm", &req) {
		return
	}
	err := h.users.ResetPassword(r.Context(), principalFromContext(r.Context()).TenantID, req.Email, req.Token, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toUserResponse(u domain.UserState) userResponse {
	addresses := u.Addresses
	if addresses == nil {
		addresses = []domain.Address{}
	}
	resp := userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		IsActive:  u.IsActive,
		AvatarURL: u.AvatarURL,
		Addresses: addresses,
		CreatedAt: u.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt: u.UpdatedAt.UTC().Format(timeFormat),
	}
	if u.LastLoginAt != nil {
		s := u.LastLoginAt.UTC().Format(timeFormat)
		resp.LastLoginAt = &s
	}
	return resp
}
