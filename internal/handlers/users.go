package handlers

import (
	"context"
	"net/http"

	"github.com/BradenHooton/marketauth/internal/auth"
	"github.com/BradenHooton/marketauth/internal/services"
	pkghttp "github.com/BradenHooton/marketauth/pkg/http"
)

// UserServiceInterface defines the interface for account management logic
type UserServiceInterface interface {
	Profile(ctx context.Context, userID string) (*services.UserResponse, error)
	ChangeUsername(ctx context.Context, userID, username, ip string) (*services.AuthResponse, error)
	ChangePassword(ctx context.Context, userID string, in services.ChangePasswordInput) error
}

// UserHandler handles requests made on behalf of the session user
type UserHandler struct {
	service  UserServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(service UserServiceInterface, ipConfig *pkghttp.IPConfig) *UserHandler {
	return &UserHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// ChangeUsernameRequest represents the request body for a username change
type ChangeUsernameRequest struct {
	Username string `json:"username" validate:"required,max=32"`
}

// ChangePasswordRequest represents the request body for a password change.
// old_password may be empty for accounts that never had a password.
type ChangePasswordRequest struct {
	OldPassword     string `json:"old_password" validate:"max=256"`
	NewPassword     string `json:"new_password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

// sessionUserID returns the user id from the session claims
func sessionUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims := auth.GetUserFromContext(r)
	if claims == nil || claims.UserID == "" {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return "", false
	}
	return claims.UserID, true
}

// Profile returns the session user's public profile
// @Summary Current user profile
// @Produce json
// @Success 200 {object} services.UserResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/profile [get]
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUserID(w, r)
	if !ok {
		return
	}

	profile, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, profile)
}

// ChangeUsername renames the session user and returns a new session token
// @Summary Change username
// @Accept json
// @Param request body ChangeUsernameRequest true "New username"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/user/username [post]
func (h *UserHandler) ChangeUsername(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUserID(w, r)
	if !ok {
		return
	}

	var req ChangeUsernameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.service.ChangeUsername(r.Context(), userID, req.Username, pkghttp.ExtractClientIP(r, h.ipConfig))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// ChangePassword replaces the session user's password
// @Summary Change password
// @Accept json
// @Param request body ChangePasswordRequest true "Password change"
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/user/password [post]
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUserID(w, r)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	err := h.service.ChangePassword(r.Context(), userID, services.ChangePasswordInput{
		OldPassword:     req.OldPassword,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
		IPAddress:       pkghttp.ExtractClientIP(r, h.ipConfig),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}
