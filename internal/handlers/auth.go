package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/marketauth/internal/captcha"
	"github.com/BradenHooton/marketauth/internal/services"
	pkghttp "github.com/BradenHooton/marketauth/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	IssueChallenge(ctx context.Context) (*services.Challenge, error)
	Login(ctx context.Context, in services.LoginInput) (*services.AuthResponse, error)
	Register(ctx context.Context, in services.RegisterInput) (*services.UserResponse, error)
}

// CaptchaRenderer turns challenge text into PNG bytes
type CaptchaRenderer interface {
	Render(text string) ([]byte, error)
}

// AuthHandler handles captcha, login and registration requests
type AuthHandler struct {
	service  AuthServiceInterface
	renderer CaptchaRenderer
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, renderer CaptchaRenderer, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		renderer: renderer,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// LoginRequest represents the request body for login. Presence of each field
// is checked by the service so the rejection order stays fixed.
type LoginRequest struct {
	Username      string `json:"username" validate:"max=64"`
	Password      string `json:"password" validate:"max=256"`
	CaptchaToken  string `json:"captcha_token" validate:"max=2048"`
	CaptchaAnswer string `json:"captcha_answer" validate:"max=16"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Username        string `json:"username" validate:"required,max=32"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
	DisplayName     string `json:"display_name" validate:"max=100"`
	Email           string `json:"email" validate:"omitempty,email,max=254"`
	Phone           string `json:"phone" validate:"omitempty,max=32"`
	Role            string `json:"role" validate:"omitempty,oneof=customer merchant"`
	BusinessName    string `json:"business_name" validate:"max=200"`
	BusinessType    string `json:"business_type" validate:"max=100"`
	Address         string `json:"address" validate:"max=500"`
}

// CaptchaResponse carries a fresh challenge
type CaptchaResponse struct {
	CaptchaToken string `json:"captcha_token"`
	Image        string `json:"image"`
}

// Captcha issues a new challenge and returns its token with the rendered image
// @Summary Issue captcha challenge
// @Produce json
// @Success 200 {object} CaptchaResponse
// @Router /api/captcha [get]
func (h *AuthHandler) Captcha(w http.ResponseWriter, r *http.Request) {
	challenge, err := h.service.IssueChallenge(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	img, err := h.renderer.Render(challenge.Text)
	if err != nil {
		h.logger.Error("failed to render captcha", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, CaptchaResponse{
		CaptchaToken: challenge.Token,
		Image:        captcha.DataURL(img),
	})
}

// Login handles username/password login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 423 {object} ErrorResponse
// @Router /api/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.service.Login(r.Context(), services.LoginInput{
		Username:      req.Username,
		Password:      req.Password,
		CaptchaToken:  req.CaptchaToken,
		CaptchaAnswer: req.CaptchaAnswer,
		IPAddress:     pkghttp.ExtractClientIP(r, h.ipConfig),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Register handles account registration
// @Summary User registration
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 201 {object} services.UserResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	user, err := h.service.Register(r.Context(), services.RegisterInput{
		Username:        req.Username,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		DisplayName:     req.DisplayName,
		Email:           req.Email,
		Phone:           req.Phone,
		Role:            req.Role,
		BusinessName:    req.BusinessName,
		BusinessType:    req.BusinessType,
		Address:         req.Address,
		IPAddress:       pkghttp.ExtractClientIP(r, h.ipConfig),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, user)
}
