package handlers

import (
	"context"
	"net/http"

	"github.com/BradenHooton/marketauth/internal/services"
	pkghttp "github.com/BradenHooton/marketauth/pkg/http"
	"github.com/go-chi/chi/v5"
)

// OAuthServiceInterface defines the interface for third-party login and linking
type OAuthServiceInterface interface {
	InitLogin(ctx context.Context, provider string) (string, error)
	InitLink(ctx context.Context, provider, userID string) (string, error)
	HandleLoginCallback(ctx context.Context, provider, state, code, ip string) (*services.AuthResponse, error)
	HandleLinkCallback(ctx context.Context, provider, state, code, ip string) (*services.LinkResult, error)
}

// OAuthHandler handles the provider redirect endpoints
type OAuthHandler struct {
	service  OAuthServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewOAuthHandler creates a new OAuthHandler
func NewOAuthHandler(service OAuthServiceInterface, ipConfig *pkghttp.IPConfig) *OAuthHandler {
	return &OAuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// AuthURLResponse carries the provider authorization URL the client should open
type AuthURLResponse struct {
	AuthURL string `json:"auth_url"`
}

// InitLogin starts a provider login
// @Summary Start provider login
// @Param provider path string true "line or google"
// @Produce json
// @Success 200 {object} AuthURLResponse
// @Router /api/login/{provider}/init [get]
func (h *OAuthHandler) InitLogin(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.service.InitLogin(r.Context(), chi.URLParam(r, "provider"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, AuthURLResponse{AuthURL: authURL})
}

// InitLink starts binding a provider identity to the session user
// @Summary Start provider link
// @Param provider path string true "line or google"
// @Produce json
// @Success 200 {object} AuthURLResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/link/{provider}/init [get]
func (h *OAuthHandler) InitLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUserID(w, r)
	if !ok {
		return
	}

	authURL, err := h.service.InitLink(r.Context(), chi.URLParam(r, "provider"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, AuthURLResponse{AuthURL: authURL})
}

// LoginCallback completes a provider login
// @Summary Provider login callback
// @Param provider path string true "line or google"
// @Param state query string true "State token"
// @Param code query string true "Authorization code"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 502 {object} ErrorResponse
// @Router /api/login/{provider}/callback [get]
func (h *OAuthHandler) LoginCallback(w http.ResponseWriter, r *http.Request) {
	if providerDenied(w, r) {
		return
	}

	q := r.URL.Query()
	resp, err := h.service.HandleLoginCallback(r.Context(), chi.URLParam(r, "provider"),
		q.Get("state"), q.Get("code"), pkghttp.ExtractClientIP(r, h.ipConfig))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// LinkCallback completes a provider link. The acting user comes from the
// signed state, not from a session header.
// @Summary Provider link callback
// @Param provider path string true "line or google"
// @Param state query string true "State token"
// @Param code query string true "Authorization code"
// @Produce json
// @Success 200 {object} services.LinkResult
// @Failure 409 {object} ErrorResponse
// @Router /api/link/{provider}/callback [get]
func (h *OAuthHandler) LinkCallback(w http.ResponseWriter, r *http.Request) {
	if providerDenied(w, r) {
		return
	}

	q := r.URL.Query()
	result, err := h.service.HandleLinkCallback(r.Context(), chi.URLParam(r, "provider"),
		q.Get("state"), q.Get("code"), pkghttp.ExtractClientIP(r, h.ipConfig))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// providerDenied reports an error the provider sent back instead of a code,
// such as the user declining consent.
func providerDenied(w http.ResponseWriter, r *http.Request) bool {
	providerErr := r.URL.Query().Get("error")
	if providerErr == "" {
		return false
	}
	pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "authorization_denied",
		"The identity provider did not authorize the request", providerErr)
	return true
}
