package handlers_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/marketauth/internal/handlers"
	"github.com/BradenHooton/marketauth/internal/models"
	"github.com/BradenHooton/marketauth/internal/services"
	"github.com/stretchr/testify/assert"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProfile_Success(t *testing.T) {
	mockUsers := &handlers.MockUserService{
		ProfileFunc: func(ctx context.Context, userID string) (*services.UserResponse, error) {
			assert.Equal(t, "user-1", userID)
			return &services.UserResponse{
				ID:              userID,
				Username:        "alice",
				Role:            models.RoleMerchant,
				LinkedProviders: []string{models.ProviderLine},
				Merchant:        &services.MerchantResponse{BusinessName: "Alice's"},
			}, nil
		},
	}
	handler := handlers.NewUserHandler(mockUsers, nil)

	req := handlers.WithAuthContext(httptest.NewRequest(http.MethodGet, "/api/profile", nil), "user-1")
	w := httptest.NewRecorder()
	handler.Profile(w, req)

	var resp services.UserResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, []string{models.ProviderLine}, resp.LinkedProviders)
	assert.Equal(t, "Alice's", resp.Merchant.BusinessName)
}

func TestProfile_NoSession(t *testing.T) {
	handler := handlers.NewUserHandler(&handlers.MockUserService{}, nil)

	w := httptest.NewRecorder()
	handler.Profile(w, httptest.NewRequest(http.MethodGet, "/api/profile", nil))

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestChangeUsername_ReturnsNewSession(t *testing.T) {
	mockUsers := &handlers.MockUserService{
		ChangeUsernameFunc: func(ctx context.Context, userID, username, ip string) (*services.AuthResponse, error) {
			return &services.AuthResponse{
				AccessToken: "new-token",
				TokenType:   "Bearer",
				User:        &services.UserResponse{ID: userID, Username: username},
			}, nil
		},
	}
	handler := handlers.NewUserHandler(mockUsers, nil)

	req := handlers.NewTestRequest(t, http.MethodPost, "/api/user/username", handlers.ChangeUsernameRequest{Username: "alice_2"})
	w := httptest.NewRecorder()
	handler.ChangeUsername(w, handlers.WithAuthContext(req, "user-1"))

	var resp services.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "new-token", resp.AccessToken)
	assert.Equal(t, "user-1", resp.User.ID)
	assert.Equal(t, "alice_2", resp.User.Username)
}

func TestChangeUsername_Taken(t *testing.T) {
	mockUsers := &handlers.MockUserService{
		ChangeUsernameFunc: func(ctx context.Context, userID, username, ip string) (*services.AuthResponse, error) {
			return nil, models.ErrConflict
		},
	}
	handler := handlers.NewUserHandler(mockUsers, nil)

	req := handlers.NewTestRequest(t, http.MethodPost, "/api/user/username", handlers.ChangeUsernameRequest{Username: "bob"})
	w := httptest.NewRecorder()
	handler.ChangeUsername(w, handlers.WithAuthContext(req, "user-1"))

	handlers.AssertErrorResponse(t, w, http.StatusConflict, "conflict")
}

func TestChangePassword(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"success", nil, http.StatusOK, ""},
		{"wrong old password", models.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{"mismatch", models.NewValidationError("confirm_password", "passwords do not match"), http.StatusBadRequest, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got services.ChangePasswordInput
			mockUsers := &handlers.MockUserService{
				ChangePasswordFunc: func(ctx context.Context, userID string, in services.ChangePasswordInput) error {
					got = in
					return tt.err
				},
			}
			handler := handlers.NewUserHandler(mockUsers, nil)

			req := handlers.NewTestRequest(t, http.MethodPost, "/api/user/password", handlers.ChangePasswordRequest{
				OldPassword:     "correct-horse",
				NewPassword:     "battery-staple",
				ConfirmPassword: "battery-staple",
			})
			w := httptest.NewRecorder()
			handler.ChangePassword(w, handlers.WithAuthContext(req, "user-1"))

			if tt.err == nil {
				handlers.AssertJSONResponse(t, w, http.StatusOK, nil)
				assert.Equal(t, "battery-staple", got.NewPassword)
				return
			}
			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestChangePassword_MissingNewPassword(t *testing.T) {
	handler := handlers.NewUserHandler(&handlers.MockUserService{}, nil)

	req := handlers.NewTestRequest(t, http.MethodPost, "/api/user/password", handlers.ChangePasswordRequest{OldPassword: "correct-horse"})
	w := httptest.NewRecorder()
	handler.ChangePassword(w, handlers.WithAuthContext(req, "user-1"))

	resp := handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "validation_error")
	assert.Equal(t, "new_password", resp.Field)
}
