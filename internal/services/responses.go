package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/marketauth/internal/auth"
	"github.com/BradenHooton/marketauth/internal/models"
)

// MerchantResponse represents a merchant profile in the HTTP response
type MerchantResponse struct {
	BusinessName string  `json:"business_name"`
	BusinessType string  `json:"business_type"`
	Address      string  `json:"address"`
	Verified     bool    `json:"verified"`
	Rating       float64 `json:"rating"`
}

// UserResponse is the public profile of an account
type UserResponse struct {
	ID              string            `json:"id"`
	Username        string            `json:"username"`
	DisplayName     string            `json:"display_name"`
	Role            string            `json:"role"`
	Email           *string           `json:"email,omitempty"`
	Phone           *string           `json:"phone,omitempty"`
	HasPassword     bool              `json:"has_password"`
	LinkedProviders []string          `json:"linked_providers"`
	Merchant        *MerchantResponse `json:"merchant,omitempty"`
	CreatedAt       string            `json:"created_at"`
}

// AuthResponse is returned by every operation that mints a session
type AuthResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresIn   int64         `json:"expires_in"`
	User        *UserResponse `json:"user"`
}

// LinkResult reports a completed identity link
type LinkResult struct {
	Provider string        `json:"provider"`
	Linked   bool          `json:"linked"`
	User     *UserResponse `json:"user"`
}

func userModelToResponse(user *models.User, merchant *models.MerchantProfile) *UserResponse {
	resp := &UserResponse{
		ID:              user.ID,
		Username:        user.Username,
		DisplayName:     user.DisplayName,
		Role:            user.Role,
		Email:           user.Email,
		Phone:           user.Phone,
		HasPassword:     user.HasPassword(),
		LinkedProviders: user.LinkedProviders(),
		CreatedAt:       user.CreatedAt.UTC().Format(time.RFC3339),
	}
	if merchant != nil {
		resp.Merchant = &MerchantResponse{
			BusinessName: merchant.BusinessName,
			BusinessType: merchant.BusinessType,
			Address:      merchant.Address,
			Verified:     merchant.Verified,
			Rating:       merchant.Rating,
		}
	}
	return resp
}

// profileResponse loads the merchant extension for merchant accounts.
func profileResponse(ctx context.Context, users UserRepository, user *models.User) (*UserResponse, error) {
	var merchant *models.MerchantProfile
	if user.IsMerchant() {
		p, err := users.GetMerchantProfile(ctx, user.ID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("load merchant profile: %w", err)
		}
		merchant = p
	}
	return userModelToResponse(user, merchant), nil
}

// issueSession mints a session for user and wraps it with the public profile.
func issueSession(ctx context.Context, tm *auth.TokenManager, users UserRepository, user *models.User) (*AuthResponse, error) {
	token, err := tm.GenerateSessionToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("mint session: %w", err)
	}

	profile, err := profileResponse(ctx, users, user)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(tm.SessionExpiry().Seconds()),
		User:        profile,
	}, nil
}
