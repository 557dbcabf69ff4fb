package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token types. A token minted for one purpose never validates for another.
const (
	TokenTypeSession    = "session"
	TokenTypeCaptcha    = "captcha"
	TokenTypeOAuthState = "oauth_state"
)

// OAuth state purposes
const (
	StatePurposeLogin = "login"
	StatePurposeLink  = "link"
)

type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// StateClaims is the payload round-tripped through a provider redirect.
type StateClaims struct {
	Type     string `json:"type"`
	Purpose  string `json:"purpose"`
	Provider string `json:"provider"`
	UserID   string `json:"user_id,omitempty"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}
