package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/marketauth/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/xid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// TokenConfig holds the lifetimes of each token type.
type TokenConfig struct {
	Secret        string
	SessionExpiry time.Duration
	CaptchaTTL    time.Duration
	StateTTL      time.Duration
}

// TokenManager signs and verifies session, captcha and OAuth state tokens.
// All of them are HS256 JWTs sharing one key; the type claim keeps them apart.
type TokenManager struct {
	secret        []byte
	sessionExpiry time.Duration
	captchaTTL    time.Duration
	stateTTL      time.Duration
	now           func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(cfg TokenConfig) *TokenManager {
	return &TokenManager{
		secret:        []byte(cfg.Secret),
		sessionExpiry: cfg.SessionExpiry,
		captchaTTL:    cfg.CaptchaTTL,
		stateTTL:      cfg.StateTTL,
		now:           time.Now,
	}
}

// WithClock replaces the time source for signing and verification.
func (tm *TokenManager) WithClock(now func() time.Time) *TokenManager {
	tm.now = now
	return tm
}

func (tm *TokenManager) SessionExpiry() time.Duration { return tm.sessionExpiry }
func (tm *TokenManager) CaptchaTTL() time.Duration    { return tm.captchaTTL }
func (tm *TokenManager) StateTTL() time.Duration      { return tm.stateTTL }

func (tm *TokenManager) sign(claims jwt.Claims) (string, error) {
	if len(tm.secret) == 0 {
		return "", fmt.Errorf("signing key not configured: %w", models.ErrConfiguration)
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

func (tm *TokenManager) parse(tokenString string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}

func (tm *TokenManager) registered(ttl time.Duration) jwt.RegisteredClaims {
	now := tm.now()
	return jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

// GenerateSessionToken mints a session token for userID. Re-minting after a
// username change is the same call.
func (tm *TokenManager) GenerateSessionToken(userID string) (string, error) {
	claims := &models.TokenClaims{
		Type:             models.TokenTypeSession,
		UserID:           userID,
		RegisteredClaims: tm.registered(tm.sessionExpiry),
	}
	claims.Subject = userID

	return tm.sign(claims)
}

// ValidateSessionToken verifies signature, expiry and type and returns the claims.
func (tm *TokenManager) ValidateSessionToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}
	if err := tm.parse(tokenString, claims); err != nil {
		return nil, err
	}

	if claims.Type != models.TokenTypeSession || claims.UserID == "" || claims.Subject != claims.UserID {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// GenerateCaptchaToken signs a captcha token and returns it with its unique id,
// which is the key the expected answer is stored under.
func (tm *TokenManager) GenerateCaptchaToken() (string, string, error) {
	claims := &models.TokenClaims{
		Type:             models.TokenTypeCaptcha,
		RegisteredClaims: tm.registered(tm.captchaTTL),
	}

	tokenString, err := tm.sign(claims)
	if err != nil {
		return "", "", err
	}
	return tokenString, claims.ID, nil
}

// ValidateCaptchaToken returns the token id of a live captcha token. Age is
// checked against the issuance time as well as the expiry claim.
func (tm *TokenManager) ValidateCaptchaToken(tokenString string) (string, error) {
	claims := &models.TokenClaims{}
	if err := tm.parse(tokenString, claims); err != nil {
		return "", err
	}

	if claims.Type != models.TokenTypeCaptcha || claims.ID == "" || claims.IssuedAt == nil {
		return "", ErrInvalidToken
	}

	if !tm.now().Before(claims.IssuedAt.Add(tm.captchaTTL)) {
		return "", ErrTokenExpired
	}

	return claims.ID, nil
}

// GenerateStateToken signs an OAuth state for the given purpose. The returned
// nonce is the single-use key the caller registers for replay protection.
func (tm *TokenManager) GenerateStateToken(purpose, provider, userID string) (string, string, error) {
	if purpose != models.StatePurposeLogin && purpose != models.StatePurposeLink {
		return "", "", fmt.Errorf("unknown state purpose %q", purpose)
	}
	if purpose == models.StatePurposeLink && userID == "" {
		return "", "", fmt.Errorf("link state requires a user id")
	}

	nonce := xid.New().String()
	claims := &models.StateClaims{
		Type:             models.TokenTypeOAuthState,
		Purpose:          purpose,
		Provider:         provider,
		UserID:           userID,
		Nonce:            nonce,
		RegisteredClaims: tm.registered(tm.stateTTL),
	}

	tokenString, err := tm.sign(claims)
	if err != nil {
		return "", "", err
	}
	return tokenString, nonce, nil
}

// ValidateStateToken verifies an OAuth state and checks it was issued for
// purpose and provider.
func (tm *TokenManager) ValidateStateToken(tokenString, purpose, provider string) (*models.StateClaims, error) {
	claims := &models.StateClaims{}
	if err := tm.parse(tokenString, claims); err != nil {
		return nil, err
	}

	if claims.Type != models.TokenTypeOAuthState || claims.Nonce == "" {
		return nil, ErrInvalidToken
	}
	if claims.Purpose != purpose || claims.Provider != provider {
		return nil, ErrInvalidToken
	}
	if purpose == models.StatePurposeLink && claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
