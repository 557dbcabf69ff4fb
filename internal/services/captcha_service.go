package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/BradenHooton/marketauth/internal/auth"
	"github.com/BradenHooton/marketauth/internal/models"
)

const (
	captchaAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	CaptchaLength   = 4
)

// Challenge is an issued captcha: the signed token plus the text to render.
type Challenge struct {
	Token string
	Text  string
}

// CaptchaService issues and verifies single-use captcha challenges.
type CaptchaService struct {
	tm     *auth.TokenManager
	store  auth.ChallengeStore
	logger *slog.Logger
}

func NewCaptchaService(tm *auth.TokenManager, store auth.ChallengeStore, logger *slog.Logger) *CaptchaService {
	return &CaptchaService{tm: tm, store: store, logger: logger}
}

// Issue generates a challenge answer, signs a token for it and registers the
// answer under the token id.
func (s *CaptchaService) Issue(ctx context.Context) (*Challenge, error) {
	text, err := randomCaptchaText(CaptchaLength)
	if err != nil {
		s.logger.Error("failed to generate captcha text", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	token, jti, err := s.tm.GenerateCaptchaToken()
	if err != nil {
		s.logger.Error("failed to sign captcha token", slog.Any("error", err))
		if errors.Is(err, models.ErrConfiguration) {
			return nil, models.ErrConfiguration
		}
		return nil, models.ErrInternalServer
	}

	if err := s.store.Put(ctx, jti, text, s.tm.CaptchaTTL()); err != nil {
		s.logger.Error("failed to store captcha challenge", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &Challenge{Token: token, Text: text}, nil
}

// Verify checks token signature and age, consumes the stored answer and
// compares it case-insensitively. The entry is consumed whether or not the
// answer matches. Every rejection wraps models.ErrCaptcha.
func (s *CaptchaService) Verify(ctx context.Context, token, answer string) error {
	jti, err := s.tm.ValidateCaptchaToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return fmt.Errorf("%w: challenge expired", models.ErrCaptcha)
		}
		return fmt.Errorf("%w: invalid challenge token", models.ErrCaptcha)
	}

	expected, err := s.store.Consume(ctx, jti)
	if err != nil {
		if errors.Is(err, auth.ErrChallengeNotFound) {
			return fmt.Errorf("%w: challenge already used or expired", models.ErrCaptcha)
		}
		s.logger.Error("failed to consume captcha challenge", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !strings.EqualFold(strings.TrimSpace(answer), expected) {
		return fmt.Errorf("%w: incorrect answer", models.ErrCaptcha)
	}

	return nil
}

func randomCaptchaText(n int) (string, error) {
	max := big.NewInt(int64(len(captchaAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = captchaAlphabet[idx.Int64()]
	}
	return string(b), nil
}
