package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/BradenHooton/marketauth/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var captchaTextPattern = regexp.MustCompile(`^[A-Z0-9]{4}$`)

func TestCaptchaService_IssueRegistersAnswer(t *testing.T) {
	f := newServiceFixture(t)
	svc := NewCaptchaService(f.tm, f.challenges, newTestLogger())

	challenge, err := svc.Issue(context.Background())
	require.NoError(t, err)
	assert.Regexp(t, captchaTextPattern, challenge.Text)
	assert.NotEmpty(t, challenge.Token)
	assert.Equal(t, 1, f.challenges.Len())

	require.NoError(t, svc.Verify(context.Background(), challenge.Token, challenge.Text))
	assert.Equal(t, 0, f.challenges.Len())
}

func TestCaptchaService_VerifyRejections(t *testing.T) {
	f := newServiceFixture(t)
	svc := NewCaptchaService(f.tm, f.challenges, newTestLogger())
	ctx := context.Background()

	sessionToken, err := f.tm.GenerateSessionToken("user-1")
	require.NoError(t, err)

	assert.True(t, errors.Is(svc.Verify(ctx, "garbage", "ABCD"), models.ErrCaptcha))
	assert.True(t, errors.Is(svc.Verify(ctx, sessionToken, "ABCD"), models.ErrCaptcha))

	// A signed token whose answer was never stored.
	orphan, _, err := f.tm.GenerateCaptchaToken()
	require.NoError(t, err)
	assert.True(t, errors.Is(svc.Verify(ctx, orphan, "ABCD"), models.ErrCaptcha))

	expiring, err := svc.Issue(ctx)
	require.NoError(t, err)
	f.clock.Advance(5*time.Minute + time.Second)
	assert.True(t, errors.Is(svc.Verify(ctx, expiring.Token, expiring.Text), models.ErrCaptcha))
}

func TestCaptchaService_StoreFailureIsInternal(t *testing.T) {
	f := newServiceFixture(t)
	svc := NewCaptchaService(f.tm, brokenStore{}, newTestLogger())

	_, err := svc.Issue(context.Background())
	assert.Equal(t, models.ErrInternalServer, err)

	token, _, err := f.tm.GenerateCaptchaToken()
	require.NoError(t, err)
	assert.Equal(t, models.ErrInternalServer, svc.Verify(context.Background(), token, "ABCD"))
}

type brokenStore struct{}

func (brokenStore) Put(context.Context, string, string, time.Duration) error {
	return errors.New("redis: connection refused")
}

func (brokenStore) Consume(context.Context, string) (string, error) {
	return "", errors.New("redis: connection refused")
}
