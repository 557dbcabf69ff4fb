package services

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	pkglogger "github.com/BradenHooton/marketauth/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// LockoutNotifier tells an account owner their account was locked.
type LockoutNotifier interface {
	NotifyLockout(ctx context.Context, email, username string, lockedUntil time.Time) error
}

// NoopLockoutNotifier is used when outbound email is disabled.
type NoopLockoutNotifier struct{}

func (NoopLockoutNotifier) NotifyLockout(context.Context, string, string, time.Time) error {
	return nil
}

// SESSender is the subset of the SES client used for sending mail.
type SESSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESLockoutNotifier sends lockout notices through AWS SES
type SESLockoutNotifier struct {
	client      SESSender
	fromAddress string
	timeout     time.Duration
	logger      *slog.Logger
}

// NewSESLockoutNotifier loads the default AWS credential chain for region.
func NewSESLockoutNotifier(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESLockoutNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESLockoutNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

func NewSESLockoutNotifierWithClient(client SESSender, fromAddress string, logger *slog.Logger) *SESLockoutNotifier {
	return &SESLockoutNotifier{
		client:      client,
		fromAddress: fromAddress,
		timeout:     5 * time.Second,
		logger:      logger,
	}
}

var lockoutHTML = template.Must(template.New("lockout").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <h2>Your account has been temporarily locked</h2>
  <p>Hi {{.Username}},</p>
  <p>We locked your account after several failed sign-in attempts. You can sign in again after
  <strong>{{.Until}}</strong>.</p>
  <p>If this wasn't you, change your password as soon as you regain access.</p>
  <p style="color: #666; font-size: 12px;">This is an automated message. Please do not reply.</p>
</body>
</html>`))

// NotifyLockout sends the lockout notice. The send is bounded by the notifier timeout.
func (n *SESLockoutNotifier) NotifyLockout(ctx context.Context, email, username string, lockedUntil time.Time) error {
	until := lockedUntil.UTC().Format("2006-01-02 15:04 MST")

	var html strings.Builder
	if err := lockoutHTML.Execute(&html, struct{ Username, Until string }{username, until}); err != nil {
		return fmt.Errorf("render lockout email: %w", err)
	}

	text := fmt.Sprintf("Hi %s,\n\nWe locked your account after several failed sign-in attempts. "+
		"You can sign in again after %s.\n\nIf this wasn't you, change your password as soon as you regain access.\n",
		username, until)

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	result, err := n.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String("Your account has been temporarily locked")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(html.String())},
				Text: &types.Content{Data: aws.String(text)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("lockout notification sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
