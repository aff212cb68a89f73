package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// EmailService delivers the links users need to verify an address or reset a
// password.
type EmailService interface {
	SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error
	SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error
}

type message struct {
	subject string
	html    string
	text    string
}

func verificationMessage(link string, expiresAt time.Time) message {
	return message{
		subject: "Verify your email address",
		html: fmt.Sprintf(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<h2>Verify your email address</h2>
<p>Confirm your address to finish creating your account:</p>
<p><a href="%[1]s">Verify email address</a></p>
<p>Or paste this link into your browser:<br><code>%[1]s</code></p>
<p>The link expires at %[2]s.</p>
<p>If you did not create an account you can ignore this message.</p>
</body></html>`, link, expiresAt.UTC().Format(time.RFC1123)),
		text: fmt.Sprintf("Verify your email address\n\nOpen this link to finish creating your account:\n%s\n\nThe link expires at %s.\nIf you did not create an account you can ignore this message.\n",
			link, expiresAt.UTC().Format(time.RFC1123)),
	}
}

func passwordResetMessage(link string, expiresAt time.Time) message {
	return message{
		subject: "Reset your password",
		html: fmt.Sprintf(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<h2>Reset your password</h2>
<p>We received a request to reset your password:</p>
<p><a href="%[1]s">Choose a new password</a></p>
<p>Or paste this link into your browser:<br><code>%[1]s</code></p>
<p>The link can be used once and expires at %[2]s. Resetting signs you out everywhere.</p>
<p>If you did not ask for this, ignore this message and your password stays the same.</p>
</body></html>`, link, expiresAt.UTC().Format(time.RFC1123)),
		text: fmt.Sprintf("Reset your password\n\nOpen this link to choose a new password:\n%s\n\nThe link can be used once and expires at %s.\nIf you did not ask for this, ignore this message.\n",
			link, expiresAt.UTC().Format(time.RFC1123)),
	}
}

func actionLink(baseURL, path, token string) string {
	return fmt.Sprintf("%s%s?token=%s", baseURL, path, url.QueryEscape(token))
}

// SESSender is the subset of the SES client used here.
type SESSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	client      SESSender
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(ctx context.Context, region, fromAddress, baseURL string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESEmailServiceWithClient(ses.NewFromConfig(cfg), fromAddress, baseURL, logger), nil
}

// NewSESEmailServiceWithClient wires an existing SES client.
func NewSESEmailServiceWithClient(client SESSender, fromAddress, baseURL string, logger *slog.Logger) *AWSSESEmailService {
	return &AWSSESEmailService{client: client, fromAddress: fromAddress, baseURL: baseURL, logger: logger}
}

func (s *AWSSESEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	return s.send(ctx, email, verificationMessage(actionLink(s.baseURL, "/verify-email", token), expiresAt))
}

func (s *AWSSESEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	return s.send(ctx, email, passwordResetMessage(actionLink(s.baseURL, "/reset-password", token), expiresAt))
}

func (s *AWSSESEmailService) send(ctx context.Context, to string, msg message) error {
	input := &ses.SendEmailInput{
		Source:      aws.String(s.fromAddress),
		Destination: &types.Destination{ToAddresses: []string{to}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(msg.html), Charset: aws.String("UTF-8")},
				Text: &types.Content{Data: aws.String(msg.text), Charset: aws.String("UTF-8")},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", pkglogger.MaskEmail(to)),
			slog.String("subject", msg.subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", pkglogger.MaskEmail(to)),
		slog.String("subject", msg.subject),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogEmailService writes links to the log instead of sending mail. It is for
// local development and refused by config in production.
type LogEmailService struct {
	baseURL string
	logger  *slog.Logger
}

func NewLogEmailService(baseURL string, logger *slog.Logger) *LogEmailService {
	return &LogEmailService{baseURL: baseURL, logger: logger}
}

func (s *LogEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	s.logger.InfoContext(ctx, "verification email",
		slog.String("email", pkglogger.MaskEmail(email)),
		slog.String("link", actionLink(s.baseURL, "/verify-email", token)),
		slog.Time("expires_at", expiresAt))
	return nil
}

func (s *LogEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	s.logger.InfoContext(ctx, "password reset email",
		slog.String("email", pkglogger.MaskEmail(email)),
		slog.String("link", actionLink(s.baseURL, "/reset-password", token)),
		slog.Time("expires_at", expiresAt))
	return nil
}
