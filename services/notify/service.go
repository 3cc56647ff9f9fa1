package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"statuswatch-backend/lib/scrapers/vantage"
	"statuswatch-backend/lib/telemetry"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = telemetry.Tracer("statuswatch.services.notify")

type SmtpConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address"`
	Password     string   `json:"password"`
	To           []string `json:"to"`
}

// Notifier alerts an operator about portal events that need a human:
// a pending challenge or a session stuck in a failed state.
type Notifier interface {
	ChallengeDetected(ctx context.Context, challenge vantage.ChallengeInfo) error
	SessionFailed(ctx context.Context, cause string) error
}

// New returns an email notifier when smtp is configured and a log
// only notifier otherwise.
func New(config SmtpConfig) Notifier {
	if config.Server == "" {
		return LogNotifier{}
	}
	return EmailNotifier{config: config}
}

// LogNotifier drops alerts into the structured log. It is the default
// for deployments without smtp, where the operator watches the session
// endpoint instead.
type LogNotifier struct{}

func (LogNotifier) ChallengeDetected(ctx context.Context, challenge vantage.ChallengeInfo) error {
	slog.WarnContext(
		ctx, "portal challenge needs resolution",
		"challenge_id", challenge.Id,
		"kind", challenge.Kind,
		"prompt", challenge.Prompt,
	)
	return nil
}

func (LogNotifier) SessionFailed(ctx context.Context, cause string) error {
	slog.ErrorContext(ctx, "portal session needs attention", "cause", cause)
	return nil
}

type EmailNotifier struct {
	config SmtpConfig
}

func (n EmailNotifier) ChallengeDetected(ctx context.Context, challenge vantage.ChallengeInfo) error {
	ctx, span := tracer.Start(ctx, "ChallengeDetected", trace.WithAttributes(
		attribute.String("challenge_id", challenge.Id),
		attribute.String("kind", string(challenge.Kind)),
	))
	defer span.End()

	body := fmt.Sprintf(`The portal interposed a challenge and queries are paused until it is resolved.

Challenge: %s
Kind:      %s
Prompt:    %s

Resolve it with:

    statuswatch-cli challenge resolve %s <value>`,
		challenge.Id, challenge.Kind, challenge.Prompt, challenge.Id)

	err := n.send("StatusWatch: portal challenge pending", body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send challenge alert")
		return err
	}
	return nil
}

func (n EmailNotifier) SessionFailed(ctx context.Context, cause string) error {
	ctx, span := tracer.Start(ctx, "SessionFailed")
	defer span.End()

	body := fmt.Sprintf(`The portal session entered a failed state and will not recover on its own.

Cause: %s

Check the stored credential, then reset the session with:

    statuswatch-cli session reset`, cause)

	err := n.send("StatusWatch: portal session needs attention", body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send session alert")
		return err
	}
	return nil
}

func (n EmailNotifier) send(subject, body string) error {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("StatusWatch <%s>", n.config.EmailAddress)
	mail.To = n.config.To
	mail.Subject = subject
	mail.Text = []byte(body)

	addr := fmt.Sprintf("%s:%d", n.config.Server, n.config.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", n.config.EmailAddress, n.config.Password, n.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	return err
}
