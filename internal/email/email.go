// Package email sends BoxIT's transactional messages: account verification, password
// reset and the development test message. Account emails are dispatched on a panic-safe
// goroutine and never fail the request that triggered them. When email is disabled the
// message is logged instead of sent, so signup works on machines without a relay.
package email

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"strings"
	"time"

	"github.com/FilipRus/boxItFindIt/internal/safego"
	"github.com/FilipRus/boxItFindIt/internal/telemetry"
)

// Template names, used as metric labels.
const (
	TemplateVerification  = "verification"
	TemplatePasswordReset = "password_reset"
	TemplateTest          = "test"
)

const sendTimeout = 30 * time.Second

// Message is a single plain-text email.
type Message struct {
	Template string
	To       string
	Subject  string
	Body     string
}

// Compose renders the RFC 5322 message bytes.
func (m *Message) Compose(from string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// Mailer builds BoxIT emails and hands them to a Sender.
type Mailer struct {
	sender  Sender
	baseURL string
	appURL  string
	// run launches async deliveries; tests replace it with a synchronous call.
	run func(func())
}

// NewMailer returns a Mailer. A nil sender disables delivery; messages are logged instead.
// baseURL is the API origin used in verification links, appURL the frontend origin used
// in password reset links.
func NewMailer(sender Sender, baseURL, appURL string) *Mailer {
	return &Mailer{
		sender:  sender,
		baseURL: strings.TrimRight(baseURL, "/"),
		appURL:  strings.TrimRight(appURL, "/"),
		run:     func(fn func()) { safego.Go("email", fn) },
	}
}

// Enabled reports whether messages are actually delivered.
func (m *Mailer) Enabled() bool {
	return m.sender != nil
}

// VerificationURL is the link that confirms an account.
func (m *Mailer) VerificationURL(token string) string {
	return m.baseURL + "/api/auth/verify?token=" + url.QueryEscape(token)
}

// ResetURL is the frontend page where a new password is chosen.
func (m *Mailer) ResetURL(token string) string {
	return m.appURL + "/auth/reset-password?token=" + url.QueryEscape(token)
}

// SendVerification queues the account verification email.
func (m *Mailer) SendVerification(to, name, token string) {
	m.dispatch(&Message{
		Template: TemplateVerification,
		To:       to,
		Subject:  "Verify your BoxIT account",
		Body: fmt.Sprintf("Hello %s,\n\nWelcome to BoxIT. Confirm your email address by opening the link below:\n\n%s\n\nIf you did not sign up, you can ignore this message.\n",
			greetingName(name, to), m.VerificationURL(token)),
	})
}

// SendPasswordReset queues the password reset email.
func (m *Mailer) SendPasswordReset(to, name, token string, ttl time.Duration) {
	m.dispatch(&Message{
		Template: TemplatePasswordReset,
		To:       to,
		Subject:  "Reset your BoxIT password",
		Body: fmt.Sprintf("Hello %s,\n\nSomeone asked to reset the password for this account. Choose a new password here:\n\n%s\n\nThe link expires in %s. If this was not you, no action is needed.\n",
			greetingName(name, to), m.ResetURL(token), ttl),
	})
}

// SendTest delivers a test message synchronously and returns the delivery error.
func (m *Mailer) SendTest(ctx context.Context, to string) error {
	msg := &Message{
		Template: TemplateTest,
		To:       to,
		Subject:  "BoxIT test email",
		Body:     "This is a test message from BoxIT. Email delivery is working.\n",
	}
	return m.deliver(ctx, msg)
}

func (m *Mailer) dispatch(msg *Message) {
	m.run(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := m.deliver(ctx, msg); err != nil {
			slog.Error("email delivery failed", "template", msg.Template, "to", msg.To, "error", err)
		}
	})
}

func (m *Mailer) deliver(ctx context.Context, msg *Message) error {
	if m.sender == nil {
		slog.Info("email disabled, message not sent",
			"template", msg.Template, "to", msg.To, "subject", msg.Subject, "body", msg.Body)
		telemetry.EmailsSentTotal.WithLabelValues(msg.Template, telemetry.ResultSkipped).Inc()
		return nil
	}
	err := m.sender.Send(ctx, msg)
	telemetry.EmailsSentTotal.WithLabelValues(msg.Template, telemetry.Outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("failed to send %s email: %w", msg.Template, err)
	}
	slog.Info("email sent", "template", msg.Template, "to", msg.To)
	return nil
}

func greetingName(name, email string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return email
}
