package email

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

func newTestMailer(s Sender) *Mailer {
	m := NewMailer(s, "https://api.example.com/", "https://app.example.com/")
	m.run = func(fn func()) { fn() }
	return m
}

func TestLinks(t *testing.T) {
	m := newTestMailer(nil)
	assert.Equal(t, "https://api.example.com/api/auth/verify?token=abc", m.VerificationURL("abc"))
	assert.Equal(t, "https://app.example.com/auth/reset-password?token=a%2Bb", m.ResetURL("a+b"))
}

func TestSendVerification(t *testing.T) {
	s := &fakeSender{}
	m := newTestMailer(s)

	m.SendVerification("ana@example.com", "Ana", "tok123")

	require.Len(t, s.sent, 1)
	msg := s.sent[0]
	assert.Equal(t, TemplateVerification, msg.Template)
	assert.Equal(t, "ana@example.com", msg.To)
	assert.Contains(t, msg.Body, "Hello Ana")
	assert.Contains(t, msg.Body, "/api/auth/verify?token=tok123")
}

func TestSendPasswordReset_FallsBackToEmailGreeting(t *testing.T) {
	s := &fakeSender{}
	m := newTestMailer(s)

	m.SendPasswordReset("ana@example.com", "", "reset1", time.Hour)

	require.Len(t, s.sent, 1)
	assert.Contains(t, s.sent[0].Body, "Hello ana@example.com")
	assert.Contains(t, s.sent[0].Body, "/auth/reset-password?token=reset1")
	assert.Contains(t, s.sent[0].Body, "1h0m0s")
}

func TestDispatch_FailureIsSwallowed(t *testing.T) {
	s := &fakeSender{err: errors.New("relay down")}
	m := newTestMailer(s)

	assert.NotPanics(t, func() { m.SendVerification("ana@example.com", "", "t") })
	assert.Len(t, s.sent, 1)
}

func TestSendTest_ReturnsError(t *testing.T) {
	s := &fakeSender{err: errors.New("relay down")}
	err := newTestMailer(s).SendTest(context.Background(), "ana@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay down")
}

func TestDisabledMailerLogsOnly(t *testing.T) {
	m := newTestMailer(nil)
	assert.False(t, m.Enabled())
	assert.NoError(t, m.SendTest(context.Background(), "ana@example.com"))
}

func TestCompose(t *testing.T) {
	msg := &Message{To: "ana@example.com", Subject: "Hi", Body: "line1\nline2"}
	raw := string(msg.Compose("BoxIT <no-reply@boxit.local>"))

	assert.True(t, strings.HasPrefix(raw, "From: BoxIT <no-reply@boxit.local>\r\n"))
	assert.Contains(t, raw, "To: ana@example.com\r\n")
	assert.Contains(t, raw, "Content-Type: text/plain; charset=utf-8\r\n\r\nline1\r\nline2\r\n")
}

func TestEnvelopeAddress(t *testing.T) {
	assert.Equal(t, "no-reply@boxit.local", envelopeAddress("BoxIT <no-reply@boxit.local>"))
	assert.Equal(t, "bare@example.com", envelopeAddress(" bare@example.com "))
}
