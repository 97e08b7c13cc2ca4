package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wispberry-tech/wispy-lending/core"
)

type captureProvider struct {
	mu   sync.Mutex
	sent []*EmailMessage
}

func (c *captureProvider) Name() string { return "capture" }
func (c *captureProvider) Close() error { return nil }
func (c *captureProvider) SendEmail(_ context.Context, m *EmailMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
	return nil
}

func init() {
	RegisterEmailProvider("capture", func(config map[string]any) (EmailProvider, error) {
		return config["sink"].(*captureProvider), nil
	})
}

func TestTemplateEngine_Render(t *testing.T) {
	te := NewTemplateEngine()
	tmpl := EmailTemplate{
		Subject:   "Hello {{.Name | upper}}",
		FromName:  "{{.App}}",
		FromEmail: "noreply@example.com",
		TextBody:  "Hi {{.Name}}",
		HTMLBody:  "<p>Hi {{.Name}}</p>",
	}
	data := map[string]string{"Name": "<Bob>", "App": "Lending"}

	msg, err := te.Render(tmpl, "bob@example.com", data)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", msg.To)
	assert.Equal(t, "Lending", msg.FromName)
	assert.Equal(t, "Hello <BOB>", msg.Subject)
	assert.Equal(t, "Hi <Bob>", msg.TextBody)
	assert.Equal(t, "<p>Hi &lt;Bob&gt;</p>", msg.HTMLBody)
}

func TestTemplateEngine_RenderErrors(t *testing.T) {
	te := NewTemplateEngine()

	_, err := te.Render(EmailTemplate{Subject: "{{.Broken"}, "a@example.com", nil)
	require.ErrorIs(t, err, ErrTemplateRender)

	_, err = te.Render(EmailTemplate{Subject: "ok", TextBody: "{{.Missing}}"}, "a@example.com", map[string]string{})
	require.ErrorIs(t, err, ErrTemplateRender)
}

func TestMailer_SendPasswordReset(t *testing.T) {
	sink := &captureProvider{}
	m, err := NewMailer(Config{
		AppName:        "Book Circle",
		SupportEmail:   "help@bookcircle.test",
		UseHTML:        true,
		Provider:       "capture",
		ProviderConfig: map[string]any{"sink": sink},
	})
	require.NoError(t, err)
	assert.Equal(t, "capture", m.Provider().Name())

	user := &core.User{ID: "u1", Email: "dana@example.com", Name: "Dana"}
	expires := time.Date(2025, 5, 4, 15, 30, 0, 0, time.UTC)
	link := "https://lending.test/reset-password?token=abc"

	require.NoError(t, m.SendPasswordReset(context.Background(), user, link, expires))
	require.Len(t, sink.sent, 1)

	msg := sink.sent[0]
	assert.Equal(t, "dana@example.com", msg.To)
	assert.Equal(t, "Book Circle", msg.FromName)
	assert.Equal(t, "Reset your Book Circle password", msg.Subject)
	assert.Contains(t, msg.TextBody, "Hi Dana,")
	assert.Contains(t, msg.TextBody, link)
	assert.Contains(t, msg.TextBody, "May 4, 2025 at 3:30 PM UTC")
	assert.Contains(t, msg.TextBody, "help@bookcircle.test")
	assert.Contains(t, msg.HTMLBody, `href="https://lending.test/reset-password?token=abc"`)
}

func TestMailer_TextOnly(t *testing.T) {
	sink := &captureProvider{}
	m, err := NewMailer(Config{Provider: "capture", ProviderConfig: map[string]any{"sink": sink}})
	require.NoError(t, err)

	require.NoError(t, m.SendPasswordReset(context.Background(), &core.User{Email: "e@example.com", Name: "E"}, "http://x/reset", time.Now()))
	require.Len(t, sink.sent, 1)
	assert.Empty(t, sink.sent[0].HTMLBody)
	assert.Equal(t, "Reset your Wispy Lending password", sink.sent[0].Subject)
}

func TestMailer_Errors(t *testing.T) {
	_, err := NewMailer(Config{Provider: "carrier-pigeon"})
	require.ErrorIs(t, err, ErrProviderNotFound)

	_, err = NewMailer(Config{Provider: "resend"})
	require.ErrorIs(t, err, ErrProviderConfig)

	m, err := NewMailer(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "log", m.Provider().Name())
	require.ErrorIs(t, m.SendPasswordReset(context.Background(), &core.User{}, "http://x", time.Now()), ErrEmailSendFailed)
	require.NoError(t, m.SendPasswordReset(context.Background(), &core.User{Email: "a@example.com"}, "http://x", time.Now()))
	require.NoError(t, m.Close())
}

func TestListEmailProviders(t *testing.T) {
	names := ListEmailProviders()
	assert.Contains(t, names, "log")
	assert.Contains(t, names, "resend")
	assert.IsIncreasing(t, names)
}

func TestResendProvider_SendEmail(t *testing.T) {
	var got ResendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ResendResponse{ID: "email-1"})
	}))
	defer srv.Close()

	p, err := NewResendProvider(map[string]any{"api_key": "re_test", "base_url": srv.URL})
	require.NoError(t, err)

	err = p.SendEmail(context.Background(), &EmailMessage{
		To: "a@example.com", Subject: "Hi", TextBody: "text", FromEmail: "noreply@example.com", FromName: "Lending",
	})
	require.NoError(t, err)
	assert.Equal(t, "Lending <noreply@example.com>", got.From)
	assert.Equal(t, []string{"a@example.com"}, got.To)
	assert.Equal(t, "text", got.Text)
	assert.Empty(t, got.HTML)
}

func TestResendProvider_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(ResendResponse{ID: "email-2"})
	}))
	defer srv.Close()

	p, err := NewResendProvider(map[string]any{"api_key": "re_test", "base_url": srv.URL})
	require.NoError(t, err)

	require.NoError(t, p.SendEmail(context.Background(), &EmailMessage{To: "a@example.com"}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestResendProvider_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(ResendResponse{Error: "invalid to address"})
	}))
	defer srv.Close()

	p, err := NewResendProvider(map[string]any{"api_key": "re_test", "base_url": srv.URL})
	require.NoError(t, err)

	err = p.SendEmail(context.Background(), &EmailMessage{To: "nope"})
	require.ErrorIs(t, err, ErrEmailSendFailed)
	assert.Contains(t, err.Error(), "invalid to address")
	assert.Equal(t, int32(1), calls.Load())
}
