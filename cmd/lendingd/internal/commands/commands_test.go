package commands

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wispberry-tech/wispy-lending/core"
)

func sqliteFlags(t *testing.T) StorageFlags {
	t.Helper()
	return StorageFlags{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "lending.db")}
}

func parse(t *testing.T, cli any, args ...string) *kong.Context {
	t.Helper()
	parser, err := kong.New(cli, kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	return ctx
}

func TestServeCmd_FlagDefaults(t *testing.T) {
	var cli struct {
		Serve ServeCmd `cmd:""`
	}
	parse(t, &cli, "serve", "--cors-origins=http://a.test,http://b.test", "--auth-strategy=signed",
		"--oauth-google-client-id=gid", "--mail-resend-api-key=re_x", "--sqlite-path=/tmp/x.db")

	c := cli.Serve
	assert.Equal(t, "0.0.0.0:8080", c.Listen)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, c.CORSOrigins)
	assert.Equal(t, time.Hour, c.SweepInterval)
	assert.Equal(t, "sqlite", c.Storage.Driver)
	assert.Equal(t, "/tmp/x.db", c.Storage.SQLitePath)
	assert.Equal(t, "signed", c.Security.AuthStrategy)
	assert.Equal(t, 120*time.Hour, c.Security.SessionLifetime)
	assert.Equal(t, "gid", c.OAuth.GoogleClientID)
	assert.Equal(t, "log", c.Mail.Provider)
	assert.Equal(t, "re_x", c.Mail.ResendAPIKey)
}

func TestSecurityFlags_Config(t *testing.T) {
	f := SecurityFlags{
		AppURL:           "https://lending.test",
		AuthStrategy:     core.StrategySigned,
		SigningSecret:    "0123456789abcdef0123456789abcdef",
		SessionLifetime:  48 * time.Hour,
		SecureCookies:    true,
		CookieName:       "sid",
		MinPassword:      8,
		MaxLoginAttempts: 3,
		LoginRateWindow:  time.Minute,
	}

	cfg := f.config()
	assert.Equal(t, "https://lending.test", cfg.AppURL)
	assert.Equal(t, core.StrategySigned, cfg.AuthStrategy)
	assert.Equal(t, []byte(f.SigningSecret), cfg.SigningSecret)
	assert.Equal(t, 48*time.Hour, cfg.SessionLifetime)
	assert.True(t, cfg.SecureCookies)
	assert.Equal(t, "sid", cfg.SessionCookieName)
	assert.Equal(t, 8, cfg.PasswordMinLength)
	assert.Equal(t, time.Hour, cfg.ResetTokenLifetime)
	assert.False(t, cfg.ExposeResetLinks)
}

func TestOAuthFlags_Providers(t *testing.T) {
	assert.Empty(t, (&OAuthFlags{}).providers())

	providers := (&OAuthFlags{
		GoogleClientID:     "gid",
		GoogleClientSecret: "gsecret",
		CallbackBaseURL:    "https://api.lending.test",
	}).providers()

	require.Contains(t, providers, "google")
	assert.NotContains(t, providers, "github")
	assert.Equal(t, "https://api.lending.test/api/auth/oauth/google/callback", providers["google"].RedirectURL)
}

func TestMailFlags_Mailer(t *testing.T) {
	m, err := (&MailFlags{Provider: "log", From: "books@lending.test", AppName: "Lending"}).mailer()
	require.NoError(t, err)
	assert.Equal(t, "log", m.Provider().Name())

	_, err = (&MailFlags{Provider: "resend"}).mailer()
	require.Error(t, err)

	m, err = (&MailFlags{Provider: "resend", ResendAPIKey: "re_x"}).mailer()
	require.NoError(t, err)
	assert.Equal(t, "resend", m.Provider().Name())
}

func TestStorageFlags_PostgresRequiresURL(t *testing.T) {
	_, err := (&StorageFlags{Driver: "postgres"}).Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection string is required")
}

func TestMigrateCmd(t *testing.T) {
	cmd := &MigrateCmd{Storage: sqliteFlags(t)}
	require.NoError(t, cmd.Run(context.Background()))
	// Running again is a no-op
	require.NoError(t, cmd.Run(context.Background()))
}

func TestCreateAdminCmd(t *testing.T) {
	ctx := context.Background()
	storageFlags := sqliteFlags(t)
	security := SecurityFlags{AuthStrategy: core.StrategySession, MinPassword: 6, CookieName: "session"}

	cmd := &CreateAdminCmd{
		Email:      " Root@Example.com ",
		Name:       "Root",
		Password:   "supersecret",
		FamilyName: "Administrators",
		Address:    "Town Hall",
		Storage:    storageFlags,
		Security:   security,
	}
	require.NoError(t, cmd.Run(ctx))

	store, err := storageFlags.Open(ctx)
	require.NoError(t, err)
	admin, err := store.GetUserByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.Equal(t, core.RoleAdmin, admin.Role)
	assert.True(t, admin.IsActive)
	assert.NotEmpty(t, admin.PasswordHash)

	// A second admin joins the existing family
	member := &core.User{Email: "member@example.com", Name: "Member", FamilyID: admin.FamilyID, IsActive: false}
	require.NoError(t, store.CreateUser(ctx, member))
	require.NoError(t, store.Close())

	promote := &CreateAdminCmd{Email: "member@example.com", FamilyName: "Administrators", Storage: storageFlags, Security: security}
	require.NoError(t, promote.Run(ctx))

	store, err = storageFlags.Open(ctx)
	require.NoError(t, err)
	defer store.Close()
	promoted, err := store.GetUserByEmail(ctx, "member@example.com")
	require.NoError(t, err)
	assert.Equal(t, core.RoleAdmin, promoted.Role)
	assert.True(t, promoted.IsActive)
	assert.Empty(t, promoted.PasswordHash)
}

func TestCreateAdminCmd_ShortPassword(t *testing.T) {
	cmd := &CreateAdminCmd{
		Email:      "root@example.com",
		Password:   "123",
		FamilyName: "Administrators",
		Storage:    sqliteFlags(t),
		Security:   SecurityFlags{MinPassword: 6},
	}
	err := cmd.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 6 characters")
}

func TestSweepSessionsCmd(t *testing.T) {
	cmd := &SweepSessionsCmd{Storage: sqliteFlags(t), Security: SecurityFlags{AuthStrategy: core.StrategySession}}
	require.NoError(t, cmd.Run(context.Background()))
}
