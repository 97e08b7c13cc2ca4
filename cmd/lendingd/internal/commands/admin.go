package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/wispberry-tech/wispy-lending/core"
)

// CreateAdminCmd creates an administrator, or promotes an existing member.
type CreateAdminCmd struct {
	Email      string `help:"administrator email" required:""`
	Name       string `help:"display name for a new account" default:"Administrator"`
	Password   string `help:"password; prompted for when omitted on a terminal" env:"LENDING_ADMIN_PASSWORD"`
	FamilyName string `help:"family a new administrator joins, created when missing" default:"Administrators"`
	Address    string `help:"address used when the family is created" default:"-"`

	Storage  StorageFlags  `embed:""`
	Security SecurityFlags `embed:""`
}

func (c *CreateAdminCmd) Run(ctx context.Context) error {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" {
		return errors.New("email is required")
	}

	store, err := c.Storage.Open(ctx)
	if err != nil {
		return err
	}

	svc, err := core.NewService(core.Config{Storage: store, SecurityConfig: c.Security.config()})
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	existing, err := store.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	password := c.Password
	if password == "" && existing == nil {
		if password, err = promptPassword(os.Stdin, os.Stderr); err != nil {
			return err
		}
	}
	if password != "" && len(password) < svc.SecurityConfig().PasswordMinLength {
		return fmt.Errorf("password must be at least %d characters long", svc.SecurityConfig().PasswordMinLength)
	}

	if existing != nil {
		return c.promote(ctx, svc, store, existing, password)
	}
	return c.create(ctx, store, email, password)
}

func (c *CreateAdminCmd) promote(ctx context.Context, svc *core.Service, store core.Storage, user *core.User, password string) error {
	user.Role = core.RoleAdmin
	user.IsActive = true
	user.UpdatedAt = time.Now()
	if password != "" {
		hash, err := core.HashPassword(password)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = hash
	}

	if err := store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to promote user: %w", err)
	}

	if password != "" {
		if err := svc.Authenticator().RevokeAllSessionsForUser(ctx, user.ID); err != nil {
			return fmt.Errorf("failed to revoke sessions: %w", err)
		}
	}

	slog.Info("Promoted user to administrator", "user_id", user.ID, "email", user.Email, "password_changed", password != "")
	return nil
}

func (c *CreateAdminCmd) create(ctx context.Context, store core.Storage, email, password string) error {
	if password == "" {
		return errors.New("a password is required for a new administrator")
	}
	hash, err := core.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user := &core.User{
		Email:        email,
		Name:         c.Name,
		PasswordHash: hash,
		Role:         core.RoleAdmin,
		IsActive:     true,
	}

	family, err := store.GetFamilyByName(ctx, c.FamilyName)
	if err != nil {
		return fmt.Errorf("failed to look up family: %w", err)
	}
	if family != nil {
		user.FamilyID = family.ID
		err = store.CreateUser(ctx, user)
	} else {
		err = store.CreateUserWithFamily(ctx, user, &core.Family{Name: c.FamilyName, Address: c.Address})
	}
	if err != nil {
		return fmt.Errorf("failed to create administrator: %w", err)
	}

	slog.Info("Created administrator", "user_id", user.ID, "email", email, "family_id", user.FamilyID)
	return nil
}

// promptPassword reads a password twice without echo.
func promptPassword(in *os.File, out io.Writer) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no password given and stdin is not a terminal (use --password)")
	}

	fmt.Fprint(out, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Fprint(out, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
