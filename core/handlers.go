package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const resetRequestedMessage = "If this email is registered, you will receive a password reset link."

// RegisterRequest represents a member registration request. The family is
// chosen by FamilyID, created from FamilyName and Address, or joined by
// FamilyName alone.
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	Name        string `json:"name" validate:"required,max=100"`
	FamilyID    string `json:"familyId"`
	FamilyName  string `json:"familyName" validate:"max=100"`
	Address     string `json:"address"`
	Phone       string `json:"phone"`
	FamilyEmail string `json:"familyEmail" validate:"omitempty,email"`
}

// AuthResponse is returned by registration and login.
type AuthResponse struct {
	Result
	Outcome string `json:"status,omitempty"`
	User    *User  `json:"user,omitempty"`
}

// LoginRequest represents a user login request
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// MeResponse carries the authenticated user, or a null user.
type MeResponse struct {
	Result
	User *User `json:"user"`
}

// VerifyResponse reports whether the session cookie resolves.
type VerifyResponse struct {
	Result
	Authenticated bool   `json:"authenticated"`
	UID           string `json:"uid,omitempty"`
}

// ForgotPasswordRequest starts a password reset.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required"`
}

// PasswordResetResponse is returned by the password reset endpoints.
type PasswordResetResponse struct {
	Result
	Message   string `json:"message,omitempty"`
	ResetLink string `json:"resetLink,omitempty"`
}

// ResetPasswordRequest completes a password reset.
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

// RegisterHandler processes member registration requests
func (s *Service) RegisterHandler(r *http.Request) AuthResponse {
	var req RegisterRequest
	if msg, ok := s.decodeAndValidate(r, &req); !ok {
		slog.Debug("Registration validation failed", "error", msg)
		return AuthResponse{Result: errorResult(http.StatusBadRequest, msg)}
	}

	if len(req.Password) < s.securityConfig.PasswordMinLength {
		return AuthResponse{Result: errorResult(http.StatusBadRequest,
			fmt.Sprintf("Password must be at least %d characters", s.securityConfig.PasswordMinLength))}
	}

	ctx := r.Context()
	email := normalizeEmail(req.Email)

	existingUser, err := s.storage.GetUserByEmail(ctx, email)
	if err != nil {
		slog.Error("Failed to check existing user", "error", err)
		return AuthResponse{Result: internalError()}
	}
	if existingUser != nil {
		slog.Debug("User already exists", "email", email)
		return AuthResponse{Result: errorResult(http.StatusBadRequest, "User with this email already exists")}
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		return AuthResponse{Result: internalError()}
	}

	now := s.now()
	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hashedPassword,
		Role:         RoleMember,
		IsActive:     true,
		Provider:     "email",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	familyName := strings.TrimSpace(req.FamilyName)
	address := strings.TrimSpace(req.Address)

	switch {
	case req.FamilyID != "":
		family, err := s.storage.GetFamilyByID(ctx, req.FamilyID)
		if err != nil {
			slog.Error("Failed to get family", "error", err)
			return AuthResponse{Result: internalError()}
		}
		if family == nil {
			return AuthResponse{Result: errorResult(http.StatusNotFound, "Family not found")}
		}
		user.FamilyID = family.ID
		err = s.storage.CreateUser(ctx, user)
		if resp, failed := registrationFailure(err); failed {
			return resp
		}
		user.Family = family

	case familyName != "" && address != "":
		family := &Family{
			ID:        uuid.NewString(),
			Name:      familyName,
			Address:   address,
			Phone:     strings.TrimSpace(req.Phone),
			Email:     normalizeEmail(req.FamilyEmail),
			CreatedAt: now,
			UpdatedAt: now,
		}
		user.FamilyID = family.ID
		err := s.storage.CreateUserWithFamily(ctx, user, family)
		if resp, failed := registrationFailure(err); failed {
			return resp
		}
		user.Family = family

	case familyName != "":
		family, err := s.storage.GetFamilyByName(ctx, familyName)
		if err != nil {
			slog.Error("Failed to get family by name", "error", err)
			return AuthResponse{Result: internalError()}
		}
		if family == nil {
			return AuthResponse{Result: errorResult(http.StatusNotFound, "Family not found. Create a new family with an address.")}
		}
		user.FamilyID = family.ID
		err = s.storage.CreateUser(ctx, user)
		if resp, failed := registrationFailure(err); failed {
			return resp
		}
		user.Family = family

	default:
		return AuthResponse{Result: errorResult(http.StatusBadRequest, "Family information is required")}
	}

	issued, err := s.authenticator.CreateSession(ctx, user.ID)
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		return AuthResponse{Result: internalError()}
	}

	slog.Info("User registered", "user_id", user.ID, "family_id", user.FamilyID)

	return AuthResponse{
		Result: Result{StatusCode: http.StatusCreated, Cookie: s.sessionCookie(issued)},
		User:   user,
	}
}

func registrationFailure(err error) (AuthResponse, bool) {
	switch {
	case err == nil:
		return AuthResponse{}, false
	case errors.Is(err, ErrFamilyExists):
		return AuthResponse{Result: errorResult(http.StatusBadRequest, "Family name already exists. Join the existing family instead.")}, true
	case errors.Is(err, ErrUserExists):
		return AuthResponse{Result: errorResult(http.StatusBadRequest, "User with this email already exists")}, true
	default:
		slog.Error("Failed to create user", "error", err)
		return AuthResponse{Result: errorResult(http.StatusInternalServerError, "Failed to register user")}, true
	}
}

// LoginHandler processes password login requests
func (s *Service) LoginHandler(r *http.Request) AuthResponse {
	ip := extractIP(r)
	if !s.loginLimiter.IsAllowed(ip) {
		slog.Debug("Login rate limit exceeded", "ip", ip)
		return AuthResponse{Result: errorResult(http.StatusTooManyRequests, "Too many login attempts. Try again later.")}
	}

	var req LoginRequest
	if msg, ok := s.decodeAndValidate(r, &req); !ok {
		return AuthResponse{Result: errorResult(http.StatusBadRequest, msg)}
	}

	ctx := r.Context()
	email := normalizeEmail(req.Email)

	user, err := s.authenticatePassword(ctx, email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		slog.Debug("Login failed", "email", email, "ip", ip)
		return AuthResponse{Result: errorResult(http.StatusUnauthorized, "Invalid credentials.")}
	}
	if err != nil {
		slog.Error("Failed to authenticate user", "error", err)
		return AuthResponse{Result: internalError()}
	}

	issued, err := s.authenticator.CreateSession(ctx, user.ID)
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		return AuthResponse{Result: internalError()}
	}

	slog.Info("User logged in", "user_id", user.ID)

	return AuthResponse{
		Result:  Result{StatusCode: http.StatusOK, Cookie: s.sessionCookie(issued)},
		Outcome: "ok",
	}
}

// authenticatePassword returns the active user owning email and password, or
// ErrInvalidCredentials.
func (s *Service) authenticatePassword(ctx context.Context, email, password string) (*User, error) {
	user, err := s.storage.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil || !user.IsActive || user.PasswordHash == "" || !checkPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// LogoutHandler revokes the presented session and clears the cookie. It
// always succeeds from the client's point of view.
func (s *Service) LogoutHandler(r *http.Request) AuthResponse {
	if token := s.extractTokenFromRequest(r); token != "" {
		if err := s.authenticator.RevokeSession(r.Context(), token); err != nil {
			slog.Error("Failed to revoke session", "error", err)
		}
	}

	return AuthResponse{
		Result:  Result{StatusCode: http.StatusOK, Cookie: s.clearSessionCookie()},
		Outcome: "ok",
	}
}

// MeHandler returns the authenticated user with family details.
func (s *Service) MeHandler(r *http.Request) MeResponse {
	identity, err := s.resolveRequest(r)
	if err != nil {
		slog.Error("Failed to resolve session", "error", err)
		return MeResponse{Result: internalError()}
	}
	if identity == nil {
		return MeResponse{Result: Result{StatusCode: http.StatusUnauthorized}}
	}

	user, err := s.storage.GetUserByID(r.Context(), identity.ID)
	if err != nil {
		slog.Error("Failed to get user", "error", err)
		return MeResponse{Result: internalError()}
	}
	if user == nil {
		return MeResponse{Result: Result{StatusCode: http.StatusUnauthorized}}
	}

	return MeResponse{Result: Result{StatusCode: http.StatusOK}, User: user}
}

// VerifyHandler checks the session cookie: 401 without one, 403 when it does
// not resolve.
func (s *Service) VerifyHandler(r *http.Request) VerifyResponse {
	if !s.hasSessionCookie(r) {
		return VerifyResponse{Result: errorResult(http.StatusUnauthorized, "Unauthorized")}
	}

	cookie, _ := r.Cookie(s.securityConfig.SessionCookieName)
	identity, err := s.authenticator.ResolveSession(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("Failed to resolve session", "error", err)
		return VerifyResponse{Result: internalError()}
	}
	if identity == nil {
		return VerifyResponse{Result: errorResult(http.StatusForbidden, "Forbidden")}
	}

	return VerifyResponse{
		Result:        Result{StatusCode: http.StatusOK},
		Authenticated: true,
		UID:           identity.ID,
	}
}

// ForgotPasswordHandler issues a password reset link. The response is the
// same whether or not the email is registered.
func (s *Service) ForgotPasswordHandler(r *http.Request) PasswordResetResponse {
	var req ForgotPasswordRequest
	if msg, ok := s.decodeAndValidate(r, &req); !ok {
		return PasswordResetResponse{Result: errorResult(http.StatusBadRequest, msg)}
	}

	ctx := r.Context()
	email := normalizeEmail(req.Email)
	resp := PasswordResetResponse{Result: Result{StatusCode: http.StatusOK}, Message: resetRequestedMessage}

	user, err := s.storage.GetUserByEmail(ctx, email)
	if err != nil {
		slog.Error("Failed to get user", "error", err)
		return PasswordResetResponse{Result: errorResult(http.StatusInternalServerError, "Failed to send password reset link")}
	}
	if user == nil {
		slog.Debug("Password reset requested for unknown email")
		return resp
	}

	token, err := generateSecretHex(sessionSecretBytes)
	if err != nil {
		slog.Error("Failed to generate reset token", "error", err)
		return PasswordResetResponse{Result: errorResult(http.StatusInternalServerError, "Failed to send password reset link")}
	}

	now := s.now()
	record := &PasswordResetToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(s.securityConfig.ResetTokenLifetime),
		CreatedAt: now,
	}
	if err := s.storage.ReplacePasswordResetToken(ctx, record); err != nil {
		slog.Error("Failed to store reset token", "error", err)
		return PasswordResetResponse{Result: errorResult(http.StatusInternalServerError, "Failed to send password reset link")}
	}

	link := s.resetLink(token)
	if s.mailer != nil {
		if err := s.mailer.SendPasswordReset(ctx, user, link, record.ExpiresAt); err != nil {
			slog.Error("Failed to send password reset email", "user_id", user.ID, "error", err)
		}
	} else {
		slog.Info("Password reset link issued", "user_id", user.ID, "expires_at", record.ExpiresAt)
	}

	if s.securityConfig.ExposeResetLinks {
		resp.ResetLink = link
	}
	return resp
}

func (s *Service) resetLink(token string) string {
	return strings.TrimRight(s.securityConfig.AppURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
}

// ResetPasswordHandler sets a new password using a reset token and signs the
// user out everywhere.
func (s *Service) ResetPasswordHandler(r *http.Request) PasswordResetResponse {
	var req ResetPasswordRequest
	if msg, ok := s.decodeAndValidate(r, &req); !ok {
		return PasswordResetResponse{Result: errorResult(http.StatusBadRequest, msg)}
	}

	if len(req.NewPassword) < s.securityConfig.PasswordMinLength {
		return PasswordResetResponse{Result: errorResult(http.StatusBadRequest, "Password is too short.")}
	}

	ctx := r.Context()
	record, err := s.storage.FindPasswordResetToken(ctx, hashToken(req.Token))
	if err != nil {
		slog.Error("Failed to find reset token", "error", err)
		return PasswordResetResponse{Result: errorResult(http.StatusInternalServerError, "Failed to reset password.")}
	}

	now := s.now()
	if record == nil || record.UsedAt != nil || !record.ExpiresAt.After(now) {
		return PasswordResetResponse{Result: errorResult(http.StatusBadRequest, "The reset link is invalid or has expired.")}
	}

	hashedPassword, err := hashPassword(req.NewPassword)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		return PasswordResetResponse{Result: errorResult(http.StatusInternalServerError, "Failed to reset password.")}
	}

	if err := s.storage.CompletePasswordReset(ctx, record.ID, record.UserID, hashedPassword, now); err != nil {
		if errors.Is(err, ErrResetTokenUsed) {
			return PasswordResetResponse{Result: errorResult(http.StatusBadRequest, "The reset link is invalid or has expired.")}
		}
		slog.Error("Failed to complete password reset", "error", err)
		return PasswordResetResponse{Result: errorResult(http.StatusInternalServerError, "Failed to reset password.")}
	}

	if err := s.authenticator.RevokeAllSessionsForUser(ctx, record.UserID); err != nil {
		slog.Error("Failed to revoke sessions after password reset", "user_id", record.UserID, "error", err)
	}

	slog.Info("Password reset completed", "user_id", record.UserID)

	return PasswordResetResponse{Result: Result{StatusCode: http.StatusOK}, Message: "Password reset successfully."}
}
