package core

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAuditLimit = 25
	maxAuditLimit     = 100
)

// UserListResponse lists users for moderation.
type UserListResponse struct {
	Result
	Users []*User `json:"users"`
}

// UpdateUserRequest changes a user's role or active flag.
type UpdateUserRequest struct {
	Role     *Role `json:"role" validate:"omitempty,oneof=ADMIN MEMBER"`
	IsActive *bool `json:"isActive"`
}

// AdminUserResponse wraps a moderated user.
type AdminUserResponse struct {
	Result
	User *User `json:"user,omitempty"`
}

// AdminFamilyListResponse lists families for moderation.
type AdminFamilyListResponse struct {
	Result
	Families []*Family `json:"families"`
}

// AdminBookListResponse lists books for moderation.
type AdminBookListResponse struct {
	Result
	Books []*Book `json:"books"`
}

// StatusResponse acknowledges an action.
type StatusResponse struct {
	Result
	Outcome string `json:"status,omitempty"`
}

// AuditListResponse lists recent moderation actions.
type AuditListResponse struct {
	Result
	Audits []*AdminAudit `json:"audits"`
}

// HealthResponse summarises the community.
type HealthResponse struct {
	Result
	Stats          *Stats `json:"stats,omitempty"`
	BackupStatus   string `json:"backupStatus,omitempty"`
	ErrorTracking  string `json:"errorTracking,omitempty"`
	StorageHealthy bool   `json:"storageHealthy"`
}

// requireAdminIdentity returns the calling admin, or a 401/403 result.
func requireAdminIdentity(r *http.Request) (*Identity, Result, bool) {
	identity, res, ok := requireIdentity(r)
	if !ok {
		return nil, res, false
	}
	if !identity.IsAdmin() {
		return nil, errorResult(http.StatusForbidden, "Forbidden"), false
	}
	return identity, Result{}, true
}

// AdminListUsersHandler lists users filtered by search, role and isActive.
func (s *Service) AdminListUsersHandler(r *http.Request) UserListResponse {
	if _, res, ok := requireAdminIdentity(r); !ok {
		return UserListResponse{Result: res}
	}

	q := r.URL.Query()
	filter := UserFilter{
		Search:   strings.TrimSpace(q.Get("search")),
		IsActive: parseBool(r, "isActive"),
	}
	if role := Role(q.Get("role")); role == RoleAdmin || role == RoleMember {
		filter.Role = role
	}

	users, err := s.storage.ListUsers(r.Context(), filter)
	if err != nil {
		slog.Error("Failed to list users", "error", err)
		return UserListResponse{Result: internalError()}
	}

	return UserListResponse{Result: Result{StatusCode: http.StatusOK}, Users: users}
}

// AdminUpdateUserHandler changes role and/or active flag. Every effective
// change is audited. Deactivation also revokes the user's sessions.
func (s *Service) AdminUpdateUserHandler(r *http.Request, id string) AdminUserResponse {
	actor, res, ok := requireAdminIdentity(r)
	if !ok {
		return AdminUserResponse{Result: res}
	}

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return AdminUserResponse{Result: errorResult(http.StatusBadRequest, "Invalid payload")}
	}
	if err := s.validator.Struct(req); err != nil {
		return AdminUserResponse{Result: errorResult(http.StatusBadRequest, "Invalid role")}
	}

	ctx := r.Context()
	user, err := s.storage.GetUserByID(ctx, id)
	if err != nil {
		slog.Error("Failed to get user", "user_id", id, "error", err)
		return AdminUserResponse{Result: internalError()}
	}
	if user == nil {
		return AdminUserResponse{Result: errorResult(http.StatusNotFound, "User not found")}
	}

	previousRole, previousActive := user.Role, user.IsActive
	if req.Role != nil {
		user.Role = *req.Role
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	user.UpdatedAt = s.now()

	if err := s.storage.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return AdminUserResponse{Result: errorResult(http.StatusNotFound, "User not found")}
		}
		slog.Error("Failed to update user", "user_id", id, "error", err)
		return AdminUserResponse{Result: internalError()}
	}

	if user.Role != previousRole {
		action := ActionDemoteUser
		if user.Role == RoleAdmin {
			action = ActionPromoteUser
		}
		s.logAdminAction(ctx, &AdminAudit{
			ActorUserID:  actor.ID,
			Action:       action,
			TargetUserID: id,
			Metadata:     map[string]any{"from": previousRole, "to": user.Role},
		})
	}

	if user.IsActive != previousActive {
		action := ActionReactivateUser
		if !user.IsActive {
			action = ActionDeactivateUser
			if err := s.authenticator.RevokeAllSessionsForUser(ctx, id); err != nil {
				slog.Error("Failed to revoke sessions of deactivated user", "user_id", id, "error", err)
			}
		}
		s.logAdminAction(ctx, &AdminAudit{
			ActorUserID:  actor.ID,
			Action:       action,
			TargetUserID: id,
			Metadata:     map[string]any{"from": previousActive, "to": user.IsActive},
		})
	}

	user.Family = nil
	return AdminUserResponse{Result: Result{StatusCode: http.StatusOK}, User: user}
}

// AdminListFamiliesHandler lists families, optionally only those without members.
func (s *Service) AdminListFamiliesHandler(r *http.Request) AdminFamilyListResponse {
	if _, res, ok := requireAdminIdentity(r); !ok {
		return AdminFamilyListResponse{Result: res}
	}

	q := r.URL.Query()
	filter := FamilyFilter{
		Search:    strings.TrimSpace(q.Get("search")),
		EmptyOnly: q.Get("empty") == "true",
	}

	families, _, err := s.storage.ListFamilies(r.Context(), filter)
	if err != nil {
		slog.Error("Failed to list families", "error", err)
		return AdminFamilyListResponse{Result: internalError()}
	}

	return AdminFamilyListResponse{Result: Result{StatusCode: http.StatusOK}, Families: families}
}

// AdminDeleteFamilyHandler deletes a family that has no members, with its
// books and their borrowings.
func (s *Service) AdminDeleteFamilyHandler(r *http.Request, id string) StatusResponse {
	actor, res, ok := requireAdminIdentity(r)
	if !ok {
		return StatusResponse{Result: res}
	}

	ctx := r.Context()
	family, err := s.storage.GetFamilyByID(ctx, id)
	if err != nil {
		slog.Error("Failed to get family", "family_id", id, "error", err)
		return StatusResponse{Result: internalError()}
	}
	if family == nil {
		return StatusResponse{Result: errorResult(http.StatusNotFound, "Family not found")}
	}

	if err := s.storage.DeleteEmptyFamily(ctx, id); err != nil {
		switch {
		case errors.Is(err, ErrFamilyHasMembers):
			return StatusResponse{Result: errorResult(http.StatusBadRequest, "Family has members")}
		case errors.Is(err, ErrFamilyNotFound):
			return StatusResponse{Result: errorResult(http.StatusNotFound, "Family not found")}
		default:
			slog.Error("Failed to delete family", "family_id", id, "error", err)
			return StatusResponse{Result: internalError()}
		}
	}

	s.logAdminAction(ctx, &AdminAudit{
		ActorUserID:    actor.ID,
		Action:         ActionDeleteEmptyFamily,
		TargetFamilyID: id,
		Metadata:       map[string]any{"name": family.Name},
	})

	return StatusResponse{Result: Result{StatusCode: http.StatusOK}, Outcome: "ok"}
}

// AdminListBooksHandler lists every book, newest first.
func (s *Service) AdminListBooksHandler(r *http.Request) AdminBookListResponse {
	if _, res, ok := requireAdminIdentity(r); !ok {
		return AdminBookListResponse{Result: res}
	}

	filter := BookFilter{Search: strings.TrimSpace(r.URL.Query().Get("search"))}
	books, _, err := s.storage.ListBooks(r.Context(), filter)
	if err != nil {
		slog.Error("Failed to list books", "error", err)
		return AdminBookListResponse{Result: internalError()}
	}

	return AdminBookListResponse{Result: Result{StatusCode: http.StatusOK}, Books: books}
}

// AdminDeleteBookHandler deletes any book with its borrowings.
func (s *Service) AdminDeleteBookHandler(r *http.Request, id string) StatusResponse {
	actor, res, ok := requireAdminIdentity(r)
	if !ok {
		return StatusResponse{Result: res}
	}

	ctx := r.Context()
	book, err := s.storage.GetBookByID(ctx, id)
	if err != nil {
		slog.Error("Failed to get book", "book_id", id, "error", err)
		return StatusResponse{Result: internalError()}
	}
	if book == nil {
		return StatusResponse{Result: errorResult(http.StatusNotFound, "Book not found")}
	}

	if err := s.storage.DeleteBook(ctx, id); err != nil {
		if errors.Is(err, ErrBookNotFound) {
			return StatusResponse{Result: errorResult(http.StatusNotFound, "Book not found")}
		}
		slog.Error("Failed to delete book", "book_id", id, "error", err)
		return StatusResponse{Result: internalError()}
	}

	s.logAdminAction(ctx, &AdminAudit{
		ActorUserID:  actor.ID,
		Action:       ActionDeleteBook,
		TargetBookID: id,
		Metadata:     map[string]any{"title": book.Title, "familyId": book.FamilyID},
	})

	return StatusResponse{Result: Result{StatusCode: http.StatusOK}, Outcome: "ok"}
}

// AdminAuditHandler returns the most recent audit entries.
func (s *Service) AdminAuditHandler(r *http.Request) AuditListResponse {
	if _, res, ok := requireAdminIdentity(r); !ok {
		return AuditListResponse{Result: res}
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		limit = defaultAuditLimit
	}
	limit = min(limit, maxAuditLimit)

	audits, err := s.storage.ListAdminAudits(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list audits", "error", err)
		return AuditListResponse{Result: internalError()}
	}

	return AuditListResponse{Result: Result{StatusCode: http.StatusOK}, Audits: audits}
}

// AdminHealthHandler reports community counts and storage health.
func (s *Service) AdminHealthHandler(r *http.Request) HealthResponse {
	if _, res, ok := requireAdminIdentity(r); !ok {
		return HealthResponse{Result: res}
	}

	ctx := r.Context()
	stats, err := s.storage.Stats(ctx, s.now().Add(-24*time.Hour))
	if err != nil {
		slog.Error("Failed to collect stats", "error", err)
		return HealthResponse{Result: internalError()}
	}

	return HealthResponse{
		Result:         Result{StatusCode: http.StatusOK},
		Stats:          stats,
		BackupStatus:   "not_configured",
		ErrorTracking:  "not_configured",
		StorageHealthy: s.storage.Ping(ctx) == nil,
	}
}
