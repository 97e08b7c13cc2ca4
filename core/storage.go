package core

import (
	"context"
	"time"
)

// Role is a member's permission level.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// User represents a registered family member.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"` // Hide password from JSON
	Role         Role   `json:"role"`
	IsActive     bool   `json:"isActive"`
	FamilyID     string `json:"familyId"`

	// Provider is "email" for password accounts, or the OAuth provider that
	// was last linked to the account.
	Provider   string `json:"provider,omitempty"`
	ProviderID string `json:"-"`

	// SessionsValidAfter invalidates every signed session issued before it.
	SessionsValidAfter *time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Populated by joins
	Family     *Family      `json:"family,omitempty"`
	Borrowings []*Borrowing `json:"borrowings,omitempty"`

	ActiveBorrowingCount *int `json:"activeBorrowingCount,omitempty"`
}

// Identity returns the public identity fields of the user.
func (u *User) Identity() *Identity {
	return &Identity{
		ID:       u.ID,
		Email:    u.Email,
		Name:     u.Name,
		Role:     u.Role,
		IsActive: u.IsActive,
		FamilyID: u.FamilyID,
	}
}

// Identity is the resolved owner of a session.
type Identity struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"isActive"`
	FamilyID string `json:"familyId"`
}

// IsAdmin reports whether the identity holds the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// Family is a household that owns books.
type Family struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Email     string   `json:"email,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	MemberCount        int `json:"memberCount"`
	BookCount          int `json:"bookCount"`
	AvailableBookCount int `json:"availableBookCount"`

	// Populated by joins
	Members []*User `json:"members,omitempty"`
	Books   []*Book `json:"books,omitempty"`
}

// Condition describes the physical state of a book.
type Condition string

const (
	ConditionNew     Condition = "NEW"
	ConditionLikeNew Condition = "LIKE_NEW"
	ConditionGood    Condition = "GOOD"
	ConditionFair    Condition = "FAIR"
	ConditionPoor    Condition = "POOR"
)

// Book is a title listed by a family. ISBN holds the canonical ISBN-13 when the
// submitted identifier could be normalized, and the raw input otherwise.
type Book struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	ISBN        string    `json:"isbn,omitempty"`
	Language    string    `json:"language,omitempty"`
	Description string    `json:"description,omitempty"`
	CoverImage  string    `json:"coverImage,omitempty"`
	Condition   Condition `json:"condition"`
	IsAvailable bool      `json:"isAvailable"`
	FamilyID    string    `json:"familyId"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Populated by joins
	Family     *Family      `json:"family,omitempty"`
	Borrowings []*Borrowing `json:"borrowings,omitempty"`
}

// BorrowingStatus is the position of a borrowing in the lending workflow.
type BorrowingStatus string

const (
	StatusRequested BorrowingStatus = "REQUESTED"
	StatusApproved  BorrowingStatus = "APPROVED"
	StatusPickedUp  BorrowingStatus = "PICKED_UP"
	StatusReturned  BorrowingStatus = "RETURNED"
)

// ActiveStatuses are the statuses of a borrowing that is not finished.
var ActiveStatuses = []BorrowingStatus{StatusRequested, StatusApproved, StatusPickedUp}

// HoldingStatuses are the statuses in which the borrower holds the book.
var HoldingStatuses = []BorrowingStatus{StatusApproved, StatusPickedUp}

func (s BorrowingStatus) rank() int {
	switch s {
	case StatusRequested:
		return 1
	case StatusApproved:
		return 2
	case StatusPickedUp:
		return 3
	case StatusReturned:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s BorrowingStatus) Valid() bool {
	return s.rank() > 0
}

// HoldsBook reports whether a borrowing in status s keeps the book unavailable.
func (s BorrowingStatus) HoldsBook() bool {
	return s == StatusApproved || s == StatusPickedUp
}

// CanTransitionTo reports whether a borrowing may move from s to next.
// The workflow only moves forward.
func (s BorrowingStatus) CanTransitionTo(next BorrowingStatus) bool {
	return s.Valid() && next.Valid() && next.rank() > s.rank()
}

// Borrowing is one family member's request to borrow a book.
type Borrowing struct {
	ID          string          `json:"id"`
	BookID      string          `json:"bookId"`
	BorrowerID  string          `json:"borrowerId"`
	Status      BorrowingStatus `json:"status"`
	RequestedAt time.Time       `json:"requestedAt"`
	DueDate     time.Time       `json:"dueDate"`
	ReturnedAt  *time.Time      `json:"returnedAt,omitempty"`

	// Populated by joins
	Book     *Book `json:"book,omitempty"`
	Borrower *User `json:"borrower,omitempty"`
}

// Session is a persisted login. Only the hash of the bearer secret is stored.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserAgent string    `json:"userAgent,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	// Populated by FindSession
	User *User `json:"-"`
}

// PasswordResetToken is a single-use credential for resetting a password.
type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// RevokedToken blocks a single signed session until it would have expired anyway.
type RevokedToken struct {
	TokenID   string
	UserID    string
	ExpiresAt time.Time
	RevokedAt time.Time
}

// OAuthState represents OAuth state for CSRF protection
type OAuthState struct {
	State       string    `json:"state"`
	Provider    string    `json:"provider"`
	RedirectURL string    `json:"redirect_url"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// AdminAction names an audited moderation action.
type AdminAction string

const (
	ActionPromoteUser       AdminAction = "PROMOTE_USER"
	ActionDemoteUser        AdminAction = "DEMOTE_USER"
	ActionDeactivateUser    AdminAction = "DEACTIVATE_USER"
	ActionReactivateUser    AdminAction = "REACTIVATE_USER"
	ActionDeleteEmptyFamily AdminAction = "DELETE_EMPTY_FAMILY"
	ActionDeleteBook        AdminAction = "DELETE_BOOK"
)

// AdminAudit records one moderation action.
type AdminAudit struct {
	ID             string         `json:"id"`
	ActorUserID    string         `json:"actorUserId"`
	Action         AdminAction    `json:"action"`
	TargetUserID   string         `json:"targetUserId,omitempty"`
	TargetFamilyID string         `json:"targetFamilyId,omitempty"`
	TargetBookID   string         `json:"targetBookId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`

	Actor *User `json:"actorUser,omitempty"`
}

// Page selects a window of a listing. A zero Limit means no limit.
type Page struct {
	Page  int
	Limit int
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	if p.Page <= 1 || p.Limit <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// Pagination describes a listing window in responses.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// BookFilter narrows ListBooks.
type BookFilter struct {
	Search    string
	FamilyID  string
	Available *bool
	Page
}

// FamilyFilter narrows ListFamilies.
type FamilyFilter struct {
	Search    string
	EmptyOnly bool
	Page
}

// BorrowingFilter narrows ListBorrowings.
type BorrowingFilter struct {
	BookID     string
	BorrowerID string
	Status     BorrowingStatus
	ActiveOnly bool
	Page
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	Search   string
	Role     Role
	IsActive *bool
}

// Stats summarises the community for the admin health endpoint.
type Stats struct {
	Users           int `json:"users"`
	Families        int `json:"families"`
	Books           int `json:"books"`
	NewUsersLast24h int `json:"newUsersLast24h"`
}

// SessionStore is the persistence port used by SessionManager.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	// FindSession returns the session with the given hash and its owning
	// user, or nil when no such session exists. Expiry is not checked.
	FindSession(ctx context.Context, tokenHash string) (*Session, error)
	DeleteSessionsByHash(ctx context.Context, tokenHash string) error
	DeleteUserSessions(ctx context.Context, userID string) (int, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// RevocationStore is the persistence port used by SignedTokenAuthenticator.
type RevocationStore interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	RevokeToken(ctx context.Context, token *RevokedToken) error
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
	SetSessionsValidAfter(ctx context.Context, userID string, t time.Time) error
	DeleteExpiredRevocations(ctx context.Context, now time.Time) (int, error)
}

// Storage defines the contract for all lending data storage operations.
// Lookups return (nil, nil) when the record does not exist.
type Storage interface {
	SessionStore
	RevocationStore

	// User operations
	CreateUser(ctx context.Context, user *User) error
	// CreateUserWithFamily creates the family and the user atomically.
	CreateUserWithFamily(ctx context.Context, user *User, family *Family) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error
	ListUsers(ctx context.Context, filter UserFilter) ([]*User, error)

	// Family operations
	CreateFamily(ctx context.Context, family *Family) error
	GetFamilyByID(ctx context.Context, id string) (*Family, error)
	GetFamilyByName(ctx context.Context, name string) (*Family, error)
	ListFamilies(ctx context.Context, filter FamilyFilter) ([]*Family, int, error)
	ListFamilyMembers(ctx context.Context, familyID string) ([]*User, error)
	// DeleteEmptyFamily removes a family with no members together with its
	// books and their borrowings. Returns ErrFamilyHasMembers otherwise.
	DeleteEmptyFamily(ctx context.Context, id string) error

	// Book operations
	CreateBook(ctx context.Context, book *Book) error
	GetBookByID(ctx context.Context, id string) (*Book, error)
	UpdateBook(ctx context.Context, book *Book) error
	// DeleteBook removes a book and its borrowings.
	DeleteBook(ctx context.Context, id string) error
	ListBooks(ctx context.Context, filter BookFilter) ([]*Book, int, error)

	// Borrowing operations
	// CreateBorrowing inserts a REQUESTED borrowing after checking, in the
	// same transaction, that the book is available and that the borrower has
	// no active borrowing for it.
	CreateBorrowing(ctx context.Context, borrowing *Borrowing) error
	GetBorrowingByID(ctx context.Context, id string) (*Borrowing, error)
	ListBorrowings(ctx context.Context, filter BorrowingFilter) ([]*Borrowing, int, error)
	// TransitionBorrowing moves a borrowing to the next status and sets the
	// book's availability in one transaction. The book is available iff the
	// new status is RETURNED.
	TransitionBorrowing(ctx context.Context, id string, to BorrowingStatus, at time.Time) (*Borrowing, error)

	// Password reset operations
	// ReplacePasswordResetToken deletes the user's unused tokens and stores token.
	ReplacePasswordResetToken(ctx context.Context, token *PasswordResetToken) error
	FindPasswordResetToken(ctx context.Context, tokenHash string) (*PasswordResetToken, error)
	// CompletePasswordReset updates the password and marks the token used atomically.
	CompletePasswordReset(ctx context.Context, tokenID, userID, passwordHash string, usedAt time.Time) error
	DeleteExpiredPasswordResetTokens(ctx context.Context, now time.Time) (int, error)

	// OAuth state operations
	StoreOAuthState(ctx context.Context, state *OAuthState) error
	GetOAuthState(ctx context.Context, state string) (*OAuthState, error)
	DeleteOAuthState(ctx context.Context, state string) error
	DeleteExpiredOAuthStates(ctx context.Context, now time.Time) (int, error)

	// Audit operations
	CreateAdminAudit(ctx context.Context, audit *AdminAudit) error
	ListAdminAudits(ctx context.Context, limit int) ([]*AdminAudit, error)

	Stats(ctx context.Context, since time.Time) (*Stats, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}
