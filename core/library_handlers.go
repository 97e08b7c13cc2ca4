package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wispberry-tech/wispy-lending/isbn"
)

// FamilyListResponse is a page of families.
type FamilyListResponse struct {
	Result
	Families   []*Family  `json:"families"`
	Pagination Pagination `json:"pagination"`
}

// FamilyResponse is a single family.
type FamilyResponse struct {
	Result
	*Family
}

// CreateFamilyRequest creates a family.
type CreateFamilyRequest struct {
	Name      string   `json:"name" validate:"required,max=100"`
	Address   string   `json:"address" validate:"required"`
	Latitude  *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude" validate:"omitempty,longitude"`
	Phone     string   `json:"phone"`
	Email     string   `json:"email" validate:"omitempty,email"`
}

// BookListResponse is a page of books.
type BookListResponse struct {
	Result
	Books      []*Book    `json:"books"`
	Pagination Pagination `json:"pagination"`
}

// BookResponse is a single book.
type BookResponse struct {
	Result
	*Book
}

// CreateBookRequest lists a book for a family. FamilyID defaults to the
// caller's family.
type CreateBookRequest struct {
	Title       string    `json:"title" validate:"required,max=300"`
	Author      string    `json:"author" validate:"required,max=200"`
	ISBN        string    `json:"isbn"`
	Language    string    `json:"language"`
	Description string    `json:"description"`
	CoverImage  string    `json:"coverImage"`
	Condition   Condition `json:"condition" validate:"omitempty,oneof=NEW LIKE_NEW GOOD FAIR POOR"`
	FamilyID    string    `json:"familyId"`
}

// UpdateBookRequest changes the fields that are present.
type UpdateBookRequest struct {
	Title       *string    `json:"title" validate:"omitempty,min=1,max=300"`
	Author      *string    `json:"author" validate:"omitempty,min=1,max=200"`
	ISBN        *string    `json:"isbn"`
	Language    *string    `json:"language"`
	Description *string    `json:"description"`
	CoverImage  *string    `json:"coverImage"`
	Condition   *Condition `json:"condition" validate:"omitempty,oneof=NEW LIKE_NEW GOOD FAIR POOR"`
}

// BorrowingListResponse is a page of borrowings.
type BorrowingListResponse struct {
	Result
	Borrowings []*Borrowing `json:"borrowings"`
	Pagination Pagination   `json:"pagination"`
}

// BorrowingResponse is a single borrowing.
type BorrowingResponse struct {
	Result
	*Borrowing
}

// Status returns the HTTP status code. Borrowing.Status is the workflow status.
func (r BorrowingResponse) Status() int { return r.StatusCode }

// CreateBorrowingRequest asks to borrow a book. The borrower is the caller.
type CreateBorrowingRequest struct {
	BookID  string    `json:"bookId" validate:"required"`
	DueDate time.Time `json:"dueDate" validate:"required"`
}

// UpdateBorrowingRequest moves a borrowing to a new status.
type UpdateBorrowingRequest struct {
	Status BorrowingStatus `json:"status" validate:"required,oneof=REQUESTED APPROVED PICKED_UP RETURNED"`
}

// UserResponse is a single user.
type UserResponse struct {
	Result
	*User
}

// CreateUserRequest adds a member to a family without a password. The member
// sets one through the password reset flow.
type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=100"`
	FamilyID string `json:"familyId" validate:"required"`
	Role     Role   `json:"role" validate:"omitempty,oneof=ADMIN MEMBER"`
}

// requireIdentity returns the caller or a 401 result.
func requireIdentity(r *http.Request) (*Identity, Result, bool) {
	identity := IdentityFromContext(r.Context())
	if identity == nil {
		return nil, errorResult(http.StatusUnauthorized, "Unauthorized"), false
	}
	return identity, Result{}, true
}

// ListFamiliesHandler lists families with member and available book counts.
func (s *Service) ListFamiliesHandler(r *http.Request) FamilyListResponse {
	page := parsePage(r, defaultPageLimit)
	filter := FamilyFilter{
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
		Page:   page,
	}

	families, total, err := s.storage.ListFamilies(r.Context(), filter)
	if err != nil {
		slog.Error("Failed to list families", "error", err)
		return FamilyListResponse{Result: errorResult(http.StatusInternalServerError, "Failed to fetch families")}
	}

	return FamilyListResponse{
		Result:     Result{StatusCode: http.StatusOK},
		Families:   families,
		Pagination: newPagination(page, total),
	}
}

// CreateFamilyHandler creates a family with a unique name.
func (s *Service) CreateFamilyHandler(r *http.Request) FamilyResponse {
	var req CreateFamilyRequest
	if msg, ok := s.decodeAndValidate(r, &req); !ok {
		return FamilyResponse{Result: errorResult(http.StatusBadRequest, msg)}
	}

	now := s.now()
	family := &Family{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		Address:   strings.TrimSpace(req.Address),
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Phone:     strings.TrimSpace(req.Phone),
		Email:     normalizeEmail(req.Email),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.storage.CreateFamily(r.Context(), family); err != nil {
		if errors.Is(err, ErrFamilyExists) {
			return FamilyResponse{Result: errorResult(http.StatusBadRequest, "Family name already exists")}
		}
		slog.Error("Failed to create family", "error", err)
		return FamilyResponse{Result: errorResult(http.StatusInternalServerError, "Failed to create family")}
	}

	slog.Info("Family created", "family_id", family.ID)
	return FamilyResponse{Result: Result{StatusCode: http.StatusCreated}, Family: family}
}

// GetFamilyHandler returns a family with its members and its books, each
// book carrying its active borrowings.
func (s *Service) GetFamilyHandler(r *http.Request, id string) FamilyResponse {
	ctx := r.Context()

	family, err := s.storage.GetFamilyByID(ctx, id)
	if err != nil {
		slog.Error("Failed to get family", "family_id", id, "error", err)
		return FamilyResponse{Result: errorResult(http.StatusInternalServerError, "Failed to fetch family")}
	}
	if family == nil {
		return FamilyResponse{Result: errorResult(http.StatusNotFound, "Family not found")}
	}

	members, err := s.storage.ListFamilyMembers(ctx, id)
	if err != nil {
		slog.Error("Failed to list family members", "family_id", id, "error", err)
		return FamilyResponse{Result: errorResult(http.StatusInternalServerError, "Failed to fetch family")}
	}
	family.Members = members

	books, _, err := s.storage.ListBooks(ctx, BookFilter{FamilyID: id})
	if err != nil {
		slog.Error("Failed to list family books", "family_id", id, "error", err)
		return FamilyResponse{Result: errorResult(http.StatusInternalServerError, "Failed to fetch family")}
	}
	for _, book := range books {
		book.Family = nil
		book.Borrowings, _, err = s.storage.ListBorrowings(ctx, BorrowingFilter{BookID: book.ID, ActiveOnly: true})
		if err != nil {
			slog.Error("Failed to list book borrowings", "book_id", book.ID, "error", err)
			return FamilyResponse{Result: errorResult(http.StatusInternalServerError, "Failed to fetch family")}
		}
	}
	family.Books = books

	return FamilyResponse{Result: Result{StatusCode: http.StatusOK}, Family: family}
}

// ListBooksHandler lists books, newest first.
func (s *Service) ListBooksHandler(r *http.Request) BookListResponse {
	q := r.URL.Query()
	page := parsePage(r, defaultPageLimit)
	filter := BookFilter{
		Search:    strings.TrimSpace(q.Get("search")),
		FamilyID:  q.Get("familyId"),
		Available: parseBool(r, "available"),
		Page:      page,
	}

	books, total, err := s.storage.ListBooks(r.Context(), filter)
	if err != nil {
		slog.Error("Failed to list books", "error", err)
		return BookListResponse{Result: errorResult(http.StatusInternalServerError, "Failed to fetch books")}
	}

	return BookListResponse{
		Result:     Result{StatusCode: http.StatusOK},
		Books:      books,
		Pagination: newPagination(page, total),
	}
}

// CreateBookHandler lists a new book. The ISBN is stored in canonical
// ISBN-13 form when it normalizes and verbatim otherwise.
func (s *Service) CreateBookHandler(r *http.Request) BookResponse {
	identity, res, ok := requireIdentity(r)
	if !ok {
		return BookResponse{Result: res}
	}

	var req CreateBookRequest
	if msg, ok := s.decodeAndValidate(r, &req); !ok {
		return BookResponse{Result: errorResult(http.StatusBadRequest, msg)}
	}

	familyID := req.FamilyID
	if familyID == "" {
		familyID = identity.FamilyID
	}
	if familyID != identity.FamilyID && !identity.IsAdmin() {
		return BookResponse{Result: errorResult(http.StatusForbidden, "Books can only be added to your own family")}
	}

	ctx := r.Context()
	family, err := s.storage.GetFamilyByID(ctx, familyID)
	if err != nil {
		slog.Error("Failed to get family", "error", err)
		return BookResponse{Result: errorResult(http.StatusInternalServerError, "Failed to create book")}
	}
	if family == nil {
		return BookResponse{Result: errorResult(http.StatusNotFound, "Family not found")}
	}

	condition := req.Condition
	if condition == "" {
		condition = ConditionGood
	}

	now := s.now()
	book := &Book{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(req.Title),
		Author:      strings.TrimSpace(req.Author),
		ISBN:        isbn.NormalizeOrRaw(strings.TrimSpace(req.ISBN)),
		Language:    req.Language,
		Description: req.Description,
		CoverImage:  req.CoverImage,
		Condition:   condition,
		IsAvailable: true,
		FamilyID:    familyID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.storage.CreateBook(ctx, book); err != nil {
		slog.Error("Failed to create book", "error", err)
		return BookResponse{Result: errorResult(http.StatusInternalServerError, "Failed to create book")}
	}
	book.Family = family

	slog.Info("Book created", "book_id", book.ID, "family_id", familyID, "user_id", identity.ID)
	return BookResponse{Result: Result{StatusCode: http.StatusCreated}, Book: book}
}

// GetBookHandler returns a book with its family and active borrowings.
func (s *Service) GetBookHandler(r *http.Request, id string) BookResponse {
	ctx := r.Context()

	book, err := s.storage.GetBookByID(ctx, id)
	if err != nil {
		slog.Error("Failed to get book", "book_id", id, "error", err)
		return BookResponse{Result: errorResult(http.StatusInternalServerError, "Failed to fetch book")}
	}
	if book == nil {
		return BookResponse{Result: errorResult(http.StatusNotFound, "Book not found")}
	}

	book.Borrowings, _, err = s.storage.ListBorrowings(ctx, BorrowingFilter{BookID: id, ActiveOnly: true})
	if err != nil {
		slog.Error("Failed to list book borrowings", "book_id", id, "error", err)
		return BookResponse{Result: errorResult(http.StatusInternalServerError, "Failed to fetch book")}
	}
	for _, b := range book.Borrowings {
		b.Book = nil
	}

	return BookResponse{Result: Result{StatusCode: http.StatusOK}, Book: book}
}

// loadOwnedBook returns the book when the caller belongs to its family or is
// an admin.
func (s *Service) loadOwnedBook(r *http.Request, id string, identity *Identity) (*Book, Result, bool) {
	book, err := s.storage.GetBookByID(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get book", "book_id", id, "error", err)
		return nil, internalError(), false
	}
	if book == nil {
		return nil, errorResult(http.StatusNotFound, "Book not found"), false
	}
	if book.FamilyID != identity.FamilyID && !identity.IsAdmin() {
		return nil, errorResult(http.StatusForbidden, "Forbidden"), false
	}
	return book, Result{}, true
}

// UpdateBookHandler applies a partial update. Availability is owned by the
// borrowing workflow and cannot be set here.
func (s *Service) UpdateBookHandler(r *http.Request, id string) BookResponse {
	identity, res, ok := requireIdentity(r)
	if !ok {
		return BookResponse{Result: res}
	}

	var req UpdateBookRequest
	if msg, ok := s.decodeAndValidate(r, &req); !ok {
		return BookResponse{Result: errorResult(http.StatusBadRequest, msg)}
	}

	book, res, ok := s.loadOwnedBook(r, id, identity)
	if !ok {
		return BookResponse{Result: res}
	}

	if req.Title != nil {
		book.Title = strings.TrimSpace(*req.Title)
	}
	if req.Author != nil {
		book.Author = strings.TrimSpace(*req.Author)
	}
	if req.ISBN != nil {
		book.ISBN = isbn.NormalizeOrRaw(strings.TrimSpace(*req.ISBN))
	}
	if req.Language != nil {
		book.Language = *req.Language
	}
	if req.Description != nil {
		book.Description = *req.Description
	}
	if req.CoverImage != nil {
		book.CoverImage = *req.CoverImage
	}
	if req.Condition != nil {
		book.Condition = *req.Condition
	}
	book.UpdatedAt = s.now()

	if err := s.storage.UpdateBook(r.Context(), book); err != nil {
		if errors.Is(err, ErrBookNotFound) {
			return BookResponse{Result: errorResult(http.StatusNotFound, "Book not found")}
		}
		slog.Error("Failed to update book", "book_id", id, "error", err)
		return BookResponse{Result: errorResult(http.StatusInternalServerError, "Failed to update book")}
	}

	return BookResponse{Result: Result{StatusCode: http.StatusOK}, Book: book}
}

// DeleteBookHandler removes a book and its borrowings.
func (s *Service) DeleteBookHandler(r *http.Request, id string) MessageResponse {
	identity, res, ok := requireIdentity(r)
	if !ok {
		return MessageResponse{Result: res}
	}

	if _, res, ok := s.loadOwnedBook(r, id, identity); !ok {
		return MessageResponse{Result: res}
	}

	if err := s.storage.DeleteBook(r.Context(), id); err != nil {
		if errors.Is(err, ErrBookNotFound) {
			return MessageResponse{Result: errorResult(http.StatusNotFound, "Book not found")}
		}
		slog.Error("Failed to delete book", "book_id", id, "error", err)
		return MessageResponse{Result: errorResult(http.StatusInternalServerError, "Failed to delete book")}
	}

	slog.Info("Book deleted", "book_id", id, "user_id", identity.ID)
	return MessageResponse{Result: Result{StatusCode: http.StatusOK}, Message: "Book deleted successfully"}
}

// ListBorrowingsHandler lists borrowings, most recently requested first.
func (s *Service) ListBorrowingsHandler(r *http.Request) BorrowingListResponse {
	q := r.URL.Query()
	page := parsePage(r, defaultPageLimit)
	filter := BorrowingFilter{
		BookID:     q.Get("bookId"),
		BorrowerID: q.Get("borrowerId"),
		Status:     BorrowingStatus(q.Get("status")),
		Page:       page,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return BorrowingListResponse{Result: errorResult(http.StatusBadRequest, "Invalid status")}
	}

	borrowings, total, err := s.storage.ListBorrowings(r.Context(), filter)
	if err != nil {
		slog.Error("Failed to list borrowings", "error", err)
		return BorrowingListResponse{Result: errorResult(http.StatusInternalServerError, "Failed to fetch borrowings")}
	}

	return BorrowingListResponse{
		Result:     Result{StatusCode: http.StatusOK},
		Borrowings: borrowings,
		Pagination: newPagination(page, total),
	}
}

// CreateBorrowingHandler requests to borrow an available book.
func (s *Service) CreateBorrowingHandler(r *http.Request) BorrowingResponse {
	identity, res, ok := requireIdentity(r)
	if !ok {
		return BorrowingResponse{Result: res}
	}

	var req CreateBorrowingRequest
	if msg, ok := s.decodeAndValidate(r, &req); !ok {
		return BorrowingResponse{Result: errorResult(http.StatusBadRequest, msg)}
	}

	now := s.now()
	if !req.DueDate.After(now) {
		return BorrowingResponse{Result: errorResult(http.StatusBadRequest, "Due date must be in the future")}
	}

	borrowing := &Borrowing{
		ID:          uuid.NewString(),
		BookID:      req.BookID,
		BorrowerID:  identity.ID,
		Status:      StatusRequested,
		RequestedAt: now,
		DueDate:     req.DueDate,
	}

	ctx := r.Context()
	if err := s.storage.CreateBorrowing(ctx, borrowing); err != nil {
		switch {
		case errors.Is(err, ErrBookNotFound), errors.Is(err, ErrBookUnavailable):
			return BorrowingResponse{Result: errorResult(http.StatusBadRequest, "Book is not available for borrowing")}
		case errors.Is(err, ErrActiveBorrowing):
			return BorrowingResponse{Result: errorResult(http.StatusBadRequest, "You already have an active borrowing request for this book")}
		default:
			slog.Error("Failed to create borrowing", "error", err)
			return BorrowingResponse{Result: errorResult(http.StatusInternalServerError, "Failed to create borrowing")}
		}
	}

	created, err := s.storage.GetBorrowingByID(ctx, borrowing.ID)
	if err != nil || created == nil {
		slog.Error("Failed to reload borrowing", "borrowing_id", borrowing.ID, "error", err)
		created = borrowing
	}

	slog.Info("Borrowing requested", "borrowing_id", borrowing.ID, "book_id", req.BookID, "user_id", identity.ID)
	return BorrowingResponse{Result: Result{StatusCode: http.StatusCreated}, Borrowing: created}
}

// GetBorrowingHandler returns one borrowing with its book and borrower.
func (s *Service) GetBorrowingHandler(r *http.Request, id string) BorrowingResponse {
	borrowing, err := s.storage.GetBorrowingByID(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get borrowing", "borrowing_id", id, "error", err)
		return BorrowingResponse{Result: errorResult(http.StatusInternalServerError, "Failed to fetch borrowing")}
	}
	if borrowing == nil {
		return BorrowingResponse{Result: errorResult(http.StatusNotFound, "Borrowing not found")}
	}
	return BorrowingResponse{Result: Result{StatusCode: http.StatusOK}, Borrowing: borrowing}
}

// UpdateBorrowingHandler advances a borrowing. The book's availability is
// updated in the same transaction.
func (s *Service) UpdateBorrowingHandler(r *http.Request, id string) BorrowingResponse {
	identity, res, ok := requireIdentity(r)
	if !ok {
		return BorrowingResponse{Result: res}
	}

	var req UpdateBorrowingRequest
	if _, ok := s.decodeAndValidate(r, &req); !ok {
		return BorrowingResponse{Result: errorResult(http.StatusBadRequest, "Valid status is required")}
	}

	ctx := r.Context()
	current, err := s.storage.GetBorrowingByID(ctx, id)
	if err != nil {
		slog.Error("Failed to get borrowing", "borrowing_id", id, "error", err)
		return BorrowingResponse{Result: errorResult(http.StatusInternalServerError, "Failed to update borrowing")}
	}
	if current == nil {
		return BorrowingResponse{Result: errorResult(http.StatusNotFound, "Borrowing not found")}
	}

	if !s.canManageBorrowing(identity, current, req.Status) {
		return BorrowingResponse{Result: errorResult(http.StatusForbidden, "Forbidden")}
	}

	updated, err := s.storage.TransitionBorrowing(ctx, id, req.Status, s.now())
	if err != nil {
		switch {
		case errors.Is(err, ErrBorrowingNotFound):
			return BorrowingResponse{Result: errorResult(http.StatusNotFound, "Borrowing not found")}
		case errors.Is(err, ErrInvalidTransition):
			return BorrowingResponse{Result: errorResult(http.StatusConflict, "Cannot move borrowing from "+string(current.Status)+" to "+string(req.Status))}
		case errors.Is(err, ErrBookUnavailable):
			return BorrowingResponse{Result: errorResult(http.StatusConflict, "Book is already lent out")}
		default:
			slog.Error("Failed to update borrowing", "borrowing_id", id, "error", err)
			return BorrowingResponse{Result: errorResult(http.StatusInternalServerError, "Failed to update borrowing")}
		}
	}

	slog.Info("Borrowing updated", "borrowing_id", id, "from", current.Status, "to", updated.Status, "user_id", identity.ID)
	return BorrowingResponse{Result: Result{StatusCode: http.StatusOK}, Borrowing: updated}
}

// canManageBorrowing reports whether identity may move b to status to.
// Admins and the owning family may make any move. The borrower may only
// pick up an approved book or return (cancel) their own borrowing.
func (s *Service) canManageBorrowing(identity *Identity, b *Borrowing, to BorrowingStatus) bool {
	if identity.IsAdmin() || (b.Book != nil && b.Book.FamilyID == identity.FamilyID) {
		return true
	}
	if b.BorrowerID != identity.ID {
		return false
	}
	return to == StatusReturned || (to == StatusPickedUp && b.Status == StatusApproved)
}

// GetUserHandler looks a user up by the id or email query parameter.
func (s *Service) GetUserHandler(r *http.Request) UserResponse {
	q := r.URL.Query()
	id := q.Get("id")
	email := normalizeEmail(q.Get("email"))
	if id == "" && email == "" {
		return UserResponse{Result: errorResult(http.StatusBadRequest, "User id or email is required")}
	}

	ctx := r.Context()
	var (
		user *User
		err  error
	)
	if id != "" {
		user, err = s.storage.GetUserByID(ctx, id)
	} else {
		user, err = s.storage.GetUserByEmail(ctx, email)
	}
	if err != nil {
		slog.Error("Failed to get user", "error", err)
		return UserResponse{Result: errorResult(http.StatusInternalServerError, "Failed to fetch user")}
	}
	if user == nil {
		return UserResponse{Result: errorResult(http.StatusNotFound, "User not found")}
	}

	user.Borrowings, _, err = s.storage.ListBorrowings(ctx, BorrowingFilter{BorrowerID: user.ID})
	if err != nil {
		slog.Error("Failed to list user borrowings", "user_id", user.ID, "error", err)
		return UserResponse{Result: errorResult(http.StatusInternalServerError, "Failed to fetch user")}
	}
	active := 0
	for _, b := range user.Borrowings {
		b.Borrower = nil
		if b.Status != StatusReturned {
			active++
		}
	}
	user.ActiveBorrowingCount = &active

	return UserResponse{Result: Result{StatusCode: http.StatusOK}, User: user}
}

// CreateUserHandler adds a member to an existing family. Admin only.
func (s *Service) CreateUserHandler(r *http.Request) UserResponse {
	identity, res, ok := requireIdentity(r)
	if !ok {
		return UserResponse{Result: res}
	}
	if !identity.IsAdmin() {
		return UserResponse{Result: errorResult(http.StatusForbidden, "Forbidden")}
	}

	var req CreateUserRequest
	if msg, ok := s.decodeAndValidate(r, &req); !ok {
		return UserResponse{Result: errorResult(http.StatusBadRequest, msg)}
	}

	ctx := r.Context()
	email := normalizeEmail(req.Email)

	existing, err := s.storage.GetUserByEmail(ctx, email)
	if err != nil {
		slog.Error("Failed to check existing user", "error", err)
		return UserResponse{Result: errorResult(http.StatusInternalServerError, "Failed to create user")}
	}
	if existing != nil {
		return UserResponse{Result: errorResult(http.StatusBadRequest, "User with this email already exists")}
	}

	family, err := s.storage.GetFamilyByID(ctx, req.FamilyID)
	if err != nil {
		slog.Error("Failed to get family", "error", err)
		return UserResponse{Result: errorResult(http.StatusInternalServerError, "Failed to create user")}
	}
	if family == nil {
		return UserResponse{Result: errorResult(http.StatusNotFound, "Family not found")}
	}

	role := req.Role
	if role == "" {
		role = RoleMember
	}

	now := s.now()
	user := &User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      strings.TrimSpace(req.Name),
		Role:      role,
		IsActive:  true,
		FamilyID:  family.ID,
		Provider:  "email",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.storage.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrUserExists) {
			return UserResponse{Result: errorResult(http.StatusBadRequest, "User with this email already exists")}
		}
		slog.Error("Failed to create user", "error", err)
		return UserResponse{Result: errorResult(http.StatusInternalServerError, "Failed to create user")}
	}
	user.Family = family

	slog.Info("User created by admin", "user_id", user.ID, "actor_user_id", identity.ID)
	return UserResponse{Result: Result{StatusCode: http.StatusCreated}, User: user}
}
