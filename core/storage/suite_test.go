package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/wispberry-tech/wispy-lending/core"
)

// runStorageSuite exercises the Storage contract. newStore must return an
// empty, migrated store.
func runStorageSuite(t *testing.T, newStore func(t *testing.T) Storage) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Storage)
	}{
		{"UserCRUD", testUserCRUD},
		{"UniqueConstraints", testUniqueConstraints},
		{"CreateUserWithFamilyIsAtomic", testCreateUserWithFamilyIsAtomic},
		{"ListUsers", testListUsers},
		{"FamilyCounts", testFamilyCounts},
		{"DeleteEmptyFamily", testDeleteEmptyFamily},
		{"BookCRUD", testBookCRUD},
		{"ListBooks", testListBooks},
		{"BorrowingLifecycle", testBorrowingLifecycle},
		{"ConcurrentBorrowingRequests", testConcurrentBorrowingRequests},
		{"CompetingBorrowers", testCompetingBorrowers},
		{"Sessions", testSessions},
		{"RevokedTokens", testRevokedTokens},
		{"PasswordResetTokens", testPasswordResetTokens},
		{"OAuthStates", testOAuthStates},
		{"AdminAudits", testAdminAudits},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// seedMember creates a family and one active member in it.
func seedMember(t *testing.T, s Storage, email, familyName string) (*User, *Family) {
	t.Helper()
	family := &Family{Name: familyName, Address: "1 Main Street"}
	user := &User{Email: email, Name: "Member " + email, PasswordHash: "hash", IsActive: true}
	require.NoError(t, s.CreateUserWithFamily(context.Background(), user, family))
	return user, family
}

func seedBook(t *testing.T, s Storage, familyID, title string) *Book {
	t.Helper()
	book := &Book{Title: title, Author: "Author of " + title, FamilyID: familyID, IsAvailable: true}
	require.NoError(t, s.CreateBook(context.Background(), book))
	return book
}

func testUserCRUD(t *testing.T, s Storage) {
	ctx := context.Background()
	user, family := seedMember(t, s, "alice@example.com", "Alices")

	require.NotEmpty(t, user.ID)
	assert.Equal(t, family.ID, user.FamilyID)
	assert.Equal(t, RoleMember, user.Role)
	assert.Equal(t, "email", user.Provider)

	got, err := s.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.True(t, got.IsActive)
	require.NotNil(t, got.Family)
	assert.Equal(t, "Alices", got.Family.Name)
	assert.Nil(t, got.SessionsValidAfter)
	assert.WithinDuration(t, user.CreatedAt, got.CreatedAt, time.Millisecond)

	missing, err := s.GetUserByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	got.Role = RoleAdmin
	got.IsActive = false
	got.Provider = "github"
	got.ProviderID = "42"
	require.NoError(t, s.UpdateUser(ctx, got))

	updated, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, updated.Role)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "github", updated.Provider)
	assert.Equal(t, "42", updated.ProviderID)

	cutoff := time.Date(2025, 3, 1, 12, 0, 0, 123456000, time.UTC)
	require.NoError(t, s.SetSessionsValidAfter(ctx, user.ID, cutoff))
	updated, err = s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.SessionsValidAfter)
	assert.True(t, cutoff.Equal(*updated.SessionsValidAfter), "got %v", updated.SessionsValidAfter)

	assert.ErrorIs(t, s.UpdateUser(ctx, &User{ID: "missing", Email: "x@example.com", FamilyID: family.ID}), ErrUserNotFound)
}

func testUniqueConstraints(t *testing.T, s Storage) {
	ctx := context.Background()
	_, family := seedMember(t, s, "alice@example.com", "Alices")

	err := s.CreateUser(ctx, &User{Email: "alice@example.com", Name: "Again", FamilyID: family.ID, IsActive: true})
	assert.ErrorIs(t, err, ErrUserExists)

	err = s.CreateFamily(ctx, &Family{Name: "Alices", Address: "Elsewhere"})
	assert.ErrorIs(t, err, ErrFamilyExists)
}

func testCreateUserWithFamilyIsAtomic(t *testing.T, s Storage) {
	ctx := context.Background()
	seedMember(t, s, "alice@example.com", "Alices")

	// The user insert fails, so the new family must not survive
	err := s.CreateUserWithFamily(ctx,
		&User{Email: "alice@example.com", Name: "Dup", IsActive: true},
		&Family{Name: "Orphans", Address: "2 Elm Street"})
	require.ErrorIs(t, err, ErrUserExists)

	family, err := s.GetFamilyByName(ctx, "Orphans")
	require.NoError(t, err)
	assert.Nil(t, family)
}

func testListUsers(t *testing.T, s Storage) {
	ctx := context.Background()
	alice, family := seedMember(t, s, "alice@example.com", "Alices")
	bob := &User{Email: "bob@example.com", Name: "Bob Builder", FamilyID: family.ID, IsActive: false}
	require.NoError(t, s.CreateUser(ctx, bob))
	seedMember(t, s, "carol@example.com", "Carols")

	alice.Role = RoleAdmin
	require.NoError(t, s.UpdateUser(ctx, alice))

	all, err := s.ListUsers(ctx, UserFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	admins, err := s.ListUsers(ctx, UserFilter{Role: RoleAdmin})
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, alice.ID, admins[0].ID)

	inactive := false
	disabled, err := s.ListUsers(ctx, UserFilter{IsActive: &inactive})
	require.NoError(t, err)
	require.Len(t, disabled, 1)
	assert.Equal(t, bob.ID, disabled[0].ID)

	search, err := s.ListUsers(ctx, UserFilter{Search: "BUILDER"})
	require.NoError(t, err)
	require.Len(t, search, 1)
	assert.Equal(t, bob.ID, search[0].ID)

	members, err := s.ListFamilyMembers(ctx, family.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func testFamilyCounts(t *testing.T, s Storage) {
	ctx := context.Background()
	lat, lng := 51.5, -0.12
	family := &Family{Name: "Counters", Address: "3 Oak Road", Latitude: &lat, Longitude: &lng}
	user := &User{Email: "count@example.com", Name: "Counter", IsActive: true}
	require.NoError(t, s.CreateUserWithFamily(ctx, user, family))

	seedBook(t, s, family.ID, "One")
	lent := seedBook(t, s, family.ID, "Two")
	loan := &Borrowing{BookID: lent.ID, BorrowerID: user.ID, DueDate: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateBorrowing(ctx, loan))
	_, err := s.TransitionBorrowing(ctx, loan.ID, StatusApproved, time.Now())
	require.NoError(t, err)

	got, err := s.GetFamilyByID(ctx, family.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.MemberCount)
	assert.Equal(t, 2, got.BookCount)
	assert.Equal(t, 1, got.AvailableBookCount)
	require.NotNil(t, got.Latitude)
	assert.InDelta(t, lat, *got.Latitude, 1e-9)

	byName, err := s.GetFamilyByName(ctx, "Counters")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, family.ID, byName.ID)

	seedMember(t, s, "other@example.com", "Others")
	require.NoError(t, s.CreateFamily(ctx, &Family{Name: "Empty", Address: "4 Void Lane"}))

	families, total, err := s.ListFamilies(ctx, FamilyFilter{Page: Page{Page: 1, Limit: 2}})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, families, 2)
	assert.Equal(t, "Counters", families[0].Name)
	assert.Equal(t, "Empty", families[1].Name)

	empty, total, err := s.ListFamilies(ctx, FamilyFilter{EmptyOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, empty, 1)
	assert.Equal(t, "Empty", empty[0].Name)

	search, _, err := s.ListFamilies(ctx, FamilyFilter{Search: "oak"})
	require.NoError(t, err)
	require.Len(t, search, 1)
	assert.Equal(t, family.ID, search[0].ID)
}

func testDeleteEmptyFamily(t *testing.T, s Storage) {
	ctx := context.Background()
	member, occupied := seedMember(t, s, "alice@example.com", "Alices")

	empty := &Family{Name: "Empty", Address: "4 Void Lane"}
	require.NoError(t, s.CreateFamily(ctx, empty))
	book := seedBook(t, s, empty.ID, "Abandoned")
	require.NoError(t, s.CreateBorrowing(ctx, &Borrowing{
		BookID: book.ID, BorrowerID: member.ID, DueDate: time.Now().Add(24 * time.Hour),
	}))

	assert.ErrorIs(t, s.DeleteEmptyFamily(ctx, occupied.ID), ErrFamilyHasMembers)
	assert.ErrorIs(t, s.DeleteEmptyFamily(ctx, "missing"), ErrFamilyNotFound)

	require.NoError(t, s.DeleteEmptyFamily(ctx, empty.ID))

	gone, err := s.GetFamilyByID(ctx, empty.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	goneBook, err := s.GetBookByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Nil(t, goneBook)

	borrowings, total, err := s.ListBorrowings(ctx, BorrowingFilter{BorrowerID: member.ID})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, borrowings)
}

func testBookCRUD(t *testing.T, s Storage) {
	ctx := context.Background()
	_, family := seedMember(t, s, "alice@example.com", "Alices")

	book := &Book{Title: "Dune", Author: "Frank Herbert", ISBN: "9780306406157", Language: "en", FamilyID: family.ID, IsAvailable: true}
	require.NoError(t, s.CreateBook(ctx, book))
	require.NotEmpty(t, book.ID)
	assert.Equal(t, ConditionGood, book.Condition)

	got, err := s.GetBookByID(ctx, book.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Dune", got.Title)
	assert.Equal(t, "9780306406157", got.ISBN)
	assert.True(t, got.IsAvailable)
	require.NotNil(t, got.Family)
	assert.Equal(t, "Alices", got.Family.Name)

	got.Title = "Dune Messiah"
	got.Condition = ConditionFair
	got.IsAvailable = false
	require.NoError(t, s.UpdateBook(ctx, got))

	updated, err := s.GetBookByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dune Messiah", updated.Title)
	assert.Equal(t, ConditionFair, updated.Condition)
	assert.True(t, updated.IsAvailable, "availability is owned by the borrowing workflow")

	assert.ErrorIs(t, s.UpdateBook(ctx, &Book{ID: "missing", Title: "x", Author: "y", FamilyID: family.ID}), ErrBookNotFound)

	require.NoError(t, s.DeleteBook(ctx, book.ID))
	deleted, err := s.GetBookByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Nil(t, deleted)
	assert.ErrorIs(t, s.DeleteBook(ctx, book.ID), ErrBookNotFound)
}

func testListBooks(t *testing.T, s Storage) {
	ctx := context.Background()
	_, alices := seedMember(t, s, "alice@example.com", "Alices")
	_, bobs := seedMember(t, s, "bob@example.com", "Bobs")

	seedBook(t, s, alices.ID, "Emma")
	seedBook(t, s, alices.ID, "Persuasion")
	seedBook(t, s, bobs.ID, "Beloved")

	all, total, err := s.ListBooks(ctx, BookFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 3)

	family, total, err := s.ListBooks(ctx, BookFilter{FamilyID: alices.ID, Page: Page{Page: 2, Limit: 1}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, family, 1)

	search, total, err := s.ListBooks(ctx, BookFilter{Search: "BELOV"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, search, 1)
	assert.Equal(t, "Beloved", search[0].Title)

	unavailable := false
	none, total, err := s.ListBooks(ctx, BookFilter{Available: &unavailable})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none)
}

func testBorrowingLifecycle(t *testing.T, s Storage) {
	ctx := context.Background()
	owner, family := seedMember(t, s, "owner@example.com", "Owners")
	borrower, _ := seedMember(t, s, "borrower@example.com", "Borrowers")
	book := seedBook(t, s, family.ID, "Dune")

	available := func() bool {
		b, err := s.GetBookByID(ctx, book.ID)
		require.NoError(t, err)
		return b.IsAvailable
	}

	b := &Borrowing{BookID: book.ID, BorrowerID: borrower.ID, Status: StatusApproved, DueDate: time.Now().Add(7 * 24 * time.Hour)}
	require.NoError(t, s.CreateBorrowing(ctx, b))
	assert.Equal(t, StatusRequested, b.Status, "new borrowings always start requested")
	assert.True(t, available())

	assert.ErrorIs(t, s.CreateBorrowing(ctx, &Borrowing{BookID: book.ID, BorrowerID: borrower.ID, DueDate: b.DueDate}), ErrActiveBorrowing)
	assert.ErrorIs(t, s.CreateBorrowing(ctx, &Borrowing{BookID: "missing", BorrowerID: borrower.ID, DueDate: b.DueDate}), ErrBookNotFound)

	got, err := s.GetBorrowingByID(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.Book)
	assert.Equal(t, family.ID, got.Book.FamilyID)
	require.NotNil(t, got.Borrower)
	assert.Equal(t, borrower.Email, got.Borrower.Email)
	assert.WithinDuration(t, b.DueDate, got.DueDate, time.Millisecond)

	now := time.Now()
	approved, err := s.TransitionBorrowing(ctx, b.ID, StatusApproved, now)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.False(t, available())

	// The owner cannot request a book that is lent out
	assert.ErrorIs(t, s.CreateBorrowing(ctx, &Borrowing{BookID: book.ID, BorrowerID: owner.ID, DueDate: b.DueDate}), ErrBookUnavailable)

	_, err = s.TransitionBorrowing(ctx, b.ID, StatusRequested, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = s.TransitionBorrowing(ctx, "missing", StatusReturned, now)
	assert.ErrorIs(t, err, ErrBorrowingNotFound)

	_, err = s.TransitionBorrowing(ctx, b.ID, StatusPickedUp, now)
	require.NoError(t, err)
	assert.False(t, available())

	returned, err := s.TransitionBorrowing(ctx, b.ID, StatusReturned, now)
	require.NoError(t, err)
	require.NotNil(t, returned.ReturnedAt)
	assert.WithinDuration(t, now, *returned.ReturnedAt, time.Millisecond)
	assert.True(t, available())

	_, err = s.TransitionBorrowing(ctx, b.ID, StatusReturned, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	active, total, err := s.ListBorrowings(ctx, BorrowingFilter{BookID: book.ID, ActiveOnly: true})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, active)

	byStatus, total, err := s.ListBorrowings(ctx, BorrowingFilter{Status: StatusReturned})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, byStatus, 1)
	assert.Equal(t, b.ID, byStatus[0].ID)
}

func testCompetingBorrowers(t *testing.T, s Storage) {
	ctx := context.Background()
	_, family := seedMember(t, s, "owner@example.com", "Owners")
	first, _ := seedMember(t, s, "first@example.com", "Firsts")
	second, _ := seedMember(t, s, "second@example.com", "Seconds")
	third, _ := seedMember(t, s, "third@example.com", "Thirds")
	book := seedBook(t, s, family.ID, "Contested")

	available := func() bool {
		b, err := s.GetBookByID(ctx, book.ID)
		require.NoError(t, err)
		return b.IsAvailable
	}

	due := time.Now().Add(7 * 24 * time.Hour)
	a := &Borrowing{BookID: book.ID, BorrowerID: first.ID, DueDate: due}
	b := &Borrowing{BookID: book.ID, BorrowerID: second.ID, DueDate: due}
	require.NoError(t, s.CreateBorrowing(ctx, a))
	require.NoError(t, s.CreateBorrowing(ctx, b))

	now := time.Now()
	_, err := s.TransitionBorrowing(ctx, a.ID, StatusApproved, now)
	require.NoError(t, err)
	_, err = s.TransitionBorrowing(ctx, a.ID, StatusPickedUp, now)
	require.NoError(t, err)
	assert.False(t, available())

	// The second request cannot take a book someone already holds
	_, err = s.TransitionBorrowing(ctx, b.ID, StatusApproved, now)
	assert.ErrorIs(t, err, ErrBookUnavailable)
	_, err = s.TransitionBorrowing(ctx, b.ID, StatusPickedUp, now)
	assert.ErrorIs(t, err, ErrBookUnavailable)

	pending, err := s.GetBorrowingByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, pending.Status)

	// Withdrawing the second request leaves the book with the first borrower
	cancelled, err := s.TransitionBorrowing(ctx, b.ID, StatusReturned, now)
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, cancelled.Status)
	assert.False(t, available())
	assert.ErrorIs(t, s.CreateBorrowing(ctx, &Borrowing{BookID: book.ID, BorrowerID: third.ID, DueDate: due}), ErrBookUnavailable)

	_, err = s.TransitionBorrowing(ctx, a.ID, StatusReturned, now)
	require.NoError(t, err)
	assert.True(t, available())
	require.NoError(t, s.CreateBorrowing(ctx, &Borrowing{BookID: book.ID, BorrowerID: third.ID, DueDate: due}))
}

func testConcurrentBorrowingRequests(t *testing.T, s Storage) {
	ctx := context.Background()
	borrower, family := seedMember(t, s, "borrower@example.com", "Borrowers")
	book := seedBook(t, s, family.ID, "Contended")

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		errs      []error
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CreateBorrowing(ctx, &Borrowing{BookID: book.ID, BorrowerID: borrower.ID, DueDate: time.Now().Add(time.Hour)})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else {
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	for _, err := range errs {
		assert.True(t, errors.Is(err, ErrActiveBorrowing) || isBusy(err), "unexpected error: %v", err)
	}
}

// isBusy reports lock contention that callers may retry.
func isBusy(err error) bool {
	msg := fmt.Sprint(err)
	for _, s := range []string{"database is locked", "could not serialize", "deadlock detected"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func testSessions(t *testing.T, s Storage) {
	ctx := context.Background()
	user, _ := seedMember(t, s, "alice@example.com", "Alices")
	now := time.Now()

	live := &Session{UserID: user.ID, TokenHash: "hash-live", ExpiresAt: now.Add(time.Hour)}
	stale := &Session{UserID: user.ID, TokenHash: "hash-stale", ExpiresAt: now.Add(-time.Minute)}
	require.NoError(t, s.CreateSession(ctx, live))
	require.NoError(t, s.CreateSession(ctx, stale))

	found, err := s.FindSession(ctx, "hash-live")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, live.ID, found.ID)
	require.NotNil(t, found.User)
	assert.Equal(t, user.Email, found.User.Email)
	assert.WithinDuration(t, live.ExpiresAt, found.ExpiresAt, time.Millisecond)

	missing, err := s.FindSession(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	n, err := s.DeleteExpiredSessions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.DeleteSessionsByHash(ctx, "hash-live"))
	found, err = s.FindSession(ctx, "hash-live")
	require.NoError(t, err)
	assert.Nil(t, found)

	for i := range 3 {
		require.NoError(t, s.CreateSession(ctx, &Session{UserID: user.ID, TokenHash: fmt.Sprintf("h%d", i), ExpiresAt: now.Add(time.Hour)}))
	}
	n, err = s.DeleteUserSessions(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func testRevokedTokens(t *testing.T, s Storage) {
	ctx := context.Background()
	now := time.Now()

	revoked, err := s.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	token := &RevokedToken{TokenID: "jti-1", UserID: "u1", ExpiresAt: now.Add(time.Hour), RevokedAt: now}
	require.NoError(t, s.RevokeToken(ctx, token))
	require.NoError(t, s.RevokeToken(ctx, token), "revoking twice is a no-op")
	require.NoError(t, s.RevokeToken(ctx, &RevokedToken{TokenID: "jti-2", UserID: "u1", ExpiresAt: now.Add(-time.Second), RevokedAt: now}))

	revoked, err = s.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	n, err := s.DeleteExpiredRevocations(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	revoked, err = s.IsTokenRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func testPasswordResetTokens(t *testing.T, s Storage) {
	ctx := context.Background()
	user, _ := seedMember(t, s, "alice@example.com", "Alices")
	now := time.Now()

	first := &PasswordResetToken{UserID: user.ID, TokenHash: "reset-1", ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.ReplacePasswordResetToken(ctx, first))
	second := &PasswordResetToken{UserID: user.ID, TokenHash: "reset-2", ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.ReplacePasswordResetToken(ctx, second))

	replaced, err := s.FindPasswordResetToken(ctx, "reset-1")
	require.NoError(t, err)
	assert.Nil(t, replaced, "issuing a new token discards unused ones")

	found, err := s.FindPasswordResetToken(ctx, "reset-2")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Nil(t, found.UsedAt)

	require.NoError(t, s.CompletePasswordReset(ctx, found.ID, user.ID, "new-hash", now))
	assert.ErrorIs(t, s.CompletePasswordReset(ctx, found.ID, user.ID, "other-hash", now), ErrResetTokenUsed)

	updated, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", updated.PasswordHash)

	used, err := s.FindPasswordResetToken(ctx, "reset-2")
	require.NoError(t, err)
	require.NotNil(t, used.UsedAt)

	expired := &PasswordResetToken{UserID: user.ID, TokenHash: "reset-3", ExpiresAt: now.Add(-time.Minute)}
	require.NoError(t, s.ReplacePasswordResetToken(ctx, expired))

	n, err := s.DeleteExpiredPasswordResetTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the used and the expired token")
}

func testOAuthStates(t *testing.T, s Storage) {
	ctx := context.Background()
	now := time.Now()

	state := &OAuthState{State: "state-1", Provider: "google", RedirectURL: "/books", ExpiresAt: now.Add(time.Minute), CreatedAt: now}
	require.NoError(t, s.StoreOAuthState(ctx, state))
	require.NoError(t, s.StoreOAuthState(ctx, &OAuthState{State: "state-2", Provider: "github", ExpiresAt: now.Add(-time.Minute), CreatedAt: now}))

	got, err := s.GetOAuthState(ctx, "state-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "google", got.Provider)
	assert.Equal(t, "/books", got.RedirectURL)

	n, err := s.DeleteExpiredOAuthStates(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.DeleteOAuthState(ctx, "state-1"))
	got, err = s.GetOAuthState(ctx, "state-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testAdminAudits(t *testing.T, s Storage) {
	ctx := context.Background()
	admin, _ := seedMember(t, s, "admin@example.com", "Admins")
	member, _ := seedMember(t, s, "member@example.com", "Members")

	base := time.Now().Add(-time.Minute)
	require.NoError(t, s.CreateAdminAudit(ctx, &AdminAudit{
		ActorUserID: admin.ID, Action: ActionPromoteUser, TargetUserID: member.ID,
		Metadata: map[string]any{"from": "MEMBER", "to": "ADMIN"}, CreatedAt: base,
	}))
	require.NoError(t, s.CreateAdminAudit(ctx, &AdminAudit{
		ActorUserID: admin.ID, Action: ActionDeactivateUser, TargetUserID: member.ID, CreatedAt: base.Add(time.Second),
	}))

	audits, err := s.ListAdminAudits(ctx, 10)
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.Equal(t, ActionDeactivateUser, audits[0].Action, "newest first")
	assert.Equal(t, ActionPromoteUser, audits[1].Action)
	assert.Equal(t, "ADMIN", audits[1].Metadata["to"])
	require.NotNil(t, audits[0].Actor)
	assert.Equal(t, admin.Email, audits[0].Actor.Email)

	limited, err := s.ListAdminAudits(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stats, err := s.Stats(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, &Stats{Users: 2, Families: 2, Books: 0, NewUsersLast24h: 2}, stats)
}
