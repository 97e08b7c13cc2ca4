package core

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

// Result carries the parts of a handler response that are not JSON body
// fields. It is embedded in every response type.
type Result struct {
	StatusCode int          `json:"-"`               // HTTP status code (not serialized)
	Error      string       `json:"error,omitempty"` // Error message if any
	Cookie     *http.Cookie `json:"-"`               // Cookie to set, if any
}

// Status returns the HTTP status code.
func (r Result) Status() int { return r.StatusCode }

// SessionCookie returns the cookie the response sets, or nil.
func (r Result) SessionCookie() *http.Cookie { return r.Cookie }

func errorResult(status int, msg string) Result {
	return Result{StatusCode: status, Error: msg}
}

func internalError() Result {
	return errorResult(http.StatusInternalServerError, "Internal server error")
}

// MessageResponse is a response with a single message.
type MessageResponse struct {
	Result
	Message string `json:"message,omitempty"`
}

// Password utilities
func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// HashPassword returns the bcrypt hash stored for a password.
func HashPassword(password string) (string, error) {
	return hashPassword(password)
}

func checkPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// normalizeEmail trims and lower-cases an email address.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IP utilities
func extractIPFromRequest(remoteAddr, xForwardedFor, xRealIP string) string {
	// Check X-Forwarded-For header first (can contain multiple IPs)
	if xForwardedFor != "" {
		ips := strings.Split(xForwardedFor, ",")
		clientIP := strings.TrimSpace(ips[0])
		if net.ParseIP(clientIP) != nil {
			return clientIP
		}
	}

	if xRealIP != "" {
		if net.ParseIP(xRealIP) != nil {
			return xRealIP
		}
	}

	// Fall back to RemoteAddr
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// extractIP extracts client IP from HTTP request
func extractIP(r *http.Request) string {
	return extractIPFromRequest(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"))
}

// decodeAndValidate decodes the JSON body into req and runs struct validation.
// The returned message is suitable for a 400 response.
func (s *Service) decodeAndValidate(r *http.Request, req any) (string, bool) {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return "Invalid request format", false
	}
	if err := s.validator.Struct(req); err != nil {
		return formatValidationErrors(err), false
	}
	return "", true
}

// Helper function to format validation errors
func formatValidationErrors(err error) string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var errorMessages []string
		for _, fieldError := range validationErrors {
			switch fieldError.Tag() {
			case "required":
				errorMessages = append(errorMessages, fmt.Sprintf("%s is required", fieldError.Field()))
			case "email":
				errorMessages = append(errorMessages, fmt.Sprintf("%s must be a valid email address", fieldError.Field()))
			case "min":
				errorMessages = append(errorMessages, fmt.Sprintf("%s must be at least %s characters long", fieldError.Field(), fieldError.Param()))
			case "max":
				errorMessages = append(errorMessages, fmt.Sprintf("%s must be at most %s characters long", fieldError.Field(), fieldError.Param()))
			case "oneof":
				errorMessages = append(errorMessages, fmt.Sprintf("%s must be one of %s", fieldError.Field(), fieldError.Param()))
			default:
				errorMessages = append(errorMessages, fmt.Sprintf("%s is invalid", fieldError.Field()))
			}
		}
		return strings.Join(errorMessages, "; ")
	}
	return err.Error()
}

const (
	defaultPageLimit = 12
	maxPageLimit     = 100
)

// parsePage reads page and limit query parameters.
func parsePage(r *http.Request, defaultLimit int) Page {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit < 1 {
		limit = defaultLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return Page{Page: page, Limit: limit}
}

// parseBool reads an optional boolean query parameter.
func parseBool(r *http.Request, name string) *bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	if err != nil {
		return nil
	}
	return &v
}

func newPagination(p Page, total int) Pagination {
	pages := 0
	if p.Limit > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return Pagination{Page: p.Page, Limit: p.Limit, Total: total, Pages: pages}
}

// RateLimiter provides in-memory rate limiting functionality
type RateLimiter struct {
	requests    map[string][]time.Time
	maxRequests int
	window      time.Duration
	mu          sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests:    make(map[string][]time.Time),
		maxRequests: maxRequests,
		window:      window,
	}
}

// IsAllowed checks if a request from the given key (IP address) is allowed
func (rl *RateLimiter) IsAllowed(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	valid := rl.prune(rl.requests[key], now)

	if len(valid) < rl.maxRequests {
		rl.requests[key] = append(valid, now)
		return true
	}

	rl.requests[key] = valid
	return false
}

// Cleanup removes old entries to prevent memory leaks. It returns the
// number of keys dropped.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, requests := range rl.requests {
		valid := rl.prune(requests, now)
		if len(valid) == 0 {
			delete(rl.requests, key)
			removed++
		} else {
			rl.requests[key] = valid
		}
	}
	return removed
}

func (rl *RateLimiter) prune(requests []time.Time, now time.Time) []time.Time {
	var valid []time.Time
	for _, t := range requests {
		if now.Sub(t) < rl.window {
			valid = append(valid, t)
		}
	}
	return valid
}
