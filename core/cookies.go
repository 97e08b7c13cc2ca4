package core

import (
	"net/http"
	"strings"
	"time"
)

// DefaultSessionCookieName is the cookie carrying the session secret.
const DefaultSessionCookieName = "session"

// sessionCookie builds the cookie that hands an issued session to the browser.
func (s *Service) sessionCookie(issued *IssuedSession) *http.Cookie {
	maxAge := int(issued.ExpiresAt.Sub(s.now()) / time.Second)
	if maxAge < 1 {
		maxAge = 1
	}
	return &http.Cookie{
		Name:     s.securityConfig.SessionCookieName,
		Value:    issued.Token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.securityConfig.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// clearSessionCookie expires the session cookie immediately (Max-Age=0).
func (s *Service) clearSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     s.securityConfig.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.securityConfig.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// extractTokenFromRequest extracts the session secret from the Authorization
// header or the session cookie
func (s *Service) extractTokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return header
	}

	if cookie, err := r.Cookie(s.securityConfig.SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// hasSessionCookie reports whether the request carries a non-empty session cookie.
func (s *Service) hasSessionCookie(r *http.Request) bool {
	cookie, err := r.Cookie(s.securityConfig.SessionCookieName)
	return err == nil && cookie.Value != ""
}
