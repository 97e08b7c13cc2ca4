package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// response is implemented by every core handler response.
type response interface {
	Status() int
	SessionCookie() *http.Cookie
}

// writeJSON sets the response cookie, if any, and encodes resp as the body.
func writeJSON(w http.ResponseWriter, resp response) {
	if cookie := resp.SessionCookie(); cookie != nil {
		http.SetCookie(w, cookie)
	}

	status := resp.Status()
	if status == 0 {
		status = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// handle adapts a core handler to an http.HandlerFunc.
func handle[T response](fn func(*http.Request) T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, fn(r))
	}
}

// handleParam adapts a core handler that takes a URL parameter.
func handleParam[T response](param string, fn func(*http.Request, string) T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, fn(r, chi.URLParam(r, param)))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
