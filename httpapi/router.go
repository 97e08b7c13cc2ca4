// Package httpapi exposes the lending service over a JSON HTTP API.
package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"filippo.io/csrf"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wispberry-tech/wispy-lending/core"
)

// Options configures the router.
type Options struct {
	// AllowedOrigins may call the API cross-origin with credentials.
	// They are also trusted by the cross-origin request check.
	AllowedOrigins []string
	// RequestTimeout bounds each request; zero disables it.
	RequestTimeout time.Duration
	// MaxBodyBytes limits request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
	// AccessLog enables chi's request logger.
	AccessLog bool
}

const defaultMaxBodyBytes = 1 << 20

// NewRouter builds the API routes on top of svc.
func NewRouter(svc *core.Service, opts Options) (http.Handler, error) {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	protection := csrf.New()
	for _, origin := range opts.AllowedOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return nil, fmt.Errorf("invalid trusted origin %q: %w", origin, err)
		}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if opts.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	// An empty origin list would make cors allow every origin
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(protection.Handler)
	r.Use(limitBody(opts.MaxBodyBytes))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handle(svc.RegisterHandler))
			r.Post("/login", handle(svc.LoginHandler))
			r.Post("/logout", handle(svc.LogoutHandler))
			r.Get("/me", handle(svc.MeHandler))
			r.Get("/verify", handle(svc.VerifyHandler))
			r.Post("/forgot-password", handle(svc.ForgotPasswordHandler))
			r.Post("/reset-password", handle(svc.ResetPasswordHandler))

			r.Get("/oauth/{provider}", handleParam("provider", svc.OAuthInitHandler))
			r.Get("/oauth/{provider}/callback", handleParam("provider", svc.OAuthCallbackHandler))
		})

		// Reads are public; writes check the identity themselves
		r.Group(func(r chi.Router) {
			r.Use(svc.OptionalAuthMiddleware)

			r.Route("/families", func(r chi.Router) {
				r.Get("/", handle(svc.ListFamiliesHandler))
				r.Post("/", handle(svc.CreateFamilyHandler))
				r.Get("/{id}", handleParam("id", svc.GetFamilyHandler))
			})

			r.Route("/books", func(r chi.Router) {
				r.Get("/", handle(svc.ListBooksHandler))
				r.Post("/", handle(svc.CreateBookHandler))
				r.Get("/{id}", handleParam("id", svc.GetBookHandler))
				r.Patch("/{id}", handleParam("id", svc.UpdateBookHandler))
				r.Delete("/{id}", handleParam("id", svc.DeleteBookHandler))
			})

			r.Route("/borrowings", func(r chi.Router) {
				r.Get("/", handle(svc.ListBorrowingsHandler))
				r.Post("/", handle(svc.CreateBorrowingHandler))
				r.Get("/{id}", handleParam("id", svc.GetBorrowingHandler))
				r.Patch("/{id}", handleParam("id", svc.UpdateBorrowingHandler))
			})

			r.Route("/users", func(r chi.Router) {
				r.Get("/", handle(svc.GetUserHandler))
				r.Post("/", handle(svc.CreateUserHandler))
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(svc.AuthMiddleware)
			r.Use(svc.RequireAdmin)

			r.Get("/users", handle(svc.AdminListUsersHandler))
			r.Patch("/users/{id}", handleParam("id", svc.AdminUpdateUserHandler))
			r.Get("/families", handle(svc.AdminListFamiliesHandler))
			r.Delete("/families/{id}", handleParam("id", svc.AdminDeleteFamilyHandler))
			r.Get("/books", handle(svc.AdminListBooksHandler))
			r.Delete("/books/{id}", handleParam("id", svc.AdminDeleteBookHandler))
			r.Get("/audits", handle(svc.AdminAuditHandler))
			r.Get("/health", handle(svc.AdminHealthHandler))
		})
	})

	return r, nil
}

func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
