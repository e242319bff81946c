package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gravewhisper/gravewhisper/pkg/store"
	"github.com/gravewhisper/gravewhisper/pkg/workflow"
)

type contextKey string

const adminContextKey contextKey = "admin"

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("status", ww.Status()).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// loadAdmin resolves the session cookie to an existing admin and injects
// it into the request context. Requests without a valid session pass
// through unchanged.
func (s *server) loadAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := s.cookies.FromRequest(r)
		if payload == nil {
			next.ServeHTTP(w, r)

			return
		}

		admin, err := s.store.GetAdminByID(r.Context(), payload.AdminUserID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				s.log.WithError(err).Warn("Failed to resolve session admin")
			}

			next.ServeHTTP(w, r)

			return
		}

		ctx := context.WithValue(r.Context(), adminContextKey, admin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdminJSON answers 401 when no admin is signed in.
func (s *server) requireAdminJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if adminFromContext(r.Context()) == nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{"unauthorized"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAdminForm sends signed out form posts to the login page.
func (s *server) requireAdminForm(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if adminFromContext(r.Context()) == nil {
			http.Redirect(w, r, "/admin/login", http.StatusSeeOther)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// adminFromContext extracts the signed in admin from the request context.
func adminFromContext(ctx context.Context) *store.AdminUser {
	admin, _ := ctx.Value(adminContextKey).(*store.AdminUser)

	return admin
}

// actorFor describes the caller of r for audit entries.
func actorFor(r *http.Request) workflow.Actor {
	actor := workflow.Actor{
		IP:        extractIP(r),
		UserAgent: strings.TrimSpace(r.UserAgent()),
	}

	if admin := adminFromContext(r.Context()); admin != nil {
		actor.AdminUserID = admin.ID
	}

	return actor
}

// extractIP returns the client's IP address from the request.
func extractIP(r *http.Request) string {
	// Take the first IP of the proxy chain.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}
