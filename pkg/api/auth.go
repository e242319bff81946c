package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gravewhisper/gravewhisper/pkg/store"
	"github.com/gravewhisper/gravewhisper/pkg/workflow"
	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt cost of admin password hashes.
const PasswordCost = 12

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	return string(hash), nil
}

// checkPassword compares a bcrypt hash with a plaintext password.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword(
		[]byte(hash), []byte(password),
	) == nil
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// valid trims the username and checks both lengths.
func (c *credentialsRequest) valid() bool {
	c.Username = strings.TrimSpace(c.Username)

	u := utf8.RuneCountInString(c.Username)
	p := utf8.RuneCountInString(c.Password)

	return u >= 1 && u <= 64 && p >= 1 && p <= 256
}

type adminResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	LastLoginAt *time.Time `json:"lastLoginAt"`
}

// signIn issues the session cookie for admin.
func (s *server) signIn(w http.ResponseWriter, admin *store.AdminUser) bool {
	if err := s.cookies.Set(w, admin.ID, admin.Username); err != nil {
		s.log.WithError(err).Error("Failed to issue session")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal_error"})

		return false
	}

	return true
}

// record writes an audit entry on behalf of a handler. Failures are
// logged only.
func (s *server) record(r *http.Request, actor workflow.Actor, ev workflow.Event) {
	if err := s.flow.Record(r.Context(), actor, ev); err != nil {
		s.log.WithError(err).WithField("action", ev.Action).Error("Failed to write audit entry")
	}
}

// handleLogin authenticates an admin with username and password.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, maxJSONBody, &req); err != nil || !req.valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid_input"})

		return
	}

	actor := actorFor(r)
	failed := workflow.Event{
		Action:     "admin_login_failed",
		EntityType: "AdminUser",
		Metadata:   map[string]any{"username": req.Username},
	}

	admin, err := s.store.GetAdminByUsername(r.Context(), req.Username)
	if errors.Is(err, store.ErrNotFound) {
		s.record(r, actor, failed)
		writeJSON(w, http.StatusUnauthorized, errorResponse{"invalid_credentials"})

		return
	} else if err != nil {
		s.writeError(w, err, "Failed to load admin")

		return
	}

	if !checkPassword(admin.PasswordHash, req.Password) {
		failed.EntityID = admin.ID
		actor.AdminUserID = admin.ID
		s.record(r, actor, failed)
		writeJSON(w, http.StatusUnauthorized, errorResponse{"invalid_credentials"})

		return
	}

	if err := s.store.TouchAdminLogin(r.Context(), admin.ID, s.now()); err != nil {
		s.writeError(w, err, "Failed to update last login")

		return
	}

	actor.AdminUserID = admin.ID
	s.record(r, actor, workflow.Event{
		Action:     "admin_login",
		EntityType: "AdminUser",
		EntityID:   admin.ID,
	})

	if !s.signIn(w, admin) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type backdoorRequest struct {
	Code string `json:"code"`
}

// handleBackdoorLogin signs in the oldest admin with the shared code.
// It is disabled in production and when no code is configured.
func (s *server) handleBackdoorLogin(w http.ResponseWriter, r *http.Request) {
	expected := s.cfg.Auth.BackdoorCode
	if s.cfg.Server.IsProduction() || expected == "" {
		writeJSON(w, http.StatusForbidden, errorResponse{"forbidden"})

		return
	}

	var req backdoorRequest
	if err := decodeJSON(w, r, maxJSONBody, &req); err != nil || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid_input"})

		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Code), []byte(expected)) != 1 {
		writeJSON(w, http.StatusUnauthorized, errorResponse{"invalid_code"})

		return
	}

	admin, err := s.store.FirstAdmin(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusBadRequest, errorResponse{"no_admin"})

		return
	} else if err != nil {
		s.writeError(w, err, "Failed to load admin")

		return
	}

	actor := actorFor(r)
	actor.AdminUserID = admin.ID
	s.record(r, actor, workflow.Event{
		Action:     "admin_login_backdoor",
		EntityType: "AdminUser",
		EntityID:   admin.ID,
	})

	if !s.signIn(w, admin) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleRegister creates an admin account and signs it in.
func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Auth.AllowRegistration {
		writeJSON(w, http.StatusForbidden, errorResponse{"forbidden"})

		return
	}

	var req credentialsRequest
	if err := decodeJSON(w, r, maxJSONBody, &req); err != nil || !req.valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid_input"})

		return
	}

	actor := actorFor(r)
	taken := func() {
		s.record(r, actor, workflow.Event{
			Action:     "admin_register_failed",
			EntityType: "AdminUser",
			Metadata:   map[string]any{"username": req.Username, "reason": "username_taken"},
		})
		writeJSON(w, http.StatusConflict, errorResponse{"username_taken"})
	}

	if _, err := s.store.GetAdminByUsername(r.Context(), req.Username); err == nil {
		taken()

		return
	} else if !errors.Is(err, store.ErrNotFound) {
		s.writeError(w, err, "Failed to load admin")

		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		s.writeError(w, err, "Failed to hash password")

		return
	}

	now := s.now().UTC()
	admin := &store.AdminUser{
		Username:     req.Username,
		PasswordHash: hash,
		LastLoginAt:  &now,
	}

	if err := s.store.CreateAdmin(r.Context(), admin); errors.Is(err, store.ErrConflict) {
		taken()

		return
	} else if err != nil {
		s.writeError(w, err, "Failed to create admin")

		return
	}

	actor.AdminUserID = admin.ID
	s.record(r, actor, workflow.Event{
		Action:     "admin_register",
		EntityType: "AdminUser",
		EntityID:   admin.ID,
	})

	if !s.signIn(w, admin) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleLogout clears the session cookie.
func (s *server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.cookies.Clear(w)

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleMe returns the signed in admin, or null.
func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	admin := adminFromContext(r.Context())
	if admin == nil {
		writeJSON(w, http.StatusOK, map[string]any{"admin": nil})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"admin": adminResponse{
		ID:          admin.ID,
		Username:    admin.Username,
		LastLoginAt: admin.LastLoginAt,
	}})
}
