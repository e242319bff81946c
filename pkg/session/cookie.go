package session

import (
	"net/http"
)

const (
	cookieName       = "gw_session"
	secureCookieName = "__Host-gw_session"
)

// Cookies writes and reads the session cookie. Secure selects the
// __Host- prefixed name, which browsers only accept over HTTPS with
// Path=/ and no Domain.
type Cookies struct {
	Signer Signer
	Secure bool
}

// Name returns the cookie name in use.
func (c *Cookies) Name() string {
	if c.Secure {
		return secureCookieName
	}

	return cookieName
}

// Set issues a token for the admin and writes it as the session cookie.
func (c *Cookies) Set(w http.ResponseWriter, adminUserID, username string) error {
	token, err := c.Signer.Issue(Payload{
		AdminUserID: adminUserID,
		Username:    username,
	})
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     c.Name(),
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.Secure,
		MaxAge:   int(c.Signer.TTL().Seconds()),
	})

	return nil
}

// Clear overwrites the session cookie with an empty, expired value.
func (c *Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name(),
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.Secure,
		MaxAge:   -1,
	})
}

// FromRequest returns the verified payload carried by the request, or
// nil when the cookie is absent or does not verify.
func (c *Cookies) FromRequest(r *http.Request) *Payload {
	cookie, err := r.Cookie(c.Name())
	if err != nil || cookie.Value == "" {
		return nil
	}

	p, ok := c.Signer.Verify(cookie.Value)
	if !ok {
		return nil
	}

	return p
}
