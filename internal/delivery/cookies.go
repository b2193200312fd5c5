// Package delivery hands issued credentials to HTTP clients as cookies and reads them
// back from cookies or an Authorization bearer header.
package delivery

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"

	bearerPrefix = "bearer "
)

// ErrMissingTokens is returned by Deliver when either token is empty.
var ErrMissingTokens = errors.New("delivery: access and refresh tokens are required")

// CookieConfig controls cookie attributes.
type CookieConfig struct {
	Domain   string
	Path     string
	Secure   bool
	SameSite http.SameSite
}

// Cookies writes and clears the credential cookies.
type Cookies struct {
	cfg CookieConfig
}

// NewCookies returns a Cookies writer. SameSite=None always sets Secure, since
// browsers drop insecure SameSite=None cookies.
func NewCookies(cfg CookieConfig) *Cookies {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}
	if cfg.SameSite == http.SameSiteNoneMode {
		cfg.Secure = true
	}
	return &Cookies{cfg: cfg}
}

// ParseSameSite maps "lax", "strict" or "none" to an http.SameSite; anything else is lax.
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// Deliver sets both credential cookies; each lives as long as its token.
func (c *Cookies) Deliver(w http.ResponseWriter, access, refresh string, accessTTL, refreshTTL time.Duration) error {
	if access == "" || refresh == "" {
		return ErrMissingTokens
	}
	http.SetCookie(w, c.cookie(AccessCookie, access, accessTTL))
	http.SetCookie(w, c.cookie(RefreshCookie, refresh, refreshTTL))
	return nil
}

// Revoke expires both credential cookies on the client.
func (c *Cookies) Revoke(w http.ResponseWriter) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		ck := c.cookie(name, "", 0)
		ck.MaxAge = -1
		ck.Expires = time.Unix(0, 0).UTC()
		http.SetCookie(w, ck)
	}
}

func (c *Cookies) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.cfg.Path,
		Domain:   c.cfg.Domain,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: c.cfg.SameSite,
	}
}

// AccessToken returns the access token from the Authorization header, falling back
// to the access cookie.
func AccessToken(r *http.Request) string {
	return tokenFrom(r, AccessCookie)
}

// RefreshToken returns the refresh token from the refresh cookie, falling back to the
// Authorization header.
func RefreshToken(r *http.Request) string {
	if v := cookieValue(r, RefreshCookie); v != "" {
		return v
	}
	return bearer(r)
}

func tokenFrom(r *http.Request, cookieName string) string {
	if v := bearer(r); v != "" {
		return v
	}
	return cookieValue(r, cookieName)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func bearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
