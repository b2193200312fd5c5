package delivery

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func cookiesByName(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestDeliver_SetsBothCookies(t *testing.T) {
	c := NewCookies(CookieConfig{Domain: "example.com"})
	rec := httptest.NewRecorder()
	if err := c.Deliver(rec, "AT", "RT", 15*time.Minute, 720*time.Hour); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	got := cookiesByName(rec)
	at, rt := got[AccessCookie], got[RefreshCookie]
	if at == nil || rt == nil {
		t.Fatalf("cookies = %v", got)
	}
	if at.Value != "AT" || at.MaxAge != 900 || !at.HttpOnly || at.Path != "/" || at.Domain != "example.com" {
		t.Errorf("access cookie = %+v", at)
	}
	if rt.Value != "RT" || rt.MaxAge != 720*3600 {
		t.Errorf("refresh cookie = %+v", rt)
	}
	if at.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want lax", at.SameSite)
	}
}

func TestDeliver_RequiresBothTokens(t *testing.T) {
	c := NewCookies(CookieConfig{})
	if err := c.Deliver(httptest.NewRecorder(), "", "RT", time.Minute, time.Hour); err != ErrMissingTokens {
		t.Errorf("want ErrMissingTokens, got %v", err)
	}
}

func TestNewCookies_SameSiteNoneForcesSecure(t *testing.T) {
	c := NewCookies(CookieConfig{SameSite: ParseSameSite("None")})
	rec := httptest.NewRecorder()
	_ = c.Deliver(rec, "AT", "RT", time.Minute, time.Hour)
	if at := cookiesByName(rec)[AccessCookie]; !at.Secure || at.SameSite != http.SameSiteNoneMode {
		t.Errorf("access cookie = %+v", at)
	}
}

func TestRevoke_ExpiresCookies(t *testing.T) {
	c := NewCookies(CookieConfig{})
	rec := httptest.NewRecorder()
	c.Revoke(rec)
	got := cookiesByName(rec)
	for _, name := range []string{AccessCookie, RefreshCookie} {
		ck := got[name]
		if ck == nil || ck.Value != "" || ck.MaxAge >= 0 {
			t.Errorf("%s = %+v, want expired", name, ck)
		}
	}
}

func TestParseSameSite(t *testing.T) {
	tests := map[string]http.SameSite{
		"strict": http.SameSiteStrictMode,
		"NONE":   http.SameSiteNoneMode,
		"lax":    http.SameSiteLaxMode,
		"":       http.SameSiteLaxMode,
		"bogus":  http.SameSiteLaxMode,
	}
	for in, want := range tests {
		if got := ParseSameSite(in); got != want {
			t.Errorf("ParseSameSite(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTokenExtraction(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		cookies     map[string]string
		wantAccess  string
		wantRefresh string
	}{
		{"none", "", nil, "", ""},
		{"bearer only", "Bearer tok", nil, "tok", "tok"},
		{"lowercase scheme", "bearer tok", nil, "tok", "tok"},
		{"cookies only", "", map[string]string{AccessCookie: "a", RefreshCookie: "r"}, "a", "r"},
		{"header wins for access, cookie for refresh", "Bearer h", map[string]string{AccessCookie: "a", RefreshCookie: "r"}, "h", "r"},
		{"basic scheme ignored", "Basic abc", nil, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			for k, v := range tt.cookies {
				r.AddCookie(&http.Cookie{Name: k, Value: v})
			}
			if got := AccessToken(r); got != tt.wantAccess {
				t.Errorf("AccessToken = %q, want %q", got, tt.wantAccess)
			}
			if got := RefreshToken(r); got != tt.wantRefresh {
				t.Errorf("RefreshToken = %q, want %q", got, tt.wantRefresh)
			}
		})
	}
}
