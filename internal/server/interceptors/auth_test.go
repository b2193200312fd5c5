package interceptors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	identityservice "sessionguard/backend/internal/identity/service"
)

type fakeAuthenticator struct {
	id   *identityservice.Identity
	err  error
	seen string
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, token string) (*identityservice.Identity, error) {
	f.seen = token
	return f.id, f.err
}

func TestAuth_StoresIdentity(t *testing.T) {
	authn := &fakeAuthenticator{id: &identityservice.Identity{UserID: "u1", DeviceID: "d1"}}
	var gotUser string
	h := Auth(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = GetUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if authn.seen != "tok-1" {
		t.Errorf("token passed = %q", authn.seen)
	}
	if gotUser != "u1" {
		t.Errorf("user in context = %q", gotUser)
	}
}

func TestAuth_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"unauthorized", identityservice.ErrUnauthorized, http.StatusUnauthorized, "authentication required"},
		{"wrapped unauthorized", errors.Join(identityservice.ErrUnauthorized, errors.New("revoked")), http.StatusUnauthorized, "authentication required"},
		{"store failure", errors.New("redis down"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := Auth(&fakeAuthenticator{err: tt.err})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				called = true
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

			if called {
				t.Fatal("next handler must not run")
			}
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tt.body {
				t.Errorf("error = %q, want %q", body["error"], tt.body)
			}
		})
	}
}

func TestClientIPMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		headers    map[string]string
		remote     string
		want       string
	}{
		{"peer address", false, nil, "10.0.0.1:5555", "10.0.0.1"},
		{"forwarded ignored without trust", false, map[string]string{"X-Forwarded-For": "1.2.3.4"}, "10.0.0.1:5555", "10.0.0.1"},
		{"first forwarded entry", true, map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.9"}, "10.0.0.1:5555", "1.2.3.4"},
		{"real ip", true, map[string]string{"X-Real-IP": "5.6.7.8"}, "10.0.0.1:5555", "5.6.7.8"},
		{"bare remote", false, nil, "10.0.0.2", "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := ClientIPMiddleware(tt.trustProxy)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = ClientIP(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
