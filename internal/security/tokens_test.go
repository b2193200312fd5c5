package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"
)

func TestTokenProvider_IssueAndVerify(t *testing.T) {
	rsaProvider, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	ecProvider, err := NewTokenProvider(ecKey, ecKey.Public(), "test-issuer", "test-audience", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenProvider(EC): %v", err)
	}

	providers := map[string]*TokenProvider{
		"RS256": rsaProvider,
		"ES256": ecProvider,
		"HS256": NewTestHMACTokenProvider(),
	}
	for name, p := range providers {
		t.Run(name, func(t *testing.T) {
			accessID, refreshID := NewID(), NewID()
			access, err := p.IssueAccess("u1", "d1", accessID)
			if err != nil {
				t.Fatalf("IssueAccess: %v", err)
			}
			if access.ID != accessID || access.Token == "" {
				t.Errorf("access = %+v", access)
			}
			if got := access.ExpiresAt.Sub(access.IssuedAt); got != p.AccessTTL() {
				t.Errorf("access lifetime = %v, want %v", got, p.AccessTTL())
			}
			refresh, err := p.IssueRefresh("u1", "d1", refreshID)
			if err != nil {
				t.Fatalf("IssueRefresh: %v", err)
			}

			ac, err := p.VerifyAccess(access.Token)
			if err != nil {
				t.Fatalf("VerifyAccess: %v", err)
			}
			if ac.Subject != "u1" || ac.DeviceID != "d1" || ac.ID != accessID || ac.Type != TypeAccess {
				t.Errorf("access claims = %+v", ac)
			}
			if ac.IssuedAtUnix() != access.IssuedAt.Unix() {
				t.Errorf("iat = %d, want %d", ac.IssuedAtUnix(), access.IssuedAt.Unix())
			}
			rc, err := p.VerifyRefresh(refresh.Token)
			if err != nil {
				t.Fatalf("VerifyRefresh: %v", err)
			}
			if rc.ID != refreshID || rc.Type != TypeRefresh {
				t.Errorf("refresh claims = %+v", rc)
			}

			if _, err := p.VerifyAccess(refresh.Token); err != ErrInvalidToken {
				t.Errorf("refresh as access: want ErrInvalidToken, got %v", err)
			}
			if _, err := p.VerifyRefresh(access.Token); err != ErrInvalidToken {
				t.Errorf("access as refresh: want ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestTokenProvider_Expired(t *testing.T) {
	p := NewTestHMACTokenProvider()
	issued := time.Now().Add(-time.Hour).UTC()
	p.now = func() time.Time { return issued }
	access, err := p.IssueAccess("u1", "d1", NewID())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	p.now = func() time.Time { return issued.Add(16 * time.Minute) }
	if _, err := p.VerifyAccess(access.Token); err != ErrTokenExpired {
		t.Errorf("want ErrTokenExpired, got %v", err)
	}
}

func TestTokenProvider_WrongIssuerOrAudience(t *testing.T) {
	p := NewTestHMACTokenProvider()
	other, _ := NewHMACTokenProvider([]byte("test-access-secret"), []byte("test-refresh-secret"), "other-issuer", "test-audience", time.Minute, time.Hour)
	tok, err := other.IssueAccess("u1", "d1", NewID())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := p.VerifyAccess(tok.Token); err != ErrInvalidToken {
		t.Errorf("wrong issuer: want ErrInvalidToken, got %v", err)
	}

	other, _ = NewHMACTokenProvider([]byte("test-access-secret"), []byte("test-refresh-secret"), "test-issuer", "other-audience", time.Minute, time.Hour)
	tok, _ = other.IssueAccess("u1", "d1", NewID())
	if _, err := p.VerifyAccess(tok.Token); err != ErrInvalidToken {
		t.Errorf("wrong audience: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_WrongSecret(t *testing.T) {
	p := NewTestHMACTokenProvider()
	other, _ := NewHMACTokenProvider([]byte("another-secret"), []byte("another-refresh"), "test-issuer", "test-audience", time.Minute, time.Hour)
	tok, _ := other.IssueRefresh("u1", "d1", NewID())
	if _, err := p.VerifyRefresh(tok.Token); err != ErrInvalidToken {
		t.Errorf("want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_AlgorithmPinned(t *testing.T) {
	rsaProvider, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	tok, _ := NewTestHMACTokenProvider().IssueAccess("u1", "d1", NewID())
	if _, err := rsaProvider.VerifyAccess(tok.Token); err != ErrInvalidToken {
		t.Errorf("HS256 token on RS256 provider: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_Malformed(t *testing.T) {
	p := NewTestHMACTokenProvider()
	for _, in := range []string{"", "invalid-token", "a.b.c"} {
		if _, err := p.VerifyAccess(in); err != ErrInvalidToken {
			t.Errorf("VerifyAccess(%q): want ErrInvalidToken, got %v", in, err)
		}
	}
}

func TestTokenProvider_IssueRequiresIdentifiers(t *testing.T) {
	p := NewTestHMACTokenProvider()
	if _, err := p.IssueAccess("u1", "", NewID()); err == nil {
		t.Error("missing device: want error")
	}
	if _, err := p.IssueRefresh("u1", "d1", ""); err == nil {
		t.Error("missing id: want error")
	}
}

func TestNewTokenProvider_MismatchedKeys(t *testing.T) {
	signer, _, err := LoadKeyPair(testPrivateKeyPEM, "")
	if err != nil {
		t.Fatalf("LoadKeyPair: %v", err)
	}
	ecKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if _, err := NewTokenProvider(signer, ecKey.Public(), "i", "a", time.Minute, time.Hour); err != ErrInvalidKey {
		t.Errorf("want ErrInvalidKey, got %v", err)
	}
	if _, err := NewHMACTokenProvider(nil, []byte("x"), "i", "a", time.Minute, time.Hour); err == nil {
		t.Error("empty secret: want error")
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
