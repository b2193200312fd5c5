package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

var (
	// ErrInvalidToken is returned when a token is malformed, has a bad signature, or
	// carries the wrong issuer, audience, or type.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned for an otherwise valid token past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Token types carried in the "typ" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims is the signed payload of both credential types: subject, device, and id.
type Claims struct {
	jwt.RegisteredClaims
	DeviceID string `json:"deviceId"`
	Type     string `json:"typ"`
}

// IssuedToken is a signed credential and the values the caller records about it.
type IssuedToken struct {
	Token     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// accessLeeway tolerates clock skew between issuing and verifying instances.
const accessLeeway = 5 * time.Second

// keyPair signs and verifies one token type.
type keyPair struct {
	method jwt.SigningMethod
	sign   any
	verify any
}

// TokenProvider issues and verifies access and refresh JWTs. Access and refresh tokens
// are signed with separate secrets in HMAC mode; in key-pair mode (RS256/ES256) they
// share the key and are told apart by the "typ" claim.
type TokenProvider struct {
	access     keyPair
	refresh    keyPair
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with privateKey (RSA → RS256,
// ECDSA → ES256) and verifies with publicKey.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration) (*TokenProvider, error) {
	method, err := signingMethod(privateKey.Public())
	if err != nil {
		return nil, err
	}
	if pubMethod, err := signingMethod(publicKey); err != nil || pubMethod != method {
		return nil, ErrInvalidKey
	}
	kp := keyPair{method: method, sign: privateKey, verify: publicKey}
	return newProvider(kp, kp, issuer, audience, accessTTL, refreshTTL), nil
}

// NewHMACTokenProvider returns a TokenProvider that signs access and refresh tokens
// with HS256 under two distinct secrets.
func NewHMACTokenProvider(accessSecret, refreshSecret []byte, issuer, audience string, accessTTL, refreshTTL time.Duration) (*TokenProvider, error) {
	if len(accessSecret) == 0 || len(refreshSecret) == 0 {
		return nil, errors.New("security: access and refresh secrets are required")
	}
	return newProvider(
		keyPair{method: jwt.SigningMethodHS256, sign: accessSecret, verify: accessSecret},
		keyPair{method: jwt.SigningMethodHS256, sign: refreshSecret, verify: refreshSecret},
		issuer, audience, accessTTL, refreshTTL,
	), nil
}

func newProvider(access, refresh keyPair, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		access:     access,
		refresh:    refresh,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NewID returns a fresh credential id. ULIDs sort by issue time.
func NewID() string {
	return ulid.Make().String()
}

// AccessTTL is the access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL is the refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess signs an access token with id jti for userID on deviceID.
func (p *TokenProvider) IssueAccess(userID, deviceID, jti string) (IssuedToken, error) {
	return p.issue(p.access, TypeAccess, p.accessTTL, userID, deviceID, jti)
}

// IssueRefresh signs a refresh token with id jti for userID on deviceID. The id must
// match the one recorded by the session engine.
func (p *TokenProvider) IssueRefresh(userID, deviceID, jti string) (IssuedToken, error) {
	return p.issue(p.refresh, TypeRefresh, p.refreshTTL, userID, deviceID, jti)
}

func (p *TokenProvider) issue(kp keyPair, typ string, ttl time.Duration, userID, deviceID, jti string) (IssuedToken, error) {
	if userID == "" || deviceID == "" || jti == "" {
		return IssuedToken{}, fmt.Errorf("security: issue %s token: missing subject, device or id", typ)
	}
	now := p.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		DeviceID: deviceID,
		Type:     typ,
	}
	token, err := jwt.NewWithClaims(kp.method, claims).SignedString(kp.sign)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("security: sign %s token: %w", typ, err)
	}
	return IssuedToken{Token: token, ID: jti, IssuedAt: now, ExpiresAt: expiresAt}, nil
}

// VerifyAccess checks signature, expiry, issuer, audience, and type of an access token.
func (p *TokenProvider) VerifyAccess(tokenString string) (*Claims, error) {
	return p.verify(p.access, TypeAccess, tokenString, accessLeeway)
}

// VerifyRefresh checks signature, expiry, issuer, audience, and type of a refresh token.
func (p *TokenProvider) VerifyRefresh(tokenString string) (*Claims, error) {
	return p.verify(p.refresh, TypeRefresh, tokenString, 0)
}

func (p *TokenProvider) verify(kp keyPair, typ, tokenString string, leeway time.Duration) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return kp.verify, nil
	},
		jwt.WithValidMethods([]string{kp.method.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
		jwt.WithLeeway(leeway),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrTokenExpired
	}
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Type != typ || claims.Subject == "" || claims.DeviceID == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssuedAtUnix is the iat claim in unix seconds, or 0 when absent.
func (c *Claims) IssuedAtUnix() int64 {
	if c.IssuedAt == nil {
		return 0
	}
	return c.IssuedAt.Unix()
}

func signingMethod(pub crypto.PublicKey) (jwt.SigningMethod, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PublicKey:
		if k.Curve.Params().BitSize != 256 {
			return nil, ErrInvalidKey
		}
		return jwt.SigningMethodES256, nil
	default:
		return nil, ErrInvalidKey
	}
}
