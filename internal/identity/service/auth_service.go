package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"sessionguard/backend/internal/audit"
	auditdomain "sessionguard/backend/internal/audit/domain"
	policyengine "sessionguard/backend/internal/policy/engine"
	"sessionguard/backend/internal/revocation"
	"sessionguard/backend/internal/security"
	sessionsvc "sessionguard/backend/internal/session/service"
	teldomain "sessionguard/backend/internal/telemetry/domain"
	"sessionguard/backend/internal/telemetry/metrics"
	userdomain "sessionguard/backend/internal/user/domain"
)

// Sentinel errors for the auth service; the HTTP layer maps them to status codes.
var (
	// ErrUnauthorized is the single outward failure for every rejected credential.
	// The cause stays in logs and telemetry.
	ErrUnauthorized = errors.New("authentication required")

	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrUserStoreUnavailable = errors.New("user store is not configured")
)

const (
	passwordMin = 5
	passwordMax = 50

	defaultEventsLimit = 50
	maxEventsLimit     = 200
)

// TokenPair is the outcome of Login or Refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	UserID           string
	DeviceID         string
}

// Identity is the verified, unrevoked caller behind an access credential.
type Identity struct {
	UserID    string
	DeviceID  string
	AccessID  string
	IssuedAt  int64
	ExpiresAt time.Time
}

// Profile is returned by Me.
type Profile struct {
	UserID   string
	DeviceID string
	Email    string
	Name     string
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// Sessions is the session lifecycle engine as used by the auth service.
type Sessions interface {
	CreateSession(ctx context.Context, userID, deviceID, refreshID, accessID string) (*sessionsvc.Meta, error)
	RotateSession(ctx context.Context, userID, deviceID, oldRefreshID, newRefreshID, newAccessID string) (*sessionsvc.Meta, error)
	LogoutDevice(ctx context.Context, deviceID, userID string) error
	LogoutAllDevices(ctx context.Context, userID string) (int, error)
	IsDeviceLinked(ctx context.Context, userID, deviceID string) (bool, error)
}

// Revocations is the access revocation ledger as used by the auth service.
type Revocations interface {
	IsRevoked(ctx context.Context, t revocation.Token) (bool, error)
	BlacklistCredential(ctx context.Context, accessID string, remaining time.Duration) error
	BumpUserCutoff(ctx context.Context, userID string, at time.Time) error
	BumpDeviceCutoff(ctx context.Context, userID, deviceID string, at time.Time) error
}

// Auditor records security events and lists a user's recent ones.
type Auditor interface {
	audit.AuditLogger
	Recent(ctx context.Context, userID string, limit int) ([]*auditdomain.AuditLog, error)
}

// Deps are the collaborators of AuthService. Users may be nil when no user store is
// configured; Register and Login then fail with ErrUserStoreUnavailable. Metrics may be nil.
type Deps struct {
	Users       UserRepo
	Sessions    Sessions
	Revocations Revocations
	Tokens      *security.TokenProvider
	Hasher      *security.Hasher
	Policy      policyengine.Evaluator
	Audit       Auditor
	Metrics     *metrics.Metrics
}

// AuthService implements register, login, refresh with reuse response, logout, and access checks.
type AuthService struct {
	users       UserRepo
	sessions    Sessions
	revocations Revocations
	tokens      *security.TokenProvider
	hasher      *security.Hasher
	policy      policyengine.Evaluator
	audit       Auditor
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(d Deps) (*AuthService, error) {
	if d.Sessions == nil || d.Revocations == nil || d.Tokens == nil || d.Hasher == nil || d.Policy == nil || d.Audit == nil {
		return nil, errors.New("identity: sessions, revocations, tokens, hasher, policy and audit are required")
	}
	return &AuthService{
		users:       d.Users,
		sessions:    d.Sessions,
		revocations: d.Revocations,
		tokens:      d.Tokens,
		hasher:      d.Hasher,
		policy:      d.Policy,
		audit:       d.Audit,
		metrics:     d.Metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register creates a user with the given email, name and password.
func (s *AuthService) Register(ctx context.Context, email, name, password, confirmPassword string) (*userdomain.User, error) {
	if s.users == nil {
		return nil, ErrUserStoreUnavailable
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if password != confirmPassword {
		return nil, fmt.Errorf("%w: passwords do not match", ErrInvalidRequest)
	}
	now := s.now()
	user := &userdomain.User{
		ID:        uuid.New().String(),
		Email:     userdomain.NormalizeEmail(email),
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	user.PasswordHash = hashed
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	existing, err := s.users.GetByEmail(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, userdomain.ErrEmailTaken
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login checks email and password and starts a session. deviceID is optional: a device
// the user already owns keeps its id, anything else gets a fresh one. Any previous
// session on the device is replaced.
func (s *AuthService) Login(ctx context.Context, email, password, deviceID string) (*TokenPair, error) {
	if s.users == nil {
		return nil, ErrUserStoreUnavailable
	}
	email = userdomain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID != "" {
		if _, err := uuid.Parse(deviceID); err != nil {
			return nil, fmt.Errorf("%w: deviceId must be a UUID", ErrInvalidRequest)
		}
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.hasher.VerifyDummy([]byte(password))
		s.audit.LogEvent(ctx, &teldomain.SecurityEvent{Type: teldomain.EventLoginFailed, Reason: "unknown_user"})
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Verify(user.PasswordHash, []byte(password)); err != nil {
		s.audit.LogEvent(ctx, &teldomain.SecurityEvent{Type: teldomain.EventLoginFailed, UserID: user.ID, Reason: "bad_password"})
		return nil, ErrInvalidCredentials
	}

	if deviceID != "" {
		owned, err := s.sessions.IsDeviceLinked(ctx, user.ID, deviceID)
		if err != nil {
			return nil, err
		}
		if !owned {
			deviceID = ""
		}
	}
	if deviceID == "" {
		deviceID = uuid.New().String()
	}

	pair, refreshID, accessID, err := s.issuePair(user.ID, deviceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.CreateSession(ctx, user.ID, deviceID, refreshID, accessID); err != nil {
		s.countTxFailure(err)
		return nil, err
	}
	s.metrics.SessionCreated()
	s.audit.LogEvent(ctx, &teldomain.SecurityEvent{Type: teldomain.EventLogin, UserID: user.ID, DeviceID: deviceID})
	return pair, nil
}

// Refresh verifies the refresh credential, rotates the session and issues a new pair.
// Any rejection is reported as ErrUnauthorized after the reuse response policy has run.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		s.rejectRefresh(ctx, nil, audit.ReasonMissingToken, nil)
		return nil, ErrUnauthorized
	}
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		s.rejectRefresh(ctx, nil, audit.RejectionReason(err), nil)
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	pair, refreshID, accessID, err := s.issuePair(claims.Subject, claims.DeviceID)
	if err != nil {
		return nil, err
	}
	_, err = s.sessions.RotateSession(ctx, claims.Subject, claims.DeviceID, claims.ID, refreshID, accessID)
	switch {
	case err == nil:
	case errors.Is(err, sessionsvc.ErrUnauthorized):
		s.rejectRefresh(ctx, claims, audit.RejectionReason(err), err)
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	default:
		s.countTxFailure(err)
		return nil, err
	}
	s.metrics.Rotated()
	s.audit.LogEvent(ctx, &teldomain.SecurityEvent{Type: teldomain.EventRefresh, UserID: claims.Subject, DeviceID: claims.DeviceID})
	return pair, nil
}

// rejectRefresh records a rejected refresh and, for session rejections, runs the
// reuse response policy and carries out its action. claims is nil when the token did
// not verify; nothing is revoked then because its subject cannot be trusted.
func (s *AuthService) rejectRefresh(ctx context.Context, claims *security.Claims, reason string, sessionErr error) {
	s.metrics.RefreshRejected(reason)
	event := &teldomain.SecurityEvent{Type: teldomain.EventRefreshRejected, Reason: reason}
	if claims == nil {
		s.audit.LogEvent(ctx, event)
		return
	}
	event.UserID, event.DeviceID = claims.Subject, claims.DeviceID

	failure := policyengine.RefreshFailure{
		Reason:        reason,
		UserID:        claims.Subject,
		DeviceID:      claims.DeviceID,
		SecurityEvent: sessionsvc.IsSecurityEvent(sessionErr),
	}
	// On evaluation failure the evaluator still returns its fallback decision.
	decision, err := s.policy.EvaluateRefreshFailure(ctx, failure)
	if err != nil {
		event.Metadata = map[string]string{"policy_error": err.Error()}
	}
	event.Action = string(decision.Action)
	if decision.Action != policyengine.ActionNone && decision.Action != "" {
		s.metrics.PolicyAction(event.Action)
		if err := s.enforce(ctx, decision.Action, claims.Subject, claims.DeviceID); err != nil {
			if event.Metadata == nil {
				event.Metadata = map[string]string{}
			}
			event.Metadata["enforce_error"] = err.Error()
		}
	}
	s.audit.LogEvent(ctx, event)
}

// enforce carries out a defensive action. Cutoffs are bumped before sessions are
// deleted so access credentials stop working even if the deletion fails.
func (s *AuthService) enforce(ctx context.Context, action policyengine.Action, userID, deviceID string) error {
	switch action {
	case policyengine.ActionLogoutDevice:
		if err := s.revocations.BumpDeviceCutoff(ctx, userID, deviceID, time.Time{}); err != nil {
			return err
		}
		return s.sessions.LogoutDevice(ctx, deviceID, userID)
	case policyengine.ActionLogoutAll:
		if err := s.revocations.BumpUserCutoff(ctx, userID, time.Time{}); err != nil {
			return err
		}
		_, err := s.sessions.LogoutAllDevices(ctx, userID)
		return err
	default:
		return nil
	}
}

// Authenticate verifies an access credential and checks it against the revocation ledger.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*Identity, error) {
	if accessToken == "" {
		return nil, ErrUnauthorized
	}
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	revoked, err := s.revocations.IsRevoked(ctx, revocation.Token{
		ID:       claims.ID,
		UserID:   claims.Subject,
		DeviceID: claims.DeviceID,
		IssuedAt: claims.IssuedAtUnix(),
	})
	if err != nil {
		return nil, err
	}
	if revoked {
		s.metrics.AccessRevoked()
		s.audit.LogEvent(ctx, &teldomain.SecurityEvent{
			Type: teldomain.EventAccessRevoked, UserID: claims.Subject, DeviceID: claims.DeviceID, Reason: "revoked",
		})
		return nil, ErrUnauthorized
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return &Identity{
		UserID:    claims.Subject,
		DeviceID:  claims.DeviceID,
		AccessID:  claims.ID,
		IssuedAt:  claims.IssuedAtUnix(),
		ExpiresAt: exp,
	}, nil
}

// Logout ends the caller's session on its current device: the presented access
// credential is blacklisted for its remaining lifetime, the device cutoff is bumped,
// and the device's session keys are deleted.
func (s *AuthService) Logout(ctx context.Context, id *Identity) error {
	if id == nil {
		return ErrUnauthorized
	}
	if err := s.revocations.BlacklistCredential(ctx, id.AccessID, s.remaining(id)); err != nil {
		return err
	}
	if err := s.revocations.BumpDeviceCutoff(ctx, id.UserID, id.DeviceID, time.Time{}); err != nil {
		return err
	}
	if err := s.sessions.LogoutDevice(ctx, id.DeviceID, id.UserID); err != nil {
		s.countTxFailure(err)
		return err
	}
	s.metrics.Logout("device")
	s.audit.LogEvent(ctx, &teldomain.SecurityEvent{Type: teldomain.EventLogout, UserID: id.UserID, DeviceID: id.DeviceID})
	return nil
}

// LogoutAll ends every session of the caller and returns how many devices were logged out.
// The presented access credential is also blacklisted, since a cutoff in the same second
// as its issue time does not cover it.
func (s *AuthService) LogoutAll(ctx context.Context, id *Identity) (int, error) {
	if id == nil {
		return 0, ErrUnauthorized
	}
	if err := s.revocations.BumpUserCutoff(ctx, id.UserID, time.Time{}); err != nil {
		return 0, err
	}
	if err := s.revocations.BlacklistCredential(ctx, id.AccessID, s.remaining(id)); err != nil {
		return 0, err
	}
	n, err := s.sessions.LogoutAllDevices(ctx, id.UserID)
	if err != nil {
		s.countTxFailure(err)
		return 0, err
	}
	s.metrics.Logout("all")
	s.audit.LogEvent(ctx, &teldomain.SecurityEvent{
		Type: teldomain.EventLogoutAll, UserID: id.UserID, DeviceID: id.DeviceID,
		Metadata: map[string]string{"devices": fmt.Sprint(n)},
	})
	return n, nil
}

// Me returns the caller's subject and device, with profile fields when a user store is configured.
func (s *AuthService) Me(ctx context.Context, id *Identity) (*Profile, error) {
	if id == nil {
		return nil, ErrUnauthorized
	}
	p := &Profile{UserID: id.UserID, DeviceID: id.DeviceID}
	if s.users == nil {
		return p, nil
	}
	u, err := s.users.GetByID(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	if u != nil {
		p.Email, p.Name = u.Email, u.Name
	}
	return p, nil
}

// Events returns the caller's recent security events, newest first.
func (s *AuthService) Events(ctx context.Context, id *Identity, limit int) ([]*auditdomain.AuditLog, error) {
	if id == nil {
		return nil, ErrUnauthorized
	}
	if limit <= 0 {
		limit = defaultEventsLimit
	}
	return s.audit.Recent(ctx, id.UserID, min(limit, maxEventsLimit))
}

// AccessTTL and RefreshTTL expose the credential lifetimes for delivery.
func (s *AuthService) AccessTTL() time.Duration  { return s.tokens.AccessTTL() }
func (s *AuthService) RefreshTTL() time.Duration { return s.tokens.RefreshTTL() }

// issuePair signs a fresh access and refresh credential for the device. Signing has no
// side effects, so it runs before the session is written.
func (s *AuthService) issuePair(userID, deviceID string) (*TokenPair, string, string, error) {
	refreshID, accessID := security.NewID(), security.NewID()
	access, err := s.tokens.IssueAccess(userID, deviceID, accessID)
	if err != nil {
		return nil, "", "", err
	}
	refresh, err := s.tokens.IssueRefresh(userID, deviceID, refreshID)
	if err != nil {
		return nil, "", "", err
	}
	return &TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		UserID:           userID,
		DeviceID:         deviceID,
	}, refreshID, accessID, nil
}

func (s *AuthService) remaining(id *Identity) time.Duration {
	if id.ExpiresAt.IsZero() {
		return s.tokens.AccessTTL()
	}
	return id.ExpiresAt.Sub(s.now())
}

func (s *AuthService) countTxFailure(err error) {
	if kind := audit.TxFailureKind(err); kind != "" {
		s.metrics.TxFailure(kind)
	}
}

func validatePassword(password string) error {
	if n := utf8.RuneCountInString(password); n < passwordMin || n > passwordMax {
		return fmt.Errorf("%w: password must be %d to %d characters", ErrInvalidRequest, passwordMin, passwordMax)
	}
	return nil
}
