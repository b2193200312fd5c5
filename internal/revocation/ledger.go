// Package revocation keeps the access-credential revocation markers: a per-credential
// blacklist flag and "revoked before" cutoffs per user and per device.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidParameters is returned when a required identifier is missing.
var ErrInvalidParameters = errors.New("revocation: invalid parameters")

// Token is the part of a verified access credential the ledger needs.
type Token struct {
	ID       string
	UserID   string
	DeviceID string
	IssuedAt int64 // unix seconds
}

// BlacklistKey is the per-credential flag key.
func BlacklistKey(accessID string) string { return "at:blacklist:" + accessID }

// UserCutoffKey holds the user-wide revoked-before instant in unix seconds.
func UserCutoffKey(userID string) string { return "user:" + userID + ":at:revokedBefore" }

// DeviceCutoffKey holds the device revoked-before instant in unix seconds.
func DeviceCutoffKey(userID, deviceID string) string {
	return "user:" + userID + ":device:" + deviceID + ":at:revokedBefore"
}

// Ledger reads and writes revocation markers on the shared store.
type Ledger struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewLedger returns a Ledger on client.
func NewLedger(client redis.UniversalClient) *Ledger {
	return &Ledger{client: client, now: time.Now}
}

// IsRevoked reports whether t is blacklisted or was issued before the user or device
// cutoff. The three markers are read with a single MGET. A malformed cutoff value is
// treated as absent.
func (l *Ledger) IsRevoked(ctx context.Context, t Token) (bool, error) {
	if t.ID == "" || t.UserID == "" {
		return false, ErrInvalidParameters
	}
	vals, err := l.client.MGet(ctx,
		BlacklistKey(t.ID),
		UserCutoffKey(t.UserID),
		DeviceCutoffKey(t.UserID, t.DeviceID),
	).Result()
	if err != nil {
		return false, fmt.Errorf("revocation: read markers: %w", err)
	}
	if vals[0] != nil {
		return true, nil
	}
	if t.IssuedAt < cutoff(vals[1]) {
		return true, nil
	}
	if t.DeviceID != "" && t.IssuedAt < cutoff(vals[2]) {
		return true, nil
	}
	return false, nil
}

// BlacklistCredential flags accessID for remaining, rounded up to whole seconds and
// never less than one second, so the flag always expires.
func (l *Ledger) BlacklistCredential(ctx context.Context, accessID string, remaining time.Duration) error {
	if accessID == "" {
		return ErrInvalidParameters
	}
	ttl := remaining.Truncate(time.Second)
	if ttl < remaining {
		ttl += time.Second
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := l.client.Set(ctx, BlacklistKey(accessID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revocation: blacklist: %w", err)
	}
	return nil
}

// BumpUserCutoff revokes every access credential of userID issued before at. A zero at
// means now.
func (l *Ledger) BumpUserCutoff(ctx context.Context, userID string, at time.Time) error {
	if userID == "" {
		return ErrInvalidParameters
	}
	return l.setCutoff(ctx, UserCutoffKey(userID), at)
}

// BumpDeviceCutoff is BumpUserCutoff scoped to one device of userID.
func (l *Ledger) BumpDeviceCutoff(ctx context.Context, userID, deviceID string, at time.Time) error {
	if userID == "" || deviceID == "" {
		return ErrInvalidParameters
	}
	return l.setCutoff(ctx, DeviceCutoffKey(userID, deviceID), at)
}

func (l *Ledger) setCutoff(ctx context.Context, key string, at time.Time) error {
	if at.IsZero() {
		at = l.now()
	}
	if err := l.client.Set(ctx, key, strconv.FormatInt(at.Unix(), 10), 0).Err(); err != nil {
		return fmt.Errorf("revocation: set cutoff: %w", err)
	}
	return nil
}

func cutoff(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
