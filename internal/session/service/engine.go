// Package service implements the per-device session lifecycle on top of the shared
// key-value store: create, validate with reuse detection, rotate, and logout of one
// or all devices. Every multi-key mutation runs through kv.Executor.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"sessionguard/backend/internal/kv"
	"sessionguard/backend/internal/session/domain"
)

const (
	defaultReuseGraceMax   = 24 * time.Hour
	defaultLogoutBatchSize = 100
)

// Config holds the engine's immutable lifetimes. Validated once by NewEngine.
type Config struct {
	RefreshTTL time.Duration
	AccessTTL  time.Duration
	// ReuseGraceMax caps how long a rotated record is kept for reuse detection.
	ReuseGraceMax time.Duration
	// LogoutBatchSize bounds the devices read per round trip in LogoutAllDevices.
	LogoutBatchSize int
}

// Meta describes a session created or rotated by the engine.
type Meta struct {
	UserID      string
	DeviceID    string
	RefreshID   string
	AccessID    string
	RotatedFrom string // empty for a fresh login
	CreatedAt   time.Time
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
}

// Engine is the session lifecycle state machine. It holds no shared in-process state
// besides the injected client, so any number of instances may run side by side.
type Engine struct {
	client redis.UniversalClient
	tx     *kv.Executor
	cfg    Config
	now    func() time.Time
	tracer trace.Tracer
}

// NewEngine validates cfg and returns an Engine. client must be the same store tx runs on.
func NewEngine(client redis.UniversalClient, tx *kv.Executor, cfg Config) (*Engine, error) {
	if client == nil || tx == nil {
		return nil, errors.New("session: client and executor are required")
	}
	if cfg.RefreshTTL < time.Second {
		return nil, errors.New("session: refresh TTL must be at least 1s")
	}
	if cfg.AccessTTL < time.Second {
		return nil, errors.New("session: access TTL must be at least 1s")
	}
	if cfg.AccessTTL > cfg.RefreshTTL {
		return nil, errors.New("session: access TTL must not exceed refresh TTL")
	}
	if cfg.ReuseGraceMax <= 0 {
		cfg.ReuseGraceMax = defaultReuseGraceMax
	}
	if cfg.LogoutBatchSize <= 0 {
		cfg.LogoutBatchSize = defaultLogoutBatchSize
	}
	return &Engine{
		client: client,
		tx:     tx,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		tracer: otel.Tracer("sessionguard/session"),
	}, nil
}

// ReuseGrace is how long a rotated record stays readable: min(refresh TTL, ceiling).
func (e *Engine) ReuseGrace() time.Duration {
	return min(e.cfg.RefreshTTL, e.cfg.ReuseGraceMax)
}

// CreateSession starts a session on deviceID. Any previous session on the device,
// including all of its credential records, is removed in the same transaction, so
// exactly one session per device survives.
func (e *Engine) CreateSession(ctx context.Context, userID, deviceID, refreshID, accessID string) (*Meta, error) {
	if userID == "" || deviceID == "" || refreshID == "" || accessID == "" {
		return nil, ErrInvalidParameters
	}
	ctx, span := e.start(ctx, "session.CreateSession", userID, deviceID)
	defer span.End()

	currentKey := domain.CurrentKey(deviceID)
	setKey := domain.CredentialSetKey(deviceID)
	userDevicesKey := domain.UserDevicesKey(userID)
	now := e.now()
	rec := &domain.Record{
		RefreshID: refreshID,
		UserID:    userID,
		DeviceID:  deviceID,
		AccessID:  accessID,
		CreatedAt: now,
	}

	_, err := e.tx.RunOptimistic(ctx, []string{currentKey, setKey}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		oldIDs, err := tx.SMembers(ctx, setKey).Result()
		if err != nil {
			return err
		}
		oldKeys := domain.RecordKeys(deviceID, oldIDs)
		if len(oldKeys) > 0 {
			if err := tx.Watch(ctx, oldKeys...).Err(); err != nil {
				return err
			}
		}
		prevOwner, err := e.previousOwner(ctx, tx, deviceID)
		if err != nil {
			return err
		}

		pipe.Del(ctx, currentKey)
		if len(oldKeys) > 0 {
			pipe.Del(ctx, oldKeys...)
		}
		pipe.Del(ctx, setKey)
		if prevOwner != "" && prevOwner != userID {
			pipe.SRem(ctx, domain.UserDevicesKey(prevOwner), deviceID)
		}

		pipe.Set(ctx, currentKey, refreshID, e.cfg.RefreshTTL)
		recordKey := domain.RecordKey(deviceID, refreshID)
		pipe.HSet(ctx, recordKey, rec.Encode())
		pipe.Expire(ctx, recordKey, e.cfg.RefreshTTL)
		pipe.SAdd(ctx, userDevicesKey, deviceID)
		pipe.Expire(ctx, userDevicesKey, e.cfg.RefreshTTL)
		pipe.SAdd(ctx, setKey, refreshID)
		pipe.Expire(ctx, setKey, e.cfg.RefreshTTL)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return e.meta(rec, ""), nil
}

// previousOwner returns the user that owns the device's current session, if any.
func (e *Engine) previousOwner(ctx context.Context, tx *redis.Tx, deviceID string) (string, error) {
	current, err := tx.Get(ctx, domain.CurrentKey(deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	owner, err := tx.HGet(ctx, domain.RecordKey(deviceID, current), domain.FieldUserID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return owner, err
}

// ValidateSession checks that refreshID is the device's current, unrotated credential
// and belongs to userID. All state is read in one round trip. On success the record is
// returned so callers need not read it again.
func (e *Engine) ValidateSession(ctx context.Context, userID, deviceID, refreshID string) (*domain.Record, error) {
	if userID == "" || deviceID == "" || refreshID == "" {
		return nil, ErrInvalidParameters
	}
	ctx, span := e.start(ctx, "session.ValidateSession", userID, deviceID)
	defer span.End()

	var (
		linked  *redis.BoolCmd
		current *redis.StringCmd
		fields  *redis.MapStringStringCmd
	)
	cmds, _ := e.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		linked = p.SIsMember(ctx, domain.UserDevicesKey(userID), deviceID)
		current = p.Get(ctx, domain.CurrentKey(deviceID))
		fields = p.HGetAll(ctx, domain.RecordKey(deviceID, refreshID))
		return nil
	})
	if err := firstError(cmds); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: validate: %w", err)
	}
	rec, err := evaluate(userID, deviceID, refreshID, linked.Val(), current.Val(), fields.Val())
	if err != nil {
		span.SetAttributes(attribute.String("session.reject_reason", string(ReasonOf(err))))
		return nil, err
	}
	return rec, nil
}

// evaluate applies the validation rules in order. current is "" when no pointer exists.
// A presented id that is no longer current is reported as reuse while its rotated
// record is still retained, and as missing metadata once the record is gone.
func evaluate(userID, deviceID, refreshID string, linked bool, current string, fields map[string]string) (*domain.Record, error) {
	if !linked {
		return nil, unauthorized(ReasonDeviceNotLinked)
	}
	if current == "" {
		return nil, unauthorized(ReasonSessionNotFound)
	}
	rec, decodeErr := domain.DecodeRecord(refreshID, fields)
	if current != refreshID {
		if decodeErr != nil {
			return nil, unauthorized(ReasonMetadataMissing)
		}
		return nil, unauthorized(ReasonReuseDetected)
	}
	if decodeErr != nil {
		return nil, unauthorized(ReasonMetadataMissing)
	}
	if rec.UserID != userID || rec.DeviceID != deviceID {
		return nil, unauthorized(ReasonMismatch)
	}
	if rec.Rotated {
		return nil, unauthorized(ReasonAlreadyRotated)
	}
	return rec, nil
}

// RotateSession replaces oldRefreshID with newRefreshID on the device. The old record is
// flagged rotated and kept for ReuseGrace so a replay is reported as reuse rather than
// not-found. Of several concurrent rotations presenting the same old id exactly one
// wins; the others fail with already-rotated (or reuse-detected).
func (e *Engine) RotateSession(ctx context.Context, userID, deviceID, oldRefreshID, newRefreshID, newAccessID string) (*Meta, error) {
	if userID == "" || deviceID == "" || oldRefreshID == "" || newRefreshID == "" || newAccessID == "" {
		return nil, ErrInvalidParameters
	}
	if oldRefreshID == newRefreshID {
		return nil, ErrInvalidParameters
	}
	old, err := e.ValidateSession(ctx, userID, deviceID, oldRefreshID)
	if err != nil {
		return nil, err
	}

	ctx, span := e.start(ctx, "session.RotateSession", userID, deviceID)
	defer span.End()

	currentKey := domain.CurrentKey(deviceID)
	oldKey := domain.RecordKey(deviceID, oldRefreshID)
	newKey := domain.RecordKey(deviceID, newRefreshID)
	setKey := domain.CredentialSetKey(deviceID)
	userDevicesKey := domain.UserDevicesKey(userID)
	now := e.now()
	rec := &domain.Record{
		RefreshID: newRefreshID,
		UserID:    old.UserID,
		DeviceID:  old.DeviceID,
		AccessID:  newAccessID,
		CreatedAt: now,
	}
	grace := e.ReuseGrace()

	watch := []string{currentKey, oldKey, newKey, setKey, userDevicesKey}
	_, err = e.tx.RunOptimistic(ctx, watch, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		var (
			current   *redis.StringCmd
			fields    *redis.MapStringStringCmd
			oldTTL    *redis.DurationCmd
			newExists *redis.IntCmd
			members   *redis.StringSliceCmd
		)
		cmds, _ := tx.Pipelined(ctx, func(p redis.Pipeliner) error {
			current = p.Get(ctx, currentKey)
			fields = p.HGetAll(ctx, oldKey)
			oldTTL = p.TTL(ctx, oldKey)
			newExists = p.Exists(ctx, newKey)
			members = p.SMembers(ctx, setKey)
			return nil
		})
		if err := firstError(cmds); err != nil {
			return err
		}
		locked, decodeErr := domain.DecodeRecord(oldRefreshID, fields.Val())
		if decodeErr != nil {
			return unauthorized(ReasonMetadataMissing)
		}
		if locked.Rotated {
			return unauthorized(ReasonAlreadyRotated)
		}
		if current.Val() != oldRefreshID {
			return unauthorized(ReasonReuseDetected)
		}
		if newExists.Val() > 0 {
			return ErrInvalidParameters
		}
		stale, err := e.staleMembers(ctx, tx, deviceID, members.Val(), oldRefreshID)
		if err != nil {
			return err
		}

		oldExpiry := grace
		if ttl := oldTTL.Val(); ttl > 0 && ttl < oldExpiry {
			oldExpiry = ttl
		}
		pipe.HSet(ctx, oldKey, domain.RotationFields(now))
		pipe.Expire(ctx, oldKey, oldExpiry)

		pipe.Set(ctx, currentKey, newRefreshID, e.cfg.RefreshTTL)
		pipe.HSet(ctx, newKey, rec.Encode())
		pipe.Expire(ctx, newKey, e.cfg.RefreshTTL)
		if len(stale) > 0 {
			pipe.SRem(ctx, setKey, stale...)
		}
		pipe.SAdd(ctx, setKey, newRefreshID)
		pipe.Expire(ctx, setKey, e.cfg.RefreshTTL)
		pipe.SAdd(ctx, userDevicesKey, deviceID)
		pipe.Expire(ctx, userDevicesKey, e.cfg.RefreshTTL)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return e.meta(rec, oldRefreshID), nil
}

// staleMembers returns credential set members whose records already expired.
func (e *Engine) staleMembers(ctx context.Context, tx *redis.Tx, deviceID string, members []string, skip string) ([]any, error) {
	candidates := make([]string, 0, len(members))
	for _, m := range members {
		if m != skip {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	exists := make([]*redis.IntCmd, len(candidates))
	_, err := tx.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range candidates {
			exists[i] = p.Exists(ctx, domain.RecordKey(deviceID, id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var stale []any
	for i, cmd := range exists {
		if cmd.Val() == 0 {
			stale = append(stale, candidates[i])
		}
	}
	return stale, nil
}

// LogoutDevice removes the device's pointer, every credential record, the credential
// set, and the device's membership in the user's device set. A second call is a no-op.
func (e *Engine) LogoutDevice(ctx context.Context, deviceID, userID string) error {
	if deviceID == "" || userID == "" {
		return ErrInvalidParameters
	}
	ctx, span := e.start(ctx, "session.LogoutDevice", userID, deviceID)
	defer span.End()

	currentKey := domain.CurrentKey(deviceID)
	setKey := domain.CredentialSetKey(deviceID)
	userDevicesKey := domain.UserDevicesKey(userID)

	_, err := e.tx.RunOptimistic(ctx, []string{currentKey, userDevicesKey, setKey}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		ids, err := tx.SMembers(ctx, setKey).Result()
		if err != nil {
			return err
		}
		keys := domain.RecordKeys(deviceID, ids)
		if len(keys) > 0 {
			if err := tx.Watch(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		pipe.Del(ctx, append(keys, currentKey, setKey)...)
		pipe.SRem(ctx, userDevicesKey, deviceID)
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// LogoutAllDevices removes every session of userID and the user's device set. Device
// credential sets are fetched LogoutBatchSize devices per round trip; the deletion of
// the full key closure is one optimistic transaction. Returns the number of devices.
func (e *Engine) LogoutAllDevices(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidParameters
	}
	ctx, span := e.start(ctx, "session.LogoutAllDevices", userID, "")
	defer span.End()

	userDevicesKey := domain.UserDevicesKey(userID)
	var devices int
	_, err := e.tx.RunOptimistic(ctx, []string{userDevicesKey}, func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error {
		deviceIDs, err := tx.SMembers(ctx, userDevicesKey).Result()
		if err != nil {
			return err
		}
		devices = len(deviceIDs)
		keys := make([]string, 0, len(deviceIDs)*3+1)
		for start := 0; start < len(deviceIDs); start += e.cfg.LogoutBatchSize {
			batch := deviceIDs[start:min(start+e.cfg.LogoutBatchSize, len(deviceIDs))]
			batchKeys, err := e.deviceClosure(ctx, tx, batch)
			if err != nil {
				return err
			}
			keys = append(keys, batchKeys...)
		}
		keys = append(keys, userDevicesKey)
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("session.devices", devices))
	return devices, nil
}

// deviceClosure watches the credential sets of a batch of devices, reads them in one
// round trip, and returns every key belonging to those devices.
func (e *Engine) deviceClosure(ctx context.Context, tx *redis.Tx, deviceIDs []string) ([]string, error) {
	setKeys := make([]string, len(deviceIDs))
	for i, d := range deviceIDs {
		setKeys[i] = domain.CredentialSetKey(d)
	}
	if err := tx.Watch(ctx, setKeys...).Err(); err != nil {
		return nil, err
	}
	members := make([]*redis.StringSliceCmd, len(deviceIDs))
	_, err := tx.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range setKeys {
			members[i] = p.SMembers(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var keys []string
	for i, d := range deviceIDs {
		keys = append(keys, domain.CurrentKey(d), setKeys[i])
		keys = append(keys, domain.RecordKeys(d, members[i].Val())...)
	}
	return keys, nil
}

// GetSession returns the device's current record, or nil when the device has no
// active session or its record cannot be decoded.
func (e *Engine) GetSession(ctx context.Context, deviceID string) (*domain.Record, error) {
	if deviceID == "" {
		return nil, nil
	}
	current, err := e.client.Get(ctx, domain.CurrentKey(deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: get current: %w", err)
	}
	fields, err := e.client.HGetAll(ctx, domain.RecordKey(deviceID, current)).Result()
	if err != nil {
		return nil, fmt.Errorf("session: get record: %w", err)
	}
	rec, err := domain.DecodeRecord(current, fields)
	if err != nil {
		return nil, nil
	}
	return rec, nil
}

// IsDeviceLinked reports whether deviceID is in userID's device set.
func (e *Engine) IsDeviceLinked(ctx context.Context, userID, deviceID string) (bool, error) {
	if userID == "" || deviceID == "" {
		return false, nil
	}
	return e.client.SIsMember(ctx, domain.UserDevicesKey(userID), deviceID).Result()
}

// firstError returns the first command error other than redis.Nil.
func firstError(cmds []redis.Cmder) error {
	for _, c := range cmds {
		if err := c.Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
	}
	return nil
}

func (e *Engine) meta(rec *domain.Record, rotatedFrom string) *Meta {
	return &Meta{
		UserID:      rec.UserID,
		DeviceID:    rec.DeviceID,
		RefreshID:   rec.RefreshID,
		AccessID:    rec.AccessID,
		RotatedFrom: rotatedFrom,
		CreatedAt:   rec.CreatedAt,
		AccessTTL:   e.cfg.AccessTTL,
		RefreshTTL:  e.cfg.RefreshTTL,
	}
}

func (e *Engine) start(ctx context.Context, name, userID, deviceID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("session.user_id", userID)}
	if deviceID != "" {
		attrs = append(attrs, attribute.String("session.device_id", deviceID))
	}
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
