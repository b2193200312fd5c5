// Package domain holds the session data model kept in the key-value store: the
// per-device current-credential pointer, refresh credential records, and the sets
// that index them.
package domain

import (
	"errors"
	"strconv"
	"time"
)

// ErrInvalidRecord is returned when a stored refresh credential record cannot be decoded.
var ErrInvalidRecord = errors.New("invalid refresh credential record")

// Hash field names of a stored Record.
const (
	FieldUserID    = "userId"
	FieldDeviceID  = "deviceId"
	FieldAccessID  = "atJti"
	FieldRotated   = "rotated"
	FieldRotatedAt = "rotatedAt"
	FieldCreatedAt = "createdAt"
	FieldSchema    = "v"
	currentSchema  = "1"
	encodedTrue    = "1"
	encodedFalse   = "0"
)

// Record is the metadata of one issued refresh credential. Rotated flips false→true
// exactly once; nothing else changes after creation.
type Record struct {
	RefreshID string
	UserID    string
	DeviceID  string
	AccessID  string
	Rotated   bool
	RotatedAt *time.Time // nil until rotated
	CreatedAt time.Time
}

// Encode returns the hash fields for r. Times are unix milliseconds, booleans "1"/"0".
func (r *Record) Encode() map[string]any {
	rotatedAt := ""
	rotated := encodedFalse
	if r.Rotated {
		rotated = encodedTrue
	}
	if r.RotatedAt != nil {
		rotatedAt = strconv.FormatInt(r.RotatedAt.UnixMilli(), 10)
	}
	return map[string]any{
		FieldSchema:    currentSchema,
		FieldUserID:    r.UserID,
		FieldDeviceID:  r.DeviceID,
		FieldAccessID:  r.AccessID,
		FieldRotated:   rotated,
		FieldRotatedAt: rotatedAt,
		FieldCreatedAt: strconv.FormatInt(r.CreatedAt.UnixMilli(), 10),
	}
}

// RotationFields returns the fields written when a record is rotated at t.
func RotationFields(t time.Time) map[string]any {
	return map[string]any{
		FieldRotated:   encodedTrue,
		FieldRotatedAt: strconv.FormatInt(t.UnixMilli(), 10),
	}
}

// DecodeRecord validates and decodes hash fields read from the store. Missing or
// malformed fields yield ErrInvalidRecord; callers treat that as metadata missing.
func DecodeRecord(refreshID string, fields map[string]string) (*Record, error) {
	if len(fields) == 0 {
		return nil, ErrInvalidRecord
	}
	r := &Record{
		RefreshID: refreshID,
		UserID:    fields[FieldUserID],
		DeviceID:  fields[FieldDeviceID],
		AccessID:  fields[FieldAccessID],
	}
	if r.UserID == "" || r.DeviceID == "" {
		return nil, ErrInvalidRecord
	}
	rotated, err := decodeBool(fields[FieldRotated])
	if err != nil {
		return nil, err
	}
	r.Rotated = rotated
	created, err := decodeMillis(fields[FieldCreatedAt])
	if err != nil {
		return nil, err
	}
	r.CreatedAt = created
	if s := fields[FieldRotatedAt]; s != "" {
		at, err := decodeMillis(s)
		if err != nil {
			return nil, err
		}
		r.RotatedAt = &at
	}
	return r, nil
}

func decodeBool(s string) (bool, error) {
	switch s {
	case encodedTrue, "true":
		return true, nil
	case encodedFalse, "false":
		return false, nil
	default:
		return false, ErrInvalidRecord
	}
}

func decodeMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, ErrInvalidRecord
	}
	return time.UnixMilli(ms).UTC(), nil
}
