package audit

import (
	"errors"

	"sessionguard/backend/internal/kv"
	"sessionguard/backend/internal/security"
	"sessionguard/backend/internal/session/service"
)

// Reasons recorded for refresh failures that happen before the session engine is consulted.
const (
	ReasonMissingToken = "missing_token"
	ReasonTokenExpired = "token_expired"
	ReasonInvalidToken = "invalid_token"
	ReasonConflict     = "tx_conflict"
	ReasonStoreError   = "store_error"
)

// RejectionReason maps a refresh or access failure to the reason recorded in logs,
// metrics and events. Session sub-reasons pass through unchanged.
func RejectionReason(err error) string {
	if err == nil {
		return ""
	}
	if r := service.ReasonOf(err); r != "" {
		return string(r)
	}
	switch {
	case errors.Is(err, security.ErrTokenExpired):
		return ReasonTokenExpired
	case errors.Is(err, security.ErrInvalidToken):
		return ReasonInvalidToken
	case errors.Is(err, kv.ErrConflictExhausted):
		return ReasonConflict
	case errors.Is(err, kv.ErrCommandFailed):
		return ReasonStoreError
	default:
		return "error"
	}
}

// TxFailureKind returns "conflict" or "command" for store transaction failures, else "".
func TxFailureKind(err error) string {
	switch {
	case errors.Is(err, kv.ErrConflictExhausted):
		return "conflict"
	case errors.Is(err, kv.ErrCommandFailed):
		return "command"
	default:
		return ""
	}
}
