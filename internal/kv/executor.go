// Package kv wraps the shared Redis client: connection setup and an optimistic
// multi-key transaction executor (WATCH + MULTI/EXEC) with bounded, jittered retries.
package kv

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultMaxAttempts = 5
	defaultBackoffBase = 50 * time.Millisecond
	defaultBackoffCap  = 2 * time.Second
)

// Body stages the commands of one transaction attempt. Reads go through tx and observe
// the watched snapshot; writes are queued on pipe and only run at EXEC. A non-nil error
// aborts the attempt without committing. Store errors from reads are classified like
// command failures (transient ones retried, the rest wrapped in *CommandError); any other
// error, including redis.Nil, is returned to the caller unchanged.
type Body func(ctx context.Context, tx *redis.Tx, pipe redis.Pipeliner) error

// Options controls retry behaviour. Zero values fall back to defaults.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = defaultBackoffBase
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = defaultBackoffCap
	}
	if o.BackoffCap < o.BackoffBase {
		o.BackoffCap = o.BackoffBase
	}
	return o
}

// Executor runs optimistic transactions against a shared client. Safe for concurrent use.
type Executor struct {
	client redis.UniversalClient
	opts   Options
	jitter float64
	sleep  func(context.Context, time.Duration) error
}

// NewExecutor returns an Executor bound to client.
func NewExecutor(client redis.UniversalClient, opts Options) *Executor {
	return &Executor{
		client: client,
		opts:   opts.withDefaults(),
		jitter: defaultJitter,
		sleep:  sleepContext,
	}
}

// RunOptimistic watches watchKeys, lets body stage a batch, and commits it atomically.
// A commit aborted by a concurrent change to a watched key, or a transient store error,
// is retried with jittered exponential backoff up to MaxAttempts; exhaustion yields a
// *ConflictError. Any other command failure yields a *CommandError immediately. The
// watch is released on every return path (go-redis unwatches when the Tx closes).
func (e *Executor) RunOptimistic(ctx context.Context, watchKeys []string, body Body) ([]redis.Cmder, error) {
	keys := dedupeKeys(watchKeys)
	ctx, span := otel.Tracer("sessionguard/kv").Start(ctx, "kv.RunOptimistic")
	defer span.End()
	span.SetAttributes(attribute.Int("kv.watch_keys", len(keys)))

	delays := newBackOff(e.opts.BackoffBase, e.opts.BackoffCap, e.jitter)
	var lastTransient error
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		var cmds []redis.Cmder
		var bodyErr error
		err := e.client.Watch(ctx, func(tx *redis.Tx) error {
			var execErr error
			cmds, execErr = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if err := body(ctx, tx, pipe); err != nil {
					bodyErr = err
					return err
				}
				return nil
			})
			return execErr
		}, keys...)

		switch {
		case err == nil:
			span.SetAttributes(attribute.Int("kv.attempts", attempt))
			return cmds, nil
		case bodyErr != nil && !isStoreError(bodyErr):
			span.SetAttributes(attribute.Int("kv.attempts", attempt))
			return nil, bodyErr
		case errors.Is(err, redis.TxFailedErr):
			lastTransient = nil
		case ctx.Err() != nil:
			span.SetStatus(codes.Error, "context done")
			return nil, ctx.Err()
		case isTransient(err):
			lastTransient = err
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "command failed")
			return nil, &CommandError{Err: err}
		}

		if attempt == e.opts.MaxAttempts {
			break
		}
		if err := e.sleep(ctx, nextDelay(delays, e.opts.BackoffCap)); err != nil {
			return nil, err
		}
	}

	conflict := &ConflictError{Attempts: e.opts.MaxAttempts, Last: lastTransient}
	span.SetAttributes(attribute.Int("kv.attempts", e.opts.MaxAttempts))
	span.SetStatus(codes.Error, conflict.Error())
	return nil, conflict
}

func dedupeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// isStoreError reports whether err came from the store (a server reply or the connection)
// rather than from the body's own checks. redis.Nil is a normal read outcome, not a failure.
func isStoreError(err error) bool {
	if errors.Is(err, redis.Nil) {
		return false
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// isTransient reports network-level or server-busy failures worth another attempt.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"loading", "busy", "tryagain", "connection reset", "broken pipe", "i/o timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
