package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const decisionQuery = "data.sessionguard.reuse.action"

// DefaultRegoPolicy logs out every device of the user when a superseded refresh
// credential is presented, and does nothing for other failures.
const DefaultRegoPolicy = `package sessionguard.reuse

default action := "none"

action := "logout_all" if {
	input.security_event
}
`

// OPAEvaluator evaluates the refresh failure policy with an in-process OPA Rego engine.
// The policy is compiled once at construction.
type OPAEvaluator struct {
	query  rego.PreparedEvalQuery
	logger *slog.Logger
}

// NewOPAEvaluator compiles policy (DefaultRegoPolicy when empty).
func NewOPAEvaluator(ctx context.Context, policy string, logger *slog.Logger) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultRegoPolicy
	}
	if logger == nil {
		logger = slog.Default()
	}
	compiler, err := ast.CompileModules(map[string]string{"reuse.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile reuse policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(decisionQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare reuse policy: %w", err)
	}
	return &OPAEvaluator{query: q, logger: logger}, nil
}

// NewOPAEvaluatorFromFile reads the policy from path; an empty path selects the default.
func NewOPAEvaluatorFromFile(ctx context.Context, path string, logger *slog.Logger) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "", logger)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reuse policy: %w", err)
	}
	return NewOPAEvaluator(ctx, string(b), logger)
}

// HealthCheck evaluates the compiled policy against a minimal input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.eval(ctx, RefreshFailure{Reason: "session_not_found"})
	return err
}

// EvaluateRefreshFailure returns the policy decision for f. If evaluation fails or the
// policy yields an unknown action, the built-in fallback is returned along with the error.
func (e *OPAEvaluator) EvaluateRefreshFailure(ctx context.Context, f RefreshFailure) (Decision, error) {
	d, err := e.eval(ctx, f)
	if err != nil {
		e.logger.ErrorContext(ctx, "reuse policy evaluation failed, using fallback", "reason", f.Reason, "error", err)
		return Fallback(f), err
	}
	return d, nil
}

func (e *OPAEvaluator) eval(ctx context.Context, f RefreshFailure) (Decision, error) {
	input := map[string]any{
		"reason":         f.Reason,
		"user_id":        f.UserID,
		"device_id":      f.DeviceID,
		"security_event": f.SecurityEvent,
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("eval reuse policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("reuse policy returned no result")
	}
	s, ok := rs[0].Expressions[0].Value.(string)
	if !ok {
		return Decision{}, fmt.Errorf("reuse policy action is %T, want string", rs[0].Expressions[0].Value)
	}
	switch a := Action(s); a {
	case ActionNone, ActionLogoutDevice, ActionLogoutAll:
		return Decision{Action: a}, nil
	default:
		return Decision{}, fmt.Errorf("reuse policy returned unknown action %q", s)
	}
}

// Fallback is the decision used when no policy result is available: the same as
// DefaultRegoPolicy.
func Fallback(f RefreshFailure) Decision {
	if f.SecurityEvent {
		return Decision{Action: ActionLogoutAll}
	}
	return Decision{Action: ActionNone}
}
