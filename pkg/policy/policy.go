// Package policy evaluates an optional rego policy against integration
// configs before they are written back to the platform.
package policy

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/open-policy-agent/opa/rego"
)

// Query is the entrypoint every config policy defines. It must evaluate to
// an object: {"allow": bool, "reasons": [string]}.
const Query = "data.integration.decide"

// RejectedError lists why a config was refused.
type RejectedError struct {
	Tenant  string
	Reasons []string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("config for tenant[%s] rejected by policy: %s", e.Tenant, strings.Join(e.Reasons, "; "))
}

type ConfigPolicy struct {
	query rego.PreparedEvalQuery
}

// Compile prepares module for evaluation. Syntax and type errors surface
// here rather than on the request path.
func Compile(ctx context.Context, name, module string) (*ConfigPolicy, error) {
	pq, err := rego.New(
		rego.Query(Query),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return &ConfigPolicy{query: pq}, nil
}

func LoadFile(ctx context.Context, path string) (*ConfigPolicy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Compile(ctx, path, string(b))
}

// CheckConfig returns a *RejectedError when the policy refuses config. An
// undefined decision is a refusal.
func (p *ConfigPolicy) CheckConfig(ctx context.Context, tenant string, config map[string]any) error {
	rs, err := p.query.Eval(ctx, rego.EvalInput(map[string]any{"tenant": tenant, "config": config}))
	if err != nil {
		return fmt.Errorf("evaluate config policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return &RejectedError{Tenant: tenant, Reasons: []string{"policy_error"}}
	}
	out, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return &RejectedError{Tenant: tenant, Reasons: []string{"policy_error"}}
	}
	if allow, _ := out["allow"].(bool); allow {
		return nil
	}
	rej := &RejectedError{Tenant: tenant}
	if list, ok := out["reasons"].([]any); ok {
		for _, r := range list {
			rej.Reasons = append(rej.Reasons, fmt.Sprint(r))
		}
	}
	if len(rej.Reasons) == 0 {
		rej.Reasons = []string{"denied"}
	}
	return rej
}
