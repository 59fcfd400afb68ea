package primitive

import (
	"context"
	"encoding/json"

	"github.com/tachikoma-dev/tachikoma/pkg/terrors"
)

// ToolDefinition is what the LLM sees for one primitive.
type ToolDefinition struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	ParametersSchema string `json:"input_schema"`
}

// ExecContext is scoped to one primitive call and released when Execute
// returns.
type ExecContext struct {
	OperationID      string
	PrimitiveName    string
	WorkingDir       string
	EnvOverrides     map[string]string
	ApprovalCallback func(name string, rawInput json.RawMessage) bool // nil = default-allow
	RateLimitKey     string
}

func (c *ExecContext) isApproved(rawInput json.RawMessage) bool {
	if c.ApprovalCallback == nil {
		return true
	}
	return c.ApprovalCallback(c.PrimitiveName, rawInput)
}

// Primitive is one callable tool. Input/Output are validated at the JSON
// boundary; internal dispatch is statically typed.
type Primitive interface {
	Name() string
	Description() string
	InputSchema() string
	Execute(ctx context.Context, ec *ExecContext, rawInput json.RawMessage) (any, error)
}

// AuditRecorder receives one audit-worthy fact per executed call; kept as
// a narrow function type rather than importing pkg/audit directly, so this
// package has no dependency on the storage layer (the loop engine wires
// the two together).
type AuditRecorder func(primitiveName string, success bool, detail string)

// Registry stores primitives keyed by name and composes approval, rate
// limiting, and output capping in front of each call to Execute.
type Registry struct {
	primitives   map[string]Primitive
	rateLimiter  *RateLimiter
	maxOutput    int
	recordAudit  AuditRecorder
}

func NewRegistry(rl *RateLimiter, maxOutputBytes int, recorder AuditRecorder) *Registry {
	if recorder == nil {
		recorder = func(string, bool, string) {}
	}
	return &Registry{primitives: map[string]Primitive{}, rateLimiter: rl, maxOutput: maxOutputBytes, recordAudit: recorder}
}

func (r *Registry) Register(p Primitive) {
	r.primitives[p.Name()] = p
}

// ToolCatalog exposes every registered primitive's name/description/schema.
func (r *Registry) ToolCatalog() []ToolDefinition {
	out := make([]ToolDefinition, 0, len(r.primitives))
	for _, p := range r.primitives {
		out = append(out, ToolDefinition{Name: p.Name(), Description: p.Description(), ParametersSchema: p.InputSchema()})
	}
	return out
}

// Result is the JSON-shaped outcome of ExecuteByName, before being wrapped
// into a provider-facing ToolResult message.
type Result struct {
	Output    json.RawMessage
	Truncated bool
}

// ExecuteByName runs the approve → rate-limit → execute → cap → audit
// pipeline for one named primitive call.
func (r *Registry) ExecuteByName(ctx context.Context, name string, ec *ExecContext, rawInput json.RawMessage) (*Result, error) {
	p, ok := r.primitives[name]
	if !ok {
		err := terrors.New(terrors.KindNotFound, "unknown primitive: "+name)
		r.recordAudit(name, false, err.Error())
		return nil, err
	}

	if !ec.isApproved(rawInput) {
		err := terrors.New(terrors.KindStateConflict, "primitive call was not approved")
		r.recordAudit(name, false, err.Error())
		return nil, err
	}

	if r.rateLimiter != nil {
		key := ec.RateLimitKey
		if key == "" {
			key = name
		}
		if ok, retryAfter := r.rateLimiter.TryAcquire(key); !ok {
			err := terrors.New(terrors.KindRateLimited, "rate limit exceeded for "+name).WithRetryAfter(retryAfter.Seconds())
			r.recordAudit(name, false, err.Error())
			return nil, err
		}
	}

	out, err := p.Execute(ctx, ec, rawInput)
	if err != nil {
		r.recordAudit(name, false, err.Error())
		return nil, err
	}

	encoded, jerr := json.Marshal(out)
	if jerr != nil {
		err := terrors.Wrap(terrors.KindInternal, "marshal primitive output", jerr)
		r.recordAudit(name, false, err.Error())
		return nil, err
	}

	truncated := false
	if r.maxOutput > 0 && len(encoded) > r.maxOutput {
		encoded = encoded[:r.maxOutput]
		truncated = true
	}

	r.recordAudit(name, true, "")
	return &Result{Output: encoded, Truncated: truncated}, nil
}
