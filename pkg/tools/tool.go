package tools

import (
	"context"
	"sort"
	"time"
)

// Capability names a resource a tool is allowed to touch.
type Capability string

const (
	CapabilityCompute         Capability = "compute"
	CapabilityFilesystemRead  Capability = "fs:read"
	CapabilityFilesystemWrite Capability = "fs:write"
	CapabilityExec            Capability = "exec"
	CapabilityKnowledge       Capability = "knowledge"
	CapabilityNotes           Capability = "notes"
)

// Parameter defines a parameter for a tool
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Tool is a sandboxed capability an agent may invoke mid-turn.
type Tool interface {
	ID() string
	Description() string
	Parameters() []Parameter
	Capabilities() []Capability
	Run(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Func adapts a plain function to the Tool interface.
type Func struct {
	Name    string
	Desc    string
	Params  []Parameter
	Caps    []Capability
	Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

func (f *Func) ID() string { return f.Name }
func (f *Func) Description() string { return f.Desc }
func (f *Func) Parameters() []Parameter { return f.Params }
func (f *Func) Capabilities() []Capability { return f.Caps }

func (f *Func) Run(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return f.Handler(ctx, args)
}

// Call is a request to run one tool on behalf of a session.
type Call struct {
	ToolID    string
	Args      map[string]interface{}
	SessionID string
	AgentID   string
}

type callKey struct{}

// WithCall returns a context carrying the call a tool is running for.
func WithCall(ctx context.Context, call Call) context.Context {
	return context.WithValue(ctx, callKey{}, call)
}

// CallFromContext returns the call stored by WithCall.
func CallFromContext(ctx context.Context) (Call, bool) {
	call, ok := ctx.Value(callKey{}).(Call)
	return call, ok
}

// Result is the outcome of a successful invocation.
type Result struct {
	InvocationID string      `json:"invocation_id"`
	ToolID       string      `json:"tool_id"`
	Output       interface{} `json:"output"`
	Truncated    bool        `json:"truncated,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	CompletedAt  time.Time   `json:"completed_at"`
}

// Invocation is the audit record emitted for every call, successful or not.
type Invocation struct {
	ID          string                 `json:"id"`
	ToolID      string                 `json:"tool_id"`
	Args        map[string]interface{} `json:"args,omitempty"`
	SessionID   string                 `json:"session_id"`
	AgentID     string                 `json:"agent_id"`
	Outcome     string                 `json:"outcome"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
}

// AuditSink receives invocation records.
type AuditSink interface {
	RecordInvocation(ctx context.Context, inv Invocation)
}

// PermissionSet is the set of tool ids a turn may invoke.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from ids.
func NewPermissionSet(ids ...string) PermissionSet {
	ps := make(PermissionSet, len(ids))
	for _, id := range ids {
		ps[id] = struct{}{}
	}
	return ps
}

// Allows reports whether id is in the set. A nil set allows nothing.
func (ps PermissionSet) Allows(id string) bool {
	_, ok := ps[id]
	return ok
}

// IDs returns the ids in sorted order.
func (ps PermissionSet) IDs() []string {
	ids := make([]string, 0, len(ps))
	for id := range ps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
