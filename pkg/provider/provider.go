// Package provider adapts language-model backends to a single call shape:
// a prompt goes in, response text comes out.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Role of a prompt message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation sent to a model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolID names the tool whose output this is, for RoleTool messages.
	ToolID string `json:"tool_id,omitempty"`
}

// Prompt is a provider-ready prompt.
type Prompt struct {
	System   string    `json:"system"`
	Messages []Message `json:"messages"`
}

// Text renders the prompt as plain text, used for token estimates.
func (p Prompt) Text() string {
	var b strings.Builder
	b.WriteString(p.System)
	for _, m := range p.Messages {
		b.WriteString("\n")
		b.WriteString(m.Content)
	}
	return b.String()
}

// Request is a single adapter call.
type Request struct {
	Prompt      Prompt
	MaxTokens   int
	Timeout     time.Duration
	Temperature float64
}

// Adapter calls one model backend. Implementations make exactly one network
// call per Call and never retry on their own.
type Adapter interface {
	ID() string
	Call(ctx context.Context, req Request) (string, error)
}

// Descriptor is the static description of a configured provider.
type Descriptor struct {
	ID             string        `json:"id"`
	Kind           string        `json:"kind"`
	Model          string        `json:"model"`
	CapabilityTags []string      `json:"capability_tags,omitempty"`
	MaxTokens      int           `json:"max_tokens"`
	Timeout        time.Duration `json:"timeout"`
	Temperature    float64       `json:"temperature"`
}

// Registry holds the configured adapters keyed by provider id.
type Registry struct {
	mu          sync.RWMutex
	adapters    map[string]Adapter
	descriptors map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters:    make(map[string]Adapter),
		descriptors: make(map[string]Descriptor),
	}
}

// Register adds an adapter under desc.ID.
func (r *Registry) Register(desc Descriptor, adapter Adapter) error {
	if desc.ID == "" {
		return fmt.Errorf("provider id cannot be empty")
	}
	if adapter == nil {
		return fmt.Errorf("provider %s: adapter cannot be nil", desc.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[desc.ID]; exists {
		return fmt.Errorf("provider %s already registered", desc.ID)
	}
	r.adapters[desc.ID] = adapter
	r.descriptors[desc.ID] = desc
	return nil
}

// Get returns the adapter and descriptor for id.
func (r *Registry) Get(id string) (Adapter, Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, r.descriptors[id], ok
}

// IDs returns the registered provider ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EstimateTokens approximates the token count of text at four characters per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// toolResultText renders a tool message for backends without a tool role.
func toolResultText(m Message) string {
	return fmt.Sprintf("[TOOL_RESULT:%s]\n%s", m.ToolID, m.Content)
}
