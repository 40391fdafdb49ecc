package agent

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Persona shapes how an agent talks.
type Persona struct {
	Tone           string `json:"tone" yaml:"tone"`
	Style          string `json:"style" yaml:"style"`
	ResponseLength string `json:"response_length,omitempty" yaml:"response_length,omitempty"`
	Greeting       string `json:"greeting,omitempty" yaml:"greeting,omitempty"`
	// Guidelines are appended to the system prompt, one per line.
	Guidelines []string `json:"guidelines,omitempty" yaml:"guidelines,omitempty"`
}

// Definition is a configured agent. Definitions are read-only once
// registered and shared by every session that uses them.
type Definition struct {
	ID                 string   `json:"id" yaml:"id"`
	Name               string   `json:"name" yaml:"name"`
	Description        string   `json:"description,omitempty" yaml:"description,omitempty"`
	Persona            Persona  `json:"persona" yaml:"persona"`
	AllowedTools       []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
	ProviderPreference []string `json:"provider_preference" yaml:"provider_preference"`
	MaxTokens          int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature        float64  `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	UseRetrieval       bool     `json:"use_retrieval,omitempty" yaml:"use_retrieval,omitempty"`
}

// Validate checks the definition.
func (d Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("agent id cannot be empty")
	}
	if len(d.ProviderPreference) == 0 {
		return fmt.Errorf("agent %s: provider preference cannot be empty", d.ID)
	}
	if d.Temperature < 0 || d.Temperature > 2 {
		return fmt.Errorf("agent %s: temperature must be between 0 and 2", d.ID)
	}
	if d.MaxTokens < 0 {
		return fmt.Errorf("agent %s: max tokens cannot be negative", d.ID)
	}
	seen := make(map[string]bool, len(d.ProviderPreference))
	for _, id := range d.ProviderPreference {
		if seen[id] {
			return fmt.Errorf("agent %s: provider %s listed twice", d.ID, id)
		}
		seen[id] = true
	}
	return nil
}

// DisplayName returns Name, or ID when no name is set.
func (d Definition) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

func (d Definition) clone() Definition {
	d.AllowedTools = append([]string(nil), d.AllowedTools...)
	d.ProviderPreference = append([]string(nil), d.ProviderPreference...)
	d.Persona.Guidelines = append([]string(nil), d.Persona.Guidelines...)
	return d
}

// Catalog holds agent definitions keyed by id.
type Catalog struct {
	mu       sync.RWMutex
	defs     map[string]Definition
	inactive map[string]bool
}

// NewCatalog creates a catalog holding defs.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]Definition), inactive: make(map[string]bool)}
	for _, def := range defs {
		if err := c.Register(def); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds a definition.
func (c *Catalog) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.defs[def.ID]; exists {
		return fmt.Errorf("agent %s already registered", def.ID)
	}
	c.defs[def.ID] = def.clone()
	return nil
}

// Get returns a copy of the definition for id.
func (c *Catalog) Get(id string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[id]
	if !ok {
		return Definition{}, false
	}
	return def.clone(), true
}

// List returns every definition sorted by id.
func (c *Catalog) List() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	defs := make([]Definition, 0, len(c.defs))
	for _, def := range c.defs {
		defs = append(defs, def.clone())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// SetActive marks an agent as accepting turns or not. Inactive agents keep
// their definition and sessions.
func (c *Catalog) SetActive(id string, active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.defs[id]; !ok {
		return fmt.Errorf("agent %s is not registered", id)
	}
	if active {
		delete(c.inactive, id)
	} else {
		c.inactive[id] = true
	}
	return nil
}

// IsActive reports whether id is registered and accepting turns.
func (c *Catalog) IsActive(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.defs[id]
	return ok && !c.inactive[id]
}

// Inactive returns the ids of deactivated agents, sorted.
func (c *Catalog) Inactive() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.inactive))
	for id := range c.inactive {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Request is one inbound turn. SessionID may be empty, in which case a new
// session is started.
type Request struct {
	SessionID    string    `json:"session_id,omitempty"`
	AgentID      string    `json:"agent_id"`
	InputText    string    `json:"input_text"`
	ToolsEnabled bool      `json:"tools_enabled"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	ResponseText  string        `json:"response_text"`
	AgentName     string        `json:"agent_name"`
	SessionID     string        `json:"session_id"`
	ToolsUsed     []string      `json:"tools_used"`
	Cached        bool          `json:"cached"`
	ProviderID    string        `json:"provider_id"`
	RetrievalUsed bool          `json:"retrieval_used"`
	Iterations    int           `json:"iterations"`
	Duration      time.Duration `json:"duration"`
	// Fingerprint keys the cached final answer.
	Fingerprint string `json:"fingerprint"`
}

// state is a step of the turn loop.
type state int

const (
	statePrompting state = iota
	stateAwaitingToolResult
	stateFinalizing
)

func (s state) String() string {
	switch s {
	case statePrompting:
		return "prompting"
	case stateAwaitingToolResult:
		return "awaiting_tool_result"
	case stateFinalizing:
		return "finalizing"
	}
	return "unknown"
}
