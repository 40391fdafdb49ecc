package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/zombiecoder/pkg/agent"
	"github.com/harun/zombiecoder/pkg/commandqueue"
	"github.com/harun/zombiecoder/pkg/provider"
)

// Config represents the zombiecoder configuration
type Config struct {
	Agents     []AgentConfig    `json:"agents" mapstructure:"agents" yaml:"agents"`
	AgentsFile string           `json:"agents_file,omitempty" mapstructure:"agents_file" yaml:"agents_file,omitempty"`
	Providers  []ProviderConfig `json:"providers" mapstructure:"providers" yaml:"providers"`
	Router     RouterConfig     `json:"router" mapstructure:"router" yaml:"router"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache" yaml:"cache"`
	Tools      ToolsConfig      `json:"tools" mapstructure:"tools" yaml:"tools"`
	Retrieval  RetrievalConfig  `json:"retrieval" mapstructure:"retrieval" yaml:"retrieval"`
	Session    SessionConfig    `json:"session" mapstructure:"session" yaml:"session"`
	Executor   ExecutorConfig   `json:"executor" mapstructure:"executor" yaml:"executor"`
	Moderation ModerationConfig `json:"moderation" mapstructure:"moderation" yaml:"moderation"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `json:"metrics" mapstructure:"metrics" yaml:"metrics"`
	DataDir    string           `json:"data_dir" mapstructure:"data_dir" yaml:"data_dir"`
}

// AgentConfig declares one agent persona.
type AgentConfig struct {
	ID                 string        `json:"id" mapstructure:"id" yaml:"id"`
	Name               string        `json:"name" mapstructure:"name" yaml:"name"`
	Description        string        `json:"description" mapstructure:"description" yaml:"description"`
	Persona            PersonaConfig `json:"persona" mapstructure:"persona" yaml:"persona"`
	AllowedTools       []string      `json:"allowed_tools" mapstructure:"allowed_tools" yaml:"allowed_tools"`
	ProviderPreference []string      `json:"provider_preference" mapstructure:"provider_preference" yaml:"provider_preference"`
	MaxTokens          int           `json:"max_tokens" mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature        float64       `json:"temperature" mapstructure:"temperature" yaml:"temperature"`
	UseRetrieval       bool          `json:"use_retrieval" mapstructure:"use_retrieval" yaml:"use_retrieval"`
}

// PersonaConfig shapes an agent's system prompt.
type PersonaConfig struct {
	Tone           string   `json:"tone" mapstructure:"tone" yaml:"tone"`
	Style          string   `json:"style" mapstructure:"style" yaml:"style"`
	ResponseLength string   `json:"response_length" mapstructure:"response_length" yaml:"response_length"`
	Greeting       string   `json:"greeting" mapstructure:"greeting" yaml:"greeting"`
	Guidelines     []string `json:"guidelines" mapstructure:"guidelines" yaml:"guidelines"`
}

// ProviderConfig declares one model backend. APIKey and BaseURL accept
// ${ENV_VAR} references.
type ProviderConfig struct {
	ID             string        `json:"id" mapstructure:"id" yaml:"id"`
	Kind           string        `json:"kind" mapstructure:"kind" yaml:"kind"`
	Model          string        `json:"model" mapstructure:"model" yaml:"model"`
	APIKey         string        `json:"api_key,omitempty" mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL        string        `json:"base_url,omitempty" mapstructure:"base_url" yaml:"base_url,omitempty"`
	Region         string        `json:"region,omitempty" mapstructure:"region" yaml:"region,omitempty"`
	MaxTokens      int           `json:"max_tokens" mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout" yaml:"timeout"`
	Temperature    float64       `json:"temperature" mapstructure:"temperature" yaml:"temperature"`
	CapabilityTags []string      `json:"capability_tags,omitempty" mapstructure:"capability_tags" yaml:"capability_tags,omitempty"`
	Responses      []string      `json:"responses,omitempty" mapstructure:"responses" yaml:"responses,omitempty"`
}

// RouterConfig controls provider health tracking.
type RouterConfig struct {
	FailureThreshold int           `json:"failure_threshold" mapstructure:"failure_threshold" yaml:"failure_threshold"`
	Cooldown         time.Duration `json:"cooldown" mapstructure:"cooldown" yaml:"cooldown"`
}

// CacheConfig selects and tunes the response cache.
type CacheConfig struct {
	Backend      string        `json:"backend" mapstructure:"backend" yaml:"backend"` // memory or redis
	RedisURL     string        `json:"redis_url,omitempty" mapstructure:"redis_url" yaml:"redis_url,omitempty"`
	Capacity     int           `json:"capacity" mapstructure:"capacity" yaml:"capacity"`
	Prefix       string        `json:"prefix" mapstructure:"prefix" yaml:"prefix"`
	DefaultTTL   time.Duration `json:"default_ttl" mapstructure:"default_ttl" yaml:"default_ttl"`
	MaxTTL       time.Duration `json:"max_ttl" mapstructure:"max_ttl" yaml:"max_ttl"`
	LockTTL      time.Duration `json:"lock_ttl" mapstructure:"lock_ttl" yaml:"lock_ttl"`
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ToolsConfig controls the tool gateway and the builtin tools.
type ToolsConfig struct {
	Enabled            bool          `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	Timeout            time.Duration `json:"timeout" mapstructure:"timeout" yaml:"timeout"`
	MaxCallsPerSession int           `json:"max_calls_per_session" mapstructure:"max_calls_per_session" yaml:"max_calls_per_session"`
	MaxOutputBytes     int           `json:"max_output_bytes" mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
	WorkspaceDir       string        `json:"workspace_dir" mapstructure:"workspace_dir" yaml:"workspace_dir"`
	WritableDirs       []string      `json:"writable_dirs" mapstructure:"writable_dirs" yaml:"writable_dirs"`
	AllowedExtensions  []string      `json:"allowed_extensions" mapstructure:"allowed_extensions" yaml:"allowed_extensions"`
	AllowedCommands    []string      `json:"allowed_commands" mapstructure:"allowed_commands" yaml:"allowed_commands"`
	DeniedPaths        []string      `json:"denied_paths" mapstructure:"denied_paths" yaml:"denied_paths"`
	AuditFile          string        `json:"audit_file" mapstructure:"audit_file" yaml:"audit_file"`
	NotesFile          string        `json:"notes_file" mapstructure:"notes_file" yaml:"notes_file"`
}

// RetrievalConfig controls the knowledge index.
type RetrievalConfig struct {
	Enabled         bool          `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	DBPath          string        `json:"db_path" mapstructure:"db_path" yaml:"db_path"`
	KnowledgeDir    string        `json:"knowledge_dir" mapstructure:"knowledge_dir" yaml:"knowledge_dir"`
	Embedder        string        `json:"embedder" mapstructure:"embedder" yaml:"embedder"` // hash or openai
	EmbeddingModel  string        `json:"embedding_model,omitempty" mapstructure:"embedding_model" yaml:"embedding_model,omitempty"`
	APIKey          string        `json:"api_key,omitempty" mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL         string        `json:"base_url,omitempty" mapstructure:"base_url" yaml:"base_url,omitempty"`
	Dimension       int           `json:"dimension" mapstructure:"dimension" yaml:"dimension"`
	MinSimilarity   float64       `json:"min_similarity" mapstructure:"min_similarity" yaml:"min_similarity"`
	TopK            int           `json:"top_k" mapstructure:"top_k" yaml:"top_k"`
	MaxContextChars int           `json:"max_context_chars" mapstructure:"max_context_chars" yaml:"max_context_chars"`
	ChunkSize       int           `json:"chunk_size" mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap    int           `json:"chunk_overlap" mapstructure:"chunk_overlap" yaml:"chunk_overlap"`
	Extensions      []string      `json:"extensions" mapstructure:"extensions" yaml:"extensions"`
	Watch           bool          `json:"watch" mapstructure:"watch" yaml:"watch"`
	WatchDebounce   time.Duration `json:"watch_debounce" mapstructure:"watch_debounce" yaml:"watch_debounce"`
}

// SessionConfig controls conversation persistence.
type SessionConfig struct {
	Dir           string        `json:"dir" mapstructure:"dir" yaml:"dir"`
	TTL           time.Duration `json:"ttl" mapstructure:"ttl" yaml:"ttl"`
	Archive       bool          `json:"archive" mapstructure:"archive" yaml:"archive"`
	BusyPolicy    string        `json:"busy_policy" mapstructure:"busy_policy" yaml:"busy_policy"` // wait or reject
	HistoryTurns  int           `json:"history_turns" mapstructure:"history_turns" yaml:"history_turns"`
	SweepSchedule string        `json:"sweep_schedule" mapstructure:"sweep_schedule" yaml:"sweep_schedule"`
}

// ExecutorConfig bounds a single turn.
type ExecutorConfig struct {
	MaxToolIterations int           `json:"max_tool_iterations" mapstructure:"max_tool_iterations" yaml:"max_tool_iterations"`
	TurnTimeout       time.Duration `json:"turn_timeout" mapstructure:"turn_timeout" yaml:"turn_timeout"`
	CacheTTL          time.Duration `json:"cache_ttl" mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// ModerationConfig controls input screening.
type ModerationConfig struct {
	Enabled         bool     `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	MaxInputLength  int      `json:"max_input_length" mapstructure:"max_input_length" yaml:"max_input_length"`
	BlockedKeywords []string `json:"blocked_keywords" mapstructure:"blocked_keywords" yaml:"blocked_keywords"`
	RedactSensitive bool     `json:"redact_sensitive" mapstructure:"redact_sensitive" yaml:"redact_sensitive"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level" yaml:"level"`
	File      string `json:"file" mapstructure:"file" yaml:"file"`
	Console   bool   `json:"console" mapstructure:"console" yaml:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty" yaml:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction" yaml:"redaction"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size" yaml:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age" yaml:"max_age"`    // days
	Compress  bool   `json:"compress" mapstructure:"compress" yaml:"compress"`
}

// MetricsConfig controls the optional pull endpoint.
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr" yaml:"addr"` // empty disables the listener
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	preference := []string{"anthropic", "openai", "local"}
	defs := agent.DefaultDefinitions(preference...)
	agents := make([]AgentConfig, 0, len(defs))
	for _, d := range defs {
		agents = append(agents, agentConfigFrom(d))
	}

	return &Config{
		Agents: agents,
		Providers: []ProviderConfig{
			{
				ID:             "anthropic",
				Kind:           provider.KindAnthropic,
				Model:          "claude-3-5-sonnet-latest",
				APIKey:         "${ANTHROPIC_API_KEY}",
				MaxTokens:      4000,
				Timeout:        60 * time.Second,
				Temperature:    0.7,
				CapabilityTags: []string{"code", "reasoning"},
			},
			{
				ID:             "openai",
				Kind:           provider.KindOpenAI,
				Model:          "gpt-4o-mini",
				APIKey:         "${OPENAI_API_KEY}",
				MaxTokens:      4000,
				Timeout:        60 * time.Second,
				Temperature:    0.7,
				CapabilityTags: []string{"code"},
			},
			{
				ID:          "local",
				Kind:        provider.KindLocal,
				Model:       "llama3.1",
				BaseURL:     "http://localhost:11434/v1",
				MaxTokens:   2000,
				Timeout:     120 * time.Second,
				Temperature: 0.7,
			},
		},
		Router: RouterConfig{
			FailureThreshold: 3,
			Cooldown:         60 * time.Second,
		},
		Cache: CacheConfig{
			Backend:      "memory",
			Capacity:     1000,
			Prefix:       "zombiecoder",
			DefaultTTL:   time.Hour,
			MaxTTL:       24 * time.Hour,
			LockTTL:      60 * time.Second,
			PollInterval: 50 * time.Millisecond,
		},
		Tools: ToolsConfig{
			Enabled:            true,
			Timeout:            30 * time.Second,
			MaxCallsPerSession: 20,
			MaxOutputBytes:     10 * 1024,
			AllowedExtensions:  []string{".txt", ".md", ".go", ".py", ".js", ".ts", ".json", ".yaml", ".yml", ".html", ".css"},
			AllowedCommands:    []string{"ls", "pwd", "echo", "cat", "grep", "find", "wc", "head", "tail", "go", "git"},
			DeniedPaths:        []string{"/etc", "/sys", "/proc", "/root"},
		},
		Retrieval: RetrievalConfig{
			Enabled:         true,
			Embedder:        "hash",
			EmbeddingModel:  "text-embedding-3-small",
			APIKey:          "${OPENAI_API_KEY}",
			Dimension:       384,
			MinSimilarity:   0.7,
			TopK:            5,
			MaxContextChars: 4000,
			ChunkSize:       1000,
			ChunkOverlap:    200,
			Extensions:      []string{".md", ".txt"},
			Watch:           true,
			WatchDebounce:   500 * time.Millisecond,
		},
		Session: SessionConfig{
			TTL:           24 * time.Hour,
			BusyPolicy:    string(commandqueue.PolicyWait),
			HistoryTurns:  6,
			SweepSchedule: "@every 10m",
		},
		Executor: ExecutorConfig{
			MaxToolIterations: 5,
			TurnTimeout:       5 * time.Minute,
			CacheTTL:          time.Hour,
		},
		Moderation: ModerationConfig{
			Enabled:         true,
			MaxInputLength:  10000,
			RedactSensitive: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		p.APIKey = maskSecret(p.APIKey)
		masked.Providers[i] = p
	}
	masked.Retrieval.APIKey = maskSecret(c.Retrieval.APIKey)
	masked.Cache.RedisURL = maskSecret(c.Cache.RedisURL)

	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

func maskSecret(s string) string {
	if s == "" || isEnvReference(s) {
		return s
	}
	return "***"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	providers := c.EnabledProviders()
	if len(providers) == 0 {
		return fmt.Errorf("no usable provider configured (set ANTHROPIC_API_KEY, OPENAI_API_KEY or add a local provider)")
	}

	known := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider id is required")
		}
		if known[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		known[p.ID] = true
		if err := validateProviderKind(p.Kind); err != nil {
			return fmt.Errorf("provider %s: %w", p.ID, err)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("provider %s: timeout cannot be negative", p.ID)
		}
	}

	defs, err := c.AgentDefinitions()
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	for _, d := range defs {
		for _, id := range d.ProviderPreference {
			if !known[id] {
				return fmt.Errorf("agent %s: unknown provider %q in provider_preference", d.ID, id)
			}
		}
	}

	if c.Router.FailureThreshold < 1 {
		return fmt.Errorf("router failure_threshold must be at least 1")
	}
	if c.Router.Cooldown <= 0 {
		return fmt.Errorf("router cooldown must be positive")
	}

	switch c.Cache.Backend {
	case "memory":
		if c.Cache.Capacity < 0 {
			return fmt.Errorf("cache capacity cannot be negative")
		}
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid cache backend %q (must be memory or redis)", c.Cache.Backend)
	}

	if _, err := commandqueue.ParsePolicy(c.Session.BusyPolicy); err != nil {
		return fmt.Errorf("session busy_policy: %w", err)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}

	if c.Retrieval.Enabled {
		switch c.Retrieval.Embedder {
		case "hash", "openai":
		default:
			return fmt.Errorf("invalid retrieval embedder %q (must be hash or openai)", c.Retrieval.Embedder)
		}
		if c.Retrieval.Dimension <= 0 {
			return fmt.Errorf("retrieval dimension must be positive")
		}
		if c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
			return fmt.Errorf("retrieval chunk_overlap must be smaller than chunk_size")
		}
	}

	if c.Executor.MaxToolIterations < 0 {
		return fmt.Errorf("executor max_tool_iterations cannot be negative")
	}

	if err := NewValidator().ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}

	if c.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}

	return nil
}
