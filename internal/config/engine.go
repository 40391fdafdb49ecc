package config

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/harun/zombiecoder/internal/logger"
	"github.com/harun/zombiecoder/pkg/agent"
	"github.com/harun/zombiecoder/pkg/cache"
	"github.com/harun/zombiecoder/pkg/commandqueue"
	"github.com/harun/zombiecoder/pkg/moderation"
	"github.com/harun/zombiecoder/pkg/provider"
	"github.com/harun/zombiecoder/pkg/retrieval"
	"github.com/harun/zombiecoder/pkg/router"
	"github.com/harun/zombiecoder/pkg/sandbox"
	"github.com/harun/zombiecoder/pkg/tools"
	"github.com/harun/zombiecoder/pkg/tools/builtin"
	"gopkg.in/yaml.v3"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${VAR} references with the environment value. Unset
// variables expand to the empty string.
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envRef.FindStringSubmatch(m)[1])
	})
}

func isEnvReference(s string) bool {
	return envRef.MatchString(s)
}

// needsKey reports whether a provider kind authenticates with an API key.
func needsKey(kind string) bool {
	return kind == provider.KindAnthropic || kind == provider.KindOpenAI
}

// EnabledProviders returns the providers that can be built. Hosted
// providers whose key resolves to nothing are skipped.
func (c *Config) EnabledProviders() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		if needsKey(p.Kind) && ExpandEnv(p.APIKey) == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// DisabledProviders returns the ids EnabledProviders skips.
func (c *Config) DisabledProviders() []string {
	enabled := make(map[string]bool)
	for _, p := range c.EnabledProviders() {
		enabled[p.ID] = true
	}
	var out []string
	for _, p := range c.Providers {
		if !enabled[p.ID] {
			out = append(out, p.ID)
		}
	}
	return out
}

// ProviderSpecs converts the enabled providers with references expanded.
func (c *Config) ProviderSpecs() []provider.Spec {
	enabled := c.EnabledProviders()
	specs := make([]provider.Spec, 0, len(enabled))
	for _, p := range enabled {
		specs = append(specs, provider.Spec{
			ID:             p.ID,
			Kind:           p.Kind,
			Model:          p.Model,
			APIKey:         ExpandEnv(p.APIKey),
			BaseURL:        ExpandEnv(p.BaseURL),
			Region:         p.Region,
			MaxTokens:      p.MaxTokens,
			Timeout:        p.Timeout,
			Temperature:    p.Temperature,
			CapabilityTags: p.CapabilityTags,
			Responses:      p.Responses,
		})
	}
	return specs
}

// AgentDefinitions returns the configured agents followed by those of the
// agents file, if any.
func (c *Config) AgentDefinitions() ([]agent.Definition, error) {
	defs := make([]agent.Definition, 0, len(c.Agents))
	for _, a := range c.Agents {
		defs = append(defs, a.Definition())
	}

	if c.AgentsFile != "" {
		fromFile, err := LoadAgentsFile(c.AgentsFile)
		if err != nil {
			return nil, err
		}
		defs = append(defs, fromFile...)
	}

	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("agent %s: %w", d.ID, err)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate agent id %q", d.ID)
		}
		seen[d.ID] = true
	}
	return defs, nil
}

// Definition converts the agent entry.
func (a AgentConfig) Definition() agent.Definition {
	return agent.Definition{
		ID:          a.ID,
		Name:        a.Name,
		Description: a.Description,
		Persona: agent.Persona{
			Tone:           a.Persona.Tone,
			Style:          a.Persona.Style,
			ResponseLength: a.Persona.ResponseLength,
			Greeting:       a.Persona.Greeting,
			Guidelines:     append([]string(nil), a.Persona.Guidelines...),
		},
		AllowedTools:       append([]string(nil), a.AllowedTools...),
		ProviderPreference: append([]string(nil), a.ProviderPreference...),
		MaxTokens:          a.MaxTokens,
		Temperature:        a.Temperature,
		UseRetrieval:       a.UseRetrieval,
	}
}

func agentConfigFrom(d agent.Definition) AgentConfig {
	return AgentConfig{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Persona: PersonaConfig{
			Tone:           d.Persona.Tone,
			Style:          d.Persona.Style,
			ResponseLength: d.Persona.ResponseLength,
			Greeting:       d.Persona.Greeting,
			Guidelines:     append([]string(nil), d.Persona.Guidelines...),
		},
		AllowedTools:       append([]string(nil), d.AllowedTools...),
		ProviderPreference: append([]string(nil), d.ProviderPreference...),
		MaxTokens:          d.MaxTokens,
		Temperature:        d.Temperature,
		UseRetrieval:       d.UseRetrieval,
	}
}

type agentCatalog struct {
	Agents []agent.Definition `yaml:"agents"`
}

// LoadAgentsFile reads an agent catalogue written by ExportAgents.
func LoadAgentsFile(path string) ([]agent.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents file: %w", err)
	}
	var catalog agentCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse agents file %s: %w", path, err)
	}
	return catalog.Agents, nil
}

// ExportAgents writes the agent catalogue as YAML.
func ExportAgents(w io.Writer, defs []agent.Definition) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(agentCatalog{Agents: defs}); err != nil {
		return fmt.Errorf("failed to encode agents: %w", err)
	}
	return enc.Close()
}

// HealthConfig returns the router health thresholds.
func (c *Config) HealthConfig() router.HealthConfig {
	return router.HealthConfig{
		FailureThreshold: c.Router.FailureThreshold,
		Cooldown:         c.Router.Cooldown,
	}
}

// CacheSettings returns the cache tuning.
func (c *Config) CacheSettings() cache.Config {
	return cache.Config{
		Prefix:       c.Cache.Prefix,
		DefaultTTL:   c.Cache.DefaultTTL,
		MaxTTL:       c.Cache.MaxTTL,
		LockTTL:      c.Cache.LockTTL,
		PollInterval: c.Cache.PollInterval,
	}
}

// RedisURL returns the cache redis URL with references expanded.
func (c *Config) RedisURL() string {
	return ExpandEnv(c.Cache.RedisURL)
}

// BusyPolicy returns the parsed session busy policy.
func (c *Config) BusyPolicy() (commandqueue.Policy, error) {
	return commandqueue.ParsePolicy(c.Session.BusyPolicy)
}

// GatewaySettings returns the tool gateway limits.
func (c *Config) GatewaySettings() tools.GatewayConfig {
	return tools.GatewayConfig{
		Timeout:          c.Tools.Timeout,
		MaxOutputBytes:   c.Tools.MaxOutputBytes,
		SessionCallLimit: c.Tools.MaxCallsPerSession,
	}
}

// SandboxSettings confines the terminal tool to the workspace.
func (c *Config) SandboxSettings() sandbox.Config {
	cfg := sandbox.DefaultConfig()
	if len(c.Tools.AllowedCommands) > 0 {
		cfg.AllowedCommands = append([]string(nil), c.Tools.AllowedCommands...)
	}
	if c.Tools.Timeout > 0 {
		cfg.ResourceLimits.Timeout = c.Tools.Timeout
	}
	if c.Tools.WorkspaceDir != "" {
		cfg.FilesystemAccess.AllowedPaths = []string{c.Tools.WorkspaceDir}
	}
	if len(c.Tools.DeniedPaths) > 0 {
		cfg.FilesystemAccess.DeniedPaths = append([]string(nil), c.Tools.DeniedPaths...)
	}
	return cfg
}

// BuiltinOptions returns the file tool limits. The caller attaches the
// sandbox and the retriever.
func (c *Config) BuiltinOptions() builtin.Options {
	return builtin.Options{
		WorkspaceRoot:     c.Tools.WorkspaceDir,
		WritableDirs:      append([]string(nil), c.Tools.WritableDirs...),
		AllowedExtensions: append([]string(nil), c.Tools.AllowedExtensions...),
	}
}

// RetrievalSettings returns the pipeline tuning.
func (c *Config) RetrievalSettings() retrieval.Config {
	cfg := retrieval.DefaultConfig()
	cfg.TopK = c.Retrieval.TopK
	cfg.MinSimilarity = c.Retrieval.MinSimilarity
	cfg.ChunkSize = c.Retrieval.ChunkSize
	cfg.ChunkOverlap = c.Retrieval.ChunkOverlap
	cfg.MaxContextChars = c.Retrieval.MaxContextChars
	if len(c.Retrieval.Extensions) > 0 {
		cfg.Extensions = append([]string(nil), c.Retrieval.Extensions...)
	}
	return cfg
}

// Embedder builds the configured embedder.
func (c *Config) Embedder() retrieval.Embedder {
	if strings.EqualFold(c.Retrieval.Embedder, "openai") {
		return retrieval.NewOpenAIEmbedder(
			ExpandEnv(c.Retrieval.APIKey),
			ExpandEnv(c.Retrieval.BaseURL),
			c.Retrieval.EmbeddingModel,
			c.Retrieval.Dimension,
		)
	}
	return retrieval.NewHashEmbedder(c.Retrieval.Dimension)
}

// ModerationSettings extends the default screening rules.
func (c *Config) ModerationSettings() moderation.Config {
	cfg := moderation.DefaultConfig()
	cfg.Enabled = c.Moderation.Enabled
	cfg.RedactSensitive = c.Moderation.RedactSensitive
	if c.Moderation.MaxInputLength > 0 {
		cfg.MaxInputLength = c.Moderation.MaxInputLength
	}
	cfg.BlockedKeywords = append(cfg.BlockedKeywords, c.Moderation.BlockedKeywords...)
	return cfg
}

// LoggerSettings returns the process logger configuration.
func (c *Config) LoggerSettings() logger.Config {
	return logger.Config{
		Level:     c.Logging.Level,
		File:      c.Logging.File,
		Console:   c.Logging.Console,
		Pretty:    c.Logging.Pretty,
		Redaction: c.Logging.Redaction,
		MaxSizeMB: c.Logging.MaxSize,
		MaxAge:    c.Logging.MaxAge,
		Compress:  c.Logging.Compress,
	}
}
