package config

import (
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/harun/zombiecoder/pkg/provider"
	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, kind string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", kind)
	}
	if isEnvReference(key) {
		return nil
	}

	switch kind {
	case provider.KindAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case provider.KindOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	return nil
}

// ValidateProviderKind validates a provider kind
func (v *Validator) ValidateProviderKind(kind string) error {
	return validateProviderKind(kind)
}

func validateProviderKind(kind string) error {
	valid := []string{provider.KindAnthropic, provider.KindOpenAI, provider.KindLocal, provider.KindBedrock, provider.KindStatic}
	for _, k := range valid {
		if kind == k {
			return nil
		}
	}
	return fmt.Errorf("invalid provider kind: %s (must be one of: %s)", kind, strings.Join(valid, ", "))
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateRedisURL validates a redis connection URL
func (v *Validator) ValidateRedisURL(url string) error {
	if url == "" || isEnvReference(url) {
		return nil
	}
	if _, err := redis.ParseURL(url); err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	return nil
}

// ValidateSchedule validates a cron schedule, descriptors such as
// "@every 10m" included.
func (v *Validator) ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, p := range cfg.Providers {
		if err := v.ValidateProviderKind(p.Kind); err != nil {
			errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.ID, err))
			continue
		}
		if p.Kind != provider.KindStatic {
			if err := v.ValidateModel(p.Model); err != nil {
				errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.ID, err))
			}
		}
		if p.Kind == provider.KindAnthropic || p.Kind == provider.KindOpenAI {
			if err := v.ValidateAPIKey(p.APIKey, p.Kind); err != nil {
				errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.ID, err))
			}
		}
		if p.MaxTokens != 0 {
			if err := v.ValidateMaxTokens(p.MaxTokens); err != nil {
				errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.ID, err))
			}
		}
	}

	for i, a := range cfg.Agents {
		if err := v.ValidateTemperature(a.Temperature); err != nil {
			errors = append(errors, fmt.Errorf("agent %d (%s): %w", i, a.ID, err))
		}
		if a.MaxTokens != 0 {
			if err := v.ValidateMaxTokens(a.MaxTokens); err != nil {
				errors = append(errors, fmt.Errorf("agent %d (%s): %w", i, a.ID, err))
			}
		}
		if len(a.ProviderPreference) == 0 {
			errors = append(errors, fmt.Errorf("agent %d (%s): provider_preference is empty", i, a.ID))
		}
	}

	if cfg.Cache.Backend == "redis" {
		if err := v.ValidateRedisURL(cfg.Cache.RedisURL); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidateSchedule(cfg.Session.SweepSchedule); err != nil {
		errors = append(errors, fmt.Errorf("session sweep_schedule: %w", err))
	}

	if cfg.Tools.MaxCallsPerSession < 0 {
		errors = append(errors, fmt.Errorf("tools.max_calls_per_session must be >= 0"))
	}
	if cfg.Tools.Timeout < 0 {
		errors = append(errors, fmt.Errorf("tools.timeout must be >= 0"))
	}

	if cfg.Retrieval.MinSimilarity < 0 || cfg.Retrieval.MinSimilarity > 1 {
		errors = append(errors, fmt.Errorf("retrieval.min_similarity must be between 0 and 1"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
