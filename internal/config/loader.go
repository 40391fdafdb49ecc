package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix         = "ZOMBIECODER"
	defaultDirName    = ".zombiecoder"
	defaultConfigName = "zombiecoder.json"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file. A missing file yields the
// defaults.
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.resolvePath()
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		v := newViper(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		resetLists(v, cfg)
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := ApplyPathDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.resolvePath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := newViper(configPath)
	v.Set("agents", cfg.Agents)
	v.Set("agents_file", cfg.AgentsFile)
	v.Set("providers", cfg.Providers)
	v.Set("router", cfg.Router)
	v.Set("cache", cfg.Cache)
	v.Set("tools", cfg.Tools)
	v.Set("retrieval", cfg.Retrieval)
	v.Set("session", cfg.Session)
	v.Set("executor", cfg.Executor)
	v.Set("moderation", cfg.Moderation)
	v.Set("logging", cfg.Logging)
	v.Set("metrics", cfg.Metrics)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	path, err := l.resolvePath()
	if err != nil {
		return ""
	}
	return path
}

func (l *Loader) resolvePath() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, defaultDirName, defaultConfigName), nil
}

// newViper reads JSON unless the file extension says YAML. Environment
// variables such as ZOMBIECODER_LOGGING_LEVEL override file values.
func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configPath)
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	default:
		v.SetConfigType("json")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// resetLists drops the default value of every list the file sets. The
// decoder merges slices element by element otherwise.
func resetLists(v *viper.Viper, cfg *Config) {
	if v.IsSet("agents") {
		cfg.Agents = nil
	}
	if v.IsSet("providers") {
		cfg.Providers = nil
	}
	lists := map[string]*[]string{
		"tools.writable_dirs":         &cfg.Tools.WritableDirs,
		"tools.allowed_extensions":    &cfg.Tools.AllowedExtensions,
		"tools.allowed_commands":      &cfg.Tools.AllowedCommands,
		"tools.denied_paths":          &cfg.Tools.DeniedPaths,
		"retrieval.extensions":        &cfg.Retrieval.Extensions,
		"moderation.blocked_keywords": &cfg.Moderation.BlockedKeywords,
	}
	for key, list := range lists {
		if v.IsSet(key) {
			*list = nil
		}
	}
}

// ApplyPathDefaults fills every path left empty with a location under the
// data directory.
func ApplyPathDefaults(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, defaultDirName)
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "zombiecoder.log")
	}
	if cfg.Session.Dir == "" {
		cfg.Session.Dir = filepath.Join(cfg.DataDir, "sessions")
	}
	if cfg.Tools.AuditFile == "" {
		cfg.Tools.AuditFile = filepath.Join(cfg.DataDir, "audit.jsonl")
	}
	if cfg.Tools.NotesFile == "" {
		cfg.Tools.NotesFile = filepath.Join(cfg.DataDir, "notes.db")
	}
	if cfg.Retrieval.DBPath == "" {
		cfg.Retrieval.DBPath = filepath.Join(cfg.DataDir, "knowledge.db")
	}
	if cfg.Retrieval.KnowledgeDir == "" {
		cfg.Retrieval.KnowledgeDir = filepath.Join(cfg.DataDir, "knowledge")
	}

	return nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
