package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/harun/zombiecoder/pkg/provider"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a new configuration wizard reading from stdin
func NewWizard() *Wizard {
	return NewWizardWithIO(os.Stdin, os.Stdout)
}

// NewWizardWithIO creates a wizard over the given streams
func NewWizardWithIO(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard. Keys left empty keep the
// ${ENV} reference of the default configuration.
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== ZombieCoder Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	fmt.Fprintln(w.out, "Providers (press Enter to keep the environment reference):")
	fmt.Fprintln(w.out)

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		switch p.Kind {
		case provider.KindAnthropic, provider.KindOpenAI:
			for {
				key, err := w.prompt(fmt.Sprintf("%s API Key [%s]: ", p.ID, p.APIKey))
				if err != nil {
					return nil, err
				}
				if key == "" {
					break
				}
				if err := validator.ValidateAPIKey(key, p.Kind); err != nil {
					fmt.Fprintf(w.out, "Error: %v\n", err)
					continue
				}
				p.APIKey = key
				break
			}
		case provider.KindLocal:
			url, err := w.prompt(fmt.Sprintf("%s base URL [%s]: ", p.ID, p.BaseURL))
			if err != nil {
				return nil, err
			}
			if url != "" {
				p.BaseURL = url
			}
			model, err := w.prompt(fmt.Sprintf("%s model [%s]: ", p.ID, p.Model))
			if err != nil {
				return nil, err
			}
			if model != "" {
				p.Model = model
			}
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Response cache:")

	backend, err := w.prompt("Cache backend (memory/redis) [memory]: ")
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(backend, "redis") {
		cfg.Cache.Backend = "redis"
		for {
			url, err := w.prompt("Redis URL [redis://localhost:6379/0]: ")
			if err != nil {
				return nil, err
			}
			if url == "" {
				url = "redis://localhost:6379/0"
			}
			if err := validator.ValidateRedisURL(url); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}
			cfg.Cache.RedisURL = url
			break
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Tools:")

	workspace, err := w.prompt("Workspace directory for file tools (empty disables them): ")
	if err != nil {
		return nil, err
	}
	cfg.Tools.WorkspaceDir = workspace

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Logging:")

	level, err := w.prompt("Log level (debug/info/warn/error) [info]: ")
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

func (w *Wizard) prompt(label string) (string, error) {
	fmt.Fprint(w.out, label)
	return w.readLine()
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
