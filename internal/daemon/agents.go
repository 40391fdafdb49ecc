package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/harun/zombiecoder/pkg/errs"
	"gopkg.in/yaml.v3"
)

const agentStateFile = "agents_state.yaml"

// agentState is the persisted activation state of the catalog.
type agentState struct {
	Inactive []string `yaml:"inactive"`
}

func agentStatePath(dataDir string) string {
	if dataDir == "" {
		return ""
	}
	return filepath.Join(dataDir, agentStateFile)
}

// InactiveAgents returns the agents recorded as deactivated under dataDir.
func InactiveAgents(dataDir string) ([]string, error) {
	path := agentStatePath(dataDir)
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read agent state: %w", err)
	}

	var state agentState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse agent state: %w", err)
	}
	return state.Inactive, nil
}

// loadAgentState deactivates the agents recorded as inactive. Ids that are
// no longer in the catalog are ignored.
func (d *Daemon) loadAgentState() error {
	inactive, err := InactiveAgents(d.config.DataDir)
	if err != nil {
		return err
	}
	for _, id := range inactive {
		if err := d.catalog.SetActive(id, false); err != nil {
			d.log.Warn().Str("agent_id", id).Msg("Ignoring activation state of unknown agent")
		}
	}
	return nil
}

func (d *Daemon) saveAgentState() error {
	path := agentStatePath(d.config.DataDir)
	if path == "" {
		return nil
	}
	data, err := yaml.Marshal(agentState{Inactive: d.catalog.Inactive()})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SetAgentActive deactivates or reactivates an agent. A deactivated agent
// rejects new turns; its sessions are kept. The state survives restarts.
func (d *Daemon) SetAgentActive(id string, active bool) error {
	const op = "daemon.set_agent_active"
	if _, ok := d.catalog.Get(id); !ok {
		return errs.New(errs.CodeAgentNotFound, op, "unknown agent %q", id).WithDetail("agent_id", id)
	}
	d.agentsMu.Lock()
	defer d.agentsMu.Unlock()
	if err := d.catalog.SetActive(id, active); err != nil {
		return err
	}
	if err := d.saveAgentState(); err != nil {
		return fmt.Errorf("failed to save agent state: %w", err)
	}
	d.log.Info().Str("agent_id", id).Bool("active", active).Msg("Agent activation changed")
	return nil
}
