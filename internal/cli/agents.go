package cli

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/harun/zombiecoder/internal/config"
	"github.com/harun/zombiecoder/internal/daemon"
	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect the agent catalogue",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured agents",
	RunE:  runAgentsList,
}

var agentsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the agent catalogue as YAML",
	Long: `Export the agent catalogue as YAML. The output can be edited and
loaded back through the agents_file configuration key.`,
	RunE: runAgentsExport,
}

var agentsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <agent>",
	Short: "Stop an agent from accepting turns",
	Long: `Stop an agent from accepting turns. Its sessions are kept and it can be
brought back with "agents activate". The state is stored in the data
directory and survives restarts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAgentActive(cmd, args[0], false)
	},
}

var agentsActivateCmd = &cobra.Command{
	Use:   "activate <agent>",
	Short: "Let a deactivated agent accept turns again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAgentActive(cmd, args[0], true)
	},
}

func init() {
	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsExportCmd)
	agentsCmd.AddCommand(agentsDeactivateCmd)
	agentsCmd.AddCommand(agentsActivateCmd)
	rootCmd.AddCommand(agentsCmd)
}

func runAgentsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defs, err := cfg.AgentDefinitions()
	if err != nil {
		return err
	}

	inactive, err := daemon.InactiveAgents(cfg.DataDir)
	if err != nil {
		return err
	}
	off := make(map[string]bool, len(inactive))
	for _, id := range inactive {
		off[id] = true
	}

	out := cmd.OutOrStdout()
	for _, def := range defs {
		state := "active"
		if off[def.ID] {
			state = "inactive"
		}
		fmt.Fprintf(out, "%-14s %-16s %-8s providers=%s tools=%s\n",
			def.ID, def.DisplayName(), state,
			strings.Join(def.ProviderPreference, ","),
			strings.Join(def.AllowedTools, ","))
	}
	return nil
}

func setAgentActive(cmd *cobra.Command, id string, active bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	verb := "deactivated"
	if active {
		verb = "activated"
	}

	if cfg.Metrics.Addr != "" {
		query := url.Values{"agent_id": {id}, "active": {strconv.FormatBool(active)}}
		if err := postAdmin(cmd.Context(), cfg.Metrics.Addr, daemon.AgentActivePath, query); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Agent %s %s.\n", id, verb)
			return nil
		}
	}

	d, cleanup, err := openDaemon(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := d.SetAgentActive(id, active); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Agent %s %s.\n", id, verb)
	return nil
}

func runAgentsExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defs, err := cfg.AgentDefinitions()
	if err != nil {
		return err
	}
	return config.ExportAgents(cmd.OutOrStdout(), defs)
}
