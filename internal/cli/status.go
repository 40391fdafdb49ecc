package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/harun/zombiecoder/internal/daemon"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Show the current status of the ZombieCoder daemon service together with
the configured providers, agents, tools, sessions and knowledge index.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	lm := daemon.NewLifecycleManager(cfg.DataDir, zerolog.Nop())
	running := lm.IsRunning()

	d, cleanup, err := openDaemon(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	status := d.Status(cmd.Context())
	status.Running = running
	status.PID = 0
	if running {
		status.PID, _ = lm.GetPID()
		if info, err := os.Stat(lm.PIDFile()); err == nil {
			status.StartTime = info.ModTime()
			status.Uptime = time.Since(info.ModTime())
		}
	}

	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	printStatus(out, status)
	return nil
}

func printStatus(out io.Writer, status daemon.Status) {
	if status.Running {
		fmt.Fprintf(out, "Status: running\n")
		fmt.Fprintf(out, "PID: %d\n", status.PID)
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(status.Uptime))
	} else {
		fmt.Fprintln(out, "Status: stopped")
	}

	fmt.Fprintln(out, "\nProviders:")
	for _, p := range status.Providers {
		line := fmt.Sprintf("  %-12s %s", p.ID, p.State)
		if p.LastError != "" {
			line += " (" + p.LastError + ")"
		}
		fmt.Fprintln(out, line)
	}

	fmt.Fprintf(out, "\nAgents: %s\n", strings.Join(status.Agents, ", "))
	fmt.Fprintf(out, "Tools: %s\n", strings.Join(status.Tools, ", "))
	fmt.Fprintf(out, "Sessions: %d\n", status.Sessions)
	if status.Retrieval {
		fmt.Fprintf(out, "Knowledge index: %d chunks\n", status.Indexed)
	} else {
		fmt.Fprintln(out, "Knowledge index: disabled")
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
