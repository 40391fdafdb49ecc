package cli

import (
	"fmt"

	"github.com/harun/zombiecoder/internal/daemon"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ZombieCoder daemon service",
	Long: `Start the ZombieCoder daemon service in the foreground.
The daemon sweeps idle sessions, watches the knowledge directory and serves
metrics until it receives SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	lm := daemon.NewLifecycleManager(cfg.DataDir, zerolog.Nop())
	if lm.IsRunning() {
		return fmt.Errorf("daemon is already running (PID file: %s)", lm.PIDFile())
	}

	d, cleanup, err := openDaemon(cmd, true)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "ZombieCoder daemon started (PID file: %s)\n", lm.PIDFile())
	d.Wait()
	return nil
}
