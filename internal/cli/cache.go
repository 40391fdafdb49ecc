package cli

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/harun/zombiecoder/internal/daemon"
	"github.com/harun/zombiecoder/pkg/errs"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the response cache",
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate [fingerprint...]",
	Short: "Drop cached responses",
	Long: `Drop the cached responses for the given fingerprints. A fingerprint is
printed by "ask --verbose". When a metrics address is configured the running
daemon is asked to drop them; otherwise the configured cache store is used
directly, which only matters for a shared (redis) store.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCacheInvalidate,
}

func init() {
	cacheCmd.AddCommand(cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if cfg.Metrics.Addr != "" {
		var failed error
		for _, fp := range args {
			if err := postAdmin(cmd.Context(), cfg.Metrics.Addr, daemon.InvalidateCachePath, url.Values{"fingerprint": {fp}}); err != nil {
				failed = err
				break
			}
			fmt.Fprintf(out, "Invalidated %s\n", fp)
		}
		if failed == nil {
			return nil
		}
	}

	d, cleanup, err := openDaemon(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	var errList []error
	for _, fp := range args {
		if err := d.InvalidateCache(cmd.Context(), fp); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), errs.UserMessage(err))
			errList = append(errList, err)
			continue
		}
		fmt.Fprintf(out, "Invalidated %s\n", fp)
	}
	return errors.Join(errList...)
}
