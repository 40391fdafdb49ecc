package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harun/zombiecoder/internal/daemon"
	"github.com/spf13/cobra"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print metrics in the Prometheus text format",
	Long: `Print metrics in the Prometheus text format. When a metrics address is
configured the running daemon is scraped, otherwise the metrics of a fresh
in-process engine are printed.`,
	RunE: runMetrics,
}

var metricsReset bool

func init() {
	metricsCmd.Flags().BoolVar(&metricsReset, "reset", false, "zero the counters instead of printing them")
	rootCmd.AddCommand(metricsCmd)
}

func runMetrics(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if metricsReset {
		return resetMetrics(cmd, cfg.Metrics.Addr)
	}

	if cfg.Metrics.Addr != "" {
		if err := scrapeMetrics(cmd.Context(), cfg.Metrics.Addr, cmd.OutOrStdout()); err == nil {
			return nil
		}
	}

	d, cleanup, err := openDaemon(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	return d.Metrics().WriteText(cmd.OutOrStdout())
}

func resetMetrics(cmd *cobra.Command, addr string) error {
	if addr != "" {
		if err := postAdmin(cmd.Context(), addr, daemon.ResetMetricsPath, nil); err == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Metrics reset.")
			return nil
		}
	}

	d, cleanup, err := openDaemon(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	d.ResetMetrics()
	fmt.Fprintln(cmd.OutOrStdout(), "Metrics reset.")
	return nil
}

// postAdmin calls an operator endpoint of the running daemon.
func postAdmin(ctx context.Context, addr, path string, query url.Values) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	target := "http://" + addr + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

func scrapeMetrics(ctx context.Context, addr string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/metrics", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metrics endpoint returned %s", resp.Status)
	}
	_, err = io.Copy(out, resp.Body)
	return err
}
