package cli

import (
	"fmt"

	"github.com/harun/zombiecoder/internal/config"
	"github.com/harun/zombiecoder/internal/daemon"
	"github.com/harun/zombiecoder/internal/logger"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zombiecoder",
	Short: "ZombieCoder - AI Agent Orchestration Engine",
	Long: `ZombieCoder is a local AI agent orchestration engine.
It routes conversations to persona agents, fails over between model
providers, executes sandboxed tools and grounds answers in an indexed
knowledge base.`,
	Version:      version,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.zombiecoder/zombiecoder.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the configuration and applies the --log-level override.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// openDaemon builds an in-process daemon. Console logging is kept only for
// long running commands so that replies are not interleaved with log lines.
func openDaemon(cmd *cobra.Command, console bool) (*daemon.Daemon, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	cfg.Logging.Console = cfg.Logging.Console && console

	log, err := logger.New(cfg.LoggerSettings())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	d, err := daemon.New(cfg, log)
	if err != nil {
		log.Close()
		return nil, nil, err
	}

	cleanup := func() {
		d.Close()
		log.Close()
	}
	return d, cleanup, nil
}
