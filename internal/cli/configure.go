package cli

import (
	"fmt"

	"github.com/harun/zombiecoder/internal/config"
	"github.com/spf13/cobra"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run interactive configuration wizard",
	Long: `Run an interactive configuration wizard to set up ZombieCoder.
The wizard will guide you through configuring providers, the response cache,
the tool workspace and logging.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	// Run wizard
	wizard := config.NewWizardWithIO(cmd.InOrStdin(), out)
	cfg, err := wizard.Run()
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	for _, warning := range config.NewValidator().ValidateConfig(cfg) {
		fmt.Fprintf(out, "Warning: %v\n", warning)
	}

	// Save configuration
	loader := config.NewLoader(cfgFile)
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(out, "\nConfiguration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintln(out, "\nYou can now start ZombieCoder with: zombiecoder start")

	return nil
}
