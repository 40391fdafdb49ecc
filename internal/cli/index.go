package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index [dir]",
	Short: "Index documents into the knowledge base",
	Long: `Chunk, embed and store every matching document under dir in the
knowledge index. Without an argument the configured knowledge directory is
indexed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	d, cleanup, err := openDaemon(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	dir := d.Config().Retrieval.KnowledgeDir
	if len(args) == 1 {
		dir = args[0]
	}

	files, err := d.IndexDir(cmd.Context(), dir)
	if err != nil {
		return fmt.Errorf("indexing %s failed: %w", dir, err)
	}

	status := d.Status(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d files from %s (%d chunks in index)\n", files, dir, status.Indexed)
	return nil
}
