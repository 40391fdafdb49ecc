package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/harun/zombiecoder/pkg/agent"
	"github.com/harun/zombiecoder/pkg/errs"
	"github.com/spf13/cobra"
)

var (
	askAgent   string
	askSession string
	askNoTools bool
	askVerbose bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask an agent a single question",
	Long: `Run one conversational turn against an agent and print the reply.
Pass --session to continue an earlier conversation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askAgent, "agent", "a", agent.CodingAgentID, "agent to talk to")
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "session id to continue")
	askCmd.Flags().BoolVar(&askNoTools, "no-tools", false, "disable tool use for this turn")
	askCmd.Flags().BoolVarP(&askVerbose, "verbose", "v", false, "print turn details")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	d, cleanup, err := openDaemon(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := d.Ask(cmd.Context(), agent.Request{
		SessionID:    askSession,
		AgentID:      askAgent,
		InputText:    strings.Join(args, " "),
		ToolsEnabled: !askNoTools,
	})
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), errs.UserMessage(err))
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, result.ResponseText)
	if askVerbose {
		printTurn(out, result)
	}
	return nil
}

func printTurn(out io.Writer, result *agent.TurnResult) {
	fmt.Fprintf(out, "\n[agent=%s provider=%s session=%s cached=%t retrieval=%t iterations=%d duration=%s]\n",
		result.AgentName, result.ProviderID, result.SessionID, result.Cached,
		result.RetrievalUsed, result.Iterations, result.Duration.Round(time.Millisecond))
	if len(result.ToolsUsed) > 0 {
		fmt.Fprintf(out, "[tools=%s]\n", strings.Join(result.ToolsUsed, ","))
	}
	fmt.Fprintf(out, "[fingerprint=%s]\n", result.Fingerprint)
}
