package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/zombiecoder/pkg/agent"
	"github.com/harun/zombiecoder/pkg/errs"
	"github.com/harun/zombiecoder/pkg/session"
	"github.com/spf13/cobra"
)

var (
	chatAgent   string
	chatNoTools bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation with an agent",
	Long: `Start an interactive conversation with an agent.
Type /reset to start a new session and /exit to quit.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatAgent, "agent", "a", agent.VirtualSirID, "agent to talk to")
	chatCmd.Flags().BoolVar(&chatNoTools, "no-tools", false, "disable tool use")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	d, cleanup, err := openDaemon(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	def, ok := d.Catalog().Get(chatAgent)
	if !ok {
		return errs.New(errs.CodeAgentNotFound, "cli.chat", "unknown agent %q", chatAgent).WithDetail("agent_id", chatAgent)
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	if def.Persona.Greeting != "" {
		fmt.Fprintf(out, "%s: %s\n", def.DisplayName(), def.Persona.Greeting)
	}

	var sessionID string
	closeSession := func() {
		if sessionID == "" {
			return
		}
		if err := d.CloseSession(ctx, sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed to close session: %v\n", err)
		}
		sessionID = ""
	}
	defer closeSession()

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			closeSession()
			fmt.Fprintln(out, "Session reset.")
			continue
		}

		result, err := d.Ask(ctx, agent.Request{
			SessionID:    sessionID,
			AgentID:      chatAgent,
			InputText:    line,
			ToolsEnabled: !chatNoTools,
		})
		if err != nil {
			fmt.Fprintf(out, "%s: %s\n", def.DisplayName(), errs.UserMessage(err))
			continue
		}
		sessionID = result.SessionID
		fmt.Fprintf(out, "%s: %s\n", result.AgentName, result.ResponseText)
	}
}
