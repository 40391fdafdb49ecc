// Package agent drives one conversational turn for a configured agent.
//
// Invariants:
// - Turns are serialized per session through a commandqueue lane.
// - History is appended only when a turn completes; a failed or cancelled
//   turn leaves the session untouched.
// - The tool loop is bounded by MaxToolIterations.
// - Tool calls route through the tools gateway only.
//
// Usage:
//
//	exec, _ := agent.NewExecutor(agent.Config{...})
//	result, err := exec.RunTurn(ctx, agent.Request{
//		SessionID:    "s1",
//		AgentID:      "coding_agent",
//		InputText:    "sort a list",
//		ToolsEnabled: true,
//	})
//	if err != nil {
//		fmt.Println(errs.UserMessage(err))
//	}
//	_ = result
package agent
