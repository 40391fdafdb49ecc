package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/zombiecoder/pkg/provider"
	"github.com/harun/zombiecoder/pkg/session"
	"github.com/harun/zombiecoder/pkg/tools"
)

// buildSystemPrompt renders the persona, the tools the turn may call and
// any retrieved context.
func buildSystemPrompt(def Definition, available []tools.Tool, retrieved string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, an AI assistant.\n", def.DisplayName())
	if def.Description != "" {
		fmt.Fprintf(&b, "%s.\n", strings.TrimSuffix(def.Description, "."))
	}

	if def.Persona.Tone != "" || def.Persona.Style != "" || def.Persona.ResponseLength != "" {
		b.WriteString("\nPersonality:\n")
	}
	if def.Persona.Tone != "" {
		fmt.Fprintf(&b, "- Tone: %s\n", def.Persona.Tone)
	}
	if def.Persona.Style != "" {
		fmt.Fprintf(&b, "- Communication style: %s\n", def.Persona.Style)
	}
	if def.Persona.ResponseLength != "" {
		fmt.Fprintf(&b, "- Response length: %s\n", def.Persona.ResponseLength)
	}

	if len(def.Persona.Guidelines) > 0 {
		b.WriteString("\nGuidelines:\n")
		for _, g := range def.Persona.Guidelines {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}

	if len(available) > 0 {
		b.WriteString("\nAvailable tools:\n")
		for _, t := range available {
			fmt.Fprintf(&b, "- %s: %s%s\n", t.ID(), t.Description(), describeParams(t.Parameters()))
		}
		b.WriteString("\nTo call a tool, reply with a line of the form\n")
		b.WriteString(`[TOOL:tool_name({"param": "value"})]`)
		b.WriteString("\nand nothing else. The tool result is sent back to you in the next message. ")
		b.WriteString("Answer normally, without a tool line, once you have what you need.\n")
	}

	if retrieved != "" {
		b.WriteString("\nRelevant information:\n")
		b.WriteString(retrieved)
		b.WriteString("\n")
	}

	return strings.TrimSpace(b.String())
}

func describeParams(params []tools.Parameter) string {
	if len(params) == 0 {
		return ""
	}
	parts := make([]string, 0, len(params))
	for _, p := range params {
		s := p.Name + " " + p.Type
		if p.Required {
			s += ", required"
		}
		parts = append(parts, s)
	}
	return " (" + strings.Join(parts, "; ") + ")"
}

// historyMessages converts session history into prompt messages.
func historyMessages(entries []session.Entry) []provider.Message {
	msgs := make([]provider.Message, 0, len(entries))
	for _, e := range entries {
		role := provider.RoleUser
		if e.Role == session.RoleAgent {
			role = provider.RoleAssistant
		}
		msgs = append(msgs, provider.Message{Role: role, Content: e.Text})
	}
	return msgs
}

// toolMessage renders a tool outcome for the model.
func toolMessage(toolID string, result *tools.Result, err error) provider.Message {
	content := ""
	if err != nil {
		content = "error: " + err.Error()
	} else {
		content = renderOutput(result.Output)
	}
	return provider.Message{Role: provider.RoleTool, Content: content, ToolID: toolID}
}

func renderOutput(output interface{}) string {
	if s, ok := output.(string); ok {
		return s
	}
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(data)
}
