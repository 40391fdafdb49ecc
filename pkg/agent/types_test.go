package agent

import (
	"errors"
	"testing"

	"github.com/harun/zombiecoder/pkg/tools"
	"github.com/harun/zombiecoder/pkg/tools/builtin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinition_Validate(t *testing.T) {
	valid := Definition{ID: "a", ProviderPreference: []string{"p1"}}

	tests := []struct {
		name    string
		mutate  func(d *Definition)
		wantErr bool
	}{
		{"valid", func(d *Definition) {}, false},
		{"empty id", func(d *Definition) { d.ID = "" }, true},
		{"no providers", func(d *Definition) { d.ProviderPreference = nil }, true},
		{"duplicate provider", func(d *Definition) { d.ProviderPreference = []string{"p1", "p1"} }, true},
		{"temperature too high", func(d *Definition) { d.Temperature = 2.5 }, true},
		{"negative max tokens", func(d *Definition) { d.MaxTokens = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			d.ProviderPreference = append([]string(nil), valid.ProviderPreference...)
			tt.mutate(&d)
			err := d.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCatalog(t *testing.T) {
	c, err := DefaultCatalog("openai", "local")
	require.NoError(t, err)

	defs := c.List()
	require.Len(t, defs, 2)
	assert.Equal(t, CodingAgentID, defs[0].ID)
	assert.Equal(t, VirtualSirID, defs[1].ID)

	def, ok := c.Get(CodingAgentID)
	require.True(t, ok)
	assert.Equal(t, []string{"openai", "local"}, def.ProviderPreference)
	assert.NotContains(t, def.AllowedTools, "system_admin")

	// definitions handed out are copies
	def.ProviderPreference[0] = "mutated"
	again, _ := c.Get(CodingAgentID)
	assert.Equal(t, "openai", again.ProviderPreference[0])

	_, ok = c.Get("nope")
	assert.False(t, ok)

	assert.Error(t, c.Register(Definition{ID: CodingAgentID, ProviderPreference: []string{"x"}}))
}

func TestCatalog_SetActive(t *testing.T) {
	c, err := DefaultCatalog("p1")
	require.NoError(t, err)

	assert.True(t, c.IsActive(CodingAgentID))
	assert.Empty(t, c.Inactive())

	require.NoError(t, c.SetActive(CodingAgentID, false))
	assert.False(t, c.IsActive(CodingAgentID))
	assert.True(t, c.IsActive(VirtualSirID))
	assert.Equal(t, []string{CodingAgentID}, c.Inactive())

	// the definition stays registered
	_, ok := c.Get(CodingAgentID)
	assert.True(t, ok)

	require.NoError(t, c.SetActive(CodingAgentID, true))
	assert.True(t, c.IsActive(CodingAgentID))

	assert.Error(t, c.SetActive("nope", false))
	assert.False(t, c.IsActive("nope"))
}

func TestDefaultCatalog_NeedsProviders(t *testing.T) {
	_, err := DefaultCatalog()
	assert.Error(t, err)
}

func TestBuildSystemPrompt(t *testing.T) {
	def := DefaultDefinitions("p1")[1]
	calc := builtin.NewCalculator()

	t.Run("with tools and context", func(t *testing.T) {
		prompt := buildSystemPrompt(def, []tools.Tool{calc}, "[go.md]\nGoroutines are cheap.")

		assert.Contains(t, prompt, "You are Virtual Sir")
		assert.Contains(t, prompt, "- Tone: professional, patient, encouraging")
		assert.Contains(t, prompt, "Never provide harmful or dangerous instructions")
		assert.Contains(t, prompt, "- calculator: Evaluate an arithmetic expression")
		assert.Contains(t, prompt, "expression string, required")
		assert.Contains(t, prompt, `[TOOL:tool_name({"param": "value"})]`)
		assert.Contains(t, prompt, "Goroutines are cheap.")
	})

	t.Run("bare", func(t *testing.T) {
		prompt := buildSystemPrompt(Definition{ID: "plain"}, nil, "")

		assert.Equal(t, "You are plain, an AI assistant.", prompt)
	})
}

func TestToolMessage(t *testing.T) {
	ok := toolMessage("calculator", &tools.Result{Output: map[string]interface{}{"result": 5}}, nil)
	assert.Equal(t, `{"result":5}`, ok.Content)
	assert.Equal(t, "calculator", ok.ToolID)

	failed := toolMessage("broken", nil, errors.New("boom"))
	assert.Equal(t, "error: boom", failed.Content)
}

func TestTurnOutcome(t *testing.T) {
	assert.Equal(t, "cached", turnOutcome(&TurnResult{Cached: true}, nil))
	assert.Equal(t, "success", turnOutcome(&TurnResult{}, nil))
	assert.Equal(t, "error", turnOutcome(nil, errors.New("x")))
}
