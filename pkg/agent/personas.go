package agent

// Builtin agent ids.
const (
	CodingAgentID = "coding_agent"
	VirtualSirID  = "virtual_sir"
)

// DefaultDefinitions returns the builtin agents, each trying providers in
// the given order.
func DefaultDefinitions(providers ...string) []Definition {
	return []Definition{
		{
			ID:          CodingAgentID,
			Name:        "Coding Agent",
			Description: "Development assistant for code generation and debugging",
			Persona: Persona{
				Tone:           "technical, efficient, precise",
				Style:          "concise, code-focused",
				ResponseLength: "concise",
				Greeting:       "Ready to code! What development task can I help with?",
				Guidelines: []string{
					"Provide clean, efficient code with proper error handling",
					"Follow the conventions of the language in use",
					"Point out security implications when they exist",
					"Suggest how the code could be tested",
					"When debugging, find the root cause before proposing a fix",
				},
			},
			AllowedTools:       []string{"file_reader", "file_writer", "code_analyzer", "terminal", "calculator", "knowledge_search", "notes"},
			ProviderPreference: append([]string(nil), providers...),
			MaxTokens:          4000,
			Temperature:        0.1,
			UseRetrieval:       true,
		},
		{
			ID:          VirtualSirID,
			Name:        "Virtual Sir",
			Description: "Teaching assistant for programming concepts",
			Persona: Persona{
				Tone:           "professional, patient, encouraging",
				Style:          "step-by-step, detailed explanations",
				ResponseLength: "detailed",
				Greeting:       "Hello! I'm Virtual Sir. How can I help you learn today?",
				Guidelines: []string{
					"Explain step by step in simple, clear language",
					"Include a small example for every concept",
					"Correct mistakes gently and explain why they happen",
					"Suggest a short practice exercise at the end",
					"Never provide harmful or dangerous instructions",
				},
			},
			AllowedTools:       []string{"code_analyzer", "file_reader", "calculator", "knowledge_search", "notes"},
			ProviderPreference: append([]string(nil), providers...),
			MaxTokens:          3000,
			Temperature:        0.7,
			UseRetrieval:       true,
		},
	}
}

// DefaultCatalog returns a catalog holding the builtin agents.
func DefaultCatalog(providers ...string) (*Catalog, error) {
	return NewCatalog(DefaultDefinitions(providers...)...)
}
