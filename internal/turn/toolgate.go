package turn

import "github.com/Keyring-Network/keyring-chat/internal/llm"

// MaxSteps bounds the generation steps of one turn.
const MaxSteps = 2

type GateState struct {
	Step            int
	SearchRequested bool
}

// ToolChoiceFor forces a tool call on the first step of a search turn and
// forbids tools everywhere else.
func ToolChoiceFor(state GateState) llm.ToolChoice {
	if state.Step == 0 && state.SearchRequested {
		return llm.ToolChoiceRequired
	}
	return llm.ToolChoiceNone
}
