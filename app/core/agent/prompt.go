package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"goosuke/app/pkg/types"
)

// BuildPrompt assembles the text handed to an executor. When context
// values are present they are prepended as an indented JSON block so
// the agent can refer to them separately from the instruction itself.
func BuildPrompt(req types.ExecRequest) string {
	prompt := strings.TrimSpace(req.Prompt)
	if len(req.Context) == 0 {
		return prompt
	}
	contextJSON, err := json.MarshalIndent(req.Context, "", "  ")
	if err != nil {
		// map[string]string cannot fail to marshal; keep the prompt usable anyway.
		return prompt
	}
	return fmt.Sprintf("contexts:\n%s\n\nprompts:\n%s", string(contextJSON), prompt)
}
