package agent

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

const extensionOutputMarker = "EXTENSION_OUTPUT:"

// SplitExtensionsOutput separates the agent's plain response from the
// structured block extensions may append after the marker. When the
// tail is not valid JSON the full output is returned untouched, so a
// response that merely mentions the marker is never eaten.
func SplitExtensionsOutput(output string) (string, map[string]interface{}) {
	head, tail, found := strings.Cut(output, extensionOutputMarker)
	if !found {
		return strings.TrimSpace(output), nil
	}
	tail = strings.TrimSpace(tail)
	if !gjson.Valid(tail) || !gjson.Parse(tail).IsObject() {
		return strings.TrimSpace(output), nil
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(tail), &parsed); err != nil {
		return strings.TrimSpace(output), nil
	}
	return strings.TrimSpace(head), parsed
}
