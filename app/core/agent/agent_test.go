package agent

import (
	"strings"
	"testing"

	"goosuke/app/pkg/types"
)

func TestBuildPromptWithoutContext(t *testing.T) {
	got := BuildPrompt(types.ExecRequest{Prompt: "  do the thing  "})
	if got != "do the thing" {
		t.Fatalf("unexpected prompt: %q", got)
	}
}

func TestBuildPromptPrependsContextBlock(t *testing.T) {
	got := BuildPrompt(types.ExecRequest{
		Prompt:  "summarize",
		Context: map[string]string{"channel": "general", "content": "hi"},
	})
	if !strings.HasPrefix(got, "contexts:\n") {
		t.Fatalf("context block missing: %q", got)
	}
	if !strings.Contains(got, `"channel": "general"`) || !strings.Contains(got, `"content": "hi"`) {
		t.Fatalf("context values missing: %q", got)
	}
	if !strings.HasSuffix(got, "prompts:\nsummarize") {
		t.Fatalf("prompt section malformed: %q", got)
	}
}

func TestSplitExtensionsOutput(t *testing.T) {
	raw := "all done\n\nEXTENSION_OUTPUT:{\"web\": {\"status\": \"fetched\"}}"
	cleaned, output := SplitExtensionsOutput(raw)
	if cleaned != "all done" {
		t.Fatalf("unexpected cleaned output: %q", cleaned)
	}
	web, ok := output["web"].(map[string]interface{})
	if !ok || web["status"] != "fetched" {
		t.Fatalf("unexpected extensions output: %+v", output)
	}
}

func TestSplitExtensionsOutputNoMarker(t *testing.T) {
	cleaned, output := SplitExtensionsOutput("  just text  ")
	if cleaned != "just text" || output != nil {
		t.Fatalf("unexpected result: %q %+v", cleaned, output)
	}
}

func TestSplitExtensionsOutputKeepsInvalidTail(t *testing.T) {
	raw := "the marker EXTENSION_OUTPUT: is mentioned but not followed by JSON"
	cleaned, output := SplitExtensionsOutput(raw)
	if cleaned != raw || output != nil {
		t.Fatalf("invalid tail must not truncate the response: %q %+v", cleaned, output)
	}
}

func TestGooseExecutorNotReadyWithoutBinary(t *testing.T) {
	executor := NewGooseExecutor("definitely-not-a-real-binary", "", 0)
	if err := executor.Ready(); err == nil {
		t.Fatal("missing binary should fail readiness")
	}
}

func TestOpenAIExecutorReadyRequiresKey(t *testing.T) {
	executor := NewOpenAIExecutor("", "GOOSUKE_TEST_MISSING_KEY")
	if err := executor.Ready(); err == nil {
		t.Fatal("missing key should fail readiness")
	}
	t.Setenv("GOOSUKE_TEST_MISSING_KEY", "sk-test")
	if err := executor.Ready(); err != nil {
		t.Fatalf("readiness should pass with key set: %v", err)
	}
}
