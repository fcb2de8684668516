package agent

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"goosuke/app/pkg/types"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIExecutor answers tasks with a single chat completion instead
// of a local agent. It has no tool access, so extension output never
// appears; it exists for hosts where the goose CLI is not installed.
type OpenAIExecutor struct {
	client openai.Client
	model  string
	keyEnv string
}

func NewOpenAIExecutor(model, keyEnv string) *OpenAIExecutor {
	if model == "" {
		model = defaultOpenAIModel
	}
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	return &OpenAIExecutor{
		client: openai.NewClient(option.WithAPIKey(os.Getenv(keyEnv))),
		model:  model,
		keyEnv: keyEnv,
	}
}

func (e *OpenAIExecutor) Name() string { return "openai" }

func (e *OpenAIExecutor) Ready() error {
	if strings.TrimSpace(os.Getenv(e.keyEnv)) == "" {
		return fmt.Errorf("missing API key: set %s", e.keyEnv)
	}
	return nil
}

func (e *OpenAIExecutor) Execute(ctx context.Context, req types.ExecRequest) (types.ExecResult, error) {
	prompt := BuildPrompt(req)
	if prompt == "" {
		return types.ExecResult{Success: false, Error: "empty prompt"}, nil
	}

	completion, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return types.ExecResult{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return types.ExecResult{Success: false, Error: "no completion choices returned"}, nil
	}

	output := strings.TrimSpace(completion.Choices[0].Message.Content)
	if output == "" {
		return types.ExecResult{Success: false, Error: "empty completion"}, nil
	}
	return types.ExecResult{Success: true, Output: output}, nil
}
