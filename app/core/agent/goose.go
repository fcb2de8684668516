package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"goosuke/app/pkg/cmdutil"
	"goosuke/app/pkg/logger"
	"goosuke/app/pkg/types"
)

const DefaultCLITimeout = 5 * time.Minute

// GooseExecutor runs tasks through the goose CLI in non-interactive
// mode. Extensions are expected to be registered in goose's own config
// beforehand; the synchronizer keeps that file aligned.
type GooseExecutor struct {
	binary        string
	sessionPrefix string
	timeout       time.Duration
}

func NewGooseExecutor(binary, sessionPrefix string, timeout time.Duration) *GooseExecutor {
	if binary == "" {
		binary = "goose"
	}
	if timeout <= 0 {
		timeout = DefaultCLITimeout
	}
	return &GooseExecutor{binary: binary, sessionPrefix: sessionPrefix, timeout: timeout}
}

func (e *GooseExecutor) Name() string { return "goose" }

func (e *GooseExecutor) Ready() error {
	if err := cmdutil.RequireExecutable(e.binary); err != nil {
		return fmt.Errorf("goose CLI unavailable: %w", err)
	}
	return nil
}

func (e *GooseExecutor) Execute(ctx context.Context, req types.ExecRequest) (types.ExecResult, error) {
	prompt := BuildPrompt(req)
	if prompt == "" {
		return types.ExecResult{Success: false, Error: "empty prompt"}, nil
	}

	timeout := e.timeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	args := []string{"run", "--text", prompt}
	if e.sessionPrefix != "" {
		args = append(args, "--name", e.sessionName())
	}
	if len(req.Extensions) > 0 {
		logger.Info("goose run with extensions: %s", strings.Join(req.Extensions, ", "))
	}

	output, err := cmdutil.Run(ctx, e.binary, args, timeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return types.ExecResult{}, err
		}
		return types.ExecResult{Success: false, Error: err.Error()}, nil
	}
	if strings.TrimSpace(output) == "" {
		return types.ExecResult{Success: false, Error: "empty response from goose"}, nil
	}

	cleaned, extensionsOutput := SplitExtensionsOutput(output)
	return types.ExecResult{
		Success:          true,
		Output:           cleaned,
		ExtensionsOutput: extensionsOutput,
	}, nil
}

func (e *GooseExecutor) sessionName() string {
	return fmt.Sprintf("%s-%s", e.sessionPrefix, uuid.NewString()[:8])
}
