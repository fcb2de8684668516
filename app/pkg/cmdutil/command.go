package cmdutil

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// RequireExecutable checks that name resolves on PATH.
func RequireExecutable(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("missing executable")
	}
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("executable not found: %s", name)
	}
	return nil
}

// RunWithInput runs name with args under timeout, feeding input on stdin,
// and returns trimmed combined output.
func RunWithInput(ctx context.Context, name string, args []string, input string, timeout time.Duration) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(execCtx, name, args...)
	if strings.TrimSpace(input) != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	output, err := cmd.CombinedOutput()
	outStr := strings.TrimSpace(string(output))
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("command timed out after %s: %w", timeout, execCtx.Err())
		}
		return "", formatCommandError(err, outStr)
	}
	return outStr, nil
}

func Run(ctx context.Context, name string, args []string, timeout time.Duration) (string, error) {
	return RunWithInput(ctx, name, args, "", timeout)
}

func formatCommandError(err error, output string) error {
	exitCode := -1
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}
	if strings.TrimSpace(output) != "" {
		trimmed, truncated := limitOutputLines(output, 8)
		if truncated {
			return fmt.Errorf("exit code %d: %s\n[output truncated to last 8 lines]", exitCode, trimmed)
		}
		return fmt.Errorf("exit code %d: %s", exitCode, trimmed)
	}
	return fmt.Errorf("exit code %d: %v", exitCode, err)
}

func limitOutputLines(output string, max int) (string, bool) {
	lines := strings.Split(output, "\n")
	if len(lines) <= max {
		return output, false
	}
	return strings.Join(lines[len(lines)-max:], "\n"), true
}
