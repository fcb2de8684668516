package task

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"goosuke/app/core/action"
	"goosuke/app/pkg/logger"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Placeholders returns the distinct placeholder keys in a prompt, in
// order of first appearance.
func Placeholders(prompt string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, match := range placeholderPattern.FindAllStringSubmatch(prompt, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			keys = append(keys, match[1])
		}
	}
	return keys
}

// RenderPrompt substitutes {key} placeholders from the context map.
// Rendering is all or nothing: if any placeholder has no context
// entry, it returns a TemplateRenderError listing every missing key
// and no partially rendered prompt.
func RenderPrompt(prompt string, contextValues map[string]string) (string, error) {
	var missing []string
	seen := make(map[string]bool)
	for _, key := range Placeholders(prompt) {
		if _, ok := contextValues[key]; !ok && !seen[key] {
			seen[key] = true
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", &TemplateRenderError{Missing: missing}
	}
	rendered := placeholderPattern.ReplaceAllStringFunc(prompt, func(match string) string {
		return contextValues[match[1:len(match)-1]]
	})
	return rendered, nil
}

// Engine turns a matched action plus an extracted context into a
// pending execution.
type Engine struct {
	tasks   *Store
	actions *action.Store
}

func NewEngine(tasks *Store, actions *action.Store) *Engine {
	return &Engine{tasks: tasks, actions: actions}
}

// Instantiate renders the action's template against the context and
// persists a pending execution snapshotting prompt, context and the
// template's extension list. On success the action's last-triggered
// timestamp is advanced.
func (e *Engine) Instantiate(ctx context.Context, act action.Action, userID string, contextValues map[string]string) (Execution, error) {
	tmpl, err := e.tasks.GetTemplate(ctx, act.TaskTemplateID)
	if err != nil {
		return Execution{}, fmt.Errorf("load template %s for action %s: %w", act.TaskTemplateID, act.ID, err)
	}

	rendered, err := RenderPrompt(tmpl.Prompt, contextValues)
	if err != nil {
		return Execution{}, err
	}

	exec, err := e.tasks.CreateExecution(ctx, Execution{
		UserID:     userID,
		TemplateID: tmpl.ID,
		TaskType:   tmpl.TaskType,
		Prompt:     rendered,
		Context:    contextValues,
		Extensions: tmpl.Extensions,
	})
	if err != nil {
		return Execution{}, err
	}

	if err := e.actions.TouchLastTriggered(ctx, act.ID); err != nil {
		logger.Error("failed to touch action %s after instantiation: %v", act.ID, err)
	}
	return exec, nil
}

// Retry clones a terminal execution into a fresh pending one. The
// original record is left untouched; history is append only.
func (e *Engine) Retry(ctx context.Context, executionID string) (Execution, error) {
	prev, err := e.tasks.GetExecution(ctx, executionID)
	if err != nil {
		return Execution{}, fmt.Errorf("load execution %s for retry: %w", executionID, err)
	}
	if !prev.Status.Terminal() {
		return Execution{}, fmt.Errorf("execution %s is %s, only terminal executions can be retried", prev.ID, prev.Status)
	}
	return e.tasks.CreateExecution(ctx, Execution{
		UserID:     prev.UserID,
		TemplateID: prev.TemplateID,
		TaskType:   prev.TaskType,
		Prompt:     prev.Prompt,
		Context:    prev.Context,
		Extensions: prev.Extensions,
	})
}
