package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"goosuke/app/core/action"
	"goosuke/app/core/extract"
	"goosuke/app/core/queue"
	"goosuke/app/core/task"
	"goosuke/app/core/trigger"
	"goosuke/app/pkg/logger"
	"goosuke/app/pkg/types"
)

// Dispatcher wires channels to the trigger pipeline: match the event,
// collect messages, extract context, instantiate a task and hand it to
// the worker queue. Each event yields at most one execution.
type Dispatcher struct {
	matcher   *trigger.Matcher
	collector *trigger.Collector
	actions   *action.Store
	engine    *task.Engine
	runner    *task.Runner
	jobs      *queue.Queue

	mu       sync.RWMutex
	channels map[string]types.Channel
	sources  map[string]trigger.MessageSource
}

func New(actions *action.Store, engine *task.Engine, runner *task.Runner, collector *trigger.Collector, jobs *queue.Queue) *Dispatcher {
	return &Dispatcher{
		matcher:   trigger.NewMatcher(actions),
		collector: collector,
		actions:   actions,
		engine:    engine,
		runner:    runner,
		jobs:      jobs,
		channels:  make(map[string]types.Channel),
		sources:   make(map[string]trigger.MessageSource),
	}
}

// RegisterChannel adds an adapter. Channels that can look up message
// history also serve as the collector's message source.
func (d *Dispatcher) RegisterChannel(ch types.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.ID()] = ch
	if src, ok := ch.(trigger.MessageSource); ok {
		d.sources[ch.ID()] = src
	}
}

// Start runs every registered channel's receive loop until ctx ends.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.RLock()
	channels := make([]types.Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		channels = append(channels, ch)
	}
	d.mu.RUnlock()

	for _, ch := range channels {
		go func(ch types.Channel) {
			if err := ch.Start(ctx, func(ev types.Event) {
				d.HandleEvent(ctx, ev)
			}); err != nil {
				logger.Error("channel %s stopped: %v", ch.ID(), err)
			}
		}(ch)
	}
}

// HandleEvent runs the matching half of the pipeline inline and, when
// a trigger fires, queues the execution. Errors local to one event are
// logged or reported back on the channel, never propagated up.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev types.Event) {
	binding, err := d.matcher.Match(ctx, ev)
	if err != nil {
		logger.Error("trigger match failed for event on %s: %v", ev.ChannelID, err)
		return
	}
	if binding == nil {
		return
	}
	logger.Info("event on %s matched action %s via trigger %s", ev.ChannelID, binding.Action.ID, binding.Config.ID)

	messages, err := d.collectMessages(ctx, ev, binding.Config)
	if err != nil {
		var rangeErr *trigger.CollectionRangeError
		if errors.As(err, &rangeErr) {
			d.notify(ctx, ev, binding.Config, fmt.Sprintf("could not collect messages: %v", rangeErr))
			return
		}
		logger.Error("message collection failed for action %s: %v", binding.Action.ID, err)
		return
	}

	payload, err := trigger.BuildPayload(messages, ev, binding.Config)
	if err != nil {
		logger.Error("payload assembly failed for action %s: %v", binding.Action.ID, err)
		return
	}

	contextValues, extractErrs := extract.Evaluate(payload, binding.Action.ContextRules)
	for _, extractErr := range extractErrs {
		logger.Warn("action %s: %v", binding.Action.ID, extractErr)
	}

	exec, err := d.engine.Instantiate(ctx, binding.Action, ev.UserID, contextValues)
	if err != nil {
		var renderErr *task.TemplateRenderError
		if errors.As(err, &renderErr) {
			d.notify(ctx, ev, binding.Config, fmt.Sprintf("task not started: %v", renderErr))
			return
		}
		logger.Error("task instantiation failed for action %s: %v", binding.Action.ID, err)
		return
	}

	cfg := binding.Config
	if _, err := d.jobs.EnqueueContext(ctx, queue.Job{
		ID: exec.ID,
		Run: func(jobCtx context.Context) error {
			return d.runAndRespond(jobCtx, exec.ID, ev, cfg)
		},
	}); err != nil {
		logger.Error("enqueue execution %s failed: %v", exec.ID, err)
	}
}

// TriggerAction fires an action directly from a raw payload, the path
// API and webhook actions take. The execution runs to completion and
// the final record is returned.
func (d *Dispatcher) TriggerAction(ctx context.Context, actionID, userID string, payload []byte) (task.Execution, error) {
	act, err := d.actions.GetAction(ctx, actionID)
	if err != nil {
		return task.Execution{}, fmt.Errorf("load action %s: %w", actionID, err)
	}
	if !act.Enabled {
		return task.Execution{}, fmt.Errorf("action %s is disabled", actionID)
	}

	contextValues, extractErrs := extract.Evaluate(payload, act.ContextRules)
	for _, extractErr := range extractErrs {
		logger.Warn("action %s: %v", act.ID, extractErr)
	}

	exec, err := d.engine.Instantiate(ctx, act, userID, contextValues)
	if err != nil {
		return task.Execution{}, err
	}
	return d.runner.Run(ctx, exec.ID)
}

func (d *Dispatcher) collectMessages(ctx context.Context, ev types.Event, cfg action.ChatTriggerConfig) ([]types.SourceMessage, error) {
	d.mu.RLock()
	src := d.sources[ev.ChannelID]
	d.mu.RUnlock()

	if src == nil {
		if cfg.MessageType != action.MessageSingle {
			return nil, fmt.Errorf("channel %s has no message history, cannot collect %s", ev.ChannelID, cfg.MessageType)
		}
		// Channels without history serve the event itself as the message.
		return []types.SourceMessage{{
			ID:        ev.Ref.MessageID,
			Author:    ev.UserName,
			Content:   ev.Value,
			Timestamp: time.Now().Unix(),
		}}, nil
	}
	return d.collector.Collect(ctx, src, cfg, ev.Ref)
}

func (d *Dispatcher) runAndRespond(ctx context.Context, executionID string, ev types.Event, cfg action.ChatTriggerConfig) error {
	exec, err := d.runner.Run(ctx, executionID)
	if err != nil {
		logger.Error("execution %s did not run: %v", executionID, err)
		return err
	}

	content := exec.Result
	if exec.Status == task.StatusFailed {
		content = fmt.Sprintf("task failed (%s): %s", exec.ErrorKind, exec.Error)
	}
	d.notify(ctx, ev, cfg, content)
	if exec.Status == task.StatusFailed {
		return fmt.Errorf("execution %s failed: %s", exec.ID, exec.Error)
	}
	return nil
}

func (d *Dispatcher) notify(ctx context.Context, ev types.Event, cfg action.ChatTriggerConfig, content string) {
	d.mu.RLock()
	ch := d.channels[ev.ChannelID]
	d.mu.RUnlock()
	if ch == nil {
		logger.Warn("no channel registered for %s, dropping response", ev.ChannelID)
		return
	}

	resp := types.Response{
		ChannelID: ev.ChannelID,
		UserID:    ev.UserID,
		Format:    cfg.ResponseFormat,
		Content:   content,
		Ref:       ev.Ref,
	}
	if err := ch.Send(ctx, resp); err != nil {
		logger.Error("send response on %s failed: %v", ev.ChannelID, err)
	}
}
