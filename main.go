package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "goosuke/app/configs"
	"goosuke/app/core/action"
	"goosuke/app/core/agent"
	"goosuke/app/core/db"
	"goosuke/app/core/dispatch"
	"goosuke/app/core/extensions"
	"goosuke/app/core/interaction/console"
	"goosuke/app/core/queue"
	"goosuke/app/core/scheduler"
	"goosuke/app/core/task"
	"goosuke/app/core/trigger"
	"goosuke/app/pkg/logger"
	"goosuke/app/pkg/types"
)

func main() {
	cfgManager, err := config.NewManager(config.DefaultPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := cfgManager.Get()

	if err := logger.Init(cfg.App.LogDir); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("%s starting...", cfg.App.Name)

	database, err := db.NewSQLiteDB(cfg.App.DataDir)
	if err != nil {
		logger.Error("Failed to initialize DB: %v", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("Database initialized successfully")

	actionStore := action.NewStore(database)
	taskStore := task.NewStore(database)
	extensionStore := extensions.NewStore(database)

	executor := buildExecutor(cfg)
	if err := executor.Ready(); err != nil {
		logger.Warn("executor %s not ready yet: %v", executor.Name(), err)
	}

	engine := task.NewEngine(taskStore, actionStore)
	runner := task.NewRunner(taskStore, executor, time.Duration(cfg.Executor.TimeoutSec)*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	synchronizer := extensions.NewSynchronizer(extensionStore, cfg.Goose.ConfigPath)
	if result, err := synchronizer.InitSync(ctx); err != nil {
		logger.Error("Initial extension sync failed: %v", err)
	} else if len(result.Errors) > 0 {
		logger.Warn("Initial extension sync finished with %d entry errors", len(result.Errors))
	}

	jobs := queue.New(cfg.Dispatch.QueueSize)
	if err := jobs.Start(ctx, cfg.Dispatch.Workers); err != nil {
		logger.Error("Failed to start work queue: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := jobs.Stop(10 * time.Second); err != nil {
			logger.Error("Queue shutdown: %v", err)
		}
	}()

	jobScheduler := scheduler.New()
	if !cfg.Goose.DisableResync {
		err := jobScheduler.Register(scheduler.JobSpec{
			Name:     "extension-resync",
			Interval: time.Duration(cfg.Goose.ResyncMinutes) * time.Minute,
			Timeout:  time.Minute,
			Run: func(jobCtx context.Context) error {
				_, err := synchronizer.InitSync(jobCtx)
				return err
			},
		})
		if err != nil {
			logger.Error("Failed to register resync job: %v", err)
			os.Exit(1)
		}
	}
	if err := jobScheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := jobScheduler.Stop(3 * time.Second); err != nil {
			logger.Error("Scheduler shutdown: %v", err)
		}
	}()

	collector := trigger.NewCollector(cfg.Dispatch.CollectorLookback, cfg.Dispatch.ThreadLimit)
	dispatcher := dispatch.New(actionStore, engine, runner, collector, jobs)
	dispatcher.RegisterChannel(console.New(cfg.Executor.ConsoleChannel, cfg.Executor.ConsoleUserID))
	dispatcher.Start(ctx)

	logger.Info("%s is ready to serve.", cfg.App.Name)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal: %v. Shutting down...", sig)
	cancel()
}

func buildExecutor(cfg config.Config) types.Executor {
	if cfg.Executor.Kind == "openai" {
		return agent.NewOpenAIExecutor(cfg.Executor.OpenAIModel, cfg.Executor.OpenAIKeyEnv)
	}
	return agent.NewGooseExecutor(cfg.Goose.Binary, cfg.Goose.SessionPrefix,
		time.Duration(cfg.Executor.TimeoutSec)*time.Second)
}
