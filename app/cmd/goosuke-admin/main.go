package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	config "goosuke/app/configs"
	"goosuke/app/core/action"
	"goosuke/app/core/db"
	"goosuke/app/core/extensions"
	"goosuke/app/core/extract"
	"goosuke/app/core/task"
	"goosuke/app/pkg/types"
)

const usage = `usage: goosuke-admin [-config path] <command> [flags]

commands:
  template create   -name NAME -prompt PROMPT [-task-type TYPE] [-extensions a,b]
  template list
  template prompt   -id TEMPLATE_ID -prompt PROMPT
  action create     -name NAME -type TYPE -template ID [-rules JSON]
  action list       [-type TYPE] [-disabled]
  action enable     -id ACTION_ID
  action disable    -id ACTION_ID
  trigger create    -name NAME -catch TYPE -value VALUE [-message TYPE] [-respond FORMAT] [-marker TEXT] [-link ACTION_ID]
  trigger list
  executions list   [-user ID] [-status STATUS] [-limit N]
  execution retry   -id EXECUTION_ID
  extension list
  extension enable  -name NAME
  extension disable -name NAME
  extension remove  -name NAME
  sync
`

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to runtime config json")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfgManager, err := config.NewManager(*configPath)
	if err != nil {
		fail("load config: %v", err)
	}
	cfg := cfgManager.Get()

	database, err := db.NewSQLiteDB(cfg.App.DataDir)
	if err != nil {
		fail("open database: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	actions := action.NewStore(database)
	tasks := task.NewStore(database)
	extensionStore := extensions.NewStore(database)

	switch strings.Join(args[:min(2, len(args))], " ") {
	case "template create":
		templateCreate(ctx, tasks, args[2:])
	case "template list":
		templates, err := tasks.ListTemplates(ctx, 100, 0)
		exitOn(err)
		printJSON(templates)
	case "template prompt":
		templatePrompt(ctx, tasks, args[2:])
	case "action create":
		actionCreate(ctx, actions, args[2:])
	case "action list":
		actionList(ctx, actions, args[2:])
	case "action enable":
		actionSetEnabled(ctx, actions, args[2:], true)
	case "action disable":
		actionSetEnabled(ctx, actions, args[2:], false)
	case "trigger create":
		triggerCreate(ctx, actions, args[2:])
	case "trigger list":
		configs, err := actions.ListTriggerConfigs(ctx, false)
		exitOn(err)
		printJSON(configs)
	case "executions list":
		executionsList(ctx, tasks, args[2:])
	case "execution retry":
		executionRetry(ctx, tasks, actions, args[2:])
	case "extension list":
		list, err := extensionStore.List(ctx)
		exitOn(err)
		printJSON(list)
	case "extension enable":
		extensionSetEnabled(ctx, extensionStore, args[2:], true)
	case "extension disable":
		extensionSetEnabled(ctx, extensionStore, args[2:], false)
	case "extension remove":
		extensionRemove(ctx, extensionStore, args[2:])
	default:
		if args[0] == "sync" {
			runSync(ctx, extensionStore, cfg.Goose.ConfigPath)
			return
		}
		flag.Usage()
		os.Exit(2)
	}
}

func templateCreate(ctx context.Context, tasks *task.Store, args []string) {
	fs := flag.NewFlagSet("template create", flag.ExitOnError)
	name := fs.String("name", "", "template name")
	prompt := fs.String("prompt", "", "prompt with {placeholder} keys")
	taskType := fs.String("task-type", "general", "task type label")
	extensionCSV := fs.String("extensions", "", "comma separated extension names")
	_ = fs.Parse(args)

	tmpl, err := tasks.CreateTemplate(ctx, task.Template{
		Name:       *name,
		TaskType:   *taskType,
		Prompt:     *prompt,
		Extensions: splitCSV(*extensionCSV),
	})
	exitOn(err)
	printJSON(tmpl)
}

func actionCreate(ctx context.Context, actions *action.Store, args []string) {
	fs := flag.NewFlagSet("action create", flag.ExitOnError)
	name := fs.String("name", "", "action name")
	actionType := fs.String("type", string(action.TypeAPI), "action type (api, webhook, discord, slack)")
	templateID := fs.String("template", "", "task template id")
	rulesJSON := fs.String("rules", "", "context rules as JSON array")
	_ = fs.Parse(args)

	var rules []extract.Rule
	if *rulesJSON != "" {
		if err := json.Unmarshal([]byte(*rulesJSON), &rules); err != nil {
			fail("parse rules: %v", err)
		}
	}
	act, err := actions.CreateAction(ctx, *name, action.Type(*actionType), *templateID, rules, nil)
	exitOn(err)
	printJSON(act)
}

func actionList(ctx context.Context, actions *action.Store, args []string) {
	fs := flag.NewFlagSet("action list", flag.ExitOnError)
	actionType := fs.String("type", "", "filter by action type")
	disabled := fs.Bool("disabled", false, "include disabled actions")
	_ = fs.Parse(args)

	filter := action.ActionFilter{ActionType: action.Type(*actionType), Limit: 100}
	if !*disabled {
		enabled := true
		filter.Enabled = &enabled
	}
	list, err := actions.ListActions(ctx, filter)
	exitOn(err)
	printJSON(list)
}

func triggerCreate(ctx context.Context, actions *action.Store, args []string) {
	fs := flag.NewFlagSet("trigger create", flag.ExitOnError)
	name := fs.String("name", "", "trigger config name")
	catch := fs.String("catch", string(action.CatchText), "catch type (reaction, text, text_with_mention)")
	value := fs.String("value", "", "emoji or text to match")
	message := fs.String("message", string(action.MessageSingle), "message type (single, thread, range)")
	respond := fs.String("respond", string(types.RespondReply), "response format (reply, dm, channel)")
	marker := fs.String("marker", "", "range start marker, required for range")
	link := fs.String("link", "", "action id to bind this trigger to")
	configType := fs.String("config-type", string(action.ConfigDiscord), "binding config type (discord, slack)")
	_ = fs.Parse(args)

	cfg, err := actions.CreateTriggerConfig(ctx, action.ChatTriggerConfig{
		Name:           *name,
		CatchType:      action.CatchType(*catch),
		CatchValue:     *value,
		MessageType:    action.MessageType(*message),
		ResponseFormat: types.ResponseFormat(*respond),
		RangeMarker:    *marker,
	})
	exitOn(err)
	if *link != "" {
		if _, err := actions.LinkConfig(ctx, *link, action.ConfigType(*configType), cfg.ID); err != nil {
			fail("link trigger to action: %v", err)
		}
	}
	printJSON(cfg)
}

func executionsList(ctx context.Context, tasks *task.Store, args []string) {
	fs := flag.NewFlagSet("executions list", flag.ExitOnError)
	user := fs.String("user", "", "filter by user id")
	status := fs.String("status", "", "filter by status")
	limit := fs.Int("limit", 50, "max rows")
	_ = fs.Parse(args)

	list, err := tasks.ListExecutions(ctx, task.ExecutionFilter{
		UserID: *user,
		Status: task.Status(*status),
		Limit:  *limit,
	})
	exitOn(err)
	printJSON(list)
}

func templatePrompt(ctx context.Context, tasks *task.Store, args []string) {
	fs := flag.NewFlagSet("template prompt", flag.ExitOnError)
	id := fs.String("id", "", "template id")
	prompt := fs.String("prompt", "", "replacement prompt")
	_ = fs.Parse(args)

	exitOn(tasks.UpdateTemplatePrompt(ctx, *id, *prompt))
	tmpl, err := tasks.GetTemplate(ctx, *id)
	exitOn(err)
	printJSON(tmpl)
}

func extensionRemove(ctx context.Context, store *extensions.Store, args []string) {
	fs := flag.NewFlagSet("extension remove", flag.ExitOnError)
	name := fs.String("name", "", "extension name")
	_ = fs.Parse(args)

	exitOn(store.Delete(ctx, *name))
	fmt.Printf("extension %s removed\n", *name)
}

func executionRetry(ctx context.Context, tasks *task.Store, actions *action.Store, args []string) {
	fs := flag.NewFlagSet("execution retry", flag.ExitOnError)
	id := fs.String("id", "", "terminal execution id to clone")
	_ = fs.Parse(args)

	exec, err := task.NewEngine(tasks, actions).Retry(ctx, *id)
	exitOn(err)
	printJSON(exec)
}

func actionSetEnabled(ctx context.Context, actions *action.Store, args []string, enabled bool) {
	fs := flag.NewFlagSet("action", flag.ExitOnError)
	id := fs.String("id", "", "action id")
	_ = fs.Parse(args)

	exitOn(actions.SetActionEnabled(ctx, *id, enabled))
	fmt.Printf("action %s enabled=%v\n", *id, enabled)
}

func extensionSetEnabled(ctx context.Context, store *extensions.Store, args []string, enabled bool) {
	fs := flag.NewFlagSet("extension", flag.ExitOnError)
	name := fs.String("name", "", "extension name")
	_ = fs.Parse(args)

	exitOn(store.SetEnabled(ctx, *name, enabled))
	fmt.Printf("extension %s enabled=%v\n", *name, enabled)
}

func runSync(ctx context.Context, store *extensions.Store, configPath string) {
	result, err := extensions.NewSynchronizer(store, configPath).InitSync(ctx)
	exitOn(err)
	printJSON(result)
	if len(result.Errors) > 0 {
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func printJSON(v interface{}) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fail("marshal output: %v", err)
	}
	fmt.Println(string(payload))
}

func exitOn(err error) {
	if err != nil {
		fail("%v", err)
	}
}

func fail(format string, v ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", v...)
	os.Exit(1)
}
