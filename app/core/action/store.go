package action

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"goosuke/app/core/db"
	"goosuke/app/core/extract"
	"goosuke/app/pkg/types"
)

// ErrAmbiguousTrigger is returned when enabling or creating a trigger
// config whose (catch_type, catch_value) pair is already claimed by an
// enabled config.
var ErrAmbiguousTrigger = errors.New("action: enabled trigger config with same catch type and value already exists")

type Store struct {
	db      *db.DB
	counter uint64
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

func (s *Store) CreateAction(ctx context.Context, name string, actionType Type, templateID string, rules []extract.Rule, config map[string]interface{}) (Action, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Action{}, fmt.Errorf("action name is required")
	}
	if !ValidType(actionType) {
		return Action{}, fmt.Errorf("invalid action type: %s", actionType)
	}
	if strings.TrimSpace(templateID) == "" {
		return Action{}, fmt.Errorf("task template id is required")
	}

	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return Action{}, err
	}
	if config == nil {
		config = map[string]interface{}{}
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return Action{}, err
	}

	now := time.Now().Unix()
	id := s.newID("act")
	query := `INSERT INTO actions (id, name, action_type, config, context_rules, task_template_id, enabled, created_at, updated_at, last_triggered_at) VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, NULL)`
	if _, err := s.db.Conn().ExecContext(ctx, query, id, name, string(actionType), configJSON, rulesJSON, templateID, now, now); err != nil {
		return Action{}, err
	}
	return Action{
		ID:             id,
		Name:           name,
		ActionType:     actionType,
		Config:         config,
		ContextRules:   rules,
		TaskTemplateID: templateID,
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

const actionColumns = `id, name, action_type, COALESCE(config, '{}'), COALESCE(context_rules, '[]'), COALESCE(task_template_id, ''), enabled, created_at, updated_at, COALESCE(last_triggered_at, 0)`

func (s *Store) GetAction(ctx context.Context, actionID string) (Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions WHERE id = ?`
	row := s.db.Conn().QueryRowContext(ctx, query, actionID)
	return scanAction(row)
}

type ActionFilter struct {
	ActionType Type
	Enabled    *bool
	Limit      int
	Offset     int
}

func (s *Store) ListActions(ctx context.Context, filter ActionFilter) ([]Action, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	query := `SELECT ` + actionColumns + ` FROM actions WHERE 1 = 1`
	args := []interface{}{}
	if filter.ActionType != "" {
		query += ` AND action_type = ?`
		args = append(args, string(filter.ActionType))
	}
	if filter.Enabled != nil {
		query += ` AND enabled = ?`
		args = append(args, boolToInt(*filter.Enabled))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Action, 0, filter.Limit)
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// SetActionEnabled flips the enabled flag. Disabling never deletes
// history; it only stops matching.
func (s *Store) SetActionEnabled(ctx context.Context, actionID string, enabled bool) error {
	now := time.Now().Unix()
	res, err := s.db.Conn().ExecContext(ctx, `UPDATE actions SET enabled = ?, updated_at = ? WHERE id = ?`, boolToInt(enabled), now, actionID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// TouchLastTriggered stamps last_triggered_at when an action fires.
func (s *Store) TouchLastTriggered(ctx context.Context, actionID string) error {
	now := time.Now().Unix()
	res, err := s.db.Conn().ExecContext(ctx, `UPDATE actions SET last_triggered_at = ? WHERE id = ?`, now, actionID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) CreateTriggerConfig(ctx context.Context, cfg ChatTriggerConfig) (ChatTriggerConfig, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	cfg.CatchValue = strings.TrimSpace(cfg.CatchValue)
	if cfg.Name == "" {
		return ChatTriggerConfig{}, fmt.Errorf("trigger config name is required")
	}
	if !ValidCatchType(cfg.CatchType) {
		return ChatTriggerConfig{}, fmt.Errorf("invalid catch type: %s", cfg.CatchType)
	}
	if cfg.CatchValue == "" {
		return ChatTriggerConfig{}, fmt.Errorf("catch value is required")
	}
	if !ValidMessageType(cfg.MessageType) {
		return ChatTriggerConfig{}, fmt.Errorf("invalid message type: %s", cfg.MessageType)
	}
	if cfg.ResponseFormat == "" {
		cfg.ResponseFormat = types.RespondReply
	}
	if cfg.MessageType == MessageRange && strings.TrimSpace(cfg.RangeMarker) == "" {
		return ChatTriggerConfig{}, fmt.Errorf("range marker is required for message type range")
	}

	taken, err := s.enabledCatchTaken(ctx, cfg.CatchType, cfg.CatchValue, "")
	if err != nil {
		return ChatTriggerConfig{}, err
	}
	if taken {
		return ChatTriggerConfig{}, ErrAmbiguousTrigger
	}

	now := time.Now().Unix()
	cfg.ID = s.newID("trg")
	cfg.Enabled = true
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	query := `INSERT INTO chat_trigger_configs (id, name, catch_type, catch_value, message_type, response_format, range_marker, enabled, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`
	if _, err := s.db.Conn().ExecContext(ctx, query, cfg.ID, cfg.Name, string(cfg.CatchType), cfg.CatchValue, string(cfg.MessageType), string(cfg.ResponseFormat), cfg.RangeMarker, now, now); err != nil {
		return ChatTriggerConfig{}, err
	}
	return cfg, nil
}

const triggerColumns = `id, name, catch_type, catch_value, message_type, response_format, COALESCE(range_marker, ''), enabled, created_at, updated_at`

func (s *Store) GetTriggerConfig(ctx context.Context, configID string) (ChatTriggerConfig, error) {
	query := `SELECT ` + triggerColumns + ` FROM chat_trigger_configs WHERE id = ?`
	row := s.db.Conn().QueryRowContext(ctx, query, configID)
	return scanTriggerConfig(row)
}

func (s *Store) ListTriggerConfigs(ctx context.Context, enabledOnly bool) ([]ChatTriggerConfig, error) {
	query := `SELECT ` + triggerColumns + ` FROM chat_trigger_configs`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.Conn().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ChatTriggerConfig
	for rows.Next() {
		cfg, err := scanTriggerConfig(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, cfg)
	}
	return items, rows.Err()
}

func (s *Store) SetTriggerConfigEnabled(ctx context.Context, configID string, enabled bool) error {
	if enabled {
		cfg, err := s.GetTriggerConfig(ctx, configID)
		if err != nil {
			return err
		}
		taken, err := s.enabledCatchTaken(ctx, cfg.CatchType, cfg.CatchValue, configID)
		if err != nil {
			return err
		}
		if taken {
			return ErrAmbiguousTrigger
		}
	}
	now := time.Now().Unix()
	res, err := s.db.Conn().ExecContext(ctx, `UPDATE chat_trigger_configs SET enabled = ?, updated_at = ? WHERE id = ?`, boolToInt(enabled), now, configID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// LinkConfig attaches a typed channel config to an action, replacing a
// previous link of the same type.
func (s *Store) LinkConfig(ctx context.Context, actionID string, configType ConfigType, configID string) (ActionConfig, error) {
	if !ValidConfigType(configType) {
		return ActionConfig{}, fmt.Errorf("invalid config type: %s", configType)
	}
	if strings.TrimSpace(actionID) == "" || strings.TrimSpace(configID) == "" {
		return ActionConfig{}, fmt.Errorf("action id and config id are required")
	}

	now := time.Now().Unix()
	link := ActionConfig{
		ID:         s.newID("lnk"),
		ActionID:   actionID,
		ConfigType: configType,
		ConfigID:   configID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	query := `
INSERT INTO action_configs (id, action_id, config_type, config_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(action_id, config_type) DO UPDATE SET config_id = excluded.config_id, updated_at = excluded.updated_at`
	if _, err := s.db.Conn().ExecContext(ctx, query, link.ID, link.ActionID, string(link.ConfigType), link.ConfigID, now, now); err != nil {
		return ActionConfig{}, err
	}
	return link, nil
}

const actionJoinColumns = `a.id, a.name, a.action_type, COALESCE(a.config, '{}'), COALESCE(a.context_rules, '[]'), COALESCE(a.task_template_id, ''), a.enabled, a.created_at, a.updated_at, COALESCE(a.last_triggered_at, 0)`

// ActionByConfig resolves the action owning a channel config.
func (s *Store) ActionByConfig(ctx context.Context, configType ConfigType, configID string) (Action, error) {
	query := `
SELECT ` + actionJoinColumns + `
FROM actions a
JOIN action_configs ac ON ac.action_id = a.id
WHERE ac.config_type = ? AND ac.config_id = ?`
	row := s.db.Conn().QueryRowContext(ctx, query, string(configType), configID)
	return scanAction(row)
}

// EnabledTriggerBindings returns every enabled trigger config joined to
// its enabled owning action, most recently updated config first.
func (s *Store) EnabledTriggerBindings(ctx context.Context) ([]TriggerBinding, error) {
	query := `
SELECT t.id, t.name, t.catch_type, t.catch_value, t.message_type, t.response_format, COALESCE(t.range_marker, ''), t.enabled, t.created_at, t.updated_at, ` + actionJoinColumns + `
FROM chat_trigger_configs t
JOIN action_configs ac ON ac.config_type IN ('discord', 'slack') AND ac.config_id = t.id
JOIN actions a ON a.id = ac.action_id
WHERE t.enabled = 1 AND a.enabled = 1
ORDER BY t.updated_at DESC, t.id DESC`

	rows, err := s.db.Conn().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bindings []TriggerBinding
	for rows.Next() {
		var (
			cfg                            ChatTriggerConfig
			a                              Action
			catchType, msgType, respFormat string
			actionType                     string
			cfgEnabled, actEnabled         int
			configJSON, rulesJSON          []byte
		)
		err := rows.Scan(
			&cfg.ID, &cfg.Name, &catchType, &cfg.CatchValue, &msgType, &respFormat, &cfg.RangeMarker, &cfgEnabled, &cfg.CreatedAt, &cfg.UpdatedAt,
			&a.ID, &a.Name, &actionType, &configJSON, &rulesJSON, &a.TaskTemplateID, &actEnabled, &a.CreatedAt, &a.UpdatedAt, &a.LastTriggeredAt,
		)
		if err != nil {
			return nil, err
		}
		cfg.CatchType = CatchType(catchType)
		cfg.MessageType = MessageType(msgType)
		cfg.ResponseFormat = types.ResponseFormat(respFormat)
		cfg.Enabled = cfgEnabled != 0
		a.ActionType = Type(actionType)
		a.Enabled = actEnabled != 0
		if err := unmarshalActionJSON(&a, configJSON, rulesJSON); err != nil {
			return nil, err
		}
		bindings = append(bindings, TriggerBinding{Config: cfg, Action: a})
	}
	return bindings, rows.Err()
}

func (s *Store) enabledCatchTaken(ctx context.Context, catchType CatchType, catchValue string, excludeID string) (bool, error) {
	var count int
	query := `SELECT COUNT(1) FROM chat_trigger_configs WHERE enabled = 1 AND catch_type = ? AND catch_value = ? AND id != ?`
	if err := s.db.Conn().QueryRowContext(ctx, query, string(catchType), catchValue, excludeID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (Action, error) {
	var (
		a          Action
		actionType string
		enabled    int
		configJSON []byte
		rulesJSON  []byte
	)
	err := row.Scan(&a.ID, &a.Name, &actionType, &configJSON, &rulesJSON, &a.TaskTemplateID, &enabled, &a.CreatedAt, &a.UpdatedAt, &a.LastTriggeredAt)
	if err != nil {
		return Action{}, err
	}
	a.ActionType = Type(actionType)
	a.Enabled = enabled != 0
	if err := unmarshalActionJSON(&a, configJSON, rulesJSON); err != nil {
		return Action{}, err
	}
	return a, nil
}

func unmarshalActionJSON(a *Action, configJSON, rulesJSON []byte) error {
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &a.Config); err != nil {
			return fmt.Errorf("decode action config: %w", err)
		}
	}
	if len(rulesJSON) > 0 {
		var rules []extract.Rule
		if err := json.Unmarshal(rulesJSON, &rules); err != nil {
			return fmt.Errorf("decode context rules: %w", err)
		}
		a.ContextRules = rules
	}
	return nil
}

func scanTriggerConfig(row rowScanner) (ChatTriggerConfig, error) {
	var (
		cfg                            ChatTriggerConfig
		catchType, msgType, respFormat string
		enabled                        int
	)
	err := row.Scan(&cfg.ID, &cfg.Name, &catchType, &cfg.CatchValue, &msgType, &respFormat, &cfg.RangeMarker, &enabled, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return ChatTriggerConfig{}, err
	}
	cfg.CatchType = CatchType(catchType)
	cfg.MessageType = MessageType(msgType)
	cfg.ResponseFormat = types.ResponseFormat(respFormat)
	cfg.Enabled = enabled != 0
	return cfg, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) newID(prefix string) string {
	seq := atomic.AddUint64(&s.counter, 1)
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), seq)
}
