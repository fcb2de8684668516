package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"goosuke/app/core/db"
)

// ErrInvalidTransition means a status update was refused because the
// execution was not in the expected source state. Late results hitting
// a terminal execution surface as this error.
var ErrInvalidTransition = errors.New("invalid execution status transition")

type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

func (s *Store) CreateTemplate(ctx context.Context, tmpl Template) (Template, error) {
	if tmpl.Name == "" {
		return Template{}, fmt.Errorf("template name is required")
	}
	if tmpl.Prompt == "" {
		return Template{}, fmt.Errorf("template prompt is required")
	}
	if tmpl.TaskType == "" {
		tmpl.TaskType = "general"
	}
	extensions, err := json.Marshal(sliceOrEmpty(tmpl.Extensions))
	if err != nil {
		return Template{}, fmt.Errorf("marshal template extensions: %w", err)
	}

	now := time.Now().Unix()
	tmpl.ID = "tmpl-" + uuid.NewString()
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now

	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO task_templates (id, name, task_type, prompt, extensions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, tmpl.ID, tmpl.Name, tmpl.TaskType, tmpl.Prompt, string(extensions), tmpl.CreatedAt, tmpl.UpdatedAt)
	if err != nil {
		return Template{}, fmt.Errorf("insert task template: %w", err)
	}
	return tmpl, nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (Template, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, name, task_type, prompt, COALESCE(extensions, '[]'), created_at, updated_at
		FROM task_templates WHERE id = ?
	`, id)
	return scanTemplate(row)
}

func (s *Store) ListTemplates(ctx context.Context, limit, offset int) ([]Template, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, name, task_type, prompt, COALESCE(extensions, '[]'), created_at, updated_at
		FROM task_templates ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list task templates: %w", err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tmpl)
	}
	return templates, rows.Err()
}

func (s *Store) UpdateTemplatePrompt(ctx context.Context, id, prompt string) error {
	if prompt == "" {
		return fmt.Errorf("template prompt is required")
	}
	res, err := s.db.Conn().ExecContext(ctx, `
		UPDATE task_templates SET prompt = ?, updated_at = ? WHERE id = ?
	`, prompt, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("update task template: %w", err)
	}
	return requireUpdated(res, sql.ErrNoRows)
}

// CreateExecution persists a new execution in pending state. Context
// and extensions are snapshots; later template edits do not affect an
// already-created execution.
func (s *Store) CreateExecution(ctx context.Context, exec Execution) (Execution, error) {
	if exec.TemplateID == "" {
		return Execution{}, fmt.Errorf("execution template id is required")
	}
	if exec.Prompt == "" {
		return Execution{}, fmt.Errorf("execution prompt is required")
	}
	contextJSON, err := json.Marshal(mapOrEmpty(exec.Context))
	if err != nil {
		return Execution{}, fmt.Errorf("marshal execution context: %w", err)
	}
	extensions, err := json.Marshal(sliceOrEmpty(exec.Extensions))
	if err != nil {
		return Execution{}, fmt.Errorf("marshal execution extensions: %w", err)
	}

	exec.ID = "exec-" + uuid.NewString()
	exec.Status = StatusPending
	exec.CreatedAt = time.Now().Unix()
	exec.CompletedAt = 0

	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO task_executions (id, user_id, template_id, task_type, prompt, context, extensions, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, exec.ID, exec.UserID, exec.TemplateID, exec.TaskType, exec.Prompt,
		string(contextJSON), string(extensions), string(exec.Status), exec.CreatedAt)
	if err != nil {
		return Execution{}, fmt.Errorf("insert task execution: %w", err)
	}
	return exec, nil
}

const executionColumns = `id, user_id, template_id, task_type, prompt,
	COALESCE(context, '{}'), COALESCE(extensions, '[]'),
	COALESCE(result, ''), COALESCE(extensions_output, '{}'),
	status, COALESCE(error, ''), COALESCE(error_kind, ''),
	created_at, COALESCE(completed_at, 0)`

func (s *Store) GetExecution(ctx context.Context, id string) (Execution, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM task_executions WHERE id = ?`, id)
	return scanExecution(row)
}

type ExecutionFilter struct {
	UserID     string
	TemplateID string
	Status     Status
	Limit      int
	Offset     int
}

func (s *Store) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM task_executions WHERE 1=1`
	var args []interface{}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.TemplateID != "" {
		query += " AND template_id = ?"
		args = append(args, filter.TemplateID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list task executions: %w", err)
	}
	defer rows.Close()

	var executions []Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	return executions, rows.Err()
}

// MarkRunning moves a pending execution to running. The status guard
// in the WHERE clause serializes competing movers: exactly one update
// wins, everyone else gets ErrInvalidTransition.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	res, err := s.db.Conn().ExecContext(ctx, `
		UPDATE task_executions SET status = ? WHERE id = ? AND status = ?
	`, string(StatusRunning), id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("mark execution running: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

func (s *Store) MarkCompleted(ctx context.Context, id, result string, extensionsOutput map[string]interface{}) error {
	output, err := json.Marshal(mapAnyOrEmpty(extensionsOutput))
	if err != nil {
		return fmt.Errorf("marshal extensions output: %w", err)
	}
	res, err := s.db.Conn().ExecContext(ctx, `
		UPDATE task_executions
		SET status = ?, result = ?, extensions_output = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(StatusCompleted), result, string(output), time.Now().Unix(), id, string(StatusRunning))
	if err != nil {
		return fmt.Errorf("mark execution completed: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

// MarkFailed moves an execution to failed. Infrastructure failures are
// the one case allowed to fail straight from pending, because the
// execution never started; every other kind must come from running.
func (s *Store) MarkFailed(ctx context.Context, id, message string, kind ErrorKind) error {
	from := StatusRunning
	if kind == ErrKindInfrastructure {
		from = StatusPending
	}
	res, err := s.db.Conn().ExecContext(ctx, `
		UPDATE task_executions
		SET status = ?, error = ?, error_kind = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(StatusFailed), message, string(kind), time.Now().Unix(), id, string(from))
	if err != nil {
		return fmt.Errorf("mark execution failed: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

func (s *Store) checkTransition(ctx context.Context, res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check execution update: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var exists int
	if err := s.db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(1) FROM task_executions WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check execution existence: %w", err)
	}
	if exists == 0 {
		return sql.ErrNoRows
	}
	return ErrInvalidTransition
}

func scanTemplate(row rowScanner) (Template, error) {
	var tmpl Template
	var extensions string
	err := row.Scan(&tmpl.ID, &tmpl.Name, &tmpl.TaskType, &tmpl.Prompt,
		&extensions, &tmpl.CreatedAt, &tmpl.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Template{}, err
		}
		return Template{}, fmt.Errorf("scan task template: %w", err)
	}
	if err := json.Unmarshal([]byte(extensions), &tmpl.Extensions); err != nil {
		return Template{}, fmt.Errorf("unmarshal template extensions: %w", err)
	}
	return tmpl, nil
}

func scanExecution(row rowScanner) (Execution, error) {
	var exec Execution
	var contextJSON, extensions, output, status, errorKind string
	err := row.Scan(&exec.ID, &exec.UserID, &exec.TemplateID, &exec.TaskType, &exec.Prompt,
		&contextJSON, &extensions, &exec.Result, &output,
		&status, &exec.Error, &errorKind, &exec.CreatedAt, &exec.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Execution{}, err
		}
		return Execution{}, fmt.Errorf("scan task execution: %w", err)
	}
	exec.Status = Status(status)
	exec.ErrorKind = ErrorKind(errorKind)
	if err := json.Unmarshal([]byte(contextJSON), &exec.Context); err != nil {
		return Execution{}, fmt.Errorf("unmarshal execution context: %w", err)
	}
	if err := json.Unmarshal([]byte(extensions), &exec.Extensions); err != nil {
		return Execution{}, fmt.Errorf("unmarshal execution extensions: %w", err)
	}
	if err := json.Unmarshal([]byte(output), &exec.ExtensionsOutput); err != nil {
		return Execution{}, fmt.Errorf("unmarshal extensions output: %w", err)
	}
	return exec, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func requireUpdated(res sql.Result, missing error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return missing
	}
	return nil
}

func sliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func mapOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func mapAnyOrEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
