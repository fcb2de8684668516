package extensions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"goosuke/app/core/db"
)

// Type classifies how the external agent launches an extension.
type Type string

const (
	TypeBuiltin Type = "builtin"
	TypeStdio   Type = "stdio"
	TypeSSE     Type = "sse"
)

func ValidType(t Type) bool {
	switch t {
	case TypeBuiltin, TypeStdio, TypeSSE:
		return true
	}
	return false
}

// Extension is a named capability record. Name is unique and serves as
// the reconciliation key against the external configuration document.
type Extension struct {
	ID          string
	Name        string
	Description string
	Version     string
	Enabled     bool
	ExtType     Type
	Cmd         string
	Args        []string
	Timeout     int
	Envs        map[string]string
	Secrets     []string
	CreatedAt   int64
	UpdatedAt   int64
}

// Patch carries a partial update. Nil fields are left untouched on the
// existing row, never nulled out.
type Patch struct {
	Description *string
	Version     *string
	Enabled     *bool
	ExtType     *Type
	Cmd         *string
	Args        *[]string
	Timeout     *int
	Envs        *map[string]string
	Secrets     *[]string
}

type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Upsert creates or partially updates the extension with the given
// name. The returned bool reports whether anything actually changed;
// reapplying an identical patch is a no-op.
func (s *Store) Upsert(ctx context.Context, name string, patch Patch) (Extension, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Extension{}, false, fmt.Errorf("extension name is required")
	}
	if patch.ExtType != nil && !ValidType(*patch.ExtType) {
		return Extension{}, false, fmt.Errorf("invalid extension type: %s", *patch.ExtType)
	}

	existing, err := s.GetByName(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		return s.insert(ctx, name, patch)
	}
	if err != nil {
		return Extension{}, false, err
	}

	updated := applyPatch(existing, patch)
	if extensionsEqual(existing, updated) {
		return existing, false, nil
	}
	updated.UpdatedAt = time.Now().Unix()
	if err := s.write(ctx, updated); err != nil {
		return Extension{}, false, err
	}
	return updated, true, nil
}

func (s *Store) insert(ctx context.Context, name string, patch Patch) (Extension, bool, error) {
	now := time.Now().Unix()
	ext := applyPatch(Extension{Name: name, Enabled: true}, patch)
	ext.ID = "ext-" + uuid.NewString()
	ext.CreatedAt = now
	ext.UpdatedAt = now
	if ext.ExtType == "" {
		ext.ExtType = TypeStdio
	}

	args, envs, secrets, err := marshalFields(ext)
	if err != nil {
		return Extension{}, false, err
	}
	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO extensions (id, name, description, version, enabled, type, cmd, args, timeout, envs, secrets, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ext.ID, ext.Name, ext.Description, ext.Version, boolToInt(ext.Enabled), string(ext.ExtType),
		ext.Cmd, args, ext.Timeout, envs, secrets, ext.CreatedAt, ext.UpdatedAt)
	if err != nil {
		return Extension{}, false, fmt.Errorf("insert extension %s: %w", name, err)
	}
	return ext, true, nil
}

func (s *Store) write(ctx context.Context, ext Extension) error {
	args, envs, secrets, err := marshalFields(ext)
	if err != nil {
		return err
	}
	_, err = s.db.Conn().ExecContext(ctx, `
		UPDATE extensions
		SET description = ?, version = ?, enabled = ?, type = ?, cmd = ?, args = ?, timeout = ?, envs = ?, secrets = ?, updated_at = ?
		WHERE id = ?
	`, ext.Description, ext.Version, boolToInt(ext.Enabled), string(ext.ExtType),
		ext.Cmd, args, ext.Timeout, envs, secrets, ext.UpdatedAt, ext.ID)
	if err != nil {
		return fmt.Errorf("update extension %s: %w", ext.Name, err)
	}
	return nil
}

const extensionColumns = `id, name, COALESCE(description, ''), COALESCE(version, ''), enabled,
	COALESCE(type, ''), COALESCE(cmd, ''), COALESCE(args, '[]'), COALESCE(timeout, 0),
	COALESCE(envs, '{}'), COALESCE(secrets, '[]'), created_at, updated_at`

func (s *Store) GetByName(ctx context.Context, name string) (Extension, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT `+extensionColumns+` FROM extensions WHERE name = ?`, name)
	return scanExtension(row)
}

// List returns all extensions ordered by name, disabled ones included.
func (s *Store) List(ctx context.Context) ([]Extension, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT `+extensionColumns+` FROM extensions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list extensions: %w", err)
	}
	defer rows.Close()

	var list []Extension
	for rows.Next() {
		ext, err := scanExtension(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, ext)
	}
	return list, rows.Err()
}

func (s *Store) SetEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.db.Conn().ExecContext(ctx, `
		UPDATE extensions SET enabled = ?, updated_at = ? WHERE name = ?
	`, boolToInt(enabled), time.Now().Unix(), name)
	if err != nil {
		return fmt.Errorf("set extension enabled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.Conn().ExecContext(ctx, `DELETE FROM extensions WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete extension: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func applyPatch(ext Extension, patch Patch) Extension {
	if patch.Description != nil {
		ext.Description = *patch.Description
	}
	if patch.Version != nil {
		ext.Version = *patch.Version
	}
	if patch.Enabled != nil {
		ext.Enabled = *patch.Enabled
	}
	if patch.ExtType != nil {
		ext.ExtType = *patch.ExtType
	}
	if patch.Cmd != nil {
		ext.Cmd = *patch.Cmd
	}
	if patch.Args != nil {
		ext.Args = *patch.Args
	}
	if patch.Timeout != nil {
		ext.Timeout = *patch.Timeout
	}
	if patch.Envs != nil {
		ext.Envs = *patch.Envs
	}
	if patch.Secrets != nil {
		ext.Secrets = *patch.Secrets
	}
	return ext
}

func extensionsEqual(a, b Extension) bool {
	a.UpdatedAt, b.UpdatedAt = 0, 0
	return reflect.DeepEqual(a, b)
}

func marshalFields(ext Extension) (string, string, string, error) {
	args, err := json.Marshal(sliceOrEmpty(ext.Args))
	if err != nil {
		return "", "", "", fmt.Errorf("marshal extension args: %w", err)
	}
	envs, err := json.Marshal(mapOrEmpty(ext.Envs))
	if err != nil {
		return "", "", "", fmt.Errorf("marshal extension envs: %w", err)
	}
	secrets, err := json.Marshal(sliceOrEmpty(ext.Secrets))
	if err != nil {
		return "", "", "", fmt.Errorf("marshal extension secrets: %w", err)
	}
	return string(args), string(envs), string(secrets), nil
}

func scanExtension(row interface{ Scan(...interface{}) error }) (Extension, error) {
	var ext Extension
	var enabled int
	var extType, args, envs, secrets string
	err := row.Scan(&ext.ID, &ext.Name, &ext.Description, &ext.Version, &enabled,
		&extType, &ext.Cmd, &args, &ext.Timeout, &envs, &secrets, &ext.CreatedAt, &ext.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Extension{}, err
		}
		return Extension{}, fmt.Errorf("scan extension: %w", err)
	}
	ext.Enabled = enabled != 0
	ext.ExtType = Type(extType)
	if err := json.Unmarshal([]byte(args), &ext.Args); err != nil {
		return Extension{}, fmt.Errorf("unmarshal extension args: %w", err)
	}
	if err := json.Unmarshal([]byte(envs), &ext.Envs); err != nil {
		return Extension{}, fmt.Errorf("unmarshal extension envs: %w", err)
	}
	if err := json.Unmarshal([]byte(secrets), &ext.Secrets); err != nil {
		return Extension{}, fmt.Errorf("unmarshal extension secrets: %w", err)
	}
	return ext, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
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
