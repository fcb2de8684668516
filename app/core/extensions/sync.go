package extensions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"gopkg.in/yaml.v3"

	"goosuke/app/pkg/logger"
)

// SyncEntryError is a per-entry synchronization failure. One bad entry
// never aborts the rest of the run.
type SyncEntryError struct {
	Entry string
	Err   error
}

func (e *SyncEntryError) Error() string {
	return fmt.Sprintf("sync entry %q: %v", e.Entry, e.Err)
}

func (e *SyncEntryError) Unwrap() error { return e.Err }

// SyncResult summarizes one synchronization direction.
type SyncResult struct {
	Synced int
	Errors []SyncEntryError
}

func (r SyncResult) merge(other SyncResult) SyncResult {
	return SyncResult{
		Synced: r.Synced + other.Synced,
		Errors: append(r.Errors, other.Errors...),
	}
}

// docEntry mirrors one extension entry in the agent's config.yaml.
// Pointer fields distinguish absent keys from zero values, which is
// what makes partial updates possible.
type docEntry struct {
	Name    *string            `yaml:"name,omitempty"`
	Enabled *bool              `yaml:"enabled,omitempty"`
	Type    *string            `yaml:"type,omitempty"`
	Cmd     *string            `yaml:"cmd,omitempty"`
	Args    *[]string          `yaml:"args,omitempty"`
	Timeout *int               `yaml:"timeout,omitempty"`
	Envs    *map[string]string `yaml:"envs,omitempty"`
	EnvKeys *[]string          `yaml:"env_keys,omitempty"`
}

// Synchronizer reconciles the extensions table with the goose agent's
// on-disk config.yaml. The database is the durable record; the
// document is a derived view the agent reads.
type Synchronizer struct {
	store        *Store
	configPath   string
	lookupSecret func(key string) (string, bool)
}

func NewSynchronizer(store *Store, configPath string) *Synchronizer {
	if configPath == "" {
		configPath = DefaultConfigPath()
	}
	return &Synchronizer{store: store, configPath: configPath, lookupSecret: os.LookupEnv}
}

// DefaultConfigPath resolves where goose keeps its configuration.
func DefaultConfigPath() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "Block", "goose", "config", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "goose", "config.yaml")
}

// InitSync runs both directions once, document first so external edits
// land in the database before the database view is written back. Meant
// to be called explicitly from process bootstrap.
func (s *Synchronizer) InitSync(ctx context.Context) (SyncResult, error) {
	fromResult, err := s.SyncFromGoose(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync from goose: %w", err)
	}
	toResult, err := s.SyncToGoose(ctx)
	if err != nil {
		return fromResult, fmt.Errorf("sync to goose: %w", err)
	}
	result := fromResult.merge(toResult)
	for _, entryErr := range result.Errors {
		logger.Warn("extension sync: %v", &entryErr)
	}
	logger.Info("extension sync complete: %d entries", result.Synced)
	return result, nil
}

// SyncFromGoose upserts an extension row for each enabled entry in the
// document. Fields absent from an entry are left untouched on existing
// rows. Malformed entries are collected, not fatal.
func (s *Synchronizer) SyncFromGoose(ctx context.Context) (SyncResult, error) {
	doc, err := s.readDocument()
	if err != nil {
		return SyncResult{}, err
	}

	entries, err := documentExtensions(doc)
	if err != nil {
		return SyncResult{}, err
	}

	var result SyncResult
	for _, key := range sortedKeys(entries) {
		entry, err := decodeEntry(entries[key])
		if err != nil {
			result.Errors = append(result.Errors, SyncEntryError{Entry: key, Err: err})
			continue
		}
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}

		name := key
		if entry.Name != nil && *entry.Name != "" {
			name = *entry.Name
		}
		patch, err := entryPatch(entry)
		if err != nil {
			result.Errors = append(result.Errors, SyncEntryError{Entry: key, Err: err})
			continue
		}
		if _, changed, err := s.store.Upsert(ctx, name, patch); err != nil {
			result.Errors = append(result.Errors, SyncEntryError{Entry: key, Err: err})
		} else if changed {
			result.Synced++
		}
	}
	return result, nil
}

// SyncToGoose writes every enabled extension row into the document and
// removes entries for disabled rows. Disabled extensions stay in the
// database. Keys unrelated to extensions are preserved as-is.
func (s *Synchronizer) SyncToGoose(ctx context.Context) (SyncResult, error) {
	doc, err := s.readDocument()
	if err != nil {
		return SyncResult{}, err
	}

	entries, err := documentExtensions(doc)
	if err != nil {
		return SyncResult{}, err
	}

	list, err := s.store.List(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	var result SyncResult
	for _, ext := range list {
		if !ext.Enabled {
			delete(entries, ext.Name)
			continue
		}
		entry, entryErr := s.buildEntry(ext)
		if entryErr != nil {
			result.Errors = append(result.Errors, *entryErr)
		}
		entries[ext.Name] = entry
		result.Synced++
	}

	doc["extensions"] = entries
	if err := s.writeDocument(doc); err != nil {
		return result, err
	}
	return result, nil
}

// buildEntry renders one row as a document entry. A secret that cannot
// be resolved is reported but the entry is still written with what is
// available.
func (s *Synchronizer) buildEntry(ext Extension) (map[string]interface{}, *SyncEntryError) {
	entry := map[string]interface{}{
		"name":    ext.Name,
		"enabled": true,
		"type":    string(ext.ExtType),
	}
	if ext.Cmd != "" {
		entry["cmd"] = ext.Cmd
	}
	if len(ext.Args) > 0 {
		entry["args"] = ext.Args
	}
	if ext.Timeout > 0 {
		entry["timeout"] = ext.Timeout
	}

	envs := make(map[string]string, len(ext.Envs)+len(ext.Secrets))
	for k, v := range ext.Envs {
		envs[k] = v
	}
	var entryErr *SyncEntryError
	var missing []string
	for _, key := range ext.Secrets {
		value, ok := s.lookupSecret(key)
		if !ok {
			missing = append(missing, key)
			continue
		}
		envs[key] = value
	}
	if len(envs) > 0 {
		entry["envs"] = envs
	}
	if len(missing) > 0 {
		entryErr = &SyncEntryError{
			Entry: ext.Name,
			Err:   fmt.Errorf("unresolved secrets: %v", missing),
		}
	}
	return entry, entryErr
}

func (s *Synchronizer) readDocument() (map[string]interface{}, error) {
	data, err := os.ReadFile(s.configPath)
	if os.IsNotExist(err) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read goose config %s: %w", s.configPath, err)
	}
	doc := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse goose config %s: %w", s.configPath, err)
	}
	return doc, nil
}

func (s *Synchronizer) writeDocument(doc map[string]interface{}) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal goose config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.configPath), 0755); err != nil {
		return fmt.Errorf("create goose config dir: %w", err)
	}
	if err := os.WriteFile(s.configPath, data, 0644); err != nil {
		return fmt.Errorf("write goose config %s: %w", s.configPath, err)
	}
	return nil
}

func documentExtensions(doc map[string]interface{}) (map[string]interface{}, error) {
	raw, ok := doc["extensions"]
	if !ok || raw == nil {
		return map[string]interface{}{}, nil
	}
	entries, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("extensions section is not a mapping")
	}
	return entries, nil
}

func decodeEntry(raw interface{}) (docEntry, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return docEntry{}, fmt.Errorf("encode entry: %w", err)
	}
	var entry docEntry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return docEntry{}, fmt.Errorf("malformed entry: %w", err)
	}
	return entry, nil
}

func entryPatch(entry docEntry) (Patch, error) {
	patch := Patch{
		Enabled: entry.Enabled,
		Cmd:     entry.Cmd,
		Args:    entry.Args,
		Timeout: entry.Timeout,
		Envs:    entry.Envs,
		Secrets: entry.EnvKeys,
	}
	if entry.Type != nil {
		extType := Type(*entry.Type)
		if !ValidType(extType) {
			return Patch{}, fmt.Errorf("invalid extension type: %s", *entry.Type)
		}
		patch.ExtType = &extType
	}
	return patch, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
