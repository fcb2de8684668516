package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	App      AppConfig      `json:"app"`
	Executor ExecutorConfig `json:"executor"`
	Dispatch DispatchConfig `json:"dispatch"`
	Goose    GooseConfig    `json:"goose"`
}

type AppConfig struct {
	Name    string `json:"name"`
	DataDir string `json:"data_dir"`
	LogDir  string `json:"log_dir"`
}

type ExecutorConfig struct {
	Kind           string `json:"kind"` // "goose" or "openai"
	TimeoutSec     int    `json:"timeout_sec"`
	OpenAIModel    string `json:"openai_model"`
	OpenAIKeyEnv   string `json:"openai_key_env"`
	ConsoleUserID  string `json:"console_user_id"`
	ConsoleChannel string `json:"console_channel"`
}

type DispatchConfig struct {
	QueueSize         int `json:"queue_size"`
	Workers           int `json:"workers"`
	CollectorLookback int `json:"collector_lookback"`
	ThreadLimit       int `json:"thread_limit"`
}

type GooseConfig struct {
	Binary          string `json:"binary"`
	ConfigPath      string `json:"config_path"` // empty = platform default
	ResyncMinutes   int    `json:"resync_minutes"`
	SessionPrefix   string `json:"session_prefix"`
	DisableResync   bool   `json:"disable_resync"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	cfg := defaultConfig()
	mgr := &Manager{
		path: path,
		cfg:  cfg,
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	return Config{
		App: AppConfig{
			Name:    "Goosuke",
			DataDir: filepath.Join("output", "db"),
			LogDir:  filepath.Join("output", "logs"),
		},
		Executor: ExecutorConfig{
			Kind:           "goose",
			TimeoutSec:     300,
			OpenAIModel:    "gpt-4o",
			OpenAIKeyEnv:   "OPENAI_API_KEY",
			ConsoleUserID:  "local_user",
			ConsoleChannel: "console",
		},
		Dispatch: DispatchConfig{
			QueueSize:         64,
			Workers:           4,
			CollectorLookback: 200,
			ThreadLimit:       100,
		},
		Goose: GooseConfig{
			Binary:        "goose",
			ResyncMinutes: 30,
			SessionPrefix: "goosuke",
		},
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.App.Name) == "" {
		cfg.App.Name = "Goosuke"
	}
	if strings.TrimSpace(cfg.App.DataDir) == "" {
		cfg.App.DataDir = filepath.Join("output", "db")
	}
	if strings.TrimSpace(cfg.App.LogDir) == "" {
		cfg.App.LogDir = filepath.Join("output", "logs")
	}
	if strings.TrimSpace(cfg.Executor.Kind) == "" {
		cfg.Executor.Kind = "goose"
	}
	if cfg.Executor.TimeoutSec <= 0 {
		cfg.Executor.TimeoutSec = 300
	}
	if strings.TrimSpace(cfg.Executor.OpenAIModel) == "" {
		cfg.Executor.OpenAIModel = "gpt-4o"
	}
	if strings.TrimSpace(cfg.Executor.OpenAIKeyEnv) == "" {
		cfg.Executor.OpenAIKeyEnv = "OPENAI_API_KEY"
	}
	if strings.TrimSpace(cfg.Executor.ConsoleUserID) == "" {
		cfg.Executor.ConsoleUserID = "local_user"
	}
	if strings.TrimSpace(cfg.Executor.ConsoleChannel) == "" {
		cfg.Executor.ConsoleChannel = "console"
	}
	if cfg.Dispatch.QueueSize <= 0 {
		cfg.Dispatch.QueueSize = 64
	}
	if cfg.Dispatch.Workers <= 0 {
		cfg.Dispatch.Workers = 4
	}
	if cfg.Dispatch.CollectorLookback <= 0 {
		cfg.Dispatch.CollectorLookback = 200
	}
	if cfg.Dispatch.ThreadLimit <= 0 {
		cfg.Dispatch.ThreadLimit = 100
	}
	if strings.TrimSpace(cfg.Goose.Binary) == "" {
		cfg.Goose.Binary = "goose"
	}
	if cfg.Goose.ResyncMinutes <= 0 {
		cfg.Goose.ResyncMinutes = 30
	}
	if strings.TrimSpace(cfg.Goose.SessionPrefix) == "" {
		cfg.Goose.SessionPrefix = "goosuke"
	}
}
