package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/droverhq/drover/internal/llm"
)

// Config holds all drover server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	DBPath     string `json:"db_path"`
	LogLevel   string `json:"log_level"`
	PoolSize   int    `json:"pool_size"`

	SandboxURL    string `json:"sandbox_url"`
	SandboxAPIKey string `json:"sandbox_api_key"`

	// Model chains. Each slice is tried in order; a later entry is the
	// fallback when the one before it fails. Critics is different: each
	// entry is its own critic identity.
	Agent     []llm.ModelConfig `json:"agent"`
	Selector  []llm.ModelConfig `json:"selector"`
	Validator []llm.ModelConfig `json:"validator"`
	Critics   []llm.ModelConfig `json:"critics"`

	JanitorSchedule  string `json:"janitor_schedule"`
	RetentionHours   int    `json:"retention_hours"`
	TerminateOnFirst bool   `json:"terminate_on_first_stage_budget"`
}

func defaultConfig() Config {
	openAIKey := os.Getenv("OPENAI_API_KEY")
	model := func(name string, temperature float32) []llm.ModelConfig {
		return []llm.ModelConfig{{
			Provider:    llm.ProviderOpenAI,
			Model:       name,
			APIKey:      openAIKey,
			Temperature: temperature,
		}}
	}
	// The second critic defaults to a different provider so the two critic
	// identities disagree for reasons beyond sampling temperature.
	claudeCritic := llm.ModelConfig{
		Provider:    llm.ProviderClaude,
		Model:       "claude-3-5-sonnet-latest",
		APIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		Temperature: 0.7,
	}
	return Config{
		ListenAddr:       ":4600",
		DBPath:           filepath.Join(droverDir(), "drover.db"),
		LogLevel:         "info",
		PoolSize:         10,
		SandboxURL:       "http://localhost:8194",
		Agent:            model("gpt-4o", 0),
		Selector:         model("gpt-4o-mini", 0),
		Validator:        model("gpt-4o", 0),
		Critics:          append(model("gpt-4o", 0.7), claudeCritic),
		JanitorSchedule:  "0 * * * *",
		RetentionHours:   24 * 7,
		TerminateOnFirst: true,
	}
}

func droverDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".drover"
	}
	return filepath.Join(home, ".drover")
}

func settingsPath() string {
	return filepath.Join(droverDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("DROVER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DROVER_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DROVER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DROVER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("DROVER_SANDBOX_URL"); v != "" {
		cfg.SandboxURL = v
	}
	if v := os.Getenv("DROVER_SANDBOX_API_KEY"); v != "" {
		cfg.SandboxAPIKey = v
	}
	if v := os.Getenv("DROVER_JANITOR_SCHEDULE"); v != "" {
		cfg.JanitorSchedule = v
	}
	if v := os.Getenv("DROVER_RETENTION_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetentionHours = n
		}
	}
	if v := os.Getenv("DROVER_TERMINATE_ON_FIRST_STAGE_BUDGET"); v != "" {
		cfg.TerminateOnFirst = v == "true" || v == "1"
	}

	return cfg
}

// Retention returns the janitor retention window.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}
