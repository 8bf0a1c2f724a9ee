package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all flowstate server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath          string `json:"db_path"`
	LogLevel        string `json:"log_level"`
	RedisAddr       string `json:"redis_addr"`
	RedisPassword   string `json:"redis_password"`
	RedisDB         int    `json:"redis_db"`
	LLMBaseURL      string `json:"llm_base_url"`
	LLMAPIKey       string `json:"llm_api_key"`
	LLMModel        string `json:"llm_model"`
	ToolsBaseURL    string `json:"tools_base_url"`
	ToolsAPIKey     string `json:"tools_api_key"`
	KnowledgeURL    string `json:"knowledge_base_url"`
	KnowledgeAPIKey string `json:"knowledge_api_key"`
	HistoryWindow   int    `json:"history_window"`
	MaxDepth        int    `json:"max_subworkflow_depth"`
	MaxNodesPerTurn int    `json:"max_nodes_per_turn"`
	ScriptTimeoutMS int    `json:"script_timeout_ms"`
	SweepCron       string `json:"sweep_cron"`
	SessionTTLHours int    `json:"session_ttl_hours"`
}

func defaultConfig() Config {
	return Config{
		DBPath:          filepath.Join(flowstateDir(), "flowstate.db"),
		LogLevel:        "info",
		LLMModel:        "gpt-4o-mini",
		HistoryWindow:   20,
		MaxDepth:        5,
		MaxNodesPerTurn: 200,
		ScriptTimeoutMS: 5000,
		SweepCron:       "*/15 * * * *",
		SessionTTLHours: 24,
	}
}

func flowstateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowstate"
	}
	return filepath.Join(home, ".flowstate")
}

func settingsPath() string {
	return filepath.Join(flowstateDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("FLOWSTATE_DB_PATH", &cfg.DBPath)
	envStr("FLOWSTATE_LOG_LEVEL", &cfg.LogLevel)
	envStr("FLOWSTATE_REDIS_ADDR", &cfg.RedisAddr)
	envStr("FLOWSTATE_REDIS_PASSWORD", &cfg.RedisPassword)
	envInt("FLOWSTATE_REDIS_DB", &cfg.RedisDB)
	envStr("FLOWSTATE_LLM_BASE_URL", &cfg.LLMBaseURL)
	envStr("FLOWSTATE_LLM_API_KEY", &cfg.LLMAPIKey)
	envStr("FLOWSTATE_LLM_MODEL", &cfg.LLMModel)
	envStr("FLOWSTATE_TOOLS_BASE_URL", &cfg.ToolsBaseURL)
	envStr("FLOWSTATE_TOOLS_API_KEY", &cfg.ToolsAPIKey)
	envStr("FLOWSTATE_KNOWLEDGE_BASE_URL", &cfg.KnowledgeURL)
	envStr("FLOWSTATE_KNOWLEDGE_API_KEY", &cfg.KnowledgeAPIKey)
	envInt("FLOWSTATE_HISTORY_WINDOW", &cfg.HistoryWindow)
	envInt("FLOWSTATE_MAX_SUBWORKFLOW_DEPTH", &cfg.MaxDepth)
	envInt("FLOWSTATE_MAX_NODES_PER_TURN", &cfg.MaxNodesPerTurn)
	envInt("FLOWSTATE_SCRIPT_TIMEOUT_MS", &cfg.ScriptTimeoutMS)
	envStr("FLOWSTATE_SWEEP_CRON", &cfg.SweepCron)
	envInt("FLOWSTATE_SESSION_TTL_HOURS", &cfg.SessionTTLHours)

	return cfg
}

func (c Config) scriptTimeout() time.Duration {
	return time.Duration(c.ScriptTimeoutMS) * time.Millisecond
}

func (c Config) sessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}
