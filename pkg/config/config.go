package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

const (
	ReflectionModeSync  = "sync"
	ReflectionModeAsync = "async"
)

type Config struct {
	Companion  CompanionConfig  `json:"companion"`
	Channels   ChannelsConfig   `json:"channels"`
	Providers  ProvidersConfig  `json:"providers"`
	Gateway    GatewayConfig    `json:"gateway"`
	Memory     MemoryConfig     `json:"memory"`
	Reflection ReflectionConfig `json:"reflection"`
	Log        LogConfig        `json:"log"`
	mu         sync.RWMutex
}

type CompanionConfig struct {
	DataDir             string  `json:"data_dir" env:"DOTCOMPANION_COMPANION_DATA_DIR"`
	UserID              string  `json:"user_id" env:"DOTCOMPANION_COMPANION_USER_ID"`
	Provider            string  `json:"provider" env:"DOTCOMPANION_COMPANION_PROVIDER"`
	Model               string  `json:"model" env:"DOTCOMPANION_COMPANION_MODEL"`
	PersonalityMode     string  `json:"personality_mode" env:"DOTCOMPANION_COMPANION_PERSONALITY_MODE"`
	ReplyMaxTokens      int     `json:"reply_max_tokens" env:"DOTCOMPANION_COMPANION_REPLY_MAX_TOKENS"`
	ReplyTemperature    float64 `json:"reply_temperature" env:"DOTCOMPANION_COMPANION_REPLY_TEMPERATURE"`
	ReplyTimeoutSeconds int     `json:"reply_timeout_seconds" env:"DOTCOMPANION_COMPANION_REPLY_TIMEOUT_SECONDS"`
	TranscriptWindow    int     `json:"transcript_window" env:"DOTCOMPANION_COMPANION_TRANSCRIPT_WINDOW"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token     string              `json:"token" env:"DOTCOMPANION_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"DOTCOMPANION_CHANNELS_DISCORD_ALLOW_FROM"`
}

type ProvidersConfig struct {
	OpenRouter OpenRouterConfig `json:"openrouter"`
	OpenAI     OpenAIConfig     `json:"openai"`
}

type OpenRouterConfig struct {
	APIKey  string `json:"api_key" env:"DOTCOMPANION_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase string `json:"api_base" env:"DOTCOMPANION_PROVIDERS_OPENROUTER_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"DOTCOMPANION_PROVIDERS_OPENROUTER_PROXY"`
}

type OpenAIConfig struct {
	APIKey       string `json:"api_key" env:"DOTCOMPANION_PROVIDERS_OPENAI_API_KEY"`
	APIKeyFile   string `json:"api_key_file,omitempty" env:"DOTCOMPANION_PROVIDERS_OPENAI_API_KEY_FILE"`
	APIBase      string `json:"api_base" env:"DOTCOMPANION_PROVIDERS_OPENAI_API_BASE"`
	Proxy        string `json:"proxy,omitempty" env:"DOTCOMPANION_PROVIDERS_OPENAI_PROXY"`
	Organization string `json:"organization,omitempty" env:"DOTCOMPANION_PROVIDERS_OPENAI_ORGANIZATION"`
	Project      string `json:"project,omitempty" env:"DOTCOMPANION_PROVIDERS_OPENAI_PROJECT"`
}

type GatewayConfig struct {
	Host           string              `json:"host" env:"DOTCOMPANION_GATEWAY_HOST"`
	Port           int                 `json:"port" env:"DOTCOMPANION_GATEWAY_PORT"`
	AllowedOrigins FlexibleStringSlice `json:"allowed_origins" env:"DOTCOMPANION_GATEWAY_ALLOWED_ORIGINS"`
}

type MemoryConfig struct {
	RecentLimit        int     `json:"recent_limit" env:"DOTCOMPANION_MEMORY_RECENT_LIMIT"`
	HighImportanceMax  int     `json:"high_importance_max" env:"DOTCOMPANION_MEMORY_HIGH_IMPORTANCE_MAX"`
	TopicalMax         int     `json:"topical_max" env:"DOTCOMPANION_MEMORY_TOPICAL_MAX"`
	NoveltyThreshold   float64 `json:"novelty_threshold" env:"DOTCOMPANION_MEMORY_NOVELTY_THRESHOLD"`
	WorkerPollMS       int     `json:"worker_poll_ms" env:"DOTCOMPANION_MEMORY_WORKER_POLL_MS"`
	WorkerLeaseSeconds int     `json:"worker_lease_seconds" env:"DOTCOMPANION_MEMORY_WORKER_LEASE_SECONDS"`
}

type ReflectionConfig struct {
	Mode            string  `json:"mode" env:"DOTCOMPANION_REFLECTION_MODE"`
	MaxTokens       int     `json:"max_tokens" env:"DOTCOMPANION_REFLECTION_MAX_TOKENS"`
	Temperature     float64 `json:"temperature" env:"DOTCOMPANION_REFLECTION_TEMPERATURE"`
	TimeoutSeconds  int     `json:"timeout_seconds" env:"DOTCOMPANION_REFLECTION_TIMEOUT_SECONDS"`
	TranscriptTurns int     `json:"transcript_turns" env:"DOTCOMPANION_REFLECTION_TRANSCRIPT_TURNS"`
	DigestEnabled   bool    `json:"digest_enabled" env:"DOTCOMPANION_REFLECTION_DIGEST_ENABLED"`
	DigestCron      string  `json:"digest_cron" env:"DOTCOMPANION_REFLECTION_DIGEST_CRON"`
}

type LogConfig struct {
	Level string `json:"level" env:"DOTCOMPANION_LOG_LEVEL"`
	JSON  bool   `json:"json" env:"DOTCOMPANION_LOG_JSON"`
}

func DefaultConfig() *Config {
	return &Config{
		Companion: CompanionConfig{
			DataDir:             "~/.dotcompanion/data",
			UserID:              "local",
			Provider:            "openrouter",
			Model:               "openai/gpt-5.2",
			PersonalityMode:     "supportive",
			ReplyMaxTokens:      600,
			ReplyTemperature:    0.8,
			ReplyTimeoutSeconds: 45,
			TranscriptWindow:    10,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Gateway: GatewayConfig{
			Host:           "0.0.0.0",
			Port:           18791,
			AllowedOrigins: FlexibleStringSlice{"http://localhost:3000"},
		},
		Memory: MemoryConfig{
			RecentLimit:        5,
			HighImportanceMax:  5,
			TopicalMax:         3,
			NoveltyThreshold:   0.82,
			WorkerPollMS:       700,
			WorkerLeaseSeconds: 60,
		},
		Reflection: ReflectionConfig{
			Mode:            ReflectionModeAsync,
			MaxTokens:       700,
			Temperature:     0.3,
			TimeoutSeconds:  60,
			TranscriptTurns: 6,
			DigestEnabled:   false,
			DigestCron:      "0 3 * * 0",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig layers the JSON file over the defaults, then .env and process
// environment over the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDotEnv reads .env from the working directory and the config directory.
// Variables already present in the process environment win.
func loadDotEnv(configDir string) error {
	candidates := []string{".env"}
	if configDir != "" && configDir != "." {
		candidates = append(candidates, filepath.Join(configDir, ".env"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Reflection.Mode)) {
	case "", ReflectionModeSync, ReflectionModeAsync:
	default:
		return fmt.Errorf("reflection.mode must be %q or %q, got %q", ReflectionModeSync, ReflectionModeAsync, c.Reflection.Mode)
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port)
	}
	return nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) DataPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Companion.DataDir)
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataPath(), "companion.db")
}

func (c *Config) AsyncReflection() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return strings.EqualFold(strings.TrimSpace(c.Reflection.Mode), ReflectionModeAsync)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
