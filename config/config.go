package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StorageTypeMemory   = "memory"
	StorageTypeRedis    = "redis"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

const DefaultSystemPrompt = `You are Peaceful AI, a helpful coding assistant. You help users write, debug, and understand code.
You provide clear explanations and working code examples. Format code blocks with proper syntax highlighting using markdown.`

type Completion struct {
	APIKey            string `yaml:"api_key" env:"OPENROUTER_API_KEY"`
	BaseURL           string `yaml:"base_url" env:"OPENROUTER_BASE_URL" env-default:"https://openrouter.ai/api/v1"`
	Model             string `yaml:"model" env:"OPENROUTER_MODEL" env-default:"mistralai/mistral-7b-instruct:free"`
	SystemPrompt      string `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	Referer           string `yaml:"referer" env:"OPENROUTER_REFERER"`
	Title             string `yaml:"title" env:"OPENROUTER_TITLE" env-default:"Peaceful AI"`
	HistoryTokenLimit int    `yaml:"history_token_limit" env:"HISTORY_TOKEN_LIMIT"`
}

type Redis struct {
	Endpoint string `yaml:"endpoint" env:"REDIS_ENDPOINT" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type SQL struct {
	DSN string `yaml:"dsn" env:"SQL_DSN" env-default:"peaceful.db"`
}

type Storage struct {
	Type  string `yaml:"type" env:"STORAGE_TYPE" env-default:"memory"`
	Redis Redis  `yaml:"redis"`
	SQL   SQL    `yaml:"sql"`
}

type Chat struct {
	// ConversationIdleTimeout evicts conversations nobody touched for this
	// long from memory; they are reloaded from storage on next use. Zero
	// keeps them for the life of the process.
	ConversationIdleTimeout time.Duration `yaml:"conversation_idle_timeout" env:"CONVERSATION_IDLE_TIMEOUT" env-default:"30m"`
}

type HTTP struct {
	Addr string `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
}

type Telegram struct {
	TelegramAPIToken  string        `yaml:"api_token" env:"TELEGRAM_APITOKEN"`
	AllowedTelegramID []int64       `yaml:"allowed_telegram_ids" env:"ALLOWED_TELEGRAM_ID" env-separator:","`
	EditInterval      time.Duration `yaml:"edit_interval" env:"TELEGRAM_EDIT_INTERVAL" env-default:"2500ms"`
}

type Log struct {
	Development bool `yaml:"development" env:"LOG_DEVELOPMENT"`
}

type Config struct {
	Completion Completion `yaml:"completion"`
	Chat       Chat       `yaml:"chat"`
	Storage    Storage    `yaml:"storage"`
	HTTP       HTTP       `yaml:"http"`
	Telegram   Telegram   `yaml:"telegram"`
	Log        Log        `yaml:"log"`
}

// LoadConfig reads cfgPath (when set) and then the environment.
func LoadConfig(cfgPath string) (*Config, error) {
	var cfg Config
	if cfgPath != "" {
		if err := cleanenv.ReadConfig(cfgPath, &cfg); err != nil {
			return nil, err
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	if cfg.Completion.SystemPrompt == "" {
		cfg.Completion.SystemPrompt = DefaultSystemPrompt
	}
	return &cfg, nil
}
