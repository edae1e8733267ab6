package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// BotConfig holds configuration for the bot process.
type BotConfig struct {
	TelegramAPIBase      string `toml:"telegram_api_base"`
	TelegramFileBase     string `toml:"telegram_file_base"`
	Timeout              int    `toml:"poll_timeout"`
	SleepSeconds         int    `toml:"sleep_seconds"`
	DropPending          bool   `toml:"drop_pending"`
	Commander            string `toml:"commander"`
	DummyCommanderScript string `toml:"dummy_commander_script"`
	DummySendScript      string `toml:"dummy_send_script"`

	Generator             string `toml:"generator"`
	DummyGeneratorScript  string `toml:"dummy_generator_script"`
	TextModelsURL         string `toml:"text_models_url"`
	ImageModelsURL        string `toml:"image_models_url"`
	OpenAIBaseURL         string `toml:"openai_base_url"`
	OpenAIAPIKey          string `toml:"openai_api_key"`
	ImageGenerationURL    string `toml:"image_generation_url"`
	AudioModelName        string `toml:"audio_model_name"`
	DefaultVoice          string `toml:"default_voice"`
	CallTimeoutSeconds    int    `toml:"call_timeout_seconds"`
	HistoryMaxTokens      int    `toml:"history_max_tokens"`
	HistoryFetchLimit     int    `toml:"history_fetch_limit"`
	HistoryRetentionDays  int    `toml:"history_retention_days"`
	PruneIntervalHours    int    `toml:"prune_interval_hours"`
	UserQueueSize         int    `toml:"user_queue_size"`
	WorkerIdleSeconds     int    `toml:"worker_idle_seconds"`
	CircuitThreshold      int    `toml:"circuit_threshold"`
	CircuitCooldownSecond int    `toml:"circuit_cooldown_seconds"`

	DBPath        string `toml:"db_path"`
	LogLevel      string `toml:"log_level"`
	LogFormat     string `toml:"log_format"`
	LogFile       string `toml:"log_file"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`
	LogMaxAgeDays int    `toml:"log_max_age_days"`
}

// DefaultBotConfig returns the configuration used when neither a config
// file nor environment variables override a field.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		TelegramAPIBase:       "https://api.telegram.org",
		TelegramFileBase:      "https://api.telegram.org/file",
		Timeout:               30,
		SleepSeconds:          1,
		DropPending:           true,
		Commander:             "telegram",
		DummyCommanderScript:  "ok",
		DummySendScript:       "ok",
		Generator:             "pollinations",
		DummyGeneratorScript:  "ok",
		TextModelsURL:         "https://text.pollinations.ai/models",
		ImageModelsURL:        "https://image.pollinations.ai/models",
		OpenAIBaseURL:         "https://text.pollinations.ai/openai",
		ImageGenerationURL:    "https://image.pollinations.ai/prompt/",
		AudioModelName:        "openai-audio",
		DefaultVoice:          "alloy",
		CallTimeoutSeconds:    120,
		HistoryMaxTokens:      2000,
		HistoryFetchLimit:     200,
		HistoryRetentionDays:  7,
		PruneIntervalHours:    24,
		UserQueueSize:         16,
		WorkerIdleSeconds:     600,
		CircuitThreshold:      5,
		CircuitCooldownSecond: 30,
		DBPath:                "data/bot_data.db",
		LogLevel:              "info",
		LogFormat:             "console",
		LogMaxSizeMB:          50,
		LogMaxBackups:         5,
		LogMaxAgeDays:         28,
	}
}

// LoadBotConfig reads the optional TOML file named by MEDIABOT_CONFIG and
// then applies environment variable overrides.
func LoadBotConfig() (BotConfig, error) {
	cfg := DefaultBotConfig()

	if path := os.Getenv("MEDIABOT_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return BotConfig{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.Timeout = envIntOrDefault("TG_TIMEOUT", cfg.Timeout)
	cfg.SleepSeconds = envIntOrDefault("TG_SLEEP_SECONDS", cfg.SleepSeconds)
	cfg.DropPending = envBoolOrDefault("TG_DROP_PENDING", cfg.DropPending)
	cfg.Commander = envOrDefault("MEDIABOT_COMMANDER", cfg.Commander)
	cfg.DummyCommanderScript = envOrDefault("MEDIABOT_DUMMY_COMMANDER_SCRIPT", cfg.DummyCommanderScript)
	cfg.DummySendScript = envOrDefault("MEDIABOT_DUMMY_COMMANDER_SEND_SCRIPT", cfg.DummySendScript)
	cfg.Generator = envOrDefault("MEDIABOT_GENERATOR", cfg.Generator)
	cfg.DummyGeneratorScript = envOrDefault("MEDIABOT_DUMMY_GENERATOR_SCRIPT", cfg.DummyGeneratorScript)
	cfg.TextModelsURL = envOrDefault("POLLINATIONS_TEXT_MODELS_URL", cfg.TextModelsURL)
	cfg.ImageModelsURL = envOrDefault("POLLINATIONS_IMAGE_MODELS_URL", cfg.ImageModelsURL)
	cfg.OpenAIBaseURL = envOrDefault("POLLINATIONS_OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.OpenAIAPIKey = envOrDefault("POLLINATIONS_API_KEY", cfg.OpenAIAPIKey)
	cfg.ImageGenerationURL = envOrDefault("POLLINATIONS_IMAGE_URL", cfg.ImageGenerationURL)
	cfg.AudioModelName = envOrDefault("POLLINATIONS_AUDIO_MODEL", cfg.AudioModelName)
	cfg.DefaultVoice = envOrDefault("MEDIABOT_DEFAULT_VOICE", cfg.DefaultVoice)
	cfg.CallTimeoutSeconds = envIntOrDefault("MEDIABOT_CALL_TIMEOUT_SECONDS", cfg.CallTimeoutSeconds)
	cfg.HistoryMaxTokens = envIntOrDefault("MEDIABOT_HISTORY_MAX_TOKENS", cfg.HistoryMaxTokens)
	cfg.HistoryFetchLimit = envIntOrDefault("MEDIABOT_HISTORY_FETCH_LIMIT", cfg.HistoryFetchLimit)
	cfg.HistoryRetentionDays = envIntOrDefault("MEDIABOT_HISTORY_RETENTION_DAYS", cfg.HistoryRetentionDays)
	cfg.PruneIntervalHours = envIntOrDefault("MEDIABOT_PRUNE_INTERVAL_HOURS", cfg.PruneIntervalHours)
	cfg.UserQueueSize = envIntOrDefault("MEDIABOT_USER_QUEUE_SIZE", cfg.UserQueueSize)
	cfg.WorkerIdleSeconds = envIntOrDefault("MEDIABOT_WORKER_IDLE_SECONDS", cfg.WorkerIdleSeconds)
	cfg.CircuitThreshold = envIntOrDefault("MEDIABOT_CIRCUIT_THRESHOLD", cfg.CircuitThreshold)
	cfg.CircuitCooldownSecond = envIntOrDefault("MEDIABOT_CIRCUIT_COOLDOWN_SECONDS", cfg.CircuitCooldownSecond)
	cfg.DBPath = envOrDefault("MEDIABOT_DB_PATH", cfg.DBPath)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOrDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.LogFile = envOrDefault("LOG_FILE", cfg.LogFile)
	cfg.LogMaxSizeMB = envIntOrDefault("LOG_MAX_SIZE_MB", cfg.LogMaxSizeMB)
	cfg.LogMaxBackups = envIntOrDefault("LOG_MAX_BACKUPS", cfg.LogMaxBackups)
	cfg.LogMaxAgeDays = envIntOrDefault("LOG_MAX_AGE_DAYS", cfg.LogMaxAgeDays)

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if cfg.Commander == "telegram" && token == "" {
		return BotConfig{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when MEDIABOT_COMMANDER=telegram")
	}
	base := strings.TrimRight(envOrDefault("TELEGRAM_API_BASE", cfg.TelegramAPIBase), "/")
	fileBase := strings.TrimRight(envOrDefault("TELEGRAM_FILE_BASE", cfg.TelegramFileBase), "/")
	cfg.TelegramAPIBase = fmt.Sprintf("%s/bot%s", base, token)
	cfg.TelegramFileBase = fmt.Sprintf("%s/bot%s", fileBase, token)

	if err := cfg.validate(); err != nil {
		return BotConfig{}, err
	}
	return cfg, nil
}

func (c BotConfig) validate() error {
	switch c.Commander {
	case "telegram", "dummy":
	default:
		return fmt.Errorf("unsupported MEDIABOT_COMMANDER: %s", c.Commander)
	}
	switch c.Generator {
	case "pollinations", "dummy":
	default:
		return fmt.Errorf("unsupported MEDIABOT_GENERATOR: %s", c.Generator)
	}
	if c.CallTimeoutSeconds <= 0 {
		return fmt.Errorf("MEDIABOT_CALL_TIMEOUT_SECONDS must be > 0")
	}
	if c.HistoryMaxTokens <= 0 {
		return fmt.Errorf("MEDIABOT_HISTORY_MAX_TOKENS must be > 0")
	}
	if c.HistoryFetchLimit <= 0 {
		return fmt.Errorf("MEDIABOT_HISTORY_FETCH_LIMIT must be > 0")
	}
	if c.UserQueueSize <= 0 {
		return fmt.Errorf("MEDIABOT_USER_QUEUE_SIZE must be > 0")
	}
	if c.WorkerIdleSeconds <= 0 {
		return fmt.Errorf("MEDIABOT_WORKER_IDLE_SECONDS must be > 0")
	}
	return nil
}

// PruneConfig holds configuration for the history-prune command.
type PruneConfig struct {
	DBPath        string
	RetentionDays int
}

// LoadPruneConfig reads history-prune configuration from environment variables.
func LoadPruneConfig() PruneConfig {
	return PruneConfig{
		DBPath:        envOrDefault("MEDIABOT_DB_PATH", "data/bot_data.db"),
		RetentionDays: envIntOrDefault("MEDIABOT_HISTORY_RETENTION_DAYS", 7),
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
