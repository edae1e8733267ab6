package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBotEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MEDIABOT_CONFIG", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("MEDIABOT_COMMANDER", "telegram")
	t.Setenv("MEDIABOT_GENERATOR", "pollinations")
}

func TestLoadBotConfig_Defaults(t *testing.T) {
	setupBotEnv(t)
	cfg, err := LoadBotConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://api.telegram.org/bottest-token", cfg.TelegramAPIBase)
	assert.Equal(t, "https://api.telegram.org/file/bottest-token", cfg.TelegramFileBase)
	assert.Equal(t, "https://text.pollinations.ai/openai", cfg.OpenAIBaseURL)
	assert.Equal(t, "openai-audio", cfg.AudioModelName)
	assert.Equal(t, 2000, cfg.HistoryMaxTokens)
	assert.Equal(t, 7, cfg.HistoryRetentionDays)
	assert.True(t, cfg.DropPending)
}

func TestLoadBotConfig_RequiresTokenForTelegram(t *testing.T) {
	setupBotEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	_, err := LoadBotConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
}

func TestLoadBotConfig_DummyCommanderNeedsNoToken(t *testing.T) {
	setupBotEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("MEDIABOT_COMMANDER", "dummy")
	cfg, err := LoadBotConfig()
	require.NoError(t, err)
	assert.Equal(t, "dummy", cfg.Commander)
}

func TestLoadBotConfig_RejectsUnknownGenerator(t *testing.T) {
	setupBotEnv(t)
	t.Setenv("MEDIABOT_GENERATOR", "stable-horde")
	_, err := LoadBotConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEDIABOT_GENERATOR")
}

func TestLoadBotConfig_ValidatesLimits(t *testing.T) {
	setupBotEnv(t)
	t.Setenv("MEDIABOT_HISTORY_MAX_TOKENS", "0")
	_, err := LoadBotConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEDIABOT_HISTORY_MAX_TOKENS")

	t.Setenv("MEDIABOT_HISTORY_MAX_TOKENS", "")
	t.Setenv("MEDIABOT_WORKER_IDLE_SECONDS", "-1")
	_, err = LoadBotConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEDIABOT_WORKER_IDLE_SECONDS")
}

func TestLoadBotConfig_FileThenEnv(t *testing.T) {
	setupBotEnv(t)
	path := filepath.Join(t.TempDir(), "bot.toml")
	content := `
db_path = "/state/bot.db"
history_max_tokens = 500
default_voice = "nova"
log_format = "json"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("MEDIABOT_CONFIG", path)
	t.Setenv("MEDIABOT_HISTORY_MAX_TOKENS", "800")

	cfg, err := LoadBotConfig()
	require.NoError(t, err)
	assert.Equal(t, "/state/bot.db", cfg.DBPath)
	assert.Equal(t, "nova", cfg.DefaultVoice)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 800, cfg.HistoryMaxTokens, "env must override file")
}

func TestLoadBotConfig_BadFile(t *testing.T) {
	setupBotEnv(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("db_path = "), 0o644))
	t.Setenv("MEDIABOT_CONFIG", path)
	_, err := LoadBotConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestEnvBoolOrDefault(t *testing.T) {
	t.Setenv("X_BOOL", "TRUE")
	assert.True(t, envBoolOrDefault("X_BOOL", false))
	t.Setenv("X_BOOL", "0")
	assert.False(t, envBoolOrDefault("X_BOOL", true))
	t.Setenv("X_BOOL", "")
	assert.True(t, envBoolOrDefault("X_BOOL", true))
}

func TestLoadPruneConfig(t *testing.T) {
	t.Setenv("MEDIABOT_DB_PATH", "/tmp/x.db")
	t.Setenv("MEDIABOT_HISTORY_RETENTION_DAYS", "3")
	cfg := LoadPruneConfig()
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, 3, cfg.RetentionDays)
}
