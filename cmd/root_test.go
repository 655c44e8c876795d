package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnvFile(t *testing.T) {
	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)

	os.Clearenv()

	tmpdir := t.TempDir()
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

NEAR_DATABASE=/home/foo/near.sqlite3
NEAR_DATABASE_LOG_LEVEL=INFO
NEAR_DATABASE_SLOW_THRESHOLD=200ms
NEAR_LOG_LEVEL=INFO
NEAR_STARTUP_TIMEOUT=30s
NEAR_SHUTDOWN_TIMEOUT=60s
NEAR_HISTORY_SIZE=25
NEAR_MAX_MESSAGE_LENGTH=1800

# OpenAI config

NEAR_OPENAI_TOKEN=your-openai-token
NEAR_OPENAI_LOG_LEVEL=INFO
NEAR_OPENAI_MODEL=gpt-4o
NEAR_OPENAI_REQUEST_TIMEOUT=45s
NEAR_OPENAI_MAX_REQUESTS_PER_SECOND=2

# Discord bot config

NEAR_DISCORD_TOKEN=your-discord-bot-token
NEAR_DISCORD_APPLICATION_ID=your-discord-bot-app-id
NEAR_DISCORD_GUILD_ID=
NEAR_DISCORD_LOG_LEVEL=WARN
NEAR_DISCORD_DISCORDGO_LOG_LEVEL=WARN
NEAR_DISCORD_CUSTOM_STATUS="n help"

# API server

NEAR_API_ENABLED=true
NEAR_API_LISTEN=127.0.0.1:5001
NEAR_API_LOG_LEVEL=DEBUG
NEAR_API_READ_TIMEOUT=5s
NEAR_API_READ_HEADER_TIMEOUT=5s
NEAR_API_WRITE_TIMEOUT=10s
NEAR_API_IDLE_TIMEOUT=30s
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/near.sqlite3", cfg.Database)
	assert.Equal(t, 200*time.Millisecond, cfg.DatabaseSlowThreshold)
	assertLogLevel(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.StartupTimeout)
	assert.Equal(t, 60*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 25, cfg.HistorySize)
	assert.Equal(t, 1800, cfg.MaxMessageLength)

	require.NotNil(t, cfg.OpenAI)
	assert.Equal(t, "your-openai-token", cfg.OpenAI.Token)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.Equal(t, 45*time.Second, cfg.OpenAI.RequestTimeout)
	assert.Equal(t, 2.0, cfg.OpenAI.MaxRequestsPerSecond)

	require.NotNil(t, cfg.Discord)
	assert.Equal(t, "your-discord-bot-token", cfg.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", cfg.Discord.ApplicationID)
	assertLogLevel(t, slog.LevelWarn, cfg.Discord.LogLevel)
	assertLogLevel(t, slog.LevelWarn, cfg.Discord.DiscordGoLogLevel)

	require.NotNil(t, cfg.API)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:5001", cfg.API.Listen)
	assertLogLevel(t, slog.LevelDebug, cfg.API.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.API.WriteTimeout)
}

func TestLevelToStringHookFunc(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
	} {
		t.Run(
			tc.in, func(t *testing.T) {
				lvl, err := levelStringToLevelVar(tc.in)
				require.NoError(t, err)
				assert.Equal(t, tc.expected, lvl.Level())
			},
		)
	}

	_, err := levelStringToLevelVar("LOUD")
	assert.Error(t, err)
}

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}
