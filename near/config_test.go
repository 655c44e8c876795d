package near

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()

	// missing tokens
	err := structValidator.Struct(cfg)
	require.Error(t, err)

	cfg.Discord.Token = "discord-token"
	cfg.Discord.ApplicationID = "app-id"
	cfg.OpenAI.Token = "openai-token"
	require.NoError(t, structValidator.Struct(cfg))

	t.Run(
		"history size must be positive", func(t *testing.T) {
			bad := *cfg
			bad.HistorySize = 0
			assert.Error(t, structValidator.Struct(bad))
		},
	)

	t.Run(
		"max message length bounded", func(t *testing.T) {
			bad := *cfg
			bad.MaxMessageLength = 5000
			assert.Error(t, structValidator.Struct(bad))
		},
	)

	t.Run(
		"request timeout minimum", func(t *testing.T) {
			bad := *cfg
			badOpenAI := *cfg.OpenAI
			badOpenAI.RequestTimeout = 0
			bad.OpenAI = &badOpenAI
			assert.Error(t, structValidator.Struct(bad))
		},
	)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")
}

func TestNewWithValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discord.Token = "discord-token"
	cfg.Discord.ApplicationID = "app-id"
	cfg.OpenAI.Token = "openai-token"

	b, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.NotNil(t, b.channels)
	assert.NotNil(t, b.openai)
	assert.NotNil(t, b.discord)
	assert.Nil(t, b.api, "api disabled by default")
	assert.Equal(t, botSpeakerName, b.botDisplayName())
}

func TestConfigLogValueRedactsTokens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discord.Token = "secret-discord-token"
	cfg.Discord.ApplicationID = "app-id"
	cfg.OpenAI.Token = "secret-openai-token"

	v := cfg.LogValue()
	rendered := v.String()
	assert.NotContains(t, rendered, "secret-discord-token")
	assert.NotContains(t, rendered, "secret-openai-token")
	assert.Contains(t, rendered, "[redacted]")
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultHistorySize, cfg.HistorySize)
	assert.Equal(t, DefaultMaxMessageLength, cfg.MaxMessageLength)
	assert.Equal(t, DefaultOpenAIModel, cfg.OpenAI.Model)
	assert.Equal(t, DefaultOpenAIRequestTimeout, cfg.OpenAI.RequestTimeout)
	assert.False(t, cfg.API.Enabled)

	assert.Equal(t, slog.LevelInfo, cfg.LogLevel.Level())
	assert.Equal(t, slog.LevelWarn, cfg.Discord.LogLevel.Level())

	assert.True(
		t,
		strings.HasPrefix(cfg.Database, "near"),
		"default database name should identify the app",
	)
}
