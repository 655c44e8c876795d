package near

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextLogger(t *testing.T) {
	ctx := context.Background()

	_, ok := ContextLogger(ctx)
	assert.False(t, ok)

	log := slog.Default().With("request_id", "abc")
	ctx = WithLogger(ctx, log)

	found, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.Same(t, log, found)
}

func TestWithLoggerNilFallsBack(t *testing.T) {
	ctx := WithLogger(context.Background(), nil)
	log, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.NotNil(t, log)
}

func TestDiscordgoLoggerFunc(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(
		&buf, &slog.HandlerOptions{Level: slog.LevelDebug},
	)

	logFunc := discordgoLoggerFunc(context.Background(), handler)
	logFunc(discordgo.LogWarning, 0, "gateway sent %s\n", "RESUME")

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "gateway sent RESUME")
	assert.NotContains(t, out, "\\n")
}

func TestStructToSlogValueHonorsLogTag(t *testing.T) {
	type inner struct {
		Token string `json:"token" log:"[redacted]"`
		Name  string `json:"name"`
	}
	type outer struct {
		Inner *inner `json:"inner"`
		Empty string `json:"empty"`
	}

	v := structToSlogValue(
		outer{Inner: &inner{Token: "hunter2", Name: "near"}},
	)
	rendered := v.String()
	assert.NotContains(t, rendered, "hunter2")
	assert.Contains(t, rendered, "[redacted]")
	assert.Contains(t, rendered, "near")
	assert.NotContains(t, rendered, "empty")
}
