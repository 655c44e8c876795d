package near

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDBAndUsageTotals(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "near.sqlite3")

	db, err := CreateDB(ctx, path, nil)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			if sqlDB, e := db.DB(); e == nil {
				_ = sqlDB.Close()
			}
		},
	)

	writeDB := NewDatabase(db, nil)

	require.NoError(
		t, writeDB.Create(
			ctx, &ChatRecord{
				RequestID:        "req-a",
				Command:          commandNameChat,
				ChannelID:        "chan-1",
				UserID:           "user-1",
				Username:         "alice",
				Prompt:           "hello",
				Response:         "...hello.",
				PromptTokens:     100,
				CompletionTokens: 50,
				Cost:             0.000625,
			},
		),
	)
	require.NoError(
		t, writeDB.Create(
			ctx, &ChatRecord{
				RequestID:        "req-b",
				Command:          commandNameELI5,
				ChannelID:        "chan-2",
				UserID:           "user-2",
				Username:         "bob",
				Prompt:           "recursion",
				Error:            "upstream completion error",
				PromptTokens:     0,
				CompletionTokens: 0,
			},
		),
	)

	var records []ChatRecord
	require.NoError(t, db.WithContext(ctx).Order("id").Find(&records).Error)
	require.Len(t, records, 2)
	assert.Equal(t, "req-a", records[0].RequestID)
	assert.NotZero(t, records[0].CreatedAt)
	assert.Equal(t, "upstream completion error", records[1].Error)

	totals, err := usageTotals(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals.Requests)
	assert.Equal(t, int64(100), totals.PromptTokens)
	assert.Equal(t, int64(50), totals.CompletionTokens)
	assert.InDelta(t, 0.000625, totals.Cost, 1e-9)
}

func TestUsageTotalsEmptyTable(t *testing.T) {
	ctx := context.Background()
	db, err := CreateDB(ctx, filepath.Join(t.TempDir(), "near.sqlite3"), nil)
	require.NoError(t, err)

	totals, err := usageTotals(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, totals.Requests)
	assert.Zero(t, totals.Cost)
}
