package near

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	sqliteMaxOpenConns = 1
	sqliteMaxIdleConns = 1
	sqliteExecPragma   = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
)

// ModelUnixTime is an embeddable model with Unix millisecond timestamps
// for creation and update.
type ModelUnixTime struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

// ChatRecord is an audit row written for every completed (or failed)
// chat command exchange. It exists for accounting and debugging only -
// conversational memory is held in-memory per channel and is never
// reloaded from these rows.
type ChatRecord struct {
	ID uint `gorm:"primaryKey" json:"id"`
	ModelUnixTime

	// RequestID is the per-invocation UUID threaded through log lines
	RequestID string `gorm:"index" json:"request_id"`

	Command   string `json:"command"`
	ChannelID string `gorm:"index" json:"channel_id"`
	UserID    string `gorm:"index" json:"user_id"`
	Username  string `json:"username"`

	Prompt   string `json:"prompt"`
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`

	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

func (c ChatRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("request_id", c.RequestID),
		slog.String("command", c.Command),
		slog.String("channel_id", c.ChannelID),
		slog.String("user_id", c.UserID),
		slog.Int("prompt_tokens", c.PromptTokens),
		slog.Int("completion_tokens", c.CompletionTokens),
		slog.Float64("cost", c.Cost),
	)
}

// UsageTotals aggregates ChatRecord accounting columns, for the API.
type UsageTotals struct {
	Requests         int64   `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// CreateDB opens (creating if necessary) the sqlite database at the
// given path, applies pragmas and runs migrations.
func CreateDB(
	ctx context.Context,
	path string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	cfg := &gorm.Config{}
	if gormLogger != nil {
		cfg.Logger = gormLogger
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error getting sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
	sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	for _, pragma := range sqliteExecPragma {
		if err = db.WithContext(ctx).Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error executing '%s': %w", pragma, err)
		}
	}

	if err = db.WithContext(ctx).AutoMigrate(&ChatRecord{}); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return db, nil
}

// DBI is the write-side database interface. A mutex serializes writes
// out of caution for sqlite.
type DBI interface {
	Create(ctx context.Context, value any) error
	DB() *gorm.DB
}

type database struct {
	db     *gorm.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// NewDatabase wraps a gorm connection with serialized writes.
func NewDatabase(db *gorm.DB, log *slog.Logger) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:     db,
		logger: log.With(loggerNameKey, "writedb"),
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) Create(ctx context.Context, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.db.WithContext(ctx).Create(value).Error; err != nil {
		d.logger.ErrorContext(ctx, "error creating record", tint.Err(err))
		return err
	}
	return nil
}

// usageTotals sums ChatRecord accounting columns.
func usageTotals(ctx context.Context, db *gorm.DB) (UsageTotals, error) {
	var totals UsageTotals
	err := db.WithContext(ctx).Model(&ChatRecord{}).Select(
		"count(*) as requests, " +
			"coalesce(sum(prompt_tokens), 0) as prompt_tokens, " +
			"coalesce(sum(completion_tokens), 0) as completion_tokens, " +
			"coalesce(sum(cost), 0) as cost",
	).Scan(&totals).Error
	return totals, err
}
