package near

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

// Set at build time via -ldflags
var (
	Version   = "dev"
	CommitSHA = ""
	BuildTime = ""
)

var defaultLogWriter io.Writer = os.Stdout

// botSpeakerName tags the bot's own turns in channel history.
const botSpeakerName = "Near"

// Bot is the root of the application: it owns the discord session, the
// completion client, per-channel history and the audit database, and
// runs until its context is canceled.
type Bot struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	channels *ChannelRegistry
	discord  *Discord
	openai   *OpenAI

	db      *gorm.DB
	writeDB DBI

	api *API

	startedAt time.Time

	// runtimeWG tracks in-flight gateway event handlers, so shutdown can
	// wait for replies already being generated
	runtimeWG sync.WaitGroup
}

// New creates a new Bot from the given config. The config is validated;
// nil falls back to defaults (which will fail validation without
// tokens set).
func New(config *Config) (*Bot, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := structValidator.Struct(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	b := &Bot{
		config:    config,
		channels:  NewChannelRegistry(config.HistorySize),
		startedAt: time.Now(),
	}
	b.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	b.logger = slog.New(b.logHandler).With(loggerNameKey, "near")

	config.Discord.httpClient = config.HTTPClient
	discord, err := newDiscord(config.Discord)
	if err != nil {
		return nil, err
	}
	discord.bot = b
	discord.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")
	b.discord = discord

	b.openai = newOpenAI(b, config.HTTPClient)

	if config.API != nil && config.API.Enabled {
		api, e := newAPI(b, config.API)
		if e != nil {
			return nil, e
		}
		b.api = api
	}

	return b, nil
}

// Run starts the bot and blocks until the given context is canceled or
// startup fails. On cancellation it performs a graceful shutdown
// bounded by Config.ShutdownTimeout.
func (b *Bot) Run(ctx context.Context) error {
	b.startedAt = time.Now()
	b.logger.InfoContext(
		ctx,
		"starting",
		"version", Version,
		"config", b.config,
	)

	if err := b.initDB(ctx); err != nil {
		return err
	}

	discordgo.Logger = discordgoLoggerFunc(
		ctx,
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level: b.config.Discord.DiscordGoLogLevel,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if b.discord.session == nil {
		session, err := b.discord.newSession()
		if err != nil {
			return err
		}
		b.discord.session = session
	}

	b.addHandlers(ctx)

	if err := b.discord.session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}

	if _, err := b.discord.registerCommands(); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}

	apiErr := make(chan error, 1)
	if b.api != nil {
		go func() {
			apiErr <- b.api.Serve(ctx)
		}()
	}

	b.logger.InfoContext(ctx, "bot is running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down", "reason", context.Cause(ctx))
	case err := <-apiErr:
		if err != nil {
			b.logger.Error("api server failed", tint.Err(err))
			b.shutdown()
			return err
		}
	}

	b.shutdown()
	return nil
}

// initDB opens the audit database, bounded by the startup timeout.
func (b *Bot) initDB(ctx context.Context) error {
	setupCtx, cancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer cancel()

	gormLogger := newGORMLogger(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     b.config.DatabaseLogLevel,
				AddSource: true,
			},
		),
		b.config.DatabaseSlowThreshold,
	)
	db, err := CreateDB(setupCtx, b.config.Database, gormLogger)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	b.db = db
	b.writeDB = NewDatabase(db, b.logger)
	return nil
}

// addHandlers wires gateway events into the command pipeline. Each
// event runs in its own goroutine, tracked so shutdown can wait for
// in-flight replies.
func (b *Bot) addHandlers(ctx context.Context) {
	d := b.discord
	d.discordgoRemoveHandlerFuncs = append(
		d.discordgoRemoveHandlerFuncs,
		d.session.AddHandler(d.handlerReady()),
		d.session.AddHandler(d.handlerConnect()),
		d.session.AddHandler(d.handlerDisconnect()),
		d.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				b.runtimeWG.Add(1)
				go func() {
					defer b.runtimeWG.Done()
					b.handleMessageCreate(ctx, m)
				}()
			},
		),
		d.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				b.runtimeWG.Add(1)
				go func() {
					defer b.runtimeWG.Done()
					b.handleInteractionCreate(ctx, i)
				}()
			},
		),
	)
}

// shutdown stops accepting events, waits (up to the shutdown timeout)
// for in-flight handlers, then closes the session and database.
func (b *Bot) shutdown() {
	for _, removeFunc := range b.discord.discordgoRemoveHandlerFuncs {
		removeFunc()
	}
	b.discord.discordgoRemoveHandlerFuncs = nil

	done := make(chan struct{})
	go func() {
		b.runtimeWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(b.config.ShutdownTimeout):
		b.logger.Warn(
			"shutdown timeout reached with handlers still in flight",
			"timeout", b.config.ShutdownTimeout,
		)
	}

	if b.discord.session != nil {
		if err := b.discord.session.Close(); err != nil {
			b.logger.Error("error closing discord session", tint.Err(err))
		}
	}

	if b.db != nil {
		if sqlDB, err := b.db.DB(); err == nil {
			if err = sqlDB.Close(); err != nil {
				b.logger.Error("error closing database", tint.Err(err))
			}
		}
	}

	b.logger.Info("shutdown complete", "uptime", time.Since(b.startedAt))
}

func (b *Bot) botDisplayName() string {
	return botSpeakerName
}
