package near

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

// API serves read-only status and usage endpoints. It has no mutating
// routes and no authentication; it's intended to be bound to localhost.
type API struct {
	bot        *Bot
	config     *APIConfig
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
}

func newAPI(b *Bot, config *APIConfig) (*API, error) {
	a := &API{
		bot:    b,
		config: config,
	}
	a.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "api")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/status", a.getStatus)
	engine.GET("/usage", a.getUsage)
	a.engine = engine

	a.httpServer = &http.Server{
		Handler:           engine,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	return a, nil
}

type statusResponse struct {
	Version          string        `json:"version"`
	Uptime           string        `json:"uptime"`
	DiscordConnected bool          `json:"discord_connected"`
	Channels         int           `json:"channels"`
	MessagesHandled  int64         `json:"messages_handled"`
	StartedAt        time.Time     `json:"started_at"`
	HistorySize      int           `json:"history_size"`
	MaxMessageLength int           `json:"max_message_length"`
}

func (a *API) getStatus(c *gin.Context) {
	b := a.bot
	c.JSON(
		http.StatusOK, statusResponse{
			Version:          Version,
			Uptime:           time.Since(b.startedAt).String(),
			DiscordConnected: b.discord.connected.Load(),
			Channels:         b.channels.ChannelCount(),
			MessagesHandled:  b.discord.metricMessagesHandled.Load(),
			StartedAt:        b.startedAt,
			HistorySize:      b.config.HistorySize,
			MaxMessageLength: b.config.MaxMessageLength,
		},
	)
}

func (a *API) getUsage(c *gin.Context) {
	if a.bot.db == nil {
		c.JSON(
			http.StatusServiceUnavailable,
			gin.H{"error": "database unavailable"},
		)
		return
	}
	totals, err := usageTotals(c.Request.Context(), a.bot.db)
	if err != nil {
		a.logger.Error("error loading usage totals", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, totals)
}

// Serve listens on the configured address until the context is
// canceled.
func (a *API) Serve(ctx context.Context) error {
	listener, err := net.Listen(a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
	}
	a.listener = listener
	a.logger.Info("api listening", "address", listener.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()
		_ = a.httpServer.Shutdown(shutdownCtx)
	}()

	if err = a.httpServer.Serve(listener); err != nil &&
		!errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
