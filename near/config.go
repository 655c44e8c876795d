//nolint:lll // struct tags can't be split
package near

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "NEAR_ENV_PREFIX"
	DefaultEnvPrefix   = "NEAR"

	DefaultDatabase              = "near.sqlite3"
	DefaultLogLevel              = slog.LevelInfo
	DefaultDatabaseLogLevel      = slog.LevelWarn
	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultOpenAILogLevel        = slog.LevelInfo
	DefaultAPILogLevel           = slog.LevelInfo
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultHistorySize is the number of turns retained per channel.
	// Oldest entries are evicted first once the cap is reached.
	DefaultHistorySize = 40

	// DefaultMaxMessageLength is the largest chunk the bot will send in a
	// single discord message. Discord's hard cap is 2000; leaving headroom
	// covers re-fencing overhead when code blocks are split.
	DefaultMaxMessageLength = 1900

	// discordMaxMessageLength is discord's actual limit, used as the
	// last-resort truncation bound.
	discordMaxMessageLength = 2000

	DefaultOpenAIModel                = "gpt-4o"
	DefaultOpenAIRequestTimeout       = 60 * time.Second
	DefaultOpenAIMaxRequestsPerSecond = 1

	DefaultAPIListen          = "127.0.0.1:5000"
	defaultListenNetwork      = "tcp"
	DefaultReadTimeout        = 5 * time.Second
	DefaultReadHeaderTimeout  = 5 * time.Second
	DefaultWriteTimeout       = 10 * time.Second
	DefaultIdleTimeout        = 30 * time.Second
	DefaultDiscordGatewayIntent = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	DefaultDiscordCustomStatus = "n help / /near"
)

// input/output pricing per 1M tokens, used for the usage log line
// and ChatRecord cost columns
const (
	openaiInputCostPerMillion  = 1.25
	openaiOutputCostPerMillion = 10.0
)

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName("binding")
	return v
}

// Config is the top-level bot configuration, loaded by the cmd package
// via viper.
type Config struct {
	// Database is the sqlite database path
	Database string `yaml:"database" mapstructure:"database" json:"database" binding:"required"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Discord configures the discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// OpenAI holds the configuration for OpenAI integration
	OpenAI *OpenAIConfig `yaml:"openai" mapstructure:"openai" json:"openai"`

	// API configures the status/usage API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// HistorySize caps the number of turns kept per channel
	HistorySize int `yaml:"history_size" mapstructure:"history_size" json:"history_size" binding:"min=1"`

	// MaxMessageLength is the per-chunk limit used when splitting replies
	MaxMessageLength int `yaml:"max_message_length" mapstructure:"max_message_length" json:"max_message_length" binding:"min=100,max=2000"`

	// StartupTimeout bounds bot initialization (database, discord session)
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. Message content is required for the
	// `n`-prefix text commands.
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CustomStatus is set on the bot user after connecting, if non-empty
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	httpClient *http.Client
}

// OpenAIConfig configures OpenAI API integration
//
//nolint:lll // can't break tags
type OpenAIConfig struct {
	// OpenAI API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Model used for completions
	Model string `yaml:"model" mapstructure:"model" json:"model" binding:"required"`

	// OpenAI base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// RequestTimeout bounds a single completion call. Without it, a hung
	// upstream call would stall that channel's pipeline indefinitely.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" binding:"min=1s"`

	// MaxRequestsPerSecond throttles outbound API calls
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"gt=0"`
}

// APIConfig configures the status/usage API server
//
//nolint:lll // can't break tags
type APIConfig struct {
	// Enabled determines whether the API server is started at all
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000")
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix")
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,omitempty,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the API server
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum duration for reading the entire request, including the body
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`

	// Amount of time allowed to read request headers
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`

	// Maximum duration before timing out writes of the response
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	openaiLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	openaiLogLevel.Set(DefaultOpenAILogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		HistorySize:           DefaultHistorySize,
		MaxMessageLength:      DefaultMaxMessageLength,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			CustomStatus:      DefaultDiscordCustomStatus,
		},
		OpenAI: &OpenAIConfig{
			Model:                DefaultOpenAIModel,
			LogLevel:             openaiLogLevel,
			RequestTimeout:       DefaultOpenAIRequestTimeout,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
		},
		API: &APIConfig{
			Enabled:           false,
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}
