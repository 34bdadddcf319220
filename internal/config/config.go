package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Transport tags as they appear in KNOWN_NOTIFICATIONS and in each
// recipient's notifications block.
const (
	TagTwilio     = "twilio"
	TagDiscord    = "discord"
	TagMattermost = "mattermost"
	TagSlack      = "slack"
	TagSMTP       = "smtp"
)

// Config holds all scalar monitor configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Fleet description (servers, validators, admin recipients) lives in a
	// JSON file; it is too nested to express as environment variables.
	FleetFile string `env:"FLEET_FILE" envDefault:"fleet.json"`

	// Websocket supervision
	WSRetry            time.Duration `env:"WS_RETRY" envDefault:"20s"`
	MaxConnectAttempts int           `env:"MAX_CONNECT_ATTEMPTS" envDefault:"999999"`
	MaxValStreams      int           `env:"MAX_VAL_STREAMS" envDefault:"5"`

	// Validation dedupe window. When the window fills, the oldest half is
	// discarded; REMOVE_DUP_VALIDATORS additionally culls validators that
	// share a master key at that point.
	ProcessedValMax     int  `env:"PROCESSED_VAL_MAX" envDefault:"10000"`
	RemoveDupValidators bool `env:"REMOVE_DUP_VALIDATORS" envDefault:"true"`

	// Fork detection
	ForkCheckFreq time.Duration `env:"FORK_CHECK_FREQ" envDefault:"10s"`
	LLForkCutoff  int64         `env:"LL_FORK_CUTOFF" envDefault:"25"`

	// Console output
	ConsoleOut         bool          `env:"CONSOLE_OUT" envDefault:"false"`
	ConsoleRefreshTime time.Duration `env:"CONSOLE_REFRESH_TIME" envDefault:"5s"`
	PrintAmendments    bool          `env:"PRINT_AMENDMENTS" envDefault:"false"`

	// Administrative heartbeat
	AdminHeartbeat    bool          `env:"ADMIN_HEARTBEAT" envDefault:"false"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"1h"`

	// Notification transports. A message is delivered through a transport
	// only when the global SEND_<TAG> switch AND the recipient's own
	// notify_<tag> flag are both set.
	KnownNotifications []string `env:"KNOWN_NOTIFICATIONS" envDefault:"twilio,discord,mattermost,slack,smtp"`
	SendTwilio         bool     `env:"SEND_TWILIO" envDefault:"false"`
	SendDiscord        bool     `env:"SEND_DISCORD" envDefault:"false"`
	SendMattermost     bool     `env:"SEND_MATTERMOST" envDefault:"false"`
	SendSlack          bool     `env:"SEND_SLACK" envDefault:"false"`
	SendSMTP           bool     `env:"SEND_SMTP" envDefault:"false"`

	// Transport credentials and endpoints
	TwilioAccountSID     string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken      string `env:"TWILIO_AUTH_TOKEN"`
	TwilioAPIURL         string `env:"TWILIO_API_URL" envDefault:"https://api.twilio.com"`
	DiscordWebhookURL    string `env:"DISCORD_WEBHOOK_URL" envDefault:"https://discord.com/api/webhooks/"`
	SlackWebhookURL      string `env:"SLACK_WEBHOOK_URL"`
	MattermostWebhookURL string `env:"MATTERMOST_WEBHOOK_URL"`
	SMTPServer           string `env:"SMTP_SERVER"`
	SMTPSubmissionPort   int    `env:"SMTP_SUBMISSION_PORT" envDefault:"587"`
	SMTPStartTLS         bool   `env:"SMTP_START_TLS" envDefault:"true"`
	SMTPUsername         string `env:"SMTP_USERNAME"`
	SMTPPassword         string `env:"SMTP_PASSWORD"`

	// Transport retry/backoff policy
	NotifyRetryMax       int           `env:"NOTIFY_RETRY_MAX" envDefault:"3"`
	NotifyRetrySleepTime time.Duration `env:"NOTIFY_RETRY_SLEEP_TIME" envDefault:"2s"`
	NotifyWebhookRate    float64       `env:"NOTIFY_WEBHOOK_RATE" envDefault:"5"`
	NotifyWorkers        int           `env:"NOTIFY_WORKERS" envDefault:"4"`

	// Queue sizing. The message queue applies backpressure when full; the
	// notification queue drops the oldest pending alert instead.
	MessageQueueSize      int `env:"MESSAGE_QUEUE_SIZE" envDefault:"10000"`
	NotificationQueueSize int `env:"NOTIFICATION_QUEUE_SIZE" envDefault:"256"`

	// Monitoring
	MetricsAddr     string        `env:"METRICS_ADDR"`
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogFile   string `env:"LOG_FILE"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a .env file and environment variables.
// Priority: ENV vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	// The .env file is optional; in production the environment is set
	// directly and the file usually does not exist.
	if err := godotenv.Load(); err == nil && logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.WSRetry <= 0 {
		return fmt.Errorf("WS_RETRY must be > 0, got %s", c.WSRetry)
	}
	if c.MaxConnectAttempts < 0 {
		return fmt.Errorf("MAX_CONNECT_ATTEMPTS must be >= 0, got %d", c.MaxConnectAttempts)
	}
	if c.ProcessedValMax < 2 {
		return fmt.Errorf("PROCESSED_VAL_MAX must be >= 2, got %d", c.ProcessedValMax)
	}
	if c.ForkCheckFreq <= 0 {
		return fmt.Errorf("FORK_CHECK_FREQ must be > 0, got %s", c.ForkCheckFreq)
	}
	if c.LLForkCutoff < 0 {
		return fmt.Errorf("LL_FORK_CUTOFF must be >= 0, got %d", c.LLForkCutoff)
	}
	if c.MessageQueueSize < 1 {
		return fmt.Errorf("MESSAGE_QUEUE_SIZE must be > 0, got %d", c.MessageQueueSize)
	}
	if c.NotificationQueueSize < 1 {
		return fmt.Errorf("NOTIFICATION_QUEUE_SIZE must be > 0, got %d", c.NotificationQueueSize)
	}
	if c.NotifyWorkers < 1 {
		return fmt.Errorf("NOTIFY_WORKERS must be > 0, got %d", c.NotifyWorkers)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	for _, tag := range c.KnownNotifications {
		switch tag {
		case TagTwilio, TagDiscord, TagMattermost, TagSlack, TagSMTP:
		default:
			return fmt.Errorf("KNOWN_NOTIFICATIONS contains unknown transport tag: %s", tag)
		}
	}

	return nil
}

// GlobalEnabled reports whether a transport is switched on globally.
// Messages are dropped for a transport that is not enabled here, even if
// individual recipients enable it.
func (c *Config) GlobalEnabled(tag string) bool {
	switch tag {
	case TagTwilio:
		return c.SendTwilio
	case TagDiscord:
		return c.SendDiscord
	case TagMattermost:
		return c.SendMattermost
	case TagSlack:
		return c.SendSlack
	case TagSMTP:
		return c.SendSMTP
	}
	return false
}

// LogConfig logs the effective configuration using structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("fleet_file", c.FleetFile).
		Dur("ws_retry", c.WSRetry).
		Int("max_connect_attempts", c.MaxConnectAttempts).
		Int("max_val_streams", c.MaxValStreams).
		Int("processed_val_max", c.ProcessedValMax).
		Bool("remove_dup_validators", c.RemoveDupValidators).
		Dur("fork_check_freq", c.ForkCheckFreq).
		Int64("ll_fork_cutoff", c.LLForkCutoff).
		Bool("console_out", c.ConsoleOut).
		Dur("console_refresh_time", c.ConsoleRefreshTime).
		Bool("admin_heartbeat", c.AdminHeartbeat).
		Dur("heartbeat_interval", c.HeartbeatInterval).
		Strs("known_notifications", c.KnownNotifications).
		Bool("send_twilio", c.SendTwilio).
		Bool("send_discord", c.SendDiscord).
		Bool("send_mattermost", c.SendMattermost).
		Bool("send_slack", c.SendSlack).
		Bool("send_smtp", c.SendSMTP).
		Int("message_queue_size", c.MessageQueueSize).
		Int("notification_queue_size", c.NotificationQueueSize).
		Str("metrics_addr", c.MetricsAddr).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Monitor configuration loaded")
}
