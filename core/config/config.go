package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// TransportTelegram serves the menu through a Telegram bot.
	TransportTelegram = "telegram"
	// TransportWhatsApp serves the menu through the WhatsApp Cloud API webhook.
	TransportWhatsApp = "whatsapp"
)

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
	ButtonsPerRow          int `yaml:"buttons_per_row" envconfig:"TELEGRAM_BUTTONS_PER_ROW"`
}

// WebhookConfig specifies Telegram webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// WhatsAppConfig holds WhatsApp Cloud API credentials and the webhook listener.
type WhatsAppConfig struct {
	AccessToken    string `yaml:"access_token" envconfig:"WHATSAPP_ACCESS_TOKEN"`
	VerifyToken    string `yaml:"verify_token" envconfig:"WHATSAPP_VERIFY_TOKEN"`
	AppSecret      string `yaml:"app_secret" envconfig:"WHATSAPP_APP_SECRET"`
	PhoneNumberID  string `yaml:"phone_number_id" envconfig:"WHATSAPP_PHONE_NUMBER_ID"`
	APIBase        string `yaml:"api_base" envconfig:"WHATSAPP_API_BASE"`
	Listen         string `yaml:"listen" envconfig:"WHATSAPP_LISTEN"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"WHATSAPP_TIMEOUT_SECONDS"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	File        string `yaml:"file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies button presses for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies text messages for rate limit exclusions.
	UpdateMessage = "message"
)

// RateLimitConfig throttles inbound updates per user.
// ExcludeUpdates accepts update types to bypass limiting:
// - "callback": button presses
// - "message": text messages
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// DispatcherConfig sizes the outbound worker pool.
type DispatcherConfig struct {
	Workers        int `yaml:"workers" envconfig:"DISPATCHER_WORKERS"`
	QueueSize      int `yaml:"queue_size" envconfig:"DISPATCHER_QUEUE_SIZE"`
	MaxRetries     int `yaml:"max_retries" envconfig:"DISPATCHER_MAX_RETRIES"`
	RetryBackoffMS int `yaml:"retry_backoff_ms" envconfig:"DISPATCHER_RETRY_BACKOFF_MS"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen    string `yaml:"listen" envconfig:"METRICS_LISTEN"`
	Namespace string `yaml:"namespace" envconfig:"METRICS_NAMESPACE"`
}

// DatabaseConfig holds Postgres settings for the interaction journal.
// The journal is disabled when Host is empty.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsPath string `yaml:"migrations_path" envconfig:"DB_MIGRATIONS_PATH"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(d.Host) != ""
}

// Config aggregates the process configuration.
type Config struct {
	Transport   string           `yaml:"transport" envconfig:"MENUBOT_TRANSPORT"`
	CatalogPath string           `yaml:"catalog_path" envconfig:"CATALOG_PATH"`
	Telegram    TelegramConfig   `yaml:"telegram"`
	Webhook     WebhookConfig    `yaml:"webhook"`
	WhatsApp    WhatsAppConfig   `yaml:"whatsapp"`
	Logging     LoggingConfig    `yaml:"logging"`
	RateLimit   RateLimitConfig  `yaml:"rate_limit"`
	Dispatcher  DispatcherConfig `yaml:"dispatcher"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Database    DatabaseConfig   `yaml:"database"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required fields for the selected transport and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.CatalogPath) == "" {
		cfg.CatalogPath = "configs/catalog.yaml"
	}

	tr := strings.ToLower(strings.TrimSpace(cfg.Transport))
	if tr == "" {
		tr = TransportTelegram
	}
	switch tr {
	case TransportTelegram:
		if err := normalizeTelegram(cfg); err != nil {
			return err
		}
	case TransportWhatsApp:
		if err := normalizeWhatsApp(&cfg.WhatsApp); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid transport %q; allowed: telegram, whatsapp", cfg.Transport)
	}
	cfg.Transport = tr

	allowed := map[string]struct{}{
		UpdateCallback: {},
		UpdateMessage:  {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}
	if cfg.RateLimit.IntervalMS < 0 {
		return fmt.Errorf("rate_limit.interval_ms must be >= 0")
	}

	d := &cfg.Dispatcher
	if d.Workers <= 0 {
		d.Workers = 4
	}
	if d.QueueSize <= 0 {
		d.QueueSize = 256
	}
	if d.MaxRetries < 0 {
		return fmt.Errorf("dispatcher.max_retries must be >= 0")
	}
	if d.RetryBackoffMS <= 0 {
		d.RetryBackoffMS = 500
	}

	if strings.TrimSpace(cfg.Metrics.Namespace) == "" {
		cfg.Metrics.Namespace = "menubot"
	}

	if cfg.Database.Enabled() {
		db := &cfg.Database
		if db.Port == "" {
			db.Port = "5432"
		}
		if db.SSLMode == "" {
			db.SSLMode = "disable"
		}
		if db.MaxConnections <= 0 {
			db.MaxConnections = 5
		}
		if db.MigrationsPath == "" {
			db.MigrationsPath = "migrations"
		}
		if db.Name == "" || db.User == "" {
			return fmt.Errorf("database.name and database.user are required when database.host is set")
		}
	}
	return nil
}

func normalizeTelegram(cfg *Config) error {
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	if cfg.Telegram.ButtonsPerRow <= 0 {
		cfg.Telegram.ButtonsPerRow = 1
	}
	return nil
}

func normalizeWhatsApp(wa *WhatsAppConfig) error {
	if strings.TrimSpace(wa.AccessToken) == "" {
		return fmt.Errorf("whatsapp.access_token is required when transport is 'whatsapp'")
	}
	if strings.TrimSpace(wa.VerifyToken) == "" {
		return fmt.Errorf("whatsapp.verify_token is required when transport is 'whatsapp'")
	}
	if strings.TrimSpace(wa.PhoneNumberID) == "" {
		return fmt.Errorf("whatsapp.phone_number_id is required when transport is 'whatsapp'")
	}
	wa.APIBase = strings.TrimRight(strings.TrimSpace(wa.APIBase), "/")
	if wa.APIBase == "" {
		wa.APIBase = "https://graph.facebook.com/v22.0"
	}
	if strings.TrimSpace(wa.Listen) == "" {
		wa.Listen = ":8080"
	}
	if wa.TimeoutSeconds <= 0 {
		wa.TimeoutSeconds = 10
	}
	return nil
}
