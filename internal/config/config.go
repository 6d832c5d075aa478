package config

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Mailbox    MailboxConfig    `yaml:"mailbox" mapstructure:"mailbox"`
	Blob       BlobConfig       `yaml:"blob" mapstructure:"blob"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	NATS       NATSConfig       `yaml:"nats" mapstructure:"nats"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Slack      SlackConfig      `yaml:"slack" mapstructure:"slack"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Poller     PollerConfig     `yaml:"poller" mapstructure:"poller"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Schema     SchemaConfig     `yaml:"schema" mapstructure:"schema"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// ExtractionConfig tunes field batching, pacing and retries.
type ExtractionConfig struct {
	BatchSize       int `yaml:"batch_size" mapstructure:"batch_size"`
	BatchPauseMS    int `yaml:"batch_pause_ms" mapstructure:"batch_pause_ms"`
	CooldownSecs    int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	MaxRetries      int `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBaseMS     int `yaml:"retry_base_ms" mapstructure:"retry_base_ms"`
	RetryMaxSecs    int `yaml:"retry_max_secs" mapstructure:"retry_max_secs"`
	MaxSectionChars int `yaml:"max_section_chars" mapstructure:"max_section_chars"`
}

// BatchPause returns the pause between field batches.
func (c ExtractionConfig) BatchPause() time.Duration {
	return time.Duration(c.BatchPauseMS) * time.Millisecond
}

// Cooldown returns the pause after a batch exhausted its rate-limit retries.
func (c ExtractionConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSecs) * time.Second
}

// MailboxConfig addresses the monitored Microsoft 365 mailbox.
type MailboxConfig struct {
	TenantID     string `yaml:"tenant_id" mapstructure:"tenant_id"`
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	Address      string `yaml:"address" mapstructure:"address"`
	Folder       string `yaml:"folder" mapstructure:"folder"`
	GraphBaseURL string `yaml:"graph_base_url" mapstructure:"graph_base_url"`
	TokenURL     string `yaml:"token_url" mapstructure:"token_url"`
	MaxMessages  int    `yaml:"max_messages" mapstructure:"max_messages"`
}

// BlobConfig selects and addresses the blob store.
type BlobConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"`
	LocalDir  string `yaml:"local_dir" mapstructure:"local_dir"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Region    string `yaml:"region" mapstructure:"region"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// RedisConfig enables the seen-message filter when URL is set.
type RedisConfig struct {
	URL           string `yaml:"url" mapstructure:"url"`
	DedupTTLHours int    `yaml:"dedup_ttl_hours" mapstructure:"dedup_ttl_hours"`
	DedupPrefix   string `yaml:"dedup_key_prefix" mapstructure:"dedup_key_prefix"`
}

// NATSConfig enables finalized-submission events when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url" mapstructure:"url"`
	Subject string `yaml:"subject" mapstructure:"subject"`
}

// NotionConfig holds Notion API credentials for the field definitions database.
type NotionConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	FieldDB string `yaml:"field_db" mapstructure:"field_db"`
}

// SlackConfig enables error alerts when Token and Channel are set.
type SlackConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	Channel string `yaml:"channel" mapstructure:"channel"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// PollerConfig configures the mailbox poller.
type PollerConfig struct {
	Schedule       string `yaml:"schedule" mapstructure:"schedule"`
	QueueSize      int    `yaml:"queue_size" mapstructure:"queue_size"`
	MessagePauseMS int    `yaml:"message_pause_ms" mapstructure:"message_pause_ms"`
	MaxRetries     int    `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBaseMS    int    `yaml:"retry_base_ms" mapstructure:"retry_base_ms"`
	RetryMaxSecs   int    `yaml:"retry_max_secs" mapstructure:"retry_max_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// SchemaConfig points at optional overrides for the bundled extraction schema
// and field definitions.
type SchemaConfig struct {
	Path       string `yaml:"path" mapstructure:"path"`
	FieldsPath string `yaml:"fields_path" mapstructure:"fields_path"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("extraction.batch_size", 5)
	v.SetDefault("extraction.batch_pause_ms", 1000)
	v.SetDefault("extraction.cooldown_secs", 5)
	v.SetDefault("extraction.max_retries", 3)
	v.SetDefault("extraction.retry_base_ms", 1000)
	v.SetDefault("extraction.retry_max_secs", 30)
	v.SetDefault("extraction.max_section_chars", 200_000)
	v.SetDefault("mailbox.folder", "inbox")
	v.SetDefault("mailbox.graph_base_url", "https://graph.microsoft.com/v1.0")
	v.SetDefault("mailbox.max_messages", 50)
	v.SetDefault("blob.driver", "local")
	v.SetDefault("blob.local_dir", "./data/blobs")
	v.SetDefault("blob.bucket", "submissions")
	v.SetDefault("redis.dedup_ttl_hours", 24)
	v.SetDefault("redis.dedup_key_prefix", "intake:seen:")
	v.SetDefault("nats.subject", "intake.submission.finalized")
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("poller.schedule", "@every 1m")
	v.SetDefault("poller.queue_size", 100)
	v.SetDefault("poller.message_pause_ms", 500)
	v.SetDefault("poller.max_retries", 3)
	v.SetDefault("poller.retry_base_ms", 1000)
	v.SetDefault("poller.retry_max_secs", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the keys a command depends on are present. mode is
// the command name: serve, poll, process, reset or migrate.
func (c *Config) Validate(mode string) error {
	var errs []string
	require := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	needsMailbox, needsAnthropic := false, false
	switch mode {
	case "serve", "poll":
		needsMailbox, needsAnthropic = true, true
	case "process":
		needsAnthropic = true
	case "reset", "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		require(c.Store.DatabaseURL != "", "store.database_url is required")
	case "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}

	if needsAnthropic {
		require(c.Anthropic.Key != "", "anthropic.key is required")
		require(c.Extraction.BatchSize >= 1 && c.Extraction.BatchSize <= 50, "extraction.batch_size must be between 1 and 50")
		require(c.Extraction.MaxRetries >= 0, "extraction.max_retries must be >= 0")

		switch c.Blob.Driver {
		case "local":
			require(c.Blob.LocalDir != "", "blob.local_dir is required")
		case "minio":
			require(c.Blob.Endpoint != "", "blob.endpoint is required")
			require(c.Blob.Bucket != "", "blob.bucket is required")
		default:
			errs = append(errs, "blob.driver must be local or minio")
		}
		if c.OCR.Provider == "mistral" {
			require(c.OCR.MistralKey != "", "ocr.mistral_api_key is required for the mistral provider")
		}
	}

	if needsMailbox {
		require(c.Mailbox.TenantID != "", "mailbox.tenant_id is required")
		require(c.Mailbox.ClientID != "", "mailbox.client_id is required")
		require(c.Mailbox.ClientSecret != "", "mailbox.client_secret is required")
		require(c.Mailbox.Address != "", "mailbox.address is required")
		require(c.Poller.QueueSize > 0, "poller.queue_size must be > 0")
	}

	if mode == "serve" {
		require(c.Server.Port > 0, "server.port must be > 0")
		if _, err := cron.ParseStandard(c.Poller.Schedule); err != nil {
			errs = append(errs, "poller.schedule is not a valid cron spec")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
