package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultConfigPath         = "config.toml"
	DefaultHTTPAddr           = ":8080"
	DefaultJWTExpiresIn       = "24h"
	DefaultPGHost             = "127.0.0.1"
	DefaultPGPort             = 5432
	DefaultPGUser             = "postgres"
	DefaultPGDatabase         = "zottis"
	DefaultPGSSLMode          = "disable"
	DefaultTelegramEndpoint   = "https://api.telegram.org/bot%s/%s"
	DefaultWhatsAppAPIBase    = "https://graph.facebook.com/v20.0"
	DefaultAssistantBaseURL   = "http://localhost:11434"
	DefaultAssistantModel     = "qwen2.5:7b"
	DefaultEventsExchange     = "zottis.events"
	DefaultPollInterval       = 2 * time.Second
	DefaultUpstreamTimeout    = 15 * time.Second
	DefaultCompletionTimeout  = 60 * time.Second
	DefaultHistoryLimit       = 10
	DefaultAsynqConcurrency   = 5
	DefaultAssistantPrompt    = "You are an AI support assistant. Answer in Romanian, concise and helpful. You are integrated into a multi-platform message hub (WhatsApp, Telegram, etc.)."
	StateStoreMemory          = "memory"
	StateStoreRedis           = "redis"
	SchedulerInline           = "inline"
	SchedulerAsynq            = "asynq"
	defaultPollTimeoutSeconds = 1
	defaultPollLimit          = 100
	autoReplyJobMargin        = 10 * time.Second
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Telegram  TelegramConfig  `toml:"telegram"`
	WhatsApp  WhatsAppConfig  `toml:"whatsapp"`
	Assistant AssistantConfig `toml:"assistant"`
	AutoReply AutoReplyConfig `toml:"autoreply"`
	Knowledge KnowledgeConfig `toml:"knowledge"`
	Redis     RedisConfig     `toml:"redis"`
	Events    EventsConfig    `toml:"events"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr      string `toml:"addr"`
	PublicURL string `toml:"public_url"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// ExpiresIn parses JWTExpiresIn, falling back to the default on bad input.
func (c AuthConfig) ExpiresIn() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.JWTExpiresIn))
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultJWTExpiresIn)
	}
	return d
}

type PostgresConfig struct {
	URL      string `toml:"url"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

type TelegramConfig struct {
	APIEndpoint             string        `toml:"api_endpoint"`
	SkipWebhookRegistration bool          `toml:"skip_webhook_registration"`
	RequestTimeout          Duration      `toml:"request_timeout"`
	Polling                 PollingConfig `toml:"polling"`
}

type PollingConfig struct {
	// Enabled is nil when unset so it can follow SkipWebhookRegistration.
	Enabled        *bool    `toml:"enabled"`
	Interval       Duration `toml:"interval"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	Limit          int      `toml:"limit"`
}

// PollingEnabled reports whether the long-poll loop should run.
func (c TelegramConfig) PollingEnabled() bool {
	if c.Polling.Enabled != nil {
		return *c.Polling.Enabled
	}
	return c.SkipWebhookRegistration
}

type WhatsAppConfig struct {
	APIBase        string   `toml:"api_base"`
	VerifyToken    string   `toml:"verify_token"`
	AppSecret      string   `toml:"app_secret"` // enables X-Hub-Signature-256 checks
	RequestTimeout Duration `toml:"request_timeout"`
}

type AssistantConfig struct {
	BaseURL          string   `toml:"base_url"`
	Model            string   `toml:"model"`
	APIKey           string   `toml:"api_key"`
	SystemPrompt     string   `toml:"system_prompt"`
	HistoryLimit     int      `toml:"history_limit"`
	RequestTimeout   Duration `toml:"request_timeout"`
	AutoReplyDefault bool     `toml:"auto_reply_default"`
}

type AutoReplyConfig struct {
	StateStore       string   `toml:"state_store"`
	Scheduler        string   `toml:"scheduler"`
	AsynqConcurrency int      `toml:"asynq_concurrency"`
	JobTimeout       Duration `toml:"job_timeout"` // zero derives it from the upstream timeouts
}

// AutoReplyJobTimeout bounds one auto-reply job. Unless set explicitly it
// covers a knowledge base call, a completion and a platform send in sequence,
// plus a margin for history reads.
func (c Config) AutoReplyJobTimeout() time.Duration {
	if c.AutoReply.JobTimeout.Duration > 0 {
		return c.AutoReply.JobTimeout.Duration
	}
	send := max(c.Telegram.RequestTimeout.Duration, c.WhatsApp.RequestTimeout.Duration)
	return c.Knowledge.RequestTimeout.Duration + c.Assistant.RequestTimeout.Duration + send + autoReplyJobMargin
}

type KnowledgeConfig struct {
	BaseURL        string   `toml:"base_url"`
	RequestTimeout Duration `toml:"request_timeout"`
}

type RedisConfig struct {
	URL string `toml:"url"`
}

type EventsConfig struct {
	AMQPURL  string `toml:"amqp_url"`
	Exchange string `toml:"exchange"`
}

// Duration decodes TOML strings such as "2s" or "1m30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadEnv loads a .env file into the process environment when present.
// Variables already set are left untouched.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Telegram: TelegramConfig{
			APIEndpoint:    DefaultTelegramEndpoint,
			RequestTimeout: Duration{DefaultUpstreamTimeout},
			Polling: PollingConfig{
				Interval:       Duration{DefaultPollInterval},
				TimeoutSeconds: defaultPollTimeoutSeconds,
				Limit:          defaultPollLimit,
			},
		},
		WhatsApp: WhatsAppConfig{
			APIBase:        DefaultWhatsAppAPIBase,
			RequestTimeout: Duration{DefaultUpstreamTimeout},
		},
		Assistant: AssistantConfig{
			BaseURL:        DefaultAssistantBaseURL,
			Model:          DefaultAssistantModel,
			SystemPrompt:   DefaultAssistantPrompt,
			HistoryLimit:   DefaultHistoryLimit,
			RequestTimeout: Duration{DefaultCompletionTimeout},
		},
		AutoReply: AutoReplyConfig{
			StateStore:       StateStoreMemory,
			Scheduler:        SchedulerInline,
			AsynqConcurrency: DefaultAsynqConcurrency,
		},
		Knowledge: KnowledgeConfig{
			RequestTimeout: Duration{DefaultCompletionTimeout},
		},
		Events: EventsConfig{
			Exchange: DefaultEventsExchange,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.PublicURL, "APP_URL")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Postgres.URL, "DATABASE_URL")
	setString(&cfg.WhatsApp.VerifyToken, "WHATSAPP_VERIFY_TOKEN")
	setString(&cfg.WhatsApp.APIBase, "WHATSAPP_API_BASE")
	setString(&cfg.WhatsApp.AppSecret, "WHATSAPP_APP_SECRET")
	setString(&cfg.Assistant.BaseURL, "OLLAMA_URL")
	setString(&cfg.Assistant.Model, "OLLAMA_MODEL")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Events.AMQPURL, "AMQP_URL")
	if v, ok := os.LookupEnv("SKIP_WEBHOOK_REGISTRATION"); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Telegram.SkipWebhookRegistration = b
		}
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}
