package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/autoflow/internal/plugins"
	"github.com/rendis/autoflow/internal/queue"
)

// Config holds all autoflow server configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	DBPath      string `json:"db_path"`
	DatabaseURL string `json:"database_url"` // postgres:// or libsql URL; overrides db_path when set
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`
	PoolSize    int    `json:"pool_size"`

	QueueBackend  string   `json:"queue_backend"`
	QueueTopic    string   `json:"queue_topic"`
	KafkaBrokers  []string `json:"kafka_brokers"`
	ConsumerGroup string   `json:"consumer_group"`

	DispatchInterval Duration `json:"dispatch_interval"`
	RedisAddr        string   `json:"redis_addr"` // enables the dispatch claim
	ApprovalTTL      Duration `json:"approval_ttl"`
	HTTPTimeout      Duration `json:"http_timeout"`

	OTLPEndpoint string `json:"otlp_endpoint"`
	OTLPInsecure bool   `json:"otlp_insecure"`

	// Plugins are external MCP servers whose tools become capabilities.
	Plugins             []plugins.Config `json:"plugins,omitempty"`
	PluginCheckInterval Duration         `json:"plugin_check_interval"`
}

// Duration is a time.Duration written as "10s" in settings.json.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func defaultConfig() Config {
	return Config{
		DBPath:           filepath.Join(autoflowDir(), "autoflow.db"),
		LogLevel:         "info",
		LogFormat:        "auto",
		PoolSize:         10,
		QueueBackend:     queue.BackendGoChannel,
		QueueTopic:       queue.DefaultTopic,
		DispatchInterval: Duration(10 * time.Second),
		HTTPTimeout:      Duration(30 * time.Second),

		PluginCheckInterval: Duration(30 * time.Second),
	}
}

func autoflowDir() string {
	if dir := os.Getenv("AUTOFLOW_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autoflow"
	}
	return filepath.Join(home, ".autoflow")
}

func settingsPath() string {
	return filepath.Join(autoflowDir(), "settings.json")
}

// loadConfig layers settings.json and AUTOFLOW_* env vars over the defaults.
// A missing settings file is not an error; a malformed one is.
func loadConfig() (Config, error) {
	cfg := defaultConfig()

	if data, err := os.ReadFile(settingsPath()); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", settingsPath(), err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("AUTOFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("AUTOFLOW_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("AUTOFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AUTOFLOW_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("AUTOFLOW_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AUTOFLOW_POOL_SIZE: %w", err)
		}
		cfg.PoolSize = n
	}
	if v := os.Getenv("AUTOFLOW_QUEUE_BACKEND"); v != "" {
		cfg.QueueBackend = v
	}
	if v := os.Getenv("AUTOFLOW_QUEUE_TOPIC"); v != "" {
		cfg.QueueTopic = v
	}
	if v := os.Getenv("AUTOFLOW_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("AUTOFLOW_CONSUMER_GROUP"); v != "" {
		cfg.ConsumerGroup = v
	}
	if v := os.Getenv("AUTOFLOW_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("AUTOFLOW_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("AUTOFLOW_OTLP_INSECURE"); v != "" {
		cfg.OTLPInsecure = v == "true" || v == "1"
	}
	for name, dst := range map[string]*Duration{
		"AUTOFLOW_DISPATCH_INTERVAL": &cfg.DispatchInterval,
		"AUTOFLOW_APPROVAL_TTL":      &cfg.ApprovalTTL,
		"AUTOFLOW_HTTP_TIMEOUT":      &cfg.HTTPTimeout,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = Duration(d)
	}
	return nil
}

func (c Config) queueConfig() queue.Config {
	return queue.Config{
		Backend:       c.QueueBackend,
		Topic:         c.QueueTopic,
		Brokers:       c.KafkaBrokers,
		ConsumerGroup: c.ConsumerGroup,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
