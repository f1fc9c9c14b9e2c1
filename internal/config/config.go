package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// maxExpiryDays is the browser cookie lifetime cap.
const maxExpiryDays = 400

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"server"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	Source struct {
		Kind string `mapstructure:"kind"` // "postgres" | "file"
		File string `mapstructure:"file"`
	} `mapstructure:"source"`

	GeoIP struct {
		DBPath string `mapstructure:"db_path"`
	} `mapstructure:"geoip"`

	Redis struct {
		URL    string `mapstructure:"url"`
		Prefix string `mapstructure:"prefix"`
	} `mapstructure:"redis"`

	Tracking Tracking `mapstructure:"tracking"`

	Rotation struct {
		ClassPrefix      string `mapstructure:"class_prefix"`
		IntervalMs       int    `mapstructure:"interval_ms"`
		StopTrackAfterMs int    `mapstructure:"stop_track_after_ms"`
	} `mapstructure:"rotation"`

	VisitorState struct {
		KeyPrefix  string `mapstructure:"key_prefix"`
		ExpiryDays int    `mapstructure:"expiry_days"`
	} `mapstructure:"visitor_state"`
}

// Tracking is the tracking surface shared by the collector and the page runtime.
type Tracking struct {
	Endpoint          string   `mapstructure:"endpoint"`
	SecurityToken     string   `mapstructure:"security_token"`
	Methods           []string `mapstructure:"methods"` // "local", "analytics"
	Events            []string `mapstructure:"events"`  // "impressions", "clicks"
	AnalyticsEndpoint string   `mapstructure:"analytics_endpoint"`
	AnalyticsID       string   `mapstructure:"analytics_id"`
	Consent           bool     `mapstructure:"consent"`
	ClickTimeoutMs    int      `mapstructure:"click_timeout_ms"`
	RatePerSecond     float64  `mapstructure:"rate_per_second"`
	Burst             int      `mapstructure:"burst"`
}

func (t Tracking) MethodEnabled(m string) bool { return contains(t.Methods, m) }

func (t Tracking) EventEnabled(e string) bool { return contains(t.Events, e) }

func (t Tracking) ClickTimeout() time.Duration {
	return time.Duration(t.ClickTimeoutMs) * time.Millisecond
}

func Load() Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	_ = v.ReadInConfig() // optional; env can fully configure

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	return cfg
}

func validate(c *Config) {
	if c.Server.Addr == "" { c.Server.Addr = ":8080" }
	if c.Postgres.Port == 0 { c.Postgres.Port = 5432 }
	if c.Postgres.SSLMode == "" { c.Postgres.SSLMode = "disable" }
	if c.Postgres.MaxOpenConns == 0 { c.Postgres.MaxOpenConns = 10 }
	if c.Postgres.MaxIdleConns == 0 { c.Postgres.MaxIdleConns = 10 }
	if c.Listener.Channel == "" { c.Listener.Channel = "adcmdr_data_change" }
	if c.Listener.ReconnectSeconds <= 0 { c.Listener.ReconnectSeconds = 5 }
	if c.Source.Kind == "" { c.Source.Kind = "postgres" }
	if c.Redis.Prefix == "" { c.Redis.Prefix = "adcmdr:" }

	t := &c.Tracking
	if len(t.Methods) == 0 { t.Methods = []string{"local"} }
	if len(t.Events) == 0 { t.Events = []string{"impressions", "clicks"} }
	if t.ClickTimeoutMs <= 0 { t.ClickTimeoutMs = 3000 }
	if t.RatePerSecond <= 0 { t.RatePerSecond = 50 }
	if t.Burst <= 0 { t.Burst = 100 }

	if c.Rotation.ClassPrefix == "" { c.Rotation.ClassPrefix = "adcmdr-" }
	if c.Rotation.IntervalMs < 1000 { c.Rotation.IntervalMs = 5000 }
	if c.Rotation.StopTrackAfterMs < 0 { c.Rotation.StopTrackAfterMs = 0 }

	if c.VisitorState.KeyPrefix == "" { c.VisitorState.KeyPrefix = "adcmdr_" }
	if c.VisitorState.ExpiryDays <= 0 || c.VisitorState.ExpiryDays > maxExpiryDays {
		c.VisitorState.ExpiryDays = maxExpiryDays
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

// StateExpiry is the per-key lifetime of persisted visitor state.
func (c Config) StateExpiry() time.Duration {
	return time.Duration(c.VisitorState.ExpiryDays) * 24 * time.Hour
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}
