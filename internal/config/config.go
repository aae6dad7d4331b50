package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `json:"server" mapstructure:"server"`
	Storage   StorageConfig   `json:"storage" mapstructure:"storage"`
	Lifecycle LifecycleConfig `json:"lifecycle" mapstructure:"lifecycle"`
}

type ServerConfig struct {
	Host        string `json:"host" mapstructure:"host"`
	Port        int    `json:"port" mapstructure:"port"`
	CORSOrigins string `json:"cors_origins" mapstructure:"cors_origins"`
	// JWTSecret verifies identification tokens minted by the external
	// identification subsystem. Empty disables identity parsing.
	JWTSecret string `json:"jwt_secret" mapstructure:"jwt_secret"`
}

type StorageConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// LifecycleConfig enumerates every knob the conversation state machine
// consults. Feature flags gate their thresholds: a disabled feature
// never fires its transition regardless of the configured value.
type LifecycleConfig struct {
	EnableIdleTimeout      bool `json:"enable_idle_timeout" mapstructure:"enable_idle_timeout"`
	IdleTimeoutMinutes     int  `json:"idle_timeout_minutes" mapstructure:"idle_timeout_minutes"`
	EnableMaxSessionLength bool `json:"enable_max_session_length" mapstructure:"enable_max_session_length"`
	MaxSessionMinutes      int  `json:"max_session_minutes" mapstructure:"max_session_minutes"`
	EnableMessageQuota     bool `json:"enable_message_quota" mapstructure:"enable_message_quota"`
	MaxMessagesPerSession  int  `json:"max_messages_per_session" mapstructure:"max_messages_per_session"`
	MaxMessagesPerHour     int  `json:"max_messages_per_hour" mapstructure:"max_messages_per_hour"`
	MaxMessagesPerDay      int  `json:"max_messages_per_day" mapstructure:"max_messages_per_day"`
	EnableSpamPrevention   bool `json:"enable_spam_prevention" mapstructure:"enable_spam_prevention"`
	MinMessageDelaySeconds int  `json:"min_message_delay_seconds" mapstructure:"min_message_delay_seconds"`

	SessionTTLHours int `json:"session_ttl_hours" mapstructure:"session_ttl_hours"`

	// TickInterval is how often the timeout supervisor re-checks the
	// live session while the process is running, in seconds.
	TickIntervalSeconds int `json:"tick_interval_seconds" mapstructure:"tick_interval_seconds"`

	WelcomeMessage string `json:"welcome_message" mapstructure:"welcome_message"`
}

func (c LifecycleConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMinutes) * time.Minute
}

func (c LifecycleConfig) MaxSessionAge() time.Duration {
	return time.Duration(c.MaxSessionMinutes) * time.Minute
}

func (c LifecycleConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c LifecycleConfig) MinMessageDelay() time.Duration {
	return time.Duration(c.MinMessageDelaySeconds) * time.Second
}

func (c LifecycleConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	homeDir, err := os.UserHomeDir()
	if err == nil {
		viper.AddConfigPath(filepath.Join(homeDir, ".deskflow"))
	}

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			cfg := defaultConfig()
			loadEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvOverrides(&cfg)

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8090)
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("storage.path", "deskflow.db")

	viper.SetDefault("lifecycle.enable_idle_timeout", true)
	viper.SetDefault("lifecycle.idle_timeout_minutes", 30)
	viper.SetDefault("lifecycle.enable_max_session_length", true)
	viper.SetDefault("lifecycle.max_session_minutes", 24*60)
	viper.SetDefault("lifecycle.enable_message_quota", false)
	viper.SetDefault("lifecycle.max_messages_per_session", 50)
	viper.SetDefault("lifecycle.max_messages_per_hour", 30)
	viper.SetDefault("lifecycle.max_messages_per_day", 100)
	viper.SetDefault("lifecycle.enable_spam_prevention", true)
	viper.SetDefault("lifecycle.min_message_delay_seconds", 2)
	viper.SetDefault("lifecycle.session_ttl_hours", 24)
	viper.SetDefault("lifecycle.tick_interval_seconds", 30)
	viper.SetDefault("lifecycle.welcome_message", "Hi! How can we help you today?")
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8090,
		},
		Storage: StorageConfig{
			Path: "deskflow.db",
		},
		Lifecycle: DefaultLifecycle(),
	}
}

// DefaultLifecycle returns the thresholds the widget ships with
func DefaultLifecycle() LifecycleConfig {
	return LifecycleConfig{
		EnableIdleTimeout:      true,
		IdleTimeoutMinutes:     30,
		EnableMaxSessionLength: true,
		MaxSessionMinutes:      24 * 60,
		EnableMessageQuota:     false,
		MaxMessagesPerSession:  50,
		MaxMessagesPerHour:     30,
		MaxMessagesPerDay:      100,
		EnableSpamPrevention:   true,
		MinMessageDelaySeconds: 2,
		SessionTTLHours:        24,
		TickIntervalSeconds:    30,
		WelcomeMessage:         "Hi! How can we help you today?",
	}
}

func loadEnvOverrides(cfg *Config) {
	if port := os.Getenv("DESKFLOW_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("DESKFLOW_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if origins := os.Getenv("DESKFLOW_CORS_ORIGINS"); origins != "" {
		cfg.Server.CORSOrigins = origins
	}
	if secret := os.Getenv("DESKFLOW_JWT_SECRET"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if path := os.Getenv("DESKFLOW_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
}
