package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DB struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"db"`

	API struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"api"`

	Auth struct {
		Secret       string        `mapstructure:"secret"`
		TokenTTLMins int           `mapstructure:"token_ttl_minutes"`
		TokenTTL     time.Duration `mapstructure:"-"`
	} `mapstructure:"auth"`

	Hub struct {
		ProbeIntervalSeconds int           `mapstructure:"probe_interval_seconds"`
		ProbeInterval        time.Duration `mapstructure:"-"`
		SendBuffer           int           `mapstructure:"send_buffer"`
		MaxMessageBytes      int64         `mapstructure:"max_message_bytes"`
		WriteTimeoutSeconds  int           `mapstructure:"write_timeout_seconds"`
		WriteTimeout         time.Duration `mapstructure:"-"`
	} `mapstructure:"hub"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("api.listen", "127.0.0.1:8080")
	v.SetDefault("auth.token_ttl_minutes", 24*60)
	v.SetDefault("hub.probe_interval_seconds", 30)
	v.SetDefault("hub.send_buffer", 64)
	v.SetDefault("hub.max_message_bytes", 32*1024)
	v.SetDefault("hub.write_timeout_seconds", 10)
	v.SetDefault("log.level", "info")

	// Env overrides
	v.SetEnvPrefix("NOTIFYD")
	v.AutomaticEnv()
	_ = v.BindEnv("db.dsn", "NOTIFYD_DB_DSN")
	_ = v.BindEnv("api.listen", "NOTIFYD_API_LISTEN")
	_ = v.BindEnv("auth.secret", "NOTIFYD_AUTH_SECRET")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Auth.TokenTTL = time.Duration(c.Auth.TokenTTLMins) * time.Minute
	c.Hub.ProbeInterval = time.Duration(c.Hub.ProbeIntervalSeconds) * time.Second
	c.Hub.WriteTimeout = time.Duration(c.Hub.WriteTimeoutSeconds) * time.Second

	if c.DB.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required (set NOTIFYD_DB_DSN or config file)")
	}
	if c.Auth.Secret == "" {
		return nil, fmt.Errorf("auth.secret is required (set NOTIFYD_AUTH_SECRET or config file)")
	}
	return &c, nil
}
