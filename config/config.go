package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"port"`
	DatabaseURL string   `mapstructure:"database_url"`
	RedisAddr   string   `mapstructure:"redis_addr"`
	JWTSecret   string   `mapstructure:"jwt_secret"`
	CORSOrigins []string `mapstructure:"cors_origins"`

	SocketPath  string `mapstructure:"socket_path"`
	TokenKey    string `mapstructure:"token_key"`
	HistoryKeep int    `mapstructure:"history_keep"`

	TokenExpireSeconds int64 `mapstructure:"token_expire_seconds"`
}

func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("port", "3030")
	v.SetDefault("database_url", "host=localhost user=postgres password=postgres dbname=sockline port=5432 sslmode=disable TimeZone=UTC")
	v.SetDefault("redis_addr", "localhost:6379")
	// Registered empty so AutomaticEnv can bind JWT_SECRET.
	v.SetDefault("jwt_secret", "")
	v.SetDefault("cors_origins", []string{"http://localhost:5173", "https://localhost:5173"})
	v.SetDefault("socket_path", "/v1/socket")
	v.SetDefault("token_key", "auth-token")
	v.SetDefault("history_keep", 100)
	v.SetDefault("token_expire_seconds", 18000)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A config file is optional; env vars and defaults cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret must be set")
	}

	return &cfg, nil
}
