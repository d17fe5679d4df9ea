package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode               string        `mapstructure:"mode"`
	Port               int           `mapstructure:"port"`
	DBPath             string        `mapstructure:"db_path"`
	UpstreamBaseURL    string        `mapstructure:"upstream_base_url"`
	UpstreamAPIKey     string        `mapstructure:"upstream_api_key"`
	AdminToken         string        `mapstructure:"admin_token"`
	MaxActiveSessions  int           `mapstructure:"max_active_sessions"`
	DefaultIdleMinutes int           `mapstructure:"default_idle_minutes"`
	AllowedOrigins     []string      `mapstructure:"allowed_origins"`
	Secret             string        `mapstructure:"secret"`
	ReadLimit          int64         `mapstructure:"read_limit"`
	PingPeriod         time.Duration `mapstructure:"ping_period"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "cobrowse.db")
	v.SetDefault("upstream_base_url", "https://engine.hyperbeam.com/v0")
	v.SetDefault("upstream_api_key", "")
	v.SetDefault("admin_token", "")
	v.SetDefault("max_active_sessions", 0)
	v.SetDefault("default_idle_minutes", 30)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("secret", "")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	// Secrets (admin token, upstream key) usually arrive via env.
	v.SetEnvPrefix("cobrowse")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | DB: %s\n", cfg.Mode, cfg.Port, cfg.DBPath)
	return &cfg, nil
}
