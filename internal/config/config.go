package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	API    APIConfig    `mapstructure:"api"`
	Mirror MirrorConfig `mapstructure:"mirror"`
	Log    LogConfig    `mapstructure:"log"`
}

// APIConfig holds settings for talking to the wiki's query API.
type APIConfig struct {
	URL       string        `mapstructure:"url"`
	UserAgent string        `mapstructure:"user_agent"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	Maxlag    int           `mapstructure:"maxlag"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// MirrorConfig holds settings for the local snapshot store.
type MirrorConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // e.g., "debug", "info", "warn", "error"
	Format string `mapstructure:"format"` // e.g., "json", "console"
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("api.url", "https://en.wikipedia.org/w/api.php")
	viper.SetDefault("api.user_agent", "wikicli/1.0")
	viper.SetDefault("api.maxlag", 5)
	viper.SetDefault("api.timeout", 30*time.Second)
	viper.SetDefault("mirror.path", "mirror.db")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")

	// Set up viper to read from config file
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/wikicli/")
	viper.AddConfigPath("$HOME/.wikicli")

	// Attempt to read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		// Config file not found; proceed with defaults and env vars
	}

	// Set up viper to read from environment variables
	viper.SetEnvPrefix("WIKI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Unmarshal the config into the Config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
