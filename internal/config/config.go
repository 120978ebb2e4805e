// Package config loads the gateway's configuration from a YAML file
// and BUSGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Config is the gateway's configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `mapstructure:"listen"`
	// BusSocket is the unix socket path of the message bus.
	BusSocket string `mapstructure:"bus_socket"`

	// MapperService, MapperPath and MapperInterface override the
	// default object mapper location. Empty means the default.
	MapperService   string `mapstructure:"mapper_service"`
	MapperPath      string `mapstructure:"mapper_path"`
	MapperInterface string `mapstructure:"mapper_interface"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
}

// Load reads the configuration. file selects an explicit config
// file; when empty, busgate.yaml is searched for in the working
// directory and /etc/busgate, and running without any file is fine.
// Environment variables (BUSGATE_LISTEN, BUSGATE_BUS_SOCKET, ...)
// override file values.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetDefault("listen", ":8080")
	v.SetDefault("bus_socket", "/run/dbus/system_bus_socket")
	v.SetDefault("mapper_service", "")
	v.SetDefault("mapper_path", "")
	v.SetDefault("mapper_interface", "")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("BUSGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		v.SetConfigName("busgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/busgate")
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// SlogLevel maps the configured log level onto a slog.Level.
// Unknown values read as info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
