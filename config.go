package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
	"i4.energy/across/esplink/at"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the HTTP bridge listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the module's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the module (e.g. 115200)
	BaudRate int `yaml:"baud_rate"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`

	// SSID and Password select the access point joined during bring-up.
	// An empty SSID skips the join.
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`

	// Protocol, Host and Port describe the server session opened after the
	// join. An empty Host skips it.
	Protocol string `yaml:"protocol"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`

	// RetryDelay is the pause between two attempts of a bring-up step.
	RetryDelay time.Duration `yaml:"retry_delay"`
	// MaxAttempts bounds the attempts of every bring-up step.
	MaxAttempts int `yaml:"max_attempts"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.Protocol = string(at.TCP)
		c.RetryDelay = 2 * time.Second
		c.MaxAttempts = 5
		return nil
	}
}

// WithFile loads configuration from a YAML file. Keys missing from the file
// keep their current value. An empty path is a no-op.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			b, err := strconv.Atoi(baud)
			if err != nil {
				return fmt.Errorf("BAUD_RATE: %w", err)
			}
			c.BaudRate = b
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if ssid := os.Getenv("WIFI_SSID"); ssid != "" {
			c.SSID = ssid
		}

		if password := os.Getenv("WIFI_PASSWORD"); password != "" {
			c.Password = password
		}

		if proto := os.Getenv("SERVER_PROTOCOL"); proto != "" {
			c.Protocol = proto
		}

		if host := os.Getenv("SERVER_HOST"); host != "" {
			c.Host = host
		}

		if port := os.Getenv("SERVER_PORT"); port != "" {
			p, err := strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("SERVER_PORT: %w", err)
			}
			c.Port = p
		}

		if delay := os.Getenv("RETRY_DELAY"); delay != "" {
			d, err := time.ParseDuration(delay)
			if err != nil {
				return fmt.Errorf("RETRY_DELAY: %w", err)
			}
			c.RetryDelay = d
		}

		if attempts := os.Getenv("MAX_ATTEMPTS"); attempts != "" {
			n, err := strconv.Atoi(attempts)
			if err != nil {
				return fmt.Errorf("MAX_ATTEMPTS: %w", err)
			}
			c.MaxAttempts = n
		}

		return nil
	}
}

// WithFlags loads configuration from the command-line flags that were set
// explicitly. The WiFi password has no flag so it stays out of shell history.
func WithFlags(fSet *pflag.FlagSet) ConfigOption {
	return func(c *Config) error {
		var err error
		fSet.Visit(func(f *pflag.Flag) {
			if err != nil {
				return
			}
			switch f.Name {
			case "bind":
				c.BindAddress = f.Value.String()
			case "port":
				c.SerialPort = f.Value.String()
			case "baud":
				c.BaudRate, err = fSet.GetInt(f.Name)
			case "log-level":
				c.LogLevel = f.Value.String()
			case "ssid":
				c.SSID = f.Value.String()
			case "protocol":
				c.Protocol = f.Value.String()
			case "host":
				c.Host = f.Value.String()
			case "server-port":
				c.Port, err = fSet.GetInt(f.Name)
			case "retry-delay":
				c.RetryDelay, err = fSet.GetDuration(f.Name)
			case "attempts":
				c.MaxAttempts, err = fSet.GetInt(f.Name)
			}
		})
		return err
	}
}

func (c *Config) validate() error {
	c.Protocol = strings.ToUpper(c.Protocol)
	switch at.Protocol(c.Protocol) {
	case at.TCP, at.UDP, at.SSL:
	default:
		return fmt.Errorf("unsupported protocol %q", c.Protocol)
	}
	if c.Host != "" && (c.Port < 1 || c.Port > 65535) {
		return fmt.Errorf("server port %d out of range", c.Port)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("negative retry delay %s", c.RetryDelay)
	}
	return nil
}

// Level maps LogLevel to a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
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
