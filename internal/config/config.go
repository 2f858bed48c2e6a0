package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const DefaultServerURL = "http://localhost:8080"

type Config struct {
	ServerURL   string `yaml:"server_url"`
	LogFile     string `yaml:"log_file"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// LoadFromEnv builds the configuration from, in increasing precedence,
// defaults, the YAML file named by CHATDAO_CONFIG, and the environment.
// A .env file in the working directory is loaded first if present.
func LoadFromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		ServerURL: DefaultServerURL,
		LogLevel:  "info",
	}

	if path := os.Getenv("CHATDAO_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if v := os.Getenv("CHATDAO_SERVER"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("CHATDAO_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("CHATDAO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CHATDAO_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	server := strings.TrimSpace(c.ServerURL)
	if server == "" {
		return errors.New("server url is required")
	}
	u, err := url.Parse(server)
	if err != nil {
		return fmt.Errorf("server url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ws", "wss":
	default:
		return errors.New("server url must use http, https, ws or wss")
	}
	if u.Host == "" {
		return errors.New("server url must include a host")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("log level %q is not valid", c.LogLevel)
	}
	return nil
}
