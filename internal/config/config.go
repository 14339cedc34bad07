// Package config loads runtime settings from the environment, honoring a
// local .env file. Command-line flags override whatever is loaded here.
package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port       string
	Name       string
	DataPath   string
	AdminToken string
	RelayURLs  []string
	LogLevel   string
}

// Load reads the environment with sensible defaults.
func Load() *Config {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Port:       getEnv("CHATDESK_PORT", "8090"),
		Name:       getEnv("CHATDESK_NAME", "chatdesk"),
		DataPath:   getEnv("CHATDESK_DATA", ""),
		AdminToken: getEnv("CHATDESK_ADMIN_TOKEN", ""),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}
	if relay := os.Getenv("RELAY"); relay != "" {
		for _, u := range strings.Split(relay, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.RelayURLs = append(cfg.RelayURLs, u)
			}
		}
	}
	return cfg
}

// Validate rejects configurations that would silently lock every console
// out.
func (c *Config) Validate() error {
	if c.AdminToken == "" {
		return errors.New("config: CHATDESK_ADMIN_TOKEN is required for the admin console")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
