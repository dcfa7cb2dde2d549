package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the agent settings
type Config struct {
	HTTPAddr       string
	PollInterval   time.Duration
	LogLevel       string
	APIURL         string
	APIKey         string
	DockerAnnotate bool
	AllowedOrigins []string
}

// Load reads config from .env and the environment. It reports whether a
// .env file was found so the caller can log it once the logger exists.
func Load() (*Config, bool) {
	envFile := godotenv.Load() == nil
	return FromEnv(), envFile
}

// FromEnv builds the config from the process environment only
func FromEnv() *Config {
	interval, err := strconv.Atoi(os.Getenv("POLL_INTERVAL_SECONDS"))
	if err != nil || interval < 1 {
		interval = 2
	}

	annotate, err := strconv.ParseBool(getEnv("DOCKER_ANNOTATE", "true"))
	if err != nil {
		annotate = true
	}

	return &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8787"),
		PollInterval:   time.Duration(interval) * time.Second,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		APIURL:         getEnv("API_URL", ""),
		APIKey:         getEnv("API_KEY", ""),
		DockerAnnotate: annotate,
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
	}
}

// PushEnabled reports whether poll results should be pushed to a remote API
func (c *Config) PushEnabled() bool {
	return c.APIURL != ""
}

// getEnv reads an env var with fallback
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
