package cli

import (
	"os"
	"time"
)

// Config holds CLI configuration
type Config struct {
	// Server is the host:port of the protocol listener
	Server string
	// HTTPURL is the base URL of the HTTP surface
	HTTPURL  string
	Nickname string
	Output   string
	Timeout  time.Duration
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Server:   getEnvOrDefault("SHOP_SERVER", "127.0.0.1:9099"),
		HTTPURL:  getEnvOrDefault("SHOP_HTTP", "http://127.0.0.1:9100"),
		Nickname: os.Getenv("SHOP_NICK"),
		Output:   "text",
		Timeout:  5 * time.Second,
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
