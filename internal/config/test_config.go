package config

import "time"

// TestConfig returns a config suitable for testing
func TestConfig() *Config {
	cfg := defaultConfig()
	cfg.Database = DatabaseConfig{
		Path:    ":memory:",
		Timeout: 1 * time.Second,
	}
	cfg.Catalog.Token = ""
	cfg.Providers.HTTPTimeout = 5 * time.Second
	cfg.Providers.UserAgent = "crossread-test/1.0"
	cfg.Providers.AllowLocal = true
	cfg.Cache.TTL = 1 * time.Minute
	cfg.Log = LogConfig{Level: "off"}
	return cfg
}
