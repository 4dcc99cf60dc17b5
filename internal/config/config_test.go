package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.SSLMode != "disable" {
		t.Errorf("sslmode = %q, want disable", cfg.Database.SSLMode)
	}
	if cfg.Data.SeriesFrequency != 12 {
		t.Errorf("frequency = %d, want 12", cfg.Data.SeriesFrequency)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_CONN_MAX_LIFETIME", "10m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("server port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.ConnMaxLifetime != 10*time.Minute {
		t.Errorf("conn lifetime = %v, want 10m", cfg.Database.ConnMaxLifetime)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"missing database", func(c *Config) { c.Database.Database = "" }},
		{"idle above open", func(c *Config) { c.Database.MaxIdleConns = 100 }},
		{"bad frequency", func(c *Config) { c.Data.SeriesFrequency = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
