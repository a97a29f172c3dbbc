package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kyleking/fedquery/internal/config"
)

func TestRunConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.Config
		wantErr  bool
		contains []string
		absent   []string
	}{
		{
			name: "basic configuration display",
			cfg: &config.Config{
				Database: config.DatabaseConfig{
					Path:         "~/.config/fedquery/fedquery.duckdb",
					QueryTimeout: "30s",
				},
				Cache: config.CacheConfig{
					Enabled:        true,
					TTL:            "1h",
					MaxEntrySizeMB: 100,
					MaxTotalSizeMB: 500,
				},
				Logging: config.LoggingConfig{
					Level:  "info",
					Format: "text",
					Output: "stderr",
				},
				Sources: []config.SourceConfig{{Name: "shop", Driver: "sqlite", DSN: "/data/shop.db"}},
			},
			contains: []string{
				"Active Configuration:",
				"Path: ~/.config/fedquery/fedquery.duckdb",
				"Query Timeout: 30s",
				"shop: sqlite",
				"Enabled: true",
				"TTL: 1h",
				"Max Total Size: 500 MB",
				"Level: info",
				"Output: stderr",
			},
			absent: []string{"/data/shop.db", "Raw Configuration", "Redis:"},
		},
		{
			name: "debug shows redacted JSON",
			cfg: &config.Config{
				Cache: config.CacheConfig{
					RedisAddr:     "localhost:6379",
					RedisPassword: "hunter2",
				},
				LLM:       config.LLMConfig{Provider: "gemini", APIKey: "secret-key"},
				Generator: config.GeneratorConfig{UseModel: true},
				Logging: config.LoggingConfig{
					Level:  "debug",
					Output: "file",
					File:   "/tmp/fedquery.log",
				},
				Debug: config.DebugConfig{Enabled: true, Verbose: true},
			},
			contains: []string{
				"(none)",
				"Redis: localhost:6379 (db 0)",
				"LLM Provider: gemini",
				"File: /tmp/fedquery.log",
				"Raw Configuration (JSON):",
				`"api_key": "****"`,
			},
			absent: []string{"hunter2", "secret-key"},
		},
		{
			name:    "nil configuration error",
			cfg:     nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			err := RunConfigWithConfig(&buf, tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)

			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}

			for _, s := range tt.absent {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestRunConfigFromContext(t *testing.T) {
	var buf bytes.Buffer

	assert.Error(t, runConfig(context.Background(), &buf))

	cfg := config.DefaultConfig()
	assert.NoError(t, runConfig(contextWithConfig(context.Background(), cfg), &buf))
	assert.Contains(t, buf.String(), "Provider: hash")
}
