package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/docpipe/config"
)

func TestValidateServiceConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *config.AppConfig
		expectError bool
	}{
		{
			name:        "nil config",
			cfg:         nil,
			expectError: true,
		},
		{
			name:        "valid single service",
			cfg:         &config.AppConfig{Services: "http"},
			expectError: false,
		},
		{
			name:        "valid multiple services",
			cfg:         &config.AppConfig{Services: "http,worker,relay"},
			expectError: false,
		},
		{
			name:        "invalid service",
			cfg:         &config.AppConfig{Services: "browser"},
			expectError: true,
		},
		{
			name:        "empty services",
			cfg:         &config.AppConfig{Services: ""},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServiceConfig(tt.cfg)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestGetEnabledServices(t *testing.T) {
	assert.Empty(t, GetEnabledServices(nil))
	assert.Empty(t, GetEnabledServices(&config.AppConfig{Services: "bogus"}))

	got := GetEnabledServices(&config.AppConfig{Services: "relay,http"})
	assert.Equal(t, []string{"http", "relay"}, got)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.Services)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.GreaterOrEqual(t, cfg.Worker.Concurrency, 1)
}
