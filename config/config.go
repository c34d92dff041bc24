package config

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and Redis configuration
//   - http.go: HTTP server configuration
//   - services.go: Service mode and worker configuration
//   - extractor.go: Extraction engine client configuration
//   - observability.go: Metrics configuration
type AppConfig struct {
	// IsDev controls development mode behavior (relaxed defaults, dev seeding).
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Services is a comma-delimited list of enabled services.
	// Valid values: http, worker, relay
	Services string `env:"SERVICES" envDefault:"http"`

	// Worker pool configuration
	Worker WorkerConfig

	// Extraction engine client configuration
	Extractor ExtractorConfig `envPrefix:"EXTRACTOR_"`

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Worker.Sanitize()
	c.Extractor.Sanitize()
	c.Observability.Sanitize()
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsWorkerEnabled returns true if the extraction worker pool is enabled.
func (c *AppConfig) IsWorkerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeWorker]
}

// IsRelayEnabled returns true if the event relay service is enabled.
func (c *AppConfig) IsRelayEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeRelay]
}
