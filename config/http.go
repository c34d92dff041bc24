package config

import "time"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the base URL of the application (e.g., "https://docpipe.example.com").
	// Used for generating absolute URLs in responses and client-facing links.
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	// ShutdownTimeout bounds how long graceful shutdown waits for in-flight
	// requests before the listener is torn down.
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}
