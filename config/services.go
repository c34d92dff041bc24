package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the extraction worker pool.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeRelay runs the event relay and WebSocket gateway.
	ServiceModeRelay ServiceMode = "relay"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeWorker,
		ServiceModeRelay,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeRelay:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, worker, relay)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains extraction worker pool configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines per process.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"2"`

	// WaitWindow bounds a single idle wait for a job notification. When it
	// elapses without a wakeup the worker re-polls the queue, which covers
	// missed NOTIFYs.
	WaitWindow time.Duration `env:"WORKER_WAIT_WINDOW" envDefault:"30s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.WaitWindow < time.Second {
		w.WaitWindow = time.Second
	}
}
