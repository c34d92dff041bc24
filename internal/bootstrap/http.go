package bootstrap

import (
	"net/http"
	"time"

	httpx "github.com/target/docpipe/internal/http"
)

// buildHTTPServer assembles the listener for a process. A process running the
// relay without the http service still serves the gateway upgrade endpoint and
// health checks; the job API routes are only mounted when http is enabled.
func buildHTTPServer(sc httpServiceConfig) *http.Server {
	addr := sc.cfg.Config.HTTP.Addr
	if addr == "" {
		addr = ":8080"
	}

	var handler http.Handler
	if sc.apiEnabled {
		services := httpx.RouterServices{
			Jobs:   sc.cfg.Services.Jobs,
			Commit: sc.cfg.Services.Commit,
		}
		if sc.hub != nil {
			services.Gateway = sc.hub
		}
		handler = httpx.NewRouter(services)
	} else {
		handler = gatewayOnlyMux(sc.hub)
	}

	handler = httpx.Logging(sc.logger)(handler)
	handler = httpx.Recover(sc.logger)(handler)

	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func gatewayOnlyMux(hub http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", hub)
	mux.Handle("GET /healthz", http.HandlerFunc(healthProbe))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthProbe))
	return mux
}

func healthProbe(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
