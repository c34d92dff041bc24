package httpx

import (
	"net/http"

	"github.com/target/docpipe/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs   *service.JobService
	Commit *service.CommitService

	// Gateway is the WebSocket hub handler; optional for worker-only
	// processes that still expose the API.
	Gateway http.Handler
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Jobs: services.Jobs, Commit: services.Commit}
	registerJobRoutes(mux, jobHandlers)

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	if services.Gateway != nil {
		mux.Handle("GET /ws", services.Gateway)
	}

	return mux
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /api/jobs", h.Submit)
	mux.HandleFunc("GET /api/jobs", h.List)
	mux.HandleFunc("GET /api/jobs/stats", h.Stats)
	mux.HandleFunc("GET /api/jobs/{id}", h.Get)
	mux.HandleFunc("POST /api/jobs/{id}/viewed", h.MarkViewed)
	mux.HandleFunc("POST /api/jobs/{id}/approve", h.Approve)
}
