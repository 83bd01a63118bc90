// Package api wires the HTTP router for the label verification
// service.
package api

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/labelproof/labelproof/internal/api/handlers"
	"github.com/labelproof/labelproof/internal/api/middleware"
	"github.com/labelproof/labelproof/internal/telemetry"
)

//go:embed static
var staticFiles embed.FS

// maxRequestBody caps the whole request, multipart framing included.
const maxRequestBody = handlers.MaxImageSize + 64<<10

// NewRouter builds the chi router with the standard middleware stack.
func NewRouter(h *handlers.Handlers, metrics *telemetry.Metrics) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Get("/version", h.VersionInfo)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		metrics.Registry, promhttp.HandlerOpts{},
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.With(bodyLimit(maxRequestBody)).Post("/verify", h.SubmitLabel)
		r.Get("/verify/{jobID}", h.GetJobStatus)
	})

	static, _ := fs.Sub(staticFiles, "static")
	r.Handle("/*", http.FileServer(http.FS(static)))

	return r
}

// bodyLimit rejects oversized request bodies before the handler reads
// them.
func bodyLimit(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
