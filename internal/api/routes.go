package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const requestTimeout = 15 * time.Second

// Routes builds the router. metricsHandler may be nil.
func (h *Handler) Routes(m *Middleware, corsOrigins []string, rateLimitRPM int, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(m.CORS(corsOrigins))
	r.Use(m.RateLimit(rateLimitRPM))

	r.Group(func(r chi.Router) {
		r.Use(m.Timeout(requestTimeout))

		r.Get("/healthz", h.Healthz)
		r.Get("/readyz", h.Readyz)
		if metricsHandler != nil {
			r.Method(http.MethodGet, "/metrics", metricsHandler)
		}
	})

	r.Route("/v1", func(r chi.Router) {
		// Live updates hold the connection open, so no timeout or compression
		r.Get("/ws", h.HandleWebSocket)
		r.Get("/sse", h.HandleSSE)

		r.Group(func(r chi.Router) {
			r.Use(m.Compress)
			r.Use(m.Timeout(requestTimeout))

			r.Get("/keys", h.ListKeys)
			r.Route("/keys/{key}", func(r chi.Router) {
				r.Get("/", h.GetKey)
				r.Put("/", h.PutKey)
				r.Delete("/", h.DeleteKey)
			})

			r.Route("/streams/{key}", func(r chi.Router) {
				r.Get("/", h.RangeStream)
				r.Post("/", h.AppendStream)
				r.Post("/groups/{group}", h.CreateGroup)
				r.Get("/groups/{group}", h.ReadGroup)
			})

			r.Post("/pubsub/{channel}", h.Publish)

			r.Route("/products/{id}", func(r chi.Router) {
				r.Get("/", h.GetProduct)
				r.Put("/", h.PutProduct)
				r.Delete("/", h.DeleteProduct)
				r.Delete("/cache", h.EvictProduct)
			})
		})
	})

	return r
}
