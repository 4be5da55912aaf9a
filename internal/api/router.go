package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"memberflow/internal/flow"
	"memberflow/internal/observability"
	"memberflow/internal/polling"
	"memberflow/internal/realtime"
	"memberflow/internal/webhook"
)

// RouterConfig wires the HTTP surface. Orchestrator, Poller, Statuses,
// Validator and Consumer are required; Hub and Metrics are optional.
type RouterConfig struct {
	Orchestrator *flow.Orchestrator
	Poller       *polling.Poller
	Statuses     polling.StatusClient
	Validator    *webhook.Validator
	Consumer     *webhook.Consumer
	Hub          *realtime.Hub
	Metrics      *observability.Metrics
	Logf         func(format string, args ...any)
}

// NewRouter creates the Chi router with all routes mounted.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...any) {}
	}

	h := &Handlers{
		orchestrator: cfg.Orchestrator,
		poller:       cfg.Poller,
		statuses:     cfg.Statuses,
		validator:    cfg.Validator,
		consumer:     cfg.Consumer,
		logf:         cfg.Logf,
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/registrations", h.ProcessRegistration)
		r.Get("/flows/{flowID}", h.GetFlow)

		r.Route("/payments/{chargeID}", func(r chi.Router) {
			r.Post("/poll", h.StartPoll)
			r.Delete("/poll", h.CancelPoll)
			r.Get("/status", h.GetChargeStatus)
		})
	})

	r.Post("/webhooks/asaas", h.ReceiveWebhook)

	if cfg.Hub != nil {
		ws := &StatusSocket{hub: cfg.Hub, logf: cfg.Logf}
		r.Get("/ws/payments", ws.Serve)
	}

	r.Get("/healthz", h.Healthz)
	if cfg.Metrics != nil {
		r.Get("/metrics", observability.Handler(cfg.Metrics).ServeHTTP)
	}

	return r
}
