package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DoyleJ11/coder-combat/internal/operator"
	"github.com/DoyleJ11/coder-combat/internal/ws"
)

type Options struct {
	PasswordHash []byte // bcrypt; mutating routes refuse everyone when empty
	Origins      []string
	Gatherer     prometheus.Gatherer
	Log          *zap.Logger
}

func SetupRoutes(op *operator.Operator, opts Options) http.Handler {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.Origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/state", State(op))
	r.Get("/standings", Standings(op))
	r.Get("/ws", ws.Handler(op, opts.Origins, opts.Log))
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// Operator routes
	r.Group(func(r chi.Router) {
		r.Use(RequireOperator(opts.PasswordHash))
		r.Post("/contests", Run(op, simple(operator.OpCreateContests)))
		r.Post("/seed", Run(op, simple(operator.OpSeed)))
		r.Post("/round/start", Run(op, startCommand))
		r.Post("/round/refresh", Run(op, simple(operator.OpRefresh)))
		r.Post("/round/process", Run(op, simple(operator.OpProcess)))
		r.Post("/coinflips", Run(op, decideCommand))
		r.Post("/round/activate", Run(op, simple(operator.OpActivate)))
	})
	return r
}
