package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-formrelay/core"
	"github.com/goliatone/go-formrelay/query"
)

const DefaultBodyLimit int64 = 1 << 20

// Service is the part of core.Service the HTTP layer drives.
type Service interface {
	Accept(ctx context.Context, raw map[string]any) (core.Receipt, error)
	Handoff(ctx context.Context, receipt core.Receipt)
	Outcomes(ctx context.Context, dispatchID string) ([]core.OutcomeRecord, error)
}

type Option func(*API)

func WithLogger(logger glog.Logger) Option {
	return func(a *API) {
		a.logger = glog.Ensure(logger)
	}
}

// WithProduction hides internal error detail from 500 responses.
func WithProduction(production bool) Option {
	return func(a *API) {
		a.production = production
	}
}

func WithMetricsHandler(handler http.Handler) Option {
	return func(a *API) {
		a.metrics = handler
	}
}

// WithOperatorRoutes mounts GET /api/dispatches/{id}. Outcome detail is
// operator data, so the route is absent unless enabled.
func WithOperatorRoutes(enabled bool) Option {
	return func(a *API) {
		a.operator = enabled
	}
}

func WithBodyLimit(limit int64) Option {
	return func(a *API) {
		if limit > 0 {
			a.bodyLimit = limit
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(a *API) {
		if clock != nil {
			a.now = clock
		}
	}
}

// API wires the contact, health, metrics and dispatch lookup routes.
type API struct {
	service    Service
	outcomes   *query.GetDispatchOutcomesQuery
	logger     glog.Logger
	metrics    http.Handler
	production bool
	operator   bool
	bodyLimit  int64
	now        func() time.Time
}

func New(service Service, opts ...Option) *API {
	a := &API{
		service:   service,
		outcomes:  query.NewGetDispatchOutcomesQuery(service),
		logger:    glog.Nop(),
		bodyLimit: DefaultBodyLimit,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Handler returns the assembled router.
func (a *API) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(a.recoverer)
	a.RegisterRoutes(router)
	return router
}

func (a *API) RegisterRoutes(router chi.Router) {
	router.Route("/api", func(r chi.Router) {
		r.Post("/contact", a.submitContact)
		r.Get("/health", a.health)
		if a.operator {
			r.Get("/dispatches/{id}", a.getDispatch)
		}
	})
	if a.metrics != nil {
		router.Method(http.MethodGet, "/metrics", a.metrics)
	}
}
