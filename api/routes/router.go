package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/workshop-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/workshop-backend/api/controllers/orders"
	productioncontrollers "github.com/angelmondragon/workshop-backend/api/controllers/production"
	stockcontrollers "github.com/angelmondragon/workshop-backend/api/controllers/stock"
	"github.com/angelmondragon/workshop-backend/api/middleware"
	"github.com/angelmondragon/workshop-backend/internal/orders"
	"github.com/angelmondragon/workshop-backend/internal/production"
	"github.com/angelmondragon/workshop-backend/internal/stock"
	"github.com/angelmondragon/workshop-backend/pkg/config"
	"github.com/angelmondragon/workshop-backend/pkg/enums"
	"github.com/angelmondragon/workshop-backend/pkg/logger"
	"github.com/angelmondragon/workshop-backend/pkg/redis"
)

// Dependencies are the services and clients the HTTP surface is built on.
type Dependencies struct {
	DB          controllers.Pinger
	Redis       controllers.Pinger
	Idempotency redis.IdempotencyStore
	Gatherer    prometheus.Gatherer

	Production production.Service
	Orders     orders.Service
	Stock      stock.Service
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	checks := map[string]controllers.Pinger{}
	if deps.DB != nil {
		checks["postgres"] = deps.DB
	}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, checks, logg))
	})
	r.Handle("/metrics", metricsHandler(deps.Gatherer))

	idempotent := middleware.Idempotency(deps.Idempotency, cfg.Idempotency.TTL, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(deps.Orders, logg))
			r.Get("/", ordercontrollers.List(deps.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(deps.Orders, logg))
			r.With(middleware.RequireRoles(logg, enums.UserRoleAdmin, enums.UserRoleOperation)).
				Post("/{orderId}/cancel", ordercontrollers.Cancel(deps.Orders, logg))

			r.Route("/items", func(r chi.Router) {
				r.With(idempotent).Post("/bulk-stage", productioncontrollers.BulkTransition(deps.Production, logg))
				r.Patch("/{itemId}/stage", productioncontrollers.TransitionStage(deps.Production, logg))
				r.Patch("/{itemId}", ordercontrollers.UpdateItemNote(deps.Orders, logg))
			})
		})

		r.Route("/stock", func(r chi.Router) {
			r.With(idempotent).Post("/transactions", stockcontrollers.Record(deps.Stock, logg))
			r.Get("/products/{productId}/transactions", stockcontrollers.ListTransactions(deps.Stock, logg))
			r.Get("/products/{productId}/balance", stockcontrollers.Balance(deps.Stock, logg))
		})
	})

	return r
}

func metricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
