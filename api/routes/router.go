package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/shopcore-backend/api/controllers"
	"github.com/angelmondragon/shopcore-backend/api/middleware"
	"github.com/angelmondragon/shopcore-backend/pkg/config"
	"github.com/angelmondragon/shopcore-backend/pkg/logger"
)

// RouterParams carries the dependencies of the ops API.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Redis    controllers.Pinger
	PubSub   controllers.Pinger
	Gatherer prometheus.Gatherer
	Stock    controllers.StockReader
	Admin    controllers.StockAdmin
	Auditor  controllers.StockAuditor
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger
	env := ""
	if cfg != nil {
		env = cfg.App.Env
	}
	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(env))
		r.Get("/ready", controllers.HealthReady(env, logg, map[string]controllers.Pinger{
			"db":     params.DB,
			"redis":  params.Redis,
			"pubsub": params.PubSub,
		}))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/inventory", func(r chi.Router) {
		r.Get("/stock", controllers.InventoryStock(params.Stock, logg))
	})

	r.Route("/api/v1/admin/inventory", func(r chi.Router) {
		r.Post("/", controllers.AdminCreateInventory(params.Admin, logg))
		r.Put("/stock", controllers.AdminSetStock(params.Admin, logg))
		r.Get("/audit", controllers.AdminAuditInventory(params.Auditor, logg))
		r.Get("/transactions", controllers.AdminInventoryHistory(params.Admin, logg))
	})

	return r
}
