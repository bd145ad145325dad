package api

import (
	"github.com/gin-contrib/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wb-go/wbf/ginext"

	"eventreg/cmd/middleware"
	"eventreg/internal/metrics"
	"eventreg/internal/service"
)

type Routers struct {
	Service  service.Service
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Mode     string
}

func NewRouters(r *Routers) *ginext.Engine {
	mode := r.Mode
	if mode == "" {
		mode = "release"
	}
	app := ginext.New(mode)

	app.Use(middleware.LoggingMiddleware())
	app.Use(middleware.MetricsMiddleware(r.Metrics))
	app.Use(cors.Default())
	apiGroup := app.Group("/v1")

	apiGroup.GET("/events", r.Service.GetAllEvents)
	apiGroup.POST("/events", r.Service.CreateEvent)
	apiGroup.GET("/events/:id", r.Service.GetInfo)
	apiGroup.POST("/events/:id/register", r.Service.Register)
	apiGroup.POST("/events/:id/wizard", r.Service.Wizard)
	apiGroup.GET("/registrations/:id", r.Service.GetRegistration)
	apiGroup.POST("/registrations/:id/payment", r.Service.ConfirmPayment)

	if r.Gatherer != nil {
		metricsHandler := promhttp.HandlerFor(r.Gatherer, promhttp.HandlerOpts{})
		app.GET("/metrics", func(c *ginext.Context) {
			metricsHandler.ServeHTTP(c.Writer, c.Request)
		})
	}

	return app
}
