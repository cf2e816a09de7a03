// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"riderdispatch/internal/http/handlers"
	"riderdispatch/internal/http/middleware"
)

type RouterDeps struct {
	Dispatch handlers.DispatchService
	Location handlers.LocationService
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Log      zerolog.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log))

	dispatchHandler := handlers.NewDispatchHandler(deps.Dispatch)
	api := r.Group("/api")
	api.POST("/dispatch/suggest", dispatchHandler.Suggest)
	api.POST("/dispatch/auto-assign", dispatchHandler.AutoAssign)
	api.POST("/dispatch/manual-assign", dispatchHandler.ManualAssign)
	api.POST("/dispatch/validate", dispatchHandler.Validate)

	if deps.Location != nil {
		locationHandler := handlers.NewLocationHandler(deps.Location)
		api.PUT("/riders/:id/location", locationHandler.Update)
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return r
}
