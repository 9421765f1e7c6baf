package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter builds the gin engine with every admin route. gatherer may be nil
// to leave /metrics out.
func NewRouter(h *AdminHandlers, gatherer prometheus.Gatherer, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), LoggerMiddleware(logger))

	r.GET("/health", h.Health)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")
	v1.GET("/status", h.Status)
	v1.POST("/windows", h.SetWindowLevel)
	v1.DELETE("/windows", h.DestroyWindow)
	v1.POST("/messages", h.PostMessage)
	v1.POST("/reload", h.Reload)

	return r
}

// NewServer builds the admin HTTP server listening on addr.
func NewServer(addr string, h *AdminHandlers, gatherer prometheus.Gatherer, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              addr,
		Handler:           NewRouter(h, gatherer, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
