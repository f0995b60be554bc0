package observability

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminRouter serves the operational surface: health, readiness and
// prometheus metrics. It never speaks the gateway wire protocol.
func AdminRouter(service string, startedAt time.Time, corsOrigins []string) *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(startedAt).String(),
			"service": service,
		})
	})
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(startedAt).String(),
			"service": service,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}
