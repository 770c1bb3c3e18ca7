package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/order-service/internal/config"
	"go.uber.org/zap"
)

// NewRouter builds the gin engine. metrics may be nil.
func NewRouter(svc OrderService, rl config.RateLimitConfig, wh config.WebhookConfig, metrics http.Handler, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, svc, wh.Secret, log)
	return r
}
