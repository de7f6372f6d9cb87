package http

import (
	"github.com/gin-gonic/gin"
	"github.com/tipstream/tip-service/internal/config"
	"github.com/tipstream/tip-service/internal/service"
	"go.uber.org/zap"
)

// Services bundles what the handlers need.
type Services struct {
	Payments *service.PaymentService
	Webhooks *service.WebhookService
	Workers  *service.WorkerService
	Reports  *service.ReportService
}

func NewRouter(svcs Services, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, svcs, log)
	return r
}
