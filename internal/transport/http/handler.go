package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tipstream/tip-service/internal/service"
	"go.uber.org/zap"
)

func RegisterHandlers(r *gin.Engine, svcs Services, log *zap.SugaredLogger) {
	v1 := r.Group("/v1")
	{
		v1.POST("/payments/checkout", checkoutHandler(svcs.Payments))
		v1.POST("/webhooks/stripe", webhookHandler(svcs.Webhooks, log))
		v1.POST("/workers", createWorkerHandler(svcs.Workers))
		v1.GET("/workers/:id", getWorkerHandler(svcs.Workers))
		v1.GET("/businesses/:id/workers", listWorkersHandler(svcs.Workers))
		v1.POST("/workers/:id/onboarding", onboardingHandler(svcs.Workers))
		v1.POST("/workers/:id/login-link", loginLinkHandler(svcs.Workers))
		v1.GET("/workers/:id/balance", balanceHandler(svcs.Workers))
		v1.GET("/workers/:id/history", historyHandler(svcs.Reports))
		v1.GET("/workers/:id/total", totalHandler(svcs.Reports))
	}
}

type checkoutReq struct {
	WorkerID string `json:"worker_id" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Currency string `json:"currency"`
}

// checkoutHandler is the public tip endpoint: resolve worker, build a
// Stripe Checkout session, hand back the hosted URL.
func checkoutHandler(svc *service.PaymentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req checkoutReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		currency := req.Currency
		if currency == "" {
			currency = "eur"
		}
		url, err := svc.CreatePaymentLink(c, req.WorkerID, amt, currency)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrWorkerNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case errors.Is(err, service.ErrWorkerNotReady), errors.Is(err, service.ErrInvalidAmount):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusBadGateway, gin.H{"error": "payment processor unavailable"})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url})
	}
}

// webhookHandler feeds the raw, unmodified body into verification. A bad
// signature is 400 and ends there; a store failure is 500 so the processor
// redelivers; everything else, including events the service chose to drop,
// must be 200 to stop retries.
func webhookHandler(svc *service.WebhookService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := c.GetRawData()
		if err != nil || len(payload) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty body"})
			return
		}
		sig := c.GetHeader("Stripe-Signature")
		if err := svc.HandleWebhook(c, payload, sig); err != nil {
			if errors.Is(err, service.ErrInvalidSignature) {
				log.Warnf("webhook rejected: %v", err)
				c.Status(http.StatusBadRequest)
				return
			}
			log.Errorf("webhook processing failed: %v", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	}
}

type createWorkerReq struct {
	BusinessID string `json:"business_id" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Job        string `json:"job"`
}

func createWorkerHandler(svc *service.WorkerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createWorkerReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		w, err := svc.CreateWorker(c, req.BusinessID, req.Name, req.Job)
		if err != nil {
			status := http.StatusBadRequest
			if !errors.Is(err, service.ErrWorkerExists) && !errors.Is(err, service.ErrWorkerLimit) {
				status = http.StatusInternalServerError
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, w)
	}
}

func getWorkerHandler(svc *service.WorkerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := svc.GetWorker(c, c.Param("id"))
		if err != nil {
			if errors.Is(err, service.ErrWorkerNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, w)
	}
}

func listWorkersHandler(svc *service.WorkerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := svc.ListWorkers(c, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, ws)
	}
}

type onboardingReq struct {
	Email string `json:"email" binding:"required,email"`
}

func onboardingHandler(svc *service.WorkerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req onboardingReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		url, err := svc.StartOnboarding(c, c.Param("id"), req.Email)
		if err != nil {
			writeWorkerErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url})
	}
}

func loginLinkHandler(svc *service.WorkerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		url, err := svc.CreateLoginLink(c, c.Param("id"))
		if err != nil {
			writeWorkerErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url})
	}
}

func balanceHandler(svc *service.WorkerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bal, err := svc.GetWorkerBalance(c, c.Param("id"), c.DefaultQuery("currency", "eur"))
		if err != nil {
			writeWorkerErr(c, err)
			return
		}
		c.JSON(http.StatusOK, bal)
	}
}

func historyHandler(svc *service.ReportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		sinceStr := c.DefaultQuery("since", time.Now().Add(-24*time.Hour).Format(time.RFC3339))
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
			return
		}
		txs, err := svc.GetHistory(c, c.Param("id"), limit, since)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, txs)
	}
}

func totalHandler(svc *service.ReportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		total, err := svc.GetWorkerTotal(c, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"total": total})
	}
}

func writeWorkerErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrWorkerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrWorkerNotReady):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
