package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	checkoutdomain "github.com/snapvend/snapvend/internal/checkout/domain"
	"github.com/snapvend/snapvend/internal/config"
	"github.com/snapvend/snapvend/internal/observability"
	"github.com/snapvend/snapvend/internal/observability/logger"
	obsmetrics "github.com/snapvend/snapvend/internal/observability/metrics"
	"github.com/snapvend/snapvend/internal/observability/tracing"
	plandomain "github.com/snapvend/snapvend/internal/plan/domain"
	subdomain "github.com/snapvend/snapvend/internal/subscription/domain"
	webhookdomain "github.com/snapvend/snapvend/internal/webhook/domain"
)

type RouterParams struct {
	fx.In

	Cfg           config.Config
	ObsCfg        observability.Config
	Log           *zap.Logger
	HTTPMetrics   *obsmetrics.HTTPMetrics
	Checkout      checkoutdomain.Service
	Subscriptions subdomain.Service
	Webhooks      webhookdomain.Service
}

// NewRouter builds the gin engine with the full middleware chain and all
// payment routes. Webhook routes take the raw body, everything else binds
// JSON.
func NewRouter(p RouterParams) *gin.Engine {
	if p.ObsCfg.Debug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		Debug:           p.ObsCfg.Debug(),
		ErrorClassifier: errorClass,
	}))
	engine.Use(tracing.GinMiddleware())
	engine.Use(obsmetrics.GinMiddleware(p.HTTPMetrics))

	h := &handlers{
		checkout:      p.Checkout,
		subscriptions: p.Subscriptions,
		webhooks:      p.Webhooks,
		log:           p.Log.Named("server"),
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": p.Cfg.AppVersion})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/v1")
	{
		v1.POST("/checkout", h.createCheckout)
		v1.POST("/subscriptions/checkout", h.createSubscriptionCheckout)
		v1.POST("/subscriptions/verify", h.verifySubscription(""))
		v1.POST("/vault/verify", h.verifySubscription(plandomain.ScopeVault))
		v1.POST("/webhooks/:provider", h.handleWebhook)
	}

	return engine
}
