package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"okoapay/internal/config"
	"okoapay/internal/gateway"
	"okoapay/internal/handler/api"
	"okoapay/internal/middleware"
	"okoapay/internal/plans"
	"okoapay/internal/session"
)

// Setup configures all routes for the Echo server.
func Setup(
	e *echo.Echo,
	cfg *config.Config,
	store *session.Store,
	submitDeduper middleware.SubmitDeduper,
	logger *zap.Logger,
) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger(logger))

	publicGW := gateway.NewPublicClient(cfg.Gateway.BaseURL, logger)
	plansSvc := plans.NewService(cfg.Gateway.BaseURL, logger)

	sessionHandler := api.NewSessionHandler(store, logger)
	paymentHandler := api.NewPaymentHandler(store, publicGW, cfg, logger)
	activationHandler := api.NewActivationHandler(store, cfg, logger)
	plansHandler := api.NewPlansHandler(plansSvc, logger)

	apiGroup := e.Group("/api")

	// Standalone bill payment (public contract)
	apiGroup.POST("/pay/sessions", paymentHandler.CreateSession)
	apiGroup.POST("/pay/search", paymentHandler.Search)

	// Post-registration activation (authenticated contract)
	apiGroup.POST("/activation/sessions", activationHandler.CreateSession)

	// Shared session operations for both flows
	apiGroup.POST("/sessions/:id/pay", sessionHandler.Submit, middleware.PaymentSubmitDedup(submitDeduper))
	apiGroup.GET("/sessions/:id", sessionHandler.State)
	apiGroup.POST("/sessions/:id/reset", sessionHandler.Reset)
	apiGroup.DELETE("/sessions/:id", sessionHandler.Delete)

	// Plan catalogue
	apiGroup.GET("/plans", plansHandler.List)
	apiGroup.GET("/plans/slug/:slug", plansHandler.GetBySlug)
	apiGroup.GET("/plans/:id", plansHandler.Get)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})
}
