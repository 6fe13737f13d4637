package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"okoapay/internal/config"
	"okoapay/internal/gateway"
	"okoapay/internal/orchestrator"
	"okoapay/internal/session"
)

// ActivationHandler opens payment sessions for the post-registration
// activation step. It uses the authenticated gateway contract: the
// caller's bearer token is captured at session creation and rides along
// on every initiate and status call.
type ActivationHandler struct {
	store  *session.Store
	cfg    *config.Config
	logger *zap.Logger
}

func NewActivationHandler(store *session.Store, cfg *config.Config, logger *zap.Logger) *ActivationHandler {
	return &ActivationHandler{store: store, cfg: cfg, logger: logger}
}

// CreateSession opens an activation session. Initiate failures are a
// terminal failure card with retry, and retry preserves amount and phone.
func (h *ActivationHandler) CreateSession(c echo.Context) error {
	token := bearerToken(c)
	if token == "" {
		return errorResponse(c, http.StatusUnauthorized, "Authorization required")
	}

	gw := gateway.NewClient(h.cfg.Gateway.BaseURL, token, h.logger)
	orc := orchestrator.New(gw, orchestrator.Config{
		MinAmount:       h.cfg.Payment.MinAmount,
		PollInterval:    h.cfg.Payment.PollInterval,
		MaxPollAttempts: h.cfg.Payment.MaxPollAttempts,
		HardTimeout:     h.cfg.Payment.HardTimeout,
	}, orchestrator.Options{
		PreserveInputOnReset: true,
	}, h.logger)

	return created(c, h.store.Put(orc))
}

func bearerToken(c echo.Context) string {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
