package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"okoapay/internal/config"
	"okoapay/internal/gateway"
	"okoapay/internal/orchestrator"
	"okoapay/internal/phone"
	"okoapay/internal/session"
)

// PaymentHandler serves the standalone bill-payment flow: member lookup,
// then an unauthenticated payment session against the public gateway
// contract.
type PaymentHandler struct {
	store  *session.Store
	gw     *gateway.HTTPClient
	cfg    *config.Config
	logger *zap.Logger
}

func NewPaymentHandler(store *session.Store, gw *gateway.HTTPClient, cfg *config.Config, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{store: store, gw: gw, cfg: cfg, logger: logger}
}

func (h *PaymentHandler) orchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		MinAmount:       h.cfg.Payment.MinAmount,
		PollInterval:    h.cfg.Payment.PollInterval,
		MaxPollAttempts: h.cfg.Payment.MaxPollAttempts,
		HardTimeout:     h.cfg.Payment.HardTimeout,
	}
}

// CreateSession opens a standalone payment session. Initiate failures
// return to the confirm step and reset clears everything back to search.
func (h *PaymentHandler) CreateSession(c echo.Context) error {
	orc := orchestrator.New(h.gw, h.orchestratorConfig(), orchestrator.Options{
		FailBackToIdle: true,
	}, h.logger)
	return created(c, h.store.Put(orc))
}

type searchRequest struct {
	IDNumber string `json:"idNumber"`
	Phone    string `json:"phone"`
}

// Search looks a member up by national ID or phone and returns the data
// the confirm step needs, with name and phone masked for display.
func (h *PaymentHandler) Search(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid request body")
	}

	req.IDNumber = strings.TrimSpace(req.IDNumber)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.IDNumber == "" && req.Phone == "" {
		return errorResponse(c, http.StatusBadRequest, "Either ID number or phone number is required")
	}
	if req.Phone != "" {
		req.Phone = phone.Normalize(req.Phone)
	}

	result, err := h.gw.SearchSubscriber(c.Request().Context(), req.IDNumber, req.Phone)
	if err != nil {
		var gwErr *gateway.Error
		status := http.StatusBadGateway
		msg := "Member not found. Please check your details and try again."
		if errors.As(err, &gwErr) {
			msg = gwErr.Message
			if gwErr.StatusCode == http.StatusNotFound {
				status = http.StatusNotFound
			}
		}
		return errorResponse(c, status, msg)
	}

	if result.Subscription == nil {
		return errorResponse(c, http.StatusConflict,
			"No active subscription found. Please complete registration first.")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"subscriber": map[string]interface{}{
			"id":            result.Subscriber.ID,
			"maskedName":    phone.MaskName(result.Subscriber.FullName),
			"accountNumber": result.Subscriber.AccountNumber,
		},
		"subscription": result.Subscription,
		"plan":         result.Plan,
		"phoneNumber":  result.PhoneNumber,
		"maskedPhone":  phone.Mask(result.PhoneNumber),
		// Whole shillings for the editable amount field, floored at the
		// plan minimum.
		"suggestedAmount": h.suggestedAmount(result.SuggestedAmountCents),
	})
}

func (h *PaymentHandler) suggestedAmount(cents int64) int {
	amount := int(cents / 100)
	if amount < h.cfg.Payment.MinAmount {
		return h.cfg.Payment.MinAmount
	}
	return amount
}
