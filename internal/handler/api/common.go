package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"okoapay/internal/orchestrator"
	"okoapay/internal/pkg/utils"
)

func errorResponse(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]interface{}{
		"error": msg,
	})
}

// stateResponse renders an orchestrator snapshot, adding the formatted
// countdown the waiting screen shows.
func stateResponse(c echo.Context, status int, sessionID string, snap orchestrator.Snapshot) error {
	return c.JSON(status, map[string]interface{}{
		"sessionId":        sessionID,
		"state":            snap.State,
		"amount":           snap.Amount,
		"phoneNumber":      snap.PhoneNumber,
		"paymentId":        snap.PaymentID,
		"receiptReference": snap.ReceiptReference,
		"error":            snap.Error,
		"attempts":         snap.Attempts,
		"secondsRemaining": snap.SecondsRemaining,
		"countdown":        utils.FormatCountdown(snap.SecondsRemaining),
	})
}

func created(c echo.Context, sessionID string) error {
	return c.JSON(http.StatusCreated, map[string]string{
		"sessionId": sessionID,
	})
}
