package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"okoapay/internal/gateway"
	"okoapay/internal/orchestrator"
	"okoapay/internal/session"
)

// SessionHandler serves the operations shared by both payment flows:
// submitting a payment intent, reading the orchestrator state, retrying,
// and tearing the session down.
type SessionHandler struct {
	store  *session.Store
	logger *zap.Logger
}

func NewSessionHandler(store *session.Store, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

func (h *SessionHandler) orchestrator(c echo.Context) (*orchestrator.Orchestrator, string, error) {
	id := c.Param("id")
	orc, ok := h.store.Get(id)
	if !ok {
		return nil, id, errorResponse(c, http.StatusNotFound, "Payment session not found or expired")
	}
	return orc, id, nil
}

// Submit forwards the pay intent into the session's orchestrator.
func (h *SessionHandler) Submit(c echo.Context) error {
	orc, id, errResp := h.orchestrator(c)
	if orc == nil {
		return errResp
	}

	var req gateway.PaymentRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid request body")
	}

	err := orc.Submit(c.Request().Context(), req)
	snap := orc.Snapshot()

	switch {
	case err == nil:
		return stateResponse(c, http.StatusOK, id, snap)
	case errors.Is(err, orchestrator.ErrNotIdle):
		return stateResponse(c, http.StatusConflict, id, snap)
	case errors.Is(err, orchestrator.ErrClosed):
		return errorResponse(c, http.StatusGone, "Payment session has been closed")
	default:
		var verr *orchestrator.ValidationError
		if errors.As(err, &verr) {
			return stateResponse(c, http.StatusUnprocessableEntity, id, snap)
		}
		// Gateway rejection: the snapshot already carries the surfaced
		// message and the recovery state for this flow.
		return stateResponse(c, http.StatusBadGateway, id, snap)
	}
}

// State returns the current snapshot for rendering.
func (h *SessionHandler) State(c echo.Context) error {
	orc, id, errResp := h.orchestrator(c)
	if orc == nil {
		return errResp
	}
	return stateResponse(c, http.StatusOK, id, orc.Snapshot())
}

// Reset handles "try again" / "make another payment".
func (h *SessionHandler) Reset(c echo.Context) error {
	orc, id, errResp := h.orchestrator(c)
	if orc == nil {
		return errResp
	}
	orc.Reset()
	return stateResponse(c, http.StatusOK, id, orc.Snapshot())
}

// Delete disposes the session when the user navigates away.
func (h *SessionHandler) Delete(c echo.Context) error {
	h.store.Remove(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}
