package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"okoapay/internal/pkg/utils"
	"okoapay/internal/plans"
)

// PlansHandler proxies the insurance plan catalogue.
type PlansHandler struct {
	svc    *plans.Service
	logger *zap.Logger
}

func NewPlansHandler(svc *plans.Service, logger *zap.Logger) *PlansHandler {
	return &PlansHandler{svc: svc, logger: logger}
}

// planView adds the formatted amounts the plan cards render.
type planView struct {
	plans.Plan
	PremiumDisplay  string `json:"premiumDisplay"`
	CoverageDisplay string `json:"coverageDisplay"`
}

func newPlanView(p plans.Plan) planView {
	return planView{
		Plan:            p,
		PremiumDisplay:  utils.FormatKES(p.PremiumAmountCents, true),
		CoverageDisplay: utils.FormatKES(p.CoverageAmountCents, true),
	}
}

// List returns the catalogue; ?active_only=true filters inactive plans.
func (h *PlansHandler) List(c echo.Context) error {
	activeOnly := c.QueryParam("active_only") == "true"

	list, err := h.svc.List(c.Request().Context(), activeOnly)
	if err != nil {
		h.logger.Warn("plan catalogue fetch failed", zap.Error(err))
		return errorResponse(c, http.StatusBadGateway, "Could not load insurance plans")
	}

	views := make([]planView, 0, len(list))
	for _, p := range list {
		views = append(views, newPlanView(p))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"plans": views})
}

// Get returns one plan by ID.
func (h *PlansHandler) Get(c echo.Context) error {
	plan, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		h.logger.Warn("plan fetch failed", zap.String("id", c.Param("id")), zap.Error(err))
		return errorResponse(c, http.StatusNotFound, "Plan not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"plan": newPlanView(*plan)})
}

// GetBySlug resolves a plan from the slug carried in registration links.
func (h *PlansHandler) GetBySlug(c echo.Context) error {
	plan, err := h.svc.FindBySlug(c.Request().Context(), c.Param("slug"))
	if err != nil {
		h.logger.Warn("plan slug lookup failed", zap.String("slug", c.Param("slug")), zap.Error(err))
		return errorResponse(c, http.StatusBadGateway, "Could not load insurance plans")
	}
	if plan == nil {
		return errorResponse(c, http.StatusNotFound, "Plan not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"plan": newPlanView(*plan)})
}
