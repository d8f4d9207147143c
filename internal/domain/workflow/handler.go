package workflow

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/refcrm/refcrm/internal/domain/referral"
	"github.com/refcrm/refcrm/pkg/pagination"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/queues", h.listQueues)
	api.GET("/queues/:type/items", h.listItems)
	api.GET("/queues/:type/stats", h.stats)
	api.GET("/queues/:type/overdue", h.listOverdue)
	api.POST("/queues/:type/claim", h.claimNext)

	api.POST("/queue-items/:id/claim", h.claim)
	api.POST("/queue-items/:id/release", h.release)

	api.POST("/referrals/:id/validate", h.validateReferral)
	api.POST("/referrals/:id/reject", h.rejectReferral)
	api.POST("/referrals/:id/schedule", h.completeScheduling)
	api.POST("/referrals/:id/complete", h.completeReferral)
}

func (h *Handler) listQueues(c echo.Context) error {
	queues, err := h.engine.Queues(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, queues)
}

func (h *Handler) listItems(c echo.Context) error {
	page := pagination.FromContext(c)
	items, total, err := h.engine.ItemsFor(c.Request().Context(), c.Param("type"), c.QueryParam("status"), page)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, page.Limit, page.Offset))
}

func (h *Handler) stats(c echo.Context) error {
	stats, err := h.engine.StatsFor(c.Request().Context(), c.Param("type"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) listOverdue(c echo.Context) error {
	items, err := h.engine.OverdueFor(c.Request().Context(), c.Param("type"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

type userRequest struct {
	User string `json:"user"`
}

func (h *Handler) claim(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req userRequest
	if err := c.Bind(&req); err != nil || req.User == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user is required")
	}
	item, err := h.engine.ClaimItem(c.Request().Context(), id, req.User)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) claimNext(c echo.Context) error {
	var req userRequest
	if err := c.Bind(&req); err != nil || req.User == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user is required")
	}
	item, err := h.engine.ClaimNextItem(c.Request().Context(), c.Param("type"), req.User)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) release(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req userRequest
	if err := c.Bind(&req); err != nil || req.User == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user is required")
	}
	item, err := h.engine.ReleaseItem(c.Request().Context(), id, req.User)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) validateReferral(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req userRequest
	if err := c.Bind(&req); err != nil || req.User == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user is required")
	}
	item, err := h.engine.ValidateAndQueueForScheduling(c.Request().Context(), id, req.User)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

type rejectRequest struct {
	User   string `json:"user"`
	Reason string `json:"reason"`
}

func (h *Handler) rejectReferral(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req rejectRequest
	if err := c.Bind(&req); err != nil || req.User == "" || req.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user and reason are required")
	}
	if err := h.engine.RejectReferral(c.Request().Context(), id, req.User, req.Reason); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) completeScheduling(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req userRequest
	if err := c.Bind(&req); err != nil || req.User == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user is required")
	}
	if err := h.engine.CompleteScheduling(c.Request().Context(), id, req.User); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) completeReferral(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req userRequest
	if err := c.Bind(&req); err != nil || req.User == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user is required")
	}
	if err := h.engine.CompleteReferral(c.Request().Context(), id, req.User); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoOpenItem), errors.Is(err, referral.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyClaimed), errors.Is(err, ErrNotClaimant), errors.Is(err, referral.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
