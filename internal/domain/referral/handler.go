package referral

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/refcrm/refcrm/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/referrals", h.create)
	api.GET("/referrals", h.list)
	api.GET("/referrals/stats", h.stats)
	api.GET("/referrals/:id", h.get)
	api.PUT("/referrals/:id", h.update)
	api.DELETE("/referrals/:id", h.remove)
	api.POST("/referrals/:id/transition", h.transition)
	api.GET("/referrals/:id/history", h.history)
	api.GET("/referrals/:id/artifacts", h.artifacts)
	api.POST("/referrals/:id/submit", h.submit)

	api.GET("/referrals/:id/line-items", h.listLineItems)
	api.POST("/referrals/:id/line-items", h.addLineItem)
	api.PUT("/line-items/:id", h.updateLineItem)
	api.DELETE("/line-items/:id", h.removeLineItem)

	api.GET("/carriers", h.listCarriers)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "referral not found")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) create(c echo.Context) error {
	var r Referral
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.Create(c.Request().Context(), &r); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) list(c echo.Context) error {
	page := pagination.FromContext(c)
	filter := ListFilter{
		Status:   c.QueryParam("status"),
		Priority: c.QueryParam("priority"),
		Search:   c.QueryParam("search"),
	}
	switch c.QueryParam("needs_review") {
	case "true":
		t := true
		filter.NeedsHumanReview = &t
	case "false":
		f := false
		filter.NeedsHumanReview = &f
	}
	if raw := c.QueryParam("carrier_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid carrier_id")
		}
		filter.CarrierID = &id
	}

	items, total, err := h.svc.List(c.Request().Context(), filter, page)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, page.Limit, page.Offset))
}

func (h *Handler) stats(c echo.Context) error {
	counts, err := h.svc.CountByStatus(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"by_status": counts})
}

func (h *Handler) get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var r Referral
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	r.ID = id
	if err := h.svc.Update(c.Request().Context(), &r); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) remove(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type transitionRequest struct {
	ToStatus string  `json:"to_status"`
	Actor    *string `json:"actor,omitempty"`
	Note     *string `json:"note,omitempty"`
}

func (h *Handler) transition(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ToStatus == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "to_status is required")
	}
	r, err := h.svc.Transition(c.Request().Context(), id, req.ToStatus, req.Actor, req.Note)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) history(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	changes, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, changes)
}

func (h *Handler) artifacts(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	links, err := h.svc.ArtifactLinks(c.Request().Context(), id, 15*time.Minute)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, links)
}

type submitRequest struct {
	Actor *string `json:"actor,omitempty"`
}

func (h *Handler) submit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	r, err := h.svc.SubmitToFileMaker(c.Request().Context(), id, req.Actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) listLineItems(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListLineItems(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) addLineItem(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var item LineItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if item.ServiceDescription == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "service_description is required")
	}
	if err := h.svc.AddLineItem(c.Request().Context(), id, &item); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *Handler) updateLineItem(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var item LineItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	item.ID = id
	if err := h.svc.UpdateLineItem(c.Request().Context(), &item); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) removeLineItem(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteLineItem(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) listCarriers(c echo.Context) error {
	carriers, err := h.svc.carriers.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, carriers)
}
