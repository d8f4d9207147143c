package refdata

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/refdata/diagnoses/:code", h.ValidateDiagnosis)
	api.GET("/refdata/procedures", h.LookupProcedures)
}

func (h *Handler) ValidateDiagnosis(c echo.Context) error {
	result, err := h.svc.ValidateDiagnosis(c.Request().Context(), c.Param("code"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) LookupProcedures(c echo.Context) error {
	service := c.QueryParam("service")
	if service == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "service query parameter is required")
	}
	result, err := h.svc.LookupProceduresForService(c.Request().Context(), service)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}
