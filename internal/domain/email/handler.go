package email

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/refcrm/refcrm/pkg/pagination"
)

// Handler exposes the ingested email inbox for review. Emails are created by
// the ingestion pipeline, never over HTTP.
type Handler struct {
	emails      Repository
	attachments AttachmentRepository
}

func NewHandler(emails Repository, attachments AttachmentRepository) *Handler {
	return &Handler{emails: emails, attachments: attachments}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/emails", h.ListEmails)
	api.GET("/emails/:id", h.GetEmail)
	api.GET("/emails/:id/attachments", h.ListAttachments)
}

func (h *Handler) ListEmails(c echo.Context) error {
	pg := pagination.FromContext(c)
	status := c.QueryParam("status")
	if status == "" {
		status = StatusReceived
	}
	items, total, err := h.emails.ListByStatus(c.Request().Context(), status, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetEmail(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid email id")
	}
	em, err := h.emails.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "email not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, em)
}

func (h *Handler) ListAttachments(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid email id")
	}
	atts, err := h.attachments.ListByEmail(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if atts == nil {
		atts = []*Attachment{}
	}
	return c.JSON(http.StatusOK, atts)
}
