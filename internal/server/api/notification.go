package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/looplj/tenantguard/internal/server/biz"
	"github.com/looplj/tenantguard/internal/server/middleware"
)

type NotificationHandlersParams struct {
	fx.In

	NotificationService *biz.NotificationService
}

func NewNotificationHandlers(params NotificationHandlersParams) *NotificationHandlers {
	return &NotificationHandlers{
		NotificationService: params.NotificationService,
	}
}

type NotificationHandlers struct {
	NotificationService *biz.NotificationService
}

func (h *NotificationHandlers) Send(c *gin.Context) {
	var req biz.Notification
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, errors.New("Invalid request format"))
		return
	}

	row, err := h.NotificationService.Notify(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, biz.ErrInvalidInput):
			JSONError(c, http.StatusBadRequest, err)
			return
		case errors.Is(err, biz.ErrForbidden):
			JSONError(c, http.StatusForbidden, biz.ErrForbidden)
			return
		}

		middleware.AbortWithDataError(c, err)

		return
	}

	c.JSON(http.StatusCreated, row)
}

func (h *NotificationHandlers) List(c *gin.Context) {
	rows, err := h.NotificationService.ListMine(c.Request.Context(), c.Query("unread") == "true")
	if err != nil {
		middleware.AbortWithDataError(c, err)
		return
	}

	c.JSON(http.StatusOK, rows)
}

func (h *NotificationHandlers) MarkRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		JSONError(c, http.StatusBadRequest, errors.New("invalid id"))
		return
	}

	if err := h.NotificationService.MarkRead(c.Request.Context(), id); err != nil {
		middleware.AbortWithDataError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
