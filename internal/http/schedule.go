package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/relaypoint/outreach-engine/internal/service/schedule"
)

type rescheduleReq struct {
	SendTime time.Time `json:"send_time"`
	Text     *string   `json:"text"`
}

func rescheduleHandler(svc *schedule.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		deliveryID := c.Param("id")

		var req rescheduleReq
		if err := c.Bind(&req); err != nil || req.SendTime.IsZero() {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		d, err := svc.Reschedule(c.Request().Context(), deliveryID, req.SendTime, req.Text)
		if err != nil {
			switch {
			case errors.Is(err, schedule.ErrDeliveryNotFound):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "delivery not found"})
			case errors.Is(err, schedule.ErrNotScheduled):
				return c.JSON(http.StatusConflict, map[string]string{"error": "delivery is not scheduled"})
			}

			log.Errorf("reschedule failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "system error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"delivery_id":    d.ID,
			"scheduled_time": d.ScheduledTime,
			"state":          d.State,
		})
	}
}

func cancelHandler(svc *schedule.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		deliveryID := c.Param("id")

		err := svc.Cancel(c.Request().Context(), deliveryID)
		if err != nil {
			switch {
			case errors.Is(err, schedule.ErrDeliveryNotFound):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "delivery not found"})
			case errors.Is(err, schedule.ErrNotScheduled):
				return c.JSON(http.StatusConflict, map[string]string{"error": "delivery is not scheduled"})
			}

			log.Errorf("cancel failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "system error"})
		}

		return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

type editDraftReq struct {
	Text string `json:"text"`
}

func editDraftHandler(svc *schedule.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req editDraftReq
		if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Text) == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		if err := svc.EditDraft(c.Request().Context(), c.Param("id"), req.Text); err != nil {
			if errors.Is(err, schedule.ErrDraftNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "draft not found"})
			}
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "updated"})
	}
}

func rejectDraftHandler(svc *schedule.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.RejectDraft(c.Request().Context(), c.Param("id")); err != nil {
			if errors.Is(err, schedule.ErrDraftNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "draft not found"})
			}
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "rejected"})
	}
}

func deleteDraftHandler(svc *schedule.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.DeleteDraft(c.Request().Context(), c.Param("id")); err != nil {
			if errors.Is(err, schedule.ErrDraftNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "draft not found"})
			}

			log.Errorf("draft delete failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "system error"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
	}
}
