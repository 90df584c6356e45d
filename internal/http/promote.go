package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/relaypoint/outreach-engine/internal/consent"
	"github.com/relaypoint/outreach-engine/internal/service/promotion"
)

type promoteReq struct {
	SendTime *time.Time `json:"send_time"`
}

func promoteDraftHandler(svc *promotion.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		draftID := c.Param("id")
		if draftID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing draft id"})
		}

		var req promoteReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		res, err := svc.Promote(c.Request().Context(), draftID, req.SendTime)
		if err != nil {
			var denied *consent.DeniedError
			switch {
			case errors.As(err, &denied):
				return c.JSON(http.StatusForbidden, map[string]any{
					"error":  "blocked_by_consent",
					"reason": denied.Reason,
				})
			case errors.Is(err, promotion.ErrDraftNotFound):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "draft not found"})
			case errors.Is(err, promotion.ErrNotPromotable):
				return c.JSON(http.StatusConflict, map[string]string{"error": "already processed"})
			}

			log.Errorf("promote failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "system error"})
		}

		status := http.StatusCreated
		if res.AlreadyScheduled {
			status = http.StatusOK
		}
		return c.JSON(status, map[string]any{
			"delivery_id":       res.Delivery.ID,
			"scheduled_time":    res.Delivery.ScheduledTime,
			"already_scheduled": res.AlreadyScheduled,
		})
	}
}

type promoteBatchReq struct {
	DraftIDs []string `json:"draft_ids"`
}

func promoteBatchHandler(svc *promotion.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req promoteBatchReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if len(req.DraftIDs) == 0 || len(req.DraftIDs) > 500 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "draft_ids must have 1-500 entries"})
		}

		res, err := svc.PromoteBatch(c.Request().Context(), req.DraftIDs)
		if err != nil {
			log.Errorf("promote batch failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "batch failed"})
		}

		return c.JSON(http.StatusOK, res)
	}
}
