package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/relaypoint/outreach-engine/internal/http/middleware"
	"github.com/relaypoint/outreach-engine/internal/model"
	"github.com/relaypoint/outreach-engine/internal/repository"
)

func businessFromCtx(c echo.Context) (int64, bool) {
	id, ok := middleware.BusinessIDFromCtx(c)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

func listDeliveriesHandler(chRepo repository.CHDeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		bizID, ok := businessFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		var recipientID int64
		if v := c.QueryParam("recipient_id"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				recipientID = n
			}
		}

		var st model.DeliveryState
		if raw := strings.TrimSpace(c.QueryParam("state")); raw != "" {
			tmp := model.DeliveryState(raw)
			if tmp.Valid() {
				st = tmp
			}
		}

		rows, err := chRepo.ListByBusiness(
			c.Request().Context(),
			bizID,
			recipientID,
			st,
			limit,
			offset,
		)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
