package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/relaypoint/outreach-engine/internal/repository"
)

// conversationHandler returns the conversation for a recipient and its
// deliveries ordered by scheduled time.
func conversationHandler(convs repository.ConversationsRepository, deliveries repository.DeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		bizID, ok := businessFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		recipientID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || recipientID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad recipient id"})
		}

		conv, err := convs.Get(c.Request().Context(), recipientID, bizID)
		if err != nil {
			log.Errorf("conversation load failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "system error"})
		}
		if conv == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "no conversation for recipient"})
		}

		rows, err := deliveries.ListByConversation(c.Request().Context(), conv.ID)
		if err != nil {
			log.Errorf("conversation deliveries failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "system error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"conversation": conv,
			"deliveries":   rows,
		})
	}
}
