package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/relaypoint/outreach-engine/internal/model"
	"github.com/relaypoint/outreach-engine/internal/repository"
	"github.com/relaypoint/outreach-engine/internal/util"
)

type createDraftReq struct {
	RecipientID       int64      `json:"recipient_id"`
	Text              string     `json:"text"`
	SuggestedSendTime *time.Time `json:"suggested_send_time"`
}

// createDraftHandler ingests drafts from upstream composers. The text is
// opaque here; it is validated for presence only.
func createDraftHandler(drafts repository.DraftsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		bizID, ok := businessFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req createDraftReq
		if err := c.Bind(&req); err != nil || req.RecipientID <= 0 || strings.TrimSpace(req.Text) == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		d := model.Draft{
			ID:                util.New(),
			RecipientID:       req.RecipientID,
			BusinessID:        bizID,
			Text:              req.Text,
			SuggestedSendTime: req.SuggestedSendTime,
			State:             model.DraftStateDraft,
		}
		if err := drafts.Insert(c.Request().Context(), nil, d); err != nil {
			log.Errorf("draft insert failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "system error"})
		}

		return c.JSON(http.StatusCreated, map[string]any{
			"draft_id": d.ID,
			"state":    d.State,
		})
	}
}

// listDraftsHandler returns the requested drafts by id (comma-separated),
// scoped to the authenticated business.
func listDraftsHandler(drafts repository.DraftsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		bizID, ok := businessFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		raw := strings.TrimSpace(c.QueryParam("ids"))
		if raw == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "ids required"})
		}
		ids := strings.Split(raw, ",")
		if len(ids) > 500 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "at most 500 ids"})
		}

		rows, err := drafts.ListByIDs(c.Request().Context(), ids)
		if err != nil {
			log.Errorf("draft list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "system error"})
		}

		out := rows[:0]
		for _, d := range rows {
			if d.BusinessID == bizID {
				out = append(out, d)
			}
		}
		return c.JSON(http.StatusOK, map[string]any{
			"count":  len(out),
			"drafts": out,
		})
	}
}
