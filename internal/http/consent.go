package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/relaypoint/outreach-engine/internal/consent"
	"github.com/relaypoint/outreach-engine/internal/model"
	"github.com/relaypoint/outreach-engine/internal/repository"
)

type consentEventReq struct {
	RecipientID int64  `json:"recipient_id"`
	Method      string `json:"method"`
	State       string `json:"state"`    // explicit state, or
	RawText     string `json:"raw_text"` // free text classified by keyword
}

// recordConsentHandler accepts either an explicit state or raw reply text.
// Raw text that matches no keyword class is not a consent event.
func recordConsentHandler(gate *consent.Gate) echo.HandlerFunc {
	return func(c echo.Context) error {
		bizID, ok := businessFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req consentEventReq
		if err := c.Bind(&req); err != nil || req.RecipientID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		if raw := strings.TrimSpace(req.RawText); raw != "" {
			state, matched, err := gate.RecordInbound(c.Request().Context(), req.RecipientID, bizID, raw)
			if err != nil {
				log.Errorf("record inbound consent: %v", err)

				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "system error"})
			}
			return c.JSON(http.StatusOK, map[string]any{
				"matched": matched,
				"state":   state,
			})
		}

		state, ok := model.ParseConsentState(req.State)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid state"})
		}
		method := strings.TrimSpace(req.Method)
		if method == "" {
			method = model.ConsentMethodAPI
		}

		if err := gate.RecordEvent(c.Request().Context(), req.RecipientID, bizID, method, state); err != nil {
			log.Errorf("record consent event: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "system error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"matched": true,
			"state":   state,
		})
	}
}

// listConsentEventsHandler returns the consent audit trail for a recipient,
// newest first.
func listConsentEventsHandler(events repository.ConsentRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		bizID, ok := businessFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		recipientID, err := strconv.ParseInt(c.QueryParam("recipient_id"), 10, 64)
		if err != nil || recipientID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "recipient_id required"})
		}

		limit := 50
		if raw := c.QueryParam("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > 500 {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be 1..500"})
			}
			limit = n
		}

		rows, err := events.ListEvents(c.Request().Context(), recipientID, bizID, limit)
		if err != nil {
			log.Errorf("consent events list: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "system error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"count":  len(rows),
			"events": rows,
		})
	}
}

type verifyStartReq struct {
	RecipientID int64 `json:"recipient_id"`
}

func verifyStartHandler(v *consent.Verification) echo.HandlerFunc {
	return func(c echo.Context) error {
		bizID, ok := businessFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req verifyStartReq
		if err := c.Bind(&req); err != nil || req.RecipientID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		code, err := v.Start(c.Request().Context(), req.RecipientID, bizID)
		if err != nil {
			if errors.Is(err, consent.ErrVerificationPending) {
				return c.JSON(http.StatusConflict, map[string]string{"error": "verification already pending"})
			}
			if errors.Is(err, consent.ErrAlreadyOptedIn) {
				return c.JSON(http.StatusConflict, map[string]string{"error": "recipient already opted in"})
			}

			log.Errorf("verification start: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "system error"})
		}

		return c.JSON(http.StatusCreated, map[string]string{"code": code})
	}
}

type verifyConfirmReq struct {
	RecipientID int64  `json:"recipient_id"`
	Code        string `json:"code"`
}

func verifyConfirmHandler(v *consent.Verification) echo.HandlerFunc {
	return func(c echo.Context) error {
		bizID, ok := businessFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req verifyConfirmReq
		if err := c.Bind(&req); err != nil || req.RecipientID <= 0 || req.Code == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		if err := v.Confirm(c.Request().Context(), req.RecipientID, bizID, req.Code); err != nil {
			if errors.Is(err, consent.ErrCodeMismatch) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "invalid or expired code"})
			}

			log.Errorf("verification confirm: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "system error"})
		}

		return c.JSON(http.StatusOK, map[string]string{"state": model.ConsentOptedIn.String()})
	}
}
