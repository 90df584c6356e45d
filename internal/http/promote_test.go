package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/relaypoint/outreach-engine/internal/consent"
	"github.com/relaypoint/outreach-engine/internal/model"
	"github.com/relaypoint/outreach-engine/internal/repository"
	"github.com/relaypoint/outreach-engine/internal/service/promotion"
)

type stubDrafts struct {
	drafts map[string]*model.Draft
}

func (s *stubDrafts) Get(ctx context.Context, id string) (*model.Draft, error) {
	return s.drafts[id], nil
}

type stubDeliveries struct{}

func (s *stubDeliveries) FindActive(ctx context.Context, recipientID, businessID int64, text string, at time.Time) (*model.ScheduledDelivery, error) {
	return nil, nil
}
func (s *stubDeliveries) CreatePromoted(ctx context.Context, d *model.ScheduledDelivery, draftID string) error {
	return nil
}
func (s *stubDeliveries) CreatePromotedBatch(ctx context.Context, items []repository.PromotedDraft) error {
	return nil
}
func (s *stubDeliveries) RollbackPromotion(ctx context.Context, deliveryID, draftID string, prevState model.DraftState) error {
	return nil
}
func (s *stubDeliveries) SetTaskHandle(ctx context.Context, id, handle string) error { return nil }

type stubGate struct {
	err error
}

func (s *stubGate) Evaluate(ctx context.Context, recipientID, businessID int64, isDirectReply bool) error {
	return s.err
}

type stubDispatcher struct{}

func (s *stubDispatcher) Submit(ctx context.Context, deliveryID string, eta time.Time) (string, error) {
	return "handle-1", nil
}
func (s *stubDispatcher) Replace(ctx context.Context, deliveryID string, eta time.Time) (string, error) {
	return "handle-1", nil
}
func (s *stubDispatcher) Cancel(ctx context.Context, handle string) {}

func newPromoteService(drafts map[string]*model.Draft, gateErr error) *promotion.Service {
	return promotion.New(&stubDrafts{drafts: drafts}, &stubDeliveries{}, &stubGate{err: gateErr}, &stubDispatcher{}, nil)
}

func callPromote(t *testing.T, svc *promotion.Service, draftID, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(draftID)
	if err := promoteDraftHandler(svc)(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec
}

func TestPromoteHandlerCreated(t *testing.T) {
	svc := newPromoteService(map[string]*model.Draft{
		"d1": {ID: "d1", RecipientID: 1, BusinessID: 10, Text: "hi", State: model.DraftStateDraft},
	}, nil)

	rec := callPromote(t, svc, "d1", `{"send_time":"2026-09-01T12:00:00Z"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["delivery_id"] == "" || resp["already_scheduled"] != false {
		t.Errorf("response = %v", resp)
	}
}

func TestPromoteHandlerConsentBlocked(t *testing.T) {
	svc := newPromoteService(map[string]*model.Draft{
		"d1": {ID: "d1", State: model.DraftStateDraft},
	}, &consent.DeniedError{Reason: consent.ReasonOptedOut})

	rec := callPromote(t, svc, "d1", `{}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["error"] != "blocked_by_consent" || resp["reason"] != consent.ReasonOptedOut {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestPromoteHandlerNotFound(t *testing.T) {
	svc := newPromoteService(map[string]*model.Draft{}, nil)
	rec := callPromote(t, svc, "missing", `{}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestPromoteHandlerAlreadyProcessed(t *testing.T) {
	svc := newPromoteService(map[string]*model.Draft{
		"d1": {ID: "d1", State: model.DraftStateSuperseded},
	}, nil)
	rec := callPromote(t, svc, "d1", `{}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestPromoteBatchHandlerValidatesSize(t *testing.T) {
	svc := newPromoteService(map[string]*model.Draft{}, nil)
	e := echo.New()

	for _, body := range []string{`{"draft_ids":[]}`, `{}`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if err := promoteBatchHandler(svc)(c); err != nil {
			t.Fatalf("handler: %v", err)
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}
