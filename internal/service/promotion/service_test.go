package promotion

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/relaypoint/outreach-engine/internal/consent"
	"github.com/relaypoint/outreach-engine/internal/model"
	"github.com/relaypoint/outreach-engine/internal/repository"
)

type fakeDrafts struct {
	drafts map[string]*model.Draft
	err    error
}

func (f *fakeDrafts) Get(ctx context.Context, id string) (*model.Draft, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.drafts[id], nil
}

type fakeDeliveries struct {
	active    *model.ScheduledDelivery
	created   []model.ScheduledDelivery
	batches   [][]repository.PromotedDraft
	rollbacks []string // delivery ids
	handles   map[string]string

	createErr    error
	batchErr     error
	setHandleErr error
}

func newFakeDeliveries() *fakeDeliveries {
	return &fakeDeliveries{handles: map[string]string{}}
}

func (f *fakeDeliveries) FindActive(ctx context.Context, recipientID, businessID int64, text string, at time.Time) (*model.ScheduledDelivery, error) {
	return f.active, nil
}

func (f *fakeDeliveries) CreatePromoted(ctx context.Context, d *model.ScheduledDelivery, draftID string) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, *d)
	return nil
}

func (f *fakeDeliveries) CreatePromotedBatch(ctx context.Context, items []repository.PromotedDraft) error {
	if f.batchErr != nil {
		return f.batchErr
	}
	f.batches = append(f.batches, items)
	return nil
}

func (f *fakeDeliveries) RollbackPromotion(ctx context.Context, deliveryID, draftID string, prevState model.DraftState) error {
	f.rollbacks = append(f.rollbacks, deliveryID)
	return nil
}

func (f *fakeDeliveries) SetTaskHandle(ctx context.Context, id, handle string) error {
	if f.setHandleErr != nil {
		return f.setHandleErr
	}
	f.handles[id] = handle
	return nil
}

type fakeGate struct {
	err error
}

func (f *fakeGate) Evaluate(ctx context.Context, recipientID, businessID int64, isDirectReply bool) error {
	return f.err
}

type fakeDispatcher struct {
	submitted []string // delivery ids
	cancelled []string // handles
	submitErr error
	next      int
}

func (f *fakeDispatcher) Submit(ctx context.Context, deliveryID string, eta time.Time) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.next++
	handle := fmt.Sprintf("handle-%d", f.next)
	f.submitted = append(f.submitted, deliveryID)
	return handle, nil
}

func (f *fakeDispatcher) Replace(ctx context.Context, deliveryID string, eta time.Time) (string, error) {
	return f.Submit(ctx, deliveryID, eta)
}

func (f *fakeDispatcher) Cancel(ctx context.Context, handle string) {
	f.cancelled = append(f.cancelled, handle)
}

func promotableDraft(id string) *model.Draft {
	return &model.Draft{
		ID:          id,
		RecipientID: 1,
		BusinessID:  10,
		Text:        "hello",
		State:       model.DraftStateDraft,
	}
}

func TestPromoteHappyPath(t *testing.T) {
	drafts := &fakeDrafts{drafts: map[string]*model.Draft{"d1": promotableDraft("d1")}}
	deliveries := newFakeDeliveries()
	disp := &fakeDispatcher{}
	svc := New(drafts, deliveries, &fakeGate{}, disp, nil)

	at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	res, err := svc.Promote(context.Background(), "d1", &at)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if res.AlreadyScheduled {
		t.Error("fresh promotion flagged already scheduled")
	}
	if res.Delivery.ScheduledTime != at {
		t.Errorf("scheduled_time = %v, want %v", res.Delivery.ScheduledTime, at)
	}
	if res.Delivery.TaskHandle == nil {
		t.Fatal("delivery has no task handle")
	}
	if len(deliveries.created) != 1 {
		t.Fatalf("created %d deliveries, want 1", len(deliveries.created))
	}
	if got := deliveries.handles[res.Delivery.ID]; got != *res.Delivery.TaskHandle {
		t.Errorf("persisted handle %q != returned handle %q", got, *res.Delivery.TaskHandle)
	}
	if len(deliveries.rollbacks) != 0 || len(disp.cancelled) != 0 {
		t.Error("happy path must not roll back or cancel")
	}
}

func TestPromoteUsesSuggestedTime(t *testing.T) {
	suggested := time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)
	d := promotableDraft("d1")
	d.SuggestedSendTime = &suggested
	drafts := &fakeDrafts{drafts: map[string]*model.Draft{"d1": d}}
	deliveries := newFakeDeliveries()
	svc := New(drafts, deliveries, &fakeGate{}, &fakeDispatcher{}, nil)

	res, err := svc.Promote(context.Background(), "d1", nil)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if res.Delivery.ScheduledTime != suggested {
		t.Errorf("scheduled_time = %v, want suggested %v", res.Delivery.ScheduledTime, suggested)
	}
}

func TestPromoteDraftNotFound(t *testing.T) {
	svc := New(&fakeDrafts{drafts: map[string]*model.Draft{}}, newFakeDeliveries(), &fakeGate{}, &fakeDispatcher{}, nil)
	_, err := svc.Promote(context.Background(), "missing", nil)
	if !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("err = %v, want ErrDraftNotFound", err)
	}
}

func TestPromoteNotPromotable(t *testing.T) {
	superseded := promotableDraft("d1")
	superseded.State = model.DraftStateSuperseded
	linked := promotableDraft("d2")
	link := "dl-1"
	linked.LinkedDeliveryID = &link

	svc := New(&fakeDrafts{drafts: map[string]*model.Draft{"d1": superseded, "d2": linked}},
		newFakeDeliveries(), &fakeGate{}, &fakeDispatcher{}, nil)

	for _, id := range []string{"d1", "d2"} {
		if _, err := svc.Promote(context.Background(), id, nil); !errors.Is(err, ErrNotPromotable) {
			t.Errorf("Promote(%s) = %v, want ErrNotPromotable", id, err)
		}
	}
}

func TestPromoteConsentDenied(t *testing.T) {
	drafts := &fakeDrafts{drafts: map[string]*model.Draft{"d1": promotableDraft("d1")}}
	deliveries := newFakeDeliveries()
	gate := &fakeGate{err: &consent.DeniedError{Reason: consent.ReasonOptedOut}}
	svc := New(drafts, deliveries, gate, &fakeDispatcher{}, nil)

	_, err := svc.Promote(context.Background(), "d1", nil)
	var denied *consent.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want DeniedError", err)
	}
	if len(deliveries.created) != 0 {
		t.Error("denied promotion must not create a delivery")
	}
}

func TestPromoteIdempotentDuplicate(t *testing.T) {
	existing := &model.ScheduledDelivery{ID: "dl-existing", State: model.DeliveryStateScheduled}
	drafts := &fakeDrafts{drafts: map[string]*model.Draft{"d1": promotableDraft("d1")}}
	deliveries := newFakeDeliveries()
	deliveries.active = existing
	disp := &fakeDispatcher{}
	svc := New(drafts, deliveries, &fakeGate{}, disp, nil)

	res, err := svc.Promote(context.Background(), "d1", nil)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if !res.AlreadyScheduled {
		t.Error("duplicate must be flagged already scheduled")
	}
	if res.Delivery.ID != "dl-existing" {
		t.Errorf("returned %q, want the existing delivery", res.Delivery.ID)
	}
	if len(deliveries.created) != 0 || len(disp.submitted) != 0 {
		t.Error("duplicate promotion must neither create nor submit")
	}
}

func TestPromoteDispatchFailureRollsBack(t *testing.T) {
	drafts := &fakeDrafts{drafts: map[string]*model.Draft{"d1": promotableDraft("d1")}}
	deliveries := newFakeDeliveries()
	disp := &fakeDispatcher{submitErr: errors.New("queue down")}
	svc := New(drafts, deliveries, &fakeGate{}, disp, nil)

	_, err := svc.Promote(context.Background(), "d1", nil)
	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DispatchError", err)
	}
	if len(deliveries.rollbacks) != 1 {
		t.Errorf("rollbacks = %d, want 1", len(deliveries.rollbacks))
	}
}

func TestPromoteHandleCommitFailureCancelsTask(t *testing.T) {
	drafts := &fakeDrafts{drafts: map[string]*model.Draft{"d1": promotableDraft("d1")}}
	deliveries := newFakeDeliveries()
	deliveries.setHandleErr = errors.New("db down")
	disp := &fakeDispatcher{}
	svc := New(drafts, deliveries, &fakeGate{}, disp, nil)

	_, err := svc.Promote(context.Background(), "d1", nil)
	var ce *CommitError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want CommitError", err)
	}
	if len(disp.cancelled) != 1 {
		t.Errorf("cancelled = %d, want the submitted task revoked", len(disp.cancelled))
	}
	if len(deliveries.rollbacks) != 1 {
		t.Errorf("rollbacks = %d, want 1", len(deliveries.rollbacks))
	}
}

func TestPromoteBatchMixedItems(t *testing.T) {
	blockedDraft := promotableDraft("blocked")
	blockedDraft.RecipientID = 2
	drafts := &fakeDrafts{drafts: map[string]*model.Draft{
		"ok":      promotableDraft("ok"),
		"blocked": blockedDraft,
	}}
	deliveries := newFakeDeliveries()
	gate := &perRecipientGate{deny: map[int64]string{2: consent.ReasonOptedOut}}
	disp := &fakeDispatcher{}
	svc := New(drafts, deliveries, gate, disp, nil)

	res, err := svc.PromoteBatch(context.Background(), []string{"ok", "blocked", "missing"})
	if err != nil {
		t.Fatalf("PromoteBatch: %v", err)
	}
	if len(res.Promoted) != 1 {
		t.Fatalf("promoted = %d, want 1", len(res.Promoted))
	}
	if len(res.Skipped) != 2 {
		t.Fatalf("skipped = %d, want 2: %+v", len(res.Skipped), res.Skipped)
	}
	reasons := map[string]string{}
	for _, s := range res.Skipped {
		reasons[s.DraftID] = s.Reason
	}
	if reasons["blocked"] != "blocked by consent: "+consent.ReasonOptedOut {
		t.Errorf("blocked reason = %q", reasons["blocked"])
	}
	if reasons["missing"] != "not found" {
		t.Errorf("missing reason = %q", reasons["missing"])
	}
	if len(deliveries.batches) != 1 || len(deliveries.batches[0]) != 1 {
		t.Errorf("expected one single-item batch commit, got %+v", deliveries.batches)
	}
}

func TestPromoteBatchCommitFailureRevokesAllTasks(t *testing.T) {
	drafts := &fakeDrafts{drafts: map[string]*model.Draft{
		"a": promotableDraft("a"),
		"b": promotableDraft("b"),
	}}
	deliveries := newFakeDeliveries()
	deliveries.batchErr = errors.New("db down")
	disp := &fakeDispatcher{}
	svc := New(drafts, deliveries, &fakeGate{}, disp, nil)

	_, err := svc.PromoteBatch(context.Background(), []string{"a", "b"})
	var ce *CommitError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want CommitError", err)
	}
	if len(disp.cancelled) != 2 {
		t.Errorf("cancelled = %d, want every submitted task revoked", len(disp.cancelled))
	}
}

func TestPromoteBatchAllSkippedSkipsCommit(t *testing.T) {
	deliveries := newFakeDeliveries()
	svc := New(&fakeDrafts{drafts: map[string]*model.Draft{}}, deliveries, &fakeGate{}, &fakeDispatcher{}, nil)

	res, err := svc.PromoteBatch(context.Background(), []string{"x", "y"})
	if err != nil {
		t.Fatalf("PromoteBatch: %v", err)
	}
	if len(res.Skipped) != 2 || len(res.Promoted) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(deliveries.batches) != 0 {
		t.Error("empty batch must not commit")
	}
}

type perRecipientGate struct {
	deny map[int64]string
}

func (g *perRecipientGate) Evaluate(ctx context.Context, recipientID, businessID int64, isDirectReply bool) error {
	if reason, ok := g.deny[recipientID]; ok {
		return &consent.DeniedError{Reason: reason}
	}
	return nil
}

// A past-ETA task can fire and settle the delivery before the handle
// commit. That promotion succeeded; it must not be rolled back.
func TestPromoteHandleCommitAfterSettleIsSuccess(t *testing.T) {
	drafts := &fakeDrafts{drafts: map[string]*model.Draft{"d-1": promotableDraft("d-1")}}
	deliveries := newFakeDeliveries()
	deliveries.setHandleErr = repository.ErrNotScheduled
	disp := &fakeDispatcher{}
	svc := New(drafts, deliveries, &fakeGate{}, disp, nil)

	res, err := svc.Promote(context.Background(), "d-1", nil)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if res.Delivery == nil || res.AlreadyScheduled {
		t.Fatalf("result = %+v", res)
	}
	if len(deliveries.rollbacks) != 0 {
		t.Errorf("rollbacks = %v, settled delivery must survive", deliveries.rollbacks)
	}
	if len(disp.cancelled) != 0 {
		t.Errorf("cancelled = %v, consumed task must not be revoked", disp.cancelled)
	}
}
