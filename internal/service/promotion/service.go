// Package promotion turns approved drafts into scheduled deliveries. A
// promotion is a three-step sequence — commit rows, submit the delayed
// task, persist the handle — and each later step compensates the earlier
// ones on failure, so no scheduled delivery ever exists without a live
// task handle.
package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relaypoint/outreach-engine/internal/consent"
	"github.com/relaypoint/outreach-engine/internal/dispatch"
	"github.com/relaypoint/outreach-engine/internal/metrics"
	"github.com/relaypoint/outreach-engine/internal/model"
	"github.com/relaypoint/outreach-engine/internal/repository"
	"github.com/relaypoint/outreach-engine/internal/util"
)

// Drafts is the slice of the draft store the service needs.
type Drafts interface {
	Get(ctx context.Context, id string) (*model.Draft, error)
}

// Deliveries is the slice of the delivery store the service needs.
type Deliveries interface {
	FindActive(ctx context.Context, recipientID, businessID int64, text string, at time.Time) (*model.ScheduledDelivery, error)
	CreatePromoted(ctx context.Context, d *model.ScheduledDelivery, draftID string) error
	CreatePromotedBatch(ctx context.Context, items []repository.PromotedDraft) error
	RollbackPromotion(ctx context.Context, deliveryID, draftID string, prevState model.DraftState) error
	SetTaskHandle(ctx context.Context, id, handle string) error
}

// Gate is the consent decision point, evaluated once per promotion (and
// again by the executor at fire time).
type Gate interface {
	Evaluate(ctx context.Context, recipientID, businessID int64, isDirectReply bool) error
}

type Service struct {
	drafts     Drafts
	deliveries Deliveries
	gate       Gate
	dispatcher dispatch.Dispatcher
	log        *zap.Logger
}

func New(drafts Drafts, deliveries Deliveries, gate Gate, dispatcher dispatch.Dispatcher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		drafts:     drafts,
		deliveries: deliveries,
		gate:       gate,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Result of a single promotion. AlreadyScheduled marks the idempotent
// no-op: an identical active delivery already existed and is returned
// instead of a new one.
type Result struct {
	Delivery         *model.ScheduledDelivery
	AlreadyScheduled bool
}

func sendTimeFor(draft *model.Draft, requested *time.Time) time.Time {
	if requested != nil {
		return requested.UTC()
	}
	if draft.SuggestedSendTime != nil {
		return draft.SuggestedSendTime.UTC()
	}
	return time.Now().UTC()
}

// Promote commits a draft as a scheduled delivery and submits its task.
// Consent denial returns *consent.DeniedError with the draft untouched.
func (s *Service) Promote(ctx context.Context, draftID string, requestedSendTime *time.Time) (*Result, error) {
	draft, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	if draft == nil {
		return nil, ErrDraftNotFound
	}
	if !draft.State.Promotable() || draft.LinkedDeliveryID != nil {
		return nil, ErrNotPromotable
	}

	if err := s.gate.Evaluate(ctx, draft.RecipientID, draft.BusinessID, false); err != nil {
		return nil, err
	}

	sendTime := sendTimeFor(draft, requestedSendTime)

	existing, err := s.deliveries.FindActive(ctx, draft.RecipientID, draft.BusinessID, draft.Text, sendTime)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if existing != nil {
		return &Result{Delivery: existing, AlreadyScheduled: true}, nil
	}

	delivery := model.ScheduledDelivery{
		ID:            util.New(),
		RecipientID:   draft.RecipientID,
		BusinessID:    draft.BusinessID,
		Text:          draft.Text,
		ScheduledTime: sendTime,
		State:         model.DeliveryStateScheduled,
		SourceDraftID: &draft.ID,
	}

	if err := s.deliveries.CreatePromoted(ctx, &delivery, draft.ID); err != nil {
		return nil, fmt.Errorf("promotion commit: %w", err)
	}

	handle, err := s.dispatcher.Submit(ctx, delivery.ID, sendTime)
	if err != nil {
		if rbErr := s.deliveries.RollbackPromotion(ctx, delivery.ID, draft.ID, draft.State); rbErr != nil {
			s.log.Error("promotion rollback failed",
				zap.String("delivery_id", delivery.ID),
				zap.String("draft_id", draft.ID),
				zap.Error(rbErr),
			)
		}
		return nil, &DispatchError{Err: err}
	}

	if err := s.deliveries.SetTaskHandle(ctx, delivery.ID, handle); err != nil {
		if errors.Is(err, repository.ErrNotScheduled) {
			// a past-ETA task fired and settled the delivery before the
			// handle commit; the promotion already succeeded
			s.log.Info("delivery settled before handle commit",
				zap.String("delivery_id", delivery.ID),
				zap.String("draft_id", draft.ID),
			)
			metrics.DeliveriesTotal.WithLabelValues("scheduled").Inc()
			return &Result{Delivery: &delivery}, nil
		}
		s.dispatcher.Cancel(ctx, handle)
		if rbErr := s.deliveries.RollbackPromotion(ctx, delivery.ID, draft.ID, draft.State); rbErr != nil {
			s.log.Error("promotion rollback failed after handle commit",
				zap.String("delivery_id", delivery.ID),
				zap.Error(rbErr),
			)
		}
		return nil, &CommitError{Err: err}
	}

	delivery.TaskHandle = &handle
	metrics.DeliveriesTotal.WithLabelValues("scheduled").Inc()
	s.log.Info("draft promoted",
		zap.String("draft_id", draft.ID),
		zap.String("delivery_id", delivery.ID),
		zap.Time("scheduled_time", sendTime),
	)

	return &Result{Delivery: &delivery}, nil
}

// Skipped reports one batch item that was not promoted.
type Skipped struct {
	DraftID string `json:"draft_id"`
	Reason  string `json:"reason"`
}

// BatchResult tallies a batch promotion. Item failures never abort the
// batch; only a final-commit failure fails it as a whole.
type BatchResult struct {
	Promoted []model.ScheduledDelivery `json:"promoted"`
	Skipped  []Skipped                 `json:"skipped"`
}

// PromoteBatch applies per-item promotion checks in isolation, submits
// tasks for the survivors, and persists them in one final commit. If that
// commit fails, every task submitted for the batch is revoked best-effort
// and the whole batch is reported failed.
func (s *Service) PromoteBatch(ctx context.Context, draftIDs []string) (*BatchResult, error) {
	res := &BatchResult{}
	var staged []repository.PromotedDraft

	skip := func(id, reason string) {
		res.Skipped = append(res.Skipped, Skipped{DraftID: id, Reason: reason})
	}

	for _, id := range draftIDs {
		draft, err := s.drafts.Get(ctx, id)
		if err != nil {
			skip(id, fmt.Sprintf("system error: %v", err))
			continue
		}
		if draft == nil {
			skip(id, "not found")
			continue
		}
		if !draft.State.Promotable() || draft.LinkedDeliveryID != nil {
			skip(id, "already processed")
			continue
		}

		if err := s.gate.Evaluate(ctx, draft.RecipientID, draft.BusinessID, false); err != nil {
			if d, ok := err.(*consent.DeniedError); ok {
				skip(id, "blocked by consent: "+d.Reason)
			} else {
				skip(id, fmt.Sprintf("system error: %v", err))
			}
			continue
		}

		sendTime := sendTimeFor(draft, nil)

		existing, err := s.deliveries.FindActive(ctx, draft.RecipientID, draft.BusinessID, draft.Text, sendTime)
		if err != nil {
			skip(id, fmt.Sprintf("system error: %v", err))
			continue
		}
		if existing != nil {
			skip(id, "already scheduled")
			continue
		}

		delivery := model.ScheduledDelivery{
			ID:            util.New(),
			RecipientID:   draft.RecipientID,
			BusinessID:    draft.BusinessID,
			Text:          draft.Text,
			ScheduledTime: sendTime,
			State:         model.DeliveryStateScheduled,
			SourceDraftID: &draft.ID,
		}

		handle, err := s.dispatcher.Submit(ctx, delivery.ID, sendTime)
		if err != nil {
			skip(id, fmt.Sprintf("system error: %v", err))
			continue
		}
		delivery.TaskHandle = &handle

		staged = append(staged, repository.PromotedDraft{Delivery: delivery, DraftID: draft.ID})
	}

	if len(staged) == 0 {
		return res, nil
	}

	if err := s.deliveries.CreatePromotedBatch(ctx, staged); err != nil {
		for _, item := range staged {
			if item.Delivery.TaskHandle != nil {
				s.dispatcher.Cancel(ctx, *item.Delivery.TaskHandle)
			}
		}
		return nil, &CommitError{Err: fmt.Errorf("batch commit: %w", err)}
	}

	for _, item := range staged {
		res.Promoted = append(res.Promoted, item.Delivery)
		metrics.DeliveriesTotal.WithLabelValues("scheduled").Inc()
	}

	s.log.Info("batch promoted",
		zap.Int("promoted", len(res.Promoted)),
		zap.Int("skipped", len(res.Skipped)),
	)

	return res, nil
}
